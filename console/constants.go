package console

import "listing-automation/browser"

// Listing statuses shown in the locations table.
const (
	StatusPublished            = "Published"
	StatusSuspended            = "Suspended"
	StatusVerificationRequired = "Verification required"
	StatusPendingVerification  = "Pending verification"
)

// ActionVerifyNow is the row action that opens the verification flow.
const ActionVerifyNow = "Verify now"

// Page text markers.
const (
	TextIsYourBusiness = "Is this your business"
	TextEnterCode      = "Enter the code"
	TextAutomatedCall  = "Get your code at this number now by automated call"
	TextCouldntConnect = "Couldn't connect"
	TextSuspended      = "This location has been suspended due to quality issues."
	TextVerifiedReview = "Your business is verified. Listings may be reviewed"
)

func knownStatus(s string) bool {
	switch s {
	case StatusPublished, StatusSuspended, StatusVerificationRequired, StatusPendingVerification:
		return true
	}
	return false
}

// Login page.
var (
	identifierInput = browser.XPath("identifier", `//*[@id="identifierId"]`, `//input[@type="email"]`)
	passwordInput   = browser.XPath("password", `//input[@name="password"]`, `//input[@type="password"]`)
	captchaImage    = browser.XPath("captcha image", `//*[@id="captchaimg"]`)
	captchaInput    = browser.XPath("captcha input", `//input[@type="text"]`)
	recoveryOption  = browser.XPath("recovery email option", `//div[@data-challengetype="12"]`)
	recoveryInput   = browser.XPath("recovery email", `//input[@name="knowledgePreregisteredEmailResponse"]`)
	deviceAddress   = browser.XPath("device address", `//*[@id="deviceAddress"]`)
)

// Locations manager.
var (
	// Rows of the locations table.
	Rows = browser.XPath("locations rows",
		`//table/tbody/tr`,
		`/html/body/div[4]/c-wiz/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[2]/table/tbody/tr`,
		`/html/body/div[7]/c-wiz/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[2]/table/tbody/tr`,
	)

	managerTip = browser.XPath("locations tip", `//*[@id="lm-tip-got-it-btn"]`)
	listView   = browser.XPath("list view", `//button[@aria-label="List view"]`)

	pageSizeMenu = browser.XPath("page size menu",
		`//*[@id="yDmH0d"]/c-wiz/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[1]/div[1]/div[4]`,
		`//*[@id="yDmH0d"]/c-wiz[2]/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[1]/div[1]/div[1]`,
		`//*[@id="yDmH0d"]/c-wiz[3]/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[1]/div[1]/div[4]`,
	)
	pageSizeLargest = browser.XPath("largest page size",
		`/html/body/div[4]/c-wiz/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[2]/div[4]`,
		`/html/body/div[4]/c-wiz[2]/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[2]/div[4]`,
		`/html/body/div[4]/c-wiz[3]/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[2]/div[4]`,
		`//*[@id="yDmH0d"]/c-wiz/div[2]/div[1]/c-wiz/div/c-wiz[3]/div/content/c-wiz[2]/div[4]/div/span[1]/div[2]/div[2]/div[4]`,
	)
)

// Verification window.
var (
	ownershipOptions = browser.XPath("ownership options",
		`//*[@id="main_viewpane"]/c-wiz[1]/div/div[2]/div/div/div[1]/div/content/label`)
	ownershipConfirm = browser.XPath("ownership confirm",
		`//*[@id="main_viewpane"]/c-wiz[1]/div/div[2]/div/div/div[2]/button`)
	VerificationPhone = browser.XPath("verification phone",
		`//*[@id="main_viewpane"]/c-wiz[1]/div/div[2]/div/div/div/div[1]/div/div[1]/h3`,
		`//*[@id="main_viewpane"]/c-wiz[1]/div/div[2]/div/div/h3/strong`,
	)
)
