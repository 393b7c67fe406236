package renamer

import (
	"fmt"

	"listing-automation/browser"
)

const (
	dialog    = `//*[@id="js"]/div[10]/div/div[2]/content/div`
	oldDialog = `//*[@id="js"]/div[9]/div/div[2]/content/div`
	viewpane  = `//*[@id="main_viewpane"]/c-wiz[1]/div/div[2]/div/div`
)

// section is the n-th entry of the listing edit page.
func section(name string, n int) browser.Locator {
	return browser.XPath(name, fmt.Sprintf(`//*[@id="main_viewpane"]/c-wiz[1]/div/div[1]/div[2]/content/div[%d]`, n))
}

var (
	nameSection         = section("name section", 2)
	categorySection     = section("category section", 3)
	addressSection      = section("address section", 4)
	serviceAreaSection  = section("service area section", 5)
	hoursSection        = section("hours section", 6)
	specialHoursSection = section("special hours section", 7)
	phoneSection        = section("phone section", 8)
	websiteSection      = section("website section", 9)
	attributesSection   = section("attributes section", 10)
	descriptionSection  = section("description section", 11)
	openingDateSection  = section("opening date section", 12)
)

var (
	applyButton = browser.XPath("apply",
		dialog+`/div[5]/div[2]`,
		oldDialog+`/div[5]/div[2]`,
	)
	shortApply = browser.XPath("short apply", dialog+`/div[4]/div[2]`)

	nameInput = browser.XPath("name input",
		oldDialog+`/div[4]/div/div[1]/div/div[1]/input`,
		dialog+`/div[4]/div/div[1]/div/div[1]/input`,
	)
	nameApply = browser.XPath("name apply", oldDialog+`/div[5]/div[2]`, dialog+`/div[5]/div[2]`)

	categoryInput      = browser.XPath("category input", dialog+`/div[4]/div/div[1]/div/div[1]/div[1]/input[2]`)
	categorySuggestion = browser.XPath("category suggestion", dialog+`/div[4]/div/div[1]/div/div[1]/div[2]/div/div/div[1]`)

	serviceAreaInput      = browser.XPath("service area input", dialog+`/div[4]/div/div[1]/div/div/div/div/div/div/div[1]/div[2]/div[1]/div/div[1]/input`)
	serviceAreaSuggestion = browser.XPath("service area suggestion",
		dialog+`/div[4]/div/div[1]/div/div/div/div/div/div/div[2]/div/div/div[1]`,
		dialog+`/div[4]/div/div[1]/div/div/div/div/div/div/div[3]/div/div/div[1]`,
	)

	hoursDays = browser.XPath("hours days", `//*[@id="js"]/div[10]/div/div[2]/content/div/div[3]/div/div`)

	specialHoursOptions = []browser.Locator{
		browser.XPath("special hours first", dialog+`/div[4]/div[2]/div[1]/span[1]/div`),
		browser.XPath("special hours second", dialog+`/div[4]/div[2]/div[3]/span[1]/div`),
	}

	websiteInput = browser.XPath("website input", dialog+`/div[4]/div[1]/div[1]/div/div[1]/input`)

	attributeCandidates = []browser.Locator{
		browser.XPath("attribute 9", `//*[@id="attr-dialog-content"]/div[9]`),
		browser.XPath("attribute 10", `//*[@id="attr-dialog-content"]/div[10]`),
	}
	attributeList = browser.XPath("attributes", `//*[@id="attr-dialog-content"]/div`)

	descriptionInput = browser.XPath("description input", dialog+`/div[4]/div/div[1]/div[1]/textarea`)

	yearInput = browser.XPath("year input", dialog+`/div[4]/div[1]/span[1]/div/div[1]/div/div[1]/input`)
	monthMenu = browser.XPath("month menu", dialog+`/div[4]/div[1]/span[2]/span/div`)
	dayMenu   = browser.XPath("day menu", dialog+`/div[4]/div[1]/span[3]/div`)

	addressEdit  = browser.XPath("address edit", dialog+`/div[4]/div/div[3]/div[4]/div`)
	addressInput = browser.XPath("address input",
		dialog+`/div[4]/div/div[3]/div[1]/div/div/div[2]/div/div/div[2]/input`,
		dialog+`/div[4]/div/div[3]/div[1]/c-wiz/c-wiz/div/div/div[4]/div/div[1]/div/div[1]/input`,
	)
	zipInput = browser.XPath("zip input",
		dialog+`/div[4]/div/div[3]/div[1]/div/div/div[2]/div/div/div[6]/input`,
		dialog+`/div[4]/div/div[3]/div[1]/c-wiz/c-wiz/div/div/div[7]/div/div[1]/div/div[1]/input`,
	)
	cityInput = browser.XPath("city input",
		dialog+`/div[4]/div/div[3]/div[1]/div/div/div[2]/div/div/div[4]/input`,
		dialog+`/div[4]/div/div[3]/div[1]/c-wiz/c-wiz/div/div/div[5]/div/div[1]/div/div[1]/input`,
	)
	stateMenu = browser.XPath("state menu",
		dialog+`/div[4]/div/div[3]/div[1]/div/div/div[2]/div/div/div[5]/div[2]`,
		dialog+`/div[4]/div/div[3]/div[1]/c-wiz/c-wiz/div/div/div[6]/div[1]`,
	)
	stateOptions = browser.XPath("state options",
		dialog+`/div[4]/div/div[3]/div[1]/div/div/div[2]/div/div/div[5]/div[3]/div`,
		dialog+`/div[4]/div/div[3]/div[1]/c-wiz/c-wiz/div/div/div[6]/div[1]/div[2]/div`,
	)

	phoneInput          = browser.XPath("phone input", dialog+`/div[3]/div[1]/div/div/div[2]/div[1]/div/div[1]/input`)
	addPhone            = browser.XPath("add phone", dialog+`/div[3]/div[3]/div`)
	secondaryPhoneInput = browser.XPath("secondary phone input", dialog+`/div[3]/div[3]/div[1]/div[1]/div/div[2]/div[1]/div/div[1]/input`)
)

// Verification window.
var (
	sendCodeButton = browser.XPath("send code",
		viewpane+`/div/div[1]/div/div[2]/button[2]`,
		viewpane+`/div[2]/div/div[1]/button`,
	)
	codeInput    = browser.XPath("code input", viewpane+`/div[1]/div[2]/div[1]/div/div[1]/input`)
	verifyButton = browser.XPath("verify", viewpane+`/div[1]/div[3]/button`)
)

// Dashboard after verification.
var (
	getStarted      = browser.XPath("get started", viewpane+`/div[3]/button`)
	getStartedAgain = browser.XPath("get started again",
		`//*[@id="js"]/div[10]/div/div[2]/div[3]/div`,
		`//*[@id="js"]/div[9]/div/div[2]/div[3]/div`,
	)
	noThanks   = browser.XPath("no thanks", oldDialog+`/div[2]/div/div[4]/div[2]`)
	closeAside = browser.XPath("close aside", `//*[@id="main_viewpane"]/div[2]/c-wiz/c-wiz/div/aside/div[2]/div/div/div`)
	mapsLink   = browser.XPath("maps link", `//*[@id="dcrd-8"]/div/ul/li[1]/a`)
	searchLink = browser.XPath("search link", `//*[@id="dcrd-8"]/div/ul/li[2]/a`)
)
