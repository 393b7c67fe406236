package console

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Address is a listing address split into the fields the edit form takes.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

var titleCase = cases.Title(language.English)

// SplitAddress parses the "street, city, ST zip, country" form the locations
// table shows. The country is returned as its two-letter code.
func SplitAddress(full string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(full), ", ")
	if len(parts) != 4 {
		return Address{}, fmt.Errorf("address %q: want 4 comma separated parts, got %d", full, len(parts))
	}

	stateZip := strings.Fields(parts[2])
	if len(stateZip) != 2 {
		return Address{}, fmt.Errorf("address %q: malformed state and zip %q", full, parts[2])
	}

	country, ok := Countries[strings.TrimSpace(parts[3])]
	if !ok {
		return Address{}, fmt.Errorf("address %q: unknown country %q", full, parts[3])
	}

	return Address{
		Street:  strings.TrimSpace(parts[0]),
		City:    titleCase.String(strings.ToLower(strings.TrimSpace(parts[1]))),
		State:   stateZip[0],
		ZipCode: stateZip[1],
		Country: country,
	}, nil
}

// PhoneClean keeps the digits of a displayed phone number.
func PhoneClean(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}

// StateName returns the full name of a US state code, or the code itself
// when it is not known.
func StateName(code string) string {
	if name, ok := States[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

// Countries maps the country names the console displays to country codes.
var Countries = map[string]string{
	"USA":            "US",
	"United States":  "US",
	"US":             "US",
	"Canada":         "CA",
	"UK":             "GB",
	"United Kingdom": "GB",
	"Australia":      "AU",
	"Mexico":         "MX",
}

// States maps US state codes to the names the edit form lists.
var States = map[string]string{
	"AL": "Alabama",
	"AK": "Alaska",
	"AZ": "Arizona",
	"AR": "Arkansas",
	"CA": "California",
	"CO": "Colorado",
	"CT": "Connecticut",
	"DE": "Delaware",
	"DC": "District of Columbia",
	"FL": "Florida",
	"GA": "Georgia",
	"HI": "Hawaii",
	"ID": "Idaho",
	"IL": "Illinois",
	"IN": "Indiana",
	"IA": "Iowa",
	"KS": "Kansas",
	"KY": "Kentucky",
	"LA": "Louisiana",
	"ME": "Maine",
	"MD": "Maryland",
	"MA": "Massachusetts",
	"MI": "Michigan",
	"MN": "Minnesota",
	"MS": "Mississippi",
	"MO": "Missouri",
	"MT": "Montana",
	"NE": "Nebraska",
	"NV": "Nevada",
	"NH": "New Hampshire",
	"NJ": "New Jersey",
	"NM": "New Mexico",
	"NY": "New York",
	"NC": "North Carolina",
	"ND": "North Dakota",
	"OH": "Ohio",
	"OK": "Oklahoma",
	"OR": "Oregon",
	"PA": "Pennsylvania",
	"RI": "Rhode Island",
	"SC": "South Carolina",
	"SD": "South Dakota",
	"TN": "Tennessee",
	"TX": "Texas",
	"UT": "Utah",
	"VT": "Vermont",
	"VA": "Virginia",
	"WA": "Washington",
	"WV": "West Virginia",
	"WI": "Wisconsin",
	"WY": "Wyoming",
}
