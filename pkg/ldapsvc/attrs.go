package ldapsvc

// AttributeMap projects GAL codes onto the LDAP attribute names the entry
// serializer emits, including the "departement" spelling — real clients
// may already depend on it, so it is not "fixed" here.
var AttributeMap = map[string]string{
	"uid":             "AN",
	"mail":            "EM",
	"displayName":     "DN",
	"telephoneNumber": "PH",
	"l":               "OFFICE",
	"company":         "CP",
	"title":           "TL",
	"cn":              "DN",
	"givenName":       "first",
	"initials":        "initials",
	"sn":              "last",
	"street":          "street",
	"st":              "state",
	"postalCode":      "zip",
	"c":                "country",
	"departement":     "department",
	"mobile":          "mobile",
}

// CriteriaMap translates a lowercased LDAP attribute name from a
// substrings filter into the Exchange GAL code handed to
// Session.GalFind.
var CriteriaMap = map[string]string{
	"mail":        "FN",
	"displayname": "DN",
	"cn":          "DN",
	"givenname":   "FN",
	"sn":          "LN",
	"title":       "TL",
	"company":     "CP",
	"o":           "CP",
	"l":           "OF",
	"department":  "DP",
}

// SweepLetters is the uppercase-letter range the full-directory sweep
// iterates, 'A' through 'Y' inclusive — 'Z' is never queried. DESIGN NOTES
// §9 flags this as likely an off-by-one in the source this gateway was
// modeled on; the behavior is preserved rather than corrected.
func SweepLetters() []string {
	letters := make([]string, 0, 25)
	for c := 'A'; c < 'Z'; c++ {
		letters = append(letters, string(c))
	}
	return letters
}
