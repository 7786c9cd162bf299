package address

import "strings"

// abbrToState maps state abbreviations to full names.
var abbrToState = map[string]string{
	"AL": "ALABAMA", "AK": "ALASKA", "AZ": "ARIZONA", "AR": "ARKANSAS",
	"CA": "CALIFORNIA", "CO": "COLORADO", "CT": "CONNECTICUT", "DE": "DELAWARE",
	"FL": "FLORIDA", "GA": "GEORGIA", "HI": "HAWAII", "ID": "IDAHO",
	"IL": "ILLINOIS", "IN": "INDIANA", "IA": "IOWA", "KS": "KANSAS",
	"KY": "KENTUCKY", "LA": "LOUISIANA", "ME": "MAINE", "MD": "MARYLAND",
	"MA": "MASSACHUSETTS", "MI": "MICHIGAN", "MN": "MINNESOTA", "MS": "MISSISSIPPI",
	"MO": "MISSOURI", "MT": "MONTANA", "NE": "NEBRASKA", "NV": "NEVADA",
	"NH": "NEW HAMPSHIRE", "NJ": "NEW JERSEY", "NM": "NEW MEXICO", "NY": "NEW YORK",
	"NC": "NORTH CAROLINA", "ND": "NORTH DAKOTA", "OH": "OHIO", "OK": "OKLAHOMA",
	"OR": "OREGON", "PA": "PENNSYLVANIA", "RI": "RHODE ISLAND", "SC": "SOUTH CAROLINA",
	"SD": "SOUTH DAKOTA", "TN": "TENNESSEE", "TX": "TEXAS", "UT": "UTAH",
	"VT": "VERMONT", "VA": "VIRGINIA", "WA": "WASHINGTON", "WV": "WEST VIRGINIA",
	"WI": "WISCONSIN", "WY": "WYOMING", "DC": "DISTRICT OF COLUMBIA", "PR": "PUERTO RICO",
}

var stateToAbbr = func() map[string]string {
	m := make(map[string]string, len(abbrToState))
	for abbr, full := range abbrToState {
		m[full] = abbr
	}
	return m
}()

// NormalizeState returns the two-letter abbreviation for a state given
// either form. Unknown input is returned upper-cased.
func NormalizeState(state string) string {
	s := strings.ToUpper(strings.TrimSpace(state))
	if _, ok := abbrToState[s]; ok {
		return s
	}
	if abbr, ok := stateToAbbr[s]; ok {
		return abbr
	}
	return s
}

// Parts are the address components that identify a location.
type Parts struct {
	Line1 string
	City  string
	State string
	Zip   string
}

// Key is the normalized identity of an address. Two locations with the
// same Key are the same physical place.
type Key struct {
	Street string
	City   string
	State  string
	Zip5   string
}

// KeyOf normalizes address parts into a match key.
func KeyOf(p Parts) Key {
	return Key{
		Street: NormalizeStreet(p.Line1),
		City:   NormalizeCity(p.City),
		State:  NormalizeState(p.State),
		Zip5:   Zip5(p.Zip),
	}
}

// Empty reports whether the key has no street, which makes it unsafe to
// merge on.
func (k Key) Empty() bool {
	return k.Street == ""
}

// String renders the key in a stable form for logging and map keys.
func (k Key) String() string {
	return k.Street + "|" + k.City + "|" + k.State + "|" + k.Zip5
}
