package connector

import (
	"regexp"
	"strings"
)

// usStates maps full state names to postal abbreviations.
var usStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

// strictCategories get the tenant-only locality scope; all other
// categories use the broader metro scope.
var strictCategories = map[string]bool{
	"government":    true,
	"schools":       true,
	"public_safety": true,
	"development":   true,
}

// distantCities are large out-of-region cities that frequently appear in
// syndicated content.
var distantCities = []string{
	"new york city", "los angeles", "chicago", "houston", "phoenix",
	"philadelphia", "san antonio", "san diego", "dallas", "san francisco",
	"seattle", "denver", "boston", "miami", "atlanta", "las vegas",
}

// GeoFilter rejects scraped content that references other states or
// distant cities without mentioning the tenant's own localities.
type GeoFilter struct {
	locality  string
	homeState string // postal abbreviation
	metro     []string

	abbrevPatterns map[string][]*regexp.Regexp
}

// NewGeoFilter builds the filter for a tenant. homeState is the two-letter
// postal abbreviation; metro lists neighboring localities allowed for
// non-strict categories.
func NewGeoFilter(locality, homeState string, metro []string) *GeoFilter {
	f := &GeoFilter{
		locality:       strings.ToLower(strings.TrimSpace(locality)),
		homeState:      strings.ToUpper(strings.TrimSpace(homeState)),
		metro:          make([]string, 0, len(metro)),
		abbrevPatterns: make(map[string][]*regexp.Regexp, len(usStates)),
	}
	for _, m := range metro {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			f.metro = append(f.metro, m)
		}
	}
	for _, abbrev := range usStates {
		if abbrev == f.homeState {
			continue
		}
		f.abbrevPatterns[abbrev] = []*regexp.Regexp{
			regexp.MustCompile(`,\s` + abbrev + `\b`),
			regexp.MustCompile(`\(` + abbrev + `\)`),
			regexp.MustCompile(`\b` + abbrev + `\s\d{5}\b`),
		}
	}
	return f
}

// Relevant reports whether content with the given title, body, and
// category belongs in the tenant's corpus.
func (f *GeoFilter) Relevant(title, body, category string) bool {
	if f == nil {
		return true
	}
	text := title + " " + body
	lower := strings.ToLower(text)

	if !f.mentionsForeignPlace(text, lower) {
		return true
	}
	// Foreign references are forgiven when the content also mentions an
	// allowed locality.
	if f.locality != "" && strings.Contains(lower, f.locality) {
		return true
	}
	if !strictCategories[category] {
		for _, m := range f.metro {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

func (f *GeoFilter) mentionsForeignPlace(text, lower string) bool {
	homeStateName := ""
	for name, abbrev := range usStates {
		if abbrev == f.homeState {
			homeStateName = name
			break
		}
	}
	for name := range usStates {
		if name == homeStateName {
			continue
		}
		if containsWord(lower, name) {
			return true
		}
	}
	for _, patterns := range f.abbrevPatterns {
		for _, p := range patterns {
			if p.MatchString(text) {
				return true
			}
		}
	}
	for _, city := range distantCities {
		if strings.Contains(lower, city) {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
