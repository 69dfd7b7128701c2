package routing

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// universalSynonyms maps trigger terms to municipal-domain expansions shared
// by every tenant. Single-word triggers match on word boundaries; multi-word
// triggers match as substrings.
var universalSynonyms = map[string][]string{
	"trash":          {"garbage", "waste", "recycling", "sanitation"},
	"garbage":        {"trash", "waste", "sanitation"},
	"dump":           {"transfer station", "landfill", "waste disposal"},
	"pool":           {"aquatic center", "swimming"},
	"gym":            {"fitness center", "recreation center"},
	"dmv":            {"motor vehicles", "vehicle registration", "driver license"},
	"taxes":          {"property tax", "tax assessor", "tax collector"},
	"permit":         {"permits", "license", "application"},
	"mayor":          {"city council", "city hall", "administration"},
	"police":         {"law enforcement", "public safety", "sheriff"},
	"fire":           {"fire department", "emergency services"},
	"library":        {"public library", "branch library"},
	"bus":            {"transit", "public transportation"},
	"parking":        {"parking permit", "parking enforcement"},
	"water":          {"water utility", "water bill", "utilities"},
	"sewer":          {"wastewater", "utilities"},
	"pothole":        {"road repair", "street maintenance", "public works"},
	"snow":           {"snow removal", "plowing", "winter weather"},
	"vote":           {"voting", "election", "ballot", "polling place"},
	"dog park":       {"off-leash area", "pet recreation"},
	"city hall":      {"municipal building", "government offices"},
	"town hall":      {"municipal building", "government offices"},
	"pick up":        {"collection", "pickup schedule"},
	"yard waste":     {"leaf collection", "brush pickup", "compost"},
	"bulk pickup":    {"large item collection", "bulky waste"},
	"after school":   {"youth programs", "childcare", "recreation programs"},
	"report a":       {"complaint", "service request", "311"},
	"business hours": {"hours of operation", "open hours"},
}

// wordBoundary caches compiled single-word trigger patterns.
var (
	wordBoundaryMu    sync.RWMutex
	wordBoundaryCache = make(map[string]*regexp.Regexp)
)

func wordBoundaryPattern(trigger string) *regexp.Regexp {
	wordBoundaryMu.RLock()
	re, ok := wordBoundaryCache[trigger]
	wordBoundaryMu.RUnlock()
	if ok {
		return re
	}
	re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(trigger) + `\b`)
	wordBoundaryMu.Lock()
	wordBoundaryCache[trigger] = re
	wordBoundaryMu.Unlock()
	return re
}

// ExpandSynonyms appends dictionary expansions for every trigger present in
// the query. Tenant synonyms layer on top of the universal dictionary.
// Expansion terms already present in the query (case-insensitively) are not
// repeated, and the original query always leads the result.
func ExpandSynonyms(query string, tenantSynonyms map[string][]string) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return query
	}
	lower := strings.ToLower(trimmed)

	var additions []string
	seen := make(map[string]bool)

	collect := func(dict map[string][]string) {
		// Sorted trigger iteration keeps expansion output deterministic.
		triggers := make([]string, 0, len(dict))
		for trigger := range dict {
			triggers = append(triggers, trigger)
		}
		sort.Strings(triggers)

		for _, trigger := range triggers {
			var matched bool
			if strings.ContainsRune(trigger, ' ') {
				matched = strings.Contains(lower, strings.ToLower(trigger))
			} else {
				matched = wordBoundaryPattern(trigger).MatchString(trimmed)
			}
			if !matched {
				continue
			}
			for _, term := range dict[trigger] {
				key := strings.ToLower(term)
				if seen[key] || strings.Contains(lower, key) {
					continue
				}
				seen[key] = true
				additions = append(additions, term)
			}
		}
	}

	collect(universalSynonyms)
	collect(tenantSynonyms)

	if len(additions) == 0 {
		return trimmed
	}
	return trimmed + " " + strings.Join(additions, " ")
}
