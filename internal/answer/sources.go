package answer

import (
	"regexp"
	"strings"

	"github.com/civicmesh/civicmesh/internal/models"
)

// usedSourcesPattern matches the attribution marker the model appends to
// its answer. The list runs to the end of the line.
var usedSourcesPattern = regexp.MustCompile(`(?i)USED_SOURCES:\s*([^\n]*)`)

// ParseUsedSources scans text for the first USED_SOURCES marker. It returns
// the text with the marker stripped, the uppercased source ids the model
// claims to have used, and whether a marker was present at all. A list of
// NONE reads as present-but-empty.
func ParseUsedSources(text string) (cleaned string, ids []string, found bool) {
	loc := usedSourcesPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil, false
	}

	list := strings.TrimSpace(text[loc[2]:loc[3]])
	cleaned = strings.TrimRight(text[:loc[0]]+text[loc[1]:], " \t\r\n")

	if strings.EqualFold(list, "NONE") || list == "" {
		return cleaned, nil, true
	}
	for _, part := range strings.Split(list, ",") {
		id := strings.ToUpper(strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "[]")))
		if id != "" {
			ids = append(ids, id)
		}
	}
	return cleaned, ids, true
}

// FilterSources narrows candidates to the ids the model cited, preserving
// candidate order.
func FilterSources(candidates []models.SourceAttribution, ids []string) []models.SourceAttribution {
	cited := make(map[string]bool, len(ids))
	for _, id := range ids {
		cited[id] = true
	}
	filtered := make([]models.SourceAttribution, 0, len(ids))
	for _, c := range candidates {
		if cited[strings.ToUpper(c.SourceID)] {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
