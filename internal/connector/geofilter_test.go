package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newSpringfieldFilter() *GeoFilter {
	return NewGeoFilter("Springfield", "OH", []string{"Shelbyville", "Capital City"})
}

func TestGeoFilter_LocalContentPasses(t *testing.T) {
	f := newSpringfieldFilter()

	assert.True(t, f.Relevant("Road repairs downtown", "Crews begin paving Main St next week.", "government"))
}

func TestGeoFilter_OtherStateNameRejected(t *testing.T) {
	f := newSpringfieldFilter()

	assert.False(t, f.Relevant("New homes in Texas", "A developer in Texas announced a new subdivision.", "news"))
}

func TestGeoFilter_HomeStateNamePasses(t *testing.T) {
	f := newSpringfieldFilter()

	assert.True(t, f.Relevant("Ohio grants announced", "Ohio awarded road funding statewide.", "government"))
}

func TestGeoFilter_AbbreviationPatterns(t *testing.T) {
	f := newSpringfieldFilter()

	// ", XX" pattern
	assert.False(t, f.Relevant("Festival recap", "The event was held in Austin, TX last weekend.", "news"))
	// "(XX)" pattern
	assert.False(t, f.Relevant("League results", "The visiting team (CA) won the match.", "sports"))
	// "XX 12345" zip pattern
	assert.False(t, f.Relevant("New office", "Mail to 1 Plaza Dr, Reno NV 89501 for details.", "news"))
}

func TestGeoFilter_AbbreviationInsideWordNotMatched(t *testing.T) {
	f := newSpringfieldFilter()

	// "TX" only counts in the geographic patterns, not arbitrary text
	assert.True(t, f.Relevant("TX-401 form due", "File the TX401 form at city hall.", "government"))
}

func TestGeoFilter_ForeignReferenceForgivenByLocalityMention(t *testing.T) {
	f := newSpringfieldFilter()

	assert.True(t, f.Relevant("Springfield teams travel", "Springfield players head to Texas for the finals.", "sports"))
}

func TestGeoFilter_MetroScopeOnlyForBroadCategories(t *testing.T) {
	f := newSpringfieldFilter()

	title := "Shelbyville fair draws crowds"
	body := "Visitors from as far as Florida attended the Shelbyville fair."

	// community gets the metro scope, so the Shelbyville mention saves it
	assert.True(t, f.Relevant(title, body, "community"))
	// government is tenant-only; Shelbyville does not count
	assert.False(t, f.Relevant(title, body, "government"))
}

func TestGeoFilter_DistantCityRejected(t *testing.T) {
	f := newSpringfieldFilter()

	assert.False(t, f.Relevant("Conference recap", "The summit took place in Chicago this year.", "news"))
}

func TestGeoFilter_NilFilterPassesEverything(t *testing.T) {
	var f *GeoFilter

	assert.True(t, f.Relevant("Anything", "From anywhere, TX.", "news"))
}
