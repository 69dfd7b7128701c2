package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
)

func rssSource(t *testing.T, url string) models.SourceConfig {
	t.Helper()
	return models.SourceConfig{
		ID:            uuid.New(),
		TenantID:      "springfield",
		ConnectorType: models.ConnectorRSS,
		Category:      models.CategoryNews,
		Schedule:      models.ScheduleHourly,
		Config:        []byte(`{"url": "` + url + `"}`),
		Enabled:       true,
		ShouldEmbed:   true,
	}
}

func testDeps() Deps {
	return Deps{Logger: observability.NewNoopLogger()}
}

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Town News</title>
<item>
  <title><![CDATA[Road closure on Main St]]></title>
  <link>https://news.town.gov/road-closure</link>
  <description><![CDATA[Main St closed <b>Tuesday</b> for repairs &amp; paving.]]></description>
  <pubDate>Mon, 24 Aug 2026 09:00:00 -0500</pubDate>
  <category>roads</category>
</item>
<item>
  <title>Budget hearing scheduled</title>
  <link>https://news.town.gov/budget</link>
  <description>The council meets Thursday.</description>
</item>
</channel></rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry>
  <title>Library renovation update</title>
  <link href="https://library.town.gov/renovation"/>
  <summary>Phase two begins in September.</summary>
  <updated>2026-08-20T12:00:00Z</updated>
</entry>
</feed>`

func TestRSSConnector_FetchParsesItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	c, err := NewRSSConnector(rssSource(t, server.URL), testDeps())
	require.NoError(t, err)

	items, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Road closure on Main St", items[0].Title)
	assert.Equal(t, "https://news.town.gov/road-closure", items[0].Link)
	// CDATA stripped, tags removed, entities decoded, &amp; last
	assert.Equal(t, "Main St closed Tuesday for repairs & paving.", items[0].Description)
	assert.Equal(t, "roads", items[0].Category)
	require.NotNil(t, items[0].Published)
	assert.Equal(t, 24, items[0].Published.Day())

	assert.Nil(t, items[1].Published)
}

func TestRSSConnector_FetchParsesAtomEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer server.Close()

	c, err := NewRSSConnector(rssSource(t, server.URL), testDeps())
	require.NoError(t, err)

	items, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Library renovation update", items[0].Title)
	assert.Equal(t, "https://library.town.gov/renovation", items[0].Link)
	assert.Equal(t, "Phase two begins in September.", items[0].Description)
	require.NotNil(t, items[0].Published)
}

func TestRSSConnector_FetchErrorIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := NewRSSConnector(rssSource(t, server.URL), testDeps())
	require.NoError(t, err)

	_, err = c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
}

func TestRSSConnector_NormalizeHashesLink(t *testing.T) {
	c, err := NewRSSConnector(rssSource(t, "https://example.test/feed"), testDeps())
	require.NoError(t, err)

	published := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	items := c.Normalize([]models.RawItem{
		{Title: "Road closure", Link: "https://news.town.gov/road-closure", Description: "Main St closed.", Published: &published},
		{Title: "No link item", Description: "No link here."},
		{Description: "untitled, dropped"},
	})

	require.Len(t, items, 2)
	assert.Equal(t, sha256Hex("https://news.town.gov/road-closure"), items[0].ContentHash)
	assert.Equal(t, sha256Hex("No link item"), items[1].ContentHash)
	assert.Equal(t, "springfield", items[0].TenantID)
	assert.Equal(t, models.CategoryNews, items[0].Category)
	require.NotNil(t, items[0].URL)
	assert.Nil(t, items[1].URL)
}

func TestRSSConnector_NormalizeIsDeterministic(t *testing.T) {
	c, err := NewRSSConnector(rssSource(t, "https://example.test/feed"), testDeps())
	require.NoError(t, err)

	raw := []models.RawItem{{Title: "Item", Link: "https://town.gov/item", Description: "body"}}
	first := c.Normalize(raw)
	second := c.Normalize(raw)

	assert.Equal(t, first[0].ContentHash, second[0].ContentHash)
}

func TestNewRSSConnector_RequiresURL(t *testing.T) {
	source := rssSource(t, "")
	source.Config = []byte(`{}`)

	_, err := NewRSSConnector(source, testDeps())
	assert.Error(t, err)
}

func TestCleanFeedText_AmpersandDecodesLast(t *testing.T) {
	// "&amp;lt;" is an encoded "&lt;", not an encoded "<"
	assert.Equal(t, "5 &lt; 6", cleanFeedText("5 &amp;lt; 6"))
	assert.Equal(t, `say "hi"`, cleanFeedText("say &quot;hi&quot;"))
	assert.Equal(t, "it's here", cleanFeedText("it&#39;s&nbsp;here"))
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "short", truncateWords("short", 100))

	long := "The quick brown fox jumps over the lazy dog near the riverbank every single morning"
	got := truncateWords(long, 30)
	assert.LessOrEqual(t, len(got), 33)
	assert.True(t, len(got) > 0)
	assert.Contains(t, got, "...")
}
