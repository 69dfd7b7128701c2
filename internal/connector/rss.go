package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
)

// RSSConnector reads RSS 2.0 and Atom feeds.
type RSSConnector struct {
	base
	feedURL string
}

// NewRSSConnector builds an RSS connector from a source config. The config
// must carry a "url" field.
func NewRSSConnector(source models.SourceConfig, deps Deps) (Connector, error) {
	feedURL := configString(source, "url")
	if feedURL == "" {
		return nil, fmt.Errorf("rss source %s has no url configured", source.ID)
	}
	return &RSSConnector{base: base{source: source, deps: deps}, feedURL: feedURL}, nil
}

func (c *RSSConnector) Type() string { return models.ConnectorRSS }

// Fetch downloads and parses the feed.
func (c *RSSConnector) Fetch(ctx context.Context) ([]models.RawItem, error) {
	body, err := fetchBody(ctx, c.deps.httpClient(), c.feedURL, DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}
	return ParseFeed(string(body)), nil
}

// Normalize converts raw feed entries into content items keyed by a hash
// of the link (or title when no link exists).
func (c *RSSConnector) Normalize(items []models.RawItem) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		hashInput := item.Link
		if hashInput == "" {
			hashInput = title
		}
		ci := models.ContentItem{
			TenantID:    c.source.TenantID,
			SourceID:    c.ID(),
			Category:    c.source.Category,
			Title:       title,
			Content:     item.Description,
			PublishedAt: item.Published,
			ContentHash: sha256Hex(hashInput),
		}
		if item.Link != "" {
			link := item.Link
			ci.URL = &link
		}
		if item.Description != "" {
			summary := truncateWords(item.Description, 280)
			ci.Summary = &summary
		}
		out = append(out, ci)
	}
	return out
}

var (
	itemPattern  = regexp.MustCompile(`(?s)<item[\s>].*?</item>|<item>.*?</item>`)
	entryPattern = regexp.MustCompile(`(?s)<entry[\s>].*?</entry>|<entry>.*?</entry>`)
	fieldPattern = map[string]*regexp.Regexp{
		"title":       regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`),
		"link":        regexp.MustCompile(`(?s)<link[^>]*>(.*?)</link>`),
		"linkHref":    regexp.MustCompile(`<link[^>]*href="([^"]+)"`),
		"description": regexp.MustCompile(`(?s)<description[^>]*>(.*?)</description>`),
		"summary":     regexp.MustCompile(`(?s)<summary[^>]*>(.*?)</summary>`),
		"content":     regexp.MustCompile(`(?s)<content[^>]*>(.*?)</content>`),
		"pubDate":     regexp.MustCompile(`(?s)<pubDate[^>]*>(.*?)</pubDate>`),
		"published":   regexp.MustCompile(`(?s)<published[^>]*>(.*?)</published>`),
		"updated":     regexp.MustCompile(`(?s)<updated[^>]*>(.*?)</updated>`),
		"category":    regexp.MustCompile(`(?s)<category[^>]*>(.*?)</category>`),
	}
)

// ParseFeed extracts items from RSS <item> or Atom <entry> blocks. The
// change monitor also uses it for its discovery feed.
func ParseFeed(feed string) []models.RawItem {
	blocks := itemPattern.FindAllString(feed, -1)
	isAtom := false
	if len(blocks) == 0 {
		blocks = entryPattern.FindAllString(feed, -1)
		isAtom = true
	}

	items := make([]models.RawItem, 0, len(blocks))
	for _, block := range blocks {
		item := models.RawItem{
			Title:    cleanFeedText(extractField(block, "title")),
			Category: cleanFeedText(extractField(block, "category")),
		}

		if isAtom {
			item.Link = strings.TrimSpace(extractField(block, "linkHref"))
		}
		if item.Link == "" {
			item.Link = cleanFeedText(extractField(block, "link"))
		}

		for _, field := range []string{"description", "summary", "content"} {
			if v := cleanFeedText(extractField(block, field)); v != "" {
				item.Description = v
				break
			}
		}

		for _, field := range []string{"pubDate", "published", "updated"} {
			if raw := strings.TrimSpace(extractField(block, field)); raw != "" {
				if t, ok := parseFeedDate(raw); ok {
					item.Published = &t
				}
				break
			}
		}

		if item.Title == "" && item.Link == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

func extractField(block, field string) string {
	m := fieldPattern[field].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return m[1]
}

var cdataPattern = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
var tagPattern = regexp.MustCompile(`<[^>]+>`)

// cleanFeedText strips CDATA wrappers and markup and decodes the common
// entities. &amp; decodes last so &amp;lt; does not double-decode.
func cleanFeedText(s string) string {
	s = cdataPattern.ReplaceAllString(s, "$1")
	s = tagPattern.ReplaceAllString(s, " ")
	replacements := []struct{ from, to string }{
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&#39;", "'"},
		{"&nbsp;", " "},
		{"&amp;", "&"},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return strings.Join(strings.Fields(s), " ")
}

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02",
}

func parseFeedDate(raw string) (time.Time, bool) {
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// truncateWords shortens s to at most n characters, cutting at a word
// boundary and appending an ellipsis when truncated.
func truncateWords(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}
