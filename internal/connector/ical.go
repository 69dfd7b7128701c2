package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
)

// DefaultDaysAhead bounds the iCal event window.
const DefaultDaysAhead = 90

// ICalConnector reads iCalendar event feeds.
type ICalConnector struct {
	base
	feedURL   string
	daysAhead int
}

// NewICalConnector builds an iCal connector. The config must carry a "url"
// field and may carry "days_ahead".
func NewICalConnector(source models.SourceConfig, deps Deps) (Connector, error) {
	feedURL := configString(source, "url")
	if feedURL == "" {
		return nil, fmt.Errorf("ical source %s has no url configured", source.ID)
	}
	return &ICalConnector{
		base:      base{source: source, deps: deps},
		feedURL:   feedURL,
		daysAhead: configInt(source, "days_ahead", DefaultDaysAhead),
	}, nil
}

func (c *ICalConnector) Type() string { return models.ConnectorICal }

// Fetch downloads the calendar and returns upcoming events within the
// configured window.
func (c *ICalConnector) Fetch(ctx context.Context) ([]models.RawItem, error) {
	body, err := fetchBody(ctx, c.deps.httpClient(), c.feedURL, DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}

	now := c.deps.now()
	horizon := now.AddDate(0, 0, c.daysAhead)

	var items []models.RawItem
	for _, event := range splitEvents(string(body)) {
		item, ok := parseEvent(event)
		if !ok {
			continue
		}
		if item.Published == nil || item.Published.Before(now) || item.Published.After(horizon) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Normalize converts events into content items. The hash keys on the UID
// so rescheduled events update in place.
func (c *ICalConnector) Normalize(items []models.RawItem) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		hashInput := item.ID
		if hashInput == "" {
			start := ""
			if item.Published != nil {
				start = item.Published.Format("20060102T150405")
			}
			hashInput = title + start
		}

		content := item.Description
		if item.Location != "" {
			if content != "" {
				content += "\n"
			}
			content += "Location: " + item.Location
		}

		ci := models.ContentItem{
			TenantID:    c.source.TenantID,
			SourceID:    c.ID(),
			Category:    c.source.Category,
			Title:       title,
			Content:     content,
			PublishedAt: item.Published,
			ExpiresAt:   item.Ends,
			ContentHash: sha256Hex(hashInput),
		}
		if item.Link != "" {
			link := item.Link
			ci.URL = &link
		}
		out = append(out, ci)
	}
	return out
}

// splitEvents returns the body of each VEVENT block, with folded
// continuation lines joined.
func splitEvents(feed string) []string {
	// RFC 5545 folds long lines with CRLF + space.
	feed = strings.ReplaceAll(feed, "\r\n ", "")
	feed = strings.ReplaceAll(feed, "\n ", "")
	feed = strings.ReplaceAll(feed, "\r\n", "\n")

	var events []string
	rest := feed
	for {
		start := strings.Index(rest, "BEGIN:VEVENT")
		if start < 0 {
			break
		}
		rest = rest[start+len("BEGIN:VEVENT"):]
		end := strings.Index(rest, "END:VEVENT")
		if end < 0 {
			break
		}
		events = append(events, rest[:end])
		rest = rest[end+len("END:VEVENT"):]
	}
	return events
}

func parseEvent(event string) (models.RawItem, bool) {
	fields := map[string]string{}
	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		name := line[:colon]
		value := line[colon+1:]
		// Property parameters (DTSTART;VALUE=DATE) are part of the name.
		if semi := strings.Index(name, ";"); semi > 0 {
			name = name[:semi]
		}
		fields[strings.ToUpper(name)] = value
	}

	item := models.RawItem{
		ID:          fields["UID"],
		Title:       unescapeICal(fields["SUMMARY"]),
		Description: unescapeICal(fields["DESCRIPTION"]),
		Location:    unescapeICal(fields["LOCATION"]),
		Link:        fields["URL"],
	}
	if item.Title == "" {
		return item, false
	}
	if start, ok := parseICalTime(fields["DTSTART"]); ok {
		item.Published = &start
	}
	if end, ok := parseICalTime(fields["DTEND"]); ok {
		item.Ends = &end
	}
	return item, true
}

// unescapeICal reverses RFC 5545 text escaping.
func unescapeICal(s string) string {
	replacements := []struct{ from, to string }{
		{`\n`, "\n"},
		{`\N`, "\n"},
		{`\,`, ","},
		{`\;`, ";"},
		{`\\`, `\`},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return strings.TrimSpace(s)
}

func parseICalTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := []struct {
		layout string
		utc    bool
	}{
		{"20060102T150405Z", true},
		{"20060102T150405", false},
		{"20060102", false},
	}
	for _, l := range layouts {
		loc := time.Local
		if l.utc {
			loc = time.UTC
		}
		if t, err := time.ParseInLocation(l.layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
