package connector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/civicmesh/civicmesh/internal/models"
)

const (
	// DefaultMaxPages caps candidate URLs per scrape run.
	DefaultMaxPages = 20

	// scrapeFetchTimeout bounds each article fetch.
	scrapeFetchTimeout = 15 * time.Second

	// politenessDelay spaces out article fetches.
	politenessDelay = 500 * time.Millisecond

	// minBodyLength drops boilerplate-only pages.
	minBodyLength = 50
)

// ScrapeConnector crawls a listing page and extracts readable articles
// from the linked pages.
type ScrapeConnector struct {
	base
	listingURL string
	selector   string
	urlFilter  *regexp.Regexp
	maxPages   int
	limiter    *rate.Limiter
}

// NewScrapeConnector builds a scraper. Config fields: "url" (required),
// "selector" (optional CSS selector scoping the link candidates),
// "url_filter" (optional regexp), "max_pages".
func NewScrapeConnector(source models.SourceConfig, deps Deps) (Connector, error) {
	listingURL := configString(source, "url")
	if listingURL == "" {
		return nil, fmt.Errorf("scrape source %s has no url configured", source.ID)
	}

	c := &ScrapeConnector{
		base:       base{source: source, deps: deps},
		listingURL: listingURL,
		selector:   configString(source, "selector"),
		maxPages:   configInt(source, "max_pages", DefaultMaxPages),
		limiter:    rate.NewLimiter(rate.Every(politenessDelay), 1),
	}
	if pattern := configString(source, "url_filter"); pattern != "" {
		filter, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("scrape source %s has invalid url_filter: %w", source.ID, err)
		}
		c.urlFilter = filter
	}
	return c, nil
}

func (c *ScrapeConnector) Type() string { return models.ConnectorScrape }

// Fetch collects candidate links from the listing page, then fetches and
// extracts each article. Per-article failures are skipped, not fatal.
func (c *ScrapeConnector) Fetch(ctx context.Context) ([]models.RawItem, error) {
	listing, err := fetchBody(ctx, c.deps.httpClient(), c.listingURL, DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}

	candidates, err := c.extractLinks(string(listing))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing listing %s: %v", ErrFetch, c.listingURL, err)
	}
	if len(candidates) > c.maxPages {
		candidates = candidates[:c.maxPages]
	}

	var items []models.RawItem
	for _, candidate := range candidates {
		if err := c.limiter.Wait(ctx); err != nil {
			return items, err
		}
		item, err := c.fetchArticle(ctx, candidate)
		if err != nil {
			c.deps.Logger.Debug("Skipping unreadable page", map[string]interface{}{
				"url":   candidate,
				"error": err.Error(),
			})
			continue
		}
		if len(item.Description) < minBodyLength {
			continue
		}
		if c.deps.GeoFilter != nil && !c.deps.GeoFilter.Relevant(item.Title, item.Description, c.source.Category) {
			c.deps.Logger.Debug("Dropping geographically irrelevant page", map[string]interface{}{
				"url": candidate,
			})
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Normalize converts articles into content items hashed by URL.
func (c *ScrapeConnector) Normalize(items []models.RawItem) []models.ContentItem {
	out := make([]models.ContentItem, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || item.Link == "" {
			continue
		}
		link := item.Link
		summary := truncateWords(item.Description, 280)
		out = append(out, models.ContentItem{
			TenantID:    c.source.TenantID,
			SourceID:    c.ID(),
			Category:    c.source.Category,
			Title:       title,
			Content:     item.Description,
			Summary:     &summary,
			PublishedAt: item.Published,
			URL:         &link,
			ContentHash: sha256Hex(link),
		})
	}
	return out
}

// extractLinks walks the listing DOM collecting absolute http(s) anchor
// targets, scoped to the configured selector when one is set.
func (c *ScrapeConnector) extractLinks(listing string) ([]string, error) {
	root, err := html.Parse(strings.NewReader(listing))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(c.listingURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	var walk func(n *html.Node, inScope bool)
	walk = func(n *html.Node, inScope bool) {
		if n.Type == html.ElementNode {
			if c.selector == "" || matchesSelector(n, c.selector) {
				inScope = true
			}
			if n.Data == "a" && inScope {
				if link, ok := c.resolveLink(base, attrValue(n, "href")); ok && !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inScope)
		}
	}
	walk(root, false)
	return links, nil
}

func (c *ScrapeConnector) resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	parsed, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	parsed.Fragment = ""
	link := parsed.String()
	if link == c.listingURL {
		return "", false
	}
	if c.urlFilter != nil && !c.urlFilter.MatchString(link) {
		return "", false
	}
	return link, true
}

// fetchArticle downloads one page and extracts its readable content as
// markdown.
func (c *ScrapeConnector) fetchArticle(ctx context.Context, pageURL string) (models.RawItem, error) {
	body, err := fetchBody(ctx, c.deps.httpClient(), pageURL, scrapeFetchTimeout)
	if err != nil {
		return models.RawItem{}, err
	}

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return models.RawItem{}, fmt.Errorf("readability extraction failed: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		// Fall back to the plain text extraction.
		markdown = article.TextContent
	}

	item := models.RawItem{
		Title:       strings.TrimSpace(article.Title),
		Link:        pageURL,
		Description: strings.TrimSpace(markdown),
	}
	if published, ok := extractPublishedDate(string(body)); ok {
		item.Published = &published
	}
	return item, nil
}

var metaDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`<meta[^>]+property="article:published_time"[^>]+content="([^"]+)"`),
	regexp.MustCompile(`<meta[^>]+content="([^"]+)"[^>]+property="article:published_time"`),
	regexp.MustCompile(`<meta[^>]+name="date"[^>]+content="([^"]+)"`),
	regexp.MustCompile(`<time[^>]+datetime="([^"]+)"`),
}

func extractPublishedDate(page string) (time.Time, bool) {
	for _, pattern := range metaDatePatterns {
		m := pattern.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(m[1])); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// matchesSelector supports the selector subset used by source configs:
// "tag", ".class", "#id", and "tag.class".
func matchesSelector(n *html.Node, selector string) bool {
	tag := selector
	var class, id string
	if i := strings.IndexByte(selector, '#'); i >= 0 {
		tag, id = selector[:i], selector[i+1:]
	} else if i := strings.IndexByte(selector, '.'); i >= 0 {
		tag, class = selector[:i], selector[i+1:]
	}
	if tag != "" && n.Data != tag {
		return false
	}
	if id != "" && attrValue(n, "id") != id {
		return false
	}
	if class != "" {
		found := false
		for _, c := range strings.Fields(attrValue(n, "class")) {
			if c == class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return tag != "" || class != "" || id != ""
}

func attrValue(n *html.Node, name string) string {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}
