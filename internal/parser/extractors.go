package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// MetadataExtractor pulls provider-specific fields out of a raw item.
// Extractors are selected by a predicate over the feed URL; adding support
// for a new provider means registering a new implementation here, not
// branching in the parser.
type MetadataExtractor interface {
	Matches(feedURL *url.URL) bool
	Extract(raw *gofeed.Item, item *Item)
}

var extractors = []MetadataExtractor{
	&hackerNewsExtractor{},
}

var (
	hnPointsRe   = regexp.MustCompile(`(?i)points:\s*(\d+)`)
	hnCommentsRe = regexp.MustCompile(`(?i)#?\s*comments:\s*(\d+)`)
)

// hackerNewsExtractor reads points and comment counts from Hacker News
// family feeds. Structured item extension tags win; when absent it falls
// back to scanning the HTML-stripped description. Both fields are
// independently optional.
type hackerNewsExtractor struct{}

func (x *hackerNewsExtractor) Matches(feedURL *url.URL) bool {
	host := strings.ToLower(feedURL.Hostname())
	for _, suffix := range []string{"news.ycombinator.com", "hnrss.org"} {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (x *hackerNewsExtractor) Extract(raw *gofeed.Item, item *Item) {
	item.Points = extensionInt(raw, "hn", "points")
	item.Comments = extensionInt(raw, "hn", "comments")

	if item.Points != nil && item.Comments != nil {
		return
	}
	text := stripHTML(raw.Description)
	if item.Points == nil {
		item.Points = firstGroupInt(hnPointsRe, text)
	}
	if item.Comments == nil {
		item.Comments = firstGroupInt(hnCommentsRe, text)
	}
}

func extensionInt(item *gofeed.Item, namespace, name string) *int {
	exts, ok := item.Extensions[namespace]
	if !ok {
		return nil
	}
	for _, e := range exts[name] {
		if n, err := strconv.Atoi(strings.TrimSpace(e.Value)); err == nil {
			return &n
		}
	}
	return nil
}

func firstGroupInt(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}
