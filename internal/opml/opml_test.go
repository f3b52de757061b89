package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bryan-buckman/rssdeck/internal/model"
)

func TestParse_FlattensCategories(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
    <outline text="Tech">
      <outline text="HN" title="Hacker News" type="rss" xmlUrl="https://news.ycombinator.com/rss"/>
      <outline text="Nested">
        <outline text="Dup" xmlUrl="https://go.dev/blog/feed.atom"/>
      </outline>
    </outline>
  </body>
</opml>`
	entries, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []FeedEntry{
		{Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{Title: "Hacker News", URL: "https://news.ycombinator.com/rss"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries: %+v", len(entries), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("<opml><body>")); err == nil {
		t.Error("expected error for truncated document")
	}
}

func TestExportThenParse(t *testing.T) {
	feeds := []model.Feed{
		{URL: "https://example.com/a.xml", Title: "A"},
		{URL: "https://example.com/b.xml"},
	}
	out, err := Export("rssdeck subscriptions", FromFeeds(feeds))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("<?xml")) {
		t.Error("missing XML header")
	}

	entries, err := Parse(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 || entries[0].Title != "A" || entries[1].Title != "https://example.com/b.xml" {
		t.Errorf("entries: %+v", entries)
	}
}
