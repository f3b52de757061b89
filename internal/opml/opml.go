// Package opml imports and exports subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/model"
	"golang.org/x/net/html/charset"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a feed, or a category grouping nested outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is one subscription.
type FeedEntry struct {
	Title string
	URL   string
}

// Parse reads an OPML document. Categories are flattened and duplicate
// URLs are dropped, keeping the first occurrence.
func Parse(r io.Reader) ([]FeedEntry, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	var doc OPML
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []FeedEntry
	seen := make(map[string]bool)
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				if seen[url] {
					continue
				}
				seen[url] = true
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{Title: title, URL: url})
				continue
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// FromFeeds converts stored feeds to export entries. Feeds without a title
// are exported under their URL.
func FromFeeds(feeds []model.Feed) []FeedEntry {
	entries := make([]FeedEntry, 0, len(feeds))
	for _, f := range feeds {
		title := f.Title
		if title == "" {
			title = f.URL
		}
		entries = append(entries, FeedEntry{Title: title, URL: f.URL})
	}
	return entries
}

// Export generates an OPML 2.0 document listing entries in order.
func Export(title string, entries []FeedEntry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, e := range entries {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   e.Title,
			Title:  e.Title,
			Type:   "rss",
			XMLURL: e.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
