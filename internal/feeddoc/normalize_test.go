package feeddoc

import (
	"errors"
	"testing"
)

func obj(kv ...interface{}) *Node {
	n := NewObject()
	for i := 0; i < len(kv); i += 2 {
		n.Set(kv[i].(string), kv[i+1].(*Node))
	}
	return n
}

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		in   *Node
		want string
	}{
		{"absent", nil, ""},
		{"string", NewString("plain"), "plain"},
		{"text node", obj("#text", NewString("hello")), "hello"},
		{"list", NewList(NewString("first"), NewString("second")), "first"},
		{"empty list", NewList(), ""},
		{"nested list", NewList(obj("#text", NewString("inner"))), "inner"},
		{"first string field", obj("@_isPermaLink", NewString("false"), "x", NewString("y")), "false"},
		{"string array field", obj("sub", NewList(NewString("a"), NewString("b"))), "a"},
		{"object without strings", obj("sub", obj("deeper", NewString("z"))), ""},
	}
	for _, c := range cases {
		if got := ExtractText(c.in); got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestExtractLink(t *testing.T) {
	cases := []struct {
		name string
		in   *Node
		want string
	}{
		{"absent", nil, ""},
		{"plain string", NewString("http://c"), "http://c"},
		{"href list", NewList(obj("@_href", NewString("http://a")), obj("@_href", NewString("http://b"))), "http://a"},
		{"single href", obj("@_href", NewString("http://x"), "@_rel", NewString("alternate")), "http://x"},
		{"object text", obj("@_rel", NewString("self"), "#text", NewString("http://t")), "http://t"},
		{"href beats earlier string", NewList(NewString("http://s"), obj("@_href", NewString("http://h"))), "http://h"},
		{"string fallback", NewList(obj("@_rel", NewString("self")), NewString("http://s")), "http://s"},
		{"nothing usable", NewList(obj("@_rel", NewString("self"))), ""},
	}
	for _, c := range cases {
		if got := ExtractLink(c.in); got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestParse_RSS(t *testing.T) {
	raw := `<rss><channel><item><title>A</title><guid>g1</guid></item></channel></rss>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].GUID != "g1" || items[0].Title != "A" {
		t.Errorf("unexpected item: %+v", items[0])
	}
	if items[0].PublishedAt != "" || items[0].Description != "" {
		t.Errorf("absent fields should be empty: %+v", items[0])
	}
}

func TestParse_AttributeOnlyTitle(t *testing.T) {
	raw := `<rss><channel><item><guid>g1</guid><title type="html"></title></item></channel></rss>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	// The attribute value stands in for the missing text.
	if items[0].Title != "html" {
		t.Errorf("title: %q", items[0].Title)
	}
}

func TestParse_Atom(t *testing.T) {
	raw := `<feed><entry><id>e1</id><link href="http://x"/><title>T</title></entry></feed>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Link != "http://x" || items[0].GUID != "e1" || items[0].Title != "T" {
		t.Errorf("unexpected item: %+v", items[0])
	}
}

func TestParse_FullRSSItem(t *testing.T) {
	raw := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Blog</title>
    <item>
      <title>First post</title>
      <link>https://example.com/post/1</link>
      <guid isPermaLink="false">post-1</guid>
      <description>&lt;p&gt;Body&lt;/p&gt;</description>
      <pubDate>Thu, 19 Feb 2026 08:00:00 +0800</pubDate>
    </item>
    <item>
      <link>https://example.com/post/2</link>
    </item>
  </channel>
</rss>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.GUID != "post-1" || first.Link != "https://example.com/post/1" {
		t.Errorf("guid/link: %+v", first)
	}
	if first.Description != "<p>Body</p>" {
		t.Errorf("description: %q", first.Description)
	}
	if first.PublishedAt != "Thu, 19 Feb 2026 08:00:00 +0800" {
		t.Errorf("pubDate: %q", first.PublishedAt)
	}
	second := items[1]
	if second.GUID != "https://example.com/post/2" {
		t.Errorf("guid should fall back to link: %q", second.GUID)
	}
	if second.Title != DefaultTitle {
		t.Errorf("title should default: %q", second.Title)
	}
}

func TestParse_AtomMultipleLinksAndSummary(t *testing.T) {
	raw := `<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title type="html">Hello</title>
    <link rel="alternate" href="https://example.com/a"/>
    <link rel="self" href="https://example.com/a.xml"/>
    <summary>Short</summary>
    <published>2026-02-19T09:00:00+08:00</published>
  </entry>
  <entry><title>Second</title><id>urn:2</id></entry>
</feed>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	if items[0].Link != "https://example.com/a" || items[0].GUID != "https://example.com/a" {
		t.Errorf("first entry: %+v", items[0])
	}
	if items[0].Title != "Hello" || items[0].Description != "Short" {
		t.Errorf("title/summary: %+v", items[0])
	}
	if items[0].PublishedAt != "2026-02-19T09:00:00+08:00" {
		t.Errorf("published: %q", items[0].PublishedAt)
	}
	if items[1].GUID != "urn:2" || items[1].Link != "" {
		t.Errorf("second entry: %+v", items[1])
	}
}

func TestParse_MultipleChannelsUsesFirst(t *testing.T) {
	raw := `<rss>
  <channel><item><guid>a</guid></item><item><guid>b</guid></item></channel>
  <channel><item><guid>c</guid></item></channel>
</rss>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 || items[0].GUID != "a" || items[1].GUID != "b" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestParse_UnknownOrEmptyShapes(t *testing.T) {
	docs := []string{
		`<html><body>nope</body></html>`,
		`<rdf:RDF><item><title>x</title></item></rdf:RDF>`,
		`<rss/>`,
		`<rss><channel/></rss>`,
		`<rss><channel><title>No items</title></channel></rss>`,
		`<rss>text only</rss>`,
		`<feed><title>No entries</title></feed>`,
	}
	for _, raw := range docs {
		items, err := Parse([]byte(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if len(items) != 0 {
			t.Errorf("%s: expected no items, got %d", raw, len(items))
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`<rss><channel>`))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParse_GeneratedGUIDs(t *testing.T) {
	raw := `<rss><channel><item><title>x</title></item><item><title>y</title></item></channel></rss>`
	items, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].GUID == "" || items[1].GUID == "" {
		t.Fatal("generated guids must not be empty")
	}
	if items[0].GUID == items[1].GUID {
		t.Errorf("generated guids must differ: %s", items[0].GUID)
	}
}
