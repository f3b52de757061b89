package feeddoc

import (
	"github.com/bryan-buckman/rssdeck/internal/model"
	"github.com/google/uuid"
)

// DefaultTitle is used for items whose title is missing or empty.
const DefaultTitle = "No title"

const hrefKey = AttrPrefix + "href"

// Parse normalizes an RSS or Atom document into canonical items. Documents
// whose root is neither <rss> nor <feed> yield no items. The only error is a
// *ParseError for input that is not well-formed XML.
func Parse(raw []byte) ([]model.CanonicalItem, error) {
	doc, err := ParseTree(raw)
	if err != nil {
		return nil, err
	}
	entries := Entries(doc)
	items := make([]model.CanonicalItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, Canonicalize(e))
	}
	return items, nil
}

// Entries returns the item (RSS) or entry (Atom) nodes of a document tree.
// Only the first channel of an RSS document is read.
func Entries(doc *Node) []*Node {
	if rss := doc.Field("rss"); rss != nil {
		return rss.Field("channel").First().Field("item").All()
	}
	if feed := doc.Field("feed"); feed != nil {
		return feed.Field("entry").All()
	}
	return nil
}

// Canonicalize maps one item/entry node onto a CanonicalItem.
//
// Items without guid, id and link get a random guid, so such feeds are
// re-ingested on every fetch. An element carrying only attributes, such as
// <title type="html"></title>, reads as its first attribute value ("html").
func Canonicalize(entry *Node) model.CanonicalItem {
	guid := firstNonEmpty(
		ExtractText(entry.Field("guid")),
		ExtractText(entry.Field("id")),
		ExtractLink(entry.Field("link")),
	)
	if guid == "" {
		guid = uuid.NewString()
	}

	title := ExtractText(entry.Field("title"))
	if title == "" {
		title = DefaultTitle
	}

	return model.CanonicalItem{
		GUID:  guid,
		Title: title,
		Description: firstNonEmpty(
			ExtractText(entry.Field("description")),
			ExtractText(entry.Field("summary")),
		),
		Link: firstNonEmpty(
			ExtractLink(entry.Field("link")),
			ExtractText(entry.Field("link")),
		),
		PublishedAt: firstNonEmpty(
			ExtractText(entry.Field("pubDate")),
			ExtractText(entry.Field("published")),
		),
	}
}

// ExtractText returns the textual value of a field: the string itself, the
// first element of a list, or for an object its #text or else the first
// string-valued field in declaration order. Missing values yield "".
func ExtractText(n *Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case String:
		return n.Str
	case List:
		return ExtractText(n.First())
	case Object:
		if t := n.Field(TextKey); t != nil {
			return ExtractText(t)
		}
		for _, k := range n.keys {
			v := n.fields[k]
			switch {
			case v.Kind == String:
				return v.Str
			case v.Kind == List && len(v.Items) > 0 && v.Items[0].Kind == String:
				return v.Items[0].Str
			}
		}
	}
	return ""
}

// ExtractLink returns the URL of an RSS text link or Atom link element(s).
// For a list it prefers the first href, then the first plain string, then
// the first element's href.
func ExtractLink(n *Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case String:
		return n.Str
	case Object:
		if href := ExtractText(n.Field(hrefKey)); href != "" {
			return href
		}
		return ExtractText(n.Field(TextKey))
	case List:
		for _, l := range n.Items {
			if href := ExtractText(l.Field(hrefKey)); href != "" {
				return href
			}
		}
		for _, l := range n.Items {
			if l.Kind == String && l.Str != "" {
				return l.Str
			}
		}
		return ExtractText(n.First().Field(hrefKey))
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
