// Package feeddoc turns raw RSS/Atom XML into canonical feed items.
//
// Documents are first decoded into a loosely shaped tree (see Node) so that
// feeds which repeat, omit or nest elements unexpectedly can still be read.
package feeddoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Tree key conventions for attributes and element text.
const (
	AttrPrefix = "@_"
	TextKey    = "#text"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	String Kind = iota
	List
	Object
)

// Node is one value of the document tree: a string, a list of nodes or an
// object with ordered keys.
type Node struct {
	Kind  Kind
	Str   string
	Items []*Node

	keys   []string
	fields map[string]*Node
}

// NewString returns a String node.
func NewString(s string) *Node {
	return &Node{Kind: String, Str: s}
}

// NewList returns a List node.
func NewList(items ...*Node) *Node {
	return &Node{Kind: List, Items: items}
}

// NewObject returns an empty Object node.
func NewObject() *Node {
	return &Node{Kind: Object, fields: make(map[string]*Node)}
}

// Set stores child under key, keeping first-insertion order.
func (n *Node) Set(key string, child *Node) *Node {
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = child
	return n
}

// Field returns the child stored under key, or nil when n is not an object
// or has no such key.
func (n *Node) Field(key string) *Node {
	if n == nil || n.Kind != Object {
		return nil
	}
	return n.fields[key]
}

// Keys returns the object's keys in declaration order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != Object {
		return nil
	}
	return n.keys
}

// First returns the first element of a list, or n itself otherwise.
func (n *Node) First() *Node {
	if n == nil {
		return nil
	}
	if n.Kind == List {
		if len(n.Items) == 0 {
			return nil
		}
		return n.Items[0]
	}
	return n
}

// All returns the elements of a list, a single-element slice for any other
// node, and nil for nil.
func (n *Node) All() []*Node {
	if n == nil {
		return nil
	}
	if n.Kind == List {
		return n.Items
	}
	return []*Node{n}
}

// add appends a repeated child, promoting the existing value to a list.
func (n *Node) add(key string, child *Node) {
	existing, ok := n.fields[key]
	if !ok {
		n.Set(key, child)
		return
	}
	// Elements decode to String or Object, so a List here came from repetition.
	if existing.Kind == List {
		existing.Items = append(existing.Items, child)
		return
	}
	n.fields[key] = NewList(existing, child)
}

// ParseError reports a document that is not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse feed: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type frame struct {
	name     string
	obj      *Node
	text     strings.Builder
	children bool
}

// ParseTree decodes raw XML into an Object keyed by the root element name.
func ParseTree(raw []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	doc := NewObject()
	var stack []*frame
	roots := 0

	for {
		// RawToken keeps namespace prefixes as written, so atom:link and link
		// stay distinct keys; element matching is checked on the stack below.
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				roots++
				if roots > 1 {
					return nil, &ParseError{Err: errors.New("multiple root elements")}
				}
			} else {
				stack[len(stack)-1].children = true
			}
			f := &frame{name: qualified(t.Name), obj: NewObject()}
			for _, a := range t.Attr {
				f.obj.Set(AttrPrefix+qualified(a.Name), NewString(a.Value))
			}
			stack = append(stack, f)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, &ParseError{Err: fmt.Errorf("unexpected end element </%s>", qualified(t.Name))}
			}
			f := stack[len(stack)-1]
			if name := qualified(t.Name); name != f.name {
				return nil, &ParseError{Err: fmt.Errorf("element <%s> closed by </%s>", f.name, name)}
			}
			stack = stack[:len(stack)-1]
			node := f.finish()
			if len(stack) == 0 {
				doc.Set(f.name, node)
			} else {
				stack[len(stack)-1].obj.add(f.name, node)
			}

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, &ParseError{Err: errors.New("text outside the root element")}
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		}
	}

	if len(stack) > 0 {
		return nil, &ParseError{Err: fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].name)}
	}
	if roots == 0 {
		return nil, &ParseError{Err: errors.New("no root element")}
	}
	return doc, nil
}

// finish collapses a text-only element into a String node.
func (f *frame) finish() *Node {
	text := strings.TrimSpace(f.text.String())
	if !f.children && len(f.obj.keys) == 0 {
		return NewString(text)
	}
	if text != "" {
		f.obj.Set(TextKey, NewString(text))
	}
	return f.obj
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
