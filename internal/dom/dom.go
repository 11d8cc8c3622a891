// Package dom wraps golang.org/x/net/html with the document operations the
// invocation client and the page reconciler need: element lookup by id,
// live dataset reads, and fragment parsing.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DataPrefix marks the attributes snapshotted into invocation requests.
const DataPrefix = "data-"

// Document owns a parsed HTML tree. Lookups walk the live tree so reads
// observe mutations made by the reconciler.
type Document struct {
	root *html.Node
}

// Parse parses a full HTML document.
func Parse(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseFragment parses an HTML fragment in body context and returns its
// top-level nodes.
func ParseFragment(src string) ([]*html.Node, error) {
	body := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// Root returns the document root node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Body returns the document body element, or nil when absent.
func (d *Document) Body() *html.Node {
	return findElement(d.root, func(n *html.Node) bool {
		return n.DataAtom == atom.Body
	})
}

// ElementByID walks the live tree for the element with the given id.
func (d *Document) ElementByID(id string) *html.Node {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return findElement(d.root, func(n *html.Node) bool {
		return Attr(n, "id") == id
	})
}

// Render serializes the document back to HTML.
func (d *Document) Render() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return sb.String(), nil
}

// FindByID walks a subtree for the element with the given id.
func FindByID(root *html.Node, id string) *html.Node {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return findElement(root, func(n *html.Node) bool {
		return Attr(n, "id") == id
	})
}

func findElement(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && match(root) {
		return root
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, match); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of an attribute, or "" when absent.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present, even when empty.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute value.
func SetAttr(n *html.Node, key, value string) {
	if n == nil {
		return
	}
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

// RemoveAttr deletes an attribute when present.
func RemoveAttr(n *html.Node, key string) {
	if n == nil {
		return
	}
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// Dataset snapshots the element's data-* attributes as a key-value mapping
// with the prefix stripped. The read reflects the element's current state,
// not any earlier binding time.
func Dataset(n *html.Node) map[string]string {
	if n == nil {
		return nil
	}
	attrs := make(map[string]string)
	for _, attr := range n.Attr {
		if strings.HasPrefix(attr.Key, DataPrefix) {
			attrs[strings.TrimPrefix(attr.Key, DataPrefix)] = attr.Val
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// Text concatenates the text content beneath a node.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// Clone deep-copies a node and its subtree, detached from any parent.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	copied := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	copied.Attr = append([]html.Attribute(nil), n.Attr...)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		copied.AppendChild(Clone(child))
	}
	return copied
}
