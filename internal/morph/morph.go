// Package morph reconciles a live HTML tree against a freshly rendered
// target with a minimal set of in-place mutations.
//
// Matched nodes are patched rather than replaced so element identity, and
// with it focus and scroll state in a real browser, survives the update.
// Children are matched keyed-first by id, then pairwise by node type and tag.
// Elements whose tag name changed are replaced wholesale; no merging happens
// across tags. Reconciling identical trees performs zero mutations.
package morph

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/louisbranch/reflex/internal/dom"
)

// PermanentAttr marks an element whose subtree the reconciler never touches.
const PermanentAttr = "data-reflex-permanent"

// Stats counts the mutations one reconciliation performed.
type Stats struct {
	AttrsSet      int
	AttrsRemoved  int
	TextUpdates   int
	NodesAdded    int
	NodesRemoved  int
	NodesMoved    int
	NodesReplaced int
}

// Total returns the overall mutation count.
func (s Stats) Total() int {
	return s.AttrsSet + s.AttrsRemoved + s.TextUpdates +
		s.NodesAdded + s.NodesRemoved + s.NodesMoved + s.NodesReplaced
}

// Morph patches live in place so it matches next. The next tree is treated
// as read-only source material; nodes imported from it are deep-copied.
func Morph(live, next *html.Node) Stats {
	var stats Stats
	if live == nil || next == nil {
		return stats
	}
	patchNode(live, next, &stats)
	return stats
}

func patchNode(old, next *html.Node, stats *Stats) {
	if old.Type == html.ElementNode && dom.HasAttr(old, PermanentAttr) {
		return
	}

	switch old.Type {
	case html.TextNode, html.CommentNode:
		if old.Data != next.Data {
			old.Data = next.Data
			stats.TextUpdates++
		}
		return
	case html.ElementNode:
		patchAttrs(old, next, stats)
		patchChildren(old, next, stats)
	default:
		patchChildren(old, next, stats)
	}
}

func patchAttrs(old, next *html.Node, stats *Stats) {
	for _, attr := range next.Attr {
		if !dom.HasAttr(old, attr.Key) || dom.Attr(old, attr.Key) != attr.Val {
			dom.SetAttr(old, attr.Key, attr.Val)
			stats.AttrsSet++
		}
	}
	var stale []string
	for _, attr := range old.Attr {
		if !dom.HasAttr(next, attr.Key) {
			stale = append(stale, attr.Key)
		}
	}
	for _, key := range stale {
		dom.RemoveAttr(old, key)
		stats.AttrsRemoved++
	}
}

func patchChildren(old, next *html.Node, stats *Stats) {
	oldKids := childSlice(old)
	newKids := childSlice(next)

	// Keyed nodes match by id regardless of position.
	oldByID := make(map[string]*html.Node)
	for _, kid := range oldKids {
		if kid.Type != html.ElementNode {
			continue
		}
		if id := dom.Attr(kid, "id"); id != "" {
			oldByID[id] = kid
		}
	}

	used := make(map[*html.Node]bool)
	desired := make([]*html.Node, 0, len(newKids))
	sources := make([]*html.Node, 0, len(newKids))

	unkeyedCursor := 0
	nextUnkeyed := func(target *html.Node) *html.Node {
		for i := unkeyedCursor; i < len(oldKids); i++ {
			candidate := oldKids[i]
			if used[candidate] || hasID(candidate) {
				continue
			}
			if !sameShape(candidate, target) {
				continue
			}
			unkeyedCursor = i + 1
			return candidate
		}
		return nil
	}

	for _, kid := range newKids {
		var match *html.Node
		if kid.Type == html.ElementNode {
			if id := dom.Attr(kid, "id"); id != "" {
				// Matched by id alone; a tag change is resolved below by
				// wholesale replacement.
				if candidate, ok := oldByID[id]; ok && !used[candidate] {
					match = candidate
				}
			} else {
				match = nextUnkeyed(kid)
			}
		} else {
			match = nextUnkeyed(kid)
		}

		if match == nil {
			desired = append(desired, nil)
			sources = append(sources, kid)
			continue
		}
		used[match] = true
		desired = append(desired, match)
		sources = append(sources, kid)
	}

	// Drop old children that found no counterpart.
	for _, kid := range oldKids {
		if !used[kid] {
			old.RemoveChild(kid)
			stats.NodesRemoved++
		}
	}

	// Walk the desired order, moving or importing where the current child
	// disagrees.
	current := old.FirstChild
	for i, want := range desired {
		if want == nil {
			imported := dom.Clone(sources[i])
			old.InsertBefore(imported, current)
			stats.NodesAdded++
			continue
		}
		if want == current {
			current = current.NextSibling
		} else {
			old.RemoveChild(want)
			old.InsertBefore(want, current)
			stats.NodesMoved++
		}
		if tagMismatch(want, sources[i]) {
			replacement := dom.Clone(sources[i])
			old.InsertBefore(replacement, want)
			old.RemoveChild(want)
			stats.NodesReplaced++
			continue
		}
		patchNode(want, sources[i], stats)
	}
}

func childSlice(n *html.Node) []*html.Node {
	var kids []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		kids = append(kids, child)
	}
	return kids
}

func hasID(n *html.Node) bool {
	return n.Type == html.ElementNode && strings.TrimSpace(dom.Attr(n, "id")) != ""
}

func sameShape(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == html.ElementNode {
		return a.Data == b.Data
	}
	return true
}

func tagMismatch(old, next *html.Node) bool {
	return old.Type == html.ElementNode && next.Type == html.ElementNode && old.Data != next.Data
}
