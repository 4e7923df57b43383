// internal/browser/dom/element.go
package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Element wraps an element node of a Document. The same node yields the same
// *Element for as long as the wrapper is reachable.
type Element struct {
	doc  *Document
	node *html.Node
}

// Node returns the underlying html.Node.
func (el *Element) Node() *html.Node { return el.node }

// Document returns the owning document.
func (el *Element) Document() *Document { return el.doc }

func (el *Element) state() *nodeState { return el.doc.stateFor(el.node) }

// TagName returns the lower-case tag name.
func (el *Element) TagName() string { return el.node.Data }

// ID returns the id attribute.
func (el *Element) ID() string { return attr(el.node, "id") }

// Name returns the name attribute.
func (el *Element) Name() string { return attr(el.node, "name") }

// ClassName returns the raw class attribute.
func (el *Element) ClassName() string { return attr(el.node, "class") }

// ClassList returns the individual class tokens.
func (el *Element) ClassList() []string { return strings.Fields(el.ClassName()) }

// HasClass reports whether the class list contains name exactly.
func (el *Element) HasClass(name string) bool {
	for _, c := range el.ClassList() {
		if c == name {
			return true
		}
	}
	return false
}

// IsConnected reports whether the element is attached to its document.
func (el *Element) IsConnected() bool { return el.doc.isConnected(el.node) }

// Parent returns the parent element, or nil for the root or a detached subtree.
func (el *Element) Parent() *Element { return el.doc.wrap(el.node.Parent) }

// Closest returns the nearest inclusive ancestor with the given tag.
func (el *Element) Closest(tag string) *Element {
	for n := el.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.Data == tag {
			return el.doc.wrap(n)
		}
	}
	return nil
}

// Contains reports whether other is el or a descendant of el.
func (el *Element) Contains(other *Element) bool {
	if other == nil {
		return false
	}
	for n := other.node; n != nil; n = n.Parent {
		if n == el.node {
			return true
		}
	}
	return false
}

// TextContent returns the concatenated text of the element's descendants.
func (el *Element) TextContent() string { return htmlquery.InnerText(el.node) }

// -- Attributes --

// GetAttribute returns an attribute value and whether it is present.
func (el *Element) GetAttribute(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range el.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Attr returns an attribute value or "".
func (el *Element) Attr(name string) string {
	v, _ := el.GetAttribute(name)
	return v
}

// HasAttribute reports whether the attribute is present.
func (el *Element) HasAttribute(name string) bool {
	_, ok := el.GetAttribute(name)
	return ok
}

// SetAttribute sets an attribute and queues an attributes mutation record.
func (el *Element) SetAttribute(name, value string) {
	name = strings.ToLower(name)
	old, existed := el.GetAttribute(name)
	if existed {
		for i := range el.node.Attr {
			if el.node.Attr[i].Key == name {
				el.node.Attr[i].Val = value
				break
			}
		}
	} else {
		el.node.Attr = append(el.node.Attr, html.Attribute{Key: name, Val: value})
	}
	el.doc.recordAttribute(el, name, old, existed)
}

// RemoveAttribute removes an attribute if present.
func (el *Element) RemoveAttribute(name string) {
	name = strings.ToLower(name)
	for i, a := range el.node.Attr {
		if a.Key == name {
			el.node.Attr = append(el.node.Attr[:i], el.node.Attr[i+1:]...)
			el.doc.recordAttribute(el, name, a.Val, true)
			return
		}
	}
}

// -- Tree manipulation --

// AppendChild moves child to the end of el's children.
func (el *Element) AppendChild(child *Element) {
	el.InsertBefore(child, nil)
}

// InsertBefore inserts child before ref, or appends when ref is nil.
func (el *Element) InsertBefore(child, ref *Element) {
	if child == nil {
		return
	}
	if ref != nil && ref.node.Parent != el.node {
		panic(fmt.Errorf("insertBefore: the reference node is not a child of this node"))
	}
	if child.node.Parent != nil {
		child.Remove()
	}
	var refNode *html.Node
	if ref != nil {
		refNode = ref.node
	}
	el.node.InsertBefore(child.node, refNode)
	el.doc.recordChildList(el.node, []*html.Node{child.node}, nil)
}

// RemoveChild detaches child from el.
func (el *Element) RemoveChild(child *Element) {
	if child == nil || child.node.Parent != el.node {
		return
	}
	el.node.RemoveChild(child.node)
	el.doc.detach(child.node)
	el.doc.recordChildList(el.node, nil, []*html.Node{child.node})
}

// Remove detaches the element from its parent.
func (el *Element) Remove() {
	p := el.node.Parent
	if p == nil {
		return
	}
	p.RemoveChild(el.node)
	el.doc.detach(el.node)
	el.doc.recordChildList(p, nil, []*html.Node{el.node})
}

// SetInnerHTML replaces the children with parsed markup. One childList record
// covers both the removed and the added nodes.
func (el *Element) SetInnerHTML(markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), el.node)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	var removed []*html.Node
	for c := el.node.FirstChild; c != nil; {
		next := c.NextSibling
		el.node.RemoveChild(c)
		el.doc.detach(c)
		removed = append(removed, c)
		c = next
	}
	for _, n := range nodes {
		el.node.AppendChild(n)
	}
	el.doc.recordChildList(el.node, nodes, removed)
	return nil
}

// InnerHTML serializes the element's children.
func (el *Element) InnerHTML() string {
	var sb strings.Builder
	for c := el.node.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}

// QuerySelector returns the first descendant matching selector, or nil.
func (el *Element) QuerySelector(selector string) *Element {
	return el.doc.queryOne(el.node, selector, true)
}

// QuerySelectorAll returns all descendants matching selector.
func (el *Element) QuerySelectorAll(selector string) []*Element {
	return el.doc.queryAll(el.node, selector, true)
}

// Children returns the element children.
func (el *Element) Children() []*Element {
	var out []*Element
	for c := el.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, el.doc.wrap(c))
		}
	}
	return out
}

// Descendants returns all element descendants in document order.
func (el *Element) Descendants() []*Element {
	var out []*Element
	el.doc.walkElements(el.node, func(n *html.Node) bool {
		out = append(out, el.doc.wrap(n))
		return true
	})
	return out
}

// String returns a short description such as input#title.
func (el *Element) String() string {
	var sb strings.Builder
	sb.WriteString(el.node.Data)
	if id := el.ID(); id != "" {
		sb.WriteString("#" + id)
	} else if name := el.Name(); name != "" {
		sb.WriteString(fmt.Sprintf("[name=%q]", name))
	}
	return sb.String()
}
