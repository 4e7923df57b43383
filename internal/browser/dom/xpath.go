// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns a locator for the element that is stable enough for logs and
// reports. An ancestor with an id anchors the path.
func (el *Element) XPath() string {
	if el == nil {
		return ""
	}
	return NodeXPath(el.node)
}

// NodeXPath builds an XPath for node, stopping at the closest ancestor that has
// an id. Indices are 1-based and count same-tag siblings only.
func NodeXPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode || n.Data == "" {
			continue
		}
		tag := strings.ToLower(n.Data)
		if id := attr(n, "id"); id != "" {
			path = append(path, "//*[@id="+xpathLiteral(id)+"]")
			break
		}

		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//") {
		xpath = "/" + xpath
	}
	return xpath
}
