// internal/browser/dom/document.go
package dom

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"weak"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
)

// Document is a live page: an html.Node tree plus the element state, event
// listeners, mutation observers and location that a browser keeps alongside it.
//
// A Document is not safe for concurrent use. Everything that touches it must
// run on its event loop, either from a listener/timer or through Loop.Do.
type Document struct {
	logger *zap.Logger
	loop   *eventloop.Loop
	root   *html.Node

	// state is keyed weakly so it lives exactly as long as its node. Entries
	// of collected nodes are queued by a cleanup and swept on the next lookup.
	state     map[weak.Pointer[html.Node]]*nodeState
	reclaimMu sync.Mutex
	reclaimed []weak.Pointer[html.Node]

	window *Window

	listeners listenerSet
	observers []*MutationObserver
	notifying bool

	activeElement *html.Node

	history      []string
	historyIndex int

	nativeSetters bool
}

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger used for listener and observer failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Document) {
		if logger != nil {
			d.logger = logger.Named("dom")
		}
	}
}

// WithURL sets the initial location.
func WithURL(u string) Option {
	return func(d *Document) {
		d.history = []string{u}
		d.historyIndex = 0
	}
}

// WithoutNativeSetters simulates a realm where the prototype value setter
// cannot be obtained, forcing writers onto the plain assignment path.
func WithoutNativeSetters() Option {
	return func(d *Document) { d.nativeSetters = false }
}

// New creates an empty document (<html><head></head><body></body></html>).
func New(loop *eventloop.Loop, opts ...Option) *Document {
	doc, err := Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body></body></html>"), loop, opts...)
	if err != nil {
		// The literal above always parses.
		panic(fmt.Sprintf("dom: failed to build empty document: %v", err))
	}
	return doc
}

// Parse builds a Document from HTML markup.
func Parse(r io.Reader, loop *eventloop.Loop, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	d := &Document{
		logger:        zap.NewNop(),
		loop:          loop,
		root:          root,
		state:         make(map[weak.Pointer[html.Node]]*nodeState),
		listeners:     make(listenerSet),
		history:       []string{"about:blank"},
		nativeSetters: true,
	}
	d.window = &Window{doc: d, listeners: make(listenerSet), globals: make(map[string]any)}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Loop returns the event loop the document is bound to.
func (d *Document) Loop() *eventloop.Loop { return d.loop }

// Logger returns the document's logger.
func (d *Document) Logger() *zap.Logger { return d.logger }

// Window returns the global object of the page realm.
func (d *Document) Window() *Window { return d.window }

// Root returns the underlying document node.
func (d *Document) Root() *html.Node { return d.root }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *Element {
	return d.wrap(htmlquery.FindOne(d.root, "/html"))
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *Element {
	return d.wrap(htmlquery.FindOne(d.root, "//body"))
}

// ActiveElement returns the element that last received focus.
func (d *Document) ActiveElement() *Element {
	if d.activeElement == nil || !d.isConnected(d.activeElement) {
		return d.Body()
	}
	return d.wrap(d.activeElement)
}

// NativeSetters reports whether prototype value setters can be obtained in this realm.
func (d *Document) NativeSetters() bool { return d.nativeSetters }

// -- Element identity --

// nodeState is the per-node data a browser keeps outside the markup. It must
// not reference its own node, or the node could never be collected.
type nodeState struct {
	el        weak.Pointer[Element]
	listeners listenerSet

	value        string
	valueDirty   bool
	checked      bool
	checkedDirty bool

	selectedIndex int
	selectedDirty bool

	files       []File
	interceptor ValueInterceptor
}

// wrap returns the Element for n. The same wrapper is returned for as long as
// anyone holds it; state survives detaching and re-inserting the node.
func (d *Document) wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	st := d.stateFor(n)
	if el := st.el.Value(); el != nil {
		return el
	}
	el := &Element{doc: d, node: n}
	st.el = weak.Make(el)
	return el
}

// Wrap exposes wrap for packages that hold raw nodes.
func (d *Document) Wrap(n *html.Node) *Element { return d.wrap(n) }

func (d *Document) stateFor(n *html.Node) *nodeState {
	d.sweep()
	key := weak.Make(n)
	st, ok := d.state[key]
	if !ok {
		st = &nodeState{listeners: make(listenerSet)}
		d.state[key] = st
		runtime.AddCleanup(n, d.reclaim, key)
	}
	return st
}

// reclaim runs on the runtime's cleanup goroutine.
func (d *Document) reclaim(key weak.Pointer[html.Node]) {
	d.reclaimMu.Lock()
	d.reclaimed = append(d.reclaimed, key)
	d.reclaimMu.Unlock()
}

func (d *Document) sweep() {
	d.reclaimMu.Lock()
	keys := d.reclaimed
	d.reclaimed = nil
	d.reclaimMu.Unlock()
	for _, key := range keys {
		delete(d.state, key)
	}
}

// IsConnectedNode reports whether n is attached to the document. Unlike Wrap
// it never allocates state for n.
func (d *Document) IsConnectedNode(n *html.Node) bool {
	return n != nil && d.isConnected(n)
}

func (d *Document) isConnected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// detach forgets focus held inside a removed subtree.
func (d *Document) detach(n *html.Node) {
	if d.activeElement == nil {
		return
	}
	d.forEachInSubtree(n, func(c *html.Node) {
		if d.activeElement == c {
			d.activeElement = nil
		}
	})
}

func (d *Document) forEachInSubtree(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.forEachInSubtree(c, fn)
	}
}

// -- Queries --

// QuerySelector returns the first element matching the CSS selector, or nil.
// Invalid selectors are treated as matching nothing.
func (d *Document) QuerySelector(selector string) *Element {
	return d.queryOne(d.root, selector, false)
}

// QuerySelectorAll returns every element matching the CSS selector in document order.
func (d *Document) QuerySelectorAll(selector string) []*Element {
	return d.queryAll(d.root, selector, false)
}

// GetElementByID returns the element with the given id, or nil.
func (d *Document) GetElementByID(id string) *Element {
	if id == "" {
		return nil
	}
	var found *html.Node
	d.walkElements(d.root, func(n *html.Node) bool {
		if attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return d.wrap(found)
}

func (d *Document) queryOne(scope *html.Node, selector string, relative bool) *Element {
	xpath, err := TranslateSelector(selector, relative)
	if err != nil {
		d.logger.Debug("Ignoring invalid selector", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	n, err := htmlquery.Query(scope, xpath)
	if err != nil {
		d.logger.Debug("Selector query failed", zap.String("xpath", xpath), zap.Error(err))
		return nil
	}
	return d.wrap(n)
}

func (d *Document) queryAll(scope *html.Node, selector string, relative bool) []*Element {
	xpath, err := TranslateSelector(selector, relative)
	if err != nil {
		d.logger.Debug("Ignoring invalid selector", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	nodes, err := htmlquery.QueryAll(scope, xpath)
	if err != nil {
		d.logger.Debug("Selector query failed", zap.String("xpath", xpath), zap.Error(err))
		return nil
	}
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		if el := d.wrap(n); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// walkElements visits element nodes under n in document order until fn returns false.
func (d *Document) walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !fn(c) {
			return false
		}
		if !d.walkElements(c, fn) {
			return false
		}
	}
	return true
}

// CreateElement creates a detached element.
func (d *Document) CreateElement(tag string) *Element {
	n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
	return d.wrap(n)
}

// Render serializes the current tree. Live values are not reflected into attributes.
func (d *Document) Render() string {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return ""
	}
	return sb.String()
}

// -- Location and history --

// Location returns the current URL.
func (d *Document) Location() string { return d.history[d.historyIndex] }

// PushState changes the URL without reloading, like history.pushState. No event fires.
func (d *Document) PushState(u string) {
	d.history = append(d.history[:d.historyIndex+1], u)
	d.historyIndex = len(d.history) - 1
}

// ReplaceState swaps the current history entry without firing an event.
func (d *Document) ReplaceState(u string) {
	d.history[d.historyIndex] = u
}

// Back moves one entry back and fires popstate on the window.
func (d *Document) Back() bool {
	if d.historyIndex == 0 {
		return false
	}
	d.historyIndex--
	d.window.DispatchEvent(NewEvent("popstate", EventInit{}))
	return true
}

// Forward moves one entry forward and fires popstate on the window.
func (d *Document) Forward() bool {
	if d.historyIndex >= len(d.history)-1 {
		return false
	}
	d.historyIndex++
	d.window.DispatchEvent(NewEvent("popstate", EventInit{}))
	return true
}

// SetHash updates the fragment and fires hashchange when it changes.
func (d *Document) SetHash(hash string) {
	current := d.Location()
	base := current
	if i := strings.IndexByte(current, '#'); i >= 0 {
		base = current[:i]
	}
	next := base + "#" + strings.TrimPrefix(hash, "#")
	if next == current {
		return
	}
	d.PushState(next)
	d.window.DispatchEvent(NewEvent("hashchange", EventInit{}))
}

// -- Window --

// Window is the page realm's global object. It is the top of every event path
// and holds named globals such as an installed API object.
type Window struct {
	doc       *Document
	listeners listenerSet
	globals   map[string]any
}

// Document returns the window's document.
func (w *Window) Document() *Document { return w.doc }

// Get returns a global by name.
func (w *Window) Get(name string) (any, bool) {
	v, ok := w.globals[name]
	return v, ok
}

// Set assigns a global.
func (w *Window) Set(name string, v any) { w.globals[name] = v }

// Delete removes a global.
func (w *Window) Delete(name string) { delete(w.globals, name) }

// HasGlobal reports whether a global is defined.
func (w *Window) HasGlobal(name string) bool {
	_, ok := w.globals[name]
	return ok
}

// SetIfAbsent assigns a global only if the name is unused. It returns the value
// now stored under name and whether this call installed it.
func (w *Window) SetIfAbsent(name string, v any) (any, bool) {
	if existing, ok := w.globals[name]; ok {
		return existing, false
	}
	w.globals[name] = v
	return v, true
}

// -- Attribute helpers --

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
