// Package registry keeps the Field Descriptor Store: what the injector knows
// about each tracked form field on the current page view.
package registry

import (
	"sort"
	"strings"
	"sync"
	"weak"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/classify"
)

// FieldInfo is the metadata snapshot of a tracked field. Values handed out by
// the Store are copies; changing them has no effect on the Store.
type FieldInfo struct {
	Key         string        `json:"key"`
	Kind        classify.Kind `json:"kind"`
	Type        string        `json:"type"`
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	Label       string        `json:"label,omitempty"`
	Required    bool          `json:"required"`
	XPath       string        `json:"xpath"`
}

// Criteria filters Find. Empty members impose no constraint; all supplied
// members must match. Substring matches ignore case.
type Criteria struct {
	Type                string `json:"type,omitempty"`
	NameContains        string `json:"nameContains,omitempty"`
	PlaceholderContains string `json:"placeholderContains,omitempty"`
	LabelContains       string `json:"labelContains,omitempty"`
}

type descriptor struct {
	info FieldInfo
	doc  *dom.Document
	// ref does not keep the node alive; a collected or detached node makes
	// the descriptor stale.
	ref weak.Pointer[html.Node]
}

// Store is a keyed registry of field descriptors, at most one per key. It is
// owned by one page view and cleared when that view navigates away.
type Store struct {
	logger *zap.Logger

	mu     sync.RWMutex
	fields map[string]*descriptor
}

// New creates an empty Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger.Named("registry"),
		fields: make(map[string]*descriptor),
	}
}

// KeyOf returns the registry key for el: its id, else its name, else "".
func KeyOf(el *dom.Element) string {
	if el == nil {
		return ""
	}
	if id := el.ID(); id != "" {
		return id
	}
	return el.Name()
}

// Register computes a descriptor from a live element and upserts it by key.
// Elements with neither id nor name are ignored and ok is false.
func (s *Store) Register(el *dom.Element) (info FieldInfo, ok bool) {
	key := KeyOf(el)
	if key == "" {
		return FieldInfo{}, false
	}

	info = FieldInfo{
		Key:         key,
		Kind:        classify.KindOf(el),
		Type:        el.Type(),
		ID:          el.ID(),
		Name:        el.Name(),
		Placeholder: el.Attr("placeholder"),
		Label:       LabelFor(el),
		Required:    el.Required(),
		XPath:       el.XPath(),
	}

	s.mu.Lock()
	_, replaced := s.fields[key]
	s.fields[key] = &descriptor{info: info, doc: el.Document(), ref: weak.Make(el.Node())}
	s.mu.Unlock()

	s.logger.Debug("Registered field",
		zap.String("key", key),
		zap.String("kind", string(info.Kind)),
		zap.Bool("replaced", replaced))
	return info, true
}

// Get returns the metadata for key.
func (s *Store) Get(key string) (FieldInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.fields[key]
	if !ok {
		return FieldInfo{}, false
	}
	return d.info, true
}

// Resolve returns the live element for key, or nil when the key is unknown or
// its node has been collected or detached from the document.
func (s *Store) Resolve(key string) *dom.Element {
	s.mu.RLock()
	d, ok := s.fields[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	node := d.ref.Value()
	if node == nil || !d.doc.IsConnectedNode(node) {
		return nil
	}
	return d.doc.Wrap(node)
}

// Find returns copies of the descriptors that satisfy every supplied criterion.
// The result is never nil.
func (s *Store) Find(c Criteria) map[string]FieldInfo {
	out := make(map[string]FieldInfo)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, d := range s.fields {
		if c.matches(d.info) {
			out[key] = d.info
		}
	}
	return out
}

func (c Criteria) matches(f FieldInfo) bool {
	if c.Type != "" && !strings.EqualFold(c.Type, f.Type) && !strings.EqualFold(c.Type, string(f.Kind)) {
		return false
	}
	return containsFold(f.Name, c.NameContains) &&
		containsFold(f.Placeholder, c.PlaceholderContains) &&
		containsFold(f.Label, c.LabelContains)
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// All returns copies of every descriptor ordered by key.
func (s *Store) All() []FieldInfo {
	s.mu.RLock()
	out := make([]FieldInfo, 0, len(s.fields))
	for _, d := range s.fields {
		out = append(out, d.info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of descriptors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fields)
}

// Clear drops every descriptor.
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.fields)
	s.fields = make(map[string]*descriptor)
	s.mu.Unlock()
	s.logger.Debug("Cleared field registry", zap.Int("dropped", n))
}

// LabelFor resolves a best-effort label: a <label for=id>, an enclosing
// <label>, then aria-label. Whitespace is collapsed.
func LabelFor(el *dom.Element) string {
	if id := el.ID(); id != "" {
		for _, label := range el.Document().QuerySelectorAll("label") {
			if label.Attr("for") == id {
				return collapse(label.TextContent())
			}
		}
	}
	if label := el.Closest("label"); label != nil {
		return collapse(label.TextContent())
	}
	return collapse(el.Attr("aria-label"))
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
