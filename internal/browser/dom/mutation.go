// internal/browser/dom/mutation.go
package dom

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Mutation record types.
const (
	MutationChildList  = "childList"
	MutationAttributes = "attributes"
)

// MutationRecord describes one change to the tree.
type MutationRecord struct {
	Type          string
	Target        *html.Node
	AddedNodes    []*html.Node
	RemovedNodes  []*html.Node
	AttributeName string
	OldValue      string

	doc *Document
}

// TargetElement returns the mutated element, or nil if the target is the document node.
func (r MutationRecord) TargetElement() *Element { return r.doc.wrap(r.Target) }

// AddedElements returns the added nodes that are elements.
func (r MutationRecord) AddedElements() []*Element {
	out := make([]*Element, 0, len(r.AddedNodes))
	for _, n := range r.AddedNodes {
		if el := r.doc.wrap(n); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// MutationObserverInit selects which changes an observer receives.
type MutationObserverInit struct {
	ChildList         bool
	Attributes        bool
	Subtree           bool
	AttributeOldValue bool
	// AttributeFilter restricts attribute records to these names when non-empty.
	AttributeFilter []string
}

// MutationCallback receives a batch of records in the order they were queued.
type MutationCallback func(records []MutationRecord, observer *MutationObserver)

// ErrInvalidObserverInit is returned when neither childList nor attributes is requested.
var ErrInvalidObserverInit = errors.New("observer must request childList or attributes")

// MutationObserver batches mutation records and delivers them as a microtask.
type MutationObserver struct {
	doc           *Document
	callback      MutationCallback
	registrations map[*html.Node]MutationObserverInit
	pending       []MutationRecord
}

// NewMutationObserver creates an observer that is not yet observing anything.
func (d *Document) NewMutationObserver(cb MutationCallback) *MutationObserver {
	return &MutationObserver{
		doc:           d,
		callback:      cb,
		registrations: make(map[*html.Node]MutationObserverInit),
	}
}

// Observe starts (or reconfigures) observation of target.
func (o *MutationObserver) Observe(target *html.Node, init MutationObserverInit) error {
	if !init.ChildList && !init.Attributes {
		return ErrInvalidObserverInit
	}
	if len(o.registrations) == 0 {
		o.doc.observers = append(o.doc.observers, o)
	}
	o.registrations[target] = init
	return nil
}

// ObserveDocument observes the whole document.
func (o *MutationObserver) ObserveDocument(init MutationObserverInit) error {
	return o.Observe(o.doc.root, init)
}

// Disconnect stops observation and drops undelivered records.
func (o *MutationObserver) Disconnect() {
	o.registrations = make(map[*html.Node]MutationObserverInit)
	o.pending = nil
	for i, candidate := range o.doc.observers {
		if candidate == o {
			o.doc.observers = append(o.doc.observers[:i:i], o.doc.observers[i+1:]...)
			break
		}
	}
}

// TakeRecords returns and clears the undelivered records.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	records := o.pending
	o.pending = nil
	return records
}

func (o *MutationObserver) interested(rec MutationRecord) (MutationObserverInit, bool) {
	for target, init := range o.registrations {
		if target != rec.Target && !(init.Subtree && isAncestor(target, rec.Target)) {
			continue
		}
		switch rec.Type {
		case MutationChildList:
			if init.ChildList {
				return init, true
			}
		case MutationAttributes:
			if !init.Attributes {
				continue
			}
			if len(init.AttributeFilter) == 0 {
				return init, true
			}
			for _, name := range init.AttributeFilter {
				if name == rec.AttributeName {
					return init, true
				}
			}
		}
	}
	return MutationObserverInit{}, false
}

func isAncestor(ancestor, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// -- Recording --

func (d *Document) recordChildList(target *html.Node, added, removed []*html.Node) {
	d.queueRecord(MutationRecord{
		Type:         MutationChildList,
		Target:       target,
		AddedNodes:   added,
		RemovedNodes: removed,
	})
}

func (d *Document) recordAttribute(el *Element, name, old string, existed bool) {
	rec := MutationRecord{
		Type:          MutationAttributes,
		Target:        el.node,
		AttributeName: name,
	}
	if existed {
		rec.OldValue = old
	}
	d.queueRecord(rec)
}

func (d *Document) queueRecord(rec MutationRecord) {
	if len(d.observers) == 0 {
		return
	}
	rec.doc = d
	queued := false
	for _, o := range d.observers {
		init, ok := o.interested(rec)
		if !ok {
			continue
		}
		r := rec
		if r.Type == MutationAttributes && !init.AttributeOldValue {
			r.OldValue = ""
		}
		o.pending = append(o.pending, r)
		queued = true
	}
	if !queued || d.notifying {
		return
	}
	d.notifying = true
	if d.loop == nil {
		d.notifyObservers()
		return
	}
	d.loop.QueueMicrotask(d.notifyObservers)
}

// notifyObservers delivers each observer's pending batch. Records produced by
// a callback are delivered in a following round of the same microtask.
func (d *Document) notifyObservers() {
	defer func() { d.notifying = false }()
	for round := 0; round < 64; round++ {
		delivered := false
		observers := make([]*MutationObserver, len(d.observers))
		copy(observers, d.observers)
		for _, o := range observers {
			records := o.TakeRecords()
			if len(records) == 0 {
				continue
			}
			delivered = true
			d.deliver(o, records)
		}
		if !delivered {
			return
		}
	}
	d.logger.Warn("Mutation delivery did not settle; dropping remaining records")
	for _, o := range d.observers {
		o.pending = nil
	}
}

func (d *Document) deliver(o *MutationObserver, records []MutationRecord) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Mutation callback panicked", zap.Any("panic", r), zap.Int("records", len(records)))
		}
	}()
	o.callback(records, o)
}
