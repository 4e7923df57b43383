// internal/browser/dom/events.go
package dom

import (
	"go.uber.org/zap"
)

// Phase is the event dispatch phase.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCapturing
	PhaseAtTarget
	PhaseBubbling
)

// File describes a file attached to a file input or a drop.
type File struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// DataTransfer carries dragged files.
type DataTransfer struct {
	Files []File
}

// EventInit holds the constructor options of an event.
type EventInit struct {
	Bubbles      bool
	Cancelable   bool
	Detail       any
	DataTransfer *DataTransfer
	// Key is set for keyboard events.
	Key string
}

// Event is a DOM event. Custom events carry their payload in Detail.
type Event struct {
	Type         string
	Bubbles      bool
	Cancelable   bool
	Detail       any
	DataTransfer *DataTransfer
	Key          string
	// IsTrusted is true for events the engine generates on behalf of the user.
	IsTrusted bool

	Target        EventTarget
	CurrentTarget EventTarget
	Phase         Phase

	defaultPrevented   bool
	propagationStopped bool
	immediateStopped   bool
}

// NewEvent constructs an untrusted event, as a script would with `new Event(...)`.
func NewEvent(typ string, init EventInit) *Event {
	return &Event{
		Type:         typ,
		Bubbles:      init.Bubbles,
		Cancelable:   init.Cancelable,
		Detail:       init.Detail,
		DataTransfer: init.DataTransfer,
		Key:          init.Key,
	}
}

// PreventDefault cancels the event if it is cancelable.
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.defaultPrevented = true
	}
}

// DefaultPrevented reports whether PreventDefault took effect.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation prevents the event from reaching further targets.
func (e *Event) StopPropagation() { e.propagationStopped = true }

// StopImmediatePropagation also skips the remaining listeners on the current target.
func (e *Event) StopImmediatePropagation() {
	e.propagationStopped = true
	e.immediateStopped = true
}

// TargetElement returns the target as an element, or nil when the target is
// the window or the document.
func (e *Event) TargetElement() *Element {
	el, _ := e.Target.(*Element)
	return el
}

// Listener handles an event.
type Listener func(e *Event)

// ListenerOption configures a listener registration.
type ListenerOption func(*listener)

// Capture registers the listener for the capture phase.
func Capture() ListenerOption { return func(l *listener) { l.capture = true } }

// Once removes the listener after its first invocation.
func Once() ListenerOption { return func(l *listener) { l.once = true } }

type listener struct {
	fn      Listener
	capture bool
	once    bool
	removed bool
}

type listenerSet map[string][]*listener

func (s listenerSet) add(typ string, fn Listener, opts []ListenerOption) func() {
	l := &listener{fn: fn}
	for _, opt := range opts {
		opt(l)
	}
	s[typ] = append(s[typ], l)
	return func() { s.remove(typ, l) }
}

func (s listenerSet) remove(typ string, l *listener) {
	l.removed = true
	list := s[typ]
	for i, candidate := range list {
		if candidate == l {
			s[typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(s[typ]) == 0 {
		delete(s, typ)
	}
}

// EventTarget is implemented by the window, the document and elements.
type EventTarget interface {
	// AddEventListener registers fn and returns a function that removes it.
	AddEventListener(typ string, fn Listener, opts ...ListenerOption) func()
	// DispatchEvent runs the event through capture, target and bubble phases.
	// It returns false if a listener canceled the event.
	DispatchEvent(e *Event) bool

	eventParent() EventTarget
	eventListeners() listenerSet
	owner() *Document
}

// -- Window, Document and Element targets --

func (w *Window) AddEventListener(typ string, fn Listener, opts ...ListenerOption) func() {
	return w.listeners.add(typ, fn, opts)
}
func (w *Window) DispatchEvent(e *Event) bool  { return dispatch(w, e) }
func (w *Window) eventParent() EventTarget     { return nil }
func (w *Window) eventListeners() listenerSet { return w.listeners }
func (w *Window) owner() *Document            { return w.doc }

func (d *Document) AddEventListener(typ string, fn Listener, opts ...ListenerOption) func() {
	return d.listeners.add(typ, fn, opts)
}
func (d *Document) DispatchEvent(e *Event) bool  { return dispatch(d, e) }
func (d *Document) eventParent() EventTarget     { return d.window }
func (d *Document) eventListeners() listenerSet { return d.listeners }
func (d *Document) owner() *Document            { return d }

func (el *Element) AddEventListener(typ string, fn Listener, opts ...ListenerOption) func() {
	return el.state().listeners.add(typ, fn, opts)
}
func (el *Element) DispatchEvent(e *Event) bool { return dispatch(el, e) }
func (el *Element) eventListeners() listenerSet { return el.state().listeners }
func (el *Element) owner() *Document            { return el.doc }

func (el *Element) eventParent() EventTarget {
	p := el.node.Parent
	if p == nil {
		return nil
	}
	if p == el.doc.root {
		return el.doc
	}
	if parent := el.doc.wrap(p); parent != nil {
		return parent
	}
	return nil
}

// dispatch implements the capture/target/bubble algorithm. Listener panics are
// recovered and logged; they never abort the dispatch.
func dispatch(target EventTarget, e *Event) bool {
	e.Target = target
	e.defaultPrevented = false
	e.propagationStopped = false
	e.immediateStopped = false

	// path[0] is the target, the last entry the outermost ancestor.
	var path []EventTarget
	for t := target; t != nil; t = t.eventParent() {
		path = append(path, t)
	}

	e.Phase = PhaseCapturing
	for i := len(path) - 1; i > 0 && !e.propagationStopped; i-- {
		invoke(path[i], e, true, false)
	}

	if !e.propagationStopped {
		e.Phase = PhaseAtTarget
		invoke(target, e, true, true)
	}

	if e.Bubbles {
		e.Phase = PhaseBubbling
		for i := 1; i < len(path) && !e.propagationStopped; i++ {
			invoke(path[i], e, false, false)
		}
	}

	e.Phase = PhaseNone
	e.CurrentTarget = nil
	return !e.defaultPrevented
}

// invoke runs the listeners of one target. At the target both capture and
// non-capture listeners run, capture listeners first.
func invoke(t EventTarget, e *Event, capture, atTarget bool) {
	set := t.eventListeners()
	list := set[e.Type]
	if len(list) == 0 {
		return
	}
	snapshot := make([]*listener, len(list))
	copy(snapshot, list)

	e.CurrentTarget = t
	run := func(wantCapture bool) {
		for _, l := range snapshot {
			if e.immediateStopped {
				return
			}
			if l.removed || l.capture != wantCapture {
				continue
			}
			if l.once {
				set.remove(e.Type, l)
			}
			callListener(t.owner(), l.fn, e)
		}
	}

	if atTarget {
		run(true)
		run(false)
		return
	}
	run(capture)
}

func callListener(doc *Document, fn Listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger := zap.NewNop()
			if doc != nil {
				logger = doc.logger
			}
			logger.Error("Event listener panicked", zap.String("type", e.Type), zap.Any("panic", r))
		}
	}()
	fn(e)
}
