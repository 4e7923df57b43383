// Package bus is the in-page event bus: namespaced custom events dispatched on
// the page's window. It is the only channel page-realm code has to announce
// state, and anything else sharing the window (the content bridge, page
// scripts) can listen to it.
package bus

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
)

// DefaultNamespace prefixes every event name.
const DefaultNamespace = "arabsstock:"

// Event names, without the namespace.
const (
	FieldRegistered   = "fieldRegistered"
	FormRegistered    = "formRegistered"
	FileSelected      = "fileSelected"
	FileDrop          = "fileDrop"
	DragEnter         = "dragEnter"
	DragLeave         = "dragLeave"
	FormSubmission    = "formSubmission"
	ValidationError   = "validationError"
	FieldValueChanged = "fieldValueChanged"
)

// Names lists every event the injector publishes.
var Names = []string{
	FieldRegistered, FormRegistered, FileSelected, FileDrop, DragEnter,
	DragLeave, FormSubmission, ValidationError, FieldValueChanged,
}

// Handler receives the detail payload of an event.
type Handler func(detail any)

// Bus publishes and subscribes to namespaced events on a window. Delivery is
// synchronous and in subscription order; there is no replay for late
// subscribers. Like the window it wraps, a Bus is used from the event loop only.
type Bus struct {
	window    *dom.Window
	namespace string
	logger    *zap.Logger
}

// New creates a bus on window. An empty namespace uses DefaultNamespace.
func New(window *dom.Window, namespace string, logger *zap.Logger) *Bus {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{window: window, namespace: namespace, logger: logger.Named("bus")}
}

// Namespace returns the prefix applied to event names.
func (b *Bus) Namespace() string { return b.namespace }

// EventType returns the full event type for name.
func (b *Bus) EventType(name string) string {
	if strings.HasPrefix(name, b.namespace) {
		return name
	}
	return b.namespace + name
}

// Publish dispatches a bubbling custom event carrying detail. It returns after
// every listener has run.
func (b *Bus) Publish(name string, detail any) {
	typ := b.EventType(name)
	if ce := b.logger.Check(zap.DebugLevel, "Publishing event"); ce != nil {
		ce.Write(zap.String("event", typ), zap.String("event_id", uuid.NewString()))
	}
	b.window.DispatchEvent(dom.NewEvent(typ, dom.EventInit{Bubbles: true, Detail: detail}))
}

// Subscribe attaches handler to name and returns a function that detaches it.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	return b.window.AddEventListener(b.EventType(name), func(e *dom.Event) {
		handler(e.Detail)
	})
}
