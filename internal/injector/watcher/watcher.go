// Package watcher keeps the field registry consistent with a live document.
// It reacts to mutation batches instead of re-walking the tree, and runs a
// coarse navigation detector that resets the registry when the URL changes.
package watcher

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/injector/classify"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
)

// ErrNoLoop is returned by Start for documents that are not bound to an event loop.
var ErrNoLoop = errors.New("watcher requires a document bound to an event loop")

// Config tunes the watcher.
type Config struct {
	// PollInterval is how often the location is compared. At most one second.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// SettleDelay is the wait between detecting a navigation and re-scanning.
	// It is a heuristic: the re-scan may still see a partially rendered page.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// AttributeFilter lists the attributes whose changes are reported.
	AttributeFilter []string `mapstructure:"attribute_filter" yaml:"attribute_filter"`
}

// DefaultConfig returns the standard timings and attribute allow-list.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		SettleDelay:     time.Second,
		AttributeFilter: []string{"value", "disabled", "required", "class"},
	}
}

// Watcher observes a document for new fields, forms and drop zones.
// Every method must be called on the document's event loop.
type Watcher struct {
	doc        *dom.Document
	store      *registry.Store
	classifier *classify.Classifier
	bus        *bus.Bus
	cfg        Config
	logger     *zap.Logger

	active   bool
	observer *dom.MutationObserver
	poll     *eventloop.Timer
	settle   *eventloop.Timer
	removers []func()
	lastURL  string
}

// New creates a stopped watcher.
func New(doc *dom.Document, store *registry.Store, classifier *classify.Classifier, b *bus.Bus, cfg Config, logger *zap.Logger) *Watcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 || cfg.PollInterval > time.Second {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if len(cfg.AttributeFilter) == 0 {
		cfg.AttributeFilter = def.AttributeFilter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		doc:        doc,
		store:      store,
		classifier: classifier,
		bus:        b,
		cfg:        cfg,
		logger:     logger.Named("watcher"),
	}
}

// Active reports whether the watcher is running.
func (w *Watcher) Active() bool { return w.active }

// Start begins observing. Calling it while active does nothing.
func (w *Watcher) Start() error {
	if w.active {
		return nil
	}
	loop := w.doc.Loop()
	if loop == nil {
		return ErrNoLoop
	}

	w.observer = w.doc.NewMutationObserver(w.handleMutations)
	err := w.observer.ObserveDocument(dom.MutationObserverInit{
		ChildList:         true,
		Attributes:        true,
		Subtree:           true,
		AttributeOldValue: true,
		AttributeFilter:   w.cfg.AttributeFilter,
	})
	if err != nil {
		return err
	}

	w.lastURL = w.doc.Location()
	w.poll = loop.SetInterval(func() { w.CheckLocation() }, w.cfg.PollInterval)
	onHistory := func(*dom.Event) { w.CheckLocation() }
	w.removers = append(w.removers,
		w.doc.Window().AddEventListener("popstate", onHistory),
		w.doc.Window().AddEventListener("hashchange", onHistory),
	)

	w.active = true
	w.logger.Info("Watcher started",
		zap.String("url", w.lastURL),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("settle_delay", w.cfg.SettleDelay))
	return nil
}

// Stop disconnects the observer and cancels the timers.
func (w *Watcher) Stop() {
	if !w.active {
		return
	}
	w.observer.Disconnect()
	w.poll.Stop()
	w.settle.Stop()
	for _, remove := range w.removers {
		remove()
	}
	w.removers = nil
	w.active = false
	w.logger.Info("Watcher stopped")
}

// CheckLocation compares the current URL with the last one seen. On a change
// the registry is cleared at once and a full scan is scheduled after the
// settle delay. It reports whether a navigation was detected.
func (w *Watcher) CheckLocation() bool {
	current := w.doc.Location()
	if current == w.lastURL {
		return false
	}
	previous := w.lastURL
	w.lastURL = current

	w.store.Clear()
	w.settle.Stop()
	w.settle = w.doc.Loop().SetTimeout(func() {
		n := w.FullScan()
		w.logger.Debug("Post-navigation scan finished", zap.String("url", current), zap.Int("fields", n))
	}, w.cfg.SettleDelay)

	w.logger.Info("Navigation detected", zap.String("from", previous), zap.String("to", current))
	return true
}

// FullScan classifies every element in the document and returns the number of
// fields registered.
func (w *Watcher) FullScan() int {
	root := w.doc.DocumentElement()
	if root == nil {
		return 0
	}
	registered := 0
	for _, el := range root.Descendants() {
		if w.process(el) {
			registered++
		}
	}
	return registered
}

func (w *Watcher) handleMutations(records []dom.MutationRecord, _ *dom.MutationObserver) {
	for _, rec := range records {
		switch rec.Type {
		case dom.MutationChildList:
			for _, added := range rec.AddedElements() {
				if !added.IsConnected() {
					continue
				}
				w.process(added)
				for _, el := range added.Descendants() {
					w.process(el)
				}
			}
		case dom.MutationAttributes:
			w.attributeChanged(rec)
		}
	}
}

// process classifies one element and performs the matching registration or
// enhancement. A failure is logged and confined to this element.
func (w *Watcher) process(el *dom.Element) (registered bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Failed to process node", zap.Stringer("node", el), zap.Any("panic", r))
			registered = false
		}
	}()

	if classify.IsFormField(el) {
		if info, ok := w.store.Register(el); ok {
			registered = true
			w.bus.Publish(bus.FieldRegistered, bus.FieldRegisteredDetail{
				Key:         info.Key,
				Kind:        string(info.Kind),
				Type:        info.Type,
				Name:        info.Name,
				Placeholder: info.Placeholder,
				Label:       info.Label,
			})
		}
		if classify.KindOf(el) == classify.KindFile {
			w.enhanceFileInput(el)
		}
	}
	if w.classifier.IsTrackedForm(el) {
		w.announceForm(el)
	}
	if w.classifier.IsUploadArea(el) {
		w.enhanceUploadArea(el)
	}
	return registered
}

func (w *Watcher) announceForm(form *dom.Element) {
	var fields []string
	for _, c := range form.Elements() {
		if key := registry.KeyOf(c); key != "" && classify.IsFormField(c) {
			fields = append(fields, key)
		}
	}
	w.bus.Publish(bus.FormRegistered, bus.FormRegisteredDetail{
		FormID: form.ID(),
		Action: form.Attr("action"),
		XPath:  form.XPath(),
		Fields: fields,
	})
}

func (w *Watcher) attributeChanged(rec dom.MutationRecord) {
	el := rec.TargetElement()
	if !classify.IsFormField(el) {
		return
	}
	w.bus.Publish(bus.FieldValueChanged, bus.FieldValueChangedDetail{
		Field:     Ref(el),
		Attribute: rec.AttributeName,
		OldValue:  rec.OldValue,
		NewValue:  el.Attr(rec.AttributeName),
	})
}

// Ref names an element in event payloads: its registry key, else its XPath.
func Ref(el *dom.Element) string {
	if key := registry.KeyOf(el); key != "" {
		return key
	}
	return el.XPath()
}
