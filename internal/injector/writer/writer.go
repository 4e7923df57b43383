// Package writer reproduces what a user typing into a field would cause:
// focus, a value write that frameworks cannot swallow, and the events that
// make the framework pick the new value up.
package writer

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
)

var (
	// ErrFileInput is returned for file inputs. Browsers never allow script to
	// set their value, so retrying cannot help.
	ErrFileInput = errors.New("file inputs cannot be filled programmatically")
	// ErrNotFound is returned when a key resolves to no live element.
	ErrNotFound = errors.New("field not found")
	// ErrNotWritable is returned for elements that are not input, textarea or select.
	ErrNotWritable = errors.New("element is not a writable form field")
)

// SyntheticEvents is the order of events dispatched after every write. State
// sync (input, change) must precede validation triggers (blur).
var SyntheticEvents = []string{"input", "change", "blur", "keyup"}

// Strategy names how a text value reached the element.
type Strategy string

const (
	// StrategyNative used the prototype setter, bypassing instance interceptors.
	StrategyNative Strategy = "native-setter"
	// StrategyAssign fell back to plain property assignment.
	StrategyAssign Strategy = "assign"
	// StrategySelectIndex selected a matching option by index.
	StrategySelectIndex Strategy = "select-index"
	// StrategySelectValue fell back to assigning the select's value.
	StrategySelectValue Strategy = "select-value"
)

// Resolver maps a field key to its live element, or nil.
type Resolver interface {
	Resolve(key string) *dom.Element
}

// Writer fills fields. All methods must run on the document's event loop.
type Writer struct {
	resolver Resolver
	logger   *zap.Logger
}

// New creates a Writer that resolves keys through r.
func New(r Resolver, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{resolver: r, logger: logger.Named("writer")}
}

// Write sets value on el and dispatches the synthetic event sequence.
func (w *Writer) Write(el *dom.Element, value string) (Strategy, error) {
	if el == nil || !el.IsConnected() {
		return "", ErrNotFound
	}
	field := describe(el)

	switch el.TagName() {
	case "input":
		if el.Type() == "file" {
			w.logger.Warn("Refusing to fill file input", zap.String("field", field))
			return "", fmt.Errorf("%s: %w", field, ErrFileInput)
		}
	case "textarea", "select":
	default:
		return "", fmt.Errorf("%s: %w", field, ErrNotWritable)
	}

	el.Focus()

	var strategy Strategy
	if el.TagName() == "select" {
		strategy = selectOption(el, value)
	} else if set, ok := el.NativeValueSetter(); ok {
		set(value)
		strategy = StrategyNative
	} else {
		el.SetValue(value)
		strategy = StrategyAssign
	}

	for _, typ := range SyntheticEvents {
		el.DispatchEvent(dom.NewEvent(typ, dom.EventInit{
			Bubbles:    true,
			Cancelable: typ == "keyup",
		}))
	}

	w.logger.Debug("Filled field", zap.String("field", field), zap.String("strategy", string(strategy)))
	return strategy, nil
}

// selectOption picks the option whose value or trimmed text equals value
// exactly. Without a match the select's value is assigned directly, which
// may leave nothing selected.
func selectOption(el *dom.Element, value string) Strategy {
	for i, opt := range el.Options() {
		if opt.OptionValue() == value || strings.TrimSpace(opt.TextContent()) == value {
			el.SetSelectedIndex(i)
			return StrategySelectIndex
		}
	}
	el.SetValue(value)
	return StrategySelectValue
}

// WriteField resolves key and writes value to it.
func (w *Writer) WriteField(key, value string) error {
	el := w.resolver.Resolve(key)
	if el == nil {
		w.logger.Debug("Field not found", zap.String("field", key))
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	_, err := w.Write(el, value)
	return err
}

// WriteMany writes every entry independently and reports success per key.
func (w *Writer) WriteMany(values map[string]string) map[string]bool {
	results := make(map[string]bool, len(values))
	for _, key := range slices.Sorted(maps.Keys(values)) {
		err := w.WriteField(key, values[key])
		if err != nil && !errors.Is(err, ErrNotFound) {
			w.logger.Warn("Field write failed", zap.String("field", key), zap.Error(err))
		}
		results[key] = err == nil
	}
	return results
}

func describe(el *dom.Element) string {
	if id := el.ID(); id != "" {
		return id
	}
	if name := el.Name(); name != "" {
		return name
	}
	return el.XPath()
}
