package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
)

func newBus(t *testing.T) (*bus.Bus, *dom.Document) {
	t.Helper()
	doc := dom.New(nil)
	return bus.New(doc.Window(), "", zaptest.NewLogger(t)), doc
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b, _ := newBus(t)

	var order []string
	b.Subscribe(bus.FieldRegistered, func(detail any) { order = append(order, "first:"+detail.(string)) })
	b.Subscribe(bus.FieldRegistered, func(detail any) { order = append(order, "second:"+detail.(string)) })

	b.Publish(bus.FieldRegistered, "title")
	assert.Equal(t, []string{"first:title", "second:title"}, order, "publish returns after all listeners ran")
}

func TestBus_Namespacing(t *testing.T) {
	b, doc := newBus(t)
	assert.Equal(t, "arabsstock:fileDrop", b.EventType(bus.FileDrop))
	assert.Equal(t, "arabsstock:fileDrop", b.EventType("arabsstock:fileDrop"))

	var raw *dom.Event
	doc.Window().AddEventListener("arabsstock:dragEnter", func(e *dom.Event) { raw = e })
	b.Publish(bus.DragEnter, bus.DragDetail{Target: "zone"})

	if assert.NotNil(t, raw, "plain window listeners see bus events") {
		assert.True(t, raw.Bubbles)
		assert.Equal(t, bus.DragDetail{Target: "zone"}, raw.Detail)
	}

	custom := bus.New(doc.Window(), "metafill:", nil)
	assert.Equal(t, "metafill:dragEnter", custom.EventType(bus.DragEnter))
}

func TestBus_UnsubscribeAndNoReplay(t *testing.T) {
	b, _ := newBus(t)

	b.Publish(bus.FormRegistered, "before")

	var got []any
	unsubscribe := b.Subscribe(bus.FormRegistered, func(detail any) { got = append(got, detail) })
	b.Publish(bus.FormRegistered, "during")
	unsubscribe()
	b.Publish(bus.FormRegistered, "after")

	assert.Equal(t, []any{"during"}, got)
}

func TestBus_IsolatesNames(t *testing.T) {
	b, _ := newBus(t)

	count := 0
	b.Subscribe(bus.DragLeave, func(any) { count++ })
	b.Publish(bus.DragEnter, nil)
	assert.Zero(t, count)
}

func TestDragTracker_Nesting(t *testing.T) {
	var d bus.DragTracker

	assert.True(t, d.Enter(), "enter parent")
	assert.False(t, d.Enter(), "enter child")
	assert.False(t, d.Leave(), "leave child")
	assert.True(t, d.Leave(), "leave parent")
	assert.False(t, d.Leave(), "stray leave is ignored")
	assert.Zero(t, d.Depth())

	d.Enter()
	d.Enter()
	d.Reset()
	assert.True(t, d.Enter(), "a drop resets the nesting")
}
