package watcher_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/injector/classify"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
	"github.com/xkilldash9x/metafill/internal/injector/watcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const page = `<html><body>
<form id="meta" class="upload-form" action="/upload">
  <input id="title" name="title">
  <textarea name="description"></textarea>
</form>
<div id="zone" class="dropzone"><span id="hint">Drop here</span></div>
<input id="photo" type="file" form="meta">
</body></html>`

type harness struct {
	doc    *dom.Document
	loop   *eventloop.Loop
	store  *registry.Store
	bus    *bus.Bus
	w      *watcher.Watcher
	events []string
	detail map[string][]any
}

func newHarness(t *testing.T, cfg watcher.Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	loop := eventloop.New(logger)
	loop.Start()
	t.Cleanup(loop.Stop)

	doc, err := dom.Parse(strings.NewReader(page), loop, dom.WithLogger(logger), dom.WithURL("https://example.test/a"))
	require.NoError(t, err)

	h := &harness{
		doc:    doc,
		loop:   loop,
		store:  registry.New(logger),
		detail: make(map[string][]any),
	}
	h.bus = bus.New(doc.Window(), "", logger)
	h.w = watcher.New(doc, h.store, classify.New(classify.DefaultVocabulary()), h.bus, cfg, logger)

	h.do(t, func() {
		for _, name := range bus.Names {
			name := name
			h.bus.Subscribe(name, func(d any) {
				h.events = append(h.events, name)
				h.detail[name] = append(h.detail[name], d)
			})
		}
	})
	t.Cleanup(func() { _ = loop.Do(h.w.Stop) })
	return h
}

// do runs fn on the loop and waits for it and its microtasks.
func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Do(fn))
}

func (h *harness) count(t *testing.T, name string) int {
	var n int
	h.do(t, func() { n = len(h.detail[name]) })
	return n
}

func (h *harness) startAndScan(t *testing.T) int {
	var n int
	h.do(t, func() {
		assert.NoError(t, h.w.Start())
		n = h.w.FullScan()
	})
	return n
}

func TestFullScan_RegistersFieldsAndForms(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())

	assert.Equal(t, 3, h.startAndScan(t))
	assert.Equal(t, 3, h.store.Len())

	h.do(t, func() {
		forms := h.detail[bus.FormRegistered]
		if assert.Len(t, forms, 1) {
			form := forms[0].(bus.FormRegisteredDetail)
			assert.Equal(t, "meta", form.FormID)
			assert.Equal(t, "/upload", form.Action)
			assert.Equal(t, []string{"title", "description", "photo"}, form.Fields)
		}
		assert.Len(t, h.detail[bus.FieldRegistered], 3)
	})
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)
	h.do(t, func() { assert.NoError(t, h.w.Start()) })
	assert.Equal(t, 3, h.count(t, bus.FieldRegistered))

	h.do(t, func() {
		assert.NoError(t, h.doc.GetElementByID("meta").SetInnerHTML(`<input id="late" name="late">`))
	})
	assert.Equal(t, 4, h.count(t, bus.FieldRegistered), "one observer, one announcement per field")
}

func TestStart_RequiresLoop(t *testing.T) {
	doc, err := dom.Parse(strings.NewReader(page), nil)
	require.NoError(t, err)
	w := watcher.New(doc, registry.New(nil), classify.New(classify.Vocabulary{}), bus.New(doc.Window(), "", nil), watcher.Config{}, nil)
	assert.ErrorIs(t, w.Start(), watcher.ErrNoLoop)
	assert.False(t, w.Active())
}

func TestMutations_RegisterNestedFields(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	h.do(t, func() {
		wrapper := h.doc.CreateElement("div")
		h.doc.Body().AppendChild(wrapper)
		assert.NoError(t, wrapper.SetInnerHTML(`<section><select id="category"><option>People</option></select></section>`))
	})

	_, ok := h.store.Get("category")
	assert.True(t, ok, "fields inside an added subtree are registered")
	assert.Equal(t, 4, h.store.Len())
}

func TestMutations_AttributeChangesOnFields(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	h.do(t, func() {
		title := h.doc.GetElementByID("title")
		title.SetAttribute("value", "Desert")
		title.SetAttribute("data-ignored", "x")
		h.doc.GetElementByID("zone").SetAttribute("class", "dropzone active")
	})

	h.do(t, func() {
		changes := h.detail[bus.FieldValueChanged]
		if !assert.Len(t, changes, 1) {
			return
		}
		assert.Equal(t, bus.FieldValueChangedDetail{
			Field:     "title",
			Attribute: "value",
			NewValue:  "Desert",
		}, changes[0])
	})
}

func TestProcess_SubscriberFailureIsContained(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.do(t, func() {
		h.bus.Subscribe(bus.FieldRegistered, func(d any) {
			if d.(bus.FieldRegisteredDetail).Key == "title" {
				panic("listener failure")
			}
		})
	})

	assert.Equal(t, 3, h.startAndScan(t))
	_, ok := h.store.Get("description")
	assert.True(t, ok)
}

func TestUploadArea_DragNesting(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	h.do(t, func() {
		zone := h.doc.GetElementByID("zone")
		hint := h.doc.GetElementByID("hint")
		drag := func(el *dom.Element, typ string) *dom.Event {
			e := dom.NewEvent(typ, dom.EventInit{Bubbles: true, Cancelable: true})
			el.DispatchEvent(e)
			return e
		}

		assert.True(t, drag(zone, "dragenter").DefaultPrevented())
		drag(hint, "dragenter")
		drag(hint, "dragleave")
		assert.True(t, drag(zone, "dragover").DefaultPrevented())
		drag(zone, "dragleave")
	})

	assert.Equal(t, 1, h.count(t, bus.DragEnter))
	assert.Equal(t, 1, h.count(t, bus.DragLeave))
}

func TestUploadArea_DropPublishesFiles(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)
	files := []dom.File{{Name: "dune.jpg", Size: 2048, Type: "image/jpeg"}}

	h.do(t, func() {
		zone := h.doc.GetElementByID("zone")
		zone.DispatchEvent(dom.NewEvent("dragenter", dom.EventInit{Bubbles: true}))
		drop := dom.NewEvent("drop", dom.EventInit{Bubbles: true, Cancelable: true, DataTransfer: &dom.DataTransfer{Files: files}})
		zone.DispatchEvent(drop)
		assert.True(t, drop.DefaultPrevented())

		// The drop ended the drag, so the next enter is reported again.
		zone.DispatchEvent(dom.NewEvent("dragenter", dom.EventInit{Bubbles: true}))
	})

	h.do(t, func() {
		drops := h.detail[bus.FileDrop]
		if !assert.Len(t, drops, 1) {
			return
		}
		assert.Equal(t, bus.FileDropDetail{Target: "zone", Files: files}, drops[0])
		assert.Len(t, h.detail[bus.DragEnter], 2)
	})
}

func TestUploadArea_EnhancedOnce(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)
	h.do(t, func() { h.w.FullScan() })

	h.do(t, func() {
		h.doc.GetElementByID("zone").DispatchEvent(dom.NewEvent("dragenter", dom.EventInit{Bubbles: true}))
	})
	assert.Equal(t, 1, h.count(t, bus.DragEnter))
}

func TestFileInput_SelectionPublished(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	h.do(t, func() {
		h.doc.GetElementByID("photo").SelectFiles(dom.File{Name: "a.png", Size: 10, Type: "image/png"})
	})

	h.do(t, func() {
		selected := h.detail[bus.FileSelected]
		if !assert.Len(t, selected, 1) {
			return
		}
		d := selected[0].(bus.FileSelectedDetail)
		assert.Equal(t, "photo", d.Field)
		assert.Equal(t, "a.png", d.Files[0].Name)
	})
}

func TestFileInput_ReattachedKeepsEnhancement(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	var photo *dom.Element
	h.do(t, func() {
		photo = h.doc.GetElementByID("photo")
		photo.Remove()
	})
	h.do(t, func() { h.doc.Body().AppendChild(photo) })
	h.do(t, func() {
		h.doc.GetElementByID("photo").SelectFiles(dom.File{Name: "a.png", Size: 10, Type: "image/png"})
	})

	assert.Equal(t, 1, h.count(t, bus.FileSelected))
}

func TestUploadArea_ReattachedKeepsEnhancement(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)

	var zone *dom.Element
	h.do(t, func() {
		zone = h.doc.GetElementByID("zone")
		zone.Remove()
	})
	h.do(t, func() { h.doc.Body().AppendChild(zone) })
	h.do(t, func() {
		zone := h.doc.GetElementByID("zone")
		zone.DispatchEvent(dom.NewEvent("dragenter", dom.EventInit{Bubbles: true}))
		zone.DispatchEvent(dom.NewEvent("drop", dom.EventInit{Bubbles: true, Cancelable: true}))
	})

	assert.Equal(t, 1, h.count(t, bus.DragEnter))
	assert.Equal(t, 1, h.count(t, bus.FileDrop))
}

func TestNavigation_PollClearsThenRescans(t *testing.T) {
	cfg := watcher.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SettleDelay = 300 * time.Millisecond
	h := newHarness(t, cfg)
	h.startAndScan(t)
	require.Equal(t, 3, h.store.Len())

	h.do(t, func() { h.doc.PushState("https://example.test/b") })

	require.Eventually(t, func() bool { return h.store.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.store.Len(), "the registry stays empty until the page settles")

	require.Eventually(t, func() bool { return h.store.Len() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestNavigation_PopStateClearsImmediately(t *testing.T) {
	cfg := watcher.DefaultConfig()
	cfg.SettleDelay = 50 * time.Millisecond
	h := newHarness(t, cfg)

	h.do(t, func() { h.doc.PushState("https://example.test/b") })
	h.startAndScan(t)
	require.Equal(t, 3, h.store.Len())

	h.do(t, func() { assert.True(t, h.doc.Back()) })
	assert.Zero(t, h.store.Len())

	require.Eventually(t, func() bool { return h.store.Len() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestStop_HaltsObservation(t *testing.T) {
	h := newHarness(t, watcher.DefaultConfig())
	h.startAndScan(t)
	h.do(t, h.w.Stop)
	h.do(t, func() { assert.False(t, h.w.Active()) })

	h.do(t, func() {
		assert.NoError(t, h.doc.Body().SetInnerHTML(`<input id="ignored">`))
	})
	_, ok := h.store.Get("ignored")
	assert.False(t, ok)
}
