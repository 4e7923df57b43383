package watcher

import (
	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
)

// Marker attributes keep an element from being enhanced twice when it is
// seen again by a later scan or mutation batch. Listeners live on the node,
// so a marked node keeps its enhancement when it is removed and re-inserted.
// They read the element from CurrentTarget rather than capturing it.
const (
	markFileInput  = "data-metafill-file"
	markUploadArea = "data-metafill-drop"
)

// enhanceFileInput announces file selections made through the input.
func (w *Watcher) enhanceFileInput(el *dom.Element) {
	if el.HasAttribute(markFileInput) {
		return
	}
	el.SetAttribute(markFileInput, "")
	el.AddEventListener("change", func(e *dom.Event) {
		input, ok := e.CurrentTarget.(*dom.Element)
		if !ok {
			return
		}
		files := input.Files()
		if len(files) == 0 {
			return
		}
		w.bus.Publish(bus.FileSelected, bus.FileSelectedDetail{Field: Ref(input), Files: files})
	})
}

// enhanceUploadArea turns a drop zone's raw drag events into de-duplicated
// dragEnter/dragLeave and fileDrop announcements.
func (w *Watcher) enhanceUploadArea(el *dom.Element) {
	if el.HasAttribute(markUploadArea) {
		return
	}
	el.SetAttribute(markUploadArea, "")

	tracker := &bus.DragTracker{}
	target := Ref(el)
	el.AddEventListener("dragenter", func(e *dom.Event) {
		e.PreventDefault()
		if tracker.Enter() {
			w.bus.Publish(bus.DragEnter, bus.DragDetail{Target: target})
		}
	})
	el.AddEventListener("dragover", func(e *dom.Event) { e.PreventDefault() })
	el.AddEventListener("dragleave", func(e *dom.Event) {
		if tracker.Leave() {
			w.bus.Publish(bus.DragLeave, bus.DragDetail{Target: target})
		}
	})
	el.AddEventListener("drop", func(e *dom.Event) {
		e.PreventDefault()
		tracker.Reset()
		var files []dom.File
		if e.DataTransfer != nil {
			files = append(files, e.DataTransfer.Files...)
		}
		w.bus.Publish(bus.FileDrop, bus.FileDropDetail{Target: target, Files: files})
	})
}
