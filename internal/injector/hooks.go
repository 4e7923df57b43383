package injector

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/injector/watcher"
)

// Framework names reported by detection.
const (
	FrameworkReact   = "react"
	FrameworkAngular = "angular"
	FrameworkVue     = "vue"
	FrameworkJQuery  = "jquery"
	FrameworkVanilla = "vanilla"
)

// detectFramework checks markup fingerprints and script globals, in that
// priority order per framework.
func detectFramework(doc *dom.Document, globals []GlobalProbe) string {
	hasGlobal := func(names ...string) bool {
		for _, p := range globals {
			for _, name := range names {
				if p.HasGlobal(name) {
					return true
				}
			}
		}
		return false
	}

	var react, angular, vue bool
	if root := doc.DocumentElement(); root != nil {
		for _, el := range append([]*dom.Element{root}, root.Descendants()...) {
			for _, a := range el.Node().Attr {
				switch {
				case a.Key == "data-reactroot":
					react = true
				case a.Key == "ng-app" || a.Key == "ng-version":
					angular = true
				case strings.HasPrefix(a.Key, "data-v-"):
					vue = true
				}
			}
		}
	}

	switch {
	case react || hasGlobal("React"):
		return FrameworkReact
	case angular || hasGlobal("angular", "ng"):
		return FrameworkAngular
	case vue || hasGlobal("Vue"):
		return FrameworkVue
	case hasGlobal("jQuery", "$"):
		return FrameworkJQuery
	}
	return FrameworkVanilla
}

// hookForms observes submissions and validation failures of tracked forms
// with capture-phase listeners on the document. The platform's own submit
// behaviour is left untouched.
func (a *PageAPI) hookForms() {
	a.removers = append(a.removers,
		a.doc.AddEventListener("submit", a.onSubmit, dom.Capture()),
		a.doc.AddEventListener("invalid", a.onInvalid, dom.Capture()),
	)
}

func (a *PageAPI) onSubmit(e *dom.Event) {
	form := e.TargetElement()
	if form == nil || !a.classifier.IsTrackedForm(form) {
		return
	}
	a.logger.Info("Tracked form submitted", zap.String("form", watcher.Ref(form)))
	a.bus.Publish(bus.FormSubmission, bus.FormSubmissionDetail{
		FormID: form.ID(),
		Action: form.Attr("action"),
		Data:   formData(form),
	})
}

func (a *PageAPI) onInvalid(e *dom.Event) {
	el := e.TargetElement()
	if el == nil {
		return
	}
	form := el.Form()
	if form == nil || !a.classifier.IsTrackedForm(form) {
		return
	}
	a.logger.Debug("Form validation failed", zap.Stringer("field", el))
	a.bus.Publish(bus.ValidationError, bus.ValidationErrorDetail{
		Field:   fieldName(el),
		Message: el.ValidationMessage(),
	})
}

