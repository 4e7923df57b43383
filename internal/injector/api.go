package injector

import (
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/injector/classify"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
	"github.com/xkilldash9x/metafill/internal/injector/watcher"
	"github.com/xkilldash9x/metafill/internal/injector/writer"
)

// PageAPI is the object exposed to the page. Its methods run on the event
// loop, the way page scripts call it; Injector wraps it for other goroutines.
type PageAPI struct {
	doc        *dom.Document
	store      *registry.Store
	classifier *classify.Classifier
	bus        *bus.Bus
	writer     *writer.Writer
	watcher    *watcher.Watcher
	logger     *zap.Logger

	framework string
	removers  []func()
}

// ValidationError is one failing control reported by ValidateForm.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of ValidateForm.
type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  []ValidationError `json:"errors"`
}

func (a *PageAPI) Document() *dom.Document   { return a.doc }
func (a *PageAPI) Store() *registry.Store    { return a.store }
func (a *PageAPI) Bus() *bus.Bus             { return a.bus }
func (a *PageAPI) Watcher() *watcher.Watcher { return a.watcher }

// Framework returns the detected front-end framework.
func (a *PageAPI) Framework() string { return a.framework }

// GetFormFields returns a snapshot of every tracked field by key.
func (a *PageAPI) GetFormFields() map[string]registry.FieldInfo {
	out := make(map[string]registry.FieldInfo, a.store.Len())
	for _, f := range a.store.All() {
		out[f.Key] = f
	}
	return out
}

// FindFields returns the tracked fields matching every supplied criterion.
func (a *PageAPI) FindFields(c registry.Criteria) map[string]registry.FieldInfo {
	return a.store.Find(c)
}

// FillField writes value into the field with the given key. Fields the
// registry has not seen are looked up by id, then by name.
func (a *PageAPI) FillField(fieldID, value string) bool {
	err := a.writer.WriteField(fieldID, value)
	if err != nil && !errors.Is(err, writer.ErrNotFound) {
		a.logger.Warn("Failed to fill field", zap.String("field", fieldID), zap.Error(err))
	}
	return err == nil
}

// FillFields fills each entry independently and reports per-key success.
func (a *PageAPI) FillFields(values map[string]string) map[string]bool {
	return a.writer.WriteMany(values)
}

// fieldResolver resolves registered keys first, then untracked fields by id
// and finally by name.
type fieldResolver struct {
	doc   *dom.Document
	store *registry.Store
}

func (r fieldResolver) Resolve(key string) *dom.Element {
	if el := r.store.Resolve(key); el != nil {
		return el
	}
	if key == "" {
		return nil
	}
	if el := r.doc.GetElementByID(key); el != nil && classify.IsFormField(el) {
		return el
	}
	for _, el := range r.doc.QuerySelectorAll("input, textarea, select") {
		if el.Name() == key {
			return el
		}
	}
	return nil
}

// GetFormData returns the data set of the form matching selector, or nil when
// no form matches.
func (a *PageAPI) GetFormData(selector string) map[string]string {
	form := a.form(selector)
	if form == nil {
		return nil
	}
	return formData(form)
}

func formData(form *dom.Element) map[string]string {
	data := make(map[string]string)
	for _, entry := range form.FormEntries() {
		data[entry.Name] = entry.Value
	}
	return data
}

// ValidateForm runs native validation over the form matching selector. Each
// failing control receives an invalid event. It returns nil when no form matches.
func (a *PageAPI) ValidateForm(selector string) *ValidationResult {
	form := a.form(selector)
	if form == nil {
		return nil
	}
	result := &ValidationResult{IsValid: true, Errors: []ValidationError{}}
	for _, el := range form.Elements() {
		msg := el.ValidationMessage()
		if msg == "" || el.CheckValidity() {
			continue
		}
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{Field: fieldName(el), Message: msg})
	}
	return result
}

func (a *PageAPI) form(selector string) *dom.Element {
	el := a.doc.QuerySelector(selector)
	if el == nil || el.TagName() != "form" {
		return nil
	}
	return el
}

// fieldName prefers the name attribute, which is what a submission carries.
func fieldName(el *dom.Element) string {
	if name := el.Name(); name != "" {
		return name
	}
	return el.ID()
}

// SimulateUserInput writes value into el with the full synthetic event sequence.
func (a *PageAPI) SimulateUserInput(el *dom.Element, value string) bool {
	if _, err := a.writer.Write(el, value); err != nil {
		a.logger.Debug("Simulated input rejected", zap.Stringer("element", el), zap.Error(err))
		return false
	}
	return true
}

// Uninstall stops observation, detaches the form hooks and removes the global.
func (a *PageAPI) Uninstall() {
	a.watcher.Stop()
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	if v, ok := a.doc.Window().Get(GlobalName); ok && v == a {
		a.doc.Window().Delete(GlobalName)
	}
	a.logger.Info("Injector uninstalled")
}
