package injector

import (
	"errors"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
)

// ErrNoLoop is returned by Install for documents without an event loop.
var ErrNoLoop = errors.New("injector requires a document bound to an event loop")

// Injector is a goroutine-safe handle on an installed PageAPI. Every call is
// marshalled onto the page's event loop and waits for it, so it must not be
// used from the loop itself; code already on the loop uses the PageAPI.
type Injector struct {
	loop *eventloop.Loop
	api  *PageAPI
}

// Install attaches the API to doc from outside the event loop. Installing on a
// page that already carries the API returns a handle on the existing one.
func Install(doc *dom.Document, opts ...Option) (*Injector, error) {
	loop := doc.Loop()
	if loop == nil {
		return nil, ErrNoLoop
	}
	var (
		api *PageAPI
		err error
	)
	if doErr := loop.Do(func() { api, _, err = Attach(doc, opts...) }); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return &Injector{loop: loop, api: api}, nil
}

// Do runs fn with the PageAPI on the event loop.
func (i *Injector) Do(fn func(api *PageAPI)) error {
	return i.loop.Do(func() { fn(i.api) })
}

func (i *Injector) GetFormFields() (fields map[string]registry.FieldInfo, err error) {
	err = i.Do(func(api *PageAPI) { fields = api.GetFormFields() })
	return fields, err
}

func (i *Injector) FindFields(c registry.Criteria) (fields map[string]registry.FieldInfo, err error) {
	err = i.Do(func(api *PageAPI) { fields = api.FindFields(c) })
	return fields, err
}

func (i *Injector) FillField(fieldID, value string) (ok bool, err error) {
	err = i.Do(func(api *PageAPI) { ok = api.FillField(fieldID, value) })
	return ok, err
}

func (i *Injector) FillFields(values map[string]string) (results map[string]bool, err error) {
	err = i.Do(func(api *PageAPI) { results = api.FillFields(values) })
	return results, err
}

func (i *Injector) GetFormData(selector string) (data map[string]string, err error) {
	err = i.Do(func(api *PageAPI) { data = api.GetFormData(selector) })
	return data, err
}

func (i *Injector) ValidateForm(selector string) (result *ValidationResult, err error) {
	err = i.Do(func(api *PageAPI) { result = api.ValidateForm(selector) })
	return result, err
}

// SimulateUserInput writes into the first element matching selector.
func (i *Injector) SimulateUserInput(selector, value string) (ok bool, err error) {
	err = i.Do(func(api *PageAPI) {
		if el := api.doc.QuerySelector(selector); el != nil {
			ok = api.SimulateUserInput(el, value)
		}
	})
	return ok, err
}

func (i *Injector) GetUploadStatus() (status UploadStatus, err error) {
	err = i.Do(func(api *PageAPI) { status = api.GetUploadStatus() })
	return status, err
}

func (i *Injector) Framework() string { return i.api.framework }

// Uninstall removes the API from the page.
func (i *Injector) Uninstall() error {
	return i.Do(func(api *PageAPI) { api.Uninstall() })
}
