// internal/browser/jsbind/api.go
package jsbind

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
)

// Install attaches the injector to the realm's document and publishes the API
// object to scripts as window.arabsStockAPI. Framework globals defined by
// scripts that already ran are visible to detection. Re-installing returns the
// existing API and leaves the script global untouched.
func (r *Realm) Install(opts ...injector.Option) (*injector.PageAPI, error) {
	api, _, err := injector.Attach(r.doc, append(opts, injector.WithGlobals(r))...)
	if err != nil {
		return nil, err
	}
	if r.HasGlobal(injector.GlobalName) {
		return api, nil
	}
	r.set(r.vm.GlobalObject(), injector.GlobalName, r.apiObject(api))
	r.logger.Debug("API bound to script realm", zap.String("global", injector.GlobalName))
	return api, nil
}

func (r *Realm) apiObject(api *injector.PageAPI) *goja.Object {
	o := r.vm.NewObject()
	r.set(o, "getFormFields", func(goja.FunctionCall) goja.Value {
		return r.vm.ToValue(api.GetFormFields())
	})
	r.set(o, "findFields", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(api.FindFields(r.criteria(call.Argument(0))))
	})
	r.set(o, "fillField", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(api.FillField(call.Argument(0).String(), call.Argument(1).String()))
	})
	r.set(o, "fillFields", func(call goja.FunctionCall) goja.Value {
		values := make(map[string]string)
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			obj := arg.ToObject(r.vm)
			for _, k := range obj.Keys() {
				values[k] = obj.Get(k).String()
			}
		}
		return r.vm.ToValue(api.FillFields(values))
	})
	r.set(o, "getFormData", func(call goja.FunctionCall) goja.Value {
		data := api.GetFormData(call.Argument(0).String())
		if data == nil {
			return goja.Null()
		}
		return r.vm.ToValue(data)
	})
	r.set(o, "validateForm", func(call goja.FunctionCall) goja.Value {
		result := api.ValidateForm(call.Argument(0).String())
		if result == nil {
			return goja.Null()
		}
		return r.vm.ToValue(result)
	})
	r.set(o, "simulateUserInput", func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0)
		if _, isObj := target.(*goja.Object); !isObj {
			el := r.doc.QuerySelector(target.String())
			if el == nil {
				return r.vm.ToValue(false)
			}
			return r.vm.ToValue(api.SimulateUserInput(el, call.Argument(1).String()))
		}
		return r.vm.ToValue(api.SimulateUserInput(r.unwrap(target), call.Argument(1).String()))
	})
	r.set(o, "getUploadStatus", func(goja.FunctionCall) goja.Value {
		return r.vm.ToValue(api.GetUploadStatus())
	})
	r.getter(o, "framework", func() any { return api.Framework() })
	return o
}

// criteria reads a findFields argument. Unknown keys are ignored.
func (r *Realm) criteria(v goja.Value) registry.Criteria {
	var c registry.Criteria
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return c
	}
	obj := v.ToObject(r.vm)
	str := func(key string) string {
		if f := obj.Get(key); f != nil && !goja.IsUndefined(f) && !goja.IsNull(f) {
			return f.String()
		}
		return ""
	}
	c.Type = str("type")
	c.NameContains = str("nameContains")
	c.PlaceholderContains = str("placeholderContains")
	c.LabelContains = str("labelContains")
	return c
}
