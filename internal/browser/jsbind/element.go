// internal/browser/jsbind/element.go
package jsbind

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
)

// wrapperKey holds the Go element behind a script object.
const wrapperKey = "__metafill_element__"

func (r *Realm) wrapAll(els []*dom.Element) goja.Value {
	vals := make([]any, len(els))
	for i, el := range els {
		vals[i] = r.wrap(el)
	}
	return r.vm.NewArray(vals...)
}

// wrap returns the script object for el, creating it on first use.
func (r *Realm) wrap(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	if obj, ok := r.nodes[el.Node()]; ok {
		return obj
	}

	o := r.vm.NewObject()
	if err := o.DefineDataProperty(wrapperKey, r.vm.ToValue(el), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		panic(err)
	}
	r.nodes[el.Node()] = o

	r.set(o, "nodeType", 1)
	r.getter(o, "tagName", func() any { return strings.ToUpper(el.TagName()) })
	r.getter(o, "type", func() any { return el.Type() })
	r.getter(o, "form", func() any { return r.wrap(el.Form()) })
	r.getter(o, "parentElement", func() any { return r.wrap(el.Parent()) })
	r.getter(o, "isConnected", func() any { return el.IsConnected() })
	r.getter(o, "validationMessage", func() any { return el.ValidationMessage() })
	r.getter(o, "files", func() any { return el.Files() })
	r.getter(o, "options", func() any { return r.wrapAll(el.Options()) })

	r.accessor(o, "id", func() any { return el.ID() }, func(v goja.Value) { el.SetAttribute("id", v.String()) })
	r.accessor(o, "name", func() any { return el.Name() }, func(v goja.Value) { el.SetAttribute("name", v.String()) })
	r.accessor(o, "className", func() any { return el.ClassName() }, func(v goja.Value) { el.SetAttribute("class", v.String()) })
	r.accessor(o, "value", func() any { return el.Value() }, func(v goja.Value) { el.SetValue(v.String()) })
	r.accessor(o, "checked", func() any { return el.Checked() }, func(v goja.Value) { el.SetChecked(v.ToBoolean()) })
	r.accessor(o, "selectedIndex", func() any { return el.SelectedIndex() }, func(v goja.Value) { el.SetSelectedIndex(int(v.ToInteger())) })
	r.accessor(o, "textContent", func() any { return el.TextContent() }, func(v goja.Value) { r.setHTML(el, htmlEscape(v.String())) })
	r.accessor(o, "innerHTML", func() any { return el.InnerHTML() }, func(v goja.Value) { r.setHTML(el, v.String()) })

	r.set(o, "getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := el.GetAttribute(call.Argument(0).String()); ok {
			return r.vm.ToValue(v)
		}
		return goja.Null()
	})
	r.set(o, "hasAttribute", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(el.HasAttribute(call.Argument(0).String()))
	})
	r.set(o, "setAttribute", func(call goja.FunctionCall) goja.Value {
		el.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	r.set(o, "removeAttribute", func(call goja.FunctionCall) goja.Value {
		el.RemoveAttribute(call.Argument(0).String())
		return goja.Undefined()
	})
	r.set(o, "appendChild", func(call goja.FunctionCall) goja.Value {
		child := r.unwrap(call.Argument(0))
		el.AppendChild(child)
		return call.Argument(0)
	})
	r.set(o, "remove", func(goja.FunctionCall) goja.Value {
		el.Remove()
		return goja.Undefined()
	})
	r.set(o, "querySelector", func(call goja.FunctionCall) goja.Value {
		return r.wrap(el.QuerySelector(call.Argument(0).String()))
	})
	r.set(o, "querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.wrapAll(el.QuerySelectorAll(call.Argument(0).String()))
	})
	r.set(o, "focus", func(goja.FunctionCall) goja.Value {
		el.Focus()
		return goja.Undefined()
	})
	r.set(o, "blur", func(goja.FunctionCall) goja.Value {
		el.Blur()
		return goja.Undefined()
	})
	r.set(o, "checkValidity", func(goja.FunctionCall) goja.Value {
		return r.vm.ToValue(el.CheckValidity())
	})
	r.set(o, "requestSubmit", func(goja.FunctionCall) goja.Value {
		el.RequestSubmit()
		return goja.Undefined()
	})
	r.set(o, "addEventListener", r.addEventListener(el))
	r.set(o, "dispatchEvent", r.dispatchEvent(el))
	return o
}

// unwrap returns the element behind a wrapper, throwing a TypeError for
// anything else.
func (r *Realm) unwrap(v goja.Value) *dom.Element {
	if obj, ok := v.(*goja.Object); ok {
		if inner := obj.Get(wrapperKey); inner != nil {
			if el, ok := inner.Export().(*dom.Element); ok {
				return el
			}
		}
	}
	panic(r.vm.NewTypeError("parameter is not an Element"))
}

func (r *Realm) setHTML(el *dom.Element, markup string) {
	if err := el.SetInnerHTML(markup); err != nil {
		panic(r.vm.NewGoError(err))
	}
}
