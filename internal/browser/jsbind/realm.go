// internal/browser/jsbind/realm.go
package jsbind

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
)

// Realm is the page's script realm: a goja runtime whose global object is the
// window of a dom.Document. Like the document, a Realm is only used from the
// document's event loop.
type Realm struct {
	vm     *goja.Runtime
	doc    *dom.Document
	logger *zap.Logger

	document *goja.Object
	// nodes keeps one wrapper per node so that identity holds in scripts.
	nodes map[*html.Node]*goja.Object

	timers    map[int64]*eventloop.Timer
	nextTimer int64
}

// customEventSource defines the CustomEvent constructor scripts use with dispatchEvent.
const customEventSource = `
function CustomEvent(type, init) {
	init = init || {};
	this.type = String(type);
	this.detail = init.detail === undefined ? null : init.detail;
	this.bubbles = !!init.bubbles;
	this.cancelable = !!init.cancelable;
}
function Event(type, init) { CustomEvent.call(this, type, init); }
`

// New creates a realm bound to doc.
func New(doc *dom.Document, logger *zap.Logger) (*Realm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Realm{
		vm:     goja.New(),
		doc:    doc,
		logger: logger.Named("jsbind"),
		nodes:  make(map[*html.Node]*goja.Object),
		timers: make(map[int64]*eventloop.Timer),
	}
	// Go payloads (event details, API results) surface with their JSON names.
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	r.initWindow()
	r.initDocument()
	r.initConsole()
	r.initTimers()
	if _, err := r.Run("prelude", customEventSource); err != nil {
		return nil, err
	}
	return r, nil
}

// Runtime exposes the underlying goja runtime.
func (r *Realm) Runtime() *goja.Runtime { return r.vm }

// Document returns the bound document.
func (r *Realm) Document() *dom.Document { return r.doc }

// Run evaluates a script in the realm.
func (r *Realm) Run(name, src string) (goja.Value, error) {
	v, err := r.vm.RunScript(name, src)
	if err != nil {
		r.logger.Warn("Script failed", zap.String("script", name), zap.Error(err))
		return nil, &ScriptError{Name: name, Err: err}
	}
	return v, nil
}

// HasGlobal reports whether a script defined the named global.
func (r *Realm) HasGlobal(name string) bool {
	v := r.vm.GlobalObject().Get(name)
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// Close cancels every pending timer.
func (r *Realm) Close() {
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Realm) set(obj *goja.Object, name string, v any) {
	if err := obj.Set(name, v); err != nil {
		r.logger.Error("Failed to define property", zap.String("property", name), zap.Error(err))
	}
}

// getter defines a read-only accessor.
func (r *Realm) getter(obj *goja.Object, name string, get func() any) {
	fn := r.vm.ToValue(func(goja.FunctionCall) goja.Value { return r.vm.ToValue(get()) })
	if err := obj.DefineAccessorProperty(name, fn, nil, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		r.logger.Error("Failed to define getter", zap.String("property", name), zap.Error(err))
	}
}

// accessor defines a read/write accessor.
func (r *Realm) accessor(obj *goja.Object, name string, get func() any, set func(goja.Value)) {
	g := r.vm.ToValue(func(goja.FunctionCall) goja.Value { return r.vm.ToValue(get()) })
	s := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		set(call.Argument(0))
		return goja.Undefined()
	})
	if err := obj.DefineAccessorProperty(name, g, s, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		r.logger.Error("Failed to define accessor", zap.String("property", name), zap.Error(err))
	}
}

// -- window --

func (r *Realm) initWindow() {
	global := r.vm.GlobalObject()
	r.set(global, "window", global)
	r.set(global, "self", global)

	win := r.doc.Window()
	r.set(global, "addEventListener", r.addEventListener(win))
	r.set(global, "dispatchEvent", r.dispatchEvent(win))

	location := r.vm.NewObject()
	r.getter(location, "href", func() any { return r.doc.Location() })
	r.set(location, "toString", func(goja.FunctionCall) goja.Value { return r.vm.ToValue(r.doc.Location()) })
	r.set(global, "location", location)

	history := r.vm.NewObject()
	r.set(history, "pushState", func(call goja.FunctionCall) goja.Value {
		r.doc.PushState(call.Argument(2).String())
		return goja.Undefined()
	})
	r.set(history, "replaceState", func(call goja.FunctionCall) goja.Value {
		r.doc.ReplaceState(call.Argument(2).String())
		return goja.Undefined()
	})
	r.set(history, "back", func(goja.FunctionCall) goja.Value {
		r.doc.Back()
		return goja.Undefined()
	})
	r.set(history, "forward", func(goja.FunctionCall) goja.Value {
		r.doc.Forward()
		return goja.Undefined()
	})
	r.set(global, "history", history)
}

// -- document --

func (r *Realm) initDocument() {
	d := r.vm.NewObject()
	r.document = d
	r.set(d, "querySelector", func(call goja.FunctionCall) goja.Value {
		return r.wrap(r.doc.QuerySelector(call.Argument(0).String()))
	})
	r.set(d, "querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.wrapAll(r.doc.QuerySelectorAll(call.Argument(0).String()))
	})
	r.set(d, "getElementById", func(call goja.FunctionCall) goja.Value {
		return r.wrap(r.doc.GetElementByID(call.Argument(0).String()))
	})
	r.set(d, "createElement", func(call goja.FunctionCall) goja.Value {
		return r.wrap(r.doc.CreateElement(call.Argument(0).String()))
	})
	r.getter(d, "body", func() any { return r.wrap(r.doc.Body()) })
	r.getter(d, "documentElement", func() any { return r.wrap(r.doc.DocumentElement()) })
	r.getter(d, "activeElement", func() any { return r.wrap(r.doc.ActiveElement()) })
	r.set(d, "addEventListener", r.addEventListener(r.doc))
	r.set(d, "dispatchEvent", r.dispatchEvent(r.doc))
	r.set(r.vm.GlobalObject(), "document", d)
}

// -- events --

func (r *Realm) addEventListener(target dom.EventTarget) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		var opts []dom.ListenerOption
		o := call.Argument(2)
		if capture, isBool := o.Export().(bool); isBool {
			if capture {
				opts = append(opts, dom.Capture())
			}
		} else if !goja.IsUndefined(o) && !goja.IsNull(o) {
			obj := o.ToObject(r.vm)
			if v := obj.Get("capture"); v != nil && v.ToBoolean() {
				opts = append(opts, dom.Capture())
			}
			if v := obj.Get("once"); v != nil && v.ToBoolean() {
				opts = append(opts, dom.Once())
			}
		}
		remove := target.AddEventListener(typ, func(e *dom.Event) {
			if _, err := fn(r.targetValue(e.CurrentTarget), r.eventObject(e)); err != nil {
				r.logger.Warn("Event listener threw", zap.String("event", typ), zap.Error(err))
			}
		}, opts...)
		// The returned function is a convenience for tests and scripts that
		// keep no reference to the listener.
		return r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			remove()
			return goja.Undefined()
		})
	}
}

func (r *Realm) dispatchEvent(target dom.EventTarget) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			panic(r.vm.NewTypeError("dispatchEvent requires an event"))
		}
		obj := arg.ToObject(r.vm)
		init := dom.EventInit{}
		if v := obj.Get("bubbles"); v != nil {
			init.Bubbles = v.ToBoolean()
		}
		if v := obj.Get("cancelable"); v != nil {
			init.Cancelable = v.ToBoolean()
		}
		if v := obj.Get("detail"); v != nil && !goja.IsNull(v) && !goja.IsUndefined(v) {
			init.Detail = v.Export()
		}
		typ := obj.Get("type")
		if typ == nil || goja.IsUndefined(typ) {
			panic(r.vm.NewTypeError("event has no type"))
		}
		e := dom.NewEvent(typ.String(), init)
		return r.vm.ToValue(target.DispatchEvent(e))
	}
}

func (r *Realm) eventObject(e *dom.Event) *goja.Object {
	o := r.vm.NewObject()
	r.set(o, "type", e.Type)
	r.set(o, "detail", e.Detail)
	r.set(o, "bubbles", e.Bubbles)
	r.set(o, "cancelable", e.Cancelable)
	r.set(o, "isTrusted", e.IsTrusted)
	r.set(o, "key", e.Key)
	r.set(o, "target", r.targetValue(e.Target))
	r.getter(o, "currentTarget", func() any { return r.targetValue(e.CurrentTarget) })
	r.getter(o, "defaultPrevented", func() any { return e.DefaultPrevented() })
	r.set(o, "preventDefault", func(goja.FunctionCall) goja.Value {
		e.PreventDefault()
		return goja.Undefined()
	})
	r.set(o, "stopPropagation", func(goja.FunctionCall) goja.Value {
		e.StopPropagation()
		return goja.Undefined()
	})
	r.set(o, "stopImmediatePropagation", func(goja.FunctionCall) goja.Value {
		e.StopImmediatePropagation()
		return goja.Undefined()
	})
	if e.DataTransfer != nil {
		dt := r.vm.NewObject()
		r.set(dt, "files", e.DataTransfer.Files)
		r.set(o, "dataTransfer", dt)
	}
	return o
}

func (r *Realm) targetValue(t dom.EventTarget) goja.Value {
	switch t := t.(type) {
	case *dom.Element:
		return r.wrap(t)
	case *dom.Document:
		return r.document
	case *dom.Window:
		return r.vm.GlobalObject()
	}
	return goja.Null()
}

// -- console --

func (r *Realm) initConsole() {
	console := r.vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = r.stringify(arg)
			}
			r.logger.Log(level, "[JS Console]", zap.String("message", strings.Join(args, " ")))
			return goja.Undefined()
		}
	}
	r.set(console, "log", logFunc(zap.InfoLevel))
	r.set(console, "info", logFunc(zap.InfoLevel))
	r.set(console, "warn", logFunc(zap.WarnLevel))
	r.set(console, "error", logFunc(zap.ErrorLevel))
	r.set(console, "debug", logFunc(zap.DebugLevel))
	r.set(r.vm.GlobalObject(), "console", console)
}

// stringify renders objects through JSON.stringify and everything else with String.
func (r *Realm) stringify(v goja.Value) string {
	if _, isObj := v.(*goja.Object); isObj {
		if json := r.vm.Get("JSON"); json != nil {
			if fn, ok := goja.AssertFunction(json.ToObject(r.vm).Get("stringify")); ok {
				if out, err := fn(json, v); err == nil && !goja.IsUndefined(out) {
					return out.String()
				}
			}
		}
	}
	return v.String()
}

// -- timers --

func (r *Realm) initTimers() {
	loop := r.doc.Loop()
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok || loop == nil {
				return r.vm.ToValue(0)
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			var extra []goja.Value
			if len(call.Arguments) > 2 {
				extra = call.Arguments[2:]
			}

			r.nextTimer++
			id := r.nextTimer
			cb := func() {
				if !repeat {
					delete(r.timers, id)
				}
				if _, err := fn(goja.Undefined(), extra...); err != nil {
					r.logger.Warn("Timer callback threw", zap.Int64("timer", id), zap.Error(err))
				}
			}
			if repeat {
				r.timers[id] = loop.SetInterval(cb, delay)
			} else {
				r.timers[id] = loop.SetTimeout(cb, delay)
			}
			return r.vm.ToValue(id)
		}
	}
	clearTimer := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		if t, ok := r.timers[id]; ok {
			t.Stop()
			delete(r.timers, id)
		}
		return goja.Undefined()
	}

	global := r.vm.GlobalObject()
	r.set(global, "setTimeout", schedule(false))
	r.set(global, "setInterval", schedule(true))
	r.set(global, "clearTimeout", clearTimer)
	r.set(global, "clearInterval", clearTimer)
	r.set(global, "queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok && loop != nil {
			loop.QueueMicrotask(func() {
				if _, err := fn(goja.Undefined()); err != nil {
					r.logger.Warn("Microtask threw", zap.Error(err))
				}
			})
		}
		return goja.Undefined()
	})
}

func htmlEscape(s string) string { return html.EscapeString(s) }
