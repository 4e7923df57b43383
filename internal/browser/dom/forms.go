// internal/browser/dom/forms.go
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// ValueInterceptor replaces the value setter of a single element, the way a
// front-end framework redefines the instance `value` property to track writes.
// native performs the real DOM write; an interceptor may call it, skip it, or
// call it with a different value.
type ValueInterceptor func(el *Element, v string, native func(string))

// InterceptValue installs fn as the element's instance value setter. A nil fn
// restores plain assignment.
func (el *Element) InterceptValue(fn ValueInterceptor) {
	el.state().interceptor = fn
}

// Type returns the control type: the lower-cased input type (default "text"),
// "textarea", "select-one" or "select-multiple". Other elements return "".
func (el *Element) Type() string {
	switch el.node.Data {
	case "input":
		t := strings.ToLower(strings.TrimSpace(el.Attr("type")))
		if t == "" {
			return "text"
		}
		return t
	case "textarea":
		return "textarea"
	case "select":
		if el.HasAttribute("multiple") {
			return "select-multiple"
		}
		return "select-one"
	case "button":
		if t := strings.ToLower(el.Attr("type")); t == "button" || t == "reset" {
			return t
		}
		return "submit"
	}
	return ""
}

// Value returns the live value of a form control.
func (el *Element) Value() string {
	st := el.state()
	switch el.node.Data {
	case "input":
		switch el.Type() {
		case "file":
			if len(st.files) == 0 {
				return ""
			}
			return `C:\fakepath\` + st.files[0].Name
		case "checkbox", "radio":
			if v, ok := el.GetAttribute("value"); ok {
				return v
			}
			return "on"
		}
		if st.valueDirty {
			return st.value
		}
		return el.Attr("value")
	case "textarea":
		if st.valueDirty {
			return st.value
		}
		return el.TextContent()
	case "select":
		if opt := el.SelectedOption(); opt != nil {
			return opt.OptionValue()
		}
		return ""
	case "option":
		return el.OptionValue()
	}
	return el.Attr("value")
}

// SetValue assigns the value property. An installed ValueInterceptor sees the
// assignment first.
func (el *Element) SetValue(v string) {
	if fn := el.state().interceptor; fn != nil {
		fn(el, v, el.setNativeValue)
		return
	}
	el.setNativeValue(v)
}

// NativeValueSetter returns the prototype-level value setter for the element,
// which ignores any instance interceptor. ok is false when the realm does not
// expose native setters or the element has no value property.
func (el *Element) NativeValueSetter() (set func(string), ok bool) {
	if !el.doc.nativeSetters {
		return nil, false
	}
	switch el.node.Data {
	case "input", "textarea", "select":
		return el.setNativeValue, true
	}
	return nil, false
}

func (el *Element) setNativeValue(v string) {
	st := el.state()
	switch el.node.Data {
	case "input":
		if el.Type() == "file" {
			// Only clearing is permitted on file inputs.
			if v == "" {
				st.files = nil
			}
			return
		}
		st.value = v
		st.valueDirty = true
	case "textarea":
		st.value = v
		st.valueDirty = true
	case "select":
		idx := -1
		for i, opt := range el.Options() {
			if opt.OptionValue() == v {
				idx = i
				break
			}
		}
		st.selectedIndex = idx
		st.selectedDirty = true
	default:
		el.SetAttribute("value", v)
	}
}

// -- Checkable inputs --

// Checked reports the checkedness of a checkbox or radio.
func (el *Element) Checked() bool {
	st := el.state()
	if st.checkedDirty {
		return st.checked
	}
	return el.HasAttribute("checked")
}

// SetChecked sets the checkedness. Checking a radio unchecks the others in its group.
func (el *Element) SetChecked(checked bool) {
	st := el.state()
	st.checked = checked
	st.checkedDirty = true
	if !checked || el.Type() != "radio" || el.Name() == "" {
		return
	}
	scope := el.Form()
	var candidates []*Element
	if scope != nil {
		candidates = scope.Elements()
	} else {
		candidates = el.doc.QuerySelectorAll("input")
	}
	for _, other := range candidates {
		if other != el && other.Type() == "radio" && other.Name() == el.Name() {
			ost := other.state()
			ost.checked = false
			ost.checkedDirty = true
		}
	}
}

// -- File inputs --

// Files returns a copy of the files selected on a file input.
func (el *Element) Files() []File {
	files := el.state().files
	out := make([]File, len(files))
	copy(out, files)
	return out
}

// SelectFiles models the user picking files in the file chooser: the files are
// attached and trusted input and change events fire. It returns false for
// anything other than a file input.
func (el *Element) SelectFiles(files ...File) bool {
	if el.node.Data != "input" || el.Type() != "file" {
		return false
	}
	if len(files) > 1 && !el.HasAttribute("multiple") {
		files = files[:1]
	}
	el.state().files = append([]File(nil), files...)
	for _, typ := range []string{"input", "change"} {
		e := NewEvent(typ, EventInit{Bubbles: true})
		e.IsTrusted = true
		el.DispatchEvent(e)
	}
	return true
}

// -- Select elements --

// Options returns the <option> descendants of a select, including those inside optgroups.
func (el *Element) Options() []*Element {
	if el.node.Data != "select" {
		return nil
	}
	nodes := htmlquery.Find(el.node, ".//option")
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, el.doc.wrap(n))
	}
	return out
}

// OptionText returns an option's text with whitespace collapsed.
func (el *Element) OptionText() string {
	return strings.Join(strings.Fields(el.TextContent()), " ")
}

// OptionValue returns the value attribute of an option, falling back to its text.
func (el *Element) OptionValue() string {
	if v, ok := el.GetAttribute("value"); ok {
		return v
	}
	return el.OptionText()
}

// SelectedIndex returns the index of the selected option, or -1.
func (el *Element) SelectedIndex() int {
	opts := el.Options()
	st := el.state()
	if st.selectedDirty {
		if st.selectedIndex >= len(opts) {
			return -1
		}
		return st.selectedIndex
	}
	for i, opt := range opts {
		if opt.HasAttribute("selected") {
			return i
		}
	}
	if len(opts) > 0 && el.Type() == "select-one" {
		return 0
	}
	return -1
}

// SetSelectedIndex selects the option at i. Out of range values deselect everything.
func (el *Element) SetSelectedIndex(i int) {
	if i < 0 || i >= len(el.Options()) {
		i = -1
	}
	st := el.state()
	st.selectedIndex = i
	st.selectedDirty = true
}

// SelectedOption returns the selected option element, or nil.
func (el *Element) SelectedOption() *Element {
	idx := el.SelectedIndex()
	if idx < 0 {
		return nil
	}
	opts := el.Options()
	if idx >= len(opts) {
		return nil
	}
	return opts[idx]
}

// -- Focus --

// Focus makes the element the active element and fires focus and focusin.
func (el *Element) Focus() {
	if el.doc.activeElement == el.node {
		return
	}
	if prev := el.doc.wrap(el.doc.activeElement); prev != nil && prev.IsConnected() {
		prev.Blur()
	}
	el.doc.activeElement = el.node
	el.fireTrusted("focus", false)
	el.fireTrusted("focusin", true)
}

// Blur removes focus from the element and fires blur and focusout.
func (el *Element) Blur() {
	if el.doc.activeElement != el.node {
		return
	}
	el.doc.activeElement = nil
	el.fireTrusted("blur", false)
	el.fireTrusted("focusout", true)
}

func (el *Element) fireTrusted(typ string, bubbles bool) bool {
	e := NewEvent(typ, EventInit{Bubbles: bubbles})
	e.IsTrusted = true
	return el.DispatchEvent(e)
}

// -- Forms and validity --

// Form returns the form owner of a control: the form named by its form
// attribute, else the nearest ancestor form.
func (el *Element) Form() *Element {
	if id := el.Attr("form"); id != "" {
		if f := el.doc.GetElementByID(id); f != nil && f.TagName() == "form" {
			return f
		}
		return nil
	}
	if el.node.Parent == nil {
		return nil
	}
	return el.doc.wrap(el.node.Parent).closestOrNil("form")
}

func (el *Element) closestOrNil(tag string) *Element {
	if el == nil {
		return nil
	}
	return el.Closest(tag)
}

// Elements returns the listed controls of a form in document order, including
// controls outside the form that reference it through their form attribute.
func (el *Element) Elements() []*Element {
	if el.node.Data != "form" {
		return nil
	}
	var out []*Element
	el.doc.walkElements(el.doc.root, func(n *html.Node) bool {
		switch n.Data {
		case "input", "select", "textarea", "button":
			if c := el.doc.wrap(n); c.Form() == el {
				out = append(out, c)
			}
		}
		return true
	})
	return out
}

// Required reports the required attribute.
func (el *Element) Required() bool { return el.HasAttribute("required") }

// Disabled reports the disabled attribute, including a disabled ancestor fieldset.
func (el *Element) Disabled() bool {
	if el.HasAttribute("disabled") {
		return true
	}
	for p := el.node.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "fieldset" && hasAttr(p, "disabled") {
			return true
		}
	}
	return false
}

func (el *Element) barredFromValidation() bool {
	if el.Disabled() || el.HasAttribute("readonly") {
		return true
	}
	switch el.Type() {
	case "hidden", "submit", "button", "reset", "image", "":
		return true
	}
	return false
}

// ValidationMessage returns the browser's message for a failing control, or ""
// when the control is valid or not subject to validation.
func (el *Element) ValidationMessage() string {
	if el.barredFromValidation() {
		return ""
	}
	typ := el.Type()
	if el.Required() {
		switch typ {
		case "checkbox", "radio":
			if !el.Checked() {
				return "Please check this box."
			}
		case "file":
			if len(el.state().files) == 0 {
				return "Please select a file."
			}
		case "select-one", "select-multiple":
			if el.Value() == "" {
				return "Please select an item in the list."
			}
		default:
			if el.Value() == "" {
				return "Please fill out this field."
			}
		}
	}
	if typ == "email" {
		if v := el.Value(); v != "" && !strings.Contains(v, "@") {
			return "Please include an '@' in the email address."
		}
	}
	return ""
}

// CheckValidity reports whether the control (or, for a form, every listed
// control) is valid. Each failing control receives a cancelable invalid event.
func (el *Element) CheckValidity() bool {
	if el.node.Data == "form" {
		valid := true
		for _, c := range el.Elements() {
			if !c.CheckValidity() {
				valid = false
			}
		}
		return valid
	}
	if el.ValidationMessage() == "" {
		return true
	}
	e := NewEvent("invalid", EventInit{Cancelable: true})
	e.IsTrusted = true
	el.DispatchEvent(e)
	return false
}

// RequestSubmit validates a form and, if valid, fires a cancelable submit
// event. It reports whether the submission went ahead.
func (el *Element) RequestSubmit() bool {
	if el.node.Data != "form" {
		return false
	}
	if !el.HasAttribute("novalidate") && !el.CheckValidity() {
		return false
	}
	e := NewEvent("submit", EventInit{Bubbles: true, Cancelable: true})
	e.IsTrusted = true
	return el.DispatchEvent(e)
}

// FormEntry is one name/value pair of a form's data set.
type FormEntry struct {
	Name  string
	Value string
}

// FormEntries builds the form data set: named, enabled controls, checked
// checkables only, file inputs by file name, buttons excluded.
func (el *Element) FormEntries() []FormEntry {
	var out []FormEntry
	for _, c := range el.Elements() {
		name := c.Name()
		if name == "" || c.Disabled() {
			continue
		}
		switch c.Type() {
		case "submit", "button", "reset", "image":
			continue
		case "checkbox", "radio":
			if c.Checked() {
				out = append(out, FormEntry{Name: name, Value: c.Value()})
			}
		case "file":
			files := c.state().files
			if len(files) == 0 {
				out = append(out, FormEntry{Name: name})
			}
			for _, f := range files {
				out = append(out, FormEntry{Name: name, Value: f.Name})
			}
		case "select-multiple":
			// Only the first selected option is tracked.
			if opt := c.SelectedOption(); opt != nil {
				out = append(out, FormEntry{Name: name, Value: opt.OptionValue()})
			}
		default:
			out = append(out, FormEntry{Name: name, Value: c.Value()})
		}
	}
	return out
}
