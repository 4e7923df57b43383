package bus

import "github.com/xkilldash9x/metafill/internal/browser/dom"

// Detail payloads. Field references are registry keys (or an XPath when the
// element has no key) so that payloads stay plain data.

type FieldRegisteredDetail struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
}

type FormRegisteredDetail struct {
	FormID string   `json:"formId,omitempty"`
	Action string   `json:"action,omitempty"`
	XPath  string   `json:"xpath"`
	Fields []string `json:"fields"`
}

type FileSelectedDetail struct {
	Field string     `json:"field"`
	Files []dom.File `json:"files"`
}

type FileDropDetail struct {
	Target string     `json:"target"`
	Files  []dom.File `json:"files"`
}

type DragDetail struct {
	Target string `json:"target"`
}

type FormSubmissionDetail struct {
	FormID string            `json:"formId,omitempty"`
	Action string            `json:"action,omitempty"`
	Data   map[string]string `json:"data"`
}

type ValidationErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type FieldValueChangedDetail struct {
	Field     string `json:"field"`
	Attribute string `json:"attribute"`
	OldValue  string `json:"oldValue"`
	NewValue  string `json:"newValue"`
}
