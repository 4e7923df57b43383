// Package classify holds the pure predicates that decide what a DOM element
// means to the form filler: a fillable field, a drop target for uploads, or a
// form that belongs to the upload workflow.
package classify

import (
	"net/url"
	"strings"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
)

// Kind is the coarse category of a form field.
type Kind string

const (
	KindText     Kind = "input-text"
	KindFile     Kind = "input-file"
	KindTextarea Kind = "textarea"
	KindSelect   Kind = "select"
	KindOther    Kind = "other-input"
)

// Vocabulary holds the heuristic word lists used by the classifier.
type Vocabulary struct {
	// UploadTokens mark drop zones when found in an element's class string.
	UploadTokens []string `mapstructure:"upload_tokens" yaml:"upload_tokens"`
	// MarkerClasses mark tracked forms when present in a form's class list.
	MarkerClasses []string `mapstructure:"marker_classes" yaml:"marker_classes"`
	// PathKeywords mark tracked forms when found in the action URL path.
	PathKeywords []string `mapstructure:"path_keywords" yaml:"path_keywords"`
}

// DefaultVocabulary returns the word lists for the contributor upload pages.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		UploadTokens:  []string{"upload", "drop", "dropzone", "file-drop"},
		MarkerClasses: []string{"upload-form", "metadata-form"},
		PathKeywords:  []string{"upload", "warehouse"},
	}
}

// Classifier evaluates elements against a Vocabulary. It has no state beyond
// the vocabulary and never mutates the elements it inspects.
type Classifier struct {
	vocab Vocabulary
}

// New creates a Classifier. Empty lists fall back to the defaults.
func New(vocab Vocabulary) *Classifier {
	def := DefaultVocabulary()
	if len(vocab.UploadTokens) == 0 {
		vocab.UploadTokens = def.UploadTokens
	}
	if len(vocab.MarkerClasses) == 0 {
		vocab.MarkerClasses = def.MarkerClasses
	}
	if len(vocab.PathKeywords) == 0 {
		vocab.PathKeywords = def.PathKeywords
	}
	return &Classifier{vocab: normalize(vocab)}
}

func normalize(v Vocabulary) Vocabulary {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return Vocabulary{
		UploadTokens:  lower(v.UploadTokens),
		MarkerClasses: lower(v.MarkerClasses),
		PathKeywords:  lower(v.PathKeywords),
	}
}

// IsFormField reports whether el is an input, textarea or select.
func IsFormField(el *dom.Element) bool {
	if el == nil {
		return false
	}
	switch el.TagName() {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// KindOf derives the field kind from the tag and type. Non-fields are KindOther.
func KindOf(el *dom.Element) Kind {
	if el == nil {
		return KindOther
	}
	switch el.TagName() {
	case "textarea":
		return KindTextarea
	case "select":
		return KindSelect
	case "input":
		switch el.Type() {
		case "file":
			return KindFile
		case "text", "search", "email", "url", "tel", "password", "number":
			return KindText
		}
		// Unknown types render as text inputs.
		if !knownInputTypes[el.Type()] {
			return KindText
		}
	}
	return KindOther
}

var knownInputTypes = map[string]bool{
	"text": true, "search": true, "email": true, "url": true, "tel": true, "password": true,
	"number": true, "file": true, "checkbox": true, "radio": true, "hidden": true,
	"submit": true, "reset": true, "button": true, "image": true, "color": true,
	"date": true, "datetime-local": true, "month": true, "week": true, "time": true, "range": true,
}

// IsUploadArea reports whether the element's class string contains any upload token.
func (c *Classifier) IsUploadArea(el *dom.Element) bool {
	if el == nil {
		return false
	}
	class := strings.ToLower(el.ClassName())
	if class == "" {
		return false
	}
	for _, token := range c.vocab.UploadTokens {
		if strings.Contains(class, token) {
			return true
		}
	}
	return false
}

// IsTrackedForm reports whether el is a form that belongs to the upload
// workflow: multipart encoding, a file input inside it, a marker class, or an
// action path containing a known keyword.
func (c *Classifier) IsTrackedForm(el *dom.Element) bool {
	if el == nil || el.TagName() != "form" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(el.Attr("enctype")), "multipart/form-data") {
		return true
	}
	for _, control := range el.Elements() {
		if control.TagName() == "input" && control.Type() == "file" {
			return true
		}
	}
	for _, class := range el.ClassList() {
		class = strings.ToLower(class)
		for _, marker := range c.vocab.MarkerClasses {
			if class == marker {
				return true
			}
		}
	}
	if path := actionPath(el.Attr("action")); path != "" {
		for _, kw := range c.vocab.PathKeywords {
			if strings.Contains(path, kw) {
				return true
			}
		}
	}
	return false
}

func actionPath(action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		return ""
	}
	u, err := url.Parse(action)
	if err != nil {
		return strings.ToLower(action)
	}
	return strings.ToLower(u.Path)
}
