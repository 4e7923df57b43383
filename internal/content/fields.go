package content

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/injector/watcher"
)

// Slot is a semantic metadata field on the upload form.
type Slot string

const (
	SlotTitleEn    Slot = "titleEn"
	SlotTitleAr    Slot = "titleAr"
	SlotKeywordsEn Slot = "keywordsEn"
	SlotKeywordsAr Slot = "keywordsAr"
	SlotCategory   Slot = "category"
	SlotLicense    Slot = "license"
)

// Slots is the detection order. Arabic slots go first because their
// candidates are specific, and a field they claim is not offered to the
// broader English candidates ("title" also matches "title_ar").
var Slots = []Slot{SlotTitleAr, SlotKeywordsAr, SlotTitleEn, SlotKeywordsEn, SlotCategory, SlotLicense}

// Candidates are the attribute substrings tried for each slot, in order.
var Candidates = map[Slot][]string{
	SlotTitleEn:    {"title", "name", "title_en"},
	SlotTitleAr:    {"title_ar", "arabic_title", "عنوان"},
	SlotKeywordsEn: {"keywords", "tags", "keywords_en"},
	SlotKeywordsAr: {"keywords_ar", "arabic_keywords", "tags_ar"},
	SlotCategory:   {"category", "فئة"},
	SlotLicense:    {"license", "license_type", "رخصة"},
}

// findField tries each candidate against name, then id, then placeholder,
// and returns the first element not already claimed.
func findField(doc *dom.Document, names []string, claimed map[*dom.Element]bool) *dom.Element {
	for _, n := range names {
		q := `"` + n + `"`
		for _, selector := range []string{
			`input[name*=` + q + `], textarea[name*=` + q + `], select[name*=` + q + `]`,
			`input[id*=` + q + `], textarea[id*=` + q + `], select[id*=` + q + `]`,
			`input[placeholder*=` + q + `], textarea[placeholder*=` + q + `]`,
		} {
			for _, el := range doc.QuerySelectorAll(selector) {
				if !claimed[el] {
					return el
				}
			}
		}
	}
	return nil
}

func detect(doc *dom.Document) map[Slot]*dom.Element {
	found := make(map[Slot]*dom.Element, len(Slots))
	claimed := make(map[*dom.Element]bool, len(Slots))
	for _, slot := range Slots {
		if el := findField(doc, Candidates[slot], claimed); el != nil {
			found[slot] = el
			claimed[el] = true
		}
	}
	return found
}

// DetectFields returns, per slot, a reference to the field found for it: the
// field's key when it has one, else its XPath. Missing slots are absent.
func (o *Orchestrator) DetectFields() (refs map[Slot]string, err error) {
	err = o.inj.Do(func(api *injector.PageAPI) {
		refs = make(map[Slot]string)
		for slot, el := range detect(api.Document()) {
			refs[slot] = watcher.Ref(el)
		}
	})
	return refs, err
}

// FillReport describes a FillMetadata run.
type FillReport struct {
	// Fields maps each detected slot to its field reference.
	Fields map[Slot]string `json:"fields"`
	// Filled is true for slots whose write succeeded. Slots with no value or
	// no field are absent.
	Filled   map[Slot]bool `json:"filled"`
	SEOScore int           `json:"seoScore"`
}

// Values maps metadata onto slots. Empty values are omitted.
func Values(md inference.Metadata, arabicPriority bool, sep string) map[Slot]string {
	category := md.Category.En
	if arabicPriority && md.Category.Ar != "" {
		category = md.Category.Ar
	}
	values := map[Slot]string{
		SlotTitleEn:    md.Titles.En,
		SlotTitleAr:    md.Titles.Ar,
		SlotKeywordsEn: joinKeywords(md.Keywords.En, sep),
		SlotKeywordsAr: joinKeywords(md.Keywords.Ar, sep),
		SlotCategory:   category,
		SlotLicense:    md.License,
	}
	for slot, v := range values {
		if strings.TrimSpace(v) == "" {
			delete(values, slot)
		}
	}
	return values
}

func joinKeywords(kw []string, sep string) string {
	out := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, sep)
}

// FillMetadata writes md into the detected fields through the injector's
// synthetic input path. A settings lookup failure falls back to defaults.
func (o *Orchestrator) FillMetadata(ctx context.Context, md inference.Metadata) (*FillReport, error) {
	arabic := false
	if s, err := o.Settings(ctx); err != nil {
		o.logger.Warn("Could not load settings; using defaults", zap.Error(err))
	} else {
		arabic = s.ArabicPriority
	}
	values := Values(md, arabic, o.cfg.KeywordSeparator)

	report := &FillReport{
		Fields:   make(map[Slot]string),
		Filled:   make(map[Slot]bool),
		SEOScore: SEOScore(md),
	}
	err := o.inj.Do(func(api *injector.PageAPI) {
		found := detect(api.Document())
		for _, slot := range Slots {
			el, ok := found[slot]
			if !ok {
				continue
			}
			report.Fields[slot] = watcher.Ref(el)
			if v, ok := values[slot]; ok {
				report.Filled[slot] = api.SimulateUserInput(el, v)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Filled metadata",
		zap.Int("detected", len(report.Fields)),
		zap.Int("written", countTrue(report.Filled)),
		zap.Int("seo_score", report.SEOScore))
	return report, nil
}

// AnalyzeAndFill analyzes image and, when auto fill is enabled, fills the
// page with the result. The report is nil when auto fill is off.
func (o *Orchestrator) AnalyzeAndFill(ctx context.Context, image string) (*inference.Analysis, *FillReport, error) {
	res, err := o.AnalyzeImage(ctx, image)
	if err != nil {
		return nil, nil, err
	}
	s, err := o.Settings(ctx)
	if err == nil && !s.AutoFillEnabled {
		return res, nil, nil
	}
	report, err := o.FillMetadata(ctx, res.Metadata)
	return res, report, err
}

func countTrue(m map[Slot]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
