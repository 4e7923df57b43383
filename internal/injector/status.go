package injector

import (
	"math"
	"strconv"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
)

// Upload states reported by GetUploadStatus.
const (
	UploadIdle      = "idle"
	UploadUploading = "uploading"
	UploadComplete  = "complete"
)

// UploadStatus describes the page's upload progress indicator.
type UploadStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// GetUploadStatus reads the first visible progress indicator: a <progress>
// element, else an element with role="progressbar". Without one the upload is idle.
func (a *PageAPI) GetUploadStatus() UploadStatus {
	for _, sel := range []string{"progress", "[role=progressbar]"} {
		for _, el := range a.doc.QuerySelectorAll(sel) {
			if el.HasAttribute("hidden") {
				continue
			}
			pct, known := progressOf(el)
			switch {
			case !known:
				return UploadStatus{Status: UploadUploading}
			case pct >= 100:
				return UploadStatus{Status: UploadComplete, Progress: 100}
			default:
				return UploadStatus{Status: UploadUploading, Progress: pct}
			}
		}
	}
	return UploadStatus{Status: UploadIdle}
}

// progressOf converts an indicator's value to a percentage. known is false for
// an indeterminate indicator.
func progressOf(el *dom.Element) (pct int, known bool) {
	var value, lo, hi float64
	var ok bool
	if el.TagName() == "progress" {
		value, ok = number(el.Attr("value"))
		lo, hi = 0, 1
		if m, mok := number(el.Attr("max")); mok && m > 0 {
			hi = m
		}
	} else {
		value, ok = number(el.Attr("aria-valuenow"))
		lo, hi = 0, 100
		if m, mok := number(el.Attr("aria-valuemin")); mok {
			lo = m
		}
		if m, mok := number(el.Attr("aria-valuemax")); mok {
			hi = m
		}
	}
	if !ok || hi <= lo {
		return 0, false
	}
	p := math.Round((value - lo) / (hi - lo) * 100)
	return int(math.Max(0, math.Min(100, p))), true
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
