package content

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/metafill/internal/background"
	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/messaging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const metadataPage = `<html><body>
<form id="meta" enctype="multipart/form-data" action="/warehouse/new">
  <input id="titleAr" name="title_ar">
  <input id="title" name="title">
  <textarea id="kwAr" name="keywords_ar"></textarea>
  <textarea id="kwEn" name="keywords_en"></textarea>
  <select id="cat" name="category"><option value="">--</option><option>Nature</option><option>People</option></select>
  <input placeholder="license type">
  <input type="file" name="photo">
</form>
</body></html>`

var sampleMetadata = inference.Metadata{
	Titles:   inference.Localized{En: "Camel caravan at dusk", Ar: "قافلة جمال عند الغروب"},
	Keywords: inference.KeywordSet{En: []string{"camel", " desert ", "", "dusk"}, Ar: []string{"جمل", "صحراء"}},
	Category: inference.Localized{En: "Nature", Ar: "طبيعة"},
	License:  "standard",
}

type harness struct {
	doc    *dom.Document
	inj    *injector.Injector
	router *messaging.Router
	orch   *Orchestrator
}

func newHarness(t *testing.T, markup, url string, settings background.Settings) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	loop := eventloop.New(logger)
	loop.Start()
	t.Cleanup(loop.Stop)

	doc, err := dom.Parse(strings.NewReader(markup), loop, dom.WithLogger(logger), dom.WithURL(url))
	require.NoError(t, err)
	inj, err := injector.Install(doc, injector.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inj.Uninstall() })

	router := messaging.NewRouter(logger)
	t.Cleanup(router.Wait)
	router.Handle(messaging.ActionGetSettings, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK(settings), nil
	})
	router.Handle(messaging.ActionAnalyzeImage, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK(inference.Analysis{Metadata: sampleMetadata}), nil
	})

	orch := New(inj, messaging.NewClient(router, logger), DefaultConfig(), logger)
	return &harness{doc: doc, inj: inj, router: router, orch: orch}
}

var defaultSettings = background.Settings{AutoFillEnabled: true, NotificationsEnabled: true}

func TestIsUploadPage(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		url    string
		want   bool
	}{
		{"warehouse path", `<p>hi</p>`, "https://stock.example/warehouse/42", true},
		{"edit path", `<p>hi</p>`, "https://stock.example/items/42/edit", true},
		{"file input anywhere", `<div><input type="file"></div>`, "https://stock.example/home", true},
		{"neither", `<form><input name="q"></form>`, "https://stock.example/search", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.markup, tt.url, defaultSettings)
			got, err := h.orch.IsUploadPage()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFields(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)

	refs, err := h.orch.DetectFields()
	require.NoError(t, err)

	license := refs[SlotLicense]
	delete(refs, SlotLicense)
	assert.Equal(t, map[Slot]string{
		SlotTitleAr:    "titleAr",
		SlotTitleEn:    "title",
		SlotKeywordsAr: "kwAr",
		SlotKeywordsEn: "kwEn",
		SlotCategory:   "cat",
	}, refs)
	// Found by placeholder; it has neither id nor name, so it is referenced by path.
	assert.True(t, strings.HasPrefix(license, "/"), license)
}

func TestDetectFields_BroadCandidateSkipsClaimedField(t *testing.T) {
	// Only title_ar exists: the Arabic slot claims it and the English
	// "title" candidate must not reuse it.
	h := newHarness(t, `<form><input id="ar" name="title_ar"></form>`, "https://stock.example/upload", defaultSettings)
	refs, err := h.orch.DetectFields()
	require.NoError(t, err)
	assert.Equal(t, map[Slot]string{SlotTitleAr: "ar"}, refs)
}

func TestFillMetadata(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)

	report, err := h.orch.FillMetadata(context.Background(), sampleMetadata)
	require.NoError(t, err)

	assert.Len(t, report.Fields, 6)
	assert.Equal(t, map[Slot]bool{
		SlotTitleAr: true, SlotTitleEn: true, SlotKeywordsAr: true,
		SlotKeywordsEn: true, SlotCategory: true, SlotLicense: true,
	}, report.Filled)
	assert.Equal(t, SEOScore(sampleMetadata), report.SEOScore)

	require.NoError(t, h.doc.Loop().Do(func() {
		assert.Equal(t, "Camel caravan at dusk", h.doc.GetElementByID("title").Value())
		assert.Equal(t, "قافلة جمال عند الغروب", h.doc.GetElementByID("titleAr").Value())
		assert.Equal(t, "camel, desert, dusk", h.doc.GetElementByID("kwEn").Value())
		assert.Equal(t, "جمل, صحراء", h.doc.GetElementByID("kwAr").Value())
		assert.Equal(t, "Nature", h.doc.GetElementByID("cat").Value())
		assert.Equal(t, "standard", h.doc.QuerySelector(`input[placeholder="license type"]`).Value())
	}))
}

func TestFillMetadata_FileInputUntouched(t *testing.T) {
	// A file input is the only match for the license slot; writing it is refused.
	markup := `<form><input type="file" name="license_doc"></form>`
	h := newHarness(t, markup, "https://stock.example/upload", defaultSettings)

	report, err := h.orch.FillMetadata(context.Background(), inference.Metadata{License: "standard"})
	require.NoError(t, err)
	assert.Equal(t, map[Slot]bool{SlotLicense: false}, report.Filled)
}

func TestValues(t *testing.T) {
	v := Values(sampleMetadata, true, " | ")
	assert.Equal(t, "طبيعة", v[SlotCategory])
	assert.Equal(t, "camel | desert | dusk", v[SlotKeywordsEn])

	v = Values(inference.Metadata{Titles: inference.Localized{En: "Only"}, Category: inference.Localized{En: "Nature"}}, true, ", ")
	assert.Equal(t, map[Slot]string{SlotTitleEn: "Only", SlotCategory: "Nature"}, v)
}

func TestAnalyzeImage_StripsDataURL(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)
	var got string
	h.router.Handle(messaging.ActionAnalyzeImage, func(_ context.Context, req messaging.Request) (messaging.Reply, error) {
		var p struct {
			ImageData string `json:"imageData"`
		}
		if err := req.Decode(&p); err != nil {
			return messaging.Reply{}, err
		}
		got = p.ImageData
		return messaging.OK(inference.Analysis{Metadata: sampleMetadata}), nil
	})

	res, err := h.orch.AnalyzeImage(context.Background(), "data:image/jpeg;base64,QUJD")
	require.NoError(t, err)
	assert.Equal(t, "QUJD", got)
	assert.Equal(t, "standard", res.Metadata.License)
}

func TestAnalyzeImage_Busy(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.router.Handle(messaging.ActionAnalyzeImage, func(context.Context, messaging.Request) (messaging.Reply, error) {
		close(entered)
		<-release
		return messaging.OK(inference.Analysis{}), nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.orch.AnalyzeImage(context.Background(), "QUJD")
		assert.NoError(t, err)
	}()
	<-entered

	_, err := h.orch.AnalyzeImage(context.Background(), "QUJD")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()

	// The guard is released once the first analysis finishes.
	h.router.Handle(messaging.ActionAnalyzeImage, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK(inference.Analysis{}), nil
	})
	_, err = h.orch.AnalyzeImage(context.Background(), "QUJD")
	assert.NoError(t, err)
}

func TestAnalyzeAndFill_RespectsAutoFill(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", background.Settings{AutoFillEnabled: false})

	res, report, err := h.orch.AnalyzeAndFill(context.Background(), "QUJD")
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Nil(t, report)

	require.NoError(t, h.doc.Loop().Do(func() {
		assert.Empty(t, h.doc.GetElementByID("title").Value())
	}))
}

func TestAnalyzeAndFill(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)

	_, report, err := h.orch.AnalyzeAndFill(context.Background(), "QUJD")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.Filled[SlotTitleEn])
}

func TestSEOScore(t *testing.T) {
	many := make([]string, 12)
	for i := range many {
		many[i] = "kw"
	}
	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "kw"
	}

	tests := []struct {
		name string
		md   inference.Metadata
		want int
	}{
		{"empty still has few keywords", inference.Metadata{}, 20},
		{"long titles", inference.Metadata{Titles: inference.Localized{En: "A long english title", Ar: "عنوان طويل"}}, 60},
		{"short titles", inference.Metadata{Titles: inference.Localized{En: "Short", Ar: "قصير"}}, 20},
		{"keyword sweet spot", inference.Metadata{Keywords: inference.KeywordSet{En: many}}, 50},
		{"too many keywords", inference.Metadata{Keywords: inference.KeywordSet{En: tooMany}}, 30},
		{"blank keywords ignored", inference.Metadata{Keywords: inference.KeywordSet{En: []string{" ", ""}}}, 20},
		{"everything", inference.Metadata{
			Titles:   inference.Localized{En: "A long english title", Ar: "عنوان طويل"},
			Keywords: inference.KeywordSet{En: many},
			Category: inference.Localized{En: "Nature"},
		}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SEOScore(tt.md))
		})
	}
}

func TestBridge_RelaysBusEvents(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)
	b, err := NewBridge(h.inj, 16, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, h.inj.Do(func(api *injector.PageAPI) {
		extra := h.doc.CreateElement("input")
		extra.SetAttribute("id", "credit")
		h.doc.GetElementByID("meta").AppendChild(extra)
	}))

	select {
	case ev := <-b.Events():
		assert.Equal(t, bus.FieldRegistered, ev.Name)
		detail, ok := ev.Detail.(bus.FieldRegisteredDetail)
		require.True(t, ok, "detail is %T", ev.Detail)
		assert.Equal(t, "credit", detail.Key)
	case <-time.After(time.Second):
		t.Fatal("no event relayed")
	}

	require.NoError(t, b.Close())
	_, open := <-b.Events()
	assert.False(t, open)
	assert.NoError(t, b.Close())
}

func TestBridge_DropsWhenFull(t *testing.T) {
	h := newHarness(t, metadataPage, "https://stock.example/warehouse/new", defaultSettings)
	b, err := NewBridge(h.inj, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, h.inj.Do(func(api *injector.PageAPI) {
		for i := 0; i < 3; i++ {
			api.Bus().Publish(bus.DragEnter, bus.DragDetail{})
		}
	}))
	assert.Equal(t, int64(2), b.Dropped())
	ev := <-b.Events()
	assert.Equal(t, bus.DragEnter, ev.Name)
}
