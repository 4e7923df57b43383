// Package content is the middle realm: it sits between the page, reached
// through an installed injector, and the background, reached through the
// request channel. It decides whether a page is an upload page, finds the
// metadata fields and fills them from analysis results.
package content

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/background"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/messaging"
)

// ErrBusy is returned when an analysis is requested while one is running.
var ErrBusy = errors.New("an image analysis is already in progress")

// Config configures the content realm.
type Config struct {
	// UploadPathPatterns mark a URL as an upload page when any is a substring.
	UploadPathPatterns []string `mapstructure:"upload_path_patterns" yaml:"upload_path_patterns"`
	// KeywordSeparator joins keyword lists written into a single field.
	KeywordSeparator string `mapstructure:"keyword_separator" yaml:"keyword_separator"`
}

// DefaultConfig matches the stock contributor site.
func DefaultConfig() Config {
	return Config{
		UploadPathPatterns: []string{"/warehouse", "/upload", "/edit"},
		KeywordSeparator:   ", ",
	}
}

// Orchestrator drives one page. Its methods may be called from any goroutine
// except the page's event loop.
type Orchestrator struct {
	inj    *injector.Injector
	client *messaging.Client
	cfg    Config
	logger *zap.Logger

	processing atomic.Bool
}

// New wires an orchestrator to a page and to the background.
func New(inj *injector.Injector, client *messaging.Client, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeywordSeparator == "" {
		cfg.KeywordSeparator = DefaultConfig().KeywordSeparator
	}
	return &Orchestrator{inj: inj, client: client, cfg: cfg, logger: logger.Named("content")}
}

// Injector returns the page handle.
func (o *Orchestrator) Injector() *injector.Injector { return o.inj }

// IsUploadPage reports whether the URL matches an upload pattern or the page
// has a file input.
func (o *Orchestrator) IsUploadPage() (upload bool, err error) {
	err = o.inj.Do(func(api *injector.PageAPI) {
		doc := api.Document()
		loc := doc.Location()
		for _, p := range o.cfg.UploadPathPatterns {
			if p != "" && strings.Contains(loc, p) {
				upload = true
				return
			}
		}
		upload = doc.QuerySelector(`input[type="file"]`) != nil
	})
	return upload, err
}

// AnalyzeImage asks the background to analyze a base64 image. A data URL
// prefix is stripped. Only one analysis runs at a time per orchestrator.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, image string) (*inference.Analysis, error) {
	if !o.processing.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.processing.Store(false)

	if i := strings.Index(image, ";base64,"); i >= 0 && strings.HasPrefix(image, "data:") {
		image = image[i+len(";base64,"):]
	}
	var out inference.Analysis
	if err := o.client.Call(ctx, messaging.ActionAnalyzeImage, map[string]string{"imageData": image}, &out); err != nil {
		o.logger.Warn("Image analysis failed", zap.Error(err))
		return nil, err
	}
	return &out, nil
}

// Translate asks the background to translate text.
func (o *Orchestrator) Translate(ctx context.Context, text, targetLang string) (*inference.Translation, error) {
	var out inference.Translation
	payload := map[string]string{"text": text, "targetLang": targetLang}
	if err := o.client.Call(ctx, messaging.ActionTranslateText, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Optimize asks the background to optimize a title and keywords.
func (o *Orchestrator) Optimize(ctx context.Context, req inference.OptimizeRequest) (*inference.Optimization, error) {
	var out inference.Optimization
	if err := o.client.Call(ctx, messaging.ActionOptimizeMetadata, map[string]any{"metadata": req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerOnline asks the background to probe the inference server.
func (o *Orchestrator) ServerOnline(ctx context.Context) (bool, error) {
	rep, err := o.client.Send(ctx, messaging.ActionCheckServerStatus, nil)
	if err != nil {
		return false, err
	}
	if err := rep.Err(); err != nil {
		return false, err
	}
	return rep.Online != nil && *rep.Online, nil
}

// Settings fetches the user settings.
func (o *Orchestrator) Settings(ctx context.Context) (background.Settings, error) {
	var s background.Settings
	err := o.client.Call(ctx, messaging.ActionGetSettings, nil, &s)
	return s, err
}

// Stats fetches the usage counters.
func (o *Orchestrator) Stats(ctx context.Context) (background.Stats, error) {
	var s background.Stats
	err := o.client.Call(ctx, messaging.ActionGetStats, nil, &s)
	return s, err
}
