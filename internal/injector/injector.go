// Package injector assembles the in-page components (registry, watcher,
// writer, bus) into the API object that page scripts and the content realm
// call. The object is published on the window under GlobalName.
package injector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/injector/bus"
	"github.com/xkilldash9x/metafill/internal/injector/classify"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
	"github.com/xkilldash9x/metafill/internal/injector/watcher"
	"github.com/xkilldash9x/metafill/internal/injector/writer"
)

// GlobalName is the window property holding the installed API.
const GlobalName = "arabsStockAPI"

// Config groups the tunables of the in-page components.
type Config struct {
	Namespace  string              `mapstructure:"namespace" yaml:"namespace"`
	Vocabulary classify.Vocabulary `mapstructure:"vocabulary" yaml:"vocabulary"`
	Watcher    watcher.Config      `mapstructure:"watcher" yaml:"watcher"`
}

// DefaultConfig returns the standard namespace, vocabulary and timings.
func DefaultConfig() Config {
	return Config{
		Namespace:  bus.DefaultNamespace,
		Vocabulary: classify.DefaultVocabulary(),
		Watcher:    watcher.DefaultConfig(),
	}
}

// GlobalProbe reports whether a script global exists. The JS realm implements
// it so that framework globals defined by page scripts are visible.
type GlobalProbe interface {
	HasGlobal(name string) bool
}

type options struct {
	cfg     Config
	logger  *zap.Logger
	globals []GlobalProbe
}

// Option configures an installation.
type Option func(*options)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option { return func(o *options) { o.cfg = cfg } }

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithGlobals adds a source of script globals for framework detection.
func WithGlobals(p GlobalProbe) Option {
	return func(o *options) { o.globals = append(o.globals, p) }
}

// Attach installs the API on doc's window, or returns the one already there.
// installed reports whether this call created it. Attach must run on the
// document's event loop; off-loop callers use Install.
func Attach(doc *dom.Document, opts ...Option) (api *PageAPI, installed bool, err error) {
	if existing, ok := doc.Window().Get(GlobalName); ok {
		if api, ok := existing.(*PageAPI); ok {
			return api, false, nil
		}
		return nil, false, fmt.Errorf("window.%s is already defined by the page (%T)", GlobalName, existing)
	}

	o := options{cfg: DefaultConfig(), logger: doc.Logger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("injector")

	store := registry.New(o.logger)
	classifier := classify.New(o.cfg.Vocabulary)
	b := bus.New(doc.Window(), o.cfg.Namespace, o.logger)

	api = &PageAPI{
		doc:        doc,
		store:      store,
		classifier: classifier,
		bus:        b,
		writer:     writer.New(fieldResolver{doc: doc, store: store}, o.logger),
		watcher:    watcher.New(doc, store, classifier, b, o.cfg.Watcher, o.logger),
		logger:     logger,
	}
	api.framework = detectFramework(doc, append([]GlobalProbe{doc.Window()}, o.globals...))

	if err := api.watcher.Start(); err != nil {
		return nil, false, fmt.Errorf("failed to start watcher: %w", err)
	}
	api.hookForms()
	fields := api.watcher.FullScan()
	doc.Window().Set(GlobalName, api)

	logger.Info("Injector installed",
		zap.String("framework", api.framework),
		zap.String("url", doc.Location()),
		zap.Int("fields", fields))
	return api, true, nil
}
