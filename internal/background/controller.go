// Package background is the privileged realm: it owns the inference server
// connection, the usage stats and the user settings, and answers the content
// realm's requests through a messaging.Router.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/metafill/internal/inference"
)

// Inference is the subset of the inference client the controller uses.
type Inference interface {
	Analyze(ctx context.Context, image string) (*inference.Analysis, error)
	Translate(ctx context.Context, text, targetLang string) (*inference.Translation, error)
	Optimize(ctx context.Context, req inference.OptimizeRequest) (*inference.Optimization, error)
	Health(ctx context.Context) bool
}

// Config holds the default user settings.
type Config struct {
	AutoFillEnabled      bool          `mapstructure:"auto_fill_enabled" yaml:"auto_fill_enabled"`
	NotificationsEnabled bool          `mapstructure:"notifications_enabled" yaml:"notifications_enabled"`
	ArabicPriority       bool          `mapstructure:"arabic_priority" yaml:"arabic_priority"`
	HealthInterval       time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// DefaultConfig enables auto fill and notifications and checks health every 30s.
func DefaultConfig() Config {
	return Config{
		AutoFillEnabled:      true,
		NotificationsEnabled: true,
		HealthInterval:       30 * time.Second,
	}
}

// Settings is the getSettings reply.
type Settings struct {
	AutoFillEnabled      bool   `json:"autoFillEnabled"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	ArabicPriority       bool   `json:"arabicPriority"`
	APIURL               string `json:"apiUrl"`
}

// Stats are the usage counters. LastActive is milliseconds since the epoch.
type Stats struct {
	ImagesProcessed   int64 `json:"imagesProcessed"`
	KeywordsGenerated int64 `json:"keywordsGenerated"`
	LastActive        int64 `json:"lastActive"`
}

// StatsDelta is an updateStats increment.
type StatsDelta struct {
	ImagesProcessed   int64 `json:"imagesProcessed"`
	KeywordsGenerated int64 `json:"keywordsGenerated"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets where connectivity changes are reported.
func WithNotifier(n Notifier) Option { return func(c *Controller) { c.notifier = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithStats seeds the counters, for example from a previous run.
func WithStats(s Stats) Option { return func(c *Controller) { c.stats = s } }

// Controller tracks server connectivity and stats. It starts offline until
// the first health check succeeds.
type Controller struct {
	inf      Inference
	cfg      Config
	apiURL   string
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger

	online  atomic.Bool
	checked atomic.Bool
	health  singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// New builds a controller over inf. apiURL is reported through getSettings.
func New(inf Inference, apiURL string, cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}
	c := &Controller{
		inf:    inf,
		cfg:    cfg,
		apiURL: apiURL,
		now:    time.Now,
		logger: logger.Named("background"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NewLogNotifier(c.logger)
	}
	if c.stats.LastActive == 0 {
		c.stats.LastActive = c.now().UnixMilli()
	}
	return c
}

// Online reports the last known server state.
func (c *Controller) Online() bool { return c.online.Load() }

// Run checks health immediately and then every HealthInterval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.CheckHealth(ctx)
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CheckHealth(ctx)
		}
	}
}

// CheckHealth probes the server and records the result. Concurrent callers
// share one probe. The probe is not bound to any caller's cancellation; the
// inference client's health timeout bounds it. A caller whose ctx ends first
// gets false without affecting the recorded state.
func (c *Controller) CheckHealth(ctx context.Context) bool {
	probe := context.WithoutCancel(ctx)
	ch := c.health.DoChan("health", func() (interface{}, error) {
		ok := c.inf.Health(probe)
		c.setOnline(ok)
		return ok, nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

// setOnline records the state and notifies on a change. The very first
// result establishes the baseline and is not a change.
func (c *Controller) setOnline(ok bool) {
	was := c.online.Swap(ok)
	first := !c.checked.Swap(true)
	if first || was == ok {
		return
	}
	if ok {
		c.logger.Info("Inference server is back online")
		c.notify(Notification{Title: "Server Online", Message: "Inference server connection restored", Level: LevelInfo})
	} else {
		c.logger.Warn("Inference server went offline")
		c.notify(Notification{Title: "Server Offline", Message: "Inference server connection lost", Level: LevelError})
	}
}

func (c *Controller) notify(n Notification) {
	if !c.cfg.NotificationsEnabled {
		return
	}
	c.notifier.Notify(n)
}

// guard fails fast while offline and demotes the server on transport failure.
func (c *Controller) guard(op string, call func() error) error {
	if !c.online.Load() {
		return fmt.Errorf("%s: %w: start the inference server", op, inference.ErrServerOffline)
	}
	err := call()
	if errors.Is(err, inference.ErrServerOffline) {
		c.setOnline(false)
	}
	if err != nil {
		c.logger.Error("Inference call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// Analyze generates metadata for a base64 image and counts it.
func (c *Controller) Analyze(ctx context.Context, image string) (*inference.Analysis, error) {
	var res *inference.Analysis
	err := c.guard("analyze", func() (err error) {
		res, err = c.inf.Analyze(ctx, image)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.UpdateStats(StatsDelta{ImagesProcessed: 1})
	return res, nil
}

// Translate translates text into targetLang.
func (c *Controller) Translate(ctx context.Context, text, targetLang string) (*inference.Translation, error) {
	var res *inference.Translation
	err := c.guard("translate", func() (err error) {
		res, err = c.inf.Translate(ctx, text, targetLang)
		return err
	})
	return res, err
}

// Optimize improves title and keywords and counts the generated keywords.
func (c *Controller) Optimize(ctx context.Context, req inference.OptimizeRequest) (*inference.Optimization, error) {
	var res *inference.Optimization
	err := c.guard("optimize", func() (err error) {
		res, err = c.inf.Optimize(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.UpdateStats(StatsDelta{KeywordsGenerated: int64(len(res.OptimizedKeywords))})
	return res, nil
}

// UpdateStats adds d to the counters and stamps LastActive.
func (c *Controller) UpdateStats(d StatsDelta) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.ImagesProcessed > 0 {
		c.stats.ImagesProcessed += d.ImagesProcessed
	}
	if d.KeywordsGenerated > 0 {
		c.stats.KeywordsGenerated += d.KeywordsGenerated
	}
	c.stats.LastActive = c.now().UnixMilli()
	return c.stats
}

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Settings returns the effective user settings.
func (c *Controller) Settings() Settings {
	return Settings{
		AutoFillEnabled:      c.cfg.AutoFillEnabled,
		NotificationsEnabled: c.cfg.NotificationsEnabled,
		ArabicPriority:       c.cfg.ArabicPriority,
		APIURL:               c.apiURL,
	}
}
