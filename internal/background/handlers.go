package background

import (
	"context"
	"errors"

	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/messaging"
)

type analyzePayload struct {
	ImageData string `json:"imageData"`
}

type translatePayload struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
}

type optimizePayload struct {
	Metadata inference.OptimizeRequest `json:"metadata"`
}

type statsPayload struct {
	Stats StatsDelta `json:"stats"`
}

// Register answers the whole action vocabulary on r.
func (c *Controller) Register(r *messaging.Router) {
	r.Handle(messaging.ActionAnalyzeImage, c.handleAnalyze)
	r.Handle(messaging.ActionTranslateText, c.handleTranslate)
	r.Handle(messaging.ActionOptimizeMetadata, c.handleOptimize)
	r.Handle(messaging.ActionUpdateStats, c.handleUpdateStats)
	r.Handle(messaging.ActionGetStats, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK(c.Stats()), nil
	})
	r.Handle(messaging.ActionCheckServerStatus, func(ctx context.Context, _ messaging.Request) (messaging.Reply, error) {
		online := c.CheckHealth(ctx)
		return messaging.Reply{Success: true, Online: &online}, nil
	})
	r.Handle(messaging.ActionGetSettings, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK(c.Settings()), nil
	})
}

// withOnline returns err with the current server state attached; the router
// keeps Online on the failure reply it builds.
func (c *Controller) withOnline(err error) (messaging.Reply, error) {
	online := c.Online()
	return messaging.Reply{Online: &online}, err
}

func (c *Controller) handleAnalyze(ctx context.Context, req messaging.Request) (messaging.Reply, error) {
	var p analyzePayload
	if err := req.Decode(&p); err != nil {
		return messaging.Reply{}, err
	}
	if p.ImageData == "" {
		return messaging.Reply{}, errors.New("imageData is required")
	}
	res, err := c.Analyze(ctx, p.ImageData)
	if err != nil {
		return c.withOnline(err)
	}
	return messaging.OK(res), nil
}

func (c *Controller) handleTranslate(ctx context.Context, req messaging.Request) (messaging.Reply, error) {
	var p translatePayload
	if err := req.Decode(&p); err != nil {
		return messaging.Reply{}, err
	}
	if p.TargetLang == "" {
		return messaging.Reply{}, errors.New("targetLang is required")
	}
	res, err := c.Translate(ctx, p.Text, p.TargetLang)
	if err != nil {
		return c.withOnline(err)
	}
	return messaging.OK(res), nil
}

func (c *Controller) handleOptimize(ctx context.Context, req messaging.Request) (messaging.Reply, error) {
	var p optimizePayload
	if err := req.Decode(&p); err != nil {
		return messaging.Reply{}, err
	}
	res, err := c.Optimize(ctx, p.Metadata)
	if err != nil {
		return c.withOnline(err)
	}
	return messaging.OK(res), nil
}

func (c *Controller) handleUpdateStats(_ context.Context, req messaging.Request) (messaging.Reply, error) {
	var p statsPayload
	if err := req.Decode(&p); err != nil {
		return messaging.Reply{}, err
	}
	c.UpdateStats(p.Stats)
	return messaging.Reply{Success: true}, nil
}
