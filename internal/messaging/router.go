package messaging

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler answers one action. A returned error becomes a failure reply.
type Handler func(ctx context.Context, req Request) (Reply, error)

// Router is the background side of the channel. Every dispatched request
// produces exactly one reply: unknown actions, handler errors and handler
// panics are all converted into failure replies.
type Router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	inflight sync.WaitGroup
}

// NewRouter creates a router with no handlers.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:   logger.Named("router"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for action, replacing any previous handler.
func (r *Router) Handle(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions returns the registered actions, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Dispatch handles req on its own goroutine and passes the reply to respond.
// respond is called exactly once. Concurrent requests complete independently.
func (r *Router) Dispatch(ctx context.Context, req Request, respond func(Reply)) {
	traceID := uuid.NewString()
	logger := r.logger.With(zap.String("action", req.Action), zap.String("trace_id", traceID))
	reply := newResponder(respond, logger)

	r.mu.RLock()
	h, ok := r.handlers[req.Action]
	r.mu.RUnlock()

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Action handler panicked", zap.Any("panic", p), zap.Stack("stack"))
				_ = reply.send(Fail(fmt.Errorf("%s failed: %v", req.Action, p)))
			}
		}()

		if !ok {
			logger.Warn("Unknown action")
			_ = reply.send(Reply{Success: false, Error: UnknownActionError})
			return
		}

		logger.Debug("Handling action")
		rep, err := h(ctx, req)
		if err != nil {
			logger.Warn("Action failed", zap.Error(err))
			failed := Fail(err)
			failed.Online = rep.Online
			rep = failed
		}
		if err := reply.send(rep); err != nil {
			logger.Error("Handler replied more than once", zap.Error(err))
		}
	}()
}

// Send dispatches req and waits for its reply. It makes the Router usable as
// an in-process Transport.
func (r *Router) Send(ctx context.Context, req Request) (Reply, error) {
	ch := make(chan Reply, 1)
	r.Dispatch(ctx, req, func(rep Reply) { ch <- rep })
	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Wait blocks until every dispatched request has replied.
func (r *Router) Wait() { r.inflight.Wait() }

type responder struct {
	once   sync.Once
	fn     func(Reply)
	logger *zap.Logger
}

func newResponder(fn func(Reply), logger *zap.Logger) *responder {
	return &responder{fn: fn, logger: logger}
}

func (r *responder) send(rep Reply) error {
	sent := false
	r.once.Do(func() {
		sent = true
		r.fn(rep)
	})
	if !sent {
		return ErrAlreadyReplied
	}
	return nil
}
