package messaging_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/metafill/internal/messaging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collect dispatches req and gathers every reply delivered until the router is idle.
func collect(t *testing.T, r *messaging.Router, req messaging.Request) []messaging.Reply {
	t.Helper()
	var (
		mu      sync.Mutex
		replies []messaging.Reply
	)
	r.Dispatch(context.Background(), req, func(rep messaging.Reply) {
		mu.Lock()
		replies = append(replies, rep)
		mu.Unlock()
	})
	r.Wait()
	mu.Lock()
	defer mu.Unlock()
	return replies
}

func TestRouter_FailingHandlersReplyOnce(t *testing.T) {
	failures := map[string]messaging.Handler{
		"panic": func(context.Context, messaging.Request) (messaging.Reply, error) {
			panic("handler exploded")
		},
		"error": func(context.Context, messaging.Request) (messaging.Reply, error) {
			return messaging.Reply{}, errors.New("server error: 500")
		},
		"nil map write": func(context.Context, messaging.Request) (messaging.Reply, error) {
			var m map[string]int
			m["x"]++
			return messaging.OK(nil), nil
		},
	}

	for name, h := range failures {
		for _, action := range messaging.Actions {
			t.Run(name+"/"+action, func(t *testing.T) {
				r := messaging.NewRouter(zaptest.NewLogger(t))
				r.Handle(action, h)

				replies := collect(t, r, messaging.Request{Action: action})
				require.Len(t, replies, 1)
				assert.False(t, replies[0].Success)
				assert.NotEmpty(t, replies[0].Error)
			})
		}
	}
}

func TestRouter_UnknownAction(t *testing.T) {
	r := messaging.NewRouter(zaptest.NewLogger(t))
	replies := collect(t, r, messaging.Request{Action: "openPopup"})
	assert.Equal(t, []messaging.Reply{{Success: false, Error: "unknown action"}}, replies)
}

func TestRouter_ErrorKeepsOnlineFlag(t *testing.T) {
	r := messaging.NewRouter(zaptest.NewLogger(t))
	offline := false
	r.Handle(messaging.ActionAnalyzeImage, func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.Reply{Online: &offline}, errors.New("server is offline")
	})

	rep, err := r.Send(context.Background(), messaging.Request{Action: messaging.ActionAnalyzeImage})
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.Equal(t, "server is offline", rep.Error)
	require.NotNil(t, rep.Online)
	assert.False(t, *rep.Online)
}

func TestRouter_ConcurrentRequestsCompleteIndependently(t *testing.T) {
	r := messaging.NewRouter(zaptest.NewLogger(t))
	release := make(chan struct{})
	r.Handle("slow", func(ctx context.Context, _ messaging.Request) (messaging.Reply, error) {
		<-release
		return messaging.OK("slow"), nil
	})
	r.Handle("fast", func(context.Context, messaging.Request) (messaging.Reply, error) {
		return messaging.OK("fast"), nil
	})

	var order []string
	var mu sync.Mutex
	record := func(rep messaging.Reply) {
		mu.Lock()
		order = append(order, rep.Data.(string))
		mu.Unlock()
	}
	r.Dispatch(context.Background(), messaging.Request{Action: "slow"}, record)

	var fastDone atomic.Bool
	r.Dispatch(context.Background(), messaging.Request{Action: "fast"}, func(rep messaging.Reply) {
		record(rep)
		fastDone.Store(true)
	})
	require.Eventually(t, fastDone.Load, time.Second, time.Millisecond)
	close(release)
	r.Wait()

	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestRouter_SendHonoursContext(t *testing.T) {
	r := messaging.NewRouter(zaptest.NewLogger(t))
	release := make(chan struct{})
	r.Handle(messaging.ActionGetStats, func(context.Context, messaging.Request) (messaging.Reply, error) {
		<-release
		return messaging.OK(nil), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Send(ctx, messaging.Request{Action: messaging.ActionGetStats})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	r.Wait()
}

func TestRouter_Actions(t *testing.T) {
	r := messaging.NewRouter(nil)
	noop := func(context.Context, messaging.Request) (messaging.Reply, error) { return messaging.OK(nil), nil }
	r.Handle(messaging.ActionGetStats, noop)
	r.Handle(messaging.ActionAnalyzeImage, noop)
	assert.Equal(t, []string{"analyzeImage", "getStats"}, r.Actions())
}

func TestClient_Call(t *testing.T) {
	r := messaging.NewRouter(zaptest.NewLogger(t))
	r.Handle(messaging.ActionTranslateText, func(_ context.Context, req messaging.Request) (messaging.Reply, error) {
		var p translatePayload
		if err := req.Decode(&p); err != nil {
			return messaging.Reply{}, err
		}
		return messaging.OK(map[string]string{"translation": "[" + p.TargetLang + "] " + p.Text}), nil
	})
	c := messaging.NewClient(r, zaptest.NewLogger(t))

	var out struct {
		Translation string `json:"translation"`
	}
	require.NoError(t, c.Call(context.Background(), messaging.ActionTranslateText, translatePayload{Text: "sunset", TargetLang: "ar"}, &out))
	assert.Equal(t, "[ar] sunset", out.Translation)

	err := c.Call(context.Background(), "bogus", nil, nil)
	var remote *messaging.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "unknown action", remote.Message)
}
