package inference

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api"
	cfg.Timeout = 5 * time.Second
	cfg.HealthTimeout = time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

const analysisBody = `{
	"metadata": {
		"titles": {"en": "Camel caravan crossing dunes", "ar": "قافلة جمال"},
		"keywords": {"en": ["camel", "desert", "dunes"], "ar": ["جمل", "صحراء"]},
		"category": {"en": "Nature", "ar": "طبيعة"},
		"license": "standard"
	},
	"provider": "offline"
}`

func TestAnalyze(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(analysisBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.Analyze(context.Background(), "aGVsbG8=")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"image": "aGVsbG8="}, got)
	assert.Equal(t, "Camel caravan crossing dunes", res.Metadata.Titles.En)
	assert.Equal(t, []string{"camel", "desert", "dunes"}, res.Metadata.Keywords.En)
	assert.Equal(t, "طبيعة", res.Metadata.Category.Ar)
	assert.Equal(t, "standard", res.Metadata.License)
}

func TestTranslateAndOptimize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/api/translate":
			assert.Equal(t, "desert", body["text"])
			assert.Equal(t, "ar", body["target_lang"])
			_, _ = w.Write([]byte(`{"translated_text":"صحراء","target_lang":"ar"}`))
		case "/api/optimize":
			assert.Equal(t, "Desert", body["title"])
			_, _ = w.Write([]byte(`{"optimized_title":"Golden desert","optimized_keywords":["desert","sand","gold"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tr, err := c.Translate(context.Background(), "desert", "ar")
	require.NoError(t, err)
	assert.Equal(t, "صحراء", tr.TranslatedText)

	opt, err := c.Optimize(context.Background(), OptimizeRequest{Title: "Desert", Keywords: []string{"desert"}})
	require.NoError(t, err)
	assert.Equal(t, "Golden desert", opt.OptimizedTitle)
	assert.Len(t, opt.OptimizedKeywords, 3)
}

func TestCompressedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		switch r.URL.Query().Get("enc") {
		case "br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write([]byte(analysisBody))
			_ = bw.Close()
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gw := gzip.NewWriter(w)
			_, _ = gw.Write([]byte(analysisBody))
			_ = gw.Close()
		default:
			w.Header().Set("Content-Encoding", "zstd")
			_, _ = w.Write([]byte("??"))
		}
	}))
	defer srv.Close()

	for _, enc := range []string{"br", "gzip"} {
		t.Run(enc, func(t *testing.T) {
			c := newTestClient(t, srv, func(cfg *Config) { cfg.BaseURL = srv.URL + "/api?enc=" + enc })
			// The query survives on the base URL and is reused for every endpoint.
			var out Analysis
			require.NoError(t, c.post(context.Background(), "/analyze", map[string]string{"image": "x"}, &out))
			assert.Equal(t, "camel", out.Metadata.Keywords.En[0])
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		c := newTestClient(t, srv, func(cfg *Config) { cfg.BaseURL = srv.URL + "/api?enc=zstd" })
		_, err := c.Analyze(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported Content-Encoding")
	})
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Optimize(context.Background(), OptimizeRequest{Title: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "/optimize", se.Endpoint)
	assert.Equal(t, "model not loaded", se.Body)
	assert.False(t, errors.Is(err, ErrServerOffline))
}

func TestUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv)
	srv.Close()

	_, err := c.Translate(context.Background(), "x", "en")
	assert.ErrorIs(t, err, ErrServerOffline)
	assert.False(t, c.Health(context.Background()))
}

func TestHealth(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path, "health lives beside /api, not under it")
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	assert.True(t, c.Health(context.Background()))
	status.Store(http.StatusInternalServerError)
	assert.False(t, c.Health(context.Background()))
}

func TestHealthTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, func(cfg *Config) { cfg.HealthTimeout = 50 * time.Millisecond })
	start := time.Now()
	assert.False(t, c.Health(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"translated_text":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.Burst = 1
	})
	_, err := c.Translate(context.Background(), "a", "en")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Translate(ctx, "b", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"localhost:5000", "ftp://host/api", "://bad"} {
		cfg := DefaultConfig()
		cfg.BaseURL = raw
		_, err := New(cfg, nil)
		assert.Error(t, err, raw)
	}
}
