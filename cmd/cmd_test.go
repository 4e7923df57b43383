// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file pointing the inference client at baseURL.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	content := fmt.Sprintf(`
logger:
  level: error
  format: json
inference:
  base_url: %s
  health_timeout: 2s
background:
  health_interval: 1h
  notifications_enabled: false
`, baseURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// executeCommand runs a fresh command tree and returns what it printed.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	rootCmd := NewRootCommand()
	var out, errOut bytes.Buffer
	rootCmd.SetIn(bytes.NewBufferString(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

const analysisResponse = `{
  "metadata": {
    "titles": {"en": "Desert Sunset", "ar": "غروب الصحراء"},
    "keywords": {"en": ["desert", "sunset"], "ar": ["صحراء"]},
    "category": {"en": "Nature", "ar": "طبيعة"},
    "license": "standard"
  },
  "provider": "test"
}`

// newInferenceServer serves /health and /api/analyze.
func newInferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/analyze", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(analysisResponse))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// offlineURL returns a base URL nothing listens on.
func offlineURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/api"
	srv.Close()
	return url
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
