package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"speech-stream-bridge/internal/app"
	"speech-stream-bridge/internal/config"
	"speech-stream-bridge/internal/observability/metrics"
	"speech-stream-bridge/internal/service/stt"
)

func testConfig() *config.Configuration {
	cfg := config.Load()
	cfg.STT.Provider = stt.ProviderMock
	cfg.Kafka.Enabled = false
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestMain(m *testing.M) {
	app.InitLogging(testConfig())
	os.Exit(m.Run())
}

func newTestApp(t *testing.T) *app.Application {
	t.Helper()
	cfg := testConfig()

	a, err := app.New(cfg, app.WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func TestRouter(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	tests := []struct {
		name       string
		path       string
		busy       bool
		wantStatus int
		wantBody   string
	}{
		{"liveness", "/v1/liveness", false, http.StatusOK, "ok"},
		{"readiness", "/v1/readiness", false, http.StatusOK, "ready"},
		{"readiness busy", "/v1/readiness", true, http.StatusServiceUnavailable, "busy"},
		{"metrics", "/metrics", false, http.StatusOK, ""},
		{"stream without upgrade", "/v1/stream?format=mp3", false, http.StatusBadRequest, ""},
		{"unknown", "/v1/nope", false, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.busy {
				if !a.AcquireStream() {
					t.Fatal("could not acquire stream slot")
				}
				defer a.ReleaseStream()
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(rec.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}
