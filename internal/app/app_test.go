package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/evaluator/remote"
	"github.com/MrWong99/realtalk/internal/observe"
	llmmock "github.com/MrWong99/realtalk/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/realtalk/pkg/provider/tts/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testConfig(t *testing.T, edit func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Providers.TTS.Name = "openai"
	if edit != nil {
		edit(cfg)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, p *Providers, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, p, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	return rec.Code, body
}

func TestNew_RequiresTTS(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), testConfig(t, nil), &Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("expected error without a TTS provider")
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		providers     *Providers
		wantAvailable bool
		wantMode      string
	}{
		{
			name:      "local rules only",
			providers: &Providers{TTS: &ttsmock.Provider{}},
			wantMode:  "local",
		},
		{
			name:          "in-process language model",
			providers:     &Providers{LLM: &llmmock.Provider{}, TTS: &ttsmock.Provider{}},
			wantAvailable: true,
			wantMode:      "llm",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t, func(c *config.Config) {
				if tt.providers.LLM != nil {
					c.Providers.LLM.Name = "openai"
				}
			})
			a := newTestApp(t, cfg, tt.providers)

			if got := a.evaluatorMode(); got != tt.wantMode {
				t.Errorf("evaluator mode = %q, want %q", got, tt.wantMode)
			}
			code, body := get(t, a.Handler(), remote.PathAvailability)
			if code != http.StatusOK || body["available"] != tt.wantAvailable {
				t.Errorf("availability = %d %v, want available=%v", code, body, tt.wantAvailable)
			}
			if code, _ := get(t, a.Handler(), "/healthz"); code != http.StatusOK {
				t.Errorf("/healthz = %d", code)
			}
			if code, body := get(t, a.Handler(), "/readyz"); code != http.StatusOK {
				t.Errorf("/readyz = %d %v", code, body)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("/metrics = %d", rec.Code)
			}
		})
	}
}

func TestApp_UnreachableEvaluatorDegradesReadiness(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	cfg := testConfig(t, func(c *config.Config) {
		c.Evaluator.RemoteURL = url
		c.Evaluator.Timeout = time.Second
	})
	a := newTestApp(t, cfg, &Providers{TTS: &ttsmock.Provider{}})

	if got := a.evaluatorMode(); got != "remote" {
		t.Errorf("evaluator mode = %q, want remote", got)
	}
	code, body := get(t, a.Handler(), "/readyz")
	if code != http.StatusOK || body["status"] != "degraded" {
		t.Errorf("/readyz = %d %v, want 200 degraded", code, body)
	}
}

func TestNewService_FallsBackLocally(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	cfg := testConfig(t, func(c *config.Config) { c.Evaluator.RemoteURL = url })
	a := newTestApp(t, cfg, &Providers{TTS: &ttsmock.Provider{}})

	res, err := a.newService().Evaluate(context.Background(), "Jake", nil, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Correction == nil || res.Correction.Sentence != "My name is Jake." {
		t.Errorf("result = %+v, want the local name correction", res)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig(t, nil)
	a := newTestApp(t, old, &Providers{TTS: &ttsmock.Provider{}}, WithLogLevel(level))
	if level.Level() != slog.LevelInfo {
		t.Fatalf("initial level = %v", level.Level())
	}

	updated := testConfig(t, func(c *config.Config) {
		c.Server.LogLevel = config.LogDebug
		c.Practice.PassRatio = 0.5
		c.Practice.Phonetic = true
		c.Evaluator.Leniency = &evaluator.LeniencyPolicy{Enabled: false}
	})
	a.ApplyConfig(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if p := a.practice.Load(); p.PassRatio != 0.5 || !p.Phonetic {
		t.Errorf("practice policy = %+v", p)
	}
	if a.leniency.Load().Enabled {
		t.Error("leniency still enabled")
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	a := newTestApp(t, testConfig(t, nil), &Providers{TTS: &ttsmock.Provider{}}, WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("/healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
