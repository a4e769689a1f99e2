// Package app wires the RealTalk subsystems into a running server.
//
// New builds the evaluator, the HTTP evaluation API, the lesson gateway and
// the health probes from the config and the providers created by main. Run
// serves HTTP until its context ends, ApplyConfig hot-reloads the tunable
// policies, and Shutdown ends the running lessons before closing providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/internal/dialogue"
	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/evaluator/llmeval"
	"github.com/MrWong99/realtalk/internal/evaluator/remote"
	"github.com/MrWong99/realtalk/internal/gateway"
	"github.com/MrWong99/realtalk/internal/health"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/practice"
	"github.com/MrWong99/realtalk/internal/resilience"
	"github.com/MrWong99/realtalk/internal/server"
	"github.com/MrWong99/realtalk/internal/speech"
	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Providers holds one provider per stage. Nil LLM or STT disables the
// stage; TTS is required.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// App owns the server's subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	listener  net.Listener

	leniency *evaluator.PolicyHolder[evaluator.LeniencyPolicy]
	practice *evaluator.PolicyHolder[evaluator.PracticePolicy]

	// inproc evaluates with the LLM inside this process. Nil without an LLM.
	inproc evaluator.Remote

	api     *server.Server
	gateway *gateway.Gateway
	health  *health.Handler
	handler http.Handler
	http    *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// log_level changes apply without a restart.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New builds the application. providers.TTS must be set.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.TTS == nil {
		return nil, errors.New("app: a TTS provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))

	leniency := evaluator.DefaultLeniency()
	if cfg.Evaluator.Leniency != nil {
		leniency = *cfg.Evaluator.Leniency
	}
	a.leniency = evaluator.NewPolicyHolder(leniency)
	a.practice = evaluator.NewPolicyHolder(cfg.Practice.Policy())

	for _, p := range []any{providers.LLM, providers.STT, providers.TTS} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	if providers.LLM != nil {
		a.inproc = llmeval.New(providers.LLM,
			llmeval.WithTemperature(cfg.Evaluator.Temperature),
			llmeval.WithProviderName(cfg.Providers.LLM.Name),
			llmeval.WithMetrics(a.metrics),
		)
	}

	a.initAPI()
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	a.initHealth()
	a.initHTTP()

	observe.Logger(ctx).Info("app initialised",
		"evaluator", a.evaluatorMode(),
		"stt", cfg.Providers.STT.Name != "",
		"tts", cfg.Providers.TTS.Name,
	)
	return a, nil
}

func (a *App) voice() types.VoiceProfile {
	return types.VoiceProfile{
		ID:          a.cfg.Speech.Voice,
		Provider:    a.cfg.Providers.TTS.Name,
		Language:    a.cfg.Lesson.Language,
		SpeedFactor: a.cfg.Speech.Speed,
	}
}

func (a *App) initAPI() {
	opts := []server.Option{
		server.WithTTS(a.providers.TTS, a.voice()),
		server.WithMaxAudioBytes(a.cfg.Server.MaxAudioBytes),
		server.WithMetrics(a.metrics),
	}
	if a.inproc != nil {
		opts = append(opts, server.WithEvaluator(a.inproc))
	}
	if a.providers.STT != nil {
		opts = append(opts, server.WithSTT(a.providers.STT, a.cfg.Lesson.Language))
	}
	a.api = server.New(opts...)
}

func (a *App) initGateway() error {
	cfg := a.cfg
	opts := []gateway.Option{
		gateway.WithEvaluatorFactory(a.newService),
		gateway.WithMetrics(a.metrics),
		gateway.WithSeed(cfg.Lesson.Seed),
		gateway.WithSpeechOptions(
			speech.WithVoice(a.voice()),
			speech.WithWait(cfg.Speech.BaseWait, cfg.Speech.PerCharWait, cfg.Speech.MaxWait),
			speech.WithProviderName(cfg.Providers.TTS.Name),
		),
		gateway.WithPracticeOptions(practice.WithPauses(cfg.Practice.SuccessPause, cfg.Practice.BlinkPause)),
	}
	if cfg.Lesson.GateFirstLine {
		opts = append(opts, gateway.WithDialogueOptions(dialogue.WithFirstLineGate(true)))
	}
	if a.providers.STT != nil {
		opts = append(opts, gateway.WithSTT(a.providers.STT, cfg.Lesson.Language))
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		opts = append(opts, gateway.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	}
	g, err := gateway.New(a.providers.TTS, opts...)
	if err != nil {
		return err
	}
	a.gateway = g
	return nil
}

// newService builds the evaluator of one lesson. A configured remote
// service gets a fresh client (and with it a fresh availability probe) per
// lesson; otherwise the in-process LLM evaluator is shared.
func (a *App) newService() *evaluator.Service {
	opts := []evaluator.Option{
		evaluator.WithLeniency(a.leniency),
		evaluator.WithPractice(a.practice),
		evaluator.WithMetrics(a.metrics),
		evaluator.WithCircuitBreaker(a.breakerConfig("evaluator")),
	}
	if r := a.lessonRemote(); r != nil {
		opts = append(opts, evaluator.WithRemote(r))
	}
	return evaluator.NewService(opts...)
}

func (a *App) lessonRemote() evaluator.Remote {
	if url := a.cfg.Evaluator.RemoteURL; url != "" {
		c, err := remote.New(url,
			remote.WithTimeout(a.cfg.Evaluator.Timeout),
			remote.WithBackoff(a.cfg.Evaluator.RateLimitBackoff),
			remote.WithMetrics(a.metrics),
		)
		if err == nil {
			return c
		}
		slog.Warn("evaluation service client unusable, using local rules", "url", url, "error", err)
		return nil
	}
	return a.inproc
}

func (a *App) evaluatorMode() string {
	switch {
	case a.cfg.Evaluator.RemoteURL != "":
		return "remote"
	case a.inproc != nil:
		return "llm"
	default:
		return "local"
	}
}

func (a *App) breakerConfig(name string) resilience.CircuitBreakerConfig {
	cb := a.cfg.Evaluator.CircuitBreaker
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
	}
}

func (a *App) initHealth() {
	checks := []health.Checker{
		{Name: "tts", Check: func(context.Context) error { return nil }},
	}
	if a.cfg.Providers.LLM.Name != "" {
		checks = append(checks, health.Checker{Name: "llm", Check: a.api.Ready})
	}
	if url := a.cfg.Evaluator.RemoteURL; url != "" {
		probe, err := remote.New(url, remote.WithTimeout(a.cfg.Evaluator.Timeout), remote.WithMetrics(a.metrics))
		if err == nil {
			checks = append(checks, health.Checker{
				Name:     "evaluator",
				Optional: true,
				Check: func(ctx context.Context) error {
					if !probe.Probe(ctx) {
						return errors.New("evaluation service unavailable")
					}
					return nil
				},
			})
		}
	}
	a.health = health.New(checks...)
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	a.api.Register(mux)
	a.gateway.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.http = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Gateway returns the lesson gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// the app down.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	observe.Logger(ctx).Info("serving", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return eg.Wait()
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// Other changes are logged and wait for a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LeniencyChanged && new.Evaluator.Leniency != nil {
		a.leniency.Store(*new.Evaluator.Leniency)
		slog.Info("leniency policy reloaded", "enabled", new.Evaluator.Leniency.Enabled)
	}
	if d.PracticeChanged {
		a.practice.Store(new.Practice.Policy())
		slog.Info("practice policy reloaded", "pass_ratio", new.Practice.PassRatio, "phonetic", new.Practice.Phonetic)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown ends the running lessons, stops the HTTP server and closes the
// providers. Closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "lessons", len(a.gateway.Lessons()))

		if err := a.gateway.Shutdown(ctx); err != nil {
			slog.Warn("lessons did not end in time", "error", err)
		}
		if err := a.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("http shutdown error", "error", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
