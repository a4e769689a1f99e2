// Command realtalk serves the Real Talk lesson: the evaluation API, the
// lesson WebSocket and the health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/realtalk/internal/app"
	"github.com/MrWong99/realtalk/internal/config"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/resilience"
	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/realtalk/pkg/provider/llm/openai"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/realtalk/pkg/provider/stt/openai"
	"github.com/MrWong99/realtalk/pkg/provider/stt/whisper"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/provider/tts/coqui"
	"github.com/MrWong99/realtalk/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/realtalk/pkg/provider/tts/google"
	oatts "github.com/MrWong99/realtalk/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file read before the config is expanded")
	reload := flag.Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes (0 disables)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "realtalk: load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "realtalk: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "realtalk: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("realtalk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	if *reload > 0 {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithInterval(*reload))
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the provider implementations shipped with
// realtalk into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// openai-go directly; everything else through any-llm.
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(e.APIKey, modelOr(e.Model, "gpt-4o-mini"), opts...)
	})
	for _, name := range anyllm.Vendors() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, oastt.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelOr(e.Model, optString(e.Options, "model_path")), opts...)
	})

	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if e.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, oatts.WithModel(e.Model))
		}
		return oatts.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if f := optString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("google", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []google.Option
		if f := optString(e.Options, "credentials_file"); f != "" {
			opts = append(opts, google.WithCredentialsFile(f))
		}
		return google.New(ctx, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(e.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders creates the configured providers. Entries with fallbacks
// are wrapped in a circuit-breaking fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fb := resilience.FallbackConfig{}

	if e := cfg.Providers.LLM; e.Name != "" {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		if len(e.Fallbacks) == 0 {
			ps.LLM = p
		} else {
			group := resilience.NewLLMFallback(p, e.Name, fb)
			for _, f := range e.Fallbacks {
				fp, err := reg.CreateLLM(f)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", f.Name, err)
				}
				group.AddFallback(f.Name, fp)
			}
			ps.LLM = group
		}
		slog.Info("provider created", "kind", "llm", "name", e.Name, "fallbacks", len(e.Fallbacks))
	}

	if e := cfg.Providers.STT; e.Name != "" {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		if len(e.Fallbacks) == 0 {
			ps.STT = p
		} else {
			group := resilience.NewSTTFallback(p, e.Name, fb)
			for _, f := range e.Fallbacks {
				fp, err := reg.CreateSTT(f)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", f.Name, err)
				}
				group.AddFallback(f.Name, fp)
			}
			ps.STT = group
		}
		slog.Info("provider created", "kind", "stt", "name", e.Name, "fallbacks", len(e.Fallbacks))
	}

	e := cfg.Providers.TTS
	p, err := reg.CreateTTS(e)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", e.Name, err)
	}
	if len(e.Fallbacks) == 0 {
		ps.TTS = p
	} else {
		group := resilience.NewTTSFallback(p, e.Name, fb)
		for _, f := range e.Fallbacks {
			fp, err := reg.CreateTTS(f)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", f.Name, err)
			}
			group.AddFallback(f.Name, fp)
		}
		ps.TTS = group
	}
	slog.Info("provider created", "kind", "tts", "name", e.Name, "fallbacks", len(e.Fallbacks))

	return ps, nil
}

func modelOr(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
