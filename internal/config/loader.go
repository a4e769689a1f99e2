package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/realtalk/internal/evaluator"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMaxAudioBytes    = 10 << 20
	DefaultEvalTimeout      = 20 * time.Second
	DefaultRateLimitBackoff = 3 * time.Second
	DefaultTemperature      = 0.3
	DefaultLanguage         = "en"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
	"tts": {"openai", "elevenlabs", "google", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxAudioBytes == 0 {
		cfg.Server.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if cfg.Evaluator.Timeout == 0 {
		cfg.Evaluator.Timeout = DefaultEvalTimeout
	}
	if cfg.Evaluator.RateLimitBackoff == 0 {
		cfg.Evaluator.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if cfg.Evaluator.Temperature == 0 {
		cfg.Evaluator.Temperature = DefaultTemperature
	}
	if cfg.Evaluator.Leniency == nil {
		l := evaluator.DefaultLeniency()
		cfg.Evaluator.Leniency = &l
	}
	if cfg.Practice.PassRatio == 0 {
		cfg.Practice.PassRatio = evaluator.DefaultPassRatio
	}
	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = "nova"
	}
	if cfg.Speech.Speed == 0 {
		cfg.Speech.Speed = 0.77
	}
	if cfg.Lesson.Language == "" {
		cfg.Lesson.Language = DefaultLanguage
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_audio_bytes %d must not be negative", cfg.Server.MaxAudioBytes))
	}

	for kind, e := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, e.Name)
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, fb.Name)
		}
		if e.Name == "" && len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s has fallbacks but no name", kind))
		}
	}

	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required: the tutor must be able to speak"))
	}
	if cfg.Providers.LLM.Name == "" && cfg.Evaluator.RemoteURL == "" {
		slog.Warn("no LLM provider and no evaluator.remote_url configured; lessons use the local rules only")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; the browser must send transcripts")
	}

	if u := cfg.Evaluator.RemoteURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("evaluator.remote_url %q must be an absolute http(s) URL", u))
		}
	}
	if cfg.Evaluator.Timeout < 0 || cfg.Evaluator.RateLimitBackoff < 0 {
		errs = append(errs, errors.New("evaluator.timeout and evaluator.rate_limit_backoff must not be negative"))
	}
	if t := cfg.Evaluator.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("evaluator.temperature %.2f is out of range [0, 2]", t))
	}
	cb := cfg.Evaluator.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("evaluator.circuit_breaker values must not be negative"))
	}
	if cfg.Evaluator.Leniency != nil {
		for _, p := range cfg.Evaluator.Leniency.Validate() {
			errs = append(errs, fmt.Errorf("evaluator.leniency: %s", p))
		}
	}

	if r := cfg.Practice.PassRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("practice.pass_ratio %.2f is out of range (0, 1]", r))
	}
	if cfg.Practice.SuccessPause < 0 || cfg.Practice.BlinkPause < 0 {
		errs = append(errs, errors.New("practice pauses must not be negative"))
	}

	if s := cfg.Speech.Speed; s < 0.25 || s > 4.0 {
		errs = append(errs, fmt.Errorf("speech.speed %.2f is out of range [0.25, 4.0]", s))
	}
	if cfg.Speech.BaseWait < 0 || cfg.Speech.PerCharWait < 0 || cfg.Speech.MaxWait < 0 {
		errs = append(errs, errors.New("speech wait bounds must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
