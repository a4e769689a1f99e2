// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher of the RealTalk server.
package config

import (
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration. It is typically loaded from a YAML file
// using [Load] or [LoadFromReader], which also fill in defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Practice  PracticeConfig  `yaml:"practice"`
	Speech    SpeechConfig    `yaml:"speech"`
	Lesson    LessonConfig    `yaml:"lesson"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns of browsers allowed to open a lesson
	// from another origin (e.g. "localhost:5173").
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxAudioBytes limits uploaded recordings. Default: 10 MiB.
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the provider implementation of each stage. Each
// entry names a factory registered in the [Registry]. An empty entry
// disables the stage: without an LLM the local rules answer every
// evaluation, without STT the browser must send transcripts.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block of every provider.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "openai", "gemini").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Use ${VAR} to read it from
	// the environment or a .env file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// EvaluatorConfig tunes utterance evaluation.
type EvaluatorConfig struct {
	// RemoteURL points lessons at a separate evaluation service. When empty
	// and providers.llm is set, lessons evaluate in-process with the LLM.
	RemoteURL string `yaml:"remote_url"`

	// Timeout bounds one remote request. Default: 20s.
	Timeout time.Duration `yaml:"timeout"`

	// RateLimitBackoff is the wait before the single retry after a 429.
	// Default: 3s.
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`

	// Temperature of utterance and session prompts. Default: 0.3.
	Temperature float64 `yaml:"temperature"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Leniency discards over-eager remote corrections. Hot-reloadable.
	// Default: [evaluator.DefaultLeniency].
	Leniency *evaluator.LeniencyPolicy `yaml:"leniency"`
}

// CircuitBreakerConfig tunes the breakers in front of the remote evaluator.
// Zero values keep the resilience defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// PracticeConfig tunes the correction-practice drill.
type PracticeConfig struct {
	// PassRatio is the share of target words an attempt must contain when
	// graded locally. Hot-reloadable. Default: 0.7.
	PassRatio float64 `yaml:"pass_ratio"`

	// Phonetic also accepts words that sound like the target word.
	// Hot-reloadable.
	Phonetic bool `yaml:"phonetic"`

	// SuccessPause and BlinkPause default to 1.2s and 1s.
	SuccessPause time.Duration `yaml:"success_pause"`
	BlinkPause   time.Duration `yaml:"blink_pause"`
}

// Policy returns the local grading policy.
func (p PracticeConfig) Policy() evaluator.PracticePolicy {
	return evaluator.PracticePolicy{PassRatio: p.PassRatio, Phonetic: p.Phonetic}
}

// SpeechConfig tunes the tutor voice.
type SpeechConfig struct {
	// Voice is the provider voice ID. Default: "nova".
	Voice string `yaml:"voice"`

	// Speed is the speaking rate. Default: 0.77.
	Speed float64 `yaml:"speed"`

	// BaseWait, PerCharWait and MaxWait bound the wait for the browser to
	// report the end of a line. Defaults: 2s, 90ms, 20s.
	BaseWait    time.Duration `yaml:"base_wait"`
	PerCharWait time.Duration `yaml:"per_char_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// LessonConfig tunes the conversation.
type LessonConfig struct {
	// GateFirstLine holds the greeting until the browser sends listen, so
	// autoplay restrictions cannot swallow it.
	GateFirstLine bool `yaml:"gate_first_line"`

	// Language is the recognition language of learner speech. Default: "en".
	Language string `yaml:"language"`

	// Seed fixes the choice of generic closing lines. Zero picks a random
	// seed per lesson.
	Seed int64 `yaml:"seed"`
}
