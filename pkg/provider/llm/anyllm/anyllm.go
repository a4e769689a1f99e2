// Package anyllm runs the evaluation prompts on any vendor supported by
// github.com/mozilla-ai/any-llm-go (Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp, llamafile and OpenAI).
//
//	p, err := anyllm.New("gemini", "", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/types"
)

type backend struct {
	open func(...anyllmlib.Option) (anyllmlib.Provider, error)
	// model used when the configuration leaves it empty; small and cheap,
	// since the prompts only need a short JSON answer.
	model string
}

var backends = map[string]backend{
	"openai":    {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) }, "gpt-4o-mini"},
	"anthropic": {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) }, "claude-3-5-haiku-latest"},
	"gemini":    {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) }, "gemini-2.0-flash"},
	"ollama":    {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) }, "llama3.2"},
	"deepseek":  {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) }, "deepseek-chat"},
	"mistral":   {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) }, "mistral-small-latest"},
	"groq":      {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) }, "llama-3.1-8b-instant"},
	"llamacpp":  {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) }, "default"},
	"llamafile": {func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) }, "default"},
}

// Vendors lists the accepted vendor names, sorted.
func Vendors() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements [llm.Provider] on top of an any-llm-go backend.
type Provider struct {
	vendor  string
	model   string
	backend anyllmlib.Provider
}

// New opens vendor with opts. An empty model selects the vendor's default.
// Without [anyllmlib.WithAPIKey] the vendor's usual environment variable
// (GEMINI_API_KEY, ANTHROPIC_API_KEY, ...) is used.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	vendor = strings.ToLower(vendor)
	b, ok := backends[vendor]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported vendor %q (supported: %s)", vendor, strings.Join(Vendors(), ", "))
	}
	if model == "" {
		model = b.model
	}
	be, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", vendor, err)
	}
	return &Provider{vendor: vendor, model: model, backend: be}, nil
}

// Model returns the model requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	switch {
	case err != nil && isRateLimit(err):
		return nil, fmt.Errorf("anyllm: %s: %w: %w", p.vendor, llm.ErrRateLimited, err)
	case err != nil:
		return nil, fmt.Errorf("anyllm: %s: %w", p.vendor, err)
	case len(resp.Choices) == 0:
		return nil, fmt.Errorf("anyllm: %s: %w", p.vendor, errNoChoices)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

var errNoChoices = errors.New("response has no choices")

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capabilities(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// isRateLimit recognises quota errors by message; the vendors do not share
// an error type for them.
func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "resource_exhausted", "too many requests"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func capabilities(model string) types.ModelCapabilities {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"):
		return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}
	case strings.HasPrefix(m, "claude"):
		return types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}
	case strings.Contains(m, "gemini-2.5"):
		return types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 65_536}
	case strings.Contains(m, "gemini-2.0"):
		return types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
	case strings.HasPrefix(m, "gemini"):
		return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
