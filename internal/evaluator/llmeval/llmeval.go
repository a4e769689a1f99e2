// Package llmeval implements the evaluator operations on top of an
// [llm.Provider]. It backs the evaluation service endpoints.
//
// Each operation sends a JSON-only system prompt and the request data as a
// JSON user message, strips optional markdown fences from the reply, and
// normalizes it with the same loose decoding the HTTP client uses. An
// unparseable reply is reported as [evaluator.ErrMalformed] so the service
// can tell the client to use its local rules.
package llmeval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/types"
)

var _ evaluator.Remote = (*Evaluator)(nil)

const (
	defaultTemperature = 0.3
	gradeTemperature   = 0.0
	defaultMaxTokens   = 400
)

// Option is a functional option for configuring an [Evaluator].
type Option func(*Evaluator)

// WithTemperature sets the sampling temperature for utterance and session
// evaluation. Grading always uses temperature 0. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(e *Evaluator) { e.temperature = temp }
}

// WithProviderName sets the provider label used in token metrics.
func WithProviderName(name string) Option {
	return func(e *Evaluator) { e.providerName = name }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// Evaluator answers evaluator requests with a language model. It is safe for
// concurrent use.
type Evaluator struct {
	llm          llm.Provider
	temperature  float64
	providerName string
	metrics      *observe.Metrics
	sysUtterance string
}

// New returns an Evaluator backed by provider.
func New(provider llm.Provider, opts ...Option) *Evaluator {
	e := &Evaluator{
		llm:          provider,
		temperature:  defaultTemperature,
		providerName: "llm",
		sysUtterance: utterancePrompt(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Evaluate implements [evaluator.Evaluator].
func (e *Evaluator) Evaluate(ctx context.Context, userText string, history []types.SummaryItem, turn int) (evaluator.Result, error) {
	content, err := e.complete(ctx, "utterance", e.sysUtterance, e.temperature, map[string]any{
		"userText":            userText,
		"conversationSummary": history,
		"userTurnIndex":       turn,
	})
	if err != nil {
		return evaluator.Result{}, err
	}
	res, err := evaluator.DecodeResult([]byte(content))
	if err != nil {
		return evaluator.Result{}, fmt.Errorf("llmeval: utterance: %w", err)
	}
	return res, nil
}

// Score implements [evaluator.Scorer].
func (e *Evaluator) Score(ctx context.Context, summary []types.SummaryItem, errs []types.ErrorLogItem) (types.SessionEvaluation, error) {
	content, err := e.complete(ctx, "session", sessionPrompt, e.temperature, map[string]any{
		"conversationSummary": summary,
		"errorLog":            errs,
	})
	if err != nil {
		return types.SessionEvaluation{}, err
	}
	ev, err := evaluator.DecodeEvaluation([]byte(content))
	if err != nil {
		return types.SessionEvaluation{}, fmt.Errorf("llmeval: session: %w", err)
	}
	return ev, nil
}

// Grade implements [evaluator.Grader].
func (e *Evaluator) Grade(ctx context.Context, attempt, target string) (bool, error) {
	content, err := e.complete(ctx, "grade", gradePrompt, gradeTemperature, map[string]any{
		"target":  target,
		"attempt": attempt,
	})
	if err != nil {
		return false, err
	}
	ok, err := evaluator.DecodeGrade([]byte(content))
	if err != nil {
		return false, fmt.Errorf("llmeval: grade: %w", err)
	}
	return ok, nil
}

// complete sends one request and returns the reply with markdown fences
// removed. Provider errors are wrapped so llm.ErrRateLimited stays visible.
func (e *Evaluator) complete(ctx context.Context, op, system string, temperature float64, input any) (string, error) {
	msg, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("llmeval: %s: encode input: %w", op, err)
	}
	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Temperature:  temperature,
		MaxTokens:    defaultMaxTokens,
		Messages:     []types.Message{{Role: "user", Content: string(msg)}},
	})
	e.metrics.RecordLLMCall(ctx, e.providerName, op, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("llmeval: %s: complete: %w", op, err)
	}
	if resp == nil {
		return "", fmt.Errorf("llmeval: %s: %w: empty completion", op, evaluator.ErrMalformed)
	}

	u := resp.Usage
	e.metrics.RecordLLMUsage(ctx, e.providerName, u.PromptTokens, u.CompletionTokens)
	observe.Logger(ctx).Info("llm usage",
		"op", op,
		"provider", e.providerName,
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens,
	)
	return stripMarkdown(resp.Content), nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models put around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
