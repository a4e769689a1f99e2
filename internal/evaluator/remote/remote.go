// Package remote is the HTTP client of the evaluation service. It implements
// the remote strategy of every evaluator operation.
//
// The client consults a per-lesson [evaluator.Availability] before each call
// and returns [evaluator.ErrUnavailable] without touching the network when
// the service said it cannot answer. A 429 answer is retried exactly once
// after a fixed backoff; every other non-2xx answer becomes a [*StatusError].
// Callers are expected to fall back to the local rules on any error, which
// [evaluator.Service] does.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/resilience"
	"github.com/MrWong99/realtalk/pkg/types"
)

var _ evaluator.Remote = (*Client)(nil)

const (
	defaultBackoff = 3 * time.Second
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
	providerName   = "evaluation-service"
)

// StatusError is a non-2xx answer from the evaluation service.
type StatusError struct {
	Code    int
	Message string
	UseMock bool
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Code, msg)
}

func isRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Default: a client with a 20s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBackoff sets the wait before the single rate-limit retry. Default: 3s.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithAvailability shares an availability cache. Default: a new cache that
// probes this client's service.
func WithAvailability(a *evaluator.Availability) Option {
	return func(c *Client) { c.avail = a }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to one evaluation service. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	backoff time.Duration
	avail   *evaluator.Availability
	metrics *observe.Metrics
}

// New returns a client for the service at baseURL (e.g.
// "http://localhost:8080"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		backoff: defaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	if c.avail == nil {
		c.avail = evaluator.NewAvailability(c.Probe)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Availability returns the cache the client consults.
func (c *Client) Availability() *evaluator.Availability { return c.avail }

// Probe asks the service whether it can evaluate. Any failure, including a
// malformed answer, counts as unavailable.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathAvailability, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		observe.Logger(ctx).Info("evaluation service unreachable, using local rules", "error", err)
		return false
	}
	defer resp.Body.Close()

	var ar AvailabilityResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&ar) != nil {
		observe.Logger(ctx).Info("evaluation service availability check failed", "status", resp.StatusCode)
		return false
	}
	observe.Logger(ctx).Info("evaluation service availability", "available", ar.Available)
	return ar.Available
}

// Evaluate implements [evaluator.Evaluator].
func (c *Client) Evaluate(ctx context.Context, userText string, history []types.SummaryItem, turn int) (evaluator.Result, error) {
	data, err := c.post(ctx, "utterance", PathUtterance, UtteranceRequest{
		UserText:            userText,
		ConversationSummary: nonNil(history),
		UserTurnIndex:       turn,
	})
	if err != nil {
		return evaluator.Result{}, err
	}
	return evaluator.DecodeResult(data)
}

// Grade implements [evaluator.Grader].
func (c *Client) Grade(ctx context.Context, attempt, target string) (bool, error) {
	data, err := c.post(ctx, "grade", PathGrade, GradeRequest{Correct: target, UserText: attempt})
	if err != nil {
		return false, err
	}
	return evaluator.DecodeGrade(data)
}

// Score implements [evaluator.Scorer]. Scores are clamped to [1, 5].
func (c *Client) Score(ctx context.Context, summary []types.SummaryItem, errs []types.ErrorLogItem) (types.SessionEvaluation, error) {
	data, err := c.post(ctx, "session", PathSession, SessionRequest{
		ConversationSummary: nonNil(summary),
		ErrorLog:            nonNil(errs),
	})
	if err != nil {
		return types.SessionEvaluation{}, err
	}
	return evaluator.DecodeEvaluation(data)
}

// post sends body to path and returns the raw 2xx answer.
func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	if !c.avail.Available(ctx) {
		return nil, evaluator.ErrUnavailable
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: encode %s request: %w", op, err)
	}

	var data []byte
	err = resilience.RetryOnce(ctx, c.backoff, isRateLimited, func() error {
		var err error
		data, err = c.do(ctx, op, path, payload)
		return err
	})
	if err != nil {
		c.metrics.RecordProviderError(ctx, providerName, op)
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, op, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, providerName, op, "transport_error")
		return nil, fmt.Errorf("remote: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordProviderRequest(ctx, providerName, op, strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			se.Message = er.Error
			se.UseMock = er.UseMock
		}
		observe.Logger(ctx).Warn("evaluation service refused request",
			"op", op, "status", se.Code, "use_mock", se.UseMock, "error", truncate(se.Message, 80))
		return nil, se
	}
	return data, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
