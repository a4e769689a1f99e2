package evaluator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/resilience"
	"github.com/MrWong99/realtalk/pkg/types"
)

// ErrUnavailable is returned by a remote strategy that knows, without making
// a request, that the evaluation service cannot answer. It makes the service
// fall back without counting against the remote circuit breaker.
var ErrUnavailable = errors.New("evaluator: remote evaluation unavailable")

// Remote is the contract of a remote evaluation backend.
type Remote interface {
	Evaluator
	Grader
	Scorer
}

// Compile-time assertions.
var (
	_ Evaluator = (*Service)(nil)
	_ Grader    = (*Service)(nil)
	_ Scorer    = (*Service)(nil)
)

// Service composes the remote and local strategies of every evaluator
// operation. Remote failures are logged and answered locally; Service methods
// never return an error.
//
// Service is safe for concurrent use.
type Service struct {
	eval  *resilience.FallbackGroup[Evaluator]
	grade *resilience.FallbackGroup[Grader]
	score *resilience.FallbackGroup[Scorer]

	hasRemote bool
	leniency  *PolicyHolder[LeniencyPolicy]
	practice  *PolicyHolder[PracticePolicy]
	local     *LocalGrader
	metrics   *observe.Metrics
	breaker   resilience.CircuitBreakerConfig
	remote    Remote
}

// Option configures a [Service].
type Option func(*Service)

// WithRemote puts r in front of the local strategies.
func WithRemote(r Remote) Option {
	return func(s *Service) { s.remote = r }
}

// WithCircuitBreaker tunes the per-strategy circuit breakers.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) { s.breaker = cfg }
}

// WithLeniency shares a hot-reloadable leniency policy.
func WithLeniency(h *PolicyHolder[LeniencyPolicy]) Option {
	return func(s *Service) { s.leniency = h }
}

// WithPractice shares a hot-reloadable practice grading policy.
func WithPractice(h *PolicyHolder[PracticePolicy]) Option {
	return func(s *Service) { s.practice = h }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds a Service. Without [WithRemote] every operation is
// answered by the local strategy.
func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	if s.leniency == nil {
		s.leniency = NewPolicyHolder(DefaultLeniency())
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.local = NewLocalGrader(s.practice)

	cb := s.breaker
	if cb.IsFailure == nil {
		cb.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrUnavailable)
		}
	}
	cfg := resilience.FallbackConfig{CircuitBreaker: cb}

	if s.remote != nil {
		s.hasRemote = true
		s.eval = resilience.NewFallbackGroup[Evaluator](&repairing{remote: s.remote, leniency: s.leniency}, StrategyRemote, cfg)
		s.grade = resilience.NewFallbackGroup[Grader](s.remote, StrategyRemote, cfg)
		s.score = resilience.NewFallbackGroup[Scorer](s.remote, StrategyRemote, cfg)
		s.eval.AddFallback(StrategyLocal, Local{})
		s.grade.AddFallback(StrategyLocal, s.local)
		s.score.AddFallback(StrategyLocal, LocalScorer{})
	} else {
		s.eval = resilience.NewFallbackGroup[Evaluator](Local{}, StrategyLocal, cfg)
		s.grade = resilience.NewFallbackGroup[Grader](s.local, StrategyLocal, cfg)
		s.score = resilience.NewFallbackGroup[Scorer](LocalScorer{}, StrategyLocal, cfg)
	}
	return s
}

// Evaluate implements [Evaluator].
func (s *Service) Evaluate(ctx context.Context, userText string, history []types.SummaryItem, turn int) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "evaluator.evaluate",
		trace.WithAttributes(attribute.Int("turn", turn)))
	defer span.End()

	start := time.Now()
	res, strategy, err := resilience.ExecuteNamed(s.eval, func(e Evaluator) (Result, error) {
		return e.Evaluate(ctx, userText, history, turn)
	})
	if err != nil {
		res, strategy = evaluateLocal(userText, turn), StrategyLocal
	}
	s.observe(ctx, "utterance", strategy, start)
	span.SetAttributes(attribute.String("strategy", strategy))
	return res, nil
}

// Grade implements [Grader].
func (s *Service) Grade(ctx context.Context, attempt, target string) (bool, error) {
	ctx, span := observe.StartSpan(ctx, "evaluator.grade")
	defer span.End()

	start := time.Now()
	ok, strategy, err := resilience.ExecuteNamed(s.grade, func(g Grader) (bool, error) {
		return g.Grade(ctx, attempt, target)
	})
	if err != nil {
		ok, _ = s.local.Grade(ctx, attempt, target)
		strategy = StrategyLocal
	}
	s.observe(ctx, "grade", strategy, start)
	return ok, nil
}

// Score implements [Scorer]. Both scores of the result are in [1, 5].
func (s *Service) Score(ctx context.Context, summary []types.SummaryItem, errs []types.ErrorLogItem) (types.SessionEvaluation, error) {
	ctx, span := observe.StartSpan(ctx, "evaluator.score")
	defer span.End()

	start := time.Now()
	ev, strategy, err := resilience.ExecuteNamed(s.score, func(sc Scorer) (types.SessionEvaluation, error) {
		return sc.Score(ctx, summary, errs)
	})
	if err != nil {
		ev, strategy = scoreLocal(len(errs)), StrategyLocal
	}
	s.observe(ctx, "session", strategy, start)
	return ClampEvaluation(ev), nil
}

// HasRemote reports whether a remote strategy is configured.
func (s *Service) HasRemote() bool { return s.hasRemote }

func (s *Service) observe(ctx context.Context, op, strategy string, start time.Time) {
	d := time.Since(start)
	s.metrics.RecordEvaluation(ctx, op, strategy, d)
	if s.hasRemote && strategy == StrategyLocal {
		s.metrics.RecordFallback(ctx, op)
		observe.Logger(ctx).Info("evaluator fell back to local rules", "op", op)
		return
	}
	observe.Logger(ctx).Debug("evaluated", "op", op, "strategy", strategy, "duration", d)
}

// repairing wraps the remote evaluator with the post-processing remote
// proposals need before the engine may act on them.
type repairing struct {
	remote   Evaluator
	leniency *PolicyHolder[LeniencyPolicy]
}

func (r *repairing) Evaluate(ctx context.Context, userText string, history []types.SummaryItem, turn int) (Result, error) {
	res, err := r.remote.Evaluate(ctx, userText, history, turn)
	if err != nil {
		return Result{}, err
	}
	return postProcess(res, userText, turn, r.leniency.Load()), nil
}

// postProcess applies the leniency override and placeholder repair to a
// remote result. A correction that cannot be repaired is replaced by the
// local evaluation of the same utterance.
func postProcess(res Result, userText string, turn int, p LeniencyPolicy) Result {
	if res.Correction == nil {
		return res
	}
	if reply, ok := p.Accept(userText, turn); ok {
		return Result{
			TutorLine:      reply.En,
			TutorLineKo:    reply.Ko,
			IsMainDialogue: true,
		}
	}

	c := *res.Correction
	c.Sentence = RepairPlaceholders(c.Sentence, userText, turn)
	if c.Sentence == "" || HasPlaceholder(c.Sentence) {
		return evaluateLocal(userText, turn)
	}
	res.Correction = &c
	return res
}
