package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/resilience"
	"github.com/MrWong99/realtalk/pkg/types"
)

// fakeRemote is a hand-written Remote whose answers are set per test.
type fakeRemote struct {
	result   Result
	evalErr  error
	graded   bool
	gradeErr error
	eval     types.SessionEvaluation
	scoreErr error

	evalCalls int
}

func (f *fakeRemote) Evaluate(context.Context, string, []types.SummaryItem, int) (Result, error) {
	f.evalCalls++
	return f.result, f.evalErr
}

func (f *fakeRemote) Grade(context.Context, string, string) (bool, error) {
	return f.graded, f.gradeErr
}

func (f *fakeRemote) Score(context.Context, []types.SummaryItem, []types.ErrorLogItem) (types.SessionEvaluation, error) {
	return f.eval, f.scoreErr
}

var _ Remote = (*fakeRemote)(nil)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func fallbackCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "realtalk.evaluation.fallbacks" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestService_LocalOnly(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	s := NewService(WithMetrics(m))
	if s.HasRemote() {
		t.Fatal("HasRemote() = true without a remote")
	}

	got, err := s.Evaluate(context.Background(), "Jake", nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Correction == nil || got.Correction.Sentence != "My name is Jake." {
		t.Errorf("Correction = %+v, want My name is Jake.", got.Correction)
	}
	if n := fallbackCount(t, reader); n != 0 {
		t.Errorf("fallbacks = %d, want 0 without a remote", n)
	}
}

func TestService_RemoteFailureFallsBack(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	remote := &fakeRemote{
		evalErr:  errors.New("502 bad gateway"),
		gradeErr: errors.New("502 bad gateway"),
		scoreErr: errors.New("502 bad gateway"),
	}
	s := NewService(WithRemote(remote), WithMetrics(m))
	ctx := context.Background()

	got, _ := s.Evaluate(ctx, "I have eight years", nil, 2)
	if got.Correction == nil || got.Correction.Sentence != "I'm eight years old." {
		t.Errorf("Correction = %+v, want local naturalness fix", got.Correction)
	}

	ok, _ := s.Grade(ctx, "My name is Jake", "My name is Jake.")
	if !ok {
		t.Error("Grade() = false, want local pass")
	}

	ev, _ := s.Score(ctx, nil, make([]types.ErrorLogItem, 2))
	if ev.TopicRelevanceScore != 3 || ev.ExpressionScore != 4 {
		t.Errorf("scores = (%d, %d), want local (3, 4)", ev.TopicRelevanceScore, ev.ExpressionScore)
	}

	if n := fallbackCount(t, reader); n != 3 {
		t.Errorf("fallbacks = %d, want 3", n)
	}
}

func TestService_RemoteResultPassesThrough(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	remote := &fakeRemote{
		result: Result{TutorLine: "Wow, pizza! How are you feeling today?", IsMainDialogue: true},
		graded: true,
		eval:   types.SessionEvaluation{TopicRelevanceScore: 4, ExpressionScore: 3, OverallFeedback: "좋아요"},
	}
	s := NewService(WithRemote(remote), WithMetrics(m))
	ctx := context.Background()

	got, _ := s.Evaluate(ctx, "I like pizza", nil, 2)
	if got.TutorLine != remote.result.TutorLine || !got.Accepted() {
		t.Errorf("got %+v, want the remote result", got)
	}

	if ok, _ := s.Grade(ctx, "totally different", "My name is Jake."); !ok {
		t.Error("Grade() = false, want the remote verdict")
	}

	ev, _ := s.Score(ctx, nil, nil)
	if ev != remote.eval {
		t.Errorf("Score() = %+v, want %+v", ev, remote.eval)
	}
}

func TestService_ScoreIsClamped(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	remote := &fakeRemote{eval: types.SessionEvaluation{TopicRelevanceScore: 0, ExpressionScore: 12}}
	s := NewService(WithRemote(remote), WithMetrics(m))

	ev, _ := s.Score(context.Background(), nil, nil)
	if ev.TopicRelevanceScore != 5 || ev.ExpressionScore != 5 {
		t.Errorf("scores = (%d, %d), want (5, 5)", ev.TopicRelevanceScore, ev.ExpressionScore)
	}
}

func TestService_RemoteCorrectionPostProcessing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		turn       int
		correction *types.Correction
		wantLine   string
		wantFixed  string
	}{
		{
			name:       "blank filled with the name",
			text:       "Jake",
			turn:       1,
			correction: &types.Correction{Type: types.ErrorGrammar, Sentence: "My name is __."},
			wantLine:   "Say it like this.",
			wantFixed:  "My name is Jake.",
		},
		{
			name:       "blank filled with the age",
			text:       "I have 7 years",
			turn:       2,
			correction: &types.Correction{Type: types.ErrorNaturalness, Sentence: "I'm [age] years old."},
			wantLine:   "Say it like this.",
			wantFixed:  "I'm 7 years old.",
		},
		{
			name:       "empty correction uses local rules",
			text:       "Nice day",
			turn:       0,
			correction: &types.Correction{Type: types.ErrorGrammar, Sentence: "   "},
			wantLine:   ScriptLine(1).En,
		},
		{
			name:       "lenient turn drops the correction",
			text:       "My name is jake",
			turn:       1,
			correction: &types.Correction{Type: types.ErrorGrammar, Sentence: "My name is Jake."},
			wantLine:   "Oh, Jake! Nice to meet you! How old are you?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := newTestMetrics(t)
			remote := &fakeRemote{result: Result{TutorLine: "Say it like this.", Correction: tt.correction}}
			s := NewService(WithRemote(remote), WithMetrics(m))

			got, _ := s.Evaluate(context.Background(), tt.text, nil, tt.turn)
			if got.TutorLine != tt.wantLine {
				t.Errorf("TutorLine = %q, want %q", got.TutorLine, tt.wantLine)
			}
			if tt.wantFixed == "" {
				if got.Correction != nil {
					t.Errorf("unexpected correction %+v", got.Correction)
				}
				if !got.IsMainDialogue {
					t.Error("IsMainDialogue = false, want true")
				}
				return
			}
			if got.Correction == nil || got.Correction.Sentence != tt.wantFixed {
				t.Errorf("Correction = %+v, want %q", got.Correction, tt.wantFixed)
			}
			if tt.correction.Sentence == tt.wantFixed {
				t.Error("remote correction was mutated in place")
			}
		})
	}
}

func TestService_LeniencyHotReload(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	holder := NewPolicyHolder(DefaultLeniency())
	remote := &fakeRemote{result: Result{
		TutorLine:  "Say it like this.",
		Correction: &types.Correction{Type: types.ErrorGrammar, Sentence: "My name is Jake."},
	}}
	s := NewService(WithRemote(remote), WithMetrics(m), WithLeniency(holder))
	ctx := context.Background()

	if got, _ := s.Evaluate(ctx, "my name is jake", nil, 1); got.Correction != nil {
		t.Fatal("default policy should drop the correction")
	}
	holder.Store(LeniencyPolicy{})
	if got, _ := s.Evaluate(ctx, "my name is jake", nil, 1); got.Correction == nil {
		t.Fatal("disabled policy should keep the correction")
	}
}

func TestService_CircuitBreaker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		wantRemoteNext bool
	}{
		{"unavailable does not trip", ErrUnavailable, true},
		{"cancellation does not trip", context.Canceled, true},
		{"server error trips", errors.New("500"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := newTestMetrics(t)
			remote := &fakeRemote{
				result:  Result{TutorLine: "from remote", IsMainDialogue: true},
				evalErr: tt.err,
			}
			s := NewService(
				WithRemote(remote),
				WithMetrics(m),
				WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}),
			)
			ctx := context.Background()

			_, _ = s.Evaluate(ctx, "hello", nil, 0)
			remote.evalErr = nil
			got, _ := s.Evaluate(ctx, "hello", nil, 0)

			if (got.TutorLine == "from remote") != tt.wantRemoteNext {
				t.Errorf("second call answered %q, remote expected = %v", got.TutorLine, tt.wantRemoteNext)
			}
		})
	}
}
