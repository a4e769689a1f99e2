package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/pkg/types"
)

// fakeService serves the evaluation endpoints with canned answers.
type fakeService struct {
	available    bool
	probes       atomic.Int32
	posts        atomic.Int32
	status       int // status for POST endpoints; 0 means 200
	rateLimitFor int32
	body         string

	mu       sync.Mutex
	lastBody []byte
}

func (f *fakeService) sent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathAvailability, func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		_ = json.NewEncoder(w).Encode(AvailabilityResponse{Available: f.available})
	})
	post := func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		buf, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastBody = buf
		f.mu.Unlock()

		n := f.posts.Add(1)
		if n <= f.rateLimitFor {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "rate limited"})
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		_, _ = w.Write([]byte(f.body))
	}
	mux.HandleFunc("POST "+PathUtterance, post)
	mux.HandleFunc("POST "+PathSession, post)
	mux.HandleFunc("POST "+PathGrade, post)
	return mux
}

func newClient(t *testing.T, f *fakeService, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", append([]Option{WithBackoff(time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestClient_Evaluate(t *testing.T) {
	t.Parallel()

	f := &fakeService{
		available: true,
		body:      `{"tutorLine":"Cool! How are you feeling today?","tutorLineTranslated":"멋져!","isMainDialogue":true}`,
	}
	c := newClient(t, f)

	history := []types.SummaryItem{{Speaker: types.SpeakerTutor, TextEn: "How old are you?"}}
	got, err := c.Evaluate(context.Background(), "I'm nine", history, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TutorLine != "Cool! How are you feeling today?" || !got.IsMainDialogue {
		t.Errorf("got %+v", got)
	}

	var sent UtteranceRequest
	if err := json.Unmarshal(f.sent(), &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent.UserText != "I'm nine" || sent.UserTurnIndex != 2 || len(sent.ConversationSummary) != 1 {
		t.Errorf("sent %+v", sent)
	}
}

func TestClient_NilHistoryIsSentAsEmptyArray(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: true, body: `{"tutorLine":"x"}`}
	c := newClient(t, f)

	if _, err := c.Evaluate(context.Background(), "hi", nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(f.sent(), &raw)
	if string(raw["conversationSummary"]) != "[]" {
		t.Errorf("conversationSummary = %s, want []", raw["conversationSummary"])
	}
}

func TestClient_UnavailableSkipsNetwork(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: false, body: `{"tutorLine":"x"}`}
	c := newClient(t, f)
	ctx := context.Background()

	for range 3 {
		if _, err := c.Evaluate(ctx, "hello", nil, 0); !errors.Is(err, evaluator.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
	}
	if n := f.probes.Load(); n != 1 {
		t.Errorf("probed %d times, want 1", n)
	}
	if n := f.posts.Load(); n != 0 {
		t.Errorf("posted %d times, want 0", n)
	}
}

func TestClient_SharedAvailability(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: true, body: `{"isCorrect":true}`}
	avail := evaluator.NewAvailability(func(context.Context) bool { return false })
	c := newClient(t, f, WithAvailability(avail))

	if _, err := c.Grade(context.Background(), "a", "b"); !errors.Is(err, evaluator.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if c.Availability() != avail {
		t.Error("Availability() is not the shared cache")
	}
	if f.probes.Load() != 0 {
		t.Error("shared cache should not probe this service")
	}
}

func TestClient_RateLimitRetriesOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limited   int32
		wantErr   bool
		wantPosts int32
	}{
		{"retry succeeds", 1, false, 2},
		{"retry also limited", 2, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeService{available: true, rateLimitFor: tt.limited, body: `{"tutorLine":"x"}`}
			c := newClient(t, f)

			_, err := c.Evaluate(context.Background(), "hello", nil, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
					t.Errorf("err = %v, want 429 StatusError", err)
				}
			}
			if n := f.posts.Load(); n != tt.wantPosts {
				t.Errorf("posted %d times, want %d", n, tt.wantPosts)
			}
		})
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantUseMock bool
	}{
		{"service unavailable", http.StatusServiceUnavailable, `{"error":"no LLM configured","useMock":true}`, true},
		{"bad gateway", http.StatusBadGateway, `{"error":"upstream failed","useMock":true}`, true},
		{"non-JSON error body", http.StatusInternalServerError, `oops`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeService{available: true, status: tt.status, body: tt.body}
			c := newClient(t, f)

			_, err := c.Score(context.Background(), nil, nil)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want StatusError", err)
			}
			if se.Code != tt.status || se.UseMock != tt.wantUseMock {
				t.Errorf("StatusError = %+v", se)
			}
			if f.posts.Load() != 1 {
				t.Errorf("posted %d times, want 1 (no retry)", f.posts.Load())
			}
		})
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: true, body: `{"isMainDialogue":true}`}
	c := newClient(t, f)

	if _, err := c.Evaluate(context.Background(), "hi", nil, 0); !errors.Is(err, evaluator.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestClient_ScoreAndGrade(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: true, body: `{"topicRelevanceScore":9,"expressionScore":"3","overallFeedback":"좋아요!"}`}
	c := newClient(t, f)

	ev, err := c.Score(context.Background(), nil, []types.ErrorLogItem{{Original: "Jake", Corrected: "My name is Jake.", ErrorType: types.ErrorGrammar}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.TopicRelevanceScore != 5 || ev.ExpressionScore != 3 || ev.OverallFeedback != "좋아요!" {
		t.Errorf("Score() = %+v", ev)
	}
	var sent SessionRequest
	_ = json.Unmarshal(f.sent(), &sent)
	if len(sent.ErrorLog) != 1 || sent.ErrorLog[0].Corrected != "My name is Jake." {
		t.Errorf("sent %+v", sent)
	}

	g := &fakeService{available: true, body: `{"isCorrect":true}`}
	gc := newClient(t, g)
	ok, err := gc.Grade(context.Background(), "my name is jake", "My name is Jake.")
	if err != nil || !ok {
		t.Fatalf("Grade() = %v, %v", ok, err)
	}
	var gr GradeRequest
	_ = json.Unmarshal(g.sent(), &gr)
	if gr.Correct != "My name is Jake." || gr.UserText != "my name is jake" {
		t.Errorf("sent %+v", gr)
	}
}

func TestClient_WithServiceFallsBackLocally(t *testing.T) {
	t.Parallel()

	f := &fakeService{available: true, status: http.StatusBadGateway, body: `{"error":"x","useMock":true}`}
	c := newClient(t, f)
	svc := evaluator.NewService(evaluator.WithRemote(c))

	got, err := svc.Evaluate(context.Background(), "Jake", nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Correction == nil || got.Correction.Sentence != "My name is Jake." {
		t.Errorf("Correction = %+v, want local fix", got.Correction)
	}
}

func TestProbe_Failures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)
	c, _ := New(srv.URL)
	if c.Probe(context.Background()) {
		t.Error("malformed probe answer should be unavailable")
	}

	dead, _ := New("http://127.0.0.1:1", WithTimeout(200*time.Millisecond))
	if dead.Probe(context.Background()) {
		t.Error("unreachable service should be unavailable")
	}
}
