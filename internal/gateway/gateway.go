// Package gateway serves the lesson WebSocket. Each connection runs one
// complete lesson: the conversation, the review and evaluation, and the
// correction-practice drill.
//
// Every connection gets its own evaluator service (and with it its own
// availability cache and circuit breakers), speech player and dialogue
// engine. Synthesized speech is streamed to the browser as audio messages;
// the browser reports the end of each playback so the tutor never talks over
// itself and the microphone opens only after the line was heard.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/realtalk/internal/dialogue"
	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/practice"
	"github.com/MrWong99/realtalk/internal/speech"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
)

// Path is the lesson WebSocket route.
const Path = "/ws/lesson"

const (
	writeTimeout = 10 * time.Second

	// Recordings arrive base64-encoded inside JSON.
	defaultReadLimit = 16 << 20
)

// Option configures a [Gateway].
type Option func(*Gateway)

// WithEvaluatorFactory sets how each lesson gets its evaluator service.
// Default: a local-only service.
func WithEvaluatorFactory(fn func() *evaluator.Service) Option {
	return func(g *Gateway) { g.newService = fn }
}

// WithSTT enables server-side transcription of audio messages.
func WithSTT(p stt.Provider, language string) Option {
	return func(g *Gateway) {
		g.stt = p
		g.language = language
	}
}

// WithSpeechOptions applies opts to every lesson's speech player.
func WithSpeechOptions(opts ...speech.Option) Option {
	return func(g *Gateway) { g.speechOpts = append(g.speechOpts, opts...) }
}

// WithDialogueOptions applies opts to every lesson's dialogue engine.
func WithDialogueOptions(opts ...dialogue.Option) Option {
	return func(g *Gateway) { g.dialogueOpts = append(g.dialogueOpts, opts...) }
}

// WithPracticeOptions applies opts to every lesson's practice drill.
func WithPracticeOptions(opts ...practice.Option) Option {
	return func(g *Gateway) { g.practiceOpts = append(g.practiceOpts, opts...) }
}

// WithSeed makes every lesson draw its closing lines from a random source
// seeded with seed. Zero keeps the engine's random seeding.
func WithSeed(seed int64) Option {
	return func(g *Gateway) { g.seed = seed }
}

// WithOriginPatterns allows cross-origin browsers matching patterns (see
// websocket.AcceptOptions). Default: same origin only.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gateway) { g.origins = patterns }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// LessonInfo describes a running lesson.
type LessonInfo struct {
	ID         string
	StartedAt  time.Time
	RemoteAddr string
}

// Gateway accepts lesson connections. It is safe for concurrent use.
type Gateway struct {
	tts          tts.Provider
	stt          stt.Provider
	language     string
	newService   func() *evaluator.Service
	speechOpts   []speech.Option
	dialogueOpts []dialogue.Option
	practiceOpts []practice.Option
	origins      []string
	seed         int64
	metrics      *observe.Metrics

	mu      sync.Mutex
	lessons map[string]*lesson
	wg      sync.WaitGroup
}

// New returns a gateway that speaks through provider.
func New(provider tts.Provider, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("gateway: a TTS provider is required")
	}
	g := &Gateway{
		tts:     provider,
		lessons: make(map[string]*lesson),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.newService == nil {
		m := g.metrics
		g.newService = func() *evaluator.Service { return evaluator.NewService(evaluator.WithMetrics(m)) }
	}
	return g, nil
}

// Register adds the lesson route to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Path, g.handleLesson)
}

// Lessons returns the running lessons, oldest first.
func (g *Gateway) Lessons() []LessonInfo {
	g.mu.Lock()
	out := make([]LessonInfo, 0, len(g.lessons))
	for _, l := range g.lessons {
		out = append(out, l.info)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown ends every running lesson and waits for their connections to
// close or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	running := make([]*lesson, 0, len(g.lessons))
	for _, l := range g.lessons {
		running = append(running, l)
	}
	g.mu.Unlock()

	for _, l := range running {
		go func() {
			l.stop()
			_ = l.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) handleLesson(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("lesson upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	id := uuid.NewString()
	ctx, span := observe.StartSpan(r.Context(), "gateway.lesson",
		trace.WithAttributes(attribute.String("lesson.id", id)))
	defer span.End()
	log := observe.Logger(ctx).With("lesson", id)

	l := g.newLesson(ctx, id, conn, r.RemoteAddr)
	if !g.track(l) {
		_ = conn.Close(websocket.StatusTryAgainLater, "duplicate lesson id")
		return
	}
	defer g.untrack(id)

	log.Info("lesson connected", "remote", r.RemoteAddr)
	err = l.serve(ctx)
	switch {
	case err == nil, errors.Is(err, errLessonDone):
		log.Info("lesson complete")
	case errors.Is(err, errLeft):
		log.Info("learner left the lesson")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	case errors.Is(err, context.Canceled):
		log.Info("lesson connection closed")
	default:
		log.Warn("lesson ended with error", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "lesson failed")
	}
	_ = conn.CloseNow()
}

func (g *Gateway) track(l *lesson) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.lessons[l.info.ID]; ok {
		return false
	}
	g.lessons[l.info.ID] = l
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.lessons[id]; ok {
		delete(g.lessons, id)
		g.wg.Done()
	}
}
