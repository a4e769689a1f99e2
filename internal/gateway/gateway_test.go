package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/practice"
	sttmock "github.com/MrWong99/realtalk/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/realtalk/pkg/provider/tts/mock"
	"github.com/MrWong99/realtalk/pkg/types"
)

// frame is the client's view of a server message.
type frame struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Event   struct {
		Kind     string `json:"kind"`
		Text     string `json:"text"`
		Sentence string `json:"sentence"`
	} `json:"event"`
	Seq        uint64                   `json:"seq"`
	MIME       string                   `json:"mime"`
	Data       []byte                   `json:"data"`
	Text       string                   `json:"text"`
	Summary    []types.SummaryItem      `json:"summary"`
	Review     []types.ErrorLogItem     `json:"review"`
	Evaluation *types.SessionEvaluation `json:"evaluation"`
	Feedback   []string                 `json:"feedback"`
	Error      string                   `json:"error"`
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, string) {
	t.Helper()
	base := []Option{
		WithMetrics(testMetrics(t)),
		WithPracticeOptions(practice.WithPauses(time.Millisecond, time.Millisecond)),
	}
	g, err := New(&ttsmock.Provider{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	g.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return g, "ws" + strings.TrimPrefix(ts.URL, "http") + Path
}

type client struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return &client{t: t, ctx: ctx, conn: conn}
}

func (c *client) send(m clientMessage) {
	c.t.Helper()
	if err := wsjson.Write(c.ctx, c.conn, m); err != nil {
		c.t.Fatalf("write %s: %v", m.Type, err)
	}
}

// read returns the next frame that is not audio. Audio is acknowledged as
// played right away.
func (c *client) read() frame {
	c.t.Helper()
	for {
		var f frame
		if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
			c.t.Fatalf("read: %v", err)
		}
		if f.Type == msgAudio {
			c.send(clientMessage{Type: msgPlaybackEnded, Seq: f.Seq})
			continue
		}
		return f
	}
}

// until reads frames until pred matches and returns the matching frame.
func (c *client) until(pred func(frame) bool) frame {
	c.t.Helper()
	for {
		if f := c.read(); pred(f) {
			return f
		}
	}
}

// collect reads frames up to and including the first one matching pred.
func (c *client) collect(pred func(frame) bool) []frame {
	c.t.Helper()
	var frames []frame
	for {
		f := c.read()
		frames = append(frames, f)
		if pred(f) {
			return frames
		}
	}
}

func (c *client) say(text string) {
	c.t.Helper()
	c.send(clientMessage{Type: msgTranscript, Text: text})
}

func countEvents(frames []frame, kind string) int {
	n := 0
	for _, f := range frames {
		if isEvent(kind)(f) {
			n++
		}
	}
	return n
}

func isType(typ string) func(frame) bool {
	return func(f frame) bool { return f.Type == typ }
}

func isEvent(kind string) func(frame) bool {
	return func(f frame) bool { return f.Type == msgEvent && f.Event.Kind == kind }
}

func TestLesson_FullRun(t *testing.T) {
	t.Parallel()

	g, url := newTestGateway(t)
	c := dial(t, url)

	if f := c.read(); f.Type != msgSession || f.Session == "" {
		t.Fatalf("first frame = %+v, want session", f)
	}
	if n := len(g.Lessons()); n != 1 {
		t.Errorf("running lessons = %d, want 1", n)
	}

	answers := []string{
		"Hello Cathy, nice to meet you",
		"Jake",
		"My name is Jake",
		"I'm nine years old",
		"I feel happy",
		"I play soccer after school",
	}
	for _, a := range answers {
		c.until(isEvent("mic_ready"))
		c.send(clientMessage{Type: msgTranscript, Text: a})
	}

	summary := c.until(isType(msgSummary))
	if len(summary.Summary) != 11 {
		t.Errorf("summary has %d items, want 11", len(summary.Summary))
	}
	rev := c.until(isType(msgReview))
	if len(rev.Review) != 1 || rev.Review[0].Corrected != "My name is Jake." {
		t.Errorf("review = %+v", rev.Review)
	}
	ev := c.until(isType(msgEvaluation))
	if ev.Evaluation == nil || ev.Evaluation.TopicRelevanceScore < 1 || ev.Evaluation.TopicRelevanceScore > 5 {
		t.Fatalf("evaluation = %+v", ev.Evaluation)
	}
	if len(ev.Feedback) == 0 {
		t.Error("no feedback sentences")
	}

	c.send(clientMessage{Type: msgNext})
	item := c.until(isEvent(string(practice.EventItem)))
	if item.Event.Sentence != "My name is Jake." {
		t.Errorf("practice sentence = %q", item.Event.Sentence)
	}
	c.until(isEvent("mic_ready"))
	c.send(clientMessage{Type: msgTranscript, Text: "My name is Jake."})
	c.until(isEvent(string(practice.EventSuccess)))
	c.until(isType(msgPracticeComplete))

	var f frame
	err := wsjson.Read(c.ctx, c.conn, &f)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("after completion: err = %v, want normal closure", err)
	}
}

func TestLesson_DuplicateTranscriptIsDropped(t *testing.T) {
	t.Parallel()

	_, url := newTestGateway(t)
	c := dial(t, url)
	c.until(isEvent("mic_ready"))

	// The recognizer reports the greeting answer twice.
	c.say("Hello Cathy, nice to meet you")
	c.say("Hello Cathy, nice to meet you")

	frames := c.collect(isEvent("mic_ready"))
	if n := countEvents(frames, "evaluating"); n != 1 {
		t.Errorf("evaluations after duplicate = %d, want 1", n)
	}
	if n := countEvents(frames, "correction"); n != 0 {
		t.Errorf("corrections after duplicate = %d, want 0", n)
	}

	for _, a := range []string{"My name is Jake", "I'm nine years old", "I feel happy"} {
		c.say(a)
		if n := countEvents(c.collect(isEvent("mic_ready")), "correction"); n != 0 {
			t.Fatalf("answer %q was corrected", a)
		}
	}
	c.say("I play soccer after school")

	if f := c.until(isType(msgSummary)); len(f.Summary) != 11 {
		t.Errorf("summary has %d items, want 11", len(f.Summary))
	}
	if f := c.until(isType(msgReview)); len(f.Review) != 0 {
		t.Errorf("review = %+v, want no errors", f.Review)
	}
}

func TestLesson_DuplicatePracticeAttemptIsDropped(t *testing.T) {
	t.Parallel()

	_, url := newTestGateway(t)
	c := dial(t, url)

	for _, a := range []string{
		"Hello Cathy, nice to meet you",
		"Jake",
		"My name is Jake",
		"I'm nine years old",
		"I feel happy",
		"I play soccer after school",
	} {
		c.until(isEvent("mic_ready"))
		c.say(a)
	}
	c.until(isType(msgEvaluation))
	c.send(clientMessage{Type: msgNext})
	c.until(isEvent("mic_ready"))

	// One miss, reported twice, must not count as two strikes.
	c.say("banana")
	c.say("banana")
	frames := c.collect(isEvent("mic_ready"))
	if n := countEvents(frames, string(practice.EventBlink)); n != 1 {
		t.Errorf("blinks = %d, want 1", n)
	}
	if n := countEvents(frames, string(practice.EventReveal)); n != 0 {
		t.Fatalf("item was force-advanced after a single miss")
	}

	c.say("My name is Jake.")
	frames = c.collect(isType(msgPracticeComplete))
	if n := countEvents(frames, string(practice.EventSuccess)); n != 1 {
		t.Errorf("successes = %d, want 1", n)
	}
	if n := countEvents(frames, string(practice.EventReveal)); n != 0 {
		t.Errorf("reveals = %d, want 0", n)
	}
}

func TestLesson_Leave(t *testing.T) {
	t.Parallel()

	g, url := newTestGateway(t)
	c := dial(t, url)
	c.until(isEvent("mic_ready"))

	c.send(clientMessage{Type: msgLeave})
	var f frame
	for {
		err := wsjson.Read(c.ctx, c.conn, &f)
		if err != nil {
			if s := websocket.CloseStatus(err); s != websocket.StatusNormalClosure {
				t.Errorf("close status = %v, want normal closure", s)
			}
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(g.Lessons()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("lesson still tracked after leave")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLesson_AudioWithoutRecognizerCountsAsNoSpeech(t *testing.T) {
	t.Parallel()

	_, url := newTestGateway(t)
	c := dial(t, url)
	c.until(isEvent("mic_ready"))

	c.send(clientMessage{Type: msgAudio, Data: []byte{1, 2, 3, 4}, MIME: "audio/webm"})
	if f := c.until(isType(msgError)); !strings.Contains(f.Error, "speech recognition") {
		t.Errorf("error = %q", f.Error)
	}
	// The greeting is asked again.
	if f := c.until(isEvent("tutor_line")); !strings.Contains(f.Event.Text, "Cathy") {
		t.Errorf("replayed line = %q", f.Event.Text)
	}
}

func TestLesson_AudioIsTranscribed(t *testing.T) {
	t.Parallel()

	sp := &sttmock.Provider{Results: []string{"Hello Cathy, nice to meet you"}}
	_, url := newTestGateway(t, WithSTT(sp, "en"))
	c := dial(t, url)
	c.until(isEvent("mic_ready"))

	c.send(clientMessage{Type: msgAudio, Data: make([]byte, 640), MIME: "audio/pcm;rate=16000;channels=1"})
	if f := c.until(isType(msgTranscript)); f.Text != "Hello Cathy, nice to meet you" {
		t.Errorf("transcript = %q", f.Text)
	}
	if f := c.until(isEvent("tutor_line")); !strings.HasSuffix(f.Event.Text, "What's your name?") {
		t.Errorf("next line = %q, want the name question", f.Event.Text)
	}
}

func TestLesson_UnknownMessage(t *testing.T) {
	t.Parallel()

	_, url := newTestGateway(t)
	c := dial(t, url)
	c.until(isType(msgSession))

	c.send(clientMessage{Type: "dance"})
	if f := c.until(isType(msgError)); !strings.Contains(f.Error, "dance") {
		t.Errorf("error = %q", f.Error)
	}
}

func TestShutdown_ClosesLessons(t *testing.T) {
	t.Parallel()

	g, url := newTestGateway(t)
	c := dial(t, url)
	c.until(isEvent("mic_ready"))

	// Keep reading so the close handshake completes.
	go func() {
		for {
			if _, _, err := c.conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := len(g.Lessons()); n != 0 {
		t.Errorf("running lessons = %d, want 0", n)
	}
}

func TestNew_RequiresTTS(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Error("expected error without a TTS provider")
	}
}
