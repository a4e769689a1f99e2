// Package dialogue implements the conversation turn engine: the state machine
// that drives one tutoring conversation of six tutor lines and five accepted
// learner turns.
//
// The engine speaks a tutor line, waits for a transcript, asks the evaluator
// how to answer it, and then takes one of four branches:
//
//   - a blank transcript replays the last question (no turn consumed);
//   - a correction is logged, acknowledged and spoken for a retry of the
//     same turn;
//   - an off-topic answer is logged and redirected, without touching the
//     conversation history;
//   - an accepted answer is added to the history and the next line is
//     spoken, or, on the last turn, the closing line ends the conversation.
//
// Submissions are serialized: while one is being evaluated or answered, any
// other returns [ErrNotAwaiting]. Every submission takes a sequence number,
// and results that come back after [Engine.Close] are dropped.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/review"
	"github.com/MrWong99/realtalk/internal/speech"
	"github.com/MrWong99/realtalk/pkg/types"
)

var (
	// ErrNotAwaiting is returned by Submit when the engine is not waiting for
	// the learner: the tutor is speaking, a submission is in flight, or the
	// conversation has not started or is over.
	ErrNotAwaiting = errors.New("dialogue: not awaiting the learner")

	// ErrNotGated is returned by Listen when no first-line gate is pending.
	ErrNotGated = errors.New("dialogue: no listen gate pending")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dialogue: closed")
)

// Phase is the engine state.
type Phase string

const (
	// PhaseIdle: not started, or started with the first line still gated.
	PhaseIdle            Phase = "idle"
	PhaseTutorSpeaking   Phase = "tutor-speaking"
	PhaseAwaitingUser    Phase = "awaiting-user"
	PhaseCorrectionRetry Phase = "correction-replay"
	PhaseNoSpeechRetry   Phase = "no-speech-retry"
	PhaseComplete        Phase = "complete"
)

// Outcome is what one submission did.
type Outcome string

const (
	OutcomeNoSpeech   Outcome = "no-speech"
	OutcomeCorrection Outcome = "correction"
	OutcomeOffTopic   Outcome = "off-topic"
	OutcomeAccepted   Outcome = "accepted"
	// OutcomeCompleted: accepted on the last turn; the conversation is over.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDiscarded: the engine was closed while the utterance was being
	// evaluated; the result had no effect.
	OutcomeDiscarded Outcome = "discarded"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithFirstLineGate makes Start wait for Listen before speaking the
// greeting. Browsers only play audio after a user gesture.
func WithFirstLineGate(enabled bool) Option {
	return func(e *Engine) { e.gate = enabled }
}

// WithRand sets the random source used to pick a generic closing line. A nil
// source always picks the first one.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rnd = r }
}

// WithEvents registers the event hook. It is called synchronously from the
// goroutine that caused the event and must not call back into the engine.
func WithEvents(fn func(Event)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

// WithOnComplete registers a callback that receives the finalized
// conversation once the closing line has been spoken.
func WithOnComplete(fn func(*review.Report)) Option {
	return func(e *Engine) { e.onComplete = fn }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine runs one conversation. It is safe for concurrent use.
type Engine struct {
	eval       evaluator.Evaluator
	speaker    speech.Speaker
	gate       bool
	rnd        *rand.Rand
	onEvent    func(Event)
	onComplete func(*review.Report)
	metrics    *observe.Metrics

	mu      sync.Mutex
	started bool
	phase   Phase
	turn    int
	summary []types.SummaryItem
	errs    []types.ErrorLogItem
	// question is the last main-dialogue tutor line; it is replayed when
	// nothing was heard.
	question evaluator.Line
	busy     bool
	seq      uint64
	closed   bool
	done     chan struct{}
}

// New returns an engine that evaluates with eval and talks through speaker.
func New(eval evaluator.Evaluator, speaker speech.Speaker, opts ...Option) *Engine {
	e := &Engine{
		eval:       eval,
		speaker:    speaker,
		onEvent:    func(Event) {},
		onComplete: func(*review.Report) {},
		phase:      PhaseIdle,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Start records the greeting as the first history line and speaks it,
// unless the first-line gate is enabled, in which case the greeting waits
// for [Engine.Listen]. Start returns once the engine awaits the learner (or
// is gated).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return errors.New("dialogue: already started")
	}
	e.started = true
	e.question = evaluator.Greeting
	e.summary = append(e.summary, types.SummaryItem{
		Speaker: types.SpeakerTutor,
		TextEn:  evaluator.Greeting.En,
		TextKo:  evaluator.Greeting.Ko,
	})
	gated := e.gate
	e.mu.Unlock()

	e.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("conversation started", "gated", gated)
	if gated {
		return nil
	}
	return e.speakLine(ctx, evaluator.Greeting)
}

// Listen releases the first-line gate: the greeting is spoken and the engine
// starts awaiting the learner.
func (e *Engine) Listen(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case !e.started || !e.gate || e.phase != PhaseIdle:
		e.mu.Unlock()
		return ErrNotGated
	}
	e.phase = PhaseTutorSpeaking
	e.mu.Unlock()
	return e.speakLine(ctx, evaluator.Greeting)
}

// Submit handles one transcript from the learner. It blocks until the
// tutor's answer has been spoken and the engine awaits the learner again, or
// the conversation is complete.
func (e *Engine) Submit(ctx context.Context, transcript string) (Outcome, error) {
	text := strings.TrimSpace(transcript)

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return "", ErrClosed
	case e.busy || e.phase != PhaseAwaitingUser:
		e.mu.Unlock()
		return "", ErrNotAwaiting
	}
	e.busy = true
	e.seq++
	seq := e.seq
	turn := e.turn
	history := slices.Clone(e.summary)
	question := e.question
	e.mu.Unlock()
	defer e.release(seq)

	ctx, span := observe.StartSpan(ctx, "dialogue.submit")
	defer span.End()
	log := observe.Logger(ctx).With("turn", turn, "seq", seq)

	if text == "" {
		e.metrics.RecordTurn(ctx, string(OutcomeNoSpeech))
		log.Info("no speech heard, replaying question")
		e.setPhase(PhaseNoSpeechRetry)
		if err := e.speakLine(ctx, question); err != nil {
			return "", err
		}
		return OutcomeNoSpeech, nil
	}

	e.emit(Event{Kind: EventEvaluating, Turn: turn, Text: text})
	res, err := e.eval.Evaluate(ctx, text, history, turn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("evaluator failed, using local rules", "error", err)
		res, _ = evaluator.Local{}.Evaluate(ctx, text, history, turn)
	}
	if !e.current(seq) {
		log.Info("discarding evaluation for closed conversation")
		return OutcomeDiscarded, nil
	}
	res = e.normalize(ctx, res, text, history, turn)

	switch {
	case res.Correction != nil:
		return e.correct(ctx, log, res, text, turn)
	case res.IsOffTopic:
		return e.redirect(ctx, log, res, text, turn)
	default:
		return e.accept(ctx, log, res, text, turn)
	}
}

// normalize enforces the turn policy on an evaluator result. On the last
// turn the answer is always accepted and the line must be a valid closing;
// before it, the evaluator cannot end the conversation. A correction without
// a usable sentence is replaced by the local verdict.
func (e *Engine) normalize(ctx context.Context, res evaluator.Result, text string, history []types.SummaryItem, turn int) evaluator.Result {
	if turn >= evaluator.LastTurn {
		closing := evaluator.ValidClosing(evaluator.Line{En: res.TutorLine, Ko: res.TutorLineKo}, e.rnd)
		return evaluator.Result{
			TutorLine:      closing.En,
			TutorLineKo:    closing.Ko,
			IsMainDialogue: true,
			IsLastTurn:     true,
		}
	}
	res.IsLastTurn = false

	if c := res.Correction; c != nil && (strings.TrimSpace(c.Sentence) == "" || evaluator.HasPlaceholder(c.Sentence)) {
		observe.Logger(ctx).Warn("unusable correction, using local rules", "turn", turn)
		res, _ = evaluator.Local{}.Evaluate(ctx, text, history, turn)
	}
	if strings.TrimSpace(res.TutorLine) == "" {
		next := evaluator.ScriptLine(turn + 1)
		res.TutorLine, res.TutorLineKo = next.En, next.Ko
	}
	return res
}

func (e *Engine) correct(ctx context.Context, log *slog.Logger, res evaluator.Result, text string, turn int) (Outcome, error) {
	c := *res.Correction
	if c.Type != types.ErrorNaturalness {
		c.Type = types.ErrorGrammar
	}
	e.mu.Lock()
	e.errs = append(e.errs, types.ErrorLogItem{
		Original:    text,
		Corrected:   c.Sentence,
		ErrorType:   c.Type,
		Explanation: c.Explanation,
		TurnIndex:   &turn,
	})
	e.mu.Unlock()
	e.metrics.RecordTurn(ctx, string(OutcomeCorrection))
	log.Info("utterance corrected", "type", c.Type)

	e.setPhase(PhaseCorrectionRetry)
	ack := evaluator.Line{En: res.TutorLine, Ko: res.TutorLineKo}
	if ack.En == "" {
		ack = evaluator.Acknowledgement(c.Type)
	}
	e.emit(Event{Kind: EventTutorLine, Turn: turn, Text: ack.En, TextKo: ack.Ko})
	if err := e.say(ctx, ack.En); err != nil {
		return "", err
	}
	e.emit(Event{Kind: EventCorrection, Turn: turn, Text: c.Sentence, Correction: &c})
	if err := e.say(ctx, c.Sentence); err != nil {
		return "", err
	}
	e.ready(turn)
	return OutcomeCorrection, nil
}

func (e *Engine) redirect(ctx context.Context, log *slog.Logger, res evaluator.Result, text string, turn int) (Outcome, error) {
	e.mu.Lock()
	e.errs = append(e.errs, types.ErrorLogItem{
		Original:  text,
		Corrected: res.TutorLine,
		ErrorType: types.ErrorOffTopic,
		TurnIndex: &turn,
	})
	e.mu.Unlock()
	e.metrics.RecordTurn(ctx, string(OutcomeOffTopic))
	log.Info("utterance off topic, redirecting")

	if err := e.speakLine(ctx, evaluator.Line{En: res.TutorLine, Ko: res.TutorLineKo}); err != nil {
		return "", err
	}
	return OutcomeOffTopic, nil
}

func (e *Engine) accept(ctx context.Context, log *slog.Logger, res evaluator.Result, text string, turn int) (Outcome, error) {
	line := evaluator.Line{En: res.TutorLine, Ko: res.TutorLineKo}
	e.mu.Lock()
	e.summary = append(e.summary,
		types.SummaryItem{Speaker: types.SpeakerUser, TextEn: text},
		types.SummaryItem{Speaker: types.SpeakerTutor, TextEn: line.En, TextKo: line.Ko},
	)
	if !res.IsLastTurn {
		e.turn = turn + 1
		e.question = line
	}
	e.mu.Unlock()

	e.metrics.RecordTurn(ctx, string(OutcomeAccepted))
	if !res.IsLastTurn {
		log.Info("turn accepted")
		if err := e.speakLine(ctx, line); err != nil {
			return "", err
		}
		return OutcomeAccepted, nil
	}

	log.Info("last turn accepted, closing conversation")
	e.setPhase(PhaseTutorSpeaking)
	e.emit(Event{Kind: EventTutorLine, Turn: turn, Text: line.En, TextKo: line.Ko})
	// The turn is already in the history, so the conversation completes even
	// when the closing line could not be played to the end.
	err := e.say(ctx, line.En)
	if errors.Is(err, ErrClosed) {
		return "", err
	}
	e.complete(ctx)
	return OutcomeCompleted, err
}

// speakLine speaks a main tutor line and then opens the microphone.
func (e *Engine) speakLine(ctx context.Context, line evaluator.Line) error {
	e.mu.Lock()
	turn := e.turn
	if e.phase != PhaseNoSpeechRetry {
		e.phase = PhaseTutorSpeaking
	}
	e.mu.Unlock()

	e.emit(Event{Kind: EventTutorLine, Turn: turn, Text: line.En, TextKo: line.Ko})
	if err := e.say(ctx, line.En); err != nil {
		return err
	}
	e.ready(turn)
	return nil
}

// say speaks text. Superseded speech is not an error unless the engine was
// closed.
func (e *Engine) say(ctx context.Context, text string) error {
	err := e.speaker.Speak(ctx, text)
	if errors.Is(err, speech.ErrSuperseded) {
		if e.isClosed() {
			return ErrClosed
		}
		return nil
	}
	return err
}

// ready opens the microphone for turn.
func (e *Engine) ready(turn int) {
	e.mu.Lock()
	if e.closed || e.phase == PhaseComplete {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseAwaitingUser
	e.busy = false
	e.mu.Unlock()
	e.emit(Event{Kind: EventPhase, Phase: PhaseAwaitingUser, Turn: turn})
	e.emit(Event{Kind: EventMicReady, Turn: turn})
}

func (e *Engine) complete(ctx context.Context) {
	e.mu.Lock()
	if e.phase == PhaseComplete {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseComplete
	report := review.NewReport(e.summary, e.errs)
	e.mu.Unlock()

	close(e.done)
	e.metrics.CompletedSessions.Add(ctx, 1)
	e.metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("conversation complete",
		"summary_items", len(report.Summary),
		"errors", len(report.Errors),
	)
	e.emit(Event{Kind: EventPhase, Phase: PhaseComplete, Turn: evaluator.LastTurn})
	e.emit(Event{Kind: EventCompleted, Turn: evaluator.LastTurn})
	e.onComplete(report)
}

// Close cancels in-flight speech and invalidates pending evaluations. The
// engine rejects every later call.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.seq++
	active := e.started && e.phase != PhaseComplete
	e.mu.Unlock()

	e.speaker.Cancel()
	if active {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Done is closed when the conversation completes.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Turn returns the 0-based index of the learner turn being awaited.
func (e *Engine) Turn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turn
}

// Report returns a snapshot of the conversation so far.
func (e *Engine) Report() *review.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return review.NewReport(e.summary, e.errs)
}

func (e *Engine) release(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.seq != seq {
		return
	}
	e.busy = false
	// Speech cut short by an error leaves the engine mid-line; let the
	// learner try again.
	switch e.phase {
	case PhaseNoSpeechRetry, PhaseCorrectionRetry, PhaseTutorSpeaking:
		e.phase = PhaseAwaitingUser
	}
}

func (e *Engine) current(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.seq == seq
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	e.emit(Event{Kind: EventPhase, Phase: p, Turn: e.Turn()})
}

func (e *Engine) emit(ev Event) {
	e.onEvent(ev)
}
