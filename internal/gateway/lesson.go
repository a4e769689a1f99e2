package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/realtalk/internal/dialogue"
	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/practice"
	"github.com/MrWong99/realtalk/internal/review"
	"github.com/MrWong99/realtalk/internal/server"
	"github.com/MrWong99/realtalk/internal/speech"
)

var (
	errLeft       = errors.New("gateway: learner left")
	errLessonDone = errors.New("gateway: lesson complete")
)

const transcriptBuffer = 4

// lesson is one connection.
type lesson struct {
	g      *Gateway
	info   LessonInfo
	conn   *websocket.Conn
	ctx    context.Context
	sink   *wsSink
	player *speech.Player
	svc    *evaluator.Service
	engine *dialogue.Engine

	transcripts chan string
	next        chan struct{}
	completed   atomic.Bool

	// micOpen is set by every mic_ready and cleared by the first transcript
	// that answers it.
	micOpen atomic.Bool

	mu    sync.Mutex
	drill *practice.Drill
}

func (g *Gateway) newLesson(ctx context.Context, id string, conn *websocket.Conn, remote string) *lesson {
	l := &lesson{
		g:           g,
		info:        LessonInfo{ID: id, StartedAt: time.Now(), RemoteAddr: remote},
		conn:        conn,
		ctx:         ctx,
		svc:         g.newService(),
		transcripts: make(chan string, transcriptBuffer),
		next:        make(chan struct{}, 1),
	}
	l.sink = newSink(l.send)
	l.player = speech.NewPlayer(g.tts, l.sink, append([]speech.Option{speech.WithMetrics(g.metrics)}, g.speechOpts...)...)
	dopts := []dialogue.Option{
		dialogue.WithEvents(func(ev dialogue.Event) {
			if ev.Kind == dialogue.EventMicReady {
				l.micOpen.Store(true)
			}
			l.send(serverMessage{Type: msgEvent, Event: ev})
		}),
		dialogue.WithMetrics(g.metrics),
	}
	if g.seed != 0 {
		dopts = append(dopts, dialogue.WithRand(rand.New(rand.NewPCG(uint64(g.seed), 0))))
	}
	l.engine = dialogue.New(l.svc, l.player, append(dopts, g.dialogueOpts...)...)
	return l
}

// serve runs the lesson until it completes, the learner leaves or the
// connection drops.
func (l *lesson) serve(ctx context.Context) error {
	defer l.stop()
	if !l.send(serverMessage{Type: msgSession, Session: l.info.ID}) {
		return context.Canceled
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return l.readLoop(ctx) })
	eg.Go(func() error { return l.drive(ctx) })
	return eg.Wait()
}

// drive walks through the lesson: conversation, review, evaluation, drill.
func (l *lesson) drive(ctx context.Context) error {
	report, err := l.engine.Run(ctx, dialogue.SourceFunc(l.capture))
	if err != nil {
		return err
	}
	l.send(serverMessage{Type: msgSummary, Summary: report.Summary})
	l.send(serverMessage{Type: msgReview, Review: report.Review()})

	ev, err := report.Evaluation(ctx, l.svc)
	if err != nil {
		return err
	}
	l.send(serverMessage{
		Type:       msgEvaluation,
		Evaluation: &ev,
		Feedback:   review.FeedbackSentences(ev.OverallFeedback),
	})

	select {
	case <-l.next:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.drain()

	drill := practice.New(report.Practice(), l.svc, l.player, append([]practice.Option{
		practice.WithEvents(func(ev practice.Event) {
			if ev.Kind == practice.EventMicReady {
				l.micOpen.Store(true)
			}
			l.send(serverMessage{Type: msgEvent, Event: ev})
		}),
		practice.WithMetrics(l.g.metrics),
	}, l.g.practiceOpts...)...)
	l.mu.Lock()
	l.drill = drill
	l.mu.Unlock()

	if err := drill.Start(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-drill.Done():
			l.send(serverMessage{Type: msgPracticeComplete})
			l.completed.Store(true)
			_ = l.conn.Close(websocket.StatusNormalClosure, "lesson complete")
			return errLessonDone
		case text := <-l.transcripts:
			out, err := drill.Submit(ctx, text)
			if err != nil && !errors.Is(err, practice.ErrNotAwaiting) {
				return err
			}
			// A blank attempt keeps the item waiting without a new mic_ready.
			if out == practice.OutcomeIgnored {
				l.micOpen.Store(true)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *lesson) readLoop(ctx context.Context) error {
	for {
		var m clientMessage
		if err := wsjson.Read(ctx, l.conn, &m); err != nil {
			if l.completed.Load() {
				return errLessonDone
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errLeft
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway: read: %w", err)
		}
		if err := l.handle(ctx, m); err != nil {
			return err
		}
	}
}

func (l *lesson) handle(ctx context.Context, m clientMessage) error {
	log := observe.Logger(ctx).With("lesson", l.info.ID)
	switch m.Type {
	case msgListen:
		go func() {
			if err := l.engine.Listen(ctx); err != nil && !errors.Is(err, dialogue.ErrNotGated) && ctx.Err() == nil {
				log.Warn("greeting failed", "error", err)
			}
		}()
	case msgTranscript:
		l.push(ctx, m.Text)
	case msgAudio:
		go l.transcribe(ctx, m)
	case msgPlaybackEnded:
		l.sink.Finish(m.Seq)
	case msgNext:
		select {
		case l.next <- struct{}{}:
		default:
		}
	case msgLeave:
		l.stop()
		return errLeft
	default:
		log.Debug("unknown lesson message", "type", m.Type)
		l.send(serverMessage{Type: msgError, Error: "unknown message type " + m.Type})
	}
	return nil
}

// transcribe turns an uploaded recording into a transcript. A recording that
// cannot be transcribed counts as no speech.
func (l *lesson) transcribe(ctx context.Context, m clientMessage) {
	log := observe.Logger(ctx).With("lesson", l.info.ID)
	if l.g.stt == nil {
		l.send(serverMessage{Type: msgError, Error: "speech recognition is not available, send transcripts instead"})
		l.push(ctx, "")
		return
	}
	clip, err := server.ParseClip(m.MIME, m.Data)
	if err != nil {
		log.Info("unusable recording", "error", err)
		l.push(ctx, "")
		return
	}
	text, err := server.Transcribe(ctx, l.g.stt, l.g.metrics, clip, l.g.language)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("transcription failed, treating as no speech", "error", err)
		l.send(serverMessage{Type: msgError, Error: "transcription failed"})
		text = ""
	}
	l.send(serverMessage{Type: msgTranscript, Text: text})
	l.push(ctx, text)
}

// push queues a transcript. Only the first transcript after a mic_ready is
// kept: a duplicate recognition result, or one sent while the tutor is
// still answering, would otherwise be taken as the answer to the next turn.
func (l *lesson) push(ctx context.Context, text string) {
	if !l.micOpen.CompareAndSwap(true, false) {
		observe.Logger(ctx).Debug("microphone closed, dropping transcript", "lesson", l.info.ID)
		return
	}
	select {
	case l.transcripts <- text:
	case <-ctx.Done():
	default:
		observe.Logger(ctx).Debug("transcript queue full, dropping", "lesson", l.info.ID)
	}
}

func (l *lesson) capture(ctx context.Context) (string, error) {
	select {
	case text := <-l.transcripts:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drain discards transcripts left over from the conversation.
func (l *lesson) drain() {
	for {
		select {
		case <-l.transcripts:
		default:
			return
		}
	}
}

// stop cancels in-flight speech and rejects further input. It is idempotent.
func (l *lesson) stop() {
	l.engine.Close()
	l.mu.Lock()
	drill := l.drill
	l.mu.Unlock()
	if drill != nil {
		drill.Close()
	}
	l.sink.Close()
}

// send writes one message. It reports false once the connection is gone.
func (l *lesson) send(m serverMessage) bool {
	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, l.conn, m); err != nil {
		observe.Logger(l.ctx).Debug("lesson write failed", "lesson", l.info.ID, "type", m.Type, "error", err)
		return false
	}
	return true
}
