// Package speech turns tutor lines into audible speech for one lesson.
//
// A [Player] synthesizes each line with a TTS provider and hands the clip to
// an [audio.Sink]. Every Speak supersedes the previous one: whatever was
// playing is cut off, and a synthesis result that arrives for an older
// request is dropped instead of being played. The lesson must never stall on
// audio, so synthesis failures are logged and reported as a finished line,
// and the wait for the sink's end-of-playback signal is bounded.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

// ErrSuperseded is returned by Speak when a newer Speak or a Cancel replaced
// the request before it finished.
var ErrSuperseded = errors.New("speech: superseded")

// Speaker is what the dialogue engine and the practice drill need from
// speech output.
type Speaker interface {
	// Speak says text and returns when it has been heard, the wait bound
	// expired, or the request was superseded.
	Speak(ctx context.Context, text string) error

	// Cancel stops current speech and invalidates pending requests.
	Cancel()
}

var _ Speaker = (*Player)(nil)

// Defaults for the tutor voice and the playback wait bound.
const (
	DefaultVoice       = "nova"
	DefaultSpeed       = 0.77
	DefaultBaseWait    = 2 * time.Second
	DefaultPerCharWait = 90 * time.Millisecond
	DefaultMaxWait     = 20 * time.Second
)

// Option configures a [Player].
type Option func(*Player)

// WithVoice sets the TTS voice. Default: "nova" at speed 0.77.
func WithVoice(v types.VoiceProfile) Option {
	return func(p *Player) { p.voice = v }
}

// WithWait sets the playback wait bound: base plus perChar for every
// character of the line, never more than max. Zero values keep the default.
func WithWait(base, perChar, max time.Duration) Option {
	return func(p *Player) {
		if base > 0 {
			p.baseWait = base
		}
		if perChar > 0 {
			p.perChar = perChar
		}
		if max > 0 {
			p.maxWait = max
		}
	}
}

// WithProviderName labels TTS metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(p *Player) { p.providerName = name }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player speaks tutor lines. It is safe for concurrent use; at most one line
// plays at a time.
type Player struct {
	tts          tts.Provider
	sink         audio.Sink
	voice        types.VoiceProfile
	baseWait     time.Duration
	perChar      time.Duration
	maxWait      time.Duration
	providerName string
	metrics      *observe.Metrics

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewPlayer returns a Player that synthesizes with provider and plays on
// sink.
func NewPlayer(provider tts.Provider, sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		tts:          provider,
		sink:         sink,
		voice:        types.VoiceProfile{ID: DefaultVoice, Language: "en-US", SpeedFactor: DefaultSpeed},
		baseWait:     DefaultBaseWait,
		perChar:      DefaultPerCharWait,
		maxWait:      DefaultMaxWait,
		providerName: "tts",
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Speak implements [Speaker]. Blank text completes immediately. A synthesis
// failure or a sink that never reports the end of playback is logged and
// treated as completion. Speak returns [ErrSuperseded] when replaced and
// ctx.Err() when ctx ends first.
func (p *Player) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sctx, seq, interrupted := p.begin(ctx)
	defer p.end(seq)
	if interrupted {
		p.sink.Stop()
	}

	ctx, span := observe.StartSpan(sctx, "speech.speak")
	defer span.End()
	log := observe.Logger(ctx).With("seq", seq)

	start := time.Now()
	clip, err := p.tts.Synthesize(ctx, text, p.voice)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		p.metrics.RecordTTSCharacters(ctx, p.providerName, utf8.RuneCountInString(text))
	}
	if p.stale(seq) {
		return ErrSuperseded
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.metrics.RecordProviderError(ctx, p.providerName, "tts")
		log.Warn("speech synthesis failed, continuing without audio", "error", err)
		return nil
	}

	wait := p.waitFor(text, clip)
	pctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err = p.sink.Play(pctx, audio.Playback{Seq: seq, Text: text, Clip: clip})
	switch {
	case p.stale(seq):
		return ErrSuperseded
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		log.Info("playback end not reported, advancing", "wait", wait)
		return nil
	default:
		log.Warn("playback failed, continuing", "error", err)
		return nil
	}
}

// Cancel implements [Speaker].
func (p *Player) Cancel() {
	p.mu.Lock()
	p.seq++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.sink.Stop()
}

// begin supersedes any running request and registers a new one. interrupted
// reports whether a previous request was still running.
func (p *Player) begin(ctx context.Context) (context.Context, uint64, bool) {
	sctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	interrupted := p.cancel != nil
	if interrupted {
		p.cancel()
	}
	p.seq++
	p.cancel = cancel
	return sctx, p.seq, interrupted
}

func (p *Player) end(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq == seq && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Player) stale(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq != seq
}

// waitFor bounds the wait for the end of playback. A PCM clip of known
// length gets at least its own duration plus the base wait.
func (p *Player) waitFor(text string, clip types.AudioClip) time.Duration {
	wait := min(p.baseWait+time.Duration(utf8.RuneCountInString(text))*p.perChar, p.maxWait)
	if d := audio.Duration(clip); d+p.baseWait > wait {
		wait = d + p.baseWait
	}
	return wait
}
