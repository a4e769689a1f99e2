// Package server is the evaluation service: the HTTP endpoints the remote
// evaluator talks to, plus speech-to-text and text-to-speech proxies so that
// API keys stay on the server.
//
// Evaluation endpoints answer 503 with useMock when no language model is
// configured and 502 with useMock when the model fails, so clients fall back
// to their local rules. An upstream rate limit is passed on as 429, which
// clients retry once.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/evaluator/remote"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	maxJSONBytes         = 1 << 20
	defaultMaxAudioBytes = 10 << 20
)

// Option configures a [Server].
type Option func(*Server)

// WithEvaluator sets the backend of the evaluation endpoints, usually an
// llmeval.Evaluator. Without one the endpoints answer 503.
func WithEvaluator(e evaluator.Remote) Option {
	return func(s *Server) { s.eval = e }
}

// WithSTT enables POST /api/transcribe.
func WithSTT(p stt.Provider, language string) Option {
	return func(s *Server) {
		s.stt = p
		s.language = language
	}
}

// WithTTS enables POST /api/tts. voice is used when a request names none.
func WithTTS(p tts.Provider, voice types.VoiceProfile) Option {
	return func(s *Server) {
		s.tts = p
		s.voice = voice
	}
}

// WithMaxAudioBytes limits uploaded recordings. Default: 10 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxAudio = n
		}
	}
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server serves the evaluation and speech endpoints. It is safe for
// concurrent use.
type Server struct {
	eval     evaluator.Remote
	stt      stt.Provider
	language string
	tts      tts.Provider
	voice    types.VoiceProfile
	maxAudio int64
	metrics  *observe.Metrics
}

// New returns a Server.
func New(opts ...Option) *Server {
	s := &Server{maxAudio: defaultMaxAudioBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the service routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+remote.PathAvailability, s.handleAvailability)
	mux.HandleFunc("POST "+remote.PathUtterance, s.handleUtterance)
	mux.HandleFunc("POST "+remote.PathSession, s.handleSession)
	mux.HandleFunc("POST "+remote.PathGrade, s.handleGrade)
	mux.HandleFunc("GET "+remote.PathTranscribeAvailability, s.handleTranscribeAvailability)
	mux.HandleFunc("POST "+remote.PathTranscribe, s.handleTranscribe)
	mux.HandleFunc("POST "+remote.PathTTS, s.handleTTS)
}

// Ready reports whether the evaluation endpoints can answer. It is a
// readiness check.
func (s *Server) Ready(context.Context) error {
	if s.eval == nil {
		return errors.New("no language model configured")
	}
	return nil
}

func (s *Server) handleAvailability(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, remote.AvailabilityResponse{Available: s.eval != nil})
}

func (s *Server) handleTranscribeAvailability(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, remote.AvailabilityResponse{Available: s.stt != nil})
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req remote.UtteranceRequest
	if !s.evalRequest(w, r, &req) {
		return
	}
	res, err := s.eval.Evaluate(r.Context(), req.UserText, req.ConversationSummary, req.UserTurnIndex)
	if err != nil {
		s.fail(w, r, "utterance", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req remote.SessionRequest
	if !s.evalRequest(w, r, &req) {
		return
	}
	ev, err := s.eval.Score(r.Context(), req.ConversationSummary, req.ErrorLog)
	if err != nil {
		s.fail(w, r, "session", err)
		return
	}
	writeJSON(w, http.StatusOK, evaluator.ClampEvaluation(ev))
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req remote.GradeRequest
	if !s.evalRequest(w, r, &req) {
		return
	}
	ok, err := s.eval.Grade(r.Context(), req.UserText, req.Correct)
	if err != nil {
		s.fail(w, r, "grade", err)
		return
	}
	writeJSON(w, http.StatusOK, remote.GradeResponse{IsCorrect: ok})
}

// evalRequest checks that an evaluator is configured and decodes the body
// into v. It writes the error answer and returns false on failure.
func (s *Server) evalRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.eval == nil {
		writeJSON(w, http.StatusServiceUnavailable, remote.ErrorResponse{Error: "no language model configured", UseMock: true})
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: "invalid JSON body: " + err.Error(), UseMock: true})
		return false
	}
	return true
}

// fail maps an evaluator error to the service's error answer.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := observe.Logger(r.Context())
	switch {
	case r.Context().Err() != nil:
		log.Info("client went away during evaluation", "op", op)
	case errors.Is(err, llm.ErrRateLimited):
		log.Warn("language model rate limited", "op", op)
		writeJSON(w, http.StatusTooManyRequests, remote.ErrorResponse{Error: "rate limited"})
	default:
		log.Error("evaluation failed", "op", op, "error", err)
		writeJSON(w, http.StatusBadGateway, remote.ErrorResponse{Error: err.Error(), UseMock: true})
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeJSON(w, http.StatusServiceUnavailable, remote.ErrorResponse{Error: "no speech recognizer configured"})
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxAudio))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, remote.ErrorResponse{Error: err.Error()})
		return
	}
	clip, err := ParseClip(r.Header.Get("Content-Type"), data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: err.Error()})
		return
	}
	text, err := Transcribe(r.Context(), s.stt, s.metrics, clip, s.language)
	if err != nil {
		observe.Logger(r.Context()).Error("transcription failed", "error", err)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, audio.ErrOddLength):
			status = http.StatusBadRequest
		case errors.Is(err, stt.ErrUnsupportedFormat):
			status = http.StatusUnsupportedMediaType
		}
		writeJSON(w, status, remote.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, remote.TranscribeResponse{Text: text})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req remote.TTSRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, remote.ErrorResponse{Error: "text is required"})
		return
	}
	if s.tts == nil {
		writeJSON(w, http.StatusServiceUnavailable, remote.ErrorResponse{Error: "no speech synthesizer configured"})
		return
	}

	voice := s.voice
	if req.Voice != "" {
		voice.ID = req.Voice
	}
	if req.Speed > 0 {
		voice.SpeedFactor = req.Speed
	}

	ctx := r.Context()
	start := time.Now()
	clip, err := s.tts.Synthesize(ctx, text, voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, voice.Provider, "tts")
		observe.Logger(ctx).Error("speech synthesis failed", "error", err)
		writeJSON(w, http.StatusBadGateway, remote.ErrorResponse{Error: err.Error()})
		return
	}
	s.metrics.RecordTTSCharacters(ctx, voice.Provider, len([]rune(text)))

	mt := clip.MIMEType
	if clip.IsPCM() {
		mt = pcmContentType(clip)
	}
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}

// Transcribe converts clip for recognition and returns the trimmed text. It
// is shared by the transcribe endpoint and the lesson gateway.
func Transcribe(ctx context.Context, p stt.Provider, m *observe.Metrics, clip types.AudioClip, language string) (string, error) {
	clip, err := audio.Convert(clip, audio.STTFormat)
	if err != nil {
		return "", err
	}
	start := time.Now()
	tr, err := p.Transcribe(ctx, clip, stt.Config{Language: language})
	m.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

// ParseClip builds a clip from an upload. Raw PCM is declared as
// "audio/pcm;rate=48000;channels=2"; containers such as audio/webm are passed
// through to the recognizer.
func ParseClip(contentType string, data []byte) (types.AudioClip, error) {
	if len(data) == 0 {
		return types.AudioClip{}, errors.New("empty audio body")
	}
	if contentType == "" {
		contentType = "audio/webm"
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("invalid Content-Type: %w", err)
	}
	clip := types.AudioClip{Data: data, MIMEType: mt}
	if clip.IsPCM() {
		clip.SampleRate, _ = strconv.Atoi(params["rate"])
		clip.Channels, _ = strconv.Atoi(params["channels"])
	}
	return clip, nil
}

func pcmContentType(c types.AudioClip) string {
	return mime.FormatMediaType(types.MIMEPCM, map[string]string{
		"rate":     strconv.Itoa(c.SampleRate),
		"channels": strconv.Itoa(max(c.Channels, 1)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
