package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"

	"asrgate/internal/asr"
	"asrgate/internal/audio"
	"asrgate/internal/compose"
	"asrgate/internal/dispatch"
	"asrgate/internal/ledger"
)

// WebSocket event names, Aliyun SpeechTranscriber dialect.
const (
	EventTranscriptionStarted       = "TranscriptionStarted"
	EventSentenceBegin              = "SentenceBegin"
	EventTranscriptionResultChanged = "TranscriptionResultChanged"
	EventSentenceEnd                = "SentenceEnd"
	EventTranscriptionCompleted     = "TranscriptionCompleted"
	EventTaskFailed                 = "TaskFailed"

	ControlStartTranscription = "StartTranscription"
	ControlStopTranscription  = "StopTranscription"

	frameNamespace = "SpeechTranscriber"
)

// FrameHeader is the JSON header of every WebSocket frame.
type FrameHeader struct {
	MessageID     string `json:"message_id"`
	TaskID        string `json:"task_id"`
	Namespace     string `json:"namespace"`
	Name          string `json:"name"`
	Status        int    `json:"status,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	StatusText    string `json:"status_text,omitempty"`
}

// Frame is one outbound or inbound WebSocket JSON frame.
type Frame struct {
	Header  FrameHeader    `json:"header"`
	Payload map[string]any `json:"payload,omitempty"`
}

// StartPayload is the StartTranscription control payload.
type StartPayload struct {
	Format                         string `json:"format"`
	SampleRate                     int    `json:"sample_rate"`
	EnableIntermediateResult       bool   `json:"enable_intermediate_result"`
	EnablePunctuationPrediction    bool   `json:"enable_punctuation_prediction"`
	EnableInverseTextNormalization bool   `json:"enable_inverse_text_normalization"`
}

// EventSink delivers one frame to the client. Implementations serialize
// writes.
type EventSink func(Frame) error

// Transcriber runs one blocking inference. *asr.Handle satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts asr.TranscribeOptions) (string, error)
}

// Session states.
type sessionState int

const (
	stateInit sessionState = iota
	stateStarted
	stateDraining
	stateClosed
	stateFailed
)

// Endpointing parameters. A sentence opens when a stride's RMS crosses
// speechRMSThreshold and closes after endpointSilenceStrides quiet
// strides or when the sentence buffer hits maxSentenceSec.
const (
	strideMS               = 600
	speechRMSThreshold     = 0.01
	endpointSilenceStrides = 2
	maxSentenceSec         = 30
)

// SessionConfig carries the per-session tuning taken from settings.
type SessionConfig struct {
	EnableNearfieldFilter bool
	NearfieldRMSThreshold float64
	NearfieldFilterLog    bool
}

// Session is the per-connection streaming state machine. It is decoupled
// from the socket: frames go out through the sink and audio comes in via
// HandleControl/HandleAudio, so tests can drive it directly.
type Session struct {
	taskID string
	cfg    SessionConfig
	sink   EventSink
	engine Transcriber
	pool   *dispatch.Pool
	punct  *asr.Punctuator

	mu    sync.Mutex
	state sessionState
	start StartPayload

	pending       []float32 // partial stride being coalesced
	sentence      []float32 // samples of the in-progress sentence
	inSentence    bool
	silenceCount  int
	sentenceIndex int
	consumed      int64 // total samples accepted, for event timing

	partialBusy bool // at most one intermediate decode in flight

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a session in Init state.
func NewSession(taskID string, cfg SessionConfig, engine Transcriber, pool *dispatch.Pool, punct *asr.Punctuator, sink EventSink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		taskID: taskID,
		cfg:    cfg,
		sink:   sink,
		engine: engine,
		pool:   pool,
		punct:  punct,
		ctx:    ctx,
		cancel: cancel,
	}
}

// TaskID returns the session's task identifier.
func (s *Session) TaskID() string { return s.taskID }

// Failed reports whether the session terminated with TaskFailed.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateFailed
}

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed || s.state == stateFailed
}

// HandleControl processes one inbound JSON control frame.
func (s *Session) HandleControl(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Header.Name {
	case ControlStartTranscription:
		if s.state != stateInit {
			s.failLocked(StatusInvalid, "duplicate StartTranscription")
			return
		}
		start, err := parseStartPayload(frame.Payload)
		if err != nil {
			s.failLocked(StatusInvalid, err.Error())
			return
		}
		s.start = start
		s.state = stateStarted
		s.emitLocked(EventTranscriptionStarted, StatusSuccess, "", map[string]any{
			"session_id": s.taskID,
		})

	case ControlStopTranscription:
		if s.state != stateStarted {
			s.failLocked(StatusInvalid, "StopTranscription before StartTranscription")
			return
		}
		s.state = stateDraining
		s.drainLocked()

	default:
		s.failLocked(StatusInvalid, fmt.Sprintf("unsupported control %q", frame.Header.Name))
	}
}

func parseStartPayload(payload map[string]any) (StartPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return StartPayload{}, fmt.Errorf("invalid StartTranscription payload")
	}
	var start StartPayload
	if err := json.Unmarshal(raw, &start); err != nil {
		return StartPayload{}, fmt.Errorf("invalid StartTranscription payload")
	}
	if start.Format == "" {
		start.Format = "pcm"
	}
	if start.Format != "pcm" {
		return StartPayload{}, fmt.Errorf("unsupported format %q", start.Format)
	}
	if start.SampleRate == 0 {
		start.SampleRate = 16000
	}
	if start.SampleRate != 8000 && start.SampleRate != 16000 {
		return StartPayload{}, fmt.Errorf("unsupported sample_rate %d", start.SampleRate)
	}
	return start, nil
}

// HandleAudio processes one inbound binary PCM frame. Client frames are
// coalesced into fixed strides before endpointing.
func (s *Session) HandleAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateInit {
		s.failLocked(StatusInvalid, "binary frame before StartTranscription")
		return
	}
	if s.state != stateStarted {
		return
	}

	s.pending = append(s.pending, audio.BytesToFloat32(data)...)

	strideSamples := s.start.SampleRate * strideMS / 1000
	for len(s.pending) >= strideSamples {
		stride := s.pending[:strideSamples]
		s.pending = s.pending[strideSamples:]
		s.consumed += int64(strideSamples)
		s.processStrideLocked(stride)
		if s.state != stateStarted {
			return
		}
	}
}

func (s *Session) processStrideLocked(stride []float32) {
	level := rms(stride)

	if !s.inSentence {
		if s.cfg.EnableNearfieldFilter && level < s.cfg.NearfieldRMSThreshold {
			if s.cfg.NearfieldFilterLog {
				log.Printf("[%s] near-field gate dropped stride (rms=%.5f)", s.taskID, level)
			}
			return
		}
		if level < speechRMSThreshold {
			return
		}
		s.sentenceIndex++
		s.inSentence = true
		s.silenceCount = 0
		s.sentence = s.sentence[:0]
		s.emitLocked(EventSentenceBegin, StatusSuccess, "", map[string]any{
			"index": s.sentenceIndex,
			"time":  s.elapsedMS(),
		})
	}

	s.sentence = append(s.sentence, stride...)

	if level >= speechRMSThreshold {
		s.silenceCount = 0
		if s.start.EnableIntermediateResult {
			s.maybeDecodePartialLocked()
		}
	} else {
		s.silenceCount++
	}

	if s.silenceCount >= endpointSilenceStrides || len(s.sentence) >= maxSentenceSec*s.start.SampleRate {
		s.finishSentenceLocked()
	}
}

// maybeDecodePartialLocked starts an intermediate decode unless one is
// already running. The result is discarded if the sentence ended or the
// session left Started while it was in flight.
func (s *Session) maybeDecodePartialLocked() {
	if s.partialBusy {
		return
	}
	s.partialBusy = true

	snapshot := make([]float32, len(s.sentence))
	copy(snapshot, s.sentence)
	index := s.sentenceIndex
	sampleRate := s.start.SampleRate

	go func() {
		text, err := dispatch.Run(s.ctx, s.pool, func() (string, error) {
			return s.engine.Transcribe(s.ctx, snapshot, sampleRate, asr.TranscribeOptions{})
		})

		s.mu.Lock()
		defer s.mu.Unlock()
		s.partialBusy = false

		if err != nil || s.state != stateStarted || !s.inSentence || s.sentenceIndex != index {
			return
		}
		text = compose.CleanTags(text)
		if text == "" {
			return
		}
		s.emitLocked(EventTranscriptionResultChanged, StatusSuccess, "", map[string]any{
			"index":  index,
			"time":   s.elapsedMS(),
			"result": text,
		})
	}()
}

// finishSentenceLocked runs the final decode for the open sentence and
// emits its SentenceEnd. The mutex is released around the decode so Abort
// from another goroutine can cancel it; the terminal state is re-checked
// before emitting.
func (s *Session) finishSentenceLocked() {
	if !s.inSentence {
		return
	}
	samples := s.sentence
	s.sentence = nil
	s.inSentence = false
	s.silenceCount = 0
	index := s.sentenceIndex
	start := s.start
	beginMS := s.elapsedMS() - len(samples)*1000/start.SampleRate
	if beginMS < 0 {
		beginMS = 0
	}

	s.mu.Unlock()
	text, err := dispatch.Run(s.ctx, s.pool, func() (string, error) {
		return s.engine.Transcribe(s.ctx, samples, start.SampleRate, asr.TranscribeOptions{})
	})
	if err == nil {
		text = compose.CleanTags(text)
		if text != "" && start.EnablePunctuationPrediction && s.punct != nil {
			if punctuated, perr := s.punct.AddPunct(text); perr == nil {
				text = punctuated
			}
		}
		if text != "" && start.EnableInverseTextNormalization {
			text = compose.ApplyITN(text)
		}
	}
	s.mu.Lock()

	if s.state == stateClosed || s.state == stateFailed {
		return
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.failLocked(StatusServerError, fmt.Sprintf("inference failed: %v", err))
		return
	}

	s.emitLocked(EventSentenceEnd, StatusSuccess, "", map[string]any{
		"index":      index,
		"time":       s.elapsedMS(),
		"begin_time": beginMS,
		"result":     text,
	})
}

// drainLocked flushes the residue after StopTranscription and completes
// the session.
func (s *Session) drainLocked() {
	// Any coalesced remainder joins the open sentence before the final
	// decode.
	if s.inSentence && len(s.pending) > 0 {
		s.sentence = append(s.sentence, s.pending...)
		s.consumed += int64(len(s.pending))
	}
	s.pending = nil
	s.finishSentenceLocked()

	if s.state != stateDraining {
		return
	}
	s.state = stateClosed
	s.emitLocked(EventTranscriptionCompleted, StatusSuccess, "", nil)
	s.cancel()
}

// Abort handles client disconnect: cancel in-flight work, emit nothing.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || s.state == stateFailed {
		return
	}
	s.state = stateClosed
	s.cancel()
}

// Fail terminates the session with a single TaskFailed event.
func (s *Session) Fail(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(status, message)
}

func (s *Session) failLocked(status int, message string) {
	if s.state == stateClosed || s.state == stateFailed {
		return
	}
	s.state = stateFailed
	s.emitLocked(EventTaskFailed, status, message, nil)
	s.cancel()
}

func (s *Session) emitLocked(name string, status int, statusText string, payload map[string]any) {
	frame := Frame{
		Header: FrameHeader{
			MessageID:  ledger.NewTaskID(),
			TaskID:     s.taskID,
			Namespace:  frameNamespace,
			Name:       name,
			Status:     status,
			StatusText: statusText,
		},
		Payload: payload,
	}
	if status != StatusSuccess {
		frame.Header.StatusMessage = statusText
	}
	if err := s.sink(frame); err != nil {
		// Socket gone: stop producing.
		if s.state != stateClosed && s.state != stateFailed {
			s.state = stateClosed
			s.cancel()
		}
	}
}

// elapsedMS is the session clock derived from consumed samples.
func (s *Session) elapsedMS() int {
	if s.start.SampleRate == 0 {
		return 0
	}
	return int(s.consumed * 1000 / int64(s.start.SampleRate))
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
