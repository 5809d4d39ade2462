package handlers

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"asrgate/internal/asr"
	"asrgate/internal/dispatch"
)

type fakeEngine struct {
	text string
}

func (f *fakeEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts asr.TranscribeOptions) (string, error) {
	return f.text, nil
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *frameRecorder) sink(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.frames))
	for i, f := range r.frames {
		names[i] = f.Header.Name
	}
	return names
}

func (r *frameRecorder) byName(name string) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Frame
	for _, f := range r.frames {
		if f.Header.Name == name {
			out = append(out, f)
		}
	}
	return out
}

func (r *frameRecorder) waitFor(t *testing.T, name string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(r.byName(name)) > 0 {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// makePCM builds n 16-bit samples of constant amplitude.
func makePCM(amplitude float32, n int) []byte {
	v := int16(amplitude * 32767)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

func newTestSession(rec *frameRecorder, cfg SessionConfig) *Session {
	return NewSession("f00d"+"0000000000000000000000000000", cfg, &fakeEngine{text: "你好世界"}, dispatch.NewPool(2), nil, rec.sink)
}

func startFrame(sampleRate int, intermediate bool) Frame {
	return Frame{
		Header: FrameHeader{Name: ControlStartTranscription, Namespace: frameNamespace},
		Payload: map[string]any{
			"format":                     "pcm",
			"sample_rate":                sampleRate,
			"enable_intermediate_result": intermediate,
		},
	}
}

func TestSessionLifecycle(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(startFrame(16000, true))

	started := rec.byName(EventTranscriptionStarted)
	if len(started) != 1 || started[0].Header.Status != StatusSuccess {
		t.Fatalf("expected one TranscriptionStarted with success status, got %v", rec.names())
	}

	const stride = 16000 * strideMS / 1000

	// Three loud strides open a sentence and feed it.
	for i := 0; i < 3; i++ {
		s.HandleAudio(makePCM(0.2, stride))
	}

	begins := rec.byName(EventSentenceBegin)
	if len(begins) != 1 {
		t.Fatalf("expected one SentenceBegin, got %d", len(begins))
	}
	if idx, _ := begins[0].Payload["index"].(int); idx != 1 {
		t.Errorf("sentence index = %v, want 1", begins[0].Payload["index"])
	}

	if !rec.waitFor(t, EventTranscriptionResultChanged, time.Second) {
		t.Fatal("no TranscriptionResultChanged while sentence in progress")
	}

	// Two quiet strides end the sentence.
	for i := 0; i < endpointSilenceStrides; i++ {
		s.HandleAudio(makePCM(0, stride))
	}

	ends := rec.byName(EventSentenceEnd)
	if len(ends) != 1 {
		t.Fatalf("expected one SentenceEnd, got %d", len(ends))
	}
	if idx, _ := ends[0].Payload["index"].(int); idx != 1 {
		t.Errorf("SentenceEnd index = %v, want 1", ends[0].Payload["index"])
	}
	if result, _ := ends[0].Payload["result"].(string); result != "你好世界" {
		t.Errorf("SentenceEnd result = %q", ends[0].Payload["result"])
	}

	s.HandleControl(Frame{Header: FrameHeader{Name: ControlStopTranscription}})

	completed := rec.byName(EventTranscriptionCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected exactly one TranscriptionCompleted, got %d", len(completed))
	}
	if !s.Done() || s.Failed() {
		t.Error("session should be closed cleanly")
	}

	// SentenceEnd must come after its SentenceBegin and before Completed.
	names := rec.names()
	order := map[string]int{}
	for i, n := range names {
		if _, seen := order[n]; !seen {
			order[n] = i
		}
	}
	if !(order[EventSentenceBegin] < order[EventSentenceEnd] && order[EventSentenceEnd] < order[EventTranscriptionCompleted]) {
		t.Errorf("event order violated: %v", names)
	}
}

func TestStopFlushesOpenSentence(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(startFrame(16000, false))
	const stride = 16000 * strideMS / 1000
	s.HandleAudio(makePCM(0.2, stride))
	s.HandleControl(Frame{Header: FrameHeader{Name: ControlStopTranscription}})

	if len(rec.byName(EventSentenceEnd)) != 1 {
		t.Error("stop must flush the open sentence with a trailing SentenceEnd")
	}
	if len(rec.byName(EventTranscriptionCompleted)) != 1 {
		t.Error("stop must complete the session")
	}
}

func TestPCMBeforeStartFails(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleAudio(makePCM(0.2, 100))

	failed := rec.byName(EventTaskFailed)
	if len(failed) != 1 {
		t.Fatalf("expected TaskFailed, got %v", rec.names())
	}
	if failed[0].Header.Status != StatusInvalid {
		t.Errorf("TaskFailed status = %d, want %d", failed[0].Header.Status, StatusInvalid)
	}
	if !s.Failed() {
		t.Error("session should be in failed state")
	}
}

func TestDuplicateStartFails(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(startFrame(16000, false))
	s.HandleControl(startFrame(16000, false))

	if len(rec.byName(EventTaskFailed)) != 1 {
		t.Errorf("duplicate start must fail the session, got %v", rec.names())
	}
}

func TestInvalidStartPayloadFails(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(Frame{
		Header:  FrameHeader{Name: ControlStartTranscription},
		Payload: map[string]any{"format": "pcm", "sample_rate": 44100},
	})

	if len(rec.byName(EventTaskFailed)) != 1 {
		t.Fatalf("unsupported sample rate must fail, got %v", rec.names())
	}
}

func TestUnknownControlFails(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(Frame{Header: FrameHeader{Name: "RunSynthesis"}})

	if len(rec.byName(EventTaskFailed)) != 1 {
		t.Errorf("unknown control must fail the session, got %v", rec.names())
	}
}

func TestAbortEmitsNoTerminalEvent(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(startFrame(16000, false))
	const stride = 16000 * strideMS / 1000
	s.HandleAudio(makePCM(0.2, stride))
	s.Abort()

	if len(rec.byName(EventTranscriptionCompleted)) != 0 {
		t.Error("abort must not emit TranscriptionCompleted")
	}
	if len(rec.byName(EventTaskFailed)) != 0 {
		t.Error("abort must not emit TaskFailed")
	}
	if !s.Done() || s.Failed() {
		t.Error("aborted session should be closed, not failed")
	}
}

// blockingEngine holds every decode until its context is cancelled.
type blockingEngine struct {
	entered chan struct{}
}

func (e *blockingEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts asr.TranscribeOptions) (string, error) {
	select {
	case e.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestAbortCancelsInFlightFinalDecode(t *testing.T) {
	rec := &frameRecorder{}
	engine := &blockingEngine{entered: make(chan struct{}, 1)}
	s := NewSession("feed0000000000000000000000000000", SessionConfig{}, engine, dispatch.NewPool(1), nil, rec.sink)

	s.HandleControl(startFrame(16000, false))

	const stride = 16000 * strideMS / 1000
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.HandleAudio(makePCM(0.2, stride))
		// Two quiet strides hit the endpoint; the final decode blocks.
		s.HandleAudio(makePCM(0, 2*stride))
	}()

	select {
	case <-engine.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("final decode never started")
	}

	s.Abort()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not cancel the in-flight final decode")
	}

	for _, name := range rec.names() {
		switch name {
		case EventSentenceEnd, EventTaskFailed, EventTranscriptionCompleted:
			t.Errorf("%s emitted after abort", name)
		}
	}
	if !s.Done() || s.Failed() {
		t.Error("aborted session should be closed, not failed")
	}
}

func TestNearfieldGateDropsQuietStrides(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{
		EnableNearfieldFilter: true,
		NearfieldRMSThreshold: 0.01,
	})

	s.HandleControl(startFrame(16000, false))
	const stride = 16000 * strideMS / 1000
	for i := 0; i < 5; i++ {
		s.HandleAudio(makePCM(0.001, stride))
	}

	if len(rec.byName(EventSentenceBegin)) != 0 {
		t.Error("sub-threshold strides must not open a sentence")
	}
}

func TestSmallFramesAreCoalesced(t *testing.T) {
	rec := &frameRecorder{}
	s := newTestSession(rec, SessionConfig{})

	s.HandleControl(startFrame(16000, false))

	// 100 ms client frames: no sentence until a full stride accumulates.
	const frame = 16000 / 10
	for i := 0; i < 5; i++ {
		s.HandleAudio(makePCM(0.2, frame))
	}
	if len(rec.byName(EventSentenceBegin)) != 0 {
		t.Fatal("sentence opened before a full stride was coalesced")
	}
	s.HandleAudio(makePCM(0.2, frame))
	if len(rec.byName(EventSentenceBegin)) != 1 {
		t.Error("sentence should open once the stride fills")
	}
}
