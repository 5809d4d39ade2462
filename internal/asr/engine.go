package asr

import "context"

// TranscribeOptions are per-call knobs forwarded by the API layer.
type TranscribeOptions struct {
	// Hotwords bias decoding toward the given phrases, one per line.
	// Engines that cannot use them ignore them.
	Hotwords string

	// EnablePunctuation asks for punctuated output where the engine can
	// produce it directly.
	EnablePunctuation bool

	// EnableITN asks for written-form numbers where the engine supports
	// inverse text normalization natively.
	EnableITN bool
}

// EngineInfo describes a recognition engine for the model listing APIs.
type EngineInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Languages   []string `json:"languages"`
	Realtime    bool     `json:"supports_realtime"`
	Offline     bool     `json:"supports_offline"`
	Default     bool     `json:"is_default"`
	Loaded      bool     `json:"loaded"`
}

// Engine is a loaded speech recognition model. Implementations are not
// safe for concurrent use; the registry serializes calls per engine.
type Engine interface {
	Info() EngineInfo

	// Transcribe decodes mono float32 samples into text. Sample rates
	// other than 16 kHz are resampled internally.
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts TranscribeOptions) (string, error)

	Close()
}
