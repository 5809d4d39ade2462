package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"asrgate/internal/apperr"
)

// SenseVoiceEngine is the non-autoregressive SenseVoice model. It emits
// language and emotion tags inline; the composer strips them.
type SenseVoiceEngine struct {
	recognizer *sherpa.OfflineRecognizer
	info       EngineInfo
	sampleRate int
}

// NewSenseVoiceEngine loads the SenseVoice model from modelDir, preferring
// the int8-quantized file when present.
func NewSenseVoiceEngine(modelDir string, info EngineInfo) (*SenseVoiceEngine, error) {
	modelPath := findModelFile(modelDir, []string{"model.int8.onnx", "model.onnx"})
	if modelPath == "" {
		return nil, fmt.Errorf("%w: sensevoice model not found in %s", apperr.ErrEngineUnavailable, modelDir)
	}

	tokensPath := filepath.Join(modelDir, "tokens.txt")
	if _, err := os.Stat(tokensPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: tokens file not found: %s", apperr.ErrEngineUnavailable, tokensPath)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: 16000,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			SenseVoice: sherpa.OfflineSenseVoiceModelConfig{
				Model:                       modelPath,
				Language:                    "auto",
				UseInverseTextNormalization: 1,
			},
			Tokens:     tokensPath,
			NumThreads: 4,
			Debug:      0,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("%w: failed to create sensevoice recognizer", apperr.ErrEngineUnavailable)
	}

	info.Loaded = true
	return &SenseVoiceEngine{
		recognizer: recognizer,
		info:       info,
		sampleRate: 16000,
	}, nil
}

func (e *SenseVoiceEngine) Info() EngineInfo { return e.info }

func (e *SenseVoiceEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts TranscribeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	stream := sherpa.NewOfflineStream(e.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	e.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", fmt.Errorf("%w: sensevoice returned no result", apperr.ErrEngineFailure)
	}
	return result.Text, nil
}

func (e *SenseVoiceEngine) Close() {
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
}

// findModelFile returns the first existing candidate in dir, or "".
func findModelFile(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
