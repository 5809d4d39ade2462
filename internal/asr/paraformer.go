package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"asrgate/internal/apperr"
)

// ParaformerEngine is the Paraformer non-autoregressive model.
type ParaformerEngine struct {
	recognizer *sherpa.OfflineRecognizer
	info       EngineInfo
}

// NewParaformerEngine loads a Paraformer model from modelDir.
func NewParaformerEngine(modelDir string, info EngineInfo) (*ParaformerEngine, error) {
	modelPath := findModelFile(modelDir, []string{"model.int8.onnx", "model.onnx"})
	if modelPath == "" {
		return nil, fmt.Errorf("%w: paraformer model not found in %s", apperr.ErrEngineUnavailable, modelDir)
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
			Paraformer: sherpa.OfflineParaformerModelConfig{
				Model: modelPath,
			},
			Tokens:     tokensPath,
			NumThreads: 4,
			Debug:      0,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("%w: failed to create paraformer recognizer", apperr.ErrEngineUnavailable)
	}

	info.Loaded = true
	return &ParaformerEngine{recognizer: recognizer, info: info}, nil
}

func (e *ParaformerEngine) Info() EngineInfo { return e.info }

func (e *ParaformerEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts TranscribeOptions) (string, error) {
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
		return "", fmt.Errorf("%w: paraformer returned no result", apperr.ErrEngineFailure)
	}
	return result.Text, nil
}

func (e *ParaformerEngine) Close() {
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
}
