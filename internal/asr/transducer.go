package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"asrgate/internal/apperr"
)

// TransducerConfig selects the model files and decoding strategy for a
// zipformer transducer engine.
type TransducerConfig struct {
	ModelDir string

	// EnableLM turns on shallow-fusion rescoring with an external language
	// model. Requires LMModel and switches decoding to modified beam search.
	EnableLM   bool
	LMModel    string
	LMWeight   float64
	LMBeamSize int
}

// TransducerEngine is a zipformer transducer with optional LM rescoring.
type TransducerEngine struct {
	recognizer *sherpa.OfflineRecognizer
	info       EngineInfo
}

// NewTransducerEngine loads encoder/decoder/joiner from cfg.ModelDir,
// preferring int8-quantized files.
func NewTransducerEngine(cfg TransducerConfig, info EngineInfo) (*TransducerEngine, error) {
	encoderPath := findModelFile(cfg.ModelDir, []string{"encoder.int8.onnx", "encoder.onnx"})
	decoderPath := findModelFile(cfg.ModelDir, []string{"decoder.int8.onnx", "decoder.onnx"})
	joinerPath := findModelFile(cfg.ModelDir, []string{"joiner.int8.onnx", "joiner.onnx"})
	if encoderPath == "" || decoderPath == "" || joinerPath == "" {
		return nil, fmt.Errorf("%w: transducer model files not found in %s", apperr.ErrEngineUnavailable, cfg.ModelDir)
	}

	tokensPath := filepath.Join(cfg.ModelDir, "tokens.txt")
	if _, err := os.Stat(tokensPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: tokens file not found: %s", apperr.ErrEngineUnavailable, tokensPath)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: 16000,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: encoderPath,
				Decoder: decoderPath,
				Joiner:  joinerPath,
			},
			Tokens:     tokensPath,
			NumThreads: 4,
			Debug:      0,
		},
	}

	if cfg.EnableLM && cfg.LMModel != "" {
		if _, err := os.Stat(cfg.LMModel); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: language model not found: %s", apperr.ErrEngineUnavailable, cfg.LMModel)
		}
		sherpaConfig.LmConfig = sherpa.OfflineLMConfig{
			Model: cfg.LMModel,
			Scale: float32(cfg.LMWeight),
		}
		sherpaConfig.DecodingMethod = "modified_beam_search"
		sherpaConfig.MaxActivePaths = cfg.LMBeamSize
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("%w: failed to create transducer recognizer", apperr.ErrEngineUnavailable)
	}

	info.Loaded = true
	return &TransducerEngine{recognizer: recognizer, info: info}, nil
}

func (e *TransducerEngine) Info() EngineInfo { return e.info }

func (e *TransducerEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts TranscribeOptions) (string, error) {
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
		return "", fmt.Errorf("%w: transducer returned no result", apperr.ErrEngineFailure)
	}
	return result.Text, nil
}

func (e *TransducerEngine) Close() {
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
}
