package asr

import (
	"context"
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"asrgate/internal/apperr"
	"asrgate/internal/audio"
)

// VADConfig configures the silero voice activity detector.
type VADConfig struct {
	ModelPath          string
	Threshold          float32
	MinSilenceDuration float32 // seconds
	MinSpeechDuration  float32 // seconds
	SampleRate         int
}

// DefaultVADConfig returns the detection parameters used for subtitle
// segmentation.
func DefaultVADConfig(modelPath string) VADConfig {
	return VADConfig{
		ModelPath:          modelPath,
		Threshold:          0.5,
		MinSilenceDuration: 0.25,
		MinSpeechDuration:  0.1,
		SampleRate:         16000,
	}
}

// VADClient runs silero VAD over full recordings. The underlying detector
// is stateful, so calls are serialized with a mutex.
type VADClient struct {
	cfg VADConfig
	mu  sync.Mutex
	vad *sherpa.VoiceActivityDetector
}

// NewVADClient creates the detector. The model file must exist.
func NewVADClient(cfg VADConfig) (*VADClient, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: vad model not found: %s", apperr.ErrEngineUnavailable, cfg.ModelPath)
	}

	modelConfig := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              cfg.ModelPath,
			Threshold:          cfg.Threshold,
			MinSilenceDuration: cfg.MinSilenceDuration,
			MinSpeechDuration:  cfg.MinSpeechDuration,
			WindowSize:         512,
		},
		SampleRate: cfg.SampleRate,
		NumThreads: 1,
		Debug:      0,
	}

	vad := sherpa.NewVoiceActivityDetector(&modelConfig, 60)
	if vad == nil {
		return nil, fmt.Errorf("%w: failed to create voice activity detector", apperr.ErrEngineUnavailable)
	}

	return &VADClient{cfg: cfg, vad: vad}, nil
}

// Detect returns the speech regions in the given samples, in milliseconds.
// An empty result is legal (pure silence or music).
func (c *VADClient) Detect(ctx context.Context, samples []float32, sampleRate int) ([]audio.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vad == nil {
		return nil, fmt.Errorf("%w: voice activity detector is closed", apperr.ErrEngineUnavailable)
	}

	var regions []audio.Region
	collect := func() {
		for !c.vad.IsEmpty() {
			segment := c.vad.Front()
			c.vad.Pop()

			startMS := segment.Start * 1000 / c.cfg.SampleRate
			endMS := (segment.Start + len(segment.Samples)) * 1000 / c.cfg.SampleRate
			regions = append(regions, audio.Region{StartMS: startMS, EndMS: endMS})
		}
	}

	const windowSize = 512
	for off := 0; off < len(samples); off += windowSize {
		end := off + windowSize
		if end > len(samples) {
			end = len(samples)
		}
		c.vad.AcceptWaveform(samples[off:end])
		collect()
	}

	c.vad.Flush()
	collect()

	return regions, nil
}

// Close releases the detector.
func (c *VADClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vad != nil {
		sherpa.DeleteVoiceActivityDetector(c.vad)
		c.vad = nil
	}
}
