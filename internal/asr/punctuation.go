package asr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"asrgate/internal/apperr"
)

// Punctuator restores punctuation with the CT-Transformer model. The model
// loads lazily on first use; callers treat failures as non-fatal and keep
// the unpunctuated text.
type Punctuator struct {
	modelDir string

	mu      sync.Mutex
	once    sync.Once
	punct   *sherpa.OfflinePunctuation
	loadErr error
}

// NewPunctuator creates a lazy punctuator for the given model directory.
func NewPunctuator(modelDir string) *Punctuator {
	return &Punctuator{modelDir: modelDir}
}

func (p *Punctuator) load() {
	modelPath := filepath.Join(p.modelDir, "model.onnx")
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		p.loadErr = fmt.Errorf("%w: punctuation model not found: %s", apperr.ErrEngineUnavailable, modelPath)
		return
	}

	config := sherpa.OfflinePunctuationConfig{
		Model: sherpa.OfflinePunctuationModelConfig{
			CtTransformer: modelPath,
			NumThreads:    1,
			Debug:         0,
		},
	}

	punct := sherpa.NewOfflinePunctuation(&config)
	if punct == nil {
		p.loadErr = fmt.Errorf("%w: failed to create punctuation model", apperr.ErrEngineUnavailable)
		return
	}
	p.punct = punct
}

// AddPunct returns text with punctuation restored. The model is shared,
// so calls are serialized.
func (p *Punctuator) AddPunct(text string) (string, error) {
	if text == "" {
		return "", nil
	}

	p.once.Do(p.load)
	if p.loadErr != nil {
		return text, p.loadErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.punct.AddPunct(text), nil
}

// Close releases the model if it was loaded.
func (p *Punctuator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.punct != nil {
		sherpa.DeleteOfflinePunc(p.punct)
		p.punct = nil
	}
}
