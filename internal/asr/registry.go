package asr

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"asrgate/internal/apperr"
	"asrgate/internal/config"
)

// engineSpec is a registry entry before the model is loaded.
type engineSpec struct {
	info EngineInfo
	dir  string
	load func(s *config.Settings, dir string, info EngineInfo) (Engine, error)
}

// builtinSpecs is the catalogue of engines the gateway can serve.
func builtinSpecs() []engineSpec {
	return []engineSpec{
		{
			info: EngineInfo{
				ID:          "sensevoice-small",
				Name:        "SenseVoice Small",
				Description: "Multilingual non-autoregressive model with built-in language and emotion tags",
				Languages:   []string{"zh", "en", "ja", "ko", "yue"},
				Realtime:    true,
				Offline:     true,
			},
			dir: "sherpa-onnx-sense-voice-zh-en-ja-ko-yue-2024-07-17",
			load: func(s *config.Settings, dir string, info EngineInfo) (Engine, error) {
				return NewSenseVoiceEngine(dir, info)
			},
		},
		{
			info: EngineInfo{
				ID:          "paraformer-large",
				Name:        "Paraformer Large",
				Description: "Chinese/English non-autoregressive model",
				Languages:   []string{"zh", "en"},
				Realtime:    true,
				Offline:     true,
			},
			dir: "sherpa-onnx-paraformer-zh-2024-03-09",
			load: func(s *config.Settings, dir string, info EngineInfo) (Engine, error) {
				return NewParaformerEngine(dir, info)
			},
		},
		{
			info: EngineInfo{
				ID:          "zipformer-transducer",
				Name:        "Zipformer Transducer",
				Description: "Transducer model with optional language-model rescoring",
				Languages:   []string{"zh", "en"},
				Realtime:    false,
				Offline:     true,
			},
			dir: "sherpa-onnx-zipformer-zh-en-2023-11-22",
			load: func(s *config.Settings, dir string, info EngineInfo) (Engine, error) {
				return NewTransducerEngine(TransducerConfig{
					ModelDir:   dir,
					EnableLM:   s.EnableLM,
					LMModel:    s.LMModel,
					LMWeight:   s.LMWeight,
					LMBeamSize: s.LMBeamSize,
				}, info)
			},
		},
	}
}

// Handle is a registry slot for one engine. The model loads on first use;
// inference calls are serialized because sherpa streams share model state.
type Handle struct {
	spec     engineSpec
	settings *config.Settings

	loadOnce sync.Once
	loadErr  error
	engine   Engine
	loaded   atomic.Bool

	inferMu sync.Mutex
}

// Info returns the engine metadata, reflecting load state.
func (h *Handle) Info() EngineInfo {
	info := h.spec.info
	info.Loaded = h.loaded.Load()
	return info
}

// Transcribe loads the engine if needed and runs one serialized inference.
func (h *Handle) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts TranscribeOptions) (string, error) {
	h.loadOnce.Do(func() {
		dir := filepath.Join(h.settings.ModelsDir, h.spec.dir)
		engine, err := h.spec.load(h.settings, dir, h.spec.info)
		if err != nil {
			h.loadErr = err
			return
		}
		h.engine = engine
		h.loaded.Store(true)
		log.Printf("loaded engine %s from %s", h.spec.info.ID, dir)
	})
	if h.loadErr != nil {
		return "", h.loadErr
	}

	h.inferMu.Lock()
	defer h.inferMu.Unlock()
	return h.engine.Transcribe(ctx, samples, sampleRate, opts)
}

// Registry resolves model IDs to engine handles.
type Registry struct {
	settings  *config.Settings
	handles   map[string]*Handle
	defaultID string
}

// NewRegistry builds the registry from the built-in catalogue, filtered by
// ASR_MODEL_MODE (realtime, offline, all).
func NewRegistry(settings *config.Settings) *Registry {
	r := &Registry{
		settings:  settings,
		handles:   make(map[string]*Handle),
		defaultID: settings.DefaultModelID,
	}

	for _, spec := range builtinSpecs() {
		if !modeAllows(settings.ModelMode, spec.info) {
			continue
		}
		if spec.info.ID == r.defaultID {
			spec.info.Default = true
		}
		r.handles[spec.info.ID] = &Handle{spec: spec, settings: settings}
	}

	// Default excluded by mode: fall back to any remaining engine so the
	// alias rule still resolves.
	if _, ok := r.handles[r.defaultID]; !ok && len(r.handles) > 0 {
		ids := make([]string, 0, len(r.handles))
		for id := range r.handles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		r.defaultID = ids[0]
		h := r.handles[r.defaultID]
		h.spec.info.Default = true
	}

	return r
}

func modeAllows(mode string, info EngineInfo) bool {
	switch mode {
	case "realtime":
		return info.Realtime
	case "offline":
		return info.Offline
	default:
		return true
	}
}

// MapID resolves a requested model ID to a registered engine ID. Empty
// IDs, whisper-prefixed aliases and unknown IDs map to the default engine.
func (r *Registry) MapID(id string) string {
	if id == "" || strings.HasPrefix(strings.ToLower(id), "whisper") {
		return r.defaultID
	}
	if _, ok := r.handles[id]; ok {
		return id
	}
	return r.defaultID
}

// DefaultID returns the resolved default engine ID.
func (r *Registry) DefaultID() string { return r.defaultID }

// Get returns the handle for the given (possibly aliased) model ID.
func (r *Registry) Get(id string) (*Handle, error) {
	h, ok := r.handles[r.MapID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: no engine available for model %q", apperr.ErrEngineUnavailable, id)
	}
	return h, nil
}

// List returns all registered engines in a stable order.
func (r *Registry) List() []EngineInfo {
	infos := make([]EngineInfo, 0, len(r.handles))
	for _, h := range r.handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of registered engines.
func (r *Registry) Count() int { return len(r.handles) }

// Close releases every loaded engine.
func (r *Registry) Close() {
	for _, h := range r.handles {
		if h.loaded.Load() {
			h.engine.Close()
		}
	}
}
