package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Settings holds the gateway configuration. All values come from
// environment variables (optionally populated from a .env file by the
// caller) with defaults suitable for local use.
type Settings struct {
	Host string
	Port string

	// APPTOKEN enables bearer-token authentication when non-empty.
	AppToken string

	TempDir   string
	DataDir   string
	ModelsDir string

	// Audio limits
	MaxAudioSize  int64   // bytes
	MaxSegmentSec float64 // subtitle segment upper bound
	MinSegmentSec float64 // subtitle segment lower bound

	// ASR models
	DefaultModelID string
	ModelMode      string // realtime, offline, all
	VADModel       string // path to silero_vad.onnx
	PuncModel      string // path to the punctuation model directory

	// Language model rescoring (transducer engines)
	EnableLM   bool
	LMModel    string
	LMWeight   float64
	LMBeamSize int

	// Streaming near-field gate
	EnableNearfieldFilter bool
	NearfieldRMSThreshold float64
	NearfieldFilterLog    bool

	// Inference scheduling
	CallTimeout      time.Duration
	WorkersPerEngine int
}

// Load reads the settings from the environment.
func Load() *Settings {
	s := &Settings{
		Host:                  getEnv("HOST", "0.0.0.0"),
		Port:                  getEnv("PORT", "8000"),
		AppToken:              os.Getenv("APPTOKEN"),
		TempDir:               getEnv("TEMP_DIR", "temp"),
		DataDir:               getEnv("DATA_DIR", "data"),
		ModelsDir:             getEnv("MODELS_DIR", "models"),
		MaxAudioSize:          getEnvInt64("MAX_AUDIO_SIZE", 10*1024*1024*1024),
		MaxSegmentSec:         getEnvFloat("MAX_SEGMENT_SEC", 6.0),
		MinSegmentSec:         getEnvFloat("MIN_SEGMENT_SEC", 0.8),
		DefaultModelID:        getEnv("DEFAULT_ASR_MODEL_ID", "sensevoice-small"),
		ModelMode:             getEnv("ASR_MODEL_MODE", "all"),
		EnableLM:              getEnvBool("ASR_ENABLE_LM", true),
		LMWeight:              getEnvFloat("LM_WEIGHT", 0.15),
		LMBeamSize:            getEnvInt("LM_BEAM_SIZE", 10),
		EnableNearfieldFilter: getEnvBool("ASR_ENABLE_NEARFIELD_FILTER", true),
		NearfieldRMSThreshold: getEnvFloat("ASR_NEARFIELD_RMS_THRESHOLD", 0.01),
		NearfieldFilterLog:    getEnvBool("ASR_NEARFIELD_FILTER_LOG_ENABLED", true),
		CallTimeout:           time.Duration(getEnvInt("ASR_CALL_TIMEOUT_SEC", 7200)) * time.Second,
		WorkersPerEngine:      getEnvInt("ASR_WORKERS_PER_ENGINE", 2),
	}
	s.VADModel = getEnv("VAD_MODEL", filepath.Join(s.ModelsDir, "silero_vad.onnx"))
	s.PuncModel = getEnv("PUNC_MODEL", filepath.Join(s.ModelsDir, "sherpa-onnx-punct-ct-transformer-zh-en-vocab272727-2024-04-12"))
	s.LMModel = getEnv("LM_MODEL", "")
	return s
}

// EnsureDirectories creates the scratch and data directories.
func (s *Settings) EnsureDirectories() error {
	for _, dir := range []string{s.TempDir, s.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
