package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"asrgate/internal/config"
)

func newBatchHandler(t *testing.T, maxAudioSize int64) *TranscriptionHandler {
	t.Helper()
	return NewTranscriptionHandler(&config.Settings{
		TempDir:       t.TempDir(),
		MaxAudioSize:  maxAudioSize,
		MaxSegmentSec: 6.0,
		MinSegmentSec: 0.8,
	}, nil, nil, nil, nil, nil)
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file content: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func postTranscription(t *testing.T, h *TranscriptionHandler, fields map[string]string, content []byte) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	body, contentType := multipartBody(t, fields, "audio.wav", content)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := TaskIDMiddleware()(h.Create)(c); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	var env Envelope
	if rec.Code != http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("error response is not an envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestCreateRejectsOversizedUpload(t *testing.T) {
	h := newBatchHandler(t, 64)

	rec, env := postTranscription(t, h, nil, make([]byte, 1024))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if env.Status != StatusInvalid {
		t.Errorf("envelope status = %d, want %d", env.Status, StatusInvalid)
	}
	if !strings.Contains(env.Message, "too large") {
		t.Errorf("envelope message = %q, want a size complaint", env.Message)
	}

	// The partial scratch file must not survive the rejection.
	entries, err := os.ReadDir(h.settings.TempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	for _, entry := range entries {
		t.Errorf("scratch file survived rejected upload: %s", entry.Name())
	}
}

func TestCreateRejectsEmptyUpload(t *testing.T) {
	h := newBatchHandler(t, 1024)

	rec, env := postTranscription(t, h, nil, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if env.Status != StatusInvalid {
		t.Errorf("envelope status = %d, want %d", env.Status, StatusInvalid)
	}
}

func TestCreateRejectsSegmentBounds(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"zero max", map[string]string{"max_segment_sec": "0"}},
		{"negative max", map[string]string{"max_segment_sec": "-3"}},
		{"max above limit", map[string]string{"max_segment_sec": "60"}},
		{"zero min", map[string]string{"min_segment_sec": "0"}},
		{"min above max", map[string]string{"max_segment_sec": "2", "min_segment_sec": "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newBatchHandler(t, 1024)
			fields := map[string]string{"response_format": "srt"}
			for k, v := range tt.fields {
				fields[k] = v
			}

			rec, env := postTranscription(t, h, fields, make([]byte, 32))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if env.Status != StatusInvalid {
				t.Errorf("envelope status = %d, want %d", env.Status, StatusInvalid)
			}
		})
	}
}

func TestValidateSegmentBounds(t *testing.T) {
	valid := []struct{ max, min float64 }{
		{6.0, 0.8}, {0.1, 0.01}, {55.0, 55.0}, {55.0, 0.01},
	}
	for _, tt := range valid {
		if err := validateSegmentBounds(tt.max, tt.min); err != nil {
			t.Errorf("validateSegmentBounds(%g, %g) = %v, want nil", tt.max, tt.min, err)
		}
	}

	invalid := []struct{ max, min float64 }{
		{0, 0.8}, {-1, 0.8}, {55.1, 0.8}, {6.0, 0}, {6.0, -0.5}, {2.0, 5.0},
	}
	for _, tt := range invalid {
		if err := validateSegmentBounds(tt.max, tt.min); err == nil {
			t.Errorf("validateSegmentBounds(%g, %g) = nil, want error", tt.max, tt.min)
		}
	}
}
