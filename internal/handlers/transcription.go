package handlers

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"asrgate/internal/apperr"
	"asrgate/internal/asr"
	"asrgate/internal/audio"
	"asrgate/internal/compose"
	"asrgate/internal/config"
	"asrgate/internal/dispatch"
	"asrgate/internal/ledger"
	"asrgate/internal/version"
)

// uploadChunkSize is the copy granularity for streaming uploads to disk.
const uploadChunkSize = 10 * 1024 * 1024

// TranscriptionHandler serves the batch HTTP API.
type TranscriptionHandler struct {
	settings   *config.Settings
	registry   *asr.Registry
	pool       *dispatch.Pool
	vad        audio.VADSource
	punctuator *asr.Punctuator
	ledger     *ledger.Ledger
}

// NewTranscriptionHandler wires the batch pipeline dependencies.
func NewTranscriptionHandler(
	settings *config.Settings,
	registry *asr.Registry,
	pool *dispatch.Pool,
	vad audio.VADSource,
	punctuator *asr.Punctuator,
	taskLedger *ledger.Ledger,
) *TranscriptionHandler {
	return &TranscriptionHandler{
		settings:   settings,
		registry:   registry,
		pool:       pool,
		vad:        vad,
		punctuator: punctuator,
		ledger:     taskLedger,
	}
}

// transcribeParams are the accepted form fields. prompt, temperature and
// timestamp_granularities[] are accepted but ignored.
type transcribeParams struct {
	model             string
	language          string
	responseFormat    string
	hotwords          string
	enablePunctuation bool
	enableITN         bool
	maxSegmentSec     float64
	minSegmentSec     float64
}

func (h *TranscriptionHandler) parseParams(c echo.Context) transcribeParams {
	p := transcribeParams{
		model:             c.FormValue("model"),
		language:          c.FormValue("language"),
		responseFormat:    c.FormValue("response_format"),
		hotwords:          c.FormValue("hotwords"),
		enablePunctuation: formBool(c, "enable_punctuation", true),
		enableITN:         formBool(c, "enable_itn", true),
		maxSegmentSec:     formFloat(c, "max_segment_sec", h.settings.MaxSegmentSec),
		minSegmentSec:     formFloat(c, "min_segment_sec", h.settings.MinSegmentSec),
	}
	if p.responseFormat == "" {
		p.responseFormat = "json"
	}
	return p
}

// Create handles POST /v1/audio/transcriptions.
func (h *TranscriptionHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	taskID := TaskID(c)
	params := h.parseParams(c)

	if h.ledger != nil {
		if err := h.ledger.Record(taskID, ledger.KindBatch); err != nil {
			log.Printf("[%s] ledger record failed: %v", taskID, err)
		}
	}
	fail := func(err error) error {
		h.completeTask(taskID, ledger.StatusFailed, err.Error())
		return respondError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fail(fmt.Errorf("%w: missing file field", apperr.ErrInvalidMessage))
	}

	switch params.responseFormat {
	case "json", "text", "verbose_json", "srt", "vtt":
	default:
		return fail(fmt.Errorf("%w: unsupported response_format %q", apperr.ErrInvalidMessage, params.responseFormat))
	}

	if err := validateSegmentBounds(params.maxSegmentSec, params.minSegmentSec); err != nil {
		return fail(err)
	}

	scratchPath, err := h.saveUpload(fileHeader, taskID)
	if err != nil {
		return fail(err)
	}
	defer os.Remove(scratchPath)

	format := audio.DetectFormat("", fileHeader.Filename, nil)

	log.Printf("[%s] transcription request: model=%s format=%s size=%d", taskID, params.model, params.responseFormat, fileHeader.Size)

	buf, err := dispatch.Run(ctx, h.pool, func() (*audio.Buffer, error) {
		decodeCtx, cancel := contextWithTimeout(ctx, h.settings.CallTimeout)
		defer cancel()
		return audio.DecodeFile(decodeCtx, scratchPath, format)
	})
	if err != nil {
		return fail(err)
	}

	durationSec := buf.DurationSec()

	// Plain formats need no subtitle-grade segmentation; a large segment
	// bound skips most VAD splitting without changing the text.
	maxSegmentSec := params.maxSegmentSec
	if params.responseFormat == "json" || params.responseFormat == "text" {
		maxSegmentSec = 55.0
	}

	splitter := &audio.Splitter{
		MaxSegmentSec: maxSegmentSec,
		MinSegmentSec: params.minSegmentSec,
		TempDir:       h.settings.TempDir,
		VAD:           h.vad,
	}
	segments, cleanup, err := splitter.Split(ctx, scratchPath, buf)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	handle, err := h.registry.Get(params.model)
	if err != nil {
		return fail(err)
	}

	opts := asr.TranscribeOptions{
		Hotwords:          params.hotwords,
		EnablePunctuation: params.enablePunctuation,
		EnableITN:         params.enableITN,
	}

	var sentences []compose.Sentence
	var fullText strings.Builder
	for _, seg := range segments {
		samples, err := h.segmentSamples(buf, seg, scratchPath)
		if err != nil {
			return fail(err)
		}

		text, err := dispatch.Run(ctx, h.pool, func() (string, error) {
			inferCtx, cancel := contextWithTimeout(ctx, h.settings.CallTimeout)
			defer cancel()
			return handle.Transcribe(inferCtx, samples, buf.SampleRate, opts)
		})
		if err != nil {
			return fail(err)
		}

		text = compose.CleanTags(text)
		if text == "" {
			continue
		}
		if params.enablePunctuation && h.punctuator != nil {
			punctuated, perr := h.punctuator.AddPunct(text)
			if perr != nil {
				log.Printf("[%s] punctuation failed, keeping raw text: %v", taskID, perr)
			} else {
				text = punctuated
			}
		}
		if params.enableITN {
			text = compose.ApplyITN(text)
		}

		sentences = append(sentences, compose.Sentence{
			Text:  text,
			Start: seg.StartSec(),
			End:   seg.EndSec(),
		})
		fullText.WriteString(text)
	}

	h.completeTask(taskID, ledger.StatusCompleted, "")
	return h.render(c, params, fullText.String(), sentences, durationSec)
}

// validateSegmentBounds enforces the form-level segmentation limits.
func validateSegmentBounds(maxSec, minSec float64) error {
	if maxSec < 0.1 || maxSec > 55.0 {
		return fmt.Errorf("%w: max_segment_sec must be within [0.1, 55], got %g", apperr.ErrInvalidMessage, maxSec)
	}
	if minSec < 0.01 || minSec > maxSec {
		return fmt.Errorf("%w: min_segment_sec must be within [0.01, max_segment_sec], got %g", apperr.ErrInvalidMessage, minSec)
	}
	return nil
}

// saveUpload streams the multipart file to a scratch path in bounded
// chunks, enforcing MAX_AUDIO_SIZE incrementally.
func (h *TranscriptionHandler) saveUpload(fileHeader *multipart.FileHeader, taskID string) (string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open upload: %v", apperr.ErrInvalidMessage, err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext == "" {
		ext = ".bin"
	}
	scratchPath := filepath.Join(h.settings.TempDir, "upload_"+taskID+ext)

	dst, err := os.Create(scratchPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create scratch file: %v", apperr.ErrTransient, err)
	}
	defer dst.Close()

	var written int64
	chunk := make([]byte, uploadChunkSize)
	for {
		n, rerr := src.Read(chunk)
		if n > 0 {
			written += int64(n)
			if written > h.settings.MaxAudioSize {
				os.Remove(scratchPath)
				maxMB := h.settings.MaxAudioSize / 1024 / 1024
				return "", fmt.Errorf("%w: file too large, maximum size is %dMB", apperr.ErrInvalidMessage, maxMB)
			}
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				os.Remove(scratchPath)
				return "", fmt.Errorf("%w: failed to write scratch file: %v", apperr.ErrTransient, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(scratchPath)
			return "", fmt.Errorf("%w: failed to read upload: %v", apperr.ErrInvalidMessage, rerr)
		}
	}

	if written == 0 {
		os.Remove(scratchPath)
		return "", fmt.Errorf("%w: empty audio file", apperr.ErrInvalidMessage)
	}
	return scratchPath, nil
}

// segmentSamples returns the PCM for one segment. Scratch segment files
// are read back; the whole-recording fast path reuses the decode buffer.
func (h *TranscriptionHandler) segmentSamples(buf *audio.Buffer, seg audio.Segment, sourcePath string) ([]float32, error) {
	if seg.Path == sourcePath {
		return buf.Samples, nil
	}
	segBuf, err := audio.ReadWavFile(seg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read segment: %v", apperr.ErrTransient, err)
	}
	return segBuf.Samples, nil
}

// render produces the response in the requested format.
func (h *TranscriptionHandler) render(c echo.Context, params transcribeParams, fullText string, sentences []compose.Sentence, durationSec float64) error {
	switch params.responseFormat {
	case "text":
		return c.String(http.StatusOK, fullText)

	case "srt", "vtt":
		var subtitle []compose.Sentence
		for _, s := range sentences {
			subtitle = append(subtitle, compose.SplitByPunctuation(s.Text, s.Start, s.End)...)
		}
		if len(subtitle) == 0 && fullText != "" {
			subtitle = []compose.Sentence{{Text: fullText, Start: 0, End: durationSec}}
		}
		if params.responseFormat == "srt" {
			return c.String(http.StatusOK, compose.FormatSRT(subtitle))
		}
		return c.Blob(http.StatusOK, "text/vtt", []byte(compose.FormatVTT(subtitle)))

	case "verbose_json":
		language := params.language
		if language == "" {
			language = compose.DetectLanguage(fullText)
		}
		type verboseSegment struct {
			ID    int     `json:"id"`
			Seek  int     `json:"seek"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		}
		segs := make([]verboseSegment, 0, len(sentences))
		for i, s := range sentences {
			segs = append(segs, verboseSegment{
				ID:    i,
				Seek:  int(s.Start * 100),
				Start: s.Start,
				End:   s.End,
				Text:  s.Text,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"task":     "transcribe",
			"language": language,
			"duration": durationSec,
			"text":     fullText,
			"segments": segs,
		})

	default: // json
		return c.JSON(http.StatusOK, map[string]string{"text": fullText})
	}
}

// ListModels handles GET /v1/models.
func (h *TranscriptionHandler) ListModels(c echo.Context) error {
	type modelObject struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	infos := h.registry.List()
	data := make([]modelObject, 0, len(infos))
	for _, info := range infos {
		data = append(data, modelObject{
			ID:      info.ID,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "asrgate",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": data})
}

// PsList handles GET /api/ps, a fixed compatibility stub.
func (h *TranscriptionHandler) PsList(c echo.Context) error {
	ids := make([]string, 0)
	for _, info := range h.registry.List() {
		ids = append(ids, info.ID)
	}
	return c.JSON(http.StatusOK, map[string][]string{"models": ids})
}

// PsStub handles POST/DELETE /api/ps/:model_id, fixed compatibility stubs.
func (h *TranscriptionHandler) PsStub(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListTasks handles GET /api/v1/tasks.
func (h *TranscriptionHandler) ListTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	tasks, err := h.ledger.Recent(limit)
	if err != nil {
		return respondError(c, fmt.Errorf("%w: %v", apperr.ErrTransient, err))
	}
	if tasks == nil {
		tasks = []ledger.Task{}
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

// Health handles GET /health.
func (h *TranscriptionHandler) Health(c echo.Context) error {
	ids := make([]string, 0)
	for _, info := range h.registry.List() {
		ids = append(ids, info.ID)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.Version,
		"model_mode": h.settings.ModelMode,
		"engines":    ids,
	})
}

func (h *TranscriptionHandler) completeTask(taskID, status, message string) {
	if h.ledger == nil {
		return
	}
	if err := h.ledger.Complete(taskID, status, message); err != nil {
		log.Printf("[%s] ledger update failed: %v", taskID, err)
	}
}

// contextWithTimeout bounds blocking calls; a non-positive timeout means
// no bound beyond the parent context.
func contextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func formBool(c echo.Context, name string, fallback bool) bool {
	if v := c.FormValue(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func formFloat(c echo.Context, name string, fallback float64) float64 {
	if v := c.FormValue(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
