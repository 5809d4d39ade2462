package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"asrgate/internal/asr"
	"asrgate/internal/config"
	"asrgate/internal/dispatch"
	"asrgate/internal/ledger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	// The test page and embedded clients connect cross-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler serves the realtime WebSocket API.
type StreamHandler struct {
	settings   *config.Settings
	registry   *asr.Registry
	pool       *dispatch.Pool
	punctuator *asr.Punctuator
	ledger     *ledger.Ledger
}

// NewStreamHandler wires the streaming dependencies.
func NewStreamHandler(
	settings *config.Settings,
	registry *asr.Registry,
	pool *dispatch.Pool,
	punctuator *asr.Punctuator,
	taskLedger *ledger.Ledger,
) *StreamHandler {
	return &StreamHandler{
		settings:   settings,
		registry:   registry,
		pool:       pool,
		punctuator: punctuator,
		ledger:     taskLedger,
	}
}

// Serve handles GET /ws/v1/asr.
func (h *StreamHandler) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	taskID := TaskID(c)
	if taskID == "" {
		taskID = ledger.NewTaskID()
	}

	handle, err := h.registry.Get("")
	if err != nil {
		log.Printf("[%s] no streaming engine: %v", taskID, err)
		return nil
	}

	if h.ledger != nil {
		if lerr := h.ledger.Record(taskID, ledger.KindStream); lerr != nil {
			log.Printf("[%s] ledger record failed: %v", taskID, lerr)
		}
	}

	var writeMu sync.Mutex
	sink := func(frame Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	session := NewSession(taskID, SessionConfig{
		EnableNearfieldFilter: h.settings.EnableNearfieldFilter,
		NearfieldRMSThreshold: h.settings.NearfieldRMSThreshold,
		NearfieldFilterLog:    h.settings.NearfieldFilterLog,
	}, handle, h.pool, h.punctuator, sink)

	log.Printf("[%s] streaming session opened", taskID)

	status := ledger.StatusCompleted
	message := ""
	for !session.Done() {
		messageType, data, rerr := conn.ReadMessage()
		if rerr != nil {
			session.Abort()
			status, message = ledger.StatusFailed, "client disconnected"
			break
		}

		switch messageType {
		case websocket.TextMessage:
			var frame Frame
			if jerr := json.Unmarshal(data, &frame); jerr != nil {
				session.Fail(StatusInvalid, "malformed control frame")
				continue
			}
			session.HandleControl(frame)
		case websocket.BinaryMessage:
			session.HandleAudio(data)
		}
	}

	if session.Failed() {
		status, message = ledger.StatusFailed, "task failed"
	}
	if h.ledger != nil {
		if lerr := h.ledger.Complete(taskID, status, message); lerr != nil {
			log.Printf("[%s] ledger update failed: %v", taskID, lerr)
		}
	}
	log.Printf("[%s] streaming session closed", taskID)
	return nil
}
