package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"asrgate/internal/apperr"
	"asrgate/internal/ledger"
)

// Gateway status codes, shared between HTTP envelopes and WebSocket
// frame headers.
const (
	StatusSuccess     = 20000000
	StatusAuthFailed  = 40000001
	StatusInvalid     = 40000010
	StatusServerError = 50000000
)

// Envelope is the minimal response body every endpoint can fall back to.
type Envelope struct {
	TaskID  string `json:"task_id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

const taskIDKey = "taskID"

// TaskID returns the request's task ID assigned by TaskIDMiddleware.
func TaskID(c echo.Context) string {
	if id, ok := c.Get(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// TaskIDMiddleware assigns a task ID to every request and echoes it in
// the task_id response header.
func TaskIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ledger.NewTaskID()
			c.Set(taskIDKey, id)
			c.Response().Header().Set("task_id", id)
			return next(c)
		}
	}
}

// AuthMiddleware validates the bearer token when a token is configured.
// An empty configured token disables authentication.
func AuthMiddleware(appToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if appToken == "" {
				return next(c)
			}
			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != appToken {
				return respondError(c, apperr.ErrAuth)
			}
			return next(c)
		}
	}
}

// respondError maps a typed error onto the envelope and HTTP status.
func respondError(c echo.Context, err error) error {
	status, httpCode := classify(err)
	return c.JSON(httpCode, Envelope{
		TaskID:  TaskID(c),
		Status:  status,
		Message: err.Error(),
	})
}

// classify maps the error taxonomy to (gateway status, HTTP status).
func classify(err error) (int, int) {
	switch {
	case errors.Is(err, apperr.ErrAuth):
		return StatusAuthFailed, http.StatusUnauthorized
	case errors.Is(err, apperr.ErrInvalidMessage):
		return StatusInvalid, http.StatusBadRequest
	case errors.Is(err, apperr.ErrEngineUnavailable),
		errors.Is(err, apperr.ErrEngineFailure),
		errors.Is(err, apperr.ErrTransient):
		return StatusServerError, http.StatusInternalServerError
	default:
		return StatusServerError, http.StatusInternalServerError
	}
}
