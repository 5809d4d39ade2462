// Package apperr defines the error categories the gateway surfaces to
// clients. Components wrap these sentinels with fmt.Errorf("...: %w", ...)
// and the response layer maps them to status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrAuth indicates a missing or invalid token. Never retried.
	ErrAuth = errors.New("access denied")

	// ErrInvalidMessage indicates a malformed request: empty audio,
	// oversized upload, unsupported format. Never retried.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrEngineUnavailable indicates the requested model cannot load or is
	// excluded by the configured model mode.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrEngineFailure indicates inference itself failed. Not auto-retried.
	ErrEngineFailure = errors.New("engine failure")

	// ErrTransient indicates a temporary OS-level problem (disk full,
	// subprocess timeout). Operator-retry.
	ErrTransient = errors.New("transient failure")
)
