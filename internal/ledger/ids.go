package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// NewTaskID returns a 32-character lowercase hex identifier. The same
// format serves task IDs and streaming message IDs.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
