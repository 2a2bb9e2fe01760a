// Package events carries scan progress from the orchestrator to whatever is
// observing it: exactly one Init first, zero or more Row events with strictly
// increasing global indices, then exactly one terminal Done or Error.
package events

import (
	"time"

	"github.com/drillops/cerberus/internal/model"
)

// Type tags the event union.
type Type string

const (
	TypeInit  Type = "init"
	TypeRow   Type = "row"
	TypeDone  Type = "done"
	TypeError Type = "error"
)

// Event is the tagged union delivered on the progress channel. Exactly one
// payload pointer matching Type is non-nil.
type Event struct {
	Type      Type
	Timestamp time.Time
	Init      *InitPayload
	Row       *RowPayload
	Done      *DonePayload
	Fail      *ErrorPayload
}

// InitPayload announces the planned scan size before any external work.
type InitPayload struct {
	TotalRows int
	Template  string
	Modes     []string
}

// RowPayload is one collected result row at its global position.
type RowPayload struct {
	GlobalIndex int
	Mode        model.Mode
	BatchIndex  int
	Values      map[string]string
}

// DonePayload closes a completed or cancelled scan with the echoed inputs
// and the per-mode result collections accumulated so far.
type DonePayload struct {
	FinalInputs []model.InputRow
	Outputs     map[model.Mode][]model.ResultRow
}

// ErrorPayload closes a failed scan.
type ErrorPayload struct {
	Message string
}
