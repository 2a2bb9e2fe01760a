package events

import (
	"time"

	"github.com/drillops/cerberus/internal/model"
)

// EmitFunc receives every event the orchestrator produces, in emission order.
type EmitFunc func(Event)

// Reporter is the single entry point the orchestrator emits through. It owns
// no buffering policy: the emit function (usually Bus.Publish) decides how
// events reach consumers.
type Reporter struct {
	emit EmitFunc
}

func NewReporter(emit EmitFunc) *Reporter {
	return &Reporter{emit: emit}
}

func (r *Reporter) Init(totalRows int, template string, modes []string) {
	r.emit(Event{
		Type:      TypeInit,
		Timestamp: time.Now().UTC(),
		Init:      &InitPayload{TotalRows: totalRows, Template: template, Modes: modes},
	})
}

func (r *Reporter) Row(row model.ResultRow) {
	r.emit(Event{
		Type:      TypeRow,
		Timestamp: time.Now().UTC(),
		Row: &RowPayload{
			GlobalIndex: row.GlobalIndex,
			Mode:        row.Mode,
			BatchIndex:  row.BatchIndex,
			Values:      row.Values,
		},
	})
}

func (r *Reporter) Done(finalInputs []model.InputRow, outputs map[model.Mode][]model.ResultRow) {
	r.emit(Event{
		Type:      TypeDone,
		Timestamp: time.Now().UTC(),
		Done:      &DonePayload{FinalInputs: finalInputs, Outputs: outputs},
	})
}

func (r *Reporter) Error(message string) {
	r.emit(Event{
		Type:      TypeError,
		Timestamp: time.Now().UTC(),
		Fail:      &ErrorPayload{Message: message},
	})
}
