package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drillops/cerberus/internal/grid"
	"github.com/drillops/cerberus/internal/model"
	"github.com/drillops/cerberus/internal/plan"
	"github.com/drillops/cerberus/internal/scan"
	"github.com/drillops/cerberus/internal/store"
	"github.com/drillops/cerberus/internal/uds"
)

type scanStartParams struct {
	Rows         []model.InputRow `json:"rows"`
	ResumeOffset int              `json:"resume_offset,omitempty"`
	Modes        []string         `json:"modes,omitempty"`
}

type scanStartResult struct {
	RunID string `json:"run_id"`
}

type resultsParams struct {
	RunID string `json:"run_id,omitempty"`
}

type resultsPayload struct {
	RunID         string            `json:"run_id"`
	State         string            `json:"state"`
	Template      string            `json:"template"`
	Modes         []string          `json:"modes"`
	TotalRows     int               `json:"total_rows"`
	ProcessedRows int               `json:"processed_rows"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	Rows          []model.ResultRow `json:"rows"`
}

type labelsParams struct {
	Key string `json:"key,omitempty"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("scan.start", d.handleScanStart)
	d.server.Handle("scan.cancel", d.handleScanCancel)
	d.server.Handle("scan.status", d.handleScanStatus)
	d.server.Handle("scan.results", d.handleScanResults)
	d.server.Handle("labels.get", d.handleLabelsGet)

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleScanStart(req *uds.Request) *uds.Response {
	var params scanStartParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("decode params: %v", err))
	}
	if len(params.Rows) == 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "no input rows provided")
	}
	if params.ResumeOffset < 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "resume_offset must not be negative")
	}
	modes, err := parseModes(params.Modes)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	runID, err := d.scans.Start(params.Rows, params.ResumeOffset, modes)
	if err != nil {
		return scanStartError(err)
	}
	return uds.SuccessResponse(scanStartResult{RunID: runID})
}

func scanStartError(err error) *uds.Response {
	switch {
	case errors.Is(err, ErrScanActive):
		return uds.ErrorResponse(uds.ErrCodeScanActive, err.Error())
	case errors.Is(err, scan.ErrNoValidCombinations):
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	var validationErr *grid.ValidationError
	var configErr *plan.ConfigurationError
	if errors.As(err, &validationErr) || errors.As(err, &configErr) {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
}

func (d *Daemon) handleScanCancel(req *uds.Request) *uds.Response {
	if err := d.scans.Cancel(); err != nil {
		if errors.Is(err, ErrNoScan) {
			return uds.ErrorResponse(uds.ErrCodeNoScan, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "cancelling"})
}

func (d *Daemon) handleScanStatus(req *uds.Request) *uds.Response {
	status, err := d.scans.Status()
	if err != nil {
		if errors.Is(err, ErrNoScan) {
			return uds.ErrorResponse(uds.ErrCodeNoScan, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(status)
}

func (d *Daemon) handleScanResults(req *uds.Request) *uds.Response {
	var params resultsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("decode params: %v", err))
		}
	}

	run, rows, err := d.scans.Results(params.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	payload := resultsPayload{
		RunID:         run.ID,
		State:         run.State,
		Template:      run.Template,
		Modes:         run.Modes,
		TotalRows:     run.TotalRows,
		ProcessedRows: run.ProcessedRows,
		Error:         run.Error,
		StartedAt:     run.StartedAt,
		Rows:          rows,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		payload.FinishedAt = &finished
	}
	return uds.SuccessResponse(payload)
}

func (d *Daemon) handleLabelsGet(req *uds.Request) *uds.Response {
	var params labelsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("decode params: %v", err))
		}
	}

	if params.Key != "" {
		headers := d.labels.HeadersFor(params.Key)
		if len(headers) == 0 {
			return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("no labels recovered for %q", params.Key))
		}
		return uds.SuccessResponse(map[string][]string{params.Key: headers})
	}

	all := make(map[string][]string)
	for _, key := range d.labels.Keys() {
		all[key] = d.labels.HeadersFor(key)
	}
	return uds.SuccessResponse(all)
}

func parseModes(names []string) (model.ModeSet, error) {
	if len(names) == 0 {
		return model.NewModeSet(), nil
	}
	modes := make([]model.Mode, 0, len(names))
	for _, name := range names {
		switch model.Mode(name) {
		case model.ModeRIH, model.ModePOOH:
			modes = append(modes, model.Mode(name))
		default:
			return model.ModeSet{}, fmt.Errorf("unknown mode %q (expected RIH or POOH)", name)
		}
	}
	return model.NewModeSet(modes...), nil
}
