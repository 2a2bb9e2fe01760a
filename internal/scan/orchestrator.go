// Package scan runs the sensitivity scan state machine: it plans batches
// from the input rows, walks them in order against the external control
// surface, re-indexes collected rows to their global positions, and streams
// progress events. Exactly one scan runs against a surface at a time; the
// caller enforces that.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/drillops/cerberus/internal/bridge"
	"github.com/drillops/cerberus/internal/events"
	"github.com/drillops/cerberus/internal/grid"
	"github.com/drillops/cerberus/internal/model"
	"github.com/drillops/cerberus/internal/plan"
)

// ErrNoValidCombinations means the grid built fine but every selected mode
// lacks a required non-empty dimension, so the plan is empty. A
// configuration problem, not "nothing to do".
var ErrNoValidCombinations = errors.New("no valid parameter combinations for the selected modes")

// Surface is the full bridge contract the orchestrator drives.
type Surface interface {
	Invoke(ctx context.Context, key string, timeout time.Duration) error
	SetValue(ctx context.Context, key, value string, timeout time.Duration) error
	CollectTable(ctx context.Context, key string, timeout time.Duration) (bridge.Table, error)
}

// ModeConfigurator applies the mode-dependent checkbox/tab configuration.
// Must be idempotent: the orchestrator re-applies it on every mode
// transition, including resumed ones.
type ModeConfigurator interface {
	ConfigureMode(ctx context.Context, mode model.Mode) error
}

// WorkspaceSetup opens the scan workspace and loads the calculation
// template, exactly once per scan before any batch.
type WorkspaceSetup interface {
	OpenWorkspace(ctx context.Context) error
	LoadTemplate(ctx context.Context, name string) error
}

// Orchestrator is the single sequential scan worker. Safe to query for
// state from other goroutines; Run itself must not be called concurrently.
type Orchestrator struct {
	cfg     model.ScanConfig
	surface Surface
	modeCfg ModeConfigurator
	setup   WorkspaceSetup
	logger  *log.Logger

	mu    sync.Mutex
	state State
}

func New(cfg model.ScanConfig, surface Surface, modeCfg ModeConfigurator, setup WorkspaceSetup, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		surface: surface,
		modeCfg: modeCfg,
		setup:   setup,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the current phase. Readable while Run is in flight.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// rowJob is one value list pending population into the parameter matrix.
type rowJob struct {
	cacheKey string
	control  string
	values   []float64
}

// Run executes the whole scan: grid build, planning, batch walk, collection.
// Validation-class errors (grid, planner, empty plan) return before the
// first event. Once Init is emitted, any failure produces exactly one Error
// event and is also returned; completion and cancellation both produce one
// Done event and a nil error. Rows with global index below resumeOffset are
// re-derived by the surface but neither emitted nor accumulated.
// Cancellation is observed via ctx, checked only between batches.
func (o *Orchestrator) Run(ctx context.Context, reporter *events.Reporter, rows []model.InputRow, resumeOffset int, modes model.ModeSet) ([]model.InputRow, map[model.Mode][]model.ResultRow, error) {
	o.setState(StateInitializing)

	g, err := grid.Build(rows)
	if err != nil {
		o.setState(StateFailed)
		return nil, nil, err
	}
	batches, err := plan.Plan(g, modes, o.cfg.MaxBatchSize)
	if err != nil {
		o.setState(StateFailed)
		return nil, nil, err
	}
	if len(batches) == 0 {
		o.setState(StateFailed)
		return nil, nil, ErrNoValidCombinations
	}

	total := plan.TotalRows(batches)
	outputs := make(map[model.Mode][]model.ResultRow)

	if resumeOffset >= total {
		// Legal no-op resume: everything already done, don't touch the
		// surface.
		reporter.Init(total, o.cfg.Template, modes.Names())
		reporter.Done(rows, outputs)
		o.setState(StateCompleted)
		return rows, outputs, nil
	}

	reporter.Init(total, o.cfg.Template, modes.Names())
	o.logf("scan started: %d row(s) planned across %d batch(es), resuming at %d", total, len(batches), resumeOffset)

	// ctx carries only the cooperative cancel signal and is consulted at
	// batch boundaries. Surface calls run on a detached context so an
	// in-flight helper is never killed mid-batch; the per-call timeouts
	// still bound each call.
	surfaceCtx := context.WithoutCancel(ctx)

	if err := o.setup.OpenWorkspace(surfaceCtx); err != nil {
		return o.fail(reporter, rows, outputs, fmt.Errorf("open workspace: %w", err))
	}
	if err := o.setup.LoadTemplate(surfaceCtx, o.cfg.Template); err != nil {
		return o.fail(reporter, rows, outputs, fmt.Errorf("load template: %w", err))
	}

	cache := newValueCache()
	batchSeq := make(map[model.Mode]int)
	var currentMode model.Mode
	cancelled := false

	for _, batch := range batches {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		// The per-mode index follows the planned position, so a resumed
		// run numbers its batches exactly as the full run would have.
		batchSeq[batch.Mode]++
		seq := batchSeq[batch.Mode]

		if batch.EndOffset() <= resumeOffset {
			continue
		}

		if batch.Mode != currentMode {
			o.setState(StatePreparingMode)
			if err := o.modeCfg.ConfigureMode(surfaceCtx, batch.Mode); err != nil {
				return o.fail(reporter, rows, outputs, fmt.Errorf("configure mode %s: %w", batch.Mode, err))
			}
			currentMode = batch.Mode
		}

		o.setState(StatePopulatingValues)
		if err := o.populateBatch(surfaceCtx, cache, batch); err != nil {
			return o.fail(reporter, rows, outputs, err)
		}

		o.setState(StateCalculating)
		if err := o.surface.Invoke(surfaceCtx, o.cfg.Controls.Calculate, o.timeout(o.cfg.Timeouts.CalculateSec)); err != nil {
			return o.fail(reporter, rows, outputs, fmt.Errorf("trigger calculation: %w", err))
		}

		// A calculation already triggered must be drained before
		// cancellation is honored, so Collecting follows unconditionally.
		o.setState(StateCollecting)
		table, err := o.surface.CollectTable(surfaceCtx, o.cfg.Controls.ResultsTable, o.timeout(o.cfg.Timeouts.CollectSec))
		if err != nil {
			return o.fail(reporter, rows, outputs, fmt.Errorf("collect results: %w", err))
		}
		if len(table.Rows) == 0 {
			return o.fail(reporter, rows, outputs, &bridge.ProtocolError{
				Key: o.cfg.Controls.ResultsTable,
				Msg: "result table empty after calculation",
			})
		}
		if len(table.Rows) != batch.CombinationCount {
			return o.fail(reporter, rows, outputs, &bridge.ProtocolError{
				Key: o.cfg.Controls.ResultsTable,
				Msg: fmt.Sprintf("result table has %d row(s), batch planned %d", len(table.Rows), batch.CombinationCount),
			})
		}

		for local, cells := range table.Rows {
			globalIndex := batch.GlobalOffset + local
			if globalIndex < resumeOffset {
				continue
			}
			row := model.ResultRow{
				GlobalIndex: globalIndex,
				Mode:        batch.Mode,
				BatchIndex:  seq,
				Values:      rowValues(table.Headers, cells),
			}
			reporter.Row(row)
			outputs[batch.Mode] = append(outputs[batch.Mode], row)
		}
		o.logf("batch %s/%d done: rows %d..%d", batch.Mode, seq, batch.GlobalOffset, batch.EndOffset()-1)

		if ctx.Err() != nil {
			cancelled = true
			break
		}
	}

	if cancelled {
		o.setState(StateCancelled)
		o.logf("scan cancelled after %d collected row(s)", collectedCount(outputs))
	} else {
		o.setState(StateCompleted)
		o.logf("scan completed: %d collected row(s)", collectedCount(outputs))
	}
	reporter.Done(rows, outputs)
	return rows, outputs, nil
}

// populateBatch loads the batch's value lists into the parameter matrix.
// The identity cache decides which lists actually need sending: it holds
// exactly what this run has loaded, so it skips every reload the planner's
// flags would skip in a full run, and it still loads density/force for the
// first batch a resumed run executes — where the flags refer to state a
// previous, aborted run loaded. The matrix dialog is not even opened when
// nothing changed.
func (o *Orchestrator) populateBatch(ctx context.Context, cache *valueCache, batch plan.PlannedBatch) error {
	controls := o.cfg.Controls

	forceJob := rowJob{cacheKey: cacheKeyForceRIH, control: controls.ForceRIHRow, values: batch.ForceOnEnd}
	if batch.Mode == model.ModePOOH {
		forceJob.cacheKey = cacheKeyForcePOOH
		forceJob.control = controls.ForcePOOHRow
	}
	// Depth rides the cache like the other rows: an identical depth list is
	// not re-sent every batch.
	jobs := []rowJob{
		{cacheKey: cacheKeyDensity, control: controls.DensityRow, values: batch.Densities},
		forceJob,
		{cacheKey: cacheKeyDepth, control: controls.DepthRow, values: batch.Depths},
	}

	pending := jobs[:0]
	for _, job := range jobs {
		if cache.Current(job.cacheKey, job.values) {
			o.logf("values for %s unchanged, skipping reload", job.cacheKey)
			continue
		}
		pending = append(pending, job)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := o.invoke(ctx, controls.ParameterMatrix); err != nil {
		return fmt.Errorf("open parameter matrix: %w", err)
	}
	for _, job := range pending {
		if err := o.populateRow(ctx, job); err != nil {
			return fmt.Errorf("populate %s values: %w", job.cacheKey, err)
		}
		cache.Store(job.cacheKey, job.values)
	}
	if err := o.invoke(ctx, controls.MatrixOK); err != nil {
		return fmt.Errorf("confirm parameter matrix: %w", err)
	}
	return nil
}

func (o *Orchestrator) populateRow(ctx context.Context, job rowJob) error {
	controls := o.cfg.Controls
	if err := o.invoke(ctx, job.control); err != nil {
		return err
	}
	if err := o.invoke(ctx, controls.ValueEditorClear); err != nil {
		return err
	}
	for _, v := range job.values {
		if err := o.surface.SetValue(ctx, controls.ValueEditorInput, grid.FormatValue(v), o.timeout(o.cfg.Timeouts.ValueSec)); err != nil {
			return err
		}
		if err := o.invoke(ctx, controls.ValueEditorAdd); err != nil {
			return err
		}
	}
	return o.invoke(ctx, controls.ValueEditorOK)
}

func (o *Orchestrator) fail(reporter *events.Reporter, rows []model.InputRow, outputs map[model.Mode][]model.ResultRow, err error) ([]model.InputRow, map[model.Mode][]model.ResultRow, error) {
	o.setState(StateFailed)
	o.logf("scan failed: %v", err)
	reporter.Error(err.Error())
	return rows, outputs, err
}

func (o *Orchestrator) invoke(ctx context.Context, key string) error {
	return o.surface.Invoke(ctx, key, o.timeout(o.cfg.Timeouts.ControlSec))
}

func (o *Orchestrator) timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf("[scan] "+format, args...)
	}
}

// rowValues zips the collected header labels with one row's cells. Cells
// beyond the labelled columns get positional names so nothing is dropped.
func rowValues(headers []string, cells []string) map[string]string {
	values := make(map[string]string, len(cells))
	for i, cell := range cells {
		label := fmt.Sprintf("col_%d", i)
		if i < len(headers) && headers[i] != "" {
			label = headers[i]
		}
		values[label] = cell
	}
	return values
}

func collectedCount(outputs map[model.Mode][]model.ResultRow) int {
	n := 0
	for _, rows := range outputs {
		n += len(rows)
	}
	return n
}
