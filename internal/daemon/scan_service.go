package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drillops/cerberus/internal/bridge"
	"github.com/drillops/cerberus/internal/events"
	"github.com/drillops/cerberus/internal/grid"
	"github.com/drillops/cerberus/internal/model"
	"github.com/drillops/cerberus/internal/panel"
	"github.com/drillops/cerberus/internal/plan"
	"github.com/drillops/cerberus/internal/scan"
	"github.com/drillops/cerberus/internal/store"
)

// ErrScanActive is returned when a scan is already in flight: the external
// surface has process-wide mutable state, so exactly one scan may drive it.
var ErrScanActive = errors.New("a scan is already running")

// ErrNoScan is returned when there is nothing to cancel or report on.
var ErrNoScan = errors.New("no scan in flight")

// Runner is the orchestrator contract the service hosts. Factory injection
// lets tests substitute a fake without touching the surface.
type Runner interface {
	Run(ctx context.Context, reporter *events.Reporter, rows []model.InputRow, resumeOffset int, modes model.ModeSet) ([]model.InputRow, map[model.Mode][]model.ResultRow, error)
	State() scan.State
}

// RunnerFactory builds a fresh runner for one scan invocation.
type RunnerFactory func() Runner

// RunStatus is the live or last-known condition of a run.
type RunStatus struct {
	RunID         string `json:"run_id"`
	State         string `json:"state"`
	TotalRows     int    `json:"total_rows"`
	ProcessedRows int    `json:"processed_rows"`
	Error         string `json:"error,omitempty"`
}

// ScanService hosts at most one scan at a time, persists its rows, and
// answers status queries.
type ScanService struct {
	cfg       model.Config
	store     *store.Store
	logger    *log.Logger
	eventLog  *events.EventLog
	newRunner RunnerFactory

	mu     sync.Mutex
	active *activeScan
}

type activeScan struct {
	id     string
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	total     int
	processed int
	final     string // terminal state name, "" while live
	errMsg    string
}

func NewScanService(cerberusDir string, cfg model.Config, st *store.Store, logger *log.Logger) *ScanService {
	s := &ScanService{
		cfg:    cfg,
		store:  st,
		logger: logger,
	}
	s.newRunner = func() Runner { return defaultRunner(cerberusDir, cfg, logger) }

	eventLog, err := events.NewEventLog(filepath.Join(cerberusDir, "logs", "events.jsonl"), events.DefaultMaxLogSize)
	if err != nil {
		s.logf("event log unavailable: %v", err)
	} else {
		s.eventLog = eventLog
	}
	return s
}

// defaultRunner wires bridge, panel, and orchestrator from config.
func defaultRunner(cerberusDir string, cfg model.Config, logger *log.Logger) Runner {
	bridgeCfg := cfg.Bridge
	bridgeCfg.HelperPath = resolvePath(cerberusDir, bridgeCfg.HelperPath)
	bridgeCfg.DumpPath = resolvePath(cerberusDir, bridgeCfg.DumpPath)
	br := bridge.New(bridgeCfg, logger)
	pn := panel.New(cfg.Scan, br, logger)
	return scan.New(cfg.Scan, br, pn, pn, logger)
}

// SetRunnerFactory overrides runner construction for testing.
func (s *ScanService) SetRunnerFactory(f RunnerFactory) { s.newRunner = f }

// Start validates the request, registers a run, and launches the
// orchestrator on a background goroutine. Validation-class failures (bad
// rows, bad capacity, empty plan) return synchronously and no run is
// created.
func (s *ScanService) Start(rows []model.InputRow, resumeOffset int, modes model.ModeSet) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		select {
		case <-s.active.done:
		default:
			return "", ErrScanActive
		}
	}

	// Pre-flight the pure stages so a doomed request never becomes a run.
	g, err := grid.Build(rows)
	if err != nil {
		return "", err
	}
	batches, err := plan.Plan(g, modes, s.cfg.Scan.MaxBatchSize)
	if err != nil {
		return "", err
	}
	if len(batches) == 0 {
		return "", scan.ErrNoValidCombinations
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeScan{
		id:     uuid.NewString(),
		runner: s.newRunner(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = run

	bus := events.NewBus()
	if s.eventLog != nil {
		bus.Subscribe(func(e events.Event) {
			if err := s.eventLog.Append(run.id, e); err != nil {
				s.logf("event log append: %v", err)
			}
		})
	}
	// Persistence and status updates ride the emit path itself so every
	// event is durable before the next one is produced.
	reporter := events.NewReporter(func(e events.Event) {
		s.consume(run, e)
		bus.Publish(e)
	})

	go s.execute(ctx, run, reporter, bus, rows, resumeOffset, modes)
	s.logf("scan %s started (resume offset %d)", run.id, resumeOffset)
	return run.id, nil
}

func (s *ScanService) execute(ctx context.Context, run *activeScan, reporter *events.Reporter, bus *events.Bus, rows []model.InputRow, resumeOffset int, modes model.ModeSet) {
	defer close(run.done)
	defer bus.Close()

	_, _, err := run.runner.Run(ctx, reporter, rows, resumeOffset, modes)

	state := terminalStateName(run.runner.State())
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	// Persist the terminal state before exposing it, so a status reader that
	// sees the run finished also finds the archive closed.
	if dbErr := s.store.FinishRun(run.id, state, errMsg); dbErr != nil {
		s.logf("finish run %s: %v", run.id, dbErr)
	}
	run.setFinal(state, errMsg)
	s.logf("scan %s finished state=%s", run.id, state)
}

// consume applies one progress event to the store and the live counters. It
// runs synchronously on the orchestrator goroutine, in emission order.
func (s *ScanService) consume(run *activeScan, e events.Event) {
	switch e.Type {
	case events.TypeInit:
		if err := s.store.CreateRun(run.id, e.Init.Template, e.Init.Modes, e.Init.TotalRows); err != nil {
			s.logf("create run %s: %v", run.id, err)
		}
		run.mu.Lock()
		run.total = e.Init.TotalRows
		run.mu.Unlock()
	case events.TypeRow:
		row := model.ResultRow{
			GlobalIndex: e.Row.GlobalIndex,
			Mode:        e.Row.Mode,
			BatchIndex:  e.Row.BatchIndex,
			Values:      e.Row.Values,
		}
		if err := s.store.RecordRow(run.id, row); err != nil {
			s.logf("record row %d: %v", row.GlobalIndex, err)
		}
		run.mu.Lock()
		if row.GlobalIndex+1 > run.processed {
			run.processed = row.GlobalIndex + 1
		}
		run.mu.Unlock()
	case events.TypeError:
		run.mu.Lock()
		run.errMsg = e.Fail.Message
		run.mu.Unlock()
	}
}

// Cancel signals the in-flight scan to stop at the next batch boundary.
func (s *ScanService) Cancel() error {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return ErrNoScan
	}
	select {
	case <-run.done:
		return ErrNoScan
	default:
	}
	run.cancel()
	s.logf("scan %s cancellation requested", run.id)
	return nil
}

// CancelAndWait cancels any in-flight scan and waits up to timeout for it to
// drain its current batch.
func (s *ScanService) CancelAndWait(timeout time.Duration) {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return
	}
	run.cancel()
	select {
	case <-run.done:
	case <-time.After(timeout):
		s.logf("scan %s did not stop within %s", run.id, timeout)
	}
}

// Status reports the current run, or the latest archived one when the
// daemon has not started a scan since boot.
func (s *ScanService) Status() (RunStatus, error) {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run != nil {
		return run.status(), nil
	}

	archived, err := s.store.LatestRun()
	if errors.Is(err, store.ErrNotFound) {
		return RunStatus{}, ErrNoScan
	}
	if err != nil {
		return RunStatus{}, err
	}
	return RunStatus{
		RunID:         archived.ID,
		State:         archived.State,
		TotalRows:     archived.TotalRows,
		ProcessedRows: archived.ProcessedRows,
		Error:         archived.Error,
	}, nil
}

// Results returns a run's archive. An empty id means the latest run.
func (s *ScanService) Results(runID string) (store.Run, []model.ResultRow, error) {
	var run store.Run
	var err error
	if runID == "" {
		run, err = s.store.LatestRun()
	} else {
		run, err = s.store.GetRun(runID)
	}
	if err != nil {
		return store.Run{}, nil, err
	}
	rows, err := s.store.Rows(run.ID)
	if err != nil {
		return store.Run{}, nil, err
	}
	return run, rows, nil
}

// Close releases the service's resources once the daemon is done.
func (s *ScanService) Close() {
	if s.eventLog != nil {
		s.eventLog.Close()
	}
}

func (run *activeScan) setFinal(state, errMsg string) {
	run.mu.Lock()
	run.final = state
	if errMsg != "" {
		run.errMsg = errMsg
	}
	run.mu.Unlock()
}

func (run *activeScan) status() RunStatus {
	run.mu.Lock()
	defer run.mu.Unlock()

	state := run.final
	if state == "" {
		state = run.runner.State().String()
	}
	return RunStatus{
		RunID:         run.id,
		State:         state,
		TotalRows:     run.total,
		ProcessedRows: run.processed,
		Error:         run.errMsg,
	}
}

func terminalStateName(s scan.State) string {
	switch s {
	case scan.StateCompleted:
		return "completed"
	case scan.StateCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

func (s *ScanService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("%s scans: %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	}
}
