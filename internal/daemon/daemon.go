// Package daemon hosts the scan service behind a Unix domain socket: it owns
// the file lock, the results store, the label repository, and the single
// in-flight scan, and answers the CLI's requests.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drillops/cerberus/internal/labels"
	"github.com/drillops/cerberus/internal/lock"
	"github.com/drillops/cerberus/internal/model"
	"github.com/drillops/cerberus/internal/store"
	"github.com/drillops/cerberus/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the cerberus daemon process.
type Daemon struct {
	cerberusDir string
	config      model.Config
	logLevel    LogLevel
	logger      *log.Logger
	logFile     io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	labels   *labels.Repository
	store    *store.Store
	scans    *ScanService

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New creates a daemon logging to logs/daemon.log under the cerberus dir.
func New(cerberusDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(cerberusDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(cerberusDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(cerberusDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketName := cfg.Daemon.SocketPath
	if socketName == "" {
		socketName = uds.DefaultSocketName
	}
	logger := log.New(w, "", 0)

	d := &Daemon{
		cerberusDir: cerberusDir,
		config:      cfg,
		logLevel:    parseLogLevel(cfg.Logging.Level),
		logger:      logger,
		logFile:     closer,
		fileLock:    lock.NewFileLock(filepath.Join(cerberusDir, "locks", "daemon.lock")),
		server:      uds.NewServer(resolvePath(cerberusDir, socketName), logger),
		labels:      labels.NewRepository(resolvePath(cerberusDir, cfg.Labels.DumpPath), nil),
		ctx:         ctx,
		cancel:      cancel,
	}
	return d, nil
}

// resolvePath joins a possibly relative config path onto the cerberus dir.
func resolvePath(cerberusDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cerberusDir, path)
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	st, err := store.Open(resolvePath(d.cerberusDir, d.config.Store.Path))
	if err != nil {
		d.fileLock.Unlock()
		return err
	}
	d.store = st

	if err := d.labels.Load(); err != nil {
		d.log(LogLevelWarn, "label load failed: %v", err)
	}

	d.scans = NewScanService(d.cerberusDir, d.config, d.store, d.logger)

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening")

	g, gctx := errgroup.WithContext(d.ctx)
	if d.config.Labels.Watch && d.config.Labels.DumpPath != "" {
		g.Go(func() error { return d.labels.Watch(gctx) })
	}
	g.Go(func() error {
		d.waitSignals(gctx)
		return nil
	})

	d.log(LogLevelInfo, "daemon ready")
	if err := g.Wait(); err != nil {
		d.log(LogLevelError, "background loop failed: %v", err)
	}

	d.Shutdown()
	return nil
}

// waitSignals blocks until a shutdown signal arrives or ctx is done.
func (d *Daemon) waitSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-ctx.Done():
	}
	d.cancel()
}

// Shutdown performs graceful shutdown, idempotent via sync.Once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")
		d.cancel()

		if d.scans != nil {
			timeout := d.config.Daemon.ShutdownTimeoutSec
			if timeout <= 0 {
				timeout = 30
			}
			// The orchestrator only honors cancellation between batches, so
			// give the in-flight batch time to drain.
			d.scans.CancelAndWait(time.Duration(timeout) * time.Second)
		}
		if d.server != nil {
			d.server.Stop()
		}
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	if d.scans != nil {
		d.scans.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
