package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/costwise/aitrace/internal/broadcast"
	"github.com/costwise/aitrace/internal/config"
	"github.com/costwise/aitrace/internal/db"
	"github.com/costwise/aitrace/internal/executor"
	"github.com/costwise/aitrace/internal/journal"
	"github.com/costwise/aitrace/internal/monitor"
	"github.com/costwise/aitrace/internal/pipeline"
	"github.com/costwise/aitrace/internal/server"
)

type Runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time

	dbm        *db.Manager
	hub        *broadcast.Hub
	journal    *journal.Writer
	mirror     *broadcast.NATSMirror
	httpServer *http.Server
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
	}
}

func (r *Runtime) Run(ctx context.Context) error {
	dbm, err := db.Open(r.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	r.dbm = dbm

	journalMode, busyTimeout, err := r.dbm.Pragmas(ctx)
	if err != nil {
		return fmt.Errorf("query sqlite pragmas: %w", err)
	}
	r.logger.Info("SQLite opened",
		"path", r.cfg.DBPath,
		"journal_mode", journalMode,
		"busy_timeout", busyTimeout,
	)

	registry, err := config.LoadModels(r.cfg.ModelConfigPath)
	if err != nil {
		return fmt.Errorf("load model registry: %w", err)
	}
	r.logger.Info("Model registry loaded", "models", len(registry.Models), "default", registry.Default)

	var mirror broadcast.Mirror
	if r.cfg.NATSURL != "" {
		nm, err := broadcast.NewNATSMirror(r.cfg.NATSURL, r.cfg.NATSSubjectPrefix)
		if err != nil {
			r.logger.Warn("NATS mirror disabled", "url", r.cfg.NATSURL, "error", err)
		} else {
			r.mirror = nm
			mirror = nm
			r.logger.Info("NATS mirror connected", "subject_prefix", r.cfg.NATSSubjectPrefix)
		}
	}

	r.hub = broadcast.NewHub(r.logger, r.cfg.SessionSendQueue, mirror)
	r.journal = journal.NewWriter(r.logger, r.dbm, r.cfg.BundleRoot, r.hub, r.cfg.BundleQueueCapacity, r.cfg.MaxErrorBytes)

	exec := executor.New(executor.Policy{
		MaxAttempts:    r.cfg.MaxAttempts,
		BackoffBase:    r.cfg.BackoffBase,
		DeadlineBuffer: r.cfg.DeadlineBuffer,
	}, r.logger)
	pipe := pipeline.New(r.logger, registry, exec, r.journal, nil)
	mon := monitor.NewService(r.logger, r.dbm, r.cfg.BundleRoot)

	healthHandler := server.NewHealthHandler(r.dbm, r.startedAt, r.version, r)
	handlers := server.NewHandlers(r.logger, mon, pipe)
	r.httpServer = server.New(":"+r.cfg.Port, healthHandler.ServeHTTP, handlers, r.hub.ServeWS)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	r.startBackgroundLoops(bgCtx)

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("Listening", "addr", ":"+r.cfg.Port)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		r.logger.Info("SIGTERM received, shutting down...")
		return r.shutdown(context.Background())
	}
}

func (r *Runtime) Snapshot() server.RuntimeSnapshot {
	return server.RuntimeSnapshot{
		BundleQueueDepth: int64(r.journal.QueueDepth()),
		CallsRecorded:    r.journal.Recorded(),
		IndexFailures:    r.journal.IndexFailures(),
		BundlesDropped:   r.journal.BundlesDropped(),
		Sessions:         int64(r.hub.SessionCount()),
		EventsPublished:  r.hub.EventsPublished(),
	}
}

func (r *Runtime) startBackgroundLoops(ctx context.Context) {
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		ticker := time.NewTicker(r.cfg.WALCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := r.dbm.Checkpoint(cpCtx); err != nil {
					r.logger.Warn("wal checkpoint failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		done := make(chan struct{})
		go func() {
			r.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	if r.journal != nil {
		r.logger.Info("Draining bundle queue", "remaining", r.journal.QueueDepth())
		r.journal.Close()
	}

	if r.mirror != nil {
		r.mirror.Close()
	}

	if r.dbm != nil {
		cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := r.dbm.Checkpoint(cpCtx); err != nil {
			r.logger.Warn("WAL checkpoint failed", "error", err)
			joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
		}
		if err := r.dbm.Close(); err != nil {
			joined = errors.Join(joined, fmt.Errorf("db close: %w", err))
		}
	}

	r.logger.Info("Shutdown complete",
		"calls_recorded", r.journal.Recorded(),
		"uptime", time.Since(r.startedAt).String(),
	)
	return joined
}
