package commands

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/vidscope/am"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/logger"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/server"
)

// ServeCmd starts the HTTP API together with the worker pool
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the vidscope API server and pipeline workers",
	RunE:    runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// default to Info for a long-running server
	if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity == 0 {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs || logger.IsProductionEnvironment(), zapcore.InfoLevel); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// 0 workers: enqueue only, another process drains the queue
	if a.cfg.Pipeline.Workers > 0 {
		a.pool.Start()
	}
	sweeper := newSweeper(ctx, a)
	sweeper.restart(a.cfg.TrackerSweepInterval())
	go purgeJobs(ctx, a.pool.GetQueue(), time.Hour, jobRetention)

	if path := am.FindProjectConfig(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config watcher disabled", "path", path, "error", err)
		} else {
			watcher.OnReload(func(cfg *am.Config) error {
				if err := cfg.Validate(); err != nil {
					return err
				}
				a.applyConfig(cfg)
				sweeper.restart(cfg.TrackerSweepInterval())
				logger.Infow("Config reloaded", "path", path)
				return nil
			})
			watcher.Start()
			am.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	srv := server.New(server.Deps{
		Service: a.svc,
		Store:   a.store,
		Catalog: a.catalog,
		Tracker: a.tracker,
		Pool:    a.pool,
		Metrics: a.metrics,
	}, a.cfg.Server, logger.Named("server"))

	port := a.cfg.GetServerPort()
	if servePort > 0 {
		port = servePort
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(port)
	}()
	pterm.Success.Printf("vidscope listening on :%d (storage: %s, workers: %d)\n",
		port, a.cfg.Storage.Backend, a.cfg.Pipeline.Workers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		a.pool.Stop()
		if err != nil {
			return errors.Wrap(err, "server stopped unexpectedly")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	}

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		a.pool.Stop()
		cancel()
		sweeper.wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("Server stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// finished jobs are kept this long for /api/jobs
const jobRetention = 7 * 24 * time.Hour

func purgeJobs(ctx context.Context, queue *async.Queue, every, olderThan time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.Cleanup(olderThan)
			if err != nil {
				logger.Warnw("Job cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Infow("Removed finished jobs", "count", n)
			}
		}
	}
}

// sweeper runs the tracker TTL sweep and restarts it when the interval changes
type sweeper struct {
	parent context.Context
	app    *app

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newSweeper(ctx context.Context, a *app) *sweeper {
	return &sweeper{parent: ctx, app: a}
}

func (s *sweeper) restart(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == s.interval && s.cancel != nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.interval, s.cancel = interval, cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.app.tracker.Run(ctx, interval)
	}()
}

func (s *sweeper) wait() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
