package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/fsindex/internal/config"
	"github.com/standardbeagle/fsindex/internal/debug"
	"github.com/standardbeagle/fsindex/internal/indexing"
	"github.com/standardbeagle/fsindex/internal/mcp"
	"github.com/standardbeagle/fsindex/internal/metrics"
)

// liveIndex is an index kept current by a watcher and saved by a checkpointer.
type liveIndex struct {
	index        *indexing.Index
	watcher      *indexing.Watcher
	checkpointer *indexing.Checkpointer
}

// startLive opens the index and starts the watcher (when enabled) and the
// checkpointer.
func startLive(ctx context.Context, cfg *config.Config, m *metrics.IndexMetrics) (*liveIndex, error) {
	idx, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx.SetMetrics(m)
	idx.Stats() // publish initial node gauges

	live := &liveIndex{index: idx}
	if cfg.Index.WatchMode {
		w, err := indexing.NewWatcher(idx)
		if err != nil {
			return nil, err
		}
		w.SetBatchCallback(func(res indexing.ApplyResult, err error) {
			if err != nil {
				log.Printf("Applying changes failed: %v", err)
				return
			}
			debug.LogWatch("applied batch: %+v\n", res)
		})
		if err := w.Start(); err != nil {
			return nil, err
		}
		live.watcher = w
	}

	interval := time.Duration(cfg.Index.CheckpointIntervalSec) * time.Second
	live.checkpointer = indexing.NewCheckpointer(idx, cfg.Index.Database, interval)
	live.checkpointer.SetOnCheckpoint(func(saved bool, err error) {
		if saved {
			idx.Stats()
		}
	})
	live.checkpointer.Start()
	return live, nil
}

// stop halts the watcher, which applies pending events, and then writes
// the final checkpoint.
func (l *liveIndex) stop() error {
	var errs []error
	if l.watcher != nil {
		errs = append(errs, l.watcher.Stop())
	}
	errs = append(errs, l.checkpointer.Stop())
	return errors.Join(errs...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	cfg.Index.WatchMode = true

	ctx, stop := signalContext(c.Context)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	live, err := startLive(ctx, cfg, metrics.NewIndexMetrics(reg))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Watching %s (Ctrl-C to stop)\n", cfg.Project.Root)

	g, gctx := errgroup.WithContext(ctx)
	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Printf("Serving metrics on http://%s/metrics", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	stopErr := live.stop()
	if st := live.watcher.Stats(); st.EventsProcessed > 0 || st.ErrorCount > 0 {
		fmt.Fprintf(c.App.Writer, "Processed %d events (%d errors)\n", st.EventsProcessed, st.ErrorCount)
	}
	return errors.Join(runErr, stopErr)
}

func mcpCommand(c *cli.Context) error {
	// stdout belongs to the protocol
	debug.SetMCPMode(true)
	log.SetOutput(os.Stderr)

	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	live, err := startLive(ctx, cfg, nil)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(live.index, cfg)
	if err != nil {
		return errors.Join(err, live.stop())
	}
	if live.watcher != nil {
		server.SetWatchStats(live.watcher.Stats)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, server.Shutdown(context.Background()), live.stop())
}
