// Command lighthouse runs a single replicated configuration-store node:
// it loads flags, restores the newest fresh snapshot (or enters degraded
// mode), seeds its peer cluster, and serves the HTTP facade until
// interrupted.
//
// Grounded on coredhcp's Server.Start()/Server.Wait() split (see
// e2e_test/server_test.go's runServer) and original_source/lighthouse/main.py's
// startup sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapid7/lighthouse/internal/cluster"
	"github.com/rapid7/lighthouse/internal/config"
	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/httpapi"
	"github.com/rapid7/lighthouse/internal/logger"
	"github.com/rapid7/lighthouse/internal/snapshot"
	"github.com/rapid7/lighthouse/internal/store"
	"github.com/rapid7/lighthouse/internal/version"
)

var log = logger.GetLogger("bootstrap")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, help, err := config.Load(args)
	if help {
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.DataDir == "" {
		fmt.Fprintln(os.Stderr, "--data.d is required")
		return 2
	}

	if err := logger.EnableAuditFile(filepath.Join(cfg.DataDir, "commits.log")); err != nil {
		log.WithError(err).Warn("could not open commit audit log")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := store.New(makeOnCommit(cfg), nil)

	// A zero LoadLimit means the freshness check is disabled (--bootstrap
	// or an explicit empty --load-limit): pass the zero Time so
	// snapshot.Load's ts.Before(loadLimit) never rejects the newest file,
	// matching config.py's "if limit is None: return True".
	var loadLimit time.Time
	if cfg.LoadLimit != 0 {
		loadLimit = time.Now().Add(cfg.LoadLimit)
	}
	if v, d, ok := snapshot.Load(cfg.DataDir, loadLimit); ok {
		st.LoadInitial(v, d)
		log.Infof("loaded snapshot at version seq=%d checksum=%s", v.Sequence, v.Checksum)
	} else if cfg.Bootstrap {
		st.LoadInitial(version.Zero, document.New())
		log.Info("bootstrap: starting from an empty document")
	} else {
		st.SetUnavailable(true)
		log.Warn("no fresh snapshot found; starting in unavailable mode")
	}

	if _, err := snapshot.Prune(cfg.DataDir, time.Now().Add(cfg.RmLimit)); err != nil {
		log.WithError(err).Warn("snapshot retention prune failed")
	}

	cl := cluster.New(ctx, cfg.Bind, st)
	st.SetOnPushAll(cl.SignalPushAll)

	for _, seed := range cfg.Seeds {
		if !cl.AddPeer(seed) {
			log.Warnf("could not normalise seed address %q", seed)
		}
	}

	handler := httpapi.New(st, cl)
	httpServer := &http.Server{
		Addr:    cfg.Bind,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.Bind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server exited with error")
		return 2
	}
	return 0
}

// makeOnCommit wires the Store's post-commit callback to snapshot
// persistence, matching spec.md §4.3's "write after every commit or
// accepted push" rule. Snapshot I/O errors are logged at warn and never
// fail the commit (spec.md §7).
func makeOnCommit(cfg config.Config) func(version.Version, *document.Document) {
	return func(v version.Version, d *document.Document) {
		log.Infof("commit seq=%d checksum=%s", v.Sequence, v.Checksum)
		if _, err := snapshot.Write(cfg.DataDir, v, d); err != nil {
			log.WithError(err).Warn("failed to persist snapshot after commit")
			return
		}
		if _, err := snapshot.Prune(cfg.DataDir, time.Now().Add(cfg.RmLimit)); err != nil {
			log.WithError(err).Warn("snapshot retention prune failed")
		}
	}
}
