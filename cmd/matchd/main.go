package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"organlink.org/internal/audit"
	"organlink.org/internal/donation"
	"organlink.org/internal/httpapi"
	"organlink.org/internal/ids"
	"organlink.org/internal/notify"
	"organlink.org/internal/obs"
	"organlink.org/internal/store/pg"
	"organlink.org/internal/stream"
)

var (
	version = "0.4.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()
	defer obs.Sync()

	rules := donation.DefaultRules()
	if path := os.Getenv("ORGANLINK_RULES"); path != "" {
		var err error
		rules, err = donation.LoadRules(path)
		if err != nil {
			logger.Fatal("load rules", zap.String("path", path), zap.Error(err))
		}
	}
	calc, err := donation.NewCalculator(rules)
	if err != nil {
		logger.Fatal("build calculator", zap.Error(err))
	}

	events := stream.New()
	notifier := notify.NewDispatcher(notify.Multi{notify.Log{}, notify.NewStream(events)}, 20, 40)

	var svc donation.Service
	var store *pg.Store
	if dsn := os.Getenv("ORGANLINK_PG_DSN"); dsn != "" {
		store = openStore(dsn, calc, notifier, logger)
		svc = store
	} else {
		logger.Warn("ORGANLINK_PG_DSN not set, running with in-memory store")
		svc = donation.NewInMemory(calc, notifier)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.Handle("/events", httpapi.Events(events))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.DB().PingContext(ctx); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	addr := os.Getenv("ORGANLINK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// no write timeout: /events holds its connection open
		IdleTimeout: 60 * time.Second,
	}

	logger.Info("starting matchd", zap.String("version", version), zap.String("addr", addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweep(sweepCtx, svc, rules, notifier, sweepInterval())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	logger.Info("stopped")
}

// openStore connects with exponential backoff so matchd survives a database
// that comes up after it does.
func openStore(dsn string, calc *donation.Calculator, notifier donation.Notifier, logger *zap.Logger) *pg.Store {
	store, err := pg.Open(dsn, calc, notifier)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 5 * time.Minute

	err = backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return store.DB().PingContext(ctx)
	}, bo, func(err error, next time.Duration) {
		logger.Warn("database not ready, retrying", zap.Duration("next", next), zap.Error(err))
	})
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	return store
}

// sweep periodically re-runs the engine over every open request so listings
// created since the last pass get scored, and applies the caller-side
// high-potential policy to anything new.
func sweep(ctx context.Context, svc donation.Service, rules donation.Rules, notifier donation.Notifier, interval time.Duration) {
	logger := obs.Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runCtx := audit.WithRunID(ctx, ids.New())
		open, err := svc.ListOpenRequests(runCtx)
		if err != nil {
			logger.Error("sweep: list open requests", zap.Error(err))
			continue
		}
		created, announced := 0, 0
		for _, req := range open {
			results, err := svc.FindMatches(runCtx, req.ID)
			if err != nil {
				logger.Error("sweep: find matches",
					zap.String("request_id", req.ID), zap.Error(err))
				continue
			}
			created += len(results)
			announced += donation.AnnounceHighPotential(runCtx, notifier, rules.Thresholds.HighMatch, req, results)
		}
		_ = audit.LogEvent(runCtx, "match.sweep", map[string]any{
			"open_requests": len(open),
			"new_matches":   created,
			"announced":     announced,
		})
	}
}

func sweepInterval() time.Duration {
	if raw := os.Getenv("ORGANLINK_SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return time.Minute
}
