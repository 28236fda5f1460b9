package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfriis/tabnap/internal/activity"
	"github.com/mfriis/tabnap/internal/bridge"
	"github.com/mfriis/tabnap/internal/config"
	"github.com/mfriis/tabnap/internal/httpapi"
	"github.com/mfriis/tabnap/internal/observability"
	"github.com/mfriis/tabnap/internal/persist"
	"github.com/mfriis/tabnap/internal/settings"
	"github.com/mfriis/tabnap/internal/store"
	"github.com/mfriis/tabnap/internal/suspend"
	"github.com/mfriis/tabnap/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	tracker := activity.NewTracker()
	if err := tracker.RestoreFrom(ctx, st); err != nil {
		log.Printf("activity restore failed, starting empty: %v", err)
	}
	ledger := suspend.NewRecoveryLedger(cfg.RecoveryCap)
	if err := ledger.RestoreFrom(ctx, st); err != nil {
		log.Printf("recovery restore failed, starting empty: %v", err)
	}
	metrics.TrackedTabs.Set(float64(tracker.Len()))

	var runner *suspend.Runner
	activityQueue := newQueue("activity", metrics, func(ctx context.Context) error {
		return tracker.SaveTo(ctx, st)
	})
	recoveryQueue := newQueue("recovery", metrics, func(ctx context.Context) error {
		return ledger.SaveTo(ctx, st)
	})
	settingsQueue := newQueue("settings", metrics, func(ctx context.Context) error {
		return settingsSave(ctx, st, runner)
	})

	var br *bridge.Bridge
	br = bridge.New(bridge.Config{
		Tracker:       tracker,
		ActivityQueue: activityQueue,
		Metrics:       metrics,
		RPCTimeout:    cfg.BridgeRPCTimeout,
		OnConnect: func() {
			seedAndPrune(br, tracker, activityQueue)
		},
	})

	runner = suspend.NewRunner(suspend.RunnerConfig{
		Tabs:              br,
		Mutator:           br,
		Tracker:           tracker,
		Store:             st,
		Ledger:            ledger,
		ActivityQueue:     activityQueue,
		RecoveryQueue:     recoveryQueue,
		Metrics:           metrics,
		PlaceholderPrefix: cfg.PlaceholderPrefix,
		Ready:             br.WaitReady,
	})
	runner.ReloadSettings(ctx)

	coordinator := sweep.NewCoordinator(runner.RunSuspendSweep, runner.SweepIntervalMinutes, func(err error) {
		log.Printf("sweep failed: %v", err)
	})
	coordinator.SetDueMinute(activity.MinuteOf(time.Now()) + runner.SweepIntervalMinutes())

	api := httpapi.New(cfg, tracker, ledger, runner, coordinator, br, settingsQueue, metrics, store.Mode(cfg.DatabaseURL))
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				coordinator.Tick(runCtx, activity.MinuteOf(time.Now()))
			}
		}
	}()

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	for _, q := range []*persist.Queue{activityQueue, recoveryQueue, settingsQueue} {
		if err := q.WaitForIdle(shutdownCtx); err != nil {
			log.Printf("persistence drain interrupted: %v", err)
			break
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func newQueue(name string, metrics *observability.Metrics, flush func(ctx context.Context) error) *persist.Queue {
	return persist.NewQueue(func(ctx context.Context) error {
		err := flush(ctx)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.PersistFlushes.WithLabelValues(name, result).Inc()
		return err
	}, func(err error) {
		log.Printf("%s flush failed: %v", name, err)
	})
}

func settingsSave(ctx context.Context, st store.Store, runner *suspend.Runner) error {
	if runner == nil {
		return nil
	}
	return settings.Save(ctx, st, runner.CurrentSettings())
}

func seedAndPrune(br *bridge.Bridge, tracker *activity.Tracker, activityQueue *persist.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	nowMinute := activity.MinuteOf(time.Now())

	seeded, err := tracker.SeedActiveTabs(ctx, br, nowMinute)
	if err != nil {
		log.Printf("startup seeding failed: %v", err)
	}
	pruned, err := tracker.PruneStale(ctx, br)
	if err != nil {
		log.Printf("stale prune failed: %v", err)
	}
	if seeded > 0 || pruned > 0 {
		activityQueue.MarkDirty()
	}
	log.Printf("bridge connected: seeded %d active tabs, pruned %d stale records", seeded, pruned)
}
