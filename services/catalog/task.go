package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"smmpanel/pkg/config"
	"smmpanel/pkg/errutil"
	"smmpanel/pkg/task"
	"smmpanel/services/provider"
)

const (
	TypeProviderSync = "catalog:provider_sync"
	TypeSyncSweep    = "catalog:sync_sweep"
)

var TaskModule = fx.Module("catalog.task",
	fx.Provide(NewTask),
	fx.Invoke(RegisterHandlers),
)

type ProviderSyncPayload struct {
	ProviderID string `json:"provider_id"`
}

func NewProviderSyncTask(providerID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProviderSyncPayload{ProviderID: providerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProviderSync, payload, asynq.Queue("default")), nil
}

func NewSyncSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSyncSweep, nil, asynq.Queue("low"))
}

// Task owns the background side of catalog reconciliation: the per-provider
// sync handler, the periodic sweep over all active providers, and the loop
// that keeps the sweep running.
type Task struct {
	reconciler *Reconciler
	providers  *provider.Service
	enqueuer   task.Enqueuer
	interval   time.Duration
}

type TaskParams struct {
	fx.In
	Reconciler *Reconciler
	Providers  *provider.Service
	Enqueuer   task.Enqueuer `optional:"true"`
	Cfg        *config.Config
}

func NewTask(p TaskParams) *Task {
	interval := p.Cfg.Vendor.SyncInterval
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &Task{
		reconciler: p.Reconciler,
		providers:  p.Providers,
		enqueuer:   p.Enqueuer,
		interval:   interval,
	}
}

func RegisterHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(TypeProviderSync, t.HandleProviderSync)
	mux.HandleFunc(TypeSyncSweep, t.HandleSyncSweep)
}

func (t *Task) HandleProviderSync(ctx context.Context, at *asynq.Task) error {
	var payload ProviderSyncPayload
	if err := json.Unmarshal(at.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", at.Type()),
		zap.String("provider_id", payload.ProviderID),
	)

	result, err := t.reconciler.Sync(ctx, payload.ProviderID)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Code == errutil.StatusConflict {
			// Another worker already holds the sync; retrying would just
			// pile on.
			zapLog.Info("sync already running, skipping")
			return nil
		}
		zapLog.Error("provider sync failed", zap.Error(err))
		return err
	}

	zapLog.Info("provider sync finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("deactivated", result.Deactivated),
	)
	return nil
}

// HandleSyncSweep fans one sync task out per active provider. A provider
// that fails to enqueue does not block the rest.
func (t *Task) HandleSyncSweep(ctx context.Context, _ *asynq.Task) error {
	return t.sweep(ctx)
}

func (t *Task) sweep(ctx context.Context) error {
	providers, err := t.providers.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, p := range providers {
		syncTask, err := NewProviderSyncTask(p.ID)
		if err != nil {
			zap.L().Error("[Scheduler] failed to build sync task",
				zap.String("provider_id", p.ID), zap.Error(err))
			continue
		}
		if t.enqueuer == nil {
			t.runInline(ctx, p.ID)
			continue
		}
		if _, err := t.enqueuer.Enqueue(syncTask, asynq.MaxRetry(3)); err != nil {
			zap.L().Warn("[Scheduler] enqueue failed, syncing inline",
				zap.String("provider_id", p.ID), zap.Error(err))
			t.runInline(ctx, p.ID)
		}
	}
	return nil
}

func (t *Task) runInline(ctx context.Context, providerID string) {
	if _, err := t.reconciler.Sync(ctx, providerID); err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Code == errutil.StatusConflict {
			return
		}
		zap.L().Error("[Scheduler] inline sync failed",
			zap.String("provider_id", providerID), zap.Error(err))
	}
}

// StartScheduler runs the periodic sweep loop for the process lifetime.
func StartScheduler(lc fx.Lifecycle, t *Task) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go t.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func (t *Task) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started catalog sync scheduler",
		zap.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			zap.L().Info("[Scheduler] running catalog sync sweep")
			if err := t.sweep(ctx); err != nil {
				zap.L().Error("[Scheduler] sweep failed", zap.Error(err))
				continue
			}
			zap.L().Info("[Scheduler] sweep finished",
				zap.Duration("duration", time.Since(start)))
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}
