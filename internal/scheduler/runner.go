package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job: тело периодического задания.
type Job func(ctx context.Context) error

// Runner запускает задание каждые Interval до отмены контекста.
type Runner struct {
	Name       string
	Interval   time.Duration
	Job        Job
	Logger     *zap.Logger
	RunOnStart bool
}

// Run блокируется до отмены ctx. Ошибки задания логируются, цикл продолжается.
func (r Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	if r.RunOnStart {
		r.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r Runner) runOnce(ctx context.Context) {
	start := time.Now()
	if err := r.Job(ctx); err != nil && ctx.Err() == nil {
		r.Logger.Error("job failed", zap.String("job", r.Name), zap.Error(err))
		return
	}
	r.Logger.Debug("job finished", zap.String("job", r.Name), zap.Duration("took", time.Since(start)))
}

// Every адаптирует функцию с отчётом к Job.
func Every(fn func(ctx context.Context) (Report, error)) Job {
	return func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	}
}
