package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval はキューが空のときの待機時間
const DefaultPollInterval = time.Second

// Pool は queued なジョブを取り出して実行するワーカープール。
// 異なるドキュメントのジョブは並行して処理されるが、同一ドキュメントの
// ステージは前段の done 後にしかキューへ入らないため直列になる。
type Pool struct {
	store    Store
	runner   *Runner
	workers  int
	interval time.Duration
	logger   *slog.Logger
}

// PoolOption は Pool の追加設定
type PoolOption func(*Pool)

// WithPollInterval はポーリング間隔を上書きする
func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPoolLogger はロガーを設定する
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool は新しい Pool を作成する
func NewPool(store Store, runner *Runner, workers int, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		store:    store,
		runner:   runner,
		workers:  workers,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run はコンテキストがキャンセルされるまでワーカーを動かす
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.workerLoop(ctx, worker)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker pool stopped: %w", err)
	}
	return nil
}

func (p *Pool) workerLoop(ctx context.Context, worker int) error {
	logger := p.logger.With(slog.Int("worker", worker))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		claimed, err := p.store.ClaimQueuedJob(ctx)
		if err != nil {
			logger.Error("job claim failed", slog.String("error", err.Error()))
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}
		job, ok := claimed.Get()
		if !ok {
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}

		logger.Info("job started",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)))

		// ステージの失敗はジョブ行に記録済み。ワーカーは止めない。
		if err := p.runner.Run(ctx, job); err != nil {
			logger.Error("job failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		logger.Info("job completed", slog.String("job_id", job.ID.String()))
	}
}

func (p *Pool) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.interval):
		return true
	}
}
