package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// WorkerStartAction はバックグラウンドワーカーを起動するコマンドのアクション。
// SIGINT / SIGTERM で停止するまでジョブの処理を続ける。
func WorkerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger().Info("starting job workers",
		slog.Int("workers", appCtx.Config.Worker.Count))

	if err := appCtx.Container.WorkerPool.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	appCtx.Logger().Info("job workers stopped")
	return nil
}
