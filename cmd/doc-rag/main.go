package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/cmd/doc-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "doc-rag",
		Usage: "マルチテナント向けドキュメントRAGバックエンド",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "ドキュメントを登録してparseジョブを投入",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "tenant",
						Usage:    "テナントID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Usage:    "取り込むファイルのパス",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "ドキュメント名（省略時はファイル名）",
					},
					&cli.StringFlag{
						Name:  "mime",
						Usage: "MIMEタイプ（省略時は拡張子から推定）",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "ask",
				Usage: "質問に対する回答を生成",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "tenant",
						Usage:    "テナントID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "質問文",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索するチャンク数",
					},
					&cli.BoolFlag{
						Name:  "rerank",
						Usage: "リランキングを有効にする",
					},
					&cli.IntFlag{
						Name:  "max-ctx",
						Usage: "コンテキストの最大トークン数",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "生成モデル名（省略時は設定値）",
					},
					&cli.BoolFlag{
						Name:  "stream",
						Usage: "ストリーミングで回答を受け取る",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "search",
				Usage: "類似チャンク検索を実行",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "取得するチャンク数",
						Value: 8,
					},
					&cli.BoolFlag{
						Name:  "rerank",
						Usage: "リランキングを有効にする",
					},
					&cli.IntFlag{
						Name:  "max-ctx",
						Usage: "コンテキストに使うトークン数の上限",
						Value: 1800,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "status",
						Usage: "ドキュメントの処理状況を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: commands.DocumentStatusAction,
					},
				},
			},
			{
				Name:  "worker",
				Usage: "ワーカー関連コマンド",
				Commands: []*cli.Command{
					{
						Name:   "start",
						Usage:  "バックグラウンドワーカーを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.WorkerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
