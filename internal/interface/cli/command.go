package cli

import (
	"github.com/urfave/cli/v3"
)

// Option は NewCommand のオプション設定
type Option func(*actions)

// WithAppContextFactory は AppContext の生成方法を差し替える
func WithAppContextFactory(f AppContextFactory) Option {
	return func(a *actions) {
		if f != nil {
			a.newAppContext = f
		}
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "session",
		Usage:    "セッションID",
		Required: true,
	}
}

// NewCommand はルートコマンドを作成する
func NewCommand(opts ...Option) *cli.Command {
	a := &actions{newAppContext: NewAppContext}
	for _, opt := range opts {
		opt(a)
	}

	return &cli.Command{
		Name:  "rag-chat",
		Usage: "セッション記憶と文書検索を備えた会話バックエンド",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "HTTPサーバーコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバーを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "待ち受けポート（省略時は PORT 環境変数）",
							},
						},
						Action: a.serverStart,
					},
				},
			},
			{
				Name:  "index",
				Usage: "ドキュメントインデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "テキストファイルをインデックスに追加",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringSliceFlag{
								Name:     "file",
								Usage:    "追加するファイル（複数指定可）",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "clear",
								Usage: "追加前に既存のインデックスを削除",
							},
						},
						Action: a.indexAdd,
					},
					{
						Name:   "clear",
						Usage:  "インデックスを削除",
						Flags:  []cli.Flag{envFlag()},
						Action: a.indexClear,
					},
					{
						Name:   "list",
						Usage:  "格納済みパッセージを表示",
						Flags:  []cli.Flag{envFlag()},
						Action: a.indexList,
					},
					{
						Name:   "stats",
						Usage:  "インデックスの統計情報を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: a.indexStats,
					},
				},
			},
			{
				Name:      "chat",
				Usage:     "1ターン分の応答を生成",
				ArgsUsage: "MESSAGE",
				Flags: []cli.Flag{
					envFlag(),
					sessionFlag(),
					&cli.BoolFlag{
						Name:  "rag",
						Usage: "インデックスから関連パッセージを検索して応答に使う",
					},
				},
				Action: a.chat,
			},
			{
				Name:  "session",
				Usage: "セッション管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "セッション一覧を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: a.sessionList,
					},
					{
						Name:   "history",
						Usage:  "セッションの会話履歴を表示",
						Flags:  []cli.Flag{envFlag(), sessionFlag()},
						Action: a.sessionHistory,
					},
				},
			},
		},
	}
}
