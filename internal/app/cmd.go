package app

import "github.com/hitoshi/tagcrawler/internal/model"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はフロントエンドAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandReconcile はタグ統合ワーカーとして起動することを示す。
	CommandReconcile Command = "reconcile"
	// CommandDownload はカテゴリ別ダウンロードワーカーとして起動することを示す。
	CommandDownload Command = "download"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "reconcile":
		return CommandReconcile
	case "download":
		return CommandDownload
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseDownloadCategory はdownloadサブコマンドの第2引数からカテゴリを解析する。
func ParseDownloadCategory(args []string) (model.Category, bool) {
	if len(args) < 2 {
		return "", false
	}
	return model.ParseCategory(args[1])
}
