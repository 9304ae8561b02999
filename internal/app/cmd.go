package app

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandLogin はログインしてセッションを保存する。
	CommandLogin Command = "login"
	// CommandLogout は保存済みセッションを破棄する。
	CommandLogout Command = "logout"
	// CommandWhoami は現在のログインユーザーのプロフィールを表示する。
	CommandWhoami Command = "whoami"
	// CommandBalance はウォレット残高を表示する。
	CommandBalance Command = "balance"
	// CommandDeposit はモバイルマネー入金を開始し、完了まで追跡する。
	CommandDeposit Command = "deposit"
	// CommandWithdraw は出金を開始し、完了まで追跡する。
	CommandWithdraw Command = "withdraw"
	// CommandConvert はポイントの通貨変換を開始し、完了まで追跡する。
	CommandConvert Command = "convert"
	// CommandTrade はトレードを開始し、遷移先URLを表示して完了まで追跡する。
	CommandTrade Command = "trade"
	// CommandPosts はインパクト投稿の一覧を表示する。
	CommandPosts Command = "posts"
	// CommandLike は投稿のいいね状態をトグルする。
	CommandLike Command = "like"
	// CommandComment は投稿へコメントする。
	CommandComment Command = "comment"
	// CommandKYC は本人確認申請を送信する。
	CommandKYC Command = "kyc"
	// CommandFakeServer はローカル開発用のフェイクAPIサーバーを起動する。
	CommandFakeServer Command = "fake-server"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandHelpを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandHelp
	}

	switch args[0] {
	case "login":
		return CommandLogin
	case "logout":
		return CommandLogout
	case "whoami":
		return CommandWhoami
	case "balance":
		return CommandBalance
	case "deposit":
		return CommandDeposit
	case "withdraw":
		return CommandWithdraw
	case "convert":
		return CommandConvert
	case "trade":
		return CommandTrade
	case "posts":
		return CommandPosts
	case "like":
		return CommandLike
	case "comment":
		return CommandComment
	case "kyc":
		return CommandKYC
	case "fake-server":
		return CommandFakeServer
	default:
		return CommandHelp
	}
}
