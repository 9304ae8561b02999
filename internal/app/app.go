// Package app はCLIのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kifuman/internal/api"
	"github.com/hitoshi/kifuman/internal/config"
	"github.com/hitoshi/kifuman/internal/fakeserver"
	"github.com/hitoshi/kifuman/internal/form"
	"github.com/hitoshi/kifuman/internal/logger"
	"github.com/hitoshi/kifuman/internal/metrics"
	"github.com/hitoshi/kifuman/internal/model"
	"github.com/hitoshi/kifuman/internal/optimistic"
	"github.com/hitoshi/kifuman/internal/session"
	"github.com/hitoshi/kifuman/internal/social"
	"github.com/hitoshi/kifuman/internal/wallet"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応する処理を実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// help と fake-server はAPI接続設定を必要としないため、フル初期化をスキップする
	if cmd == CommandHelp {
		printUsage(os.Stdout)
		return nil
	}
	if cmd == CommandFakeServer {
		logger.SetupDefault(w)
		port := os.Getenv("KIFUMAN_FAKE_SERVER_PORT")
		if port == "" {
			port = "8089"
		}
		return runFakeServer(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting kifuman",
		slog.String("command", string(cmd)),
		slog.String("base_url", cfg.APIBaseURL),
	)

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// セッション有効期限の定期チェックをバックグラウンドで開始する。
	// ポーリング等の長時間コマンド実行中に期限が切れた場合に検知する。
	go a.provider.Watch(ctx, cfg.SessionCheckInterval)

	return a.dispatch(ctx, cmd, args[1:])
}

// app はワイヤリング済みの依存関係一式を保持する。
type app struct {
	cfg      *config.Config
	out      io.Writer
	provider *session.Provider
	client   *api.Client
	wallet   *wallet.Service
	social   *social.Service
}

// newApp は全依存関係をワイヤリングする。
func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	log := slog.Default()
	recorder := metrics.NewCollector(prometheus.NewRegistry())

	// 1. セッションプロバイダ（保存済みセッションの復元を含む）
	store := session.NewFileStore(cfg.SessionFile)
	provider, err := session.NewProvider(store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	provider.OnExpiry(func() {
		fmt.Fprintln(out, "セッションの有効期限が切れました。kifuman login でログインし直してください。")
	})

	// 2. APIクライアント（401検知をセッション失効経路へ合流させる）
	client := api.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		api.Config{
			BaseURL:       cfg.APIBaseURL,
			RatePerMinute: cfg.RateLimitPerMinute,
			RateBurst:     cfg.RateLimitBurst,
		},
		recorder, log,
	)
	client.OnUnauthorized(provider.NotifyUnauthorized)

	// 3. ドメインサービス
	executor := optimistic.NewExecutor(recorder, log)
	walletSvc := wallet.NewService(client, provider, recorder, log, wallet.Config{
		PollInterval:   cfg.PollInterval,
		PollMaxRetries: cfg.PollMaxRetries,
	})
	socialSvc := social.NewService(client, provider, executor, social.NewSanitizer(), log)

	return &app{
		cfg:      cfg,
		out:      out,
		provider: provider,
		client:   client,
		wallet:   walletSvc,
		social:   socialSvc,
	}, nil
}

// dispatch はサブコマンドを対応する処理へ振り分ける。
func (a *app) dispatch(ctx context.Context, cmd Command, args []string) error {
	switch cmd {
	case CommandLogin:
		return a.runLogin(ctx, args)
	case CommandLogout:
		return a.runLogout()
	case CommandWhoami:
		return a.runWhoami(ctx)
	case CommandBalance:
		return a.runBalance(ctx)
	case CommandDeposit:
		return a.runDeposit(ctx, args)
	case CommandWithdraw:
		return a.runWithdraw(ctx, args)
	case CommandConvert:
		return a.runConvert(ctx, args)
	case CommandTrade:
		return a.runTrade(ctx, args)
	case CommandPosts:
		return a.runPosts(ctx)
	case CommandLike:
		return a.runLike(ctx, args)
	case CommandComment:
		return a.runComment(ctx, args)
	case CommandKYC:
		return a.runKYC(ctx, args)
	default:
		printUsage(a.out)
		return nil
	}
}

// requireLogin はログイン済みであることを確認する。
func (a *app) requireLogin() error {
	if a.provider.Token() == "" {
		return model.NewSessionExpiredError()
	}
	return nil
}

// runLogin は認証を行い、セッションを保存する。
func (a *app) runLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "メールアドレス")
	password := fs.String("password", "", "パスワード")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("usage: kifuman login -email <email> -password <password>")
	}

	resp, err := a.client.Login(ctx, api.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return err
	}

	if err := a.provider.Login(&model.Session{
		Token:     resp.Token,
		UserID:    resp.UserID,
		Email:     resp.Email,
		Name:      resp.Name,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "ログインしました: %s (%s)\n", resp.Name, resp.Email)
	return nil
}

// runLogout は保存済みセッションを破棄する。
func (a *app) runLogout() error {
	if err := a.provider.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ログアウトしました。")
	return nil
}

// runWhoami は現在のユーザーのプロフィールを表示する。
func (a *app) runWhoami(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}

	profile, err := a.client.Profile(ctx, a.provider.Token())
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "ユーザー: %s (%s)\n", profile.Name, profile.Email)
	fmt.Fprintf(a.out, "電話番号: %s\n", profile.Phone)
	fmt.Fprintf(a.out, "本人確認: %s\n", kycLabel(profile.KYCVerified))
	return nil
}

// runBalance はウォレット残高を表示する。
func (a *app) runBalance(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}

	balance, err := a.wallet.RefreshBalance(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "残高: %d %s\n", balance.Points, balance.Currency)
	return nil
}

// runDeposit は入金を開始し、完了まで追跡する。
func (a *app) runDeposit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	phone := fs.String("phone", "", "モバイルマネーの電話番号（2547XXXXXXXX）")
	amount := fs.Int64("amount", 0, "入金額（最小通貨単位）")
	currency := fs.String("currency", "KES", "通貨コード")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "入金を開始します。携帯電話の承認画面を確認してください...")

	result, err := a.wallet.Deposit(ctx, *phone, *amount, *currency)
	if err != nil {
		return err
	}
	return a.reportResult(result)
}

// runWithdraw は出金を開始し、完了まで追跡する。
func (a *app) runWithdraw(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("withdraw", flag.ContinueOnError)
	phone := fs.String("phone", "", "モバイルマネーの電話番号（2547XXXXXXXX）")
	amount := fs.Int64("amount", 0, "出金額（最小通貨単位）")
	currency := fs.String("currency", "KES", "通貨コード")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	result, err := a.wallet.Withdraw(ctx, *phone, *amount, *currency)
	if err != nil {
		return err
	}
	return a.reportResult(result)
}

// runConvert はポイントの通貨変換を開始し、完了まで追跡する。
func (a *app) runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	amount := fs.Int64("amount", 0, "変換額（最小通貨単位）")
	from := fs.String("from", "", "変換元通貨コード")
	to := fs.String("to", "", "変換先通貨コード")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	result, err := a.wallet.Convert(ctx, *amount, *from, *to)
	if err != nil {
		return err
	}
	return a.reportResult(result)
}

// runTrade はトレードを開始し、遷移先URLを表示して完了まで追跡する。
func (a *app) runTrade(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trade", flag.ContinueOnError)
	postID := fs.String("post", "", "対象の投稿ID")
	amount := fs.Int64("amount", 0, "トレード額（最小通貨単位）")
	currency := fs.String("currency", "KES", "通貨コード")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	trade, err := a.wallet.StartTrade(ctx, *postID, *amount, *currency)
	if err != nil {
		return err
	}
	defer trade.Handle.Stop()

	fmt.Fprintf(a.out, "トレード画面: %s\n", trade.RedirectURL)
	fmt.Fprintln(a.out, "完了を待っています...")

	result := trade.Handle.Wait()
	return a.reportResult(&wallet.Result{
		OperationID: trade.OperationID,
		Outcome:     result.Outcome,
		Message:     result.Message,
	})
}

// runPosts はインパクト投稿の一覧を表示する。
func (a *app) runPosts(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}

	posts, err := a.social.LoadPosts(ctx)
	if err != nil {
		return err
	}

	for _, p := range posts {
		liked := " "
		if p.Liked {
			liked = "♥"
		}
		fmt.Fprintf(a.out, "%s %s  %s (いいね %d)\n", liked, p.ID, p.Title, p.LikeCount)
	}
	return nil
}

// runLike は投稿のいいね状態をトグルする。
func (a *app) runLike(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("like", flag.ContinueOnError)
	postID := fs.String("post", "", "対象の投稿ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}
	if *postID == "" {
		return fmt.Errorf("usage: kifuman like -post <post-id>")
	}

	// ビュー状態を初期化してからトグルする
	if _, err := a.social.LoadPosts(ctx); err != nil {
		return err
	}
	if err := a.social.ToggleLike(ctx, *postID); err != nil {
		return err
	}

	state, _ := a.social.LikeState(*postID)
	fmt.Fprintf(a.out, "いいね: %v (合計 %d)\n", state.Liked, state.Count)
	return nil
}

// runComment は投稿へコメントする。
func (a *app) runComment(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("comment", flag.ContinueOnError)
	postID := fs.String("post", "", "対象の投稿ID")
	body := fs.String("body", "", "コメント本文")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}
	if *postID == "" || *body == "" {
		return fmt.Errorf("usage: kifuman comment -post <post-id> -body <text>")
	}

	if err := a.social.AddComment(ctx, *postID, *body); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "コメントを投稿しました。")
	return nil
}

// runKYC は本人確認申請フォームを検証して送信する。
func (a *app) runKYC(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kyc", flag.ContinueOnError)
	fullName := fs.String("name", "", "氏名（身分証と同一表記）")
	document := fs.String("document", "", "身分証番号")
	description := fs.String("description", "", "補足説明（任意）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	workflow := form.NewWorkflow(
		func() *form.Bag {
			bag := form.NewBag()
			bag.Check("full_name", form.ValidateRequired(*fullName))
			bag.Check("document_number", form.ValidateRequired(*document))
			return bag
		},
		func(ctx context.Context) error {
			return a.client.SubmitKYC(ctx, a.provider.Token(), api.KYCRequest{
				FullName:       *fullName,
				DocumentNumber: *document,
				Description:    *description,
			})
		},
	)

	if err := workflow.Submit(ctx); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "本人確認申請を送信しました。審査完了までお待ちください。")
	return nil
}

// reportResult は非同期ワークフローの最終結果をユーザーへ報告する。
func (a *app) reportResult(result *wallet.Result) error {
	if err := result.Err(); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Action != "" {
			fmt.Fprintf(a.out, "%s\n%s\n", apiErr.Message, apiErr.Action)
		}
		return err
	}

	fmt.Fprintf(a.out, "処理が完了しました (operation_id: %s)\n", result.OperationID)
	if balance := a.wallet.Balance(); balance != nil {
		fmt.Fprintf(a.out, "残高: %d %s\n", balance.Points, balance.Currency)
	}
	return nil
}

// runFakeServer はローカル開発用のフェイクAPIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runFakeServer(port string) error {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	srv := fakeserver.New(fakeserver.Config{})

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/", srv.Handler())

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("fake server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down fake server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("fake server stopped gracefully")
	return nil
}

func kycLabel(verified bool) string {
	if verified {
		return "確認済み"
	}
	return "未確認"
}

// printUsage は使い方を表示する。
func printUsage(w io.Writer) {
	fmt.Fprint(w, `kifuman - 寄付プラットフォームCLIクライアント

Usage:
  kifuman <command> [flags]

Commands:
  login        ログインしてセッションを保存する (-email, -password)
  logout       保存済みセッションを破棄する
  whoami       現在のユーザーのプロフィールを表示する
  balance      ウォレット残高を表示する
  deposit      モバイルマネー入金を開始する (-phone, -amount, -currency)
  withdraw     出金を開始する (-phone, -amount, -currency)
  convert      ポイントの通貨変換を開始する (-amount, -from, -to)
  trade        トレードを開始する (-post, -amount, -currency)
  posts        インパクト投稿の一覧を表示する
  like         投稿のいいね状態をトグルする (-post)
  comment      投稿へコメントする (-post, -body)
  kyc          本人確認申請を送信する (-name, -document, -description)
  fake-server  ローカル開発用のフェイクAPIサーバーを起動する

Environment:
  KIFUMAN_API_BASE_URL  プラットフォームAPIのベースURL（必須）
  KIFUMAN_LOG_LEVEL     ログレベル (debug/info/warn/error)
`)
}
