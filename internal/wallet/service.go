// Package wallet はポイントウォレットの非同期ワークフローを提供する。
// 入金（STKプッシュ）・出金・通貨変換・トレード開始の各処理を開始し、
// 完了確認ポーリングと残高のリコンシリエーションを行う。
package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kifuman/internal/api"
	"github.com/hitoshi/kifuman/internal/form"
	"github.com/hitoshi/kifuman/internal/metrics"
	"github.com/hitoshi/kifuman/internal/model"
	"github.com/hitoshi/kifuman/internal/poll"
)

// モバイルマネーの取扱金額の範囲（最小通貨単位）。
const (
	minDepositAmount  = 10
	maxDepositAmount  = 250000
	minWithdrawAmount = 50
	maxWithdrawAmount = 250000
	minConvertAmount  = 1
)

// reconcileTimeout はタイムアウト後のバックグラウンド残高照合の打ち切り時間。
const reconcileTimeout = 30 * time.Second

// PlatformAPI はウォレット機能が必要とするAPI呼び出しのインターフェース。
// api.Clientの部分集合として定義する。テスト時にモックに差し替え可能。
type PlatformAPI interface {
	Balance(ctx context.Context, token string) (*model.Balance, error)
	InitiateDeposit(ctx context.Context, token string, req api.DepositRequest) (*api.OperationAccepted, error)
	Withdraw(ctx context.Context, token string, req api.WithdrawRequest) (*api.OperationAccepted, error)
	Convert(ctx context.Context, token string, req api.ConvertRequest) (*api.OperationAccepted, error)
	StartTrade(ctx context.Context, token string, req api.TradeRequest) (*api.TradeStarted, error)
	FetchOperationStatus(ctx context.Context, token string, kind model.OperationKind, operationID string) (*api.OperationStatus, error)
}

// TokenSource は現在の認証トークンの供給元。session.Providerが実装する。
type TokenSource interface {
	Token() string
}

// Config はウォレットサービスの設定。
type Config struct {
	PollInterval   time.Duration
	PollMaxRetries int
}

// Result は非同期ワークフローの最終結果。
type Result struct {
	OperationID string
	Outcome     poll.Outcome
	Message     string
}

// Err は結果をユーザー向けエラーへ変換する。成功時はnil。
func (r *Result) Err() error {
	switch r.Outcome {
	case poll.OutcomeSucceeded:
		return nil
	case poll.OutcomeFailed:
		return model.NewOperationFailedError(r.Message)
	case poll.OutcomeTimedOut:
		return model.NewOperationTimeoutError()
	case poll.OutcomeErrored:
		return model.NewTransportError("処理状態の確認中に接続が失われました")
	default:
		return model.NewOperationTimeoutError()
	}
}

// Service はウォレットのビューステートとワークフローを管理する。
type Service struct {
	api      PlatformAPI
	tokens   TokenSource
	recorder metrics.Recorder
	logger   *slog.Logger
	config   Config

	mu      sync.Mutex
	balance *model.Balance
}

// NewService はServiceを生成する。
func NewService(apiClient PlatformAPI, tokens TokenSource, recorder metrics.Recorder, logger *slog.Logger, config Config) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		api:      apiClient,
		tokens:   tokens,
		recorder: recorder,
		logger:   logger,
		config:   config,
	}
}

// Balance はローカルに保持している残高ビューを返す。未取得の場合はnil。
func (s *Service) Balance() *model.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// RefreshBalance はサーバーから残高を再取得し、ローカルビューを更新する。
func (s *Service) RefreshBalance(ctx context.Context) (*model.Balance, error) {
	balance, err := s.api.Balance(ctx, s.tokens.Token())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
	return balance, nil
}

// Deposit はモバイルマネー入金を開始し、完了までポーリングする。
// 成功確定時は残高を再取得してから結果を返す（古い残高に対して成功表示をしない）。
// タイムアウト時はバックグラウンドで残高照合を行う。サーバー側で後から
// 入金が成立した場合に表示残高が古いまま残らないようにするためである。
func (s *Service) Deposit(ctx context.Context, phone string, amount int64, currency string) (*Result, error) {
	bag := form.NewBag()
	bag.Check("phone", form.ValidatePhone(phone))
	bag.Check("amount", form.ValidateAmount(amount, minDepositAmount, maxDepositAmount))
	bag.Check("currency", form.ValidateRequired(currency))
	if err := bag.Err(); err != nil {
		return nil, err
	}

	accepted, err := s.api.InitiateDeposit(ctx, s.tokens.Token(), api.DepositRequest{
		Phone:          phone,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("入金を開始しました",
		slog.String("operation_id", accepted.OperationID),
		slog.Int64("amount", amount),
		slog.String("currency", currency),
	)

	return s.track(ctx, model.OperationDeposit, accepted.OperationID), nil
}

// Withdraw は出金を開始し、完了までポーリングする。
func (s *Service) Withdraw(ctx context.Context, phone string, amount int64, currency string) (*Result, error) {
	bag := form.NewBag()
	bag.Check("phone", form.ValidatePhone(phone))
	bag.Check("amount", form.ValidateAmount(amount, minWithdrawAmount, maxWithdrawAmount))
	bag.Check("currency", form.ValidateRequired(currency))
	if err := bag.Err(); err != nil {
		return nil, err
	}

	accepted, err := s.api.Withdraw(ctx, s.tokens.Token(), api.WithdrawRequest{
		Phone:          phone,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("出金を開始しました",
		slog.String("operation_id", accepted.OperationID),
		slog.Int64("amount", amount),
	)

	return s.track(ctx, model.OperationWithdrawal, accepted.OperationID), nil
}

// Convert はポイントの通貨変換を開始し、完了までポーリングする。
// 変換後の金額はサーバー確定値であり、クライアントでは計算しない。
func (s *Service) Convert(ctx context.Context, amount int64, from, to string) (*Result, error) {
	bag := form.NewBag()
	bag.Check("amount", form.ValidateAmount(amount, minConvertAmount, 0))
	bag.Check("from_currency", form.ValidateRequired(from))
	bag.Check("to_currency", form.ValidateRequired(to))
	if from != "" && from == to {
		bag.Check("to_currency", "変換元と変換先の通貨が同一です")
	}
	if err := bag.Err(); err != nil {
		return nil, err
	}

	accepted, err := s.api.Convert(ctx, s.tokens.Token(), api.ConvertRequest{
		Amount:         amount,
		FromCurrency:   from,
		ToCurrency:     to,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	return s.track(ctx, model.OperationConversion, accepted.OperationID), nil
}

// Trade はトレード開始の結果。RedirectURLはトレード画面への遷移先。
// Handleでステータスポーリングを追跡し、不要になったら必ずStopすること。
type Trade struct {
	OperationID string
	RedirectURL string
	Handle      *poll.Handle
}

// StartTrade はトレードを開始し、遷移先URLとポーリングハンドルを返す。
// ポーリングはバックグラウンドで開始済み。呼び出し側が画面破棄等で
// 結果が不要になった場合はHandle.Stopで解放する。
func (s *Service) StartTrade(ctx context.Context, postID string, amount int64, currency string) (*Trade, error) {
	bag := form.NewBag()
	bag.Check("post_id", form.ValidateRequired(postID))
	bag.Check("amount", form.ValidateAmount(amount, 1, 0))
	bag.Check("currency", form.ValidateRequired(currency))
	if err := bag.Err(); err != nil {
		return nil, err
	}

	started, err := s.api.StartTrade(ctx, s.tokens.Token(), api.TradeRequest{
		PostID:         postID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, err
	}

	poller := s.newPoller(model.OperationTrade, started.OperationID)
	return &Trade{
		OperationID: started.OperationID,
		RedirectURL: started.RedirectURL,
		Handle:      poller.Start(ctx),
	}, nil
}

// track は処理をポーリングで終端まで追跡し、結果を返す（ブロッキング）。
func (s *Service) track(ctx context.Context, kind model.OperationKind, operationID string) *Result {
	result := s.newPoller(kind, operationID).Run(ctx)

	if result.Outcome == poll.OutcomeTimedOut {
		s.reconcileInBackground(kind, operationID)
	}

	return &Result{
		OperationID: operationID,
		Outcome:     result.Outcome,
		Message:     result.Message,
	}
}

// newPoller は処理種別・相関キーに対応するポーラーを構成する。
func (s *Service) newPoller(kind model.OperationKind, operationID string) *poll.Poller {
	fetch := func(ctx context.Context) (poll.Status, error) {
		status, err := s.api.FetchOperationStatus(ctx, s.tokens.Token(), kind, operationID)
		if err != nil {
			return poll.Status{}, err
		}
		return poll.Status{State: status.Status, Message: status.Message}, nil
	}

	return poll.New(fetch, poll.Config{
		Kind:        kind,
		Interval:    s.config.PollInterval,
		MaxAttempts: s.config.PollMaxRetries,
		OnSuccess: func(ctx context.Context) error {
			_, err := s.RefreshBalance(ctx)
			return err
		},
	}, s.recorder, s.logger)
}

// reconcileInBackground はタイムアウト後の残高照合を非同期で実行する。
// 呼び出し元のコンテキストには紐付けない（呼び出し元は既に結果を受け取っている）。
func (s *Service) reconcileInBackground(kind model.OperationKind, operationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()

		if _, err := s.RefreshBalance(ctx); err != nil {
			s.logger.Warn("タイムアウト後の残高照合に失敗しました",
				slog.String("kind", string(kind)),
				slog.String("operation_id", operationID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("タイムアウト後の残高照合が完了しました",
			slog.String("kind", string(kind)),
			slog.String("operation_id", operationID),
		)
	}()
}
