// Package poll は非同期処理の完了確認ポーリングを提供する。
// 入金（STKプッシュ）・出金・通貨変換・トレードのように、サーバー側で
// 非同期に完了する処理のステータスを終端状態に達するまで定期取得する。
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/kifuman/internal/metrics"
	"github.com/hitoshi/kifuman/internal/model"
)

// Outcome はポーリングの終端状態。
// 1回のポーリングシーケンスは必ずいずれか1つの終端状態に達し、
// 到達後は一切リクエストを発行しない。
type Outcome string

const (
	// OutcomeSucceeded はサーバーが成功を報告した。
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed はサーバーが明示的な失敗を報告した。
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut は最大試行回数までに終端ステータスが得られなかった。
	// サーバー側では後から成功している可能性があるため失敗とは区別する。
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeErrored はポーリング中の通信エラー。即座に終端となり再試行しない。
	OutcomeErrored Outcome = "errored"
	// OutcomeCanceled は呼び出し側によるキャンセル。終端状態には数えない。
	OutcomeCanceled Outcome = "canceled"
)

// Status はステータス取得関数が返す処理の現在状態。
type Status struct {
	State   model.OperationStatus
	Message string
}

// StatusFunc は処理の現在ステータスを1回取得する。
// 通信エラーの場合はエラーを返す（ポーラーはこれを即座に終端として扱う）。
type StatusFunc func(ctx context.Context) (Status, error)

// RefreshFunc は成功確定時、結果を呼び出し元へ返す前に実行される。
// 依存する集約状態（残高など）の再取得に使用する。
// 成功表示が古い残高に対して行われないことを保証するための順序である。
type RefreshFunc func(ctx context.Context) error

// Config はポーラーの設定。
type Config struct {
	// Kind はメトリクスラベルに使用する処理種別。
	Kind model.OperationKind
	// Interval はポーリング間隔。0以下で既定値5秒。
	Interval time.Duration
	// MaxAttempts は最大試行回数。0以下で既定値12。
	// タイムアウトはちょうどMaxAttempts回目の試行後に確定する。
	MaxAttempts int
	// OnSuccess は成功確定時のリフレッシュフック（任意）。
	OnSuccess RefreshFunc
}

// Result はポーリングシーケンスの最終結果。
type Result struct {
	Outcome  Outcome
	Message  string // Failed時はサーバーメッセージそのまま
	Attempts int
	Err      error // Errored時の通信エラー
}

// Poller は1つの非同期処理を終端状態まで追跡する。
type Poller struct {
	fetch    StatusFunc
	config   Config
	recorder metrics.Recorder
	logger   *slog.Logger
}

// New はPollerを生成する。recorderがnilの場合はメトリクスを記録しない。
func New(fetch StatusFunc, config Config, recorder metrics.Recorder, logger *slog.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 12
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Poller{
		fetch:    fetch,
		config:   config,
		recorder: recorder,
		logger:   logger,
	}
}

// Run はポーリングシーケンスを終端状態まで実行する（ブロッキング）。
// コンテキストのキャンセルで即座に停止し、OutcomeCanceledを返す。
// どの経路でもティッカーは必ず解放される。
func (p *Poller) Run(ctx context.Context) *Result {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	kind := string(p.config.Kind)

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &Result{Outcome: OutcomeCanceled, Attempts: attempt - 1}
		case <-ticker.C:
		}

		status, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &Result{Outcome: OutcomeCanceled, Attempts: attempt}
			}
			// 通信エラーは即座に終端。これ以上の再試行は行わない。
			p.logger.Error("ステータスポーリング中に通信エラーが発生しました",
				slog.String("kind", kind),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			p.finish(kind, OutcomeErrored, attempt)
			return &Result{Outcome: OutcomeErrored, Attempts: attempt, Err: err}
		}

		switch status.State {
		case model.StatusSuccess:
			// 成功を返す前に依存状態をリフレッシュする。
			// 失敗しても成功自体は確定しているため結果は変えない。
			if p.config.OnSuccess != nil {
				if err := p.config.OnSuccess(ctx); err != nil {
					p.logger.Warn("成功確定後のリフレッシュに失敗しました",
						slog.String("kind", kind),
						slog.String("error", err.Error()),
					)
				}
			}
			p.logger.Info("非同期処理が完了しました",
				slog.String("kind", kind),
				slog.Int("attempt", attempt),
			)
			p.finish(kind, OutcomeSucceeded, attempt)
			return &Result{Outcome: OutcomeSucceeded, Message: status.Message, Attempts: attempt}

		case model.StatusFailed:
			p.logger.Info("非同期処理が失敗しました",
				slog.String("kind", kind),
				slog.Int("attempt", attempt),
				slog.String("server_message", status.Message),
			)
			p.finish(kind, OutcomeFailed, attempt)
			return &Result{Outcome: OutcomeFailed, Message: status.Message, Attempts: attempt}

		case model.StatusPending:
			// 次の試行へ
		}
	}

	p.logger.Warn("ポーリングが最大試行回数に達しました",
		slog.String("kind", kind),
		slog.Int("max_attempts", p.config.MaxAttempts),
	)
	p.finish(kind, OutcomeTimedOut, p.config.MaxAttempts)
	return &Result{Outcome: OutcomeTimedOut, Attempts: p.config.MaxAttempts}
}

// finish は終端到達時のメトリクスを記録する。
func (p *Poller) finish(kind string, outcome Outcome, attempts int) {
	p.recorder.RecordPollOutcome(kind, string(outcome))
	p.recorder.RecordPollAttempts(kind, attempts)
}

// Handle は起動済みポーリングのキャンセル可能なハンドル。
// 消費側は不要になった時点で必ずStopを呼ぶこと（タイマーリーク防止）。
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
}

// Start はポーリングをバックグラウンドで開始し、ハンドルを返す。
// 結果はWaitで受け取る。Stop後のWaitはOutcomeCanceledの結果を返すため、
// 破棄済みの消費側へコールバックすることはない。
func (p *Poller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()
		h.result = p.Run(ctx)
	}()

	return h
}

// Wait はポーリングの完了をブロックして待ち、最終結果を返す。
func (h *Handle) Wait() *Result {
	<-h.done
	return h.result
}

// Stop はポーリングをキャンセルし、ゴルーチンの終了を待つ。冪等。
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}
