package poll

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/kifuman/internal/model"
)

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// testConfig はテスト用の短い間隔の設定を返す。
func testConfig(maxAttempts int) Config {
	return Config{
		Kind:        model.OperationDeposit,
		Interval:    5 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func TestRun_SucceedsAfterPendingPolls(t *testing.T) {
	// 11回連続pending、12回目でsuccess → 成功経路がちょうど1回発火し、
	// 以降リクエストは発行されない
	var calls int32
	fetch := func(ctx context.Context) (Status, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 12 {
			return Status{State: model.StatusPending}, nil
		}
		return Status{State: model.StatusSuccess}, nil
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	result := p.Run(context.Background())

	if result.Outcome != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want succeeded", result.Outcome)
	}
	if result.Attempts != 12 {
		t.Errorf("Attempts = %d, want 12", result.Attempts)
	}
	if got := atomic.LoadInt32(&calls); got != 12 {
		t.Errorf("終端到達後はリクエストを発行してはならない: calls = %d, want 12", got)
	}
}

func TestRun_RefreshRunsBeforeSuccessIsReturned(t *testing.T) {
	// 残高の再取得は成功結果を返す前に完了していなければならない
	var mu sync.Mutex
	var order []string

	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusSuccess}, nil
	}

	cfg := testConfig(12)
	cfg.OnSuccess = func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "refresh")
		mu.Unlock()
		return nil
	}

	p := New(fetch, cfg, nil, newTestLogger())
	result := p.Run(context.Background())

	mu.Lock()
	order = append(order, "result")
	mu.Unlock()

	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("Outcome = %s, want succeeded", result.Outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "refresh" || order[1] != "result" {
		t.Errorf("リフレッシュは結果返却より先に実行されるべき, got %v", order)
	}
}

func TestRun_RefreshFailure_DoesNotChangeSuccessOutcome(t *testing.T) {
	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusSuccess}, nil
	}

	cfg := testConfig(12)
	cfg.OnSuccess = func(ctx context.Context) error {
		return errors.New("balance refresh failed")
	}

	p := New(fetch, cfg, nil, newTestLogger())
	result := p.Run(context.Background())

	if result.Outcome != OutcomeSucceeded {
		t.Errorf("リフレッシュ失敗でも成功自体は確定している: Outcome = %s, want succeeded", result.Outcome)
	}
}

func TestRun_ServerFailure_SurfacesMessageVerbatim(t *testing.T) {
	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusFailed, Message: "STKプッシュがユーザーにより拒否されました"}, nil
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	result := p.Run(context.Background())

	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", result.Outcome)
	}
	if result.Message != "STKプッシュがユーザーにより拒否されました" {
		t.Errorf("サーバーメッセージをそのまま返すべき, got %q", result.Message)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestRun_TimesOutAtExactlyMaxAttempts(t *testing.T) {
	// 終端ステータスが一度も返らない場合、ちょうど12回目の試行で
	// タイムアウトが確定する（11回でも13回でもない）
	var calls int32
	fetch := func(ctx context.Context) (Status, error) {
		atomic.AddInt32(&calls, 1)
		return Status{State: model.StatusPending}, nil
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	result := p.Run(context.Background())

	if result.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %s, want timed_out", result.Outcome)
	}
	if result.Attempts != 12 {
		t.Errorf("Attempts = %d, want 12", result.Attempts)
	}
	if got := atomic.LoadInt32(&calls); got != 12 {
		t.Errorf("試行回数 = %d, want ちょうど12", got)
	}
}

func TestRun_TransportError_IsImmediatelyTerminal(t *testing.T) {
	// ポーリング中の通信エラーは再試行せず即座に終端となる
	var calls int32
	fetch := func(ctx context.Context) (Status, error) {
		atomic.AddInt32(&calls, 1)
		return Status{}, errors.New("connection refused")
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	result := p.Run(context.Background())

	if result.Outcome != OutcomeErrored {
		t.Errorf("Outcome = %s, want errored", result.Outcome)
	}
	if result.Err == nil {
		t.Error("Erroredの結果は通信エラーを保持すべき")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("通信エラー後に再試行してはならない: calls = %d, want 1", got)
	}
}

func TestRun_TerminalExclusivity(t *testing.T) {
	// 1つのシーケンスはちょうど1つの終端状態に達する
	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusSuccess}, nil
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	result := p.Run(context.Background())

	terminals := map[Outcome]bool{
		OutcomeSucceeded: true,
		OutcomeFailed:    true,
		OutcomeTimedOut:  true,
		OutcomeErrored:   true,
	}
	if !terminals[result.Outcome] {
		t.Errorf("終端状態のいずれかに達するべき, got %s", result.Outcome)
	}
}

func TestHandle_Stop_CancelsPolling(t *testing.T) {
	// 消費側の破棄（Stop）後はステータス取得が発行されない
	var calls int32
	fetch := func(ctx context.Context) (Status, error) {
		atomic.AddInt32(&calls, 1)
		return Status{State: model.StatusPending}, nil
	}

	cfg := testConfig(1000)
	cfg.Interval = 10 * time.Millisecond

	p := New(fetch, cfg, nil, newTestLogger())
	h := p.Start(context.Background())

	time.Sleep(35 * time.Millisecond)
	h.Stop()
	callsAtStop := atomic.LoadInt32(&calls)

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != callsAtStop {
		t.Errorf("Stop後にステータス取得が発行された: %d -> %d", callsAtStop, got)
	}

	result := h.Wait()
	if result.Outcome != OutcomeCanceled {
		t.Errorf("Stop後の結果はcanceledであるべき, got %s", result.Outcome)
	}
}

func TestHandle_Stop_IsIdempotent(t *testing.T) {
	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusPending}, nil
	}

	p := New(fetch, testConfig(1000), nil, newTestLogger())
	h := p.Start(context.Background())

	h.Stop()
	h.Stop() // 2回目もブロック・panicしない
}

func TestHandle_Wait_ReturnsResult(t *testing.T) {
	fetch := func(ctx context.Context) (Status, error) {
		return Status{State: model.StatusSuccess}, nil
	}

	p := New(fetch, testConfig(12), nil, newTestLogger())
	h := p.Start(context.Background())

	result := h.Wait()
	if result == nil || result.Outcome != OutcomeSucceeded {
		t.Errorf("Wait = %+v, want succeeded", result)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(func(ctx context.Context) (Status, error) {
		return Status{}, nil
	}, Config{Kind: model.OperationDeposit}, nil, newTestLogger())

	if p.config.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", p.config.Interval)
	}
	if p.config.MaxAttempts != 12 {
		t.Errorf("MaxAttempts = %d, want 12", p.config.MaxAttempts)
	}
}
