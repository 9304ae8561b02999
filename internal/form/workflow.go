package form

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/kifuman/internal/model"
)

// State はフォームワークフローの表示状態。
type State string

const (
	// StateEditing は入力編集中。送信失敗後もこの状態に戻る。
	StateEditing State = "editing"
	// StateSubmitting はリクエスト送信中。送信操作は受け付けない。
	StateSubmitting State = "submitting"
	// StateSucceeded は送信成功。このフォームインスタンスの終端状態。
	StateSucceeded State = "succeeded"
)

// ValidateFunc は送信時のフォーム全体検証。違反をBagに記録して返す。
type ValidateFunc func() *Bag

// SubmitFunc は検証合格後の送信処理（ネットワーク呼び出し）。
type SubmitFunc func(ctx context.Context) error

// Workflow は1つのフォームインスタンスの送信ライフサイクルを管理する。
//
// 状態遷移:
//
//	Editing → (検証合格) → Submitting → Succeeded
//	                          └→ (失敗) → Editing（エラー注釈付き）
//
// Submitting中の再送信は何もしない（ネットワーク呼び出しゼロ）。
type Workflow struct {
	validate ValidateFunc
	submit   SubmitFunc

	mu        sync.Mutex
	state     State
	lastError error
}

// NewWorkflow はEditing状態のWorkflowを生成する。
func NewWorkflow(validate ValidateFunc, submit SubmitFunc) *Workflow {
	return &Workflow{
		validate: validate,
		submit:   submit,
		state:    StateEditing,
	}
}

// State は現在の表示状態を返す。
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastError は直近の送信失敗または検証違反のエラー注釈を返す。
func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

// Submit はフォームを検証し、合格した場合のみ送信する。
//   - Submitting中の呼び出しは送信せずエラーを返す（利用者視点では冪等）。
//   - Succeeded後の呼び出しは送信しない（終端状態）。
//   - 検証違反はネットワーク呼び出しの前に返り、通信エラーとして扱われない。
//   - 送信失敗時はEditingに戻り、エラー注釈を保持する。
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateSubmitting:
		w.mu.Unlock()
		return model.NewSubmitInFlightError()
	case StateSucceeded:
		w.mu.Unlock()
		return fmt.Errorf("このフォームは送信済みです")
	}

	// 送信時の全体再検証（フィールド単位の逐次検証とは独立に必ず行う）
	if bag := w.validate(); !bag.Valid() {
		err := bag.Err()
		w.lastError = err
		w.mu.Unlock()
		return err
	}

	w.state = StateSubmitting
	w.lastError = nil
	w.mu.Unlock()

	err := w.submit(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = StateEditing
		w.lastError = err
		return err
	}

	w.state = StateSucceeded
	return nil
}
