package form

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/kifuman/internal/model"
)

func passingValidation() *Bag {
	return NewBag()
}

func TestWorkflow_SuccessfulSubmit_ReachesSucceeded(t *testing.T) {
	w := NewWorkflow(passingValidation, func(ctx context.Context) error {
		return nil
	})

	if w.State() != StateEditing {
		t.Errorf("初期状態 = %s, want editing", w.State())
	}

	if err := w.Submit(context.Background()); err != nil {
		t.Fatalf("Submit がエラーを返した: %v", err)
	}

	if w.State() != StateSucceeded {
		t.Errorf("成功後の状態 = %s, want succeeded", w.State())
	}
}

func TestWorkflow_ValidationFailure_BlocksSubmitWithoutNetworkCall(t *testing.T) {
	submitCalled := false
	w := NewWorkflow(func() *Bag {
		bag := NewBag()
		bag.Check("title", "タイトルは5文字以上で入力してください")
		return bag
	}, func(ctx context.Context) error {
		submitCalled = true
		return nil
	})

	err := w.Submit(context.Background())
	if err == nil {
		t.Fatal("検証違反時はエラーを返すべき")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("検証違反は*ValidationErrorとして返るべき, got %T", err)
	}
	if submitCalled {
		t.Error("検証違反時はネットワーク呼び出しを行ってはならない")
	}
	if w.State() != StateEditing {
		t.Errorf("検証違反後の状態 = %s, want editing", w.State())
	}
}

func TestWorkflow_SubmitFailure_ReturnsToEditingWithAnnotation(t *testing.T) {
	serverErr := errors.New("サーバーエラー")
	w := NewWorkflow(passingValidation, func(ctx context.Context) error {
		return serverErr
	})

	err := w.Submit(context.Background())
	if !errors.Is(err, serverErr) {
		t.Fatalf("送信エラーをそのまま返すべき, got %v", err)
	}

	if w.State() != StateEditing {
		t.Errorf("失敗後の状態 = %s, want editing", w.State())
	}
	if !errors.Is(w.LastError(), serverErr) {
		t.Error("失敗後はエラー注釈を保持すべき")
	}

	// 失敗後は再送信できる
	if w.State() != StateEditing {
		t.Error("失敗後は再送信可能であるべき")
	}
}

func TestWorkflow_DuplicateSubmit_IsNoOp(t *testing.T) {
	// Submitting中の2回目のSubmitはネットワーク呼び出しを行わない
	var submitCalls int32
	started := make(chan struct{})
	release := make(chan struct{})

	w := NewWorkflow(passingValidation, func(ctx context.Context) error {
		atomic.AddInt32(&submitCalls, 1)
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Submit(context.Background())
	}()

	<-started
	if w.State() != StateSubmitting {
		t.Fatalf("送信中の状態 = %s, want submitting", w.State())
	}

	// ダブルクリック相当の2回目
	err := w.Submit(context.Background())
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeSubmitInFlight {
		t.Errorf("送信中の再送信はSUBMIT_IN_FLIGHTを返すべき, got %v", err)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&submitCalls); got != 1 {
		t.Errorf("送信リクエストはちょうど1回であるべき, got %d", got)
	}
}

func TestWorkflow_SucceededIsTerminal(t *testing.T) {
	var submitCalls int32
	w := NewWorkflow(passingValidation, func(ctx context.Context) error {
		atomic.AddInt32(&submitCalls, 1)
		return nil
	})

	if err := w.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := w.Submit(context.Background()); err == nil {
		t.Error("Succeeded後のSubmitはエラーを返すべき")
	}
	if got := atomic.LoadInt32(&submitCalls); got != 1 {
		t.Errorf("Succeeded後は送信してはならない: calls = %d, want 1", got)
	}
	if w.State() != StateSucceeded {
		t.Errorf("状態はSucceededのまま維持されるべき, got %s", w.State())
	}
}

func TestWorkflow_RetryAfterFailure_Succeeds(t *testing.T) {
	attempt := 0
	w := NewWorkflow(passingValidation, func(ctx context.Context) error {
		attempt++
		if attempt == 1 {
			return errors.New("一時的なエラー")
		}
		return nil
	})

	if err := w.Submit(context.Background()); err == nil {
		t.Fatal("1回目は失敗すべき")
	}
	if err := w.Submit(context.Background()); err != nil {
		t.Fatalf("2回目は成功すべき: %v", err)
	}
	if w.State() != StateSucceeded {
		t.Errorf("再試行成功後の状態 = %s, want succeeded", w.State())
	}
}
