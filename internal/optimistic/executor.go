// Package optimistic は楽観的ミューテーションの実行を提供する。
// サーバー確認前にローカル状態を先行更新してUIの応答性を保ちつつ、
// 失敗時のロールバックと成功時のサーバー値収束を保証する。
package optimistic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/kifuman/internal/metrics"
	"github.com/hitoshi/kifuman/internal/model"
)

// Mutation は1回の楽観的ミューテーションを構成する。
// 実行順序は Apply → Confirm →（失敗時のみ）Rollback。
type Mutation struct {
	// EntityKind はメトリクスラベルに使用するエンティティ種別（like, comment等）。
	EntityKind string
	// Apply は予測した次状態S1をローカルに適用する（即時表示用）。
	// 呼び出し前の状態S0のスナップショットは呼び出し元がクロージャに捕捉しておくこと。
	Apply func()
	// Confirm は確認リクエストを送信する。
	// 成功時はサーバーが返した正とする値でローカル状態を確定させること
	// （予測値S1を保持してはならない。カウント等は他ユーザーの同時操作で
	// 予測とずれている可能性がある）。
	Confirm func(ctx context.Context) error
	// Rollback はローカル状態をS0と完全に同一の状態へ復元する。
	Rollback func()
}

// Executor は楽観的ミューテーションをエンティティ単位で直列化して実行する。
// 同一エンティティに対する実行中ミューテーションは常に高々1つであり、
// 更新の喪失（lost update）を防ぐ。
type Executor struct {
	recorder metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewExecutor はExecutorを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewExecutor(recorder metrics.Recorder, logger *slog.Logger) *Executor {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Executor{
		recorder: recorder,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Do はミューテーションを実行する。
// 同一entityIDのミューテーションが実行中の場合はネットワーク呼び出しを
// 一切行わずエラーを返す（キューイングはしない）。
// Confirmが失敗した場合はRollbackを実行してからエラーを返す。
func (e *Executor) Do(ctx context.Context, entityID string, m Mutation) error {
	if !e.acquire(entityID) {
		return model.NewMutationInFlightError(entityID)
	}
	defer e.release(entityID)

	m.Apply()

	if err := m.Confirm(ctx); err != nil {
		m.Rollback()
		e.recorder.RecordOptimisticRollback(m.EntityKind)
		e.logger.Info("楽観的ミューテーションをロールバックしました",
			slog.String("entity_id", entityID),
			slog.String("entity_kind", m.EntityKind),
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// InFlight は指定エンティティのミューテーションが実行中かを返す。
func (e *Executor) InFlight(entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[entityID]
	return ok
}

func (e *Executor) acquire(entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[entityID]; ok {
		return false
	}
	e.inFlight[entityID] = struct{}{}
	return true
}

func (e *Executor) release(entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, entityID)
}
