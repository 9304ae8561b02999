package social

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kifuman/internal/api"
	"github.com/hitoshi/kifuman/internal/model"
	"github.com/hitoshi/kifuman/internal/optimistic"
)

// PlatformAPI はソーシャル機能が必要とするAPI呼び出しのインターフェース。
// api.Clientの部分集合として定義する。テスト時にモックに差し替え可能。
type PlatformAPI interface {
	ListPosts(ctx context.Context, token string) ([]model.Post, error)
	ToggleLike(ctx context.Context, token, postID string) (*api.LikeResult, error)
	CreateComment(ctx context.Context, token, postID string, req api.CommentRequest) (*model.Comment, error)
}

// TokenSource は現在の認証トークンの供給元。session.Providerが実装する。
type TokenSource interface {
	Token() string
}

// Service はいいね・コメントのローカルビュー状態を所有し、
// 楽観的ミューテーションでサーバーと同期する。
type Service struct {
	api       PlatformAPI
	tokens    TokenSource
	executor  *optimistic.Executor
	sanitizer Sanitizer
	logger    *slog.Logger

	mu       sync.Mutex
	posts    []model.Post
	likes    map[string]model.LikeState // postID → いいね状態
	comments map[string][]model.Comment // postID → コメントスレッド
}

// NewService はServiceを生成する。
func NewService(
	apiClient PlatformAPI,
	tokens TokenSource,
	executor *optimistic.Executor,
	sanitizer Sanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		api:       apiClient,
		tokens:    tokens,
		executor:  executor,
		sanitizer: sanitizer,
		logger:    logger,
		likes:     make(map[string]model.LikeState),
		comments:  make(map[string][]model.Comment),
	}
}

// LoadPosts は投稿一覧を取得し、ローカルビュー状態を初期化する。
// 本文はサニタイズしてから保持する。
func (s *Service) LoadPosts(ctx context.Context) ([]model.Post, error) {
	posts, err := s.api.ListPosts(ctx, s.tokens.Token())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = make([]model.Post, len(posts))
	for i, p := range posts {
		p.Body = s.sanitizer.Sanitize(p.Body)
		s.posts[i] = p
		s.likes[p.ID] = model.LikeState{
			PostID: p.ID,
			Liked:  p.Liked,
			Count:  p.LikeCount,
		}
	}
	return s.posts, nil
}

// LikeState は投稿の現在のいいね表示状態を返す。
// 表示値は常に「最後にサーバーが確定した値」か「巻き戻し可能なローカル予測値」
// のいずれかである。
func (s *Service) LikeState(postID string) (model.LikeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.likes[postID]
	return state, ok
}

// ToggleLike はいいね状態を楽観的にトグルする。
// 予測値を即時反映し、サーバー確定値（他ユーザーの同時操作を含む）で上書きする。
// 失敗時はミューテーション前の状態へ正確に巻き戻す。
// 同一投稿への未解決ミューテーションがある間、2件目は受け付けない。
func (s *Service) ToggleLike(ctx context.Context, postID string) error {
	s.mu.Lock()
	s0, ok := s.likes[postID]
	s.mu.Unlock()
	if !ok {
		return model.NewValidationError("post_id", "未知の投稿です")
	}

	return s.executor.Do(ctx, "like:"+postID, optimistic.Mutation{
		EntityKind: "like",
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			predicted := s0
			if predicted.Liked {
				predicted.Liked = false
				predicted.Count--
			} else {
				predicted.Liked = true
				predicted.Count++
			}
			s.likes[postID] = predicted
		},
		Confirm: func(ctx context.Context) error {
			result, err := s.api.ToggleLike(ctx, s.tokens.Token(), postID)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.likes[postID] = model.LikeState{
				PostID: postID,
				Liked:  result.Liked,
				Count:  result.LikeCount,
			}
			return nil
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.likes[postID] = s0
		},
	})
}

// Comments は投稿のコメントスレッドを返す（ローカルエコーを含む）。
func (s *Service) Comments(postID string) []model.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := s.comments[postID]
	out := make([]model.Comment, len(thread))
	copy(out, thread)
	return out
}

// AddComment はコメントを楽観的に投稿する。
// ローカルエコーを即時追加し、サーバー確定のコメントで置き換える。
// 失敗時はエコーを取り除く。
func (s *Service) AddComment(ctx context.Context, postID, body string) error {
	if body == "" {
		return model.NewValidationError("body", "コメント本文は必須です")
	}

	clientID := uuid.New().String()
	echo := model.Comment{
		ClientID:  clientID,
		PostID:    postID,
		Body:      s.sanitizer.Sanitize(body),
		Pending:   true,
		CreatedAt: time.Now(),
	}

	return s.executor.Do(ctx, "comment:"+clientID, optimistic.Mutation{
		EntityKind: "comment",
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.comments[postID] = append(s.comments[postID], echo)
		},
		Confirm: func(ctx context.Context) error {
			confirmed, err := s.api.CreateComment(ctx, s.tokens.Token(), postID, api.CommentRequest{
				ClientID: clientID,
				Body:     body,
			})
			if err != nil {
				return err
			}
			confirmed.Body = s.sanitizer.Sanitize(confirmed.Body)
			s.mu.Lock()
			defer s.mu.Unlock()
			s.replaceByClientID(postID, clientID, *confirmed)
			return nil
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.removeByClientID(postID, clientID)
		},
	})
}

// HandleIncoming はプッシュチャネルから届いたコメントをスレッドへマージする。
// 自分が送信したコメントのローカルエコー（またはサーバー確定済みの同一コメント）
// とはClientIDで照合し、重複追加しない。
func (s *Service) HandleIncoming(comment model.Comment) {
	comment.Body = s.sanitizer.Sanitize(comment.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	if comment.ClientID != "" {
		for i, existing := range s.comments[comment.PostID] {
			if existing.ClientID == comment.ClientID {
				// ローカルエコーをサーバー確定値で更新するのみ（重複なし）
				comment.Pending = false
				s.comments[comment.PostID][i] = comment
				return
			}
		}
	}
	if comment.ID != "" {
		for _, existing := range s.comments[comment.PostID] {
			if existing.ID == comment.ID {
				return
			}
		}
	}

	s.comments[comment.PostID] = append(s.comments[comment.PostID], comment)
}

// Listen はプッシュチャネルを消費してスレッドへマージし続ける。
// idleTimeoutの間メッセージが届かない場合は停止する（アイドル時の
// リソース解放。チャネルクローズ・コンテキストキャンセルでも停止する）。
func (s *Service) Listen(ctx context.Context, ch <-chan model.Comment, idleTimeout time.Duration) {
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			s.logger.Info("アイドルタイムアウトによりプッシュ受信を停止します",
				slog.Duration("idle_timeout", idleTimeout),
			)
			return
		case comment, ok := <-ch:
			if !ok {
				return
			}
			s.HandleIncoming(comment)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
		}
	}
}

// replaceByClientID はClientIDが一致するコメントを置き換える。
// ロック保持中に呼ぶこと。
func (s *Service) replaceByClientID(postID, clientID string, confirmed model.Comment) {
	thread := s.comments[postID]
	for i, c := range thread {
		if c.ClientID == clientID {
			confirmed.Pending = false
			thread[i] = confirmed
			return
		}
	}
	// エコーが見つからない場合（プッシュ側で先に確定済み等）は追加しない
}

// removeByClientID はClientIDが一致するコメントを取り除く。
// ロック保持中に呼ぶこと。
func (s *Service) removeByClientID(postID, clientID string) {
	thread := s.comments[postID]
	for i, c := range thread {
		if c.ClientID == clientID {
			s.comments[postID] = append(thread[:i], thread[i+1:]...)
			return
		}
	}
}
