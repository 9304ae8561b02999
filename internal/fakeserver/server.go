// Package fakeserver はプラットフォームAPIのインプロセスフェイク実装を提供する。
// 統合テストとfake-serverサブコマンド（オフラインデモ）で使用する。
// 実サーバーの挙動のうち、クライアントワークフローの検証に必要な範囲のみを再現する:
// ログインとトークン発行、入金等の非同期処理のステータス進行、いいねの
// サーバー確定カウント、コメントのサーバー採番。
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config はフェイクサーバーの挙動の設定。
type Config struct {
	// SucceedAfterPolls は非同期処理が成功を返すまでのステータス照会回数。
	// 0以下の場合は3。
	SucceedAfterPolls int
	// TokenTTL は発行するトークンの有効期間。0以下の場合は1時間。
	TokenTTL time.Duration
	// LikeDrift が真の場合、いいねのたびに他ユーザーの同時いいねを1件混ぜる
	// （サーバー確定値がローカル予測と必ずずれる）。収束テスト用。
	LikeDrift bool
}

// operation はフェイクサーバー内の非同期処理の状態。
type operation struct {
	kind      string
	polls     int
	failWith  string // 非空の場合、閾値到達時にfailedを返す
	neverDone bool   // 真の場合、常にpendingを返す（タイムアウトテスト用）
}

// post はフェイクサーバー内の投稿状態。
type post struct {
	id        string
	title     string
	body      string
	likeCount int64
	likedBy   map[string]bool
}

// Server はプラットフォームAPIのフェイク実装。
type Server struct {
	config Config
	secret []byte

	mu         sync.Mutex
	operations map[string]*operation
	posts      map[string]*post
	postOrder  []string
	comments   map[string][]map[string]any
	balance    int64
}

// New はフェイクサーバーを生成し、初期データを投入する。
func New(config Config) *Server {
	if config.SucceedAfterPolls <= 0 {
		config.SucceedAfterPolls = 3
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}

	s := &Server{
		config:     config,
		secret:     []byte("fake-server-secret"),
		operations: make(map[string]*operation),
		posts:      make(map[string]*post),
		comments:   make(map[string][]map[string]any),
		balance:    1000,
	}

	s.seedPost("post-1", "井戸の建設が完了しました", "<p>皆さまの寄付のおかげで村に井戸が完成しました。</p>", 10)
	s.seedPost("post-2", "学用品を200名に配布", "<p>新学期に向けて学用品を配布しました。</p>", 4)

	return s
}

func (s *Server) seedPost(id, title, body string, likes int64) {
	s.posts[id] = &post{
		id:        id,
		title:     title,
		body:      body,
		likeCount: likes,
		likedBy:   make(map[string]bool),
	}
	s.postOrder = append(s.postOrder, id)
}

// Handler は全エンドポイントのルーティングを構成したchi.Routerを返す。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/users/me", s.handleProfile)
		r.Get("/wallet/balance", s.handleBalance)

		r.Post("/wallet/deposits", s.initiateHandler("deposit"))
		r.Get("/wallet/deposits/{id}/status", s.handleStatus)
		r.Post("/wallet/withdrawals", s.initiateHandler("withdrawal"))
		r.Get("/wallet/withdrawals/{id}/status", s.handleStatus)
		r.Post("/wallet/conversions", s.initiateHandler("conversion"))
		r.Get("/wallet/conversions/{id}/status", s.handleStatus)

		r.Post("/trades", s.handleStartTrade)
		r.Get("/trades/{id}/status", s.handleStatus)

		r.Get("/posts", s.handleListPosts)
		r.Post("/posts/{id}/like", s.handleToggleLike)
		r.Post("/posts/{id}/comments", s.handleCreateComment)

		r.Post("/kyc", s.handleSubmitKYC)
	})

	return r
}

// handleLogin は任意の認証情報を受け付け、HS256署名付きトークンを発行する。
// POST /auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "emailとpasswordは必須です")
		return
	}

	userID := "user-" + strings.SplitN(req.Email, "@", 2)[0]
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.config.TokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "トークンの発行に失敗しました")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": userID,
		"email":   req.Email,
		"name":    "デモユーザー",
	})
}

// authMiddleware はAuthorizationヘッダのBearerトークンを検証する。
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "認証が必要です")
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "トークンが無効です")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleProfile はデモユーザーのプロフィールを返す。
// GET /users/me
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       "user-demo",
		"email":         "demo@kifuman.example.com",
		"name":          "デモユーザー",
		"phone":         "254712345678",
		"kyc_verified":  true,
		"is_admin":      false,
		"registered_at": time.Now().Add(-90 * 24 * time.Hour).Format(time.RFC3339),
	})
}

// handleBalance は現在の残高を返す。
// GET /wallet/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"points":     balance,
		"currency":   "KES",
		"updated_at": time.Now().Format(time.RFC3339),
	})
}

// initiateHandler は非同期処理の開始ハンドラを返す。
// 金額が負の場合は422を返す（サーバーメッセージ表示の検証用）。
func (s *Server) initiateHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount         int64  `json:"amount"`
			IdempotencyKey string `json:"idempotency_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "リクエストボディが不正です")
			return
		}
		if req.IdempotencyKey == "" {
			writeError(w, http.StatusUnprocessableEntity, "idempotency_keyは必須です")
			return
		}
		if req.Amount <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "金額は正の値で指定してください")
			return
		}

		id := kind + "-" + uuid.New().String()
		s.mu.Lock()
		s.operations[id] = &operation{kind: kind}
		s.mu.Unlock()

		writeJSON(w, http.StatusAccepted, map[string]any{"operation_id": id})
	}
}

// handleStartTrade はトレードを開始する。
// POST /trades
func (s *Server) handleStartTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostID string `json:"post_id"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PostID == "" {
		writeError(w, http.StatusBadRequest, "post_idは必須です")
		return
	}

	id := "trade-" + uuid.New().String()
	s.mu.Lock()
	s.operations[id] = &operation{kind: "trade"}
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"operation_id": id,
		"redirect_url": "https://kifuman.example.com/trades/" + id,
	})
}

// handleStatus は非同期処理のステータスを返す。
// 照会回数がSucceedAfterPollsに達するまでpending、到達後はsuccessを返す。
// 成功時は残高へ反映する（入金のみ加算のデモ動作）。
// GET /.../{id}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[id]
	if !ok {
		writeError(w, http.StatusNotFound, "指定された処理が見つかりません")
		return
	}

	if op.neverDone {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "message": ""})
		return
	}

	op.polls++
	if op.polls < s.config.SucceedAfterPolls {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "message": ""})
		return
	}

	if op.failWith != "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "message": op.failWith})
		return
	}

	if op.kind == "deposit" && op.polls == s.config.SucceedAfterPolls {
		s.balance += 500
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": ""})
}

// handleListPosts は投稿一覧を返す。
// GET /posts
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := make([]map[string]any, 0, len(s.postOrder))
	for _, id := range s.postOrder {
		p := s.posts[id]
		posts = append(posts, map[string]any{
			"id":         p.id,
			"author_id":  "org-1",
			"title":      p.title,
			"body":       p.body,
			"like_count": p.likeCount,
			"liked":      p.likedBy["user-demo"],
			"created_at": time.Now().Add(-24 * time.Hour).Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// handleToggleLike はいいね状態をトグルし、サーバー確定値を返す。
// LikeDriftが有効な場合は他ユーザーの同時いいねを1件混ぜる。
// POST /posts/{id}/like
func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "指定された投稿が見つかりません")
		return
	}

	liked := !p.likedBy["user-demo"]
	p.likedBy["user-demo"] = liked
	if liked {
		p.likeCount++
	} else {
		p.likeCount--
	}
	if s.config.LikeDrift {
		p.likeCount++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"liked":      liked,
		"like_count": p.likeCount,
	})
}

// handleCreateComment はコメントを受理し、サーバー採番したコメントを返す。
// POST /posts/{id}/comments
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	var req struct {
		ClientID string `json:"client_id"`
		Body     string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "コメント本文は必須です")
		return
	}

	comment := map[string]any{
		"id":         "comment-" + uuid.New().String(),
		"client_id":  req.ClientID,
		"post_id":    postID,
		"author_id":  "user-demo",
		"body":       req.Body,
		"created_at": time.Now().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.comments[postID] = append(s.comments[postID], comment)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, comment)
}

// handleSubmitKYC は本人確認申請を受理する。
// POST /kyc
func (s *Server) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName       string `json:"full_name"`
		DocumentNumber string `json:"document_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FullName == "" || req.DocumentNumber == "" {
		writeError(w, http.StatusUnprocessableEntity, "full_nameとdocument_numberは必須です")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FailOperation は指定処理を閾値到達時にfailedで終わらせる（テスト用フック）。
func (s *Server) FailOperation(operationID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.operations[operationID]; ok {
		op.failWith = message
	}
}

// StallOperation は指定処理を常にpendingのままにする（タイムアウトテスト用フック）。
func (s *Server) StallOperation(operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.operations[operationID]; ok {
		op.neverDone = true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
