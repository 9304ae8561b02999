// Package model はドメインモデルを定義する。
package model

import "time"

// Session はログイン中のユーザーの認証状態を表す。
// トークンはプラットフォームが発行するBearerクレデンシャル（中身は不透明として扱う）。
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile はユーザーのプロフィール情報を表す。
type Profile struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	KYCVerified  bool      `json:"kyc_verified"`
	IsAdmin      bool      `json:"is_admin"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Balance はポイントウォレットの残高を表す。
// 金額は最小通貨単位の整数で保持する（浮動小数点の丸め誤差を避ける）。
type Balance struct {
	Points    int64     `json:"points"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperationKind はサーバー側で追跡される非同期処理の種別。
type OperationKind string

const (
	// OperationDeposit はモバイルマネー入金（STKプッシュ）。
	OperationDeposit OperationKind = "deposit"
	// OperationWithdrawal は出金。
	OperationWithdrawal OperationKind = "withdrawal"
	// OperationConversion はポイントの通貨変換。
	OperationConversion OperationKind = "conversion"
	// OperationTrade はトレード開始。
	OperationTrade OperationKind = "trade"
)

// OperationStatus はOperationの状態。
// サーバーレスポンスまたはタイムアウトによってのみ変化する。
type OperationStatus string

const (
	// StatusPending は処理中。
	StatusPending OperationStatus = "pending"
	// StatusSuccess は完了。
	StatusSuccess OperationStatus = "success"
	// StatusFailed は失敗。
	StatusFailed OperationStatus = "failed"
)

// Operation はサーバー側で追跡される非同期処理の単位を表す。
// IDはサーバーが発行する相関キー（例: checkout request ID）。
type Operation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	Status    OperationStatus `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Post はインパクト投稿を表す。
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	LikeCount int64     `json:"like_count"`
	Liked     bool      `json:"liked"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment は投稿へのコメントを表す。
// ClientIDはクライアントが採番する相関キーで、ローカルエコーと
// サーバー確定値・プッシュ受信の重複排除に使用する。
type Comment struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeState は投稿のいいね状態のローカル表現。
// 楽観的ミューテーションのスナップショット対象となる。
type LikeState struct {
	PostID string
	Liked  bool
	Count  int64
}
