package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/kifuman/internal/model"
)

// LoginRequest はログインリクエスト。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse はログインレスポンス。
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Login は認証を行いセッション情報を返す。
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, "", &resp); err != nil {
		return nil, err
	}
	// 境界でのスキーマ検証: 下流がフィールドの有無を推測しないようにする
	if resp.Token == "" || resp.UserID == "" {
		return nil, model.NewMalformedResponseError("tokenまたはuser_idが欠落しています")
	}
	return &resp, nil
}

// Profile は現在のユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context, token string) (*model.Profile, error) {
	var resp model.Profile
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, &resp); err != nil {
		return nil, err
	}
	if resp.UserID == "" {
		return nil, model.NewMalformedResponseError("user_idが欠落しています")
	}
	return &resp, nil
}

// Balance はウォレット残高を取得する。
func (c *Client) Balance(ctx context.Context, token string) (*model.Balance, error) {
	var resp model.Balance
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, token, &resp); err != nil {
		return nil, err
	}
	if resp.Currency == "" {
		return nil, model.NewMalformedResponseError("currencyが欠落しています")
	}
	return &resp, nil
}

// DepositRequest はモバイルマネー入金（STKプッシュ）開始リクエスト。
// IdempotencyKeyはクライアントが採番し、二重入金を防ぐ。
type DepositRequest struct {
	Phone          string `json:"phone"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// OperationAccepted は非同期処理の受理レスポンス。
// OperationIDはステータスポーリングの相関キー（例: checkout request ID）。
type OperationAccepted struct {
	OperationID string `json:"operation_id"`
}

// InitiateDeposit は入金を開始し、ポーリング用の相関キーを返す。
func (c *Client) InitiateDeposit(ctx context.Context, token string, req DepositRequest) (*OperationAccepted, error) {
	return c.initiateOperation(ctx, token, "/wallet/deposits", req)
}

// WithdrawRequest は出金リクエスト。
type WithdrawRequest struct {
	Phone          string `json:"phone"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Withdraw は出金を開始し、ポーリング用の相関キーを返す。
func (c *Client) Withdraw(ctx context.Context, token string, req WithdrawRequest) (*OperationAccepted, error) {
	return c.initiateOperation(ctx, token, "/wallet/withdrawals", req)
}

// ConvertRequest はポイントの通貨変換リクエスト。
type ConvertRequest struct {
	Amount         int64  `json:"amount"`
	FromCurrency   string `json:"from_currency"`
	ToCurrency     string `json:"to_currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Convert は通貨変換を開始し、ポーリング用の相関キーを返す。
// 変換後の金額はサーバー確定値であり、ローカルでは計算しない。
func (c *Client) Convert(ctx context.Context, token string, req ConvertRequest) (*OperationAccepted, error) {
	return c.initiateOperation(ctx, token, "/wallet/conversions", req)
}

// TradeRequest はトレード開始リクエスト。
type TradeRequest struct {
	PostID         string `json:"post_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// TradeStarted はトレード開始レスポンス。
// RedirectURLはトレード画面への遷移先。
type TradeStarted struct {
	OperationID string `json:"operation_id"`
	RedirectURL string `json:"redirect_url"`
}

// StartTrade はトレードを開始し、遷移先URLと相関キーを返す。
func (c *Client) StartTrade(ctx context.Context, token string, req TradeRequest) (*TradeStarted, error) {
	var resp TradeStarted
	if err := c.do(ctx, http.MethodPost, "/trades", req, token, &resp); err != nil {
		return nil, err
	}
	if resp.OperationID == "" || resp.RedirectURL == "" {
		return nil, model.NewMalformedResponseError("operation_idまたはredirect_urlが欠落しています")
	}
	return &resp, nil
}

// OperationStatus は非同期処理のステータスレスポンス。
type OperationStatus struct {
	Status  model.OperationStatus `json:"status"`
	Message string                `json:"message"`
}

// FetchOperationStatus は非同期処理の現在ステータスを取得する。
// ステータス値は境界でenum検証し、未知の値はスキーマ不正として扱う。
func (c *Client) FetchOperationStatus(ctx context.Context, token string, kind model.OperationKind, operationID string) (*OperationStatus, error) {
	path, err := operationStatusPath(kind, operationID)
	if err != nil {
		return nil, err
	}

	var resp OperationStatus
	if err := c.do(ctx, http.MethodGet, path, nil, token, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case model.StatusPending, model.StatusSuccess, model.StatusFailed:
		return &resp, nil
	default:
		return nil, model.NewMalformedResponseError(fmt.Sprintf("未知のステータス値: %q", resp.Status))
	}
}

// operationStatusPath は処理種別ごとのステータス取得パスを返す。
func operationStatusPath(kind model.OperationKind, operationID string) (string, error) {
	id := url.PathEscape(operationID)
	switch kind {
	case model.OperationDeposit:
		return "/wallet/deposits/" + id + "/status", nil
	case model.OperationWithdrawal:
		return "/wallet/withdrawals/" + id + "/status", nil
	case model.OperationConversion:
		return "/wallet/conversions/" + id + "/status", nil
	case model.OperationTrade:
		return "/trades/" + id + "/status", nil
	default:
		return "", model.NewMalformedResponseError(fmt.Sprintf("未知の処理種別: %q", kind))
	}
}

// initiateOperation は非同期処理の開始リクエストを送信する共通処理。
func (c *Client) initiateOperation(ctx context.Context, token, path string, req any) (*OperationAccepted, error) {
	var resp OperationAccepted
	if err := c.do(ctx, http.MethodPost, path, req, token, &resp); err != nil {
		return nil, err
	}
	if resp.OperationID == "" {
		return nil, model.NewMalformedResponseError("operation_idが欠落しています")
	}
	return &resp, nil
}

// LikeResult はいいねトグルのレスポンス。
// LikeCountはサーバー確定値（他ユーザーの同時操作を反映した正とする値）。
type LikeResult struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

// ToggleLike は投稿のいいね状態をトグルし、サーバー確定値を返す。
func (c *Client) ToggleLike(ctx context.Context, token, postID string) (*LikeResult, error) {
	var resp LikeResult
	path := "/posts/" + url.PathEscape(postID) + "/like"
	if err := c.do(ctx, http.MethodPost, path, nil, token, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CommentRequest はコメント投稿リクエスト。
// ClientIDはローカルエコーとの重複排除用にクライアントが採番する。
type CommentRequest struct {
	ClientID string `json:"client_id"`
	Body     string `json:"body"`
}

// CreateComment はコメントを投稿し、サーバー確定のコメントを返す。
func (c *Client) CreateComment(ctx context.Context, token, postID string, req CommentRequest) (*model.Comment, error) {
	var resp model.Comment
	path := "/posts/" + url.PathEscape(postID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, req, token, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, model.NewMalformedResponseError("コメントIDが欠落しています")
	}
	return &resp, nil
}

// postsResponse は投稿一覧レスポンス。
type postsResponse struct {
	Posts []model.Post `json:"posts"`
}

// ListPosts はインパクト投稿の一覧を取得する。
func (c *Client) ListPosts(ctx context.Context, token string) ([]model.Post, error) {
	var resp postsResponse
	if err := c.do(ctx, http.MethodGet, "/posts", nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

// KYCRequest は本人確認申請リクエスト。
type KYCRequest struct {
	FullName       string `json:"full_name"`
	DocumentNumber string `json:"document_number"`
	Description    string `json:"description"`
}

// SubmitKYC は本人確認申請を送信する。
func (c *Client) SubmitKYC(ctx context.Context, token string, req KYCRequest) error {
	return c.do(ctx, http.MethodPost, "/kyc", req, token, nil)
}
