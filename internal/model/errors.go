package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: auth, validation, transport, operation, system
	Action     string // ユーザー向け対処方法
	HTTPStatus int    // サーバーが返したHTTPステータス（ローカルエラーは0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeServerError       = "SERVER_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeOperationFailed   = "OPERATION_FAILED"
	ErrCodeOperationTimeout  = "OPERATION_TIMEOUT"
	ErrCodeMutationInFlight  = "MUTATION_IN_FLIGHT"
	ErrCodeSubmitInFlight    = "SUBMIT_IN_FLIGHT"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
)

// NewTransportError は通信エラーを生成する。
// サーバーに到達できなかった、または応答を受信できなかった場合に使用する。
func NewTransportError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeTransport,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "transport",
		Action:   "ネットワーク接続を確認し、再度お試しください。",
	}
}

// NewServerError はサーバーが返したエラーを生成する。
// サーバーがmessageを返した場合はそのまま表示する。
func NewServerError(httpStatus int, serverMessage string) *APIError {
	msg := serverMessage
	if msg == "" {
		msg = "サーバーでエラーが発生しました。"
	}
	return &APIError{
		Code:       ErrCodeServerError,
		Message:    msg,
		Category:   "operation",
		Action:     "しばらく待ってから再度お試しください。",
		HTTPStatus: httpStatus,
	}
}

// NewUnauthorizedError は認証エラー（401）を生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:       ErrCodeUnauthorized,
		Message:    "認証に失敗しました。",
		Category:   "auth",
		Action:     "ログインし直してください。",
		HTTPStatus: 401,
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
// ネットワーク呼び出しの前にローカルで検出されたものに限る。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を修正してください。",
	}
}

// NewOperationFailedError は非同期処理のサーバー側失敗を生成する。
// サーバーが返したメッセージをそのまま表示する。
func NewOperationFailedError(serverMessage string) *APIError {
	msg := serverMessage
	if msg == "" {
		msg = "処理に失敗しました。"
	}
	return &APIError{
		Code:     ErrCodeOperationFailed,
		Message:  msg,
		Category: "operation",
		Action:   "内容を確認のうえ、再度お試しください。",
	}
}

// NewOperationTimeoutError は非同期処理のポーリングタイムアウトを生成する。
// サーバー側では後から成功している可能性があるため、失敗とは区別して案内する。
func NewOperationTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeOperationTimeout,
		Message:  "処理の完了を確認できませんでした。",
		Category: "operation",
		Action:   "取引履歴で状態を確認してください。完了していない場合は再度お試しください。",
	}
}

// NewMutationInFlightError は同一エンティティへの多重ミューテーションエラーを生成する。
func NewMutationInFlightError(entityID string) *APIError {
	return &APIError{
		Code:     ErrCodeMutationInFlight,
		Message:  fmt.Sprintf("前回の操作が完了していません: %s", entityID),
		Category: "validation",
		Action:   "前回の操作の完了を待ってから再度お試しください。",
	}
}

// NewSubmitInFlightError はフォームの多重送信エラーを生成する。
func NewSubmitInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeSubmitInFlight,
		Message:  "送信処理が進行中です。",
		Category: "validation",
		Action:   "送信の完了をお待ちください。",
	}
}

// NewMalformedResponseError はサーバーレスポンスの形式不正エラーを生成する。
// APIゲートウェイ境界でのスキーマ検証失敗時に使用する。
func NewMalformedResponseError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedResponse,
		Message:  fmt.Sprintf("サーバーレスポンスの形式が不正です: %s", reason),
		Category: "system",
		Action:   "アプリを最新版に更新してから再度お試しください。",
	}
}
