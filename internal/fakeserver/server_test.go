package fakeserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kifuman/internal/api"
	"github.com/hitoshi/kifuman/internal/model"
)

// newTestClient はフェイクサーバーに接続する本物のAPIクライアントを組み立てる。
func newTestClient(t *testing.T, s *Server) (*api.Client, func()) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	client := api.NewClient(
		&http.Client{Timeout: 5 * time.Second},
		api.Config{BaseURL: ts.URL},
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return client, ts.Close
}

func login(t *testing.T, client *api.Client) string {
	t.Helper()
	resp, err := client.Login(context.Background(), api.LoginRequest{
		Email:    "demo@kifuman.example.com",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("ログインに失敗: %v", err)
	}
	return resp.Token
}

func TestLogin_IssuesValidToken(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()

	resp, err := client.Login(context.Background(), api.LoginRequest{
		Email:    "taro@example.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("ログインに失敗: %v", err)
	}
	if resp.Token == "" {
		t.Error("トークンが発行されるべき")
	}
	if resp.UserID != "user-taro" {
		t.Errorf("user_id = %q, want user-taro", resp.UserID)
	}
}

func TestProtectedEndpoint_RejectsMissingToken(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()

	_, err := client.Balance(context.Background(), "")
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("APIErrorを期待, got %T", err)
	}
	if apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeUnauthorized)
	}
}

func TestProtectedEndpoint_RejectsForgedToken(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()

	_, err := client.Balance(context.Background(), "forged.token.value")
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("APIErrorを期待, got %T", err)
	}
	if apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeUnauthorized)
	}
}

func TestDeposit_StatusProgression(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{SucceedAfterPolls: 3}))
	defer closeFn()
	token := login(t, client)

	accepted, err := client.InitiateDeposit(context.Background(), token, api.DepositRequest{
		Phone:          "254712345678",
		Amount:         100,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("入金開始に失敗: %v", err)
	}

	// 閾値未満はpending
	for i := 0; i < 2; i++ {
		status, err := client.FetchOperationStatus(context.Background(), token, model.OperationDeposit, accepted.OperationID)
		if err != nil {
			t.Fatalf("ステータス取得に失敗: %v", err)
		}
		if status.Status != model.StatusPending {
			t.Fatalf("%d回目はpendingであるべき, got %q", i+1, status.Status)
		}
	}

	// 閾値到達でsuccess
	status, err := client.FetchOperationStatus(context.Background(), token, model.OperationDeposit, accepted.OperationID)
	if err != nil {
		t.Fatalf("ステータス取得に失敗: %v", err)
	}
	if status.Status != model.StatusSuccess {
		t.Errorf("3回目はsuccessであるべき, got %q", status.Status)
	}
}

func TestDeposit_SuccessUpdatesBalance(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{SucceedAfterPolls: 1}))
	defer closeFn()
	token := login(t, client)

	before, err := client.Balance(context.Background(), token)
	if err != nil {
		t.Fatalf("残高取得に失敗: %v", err)
	}

	accepted, err := client.InitiateDeposit(context.Background(), token, api.DepositRequest{
		Phone:          "254712345678",
		Amount:         100,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("入金開始に失敗: %v", err)
	}
	if _, err := client.FetchOperationStatus(context.Background(), token, model.OperationDeposit, accepted.OperationID); err != nil {
		t.Fatalf("ステータス取得に失敗: %v", err)
	}

	after, err := client.Balance(context.Background(), token)
	if err != nil {
		t.Fatalf("残高取得に失敗: %v", err)
	}
	if after.Points <= before.Points {
		t.Errorf("入金成功後は残高が増えるべき: before=%d after=%d", before.Points, after.Points)
	}
}

func TestInitiate_RejectsNonPositiveAmount(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	_, err := client.Withdraw(context.Background(), token, api.WithdrawRequest{
		Phone:          "254712345678",
		Amount:         -5,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("APIErrorを期待, got %T", err)
	}
	if apiErr.Message != "金額は正の値で指定してください" {
		t.Errorf("サーバーメッセージがそのまま返るべき, got %q", apiErr.Message)
	}
}

func TestFailOperation_ReturnsFailedWithMessage(t *testing.T) {
	srv := New(Config{SucceedAfterPolls: 1})
	client, closeFn := newTestClient(t, srv)
	defer closeFn()
	token := login(t, client)

	accepted, err := client.Withdraw(context.Background(), token, api.WithdrawRequest{
		Phone:          "254712345678",
		Amount:         100,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("出金開始に失敗: %v", err)
	}
	srv.FailOperation(accepted.OperationID, "残高が不足しています")

	status, err := client.FetchOperationStatus(context.Background(), token, model.OperationWithdrawal, accepted.OperationID)
	if err != nil {
		t.Fatalf("ステータス取得に失敗: %v", err)
	}
	if status.Status != model.StatusFailed {
		t.Fatalf("failedであるべき, got %q", status.Status)
	}
	if status.Message != "残高が不足しています" {
		t.Errorf("失敗メッセージがそのまま返るべき, got %q", status.Message)
	}
}

func TestStallOperation_AlwaysPending(t *testing.T) {
	srv := New(Config{SucceedAfterPolls: 1})
	client, closeFn := newTestClient(t, srv)
	defer closeFn()
	token := login(t, client)

	accepted, err := client.InitiateDeposit(context.Background(), token, api.DepositRequest{
		Phone:          "254712345678",
		Amount:         100,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("入金開始に失敗: %v", err)
	}
	srv.StallOperation(accepted.OperationID)

	for i := 0; i < 5; i++ {
		status, err := client.FetchOperationStatus(context.Background(), token, model.OperationDeposit, accepted.OperationID)
		if err != nil {
			t.Fatalf("ステータス取得に失敗: %v", err)
		}
		if status.Status != model.StatusPending {
			t.Fatalf("停滞中の処理は常にpendingであるべき, got %q", status.Status)
		}
	}
}

func TestStartTrade_ReturnsRedirectURL(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	started, err := client.StartTrade(context.Background(), token, api.TradeRequest{
		PostID:         "post-1",
		Amount:         500,
		Currency:       "KES",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("トレード開始に失敗: %v", err)
	}
	if started.RedirectURL == "" {
		t.Error("redirect_urlが返るべき")
	}
}

func TestToggleLike_FlipsAndReturnsServerCount(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	first, err := client.ToggleLike(context.Background(), token, "post-1")
	if err != nil {
		t.Fatalf("いいねに失敗: %v", err)
	}
	if !first.Liked || first.LikeCount != 11 {
		t.Errorf("1回目: liked=%v count=%d, want true/11", first.Liked, first.LikeCount)
	}

	second, err := client.ToggleLike(context.Background(), token, "post-1")
	if err != nil {
		t.Fatalf("いいね解除に失敗: %v", err)
	}
	if second.Liked || second.LikeCount != 10 {
		t.Errorf("2回目: liked=%v count=%d, want false/10", second.Liked, second.LikeCount)
	}
}

func TestToggleLike_DriftDivergesFromLocalPrediction(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{LikeDrift: true}))
	defer closeFn()
	token := login(t, client)

	// ローカル予測は10+1=11だが、他ユーザーの同時いいねで12になる
	result, err := client.ToggleLike(context.Background(), token, "post-1")
	if err != nil {
		t.Fatalf("いいねに失敗: %v", err)
	}
	if result.LikeCount != 12 {
		t.Errorf("ドリフト有効時はサーバー値が予測とずれるべき, got %d", result.LikeCount)
	}
}

func TestCreateComment_EchoesClientID(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	comment, err := client.CreateComment(context.Background(), token, "post-1", api.CommentRequest{
		ClientID: "client-123",
		Body:     "素晴らしい活動ですね",
	})
	if err != nil {
		t.Fatalf("コメント投稿に失敗: %v", err)
	}
	if comment.ID == "" {
		t.Error("サーバー採番のIDが返るべき")
	}
	if comment.ClientID != "client-123" {
		t.Errorf("client_idがエコーバックされるべき, got %q", comment.ClientID)
	}
}

func TestListPosts_ReturnsSeedData(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	posts, err := client.ListPosts(context.Background(), token)
	if err != nil {
		t.Fatalf("投稿一覧の取得に失敗: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("初期投稿は2件のはず, got %d", len(posts))
	}
	if posts[0].ID != "post-1" {
		t.Errorf("先頭はpost-1のはず, got %q", posts[0].ID)
	}
}

func TestSubmitKYC_AcceptsValidRequest(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	err := client.SubmitKYC(context.Background(), token, api.KYCRequest{
		FullName:       "山田太郎",
		DocumentNumber: "A1234567",
	})
	if err != nil {
		t.Errorf("本人確認申請は受理されるべき: %v", err)
	}
}

func TestSubmitKYC_RejectsMissingFields(t *testing.T) {
	client, closeFn := newTestClient(t, New(Config{}))
	defer closeFn()
	token := login(t, client)

	err := client.SubmitKYC(context.Background(), token, api.KYCRequest{FullName: "山田太郎"})
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("APIErrorを期待, got %T", err)
	}
	if apiErr.Message != "full_nameとdocument_numberは必須です" {
		t.Errorf("サーバーメッセージがそのまま返るべき, got %q", apiErr.Message)
	}
}
