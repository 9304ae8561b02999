// Package api はプラットフォームREST APIのゲートウェイクライアントを提供する。
// Bearer認証の付与、レスポンススキーマの境界検証、エラー分類、
// クライアント側レート制限を一手に担う。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kifuman/internal/metrics"
	"github.com/hitoshi/kifuman/internal/model"
)

// UnauthorizedHook はAPIが401を返した際に呼び出されるフック。
// セッションプロバイダの失効経路に合流させる。
type UnauthorizedHook func()

// Config はClientの設定。
type Config struct {
	// BaseURL はAPIのベースURL（末尾スラッシュなし）。
	BaseURL string
	// RatePerMinute はクライアント側レート制限（req/min）。0以下で既定値120。
	RatePerMinute int
	// RateBurst はバーストサイズ。0以下で既定値30。
	RateBurst int
}

// Client はプラットフォームAPIのHTTPクライアント。
// 認証トークンは保持せず、呼び出しごとに明示的に受け取る
// （ワークフローコンポーネントを単体でテスト可能に保つため）。
type Client struct {
	httpClient     *http.Client
	baseURL        string
	limiter        *rate.Limiter
	recorder       metrics.Recorder
	logger         *slog.Logger
	onUnauthorized UnauthorizedHook
}

// NewClient はClientの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, cfg Config, recorder metrics.Recorder, logger *slog.Logger) *Client {
	perMin := cfg.RatePerMinute
	if perMin <= 0 {
		perMin = 120
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst),
		recorder:   recorder,
		logger:     logger,
	}
}

// OnUnauthorized は401検知時のフックを登録する。
func (c *Client) OnUnauthorized(hook UnauthorizedHook) {
	c.onUnauthorized = hook
}

// errorBody はサーバーのエラーレスポンスボディ。
type errorBody struct {
	Message string `json:"message"`
}

// do はHTTPリクエストを実行し、レスポンスをoutへデコードする。
// tokenが空でない場合のみAuthorizationヘッダを付与する。
// 返却エラーはすべて*model.APIErrorに分類される。
func (c *Client) do(ctx context.Context, method, path string, body any, token string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewTransportError(err.Error())
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return model.NewTransportError(fmt.Sprintf("リクエストのエンコードに失敗: %v", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return model.NewTransportError(err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Kifuman-Go/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordAPITransportError(method, path)
		c.logger.Error("APIリクエストの送信に失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewTransportError(err.Error())
	}
	defer resp.Body.Close()

	c.recorder.RecordAPIRequest(method, path, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recorder.RecordAPITransportError(method, path)
		return model.NewTransportError(fmt.Sprintf("レスポンスボディの読み取りに失敗: %v", err))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Info("APIが401を返したためセッション失効として扱います",
			slog.String("path", path),
		)
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return model.NewUnauthorizedError()
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		c.logger.Warn("APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewServerError(resp.StatusCode, eb.Message)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return model.NewMalformedResponseError(err.Error())
		}
	}

	return nil
}
