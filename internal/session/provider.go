package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/kifuman/internal/model"
)

// ExpiryHook はセッション失効時に呼び出されるフック。
// CLIではログイン画面への誘導メッセージ表示に使用する。
type ExpiryHook func()

// Provider は現在の認証セッションを保持・管理する。
// アプリ起動時に1回だけ生成し、必要なコンポーネントへ明示的に渡す。
// グローバル変数として参照してはならない。
type Provider struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	current *model.Session

	hookMu    sync.Mutex
	hook      ExpiryHook
	hookFired bool
}

// NewProvider はProviderを生成し、ストアから保存済みセッションを復元する。
// 復元したセッションが既に無効な場合は破棄した状態で開始する。
func NewProvider(store Store, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		store:  store,
		logger: logger,
	}

	s, err := store.Get()
	if err != nil {
		// 壊れたセッションファイルは致命的エラーにせず、未ログイン状態で開始する。
		logger.Warn("保存済みセッションの復元に失敗したため破棄します",
			slog.String("error", err.Error()),
		)
		_ = store.Remove()
		return p, nil
	}

	if s != nil {
		if IsValid(s.Token) {
			p.current = s
		} else {
			logger.Info("保存済みセッションは期限切れのため破棄します")
			_ = store.Remove()
		}
	}

	return p, nil
}

// Current は現在のセッションを返す。未ログインの場合はnil。
func (p *Provider) Current() *model.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Token は現在のセッションのトークンを返す。未ログインの場合は空文字列。
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return ""
	}
	return p.current.Token
}

// Login はセッションを置き換え、ストアへ永続化する。
func (p *Provider) Login(s *model.Session) error {
	if s == nil || s.Token == "" {
		return fmt.Errorf("セッションにトークンが含まれていません")
	}

	if err := p.store.Set(s); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.hookMu.Lock()
	p.hookFired = false
	p.hookMu.Unlock()

	p.logger.Info("ログインしました", slog.String("user_id", s.UserID))
	return nil
}

// Logout はメモリとストアの両方からセッションを破棄する。冪等。
func (p *Provider) Logout() error {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if err := p.store.Remove(); err != nil {
		return err
	}

	if had {
		p.logger.Info("ログアウトしました")
	}
	return nil
}

// OnExpiry はセッション失効時のフックを登録する。
// フックは1セッションにつき1回だけ呼ばれる（定期チェックと401検知が
// 競合しても二重に発火しない）。
func (p *Provider) OnExpiry(hook ExpiryHook) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.hook = hook
}

// NotifyUnauthorized はAPI呼び出しが401を返した際に呼び出す。
// 定期チェックによる失効検知と同じログアウト経路に合流する。
func (p *Provider) NotifyUnauthorized() {
	p.expire()
}

// Watch は一定間隔でセッションの有効性を再検証するバックグラウンドループ。
// 無効を検知した場合は強制ログアウトし、登録済みフックを発火する。
// コンテキストがキャンセルされるまで実行を継続する。ゴルーチンで起動すること。
func (p *Provider) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			s := p.current
			p.mu.RUnlock()

			if s == nil {
				continue
			}
			if !IsValid(s.Token) {
				p.logger.Info("セッションの期限切れを検知しました",
					slog.String("user_id", s.UserID),
				)
				p.expire()
			}
		}
	}
}

// expire は失効時の共通処理。ログアウトしてフックを1回だけ発火する。
func (p *Provider) expire() {
	if err := p.Logout(); err != nil {
		p.logger.Error("失効セッションの破棄に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	p.hookMu.Lock()
	hook := p.hook
	fired := p.hookFired
	p.hookFired = true
	p.hookMu.Unlock()

	if hook != nil && !fired {
		hook()
	}
}

// IsValid はトークンのexpクレームを検証期限として有効性を判定する。
// クライアントは署名鍵を持たないため署名検証は行わない（検証はサーバーの責務）。
// デコード失敗・expクレーム欠落・期限超過はすべてfalseを返す。
// いかなる入力に対してもpanicやエラーを外へ漏らさない（フェイルクローズド）。
func IsValid(token string) bool {
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return exp.After(time.Now())
}
