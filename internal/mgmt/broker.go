// Package mgmt はIdPの管理APIを呼び出すためのクライアントを提供する。
// サービス用アクセストークンの取得（client credentials）と
// ユーザープロファイルの取得・更新を含む。
package mgmt

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/pizza42/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// 上流呼び出しの結果種別。メトリクスのラベルに使用する。
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// UpstreamRecorder は上流呼び出しの結果とレイテンシの記録先。
// metrics.Collectorが実装する。
type UpstreamRecorder interface {
	RecordUpstreamCall(op, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(string, string, time.Duration) {}

// ServiceToken は管理API呼び出し用のアクセストークン。
// 呼び出しごとに取得し、永続化やログ出力は行わない。
type ServiceToken struct {
	Value  string
	Expiry time.Time
}

// LogValue はトークン値をログに出さないためのslog.LogValuer実装。
func (t ServiceToken) LogValue() slog.Value {
	return slog.GroupValue(slog.Time("expiry", t.Expiry))
}

// BrokerConfig はBrokerの設定。
type BrokerConfig struct {
	TokenURL     string // https://{domain}/oauth/token
	ClientID     string
	ClientSecret string
	Audience     string // https://{domain}/api/v2/
	HTTPClient   *http.Client
	// Cache が有効な場合、期限内のトークンを再利用する。
	Cache    bool
	Logger   *slog.Logger
	Recorder UpstreamRecorder
}

// Broker はclient credentialsグラントでサービス用アクセストークンを取得する。
type Broker struct {
	config     *clientcredentials.Config
	httpClient *http.Client
	cached     oauth2.TokenSource
	logger     *slog.Logger
	recorder   UpstreamRecorder
}

// NewBroker はBrokerを生成する。
// client_id、client_secret、audienceはリクエストボディで送信する。
func NewBroker(cfg BrokerConfig) *Broker {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder UpstreamRecorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	b := &Broker{
		config: &clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			EndpointParams: map[string][]string{"audience": {cfg.Audience}},
			AuthStyle:      oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
	}

	if cfg.Cache {
		// キャッシュ利用時のトークン取得はリクエストのコンテキストから切り離す
		base := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		b.cached = oauth2.ReuseTokenSource(nil, b.config.TokenSource(base))
	}

	return b
}

// Token はサービス用アクセストークンを取得する。
// キャッシュ無効時は呼び出しごとにトークンエンドポイントへ1回だけリクエストする（リトライなし）。
// 失敗時は*model.UpstreamError（Op: token）を返し、シークレットや上流のボディは含めない。
func (b *Broker) Token(ctx context.Context) (*ServiceToken, error) {
	start := time.Now()

	var (
		tok *oauth2.Token
		err error
	)
	if b.cached != nil {
		tok, err = b.cached.Token()
	} else {
		tok, err = b.config.Token(context.WithValue(ctx, oauth2.HTTPClient, b.httpClient))
	}

	if err != nil {
		upErr := tokenError(err)
		b.recorder.RecordUpstreamCall("token", outcomeFor(upErr), time.Since(start))
		b.logger.Error("service token request failed",
			slog.Int("http_status", upErr.Status),
			slog.Bool("timeout", upErr.Timeout),
		)
		return nil, upErr
	}

	b.recorder.RecordUpstreamCall("token", OutcomeSuccess, time.Since(start))
	return &ServiceToken{Value: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// tokenError はoauth2のエラーをUpstreamErrorに変換する。
// RetrieveErrorは上流のボディを含むため、ステータスのみ残す。
func tokenError(err error) *model.UpstreamError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &model.UpstreamError{Op: "token", Status: status}
	}
	if isTimeout(err) {
		return &model.UpstreamError{Op: "token", Timeout: true, Err: err}
	}
	return &model.UpstreamError{Op: "token", Err: err}
}

// isTimeout はタイムアウト（クライアントのTimeoutまたはコンテキストの期限切れ）かどうかを返す。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcomeFor(err *model.UpstreamError) string {
	if err.Timeout {
		return OutcomeTimeout
	}
	return OutcomeError
}
