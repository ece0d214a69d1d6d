package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// maxJWKSBodySize はJWKSレスポンスとして読み込む最大バイト数。
	maxJWKSBodySize = 1 << 20
	// defaultJWKSRequestsPerMinute はキャッシュミス時の再取得上限（1分あたり）。
	defaultJWKSRequestsPerMinute = 5
	// defaultJWKSMaxAge は取得済み鍵セットを再利用する期間。
	defaultJWKSMaxAge = 10 * time.Hour
)

// FetchRecorder はJWKS取得結果を記録するインターフェース。
type FetchRecorder interface {
	RecordJWKSFetch(outcome string)
}

// KeySetConfig はKeySetの設定。
type KeySetConfig struct {
	JWKSURL           string
	HTTPClient        *http.Client
	RequestsPerMinute int
	MaxAge            time.Duration
	Logger            *slog.Logger
	Recorder          FetchRecorder
}

// KeySet はJWKSから取得した公開鍵をkid単位でキャッシュする。
// 未知のkidや期限切れによる再取得はレート制限され、同時に発生した再取得は1回にまとめる。
type KeySet struct {
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	maxAge   time.Duration
	logger   *slog.Logger
	recorder FetchRecorder
	group    singleflight.Group
	now      func() time.Time

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

// NewKeySet はKeySetを生成する。初回の取得は最初の検証時に遅延実行する。
func NewKeySet(config KeySetConfig) *KeySet {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaultJWKSRequestsPerMinute
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaultJWKSMaxAge
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &KeySet{
		url:      config.JWKSURL,
		client:   config.HTTPClient,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), config.RequestsPerMinute),
		maxAge:   config.MaxAge,
		logger:   config.Logger,
		recorder: config.Recorder,
		now:      time.Now,
	}
}

// Lookup はkidに対応する公開鍵を返す。
// kidが空の場合は鍵セットが1件だけのときに限りその鍵を返す。
// 再取得に失敗しても期限切れの鍵セットに該当鍵があればそれを使う。
func (k *KeySet) Lookup(ctx context.Context, kid string) (any, error) {
	set, fresh := k.cached()
	if set != nil && fresh {
		if key, err := exportKey(set, kid); err == nil {
			return key, nil
		}
	}

	refreshed, err := k.refresh(ctx)
	if err != nil {
		if set != nil {
			if key, lookupErr := exportKey(set, kid); lookupErr == nil {
				k.logger.Warn("using stale JWKS after refresh failure",
					slog.String("kid", kid),
					slog.String("error", err.Error()),
				)
				return key, nil
			}
		}
		return nil, err
	}

	return exportKey(refreshed, kid)
}

// cached は保持している鍵セットとその鮮度を返す。
func (k *KeySet) cached() (jwk.Set, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.set == nil {
		return nil, false
	}
	return k.set, k.now().Sub(k.fetchedAt) < k.maxAge
}

// refresh はレート制限の範囲でJWKSを再取得する。
// 同時に呼ばれた場合は1回の取得結果を共有する。
func (k *KeySet) refresh(ctx context.Context) (jwk.Set, error) {
	v, err, _ := k.group.Do("jwks", func() (any, error) {
		if !k.limiter.Allow() {
			k.record("rate_limited")
			return nil, ErrJWKSRateLimited
		}

		// 待ち合わせている他のリクエストのために、呼び出し元のキャンセルは伝播させない
		set, err := k.fetch(context.WithoutCancel(ctx))
		if err != nil {
			k.record("error")
			k.logger.Error("failed to fetch JWKS",
				slog.String("url", k.url),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %v", ErrFailedToFetchJWKS, err)
		}

		k.mu.Lock()
		k.set = set
		k.fetchedAt = k.now()
		k.mu.Unlock()

		k.record("success")
		k.logger.Debug("JWKS refreshed",
			slog.String("url", k.url),
			slog.Int("keys", set.Len()),
		)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// fetch はJWKSエンドポイントから鍵セットを取得する。
func (k *KeySet) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("JWKS contains no keys")
	}
	return set, nil
}

func (k *KeySet) record(outcome string) {
	if k.recorder != nil {
		k.recorder.RecordJWKSFetch(outcome)
	}
}

// exportKey は鍵セットからkidに対応する鍵を取り出し、crypto公開鍵に変換する。
func exportKey(set jwk.Set, kid string) (any, error) {
	var key jwk.Key
	if kid == "" {
		if set.Len() != 1 {
			return nil, ErrKeyNotFound
		}
		k, ok := set.Key(0)
		if !ok {
			return nil, ErrKeyNotFound
		}
		key = k
	} else {
		k, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, ErrKeyNotFound
		}
		key = k
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key %q: %w", kid, err)
	}
	return raw, nil
}
