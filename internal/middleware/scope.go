package middleware

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pizza42/internal/auth"
)

// RequireScopes は検証済みトークンが要求スコープをすべて持つことを確認するStageを返す。
// Authenticateの後に配置する。不足している場合は403となる。
func RequireScopes(scopes ...string) Stage {
	return StageFunc(func(r *http.Request) (*http.Request, error) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			return nil, auth.ErrNoToken
		}
		if err := claims.RequireScopes(scopes...); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// RequireSubjectMatch はURLパラメータparamがトークンのsubと一致することを確認するStageを返す。
// chiのルートに対してインラインで適用する必要がある。
func RequireSubjectMatch(param string) Stage {
	return StageFunc(func(r *http.Request) (*http.Request, error) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			return nil, auth.ErrNoToken
		}
		if PathParam(r, param) != claims.Subject {
			return nil, ErrSubjectMismatch
		}
		return r, nil
	})
}

// PathParam はchiのURLパラメータをデコードして返す。
// chiはRawPathが設定されている場合（%7cのような非正規のエスケープを含むパス）は
// エスケープされたままの値を返すため、ここで1回だけデコードする。
func PathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
