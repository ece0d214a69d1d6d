// Package auth はベアラートークンの検証とスコープ判定を提供する。
// 公開鍵はIdPのJWKSエンドポイントから取得し、レート制限付きでキャッシュする。
package auth

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Common errors
var (
	ErrNoToken              = errors.New("no bearer token provided")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrKeyNotFound          = errors.New("signing key not found in JWKS")
	ErrFailedToFetchJWKS    = errors.New("failed to fetch JWKS")
	ErrJWKSRateLimited      = errors.New("JWKS refetch rate limited")
	ErrInsufficientScope    = errors.New("insufficient scope")
)

// Claims は検証済みアクセストークンのクレーム。
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	Scope     ScopeSet
	ExpiresAt time.Time
}

// ScopeSet はスペース区切りのscopeクレームを集合として保持する。
type ScopeSet map[string]struct{}

// ParseScope はスペース区切りのscope文字列をScopeSetに変換する。
func ParseScope(scope string) ScopeSet {
	fields := strings.Fields(scope)
	set := make(ScopeSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Has はスコープを含むかどうかを返す。
func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// HasAll は要求されたスコープをすべて含むかどうかを返す。
// 要求が空の場合はtrue。
func (s ScopeSet) HasAll(required ...string) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Strings はスコープをソート済みスライスで返す。
func (s ScopeSet) Strings() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// RequireScopes はクレームが要求スコープをすべて持つことを確認する。
func (c *Claims) RequireScopes(required ...string) error {
	if c == nil || !c.Scope.HasAll(required...) {
		return ErrInsufficientScope
	}
	return nil
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
