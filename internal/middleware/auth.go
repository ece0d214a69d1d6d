package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/pizza42/internal/auth"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var claimsContextKey = contextKey("claims")

// TokenVerifier はベアラートークンの検証に必要なインターフェース。
// auth.Verifierが実装する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// Authenticate はAuthorizationヘッダーのベアラートークンを検証するStageを返す。
// 検証済みクレームをリクエストコンテキストに注入する。
// トークンがない、または検証に失敗した場合は401となるエラーを返す。
func Authenticate(verifier TokenVerifier) Stage {
	return StageFunc(func(r *http.Request) (*http.Request, error) {
		raw, err := auth.BearerToken(r)
		if err != nil {
			return nil, err
		}

		claims, err := verifier.Verify(r.Context(), raw)
		if err != nil {
			return nil, err
		}

		setLogSubject(r.Context(), claims.Subject)
		return r.WithContext(ContextWithClaims(r.Context(), claims)), nil
	})
}

// ClaimsFromContext はリクエストコンテキストから検証済みクレームを取得する。
// Authenticateを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// SubjectFromContext はクレームのsubを返す。未認証の場合は空文字。
func SubjectFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}
