package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyResolver はkidから検証用公開鍵を解決するインターフェース。
// KeySetが実装する。
type KeyResolver interface {
	Lookup(ctx context.Context, kid string) (any, error)
}

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	// Issuer は期待するissクレーム（例: https://tenant.auth0.com/）
	Issuer string
	// Audience は期待するaudクレーム（APIの識別子）
	Audience string
	// Algorithms は許可する署名アルゴリズム。空の場合はRS256のみ。
	Algorithms []string
	// Leeway は有効期限判定の許容誤差
	Leeway time.Duration
}

// Verifier はベアラートークンの署名・発行者・対象者・アルゴリズム・有効期限を検証する。
type Verifier struct {
	keys       KeyResolver
	issuer     string
	audience   string
	algorithms []string
	parser     *jwt.Parser
}

// accessTokenClaims はアクセストークンのJWTクレーム。
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// NewVerifier はVerifierを生成する。
// 対称鍵アルゴリズム（HS256等）は鍵混同攻撃を防ぐため許可しない。
func NewVerifier(keys KeyResolver, config VerifierConfig) (*Verifier, error) {
	if config.Issuer == "" || config.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}

	algorithms := config.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}
	for _, alg := range algorithms {
		if !isAsymmetric(alg) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
	}

	// 時刻の検証はexpとnbfのみ。iatは見ない。
	opts := []jwt.ParserOption{
		jwt.WithIssuer(config.Issuer),
		jwt.WithAudience(config.Audience),
		jwt.WithExpirationRequired(),
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}

	return &Verifier{
		keys:       keys,
		issuer:     config.Issuer,
		audience:   config.Audience,
		algorithms: algorithms,
		parser:     jwt.NewParser(opts...),
	}, nil
}

// Verify はトークン文字列を検証し、クレームを返す。
// 返すエラーはこのパッケージのセンチネルエラーでerrors.Is判定できる。
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	var tc accessTokenClaims
	token, err := v.parser.ParseWithClaims(tokenString, &tc, func(token *jwt.Token) (any, error) {
		return v.keyFunc(ctx, token)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Issuer:   tc.Issuer,
		Subject:  tc.Subject,
		Audience: []string(tc.Audience),
		Scope:    ParseScope(tc.Scope),
	}
	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// keyFunc は署名アルゴリズムを確認してからJWKSの鍵を返す。
func (v *Verifier) keyFunc(ctx context.Context, token *jwt.Token) (any, error) {
	alg := token.Method.Alg()
	if !slices.Contains(v.algorithms, alg) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}

	kid, _ := token.Header["kid"].(string)
	return v.keys.Lookup(ctx, kid)
}

// classifyParseError はjwtライブラリのエラーをセンチネルエラーに変換する。
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm),
		errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrFailedToFetchJWKS),
		errors.Is(err, ErrJWKSRateLimited):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrInvalidAudience
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// isAsymmetric は公開鍵で検証するアルゴリズムかどうかを返す。
func isAsymmetric(alg string) bool {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA":
		return true
	default:
		return false
	}
}
