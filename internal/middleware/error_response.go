package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
// 認証・認可エラーではフロントエンド互換のためmsgも設定する。
type ErrorResponseBody struct {
	Msg      string `json:"msg,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ErrSubjectMismatch はパスのユーザーIDとトークンのsubが一致しない場合のエラー。
var ErrSubjectMismatch = errors.New("path id does not match token subject")

// RateLimitError はレート制限超過を表す。RetryAfterは秒数。
type RateLimitError struct {
	RetryAfter int
}

// Error はerrorインターフェースを実装する。
func (e *RateLimitError) Error() string {
	return "rate limit exceeded"
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	switch statusCode {
	case http.StatusUnauthorized:
		body.Msg = apiErr.Message
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case http.StatusForbidden:
		body.Msg = apiErr.Message
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteError はエラーを種別に応じたステータスコードと統一フォーマットで書き込む。
func WriteError(w http.ResponseWriter, err error) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		retryAfter := rlErr.RetryAfter
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	status, apiErr := StatusForError(err)
	WriteErrorResponse(w, status, apiErr)
}

// StatusForError はエラーをHTTPステータスとAPIErrorに変換する。
// 分類できないエラーは500として扱い、詳細はレスポンスに含めない。
func StatusForError(err error) (int, *model.APIError) {
	var (
		apiErr *model.APIError
		rlErr  *RateLimitError
		upErr  *model.UpstreamError
	)

	switch {
	case err == nil:
		return http.StatusInternalServerError, model.NewInternalError()
	case errors.As(err, &apiErr):
		return statusForCode(apiErr.Code), apiErr
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, model.NewRateLimitedError()
	case errors.Is(err, auth.ErrInsufficientScope), errors.Is(err, ErrSubjectMismatch):
		return http.StatusForbidden, model.NewForbiddenError()
	case isVerificationError(err):
		return http.StatusUnauthorized, model.NewUnauthorizedError()
	case errors.As(err, &upErr):
		if upErr.Timeout {
			return http.StatusGatewayTimeout, model.NewUpstreamError(true)
		}
		return http.StatusBadGateway, model.NewUpstreamError(false)
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

func statusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidParameter:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeUpstream:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// isVerificationError はトークン検証由来のエラーかどうかを返す。
func isVerificationError(err error) bool {
	for _, target := range []error{
		auth.ErrNoToken,
		auth.ErrInvalidToken,
		auth.ErrTokenExpired,
		auth.ErrInvalidIssuer,
		auth.ErrInvalidAudience,
		auth.ErrUnsupportedAlgorithm,
		auth.ErrKeyNotFound,
		auth.ErrFailedToFetchJWKS,
		auth.ErrJWKSRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
