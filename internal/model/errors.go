// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeUpstreamTimeout  = "UPSTREAM_TIMEOUT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "rate_limit_exceeded"
)

// 認証・認可エラーのレスポンスに含める固定メッセージ。
const (
	MsgInvalidToken      = "Invalid token"
	MsgInsufficientScope = "Insufficient scope"
)

// NewUnauthorizedError はトークン検証失敗エラーを生成する。
// 失敗理由はレスポンスに含めず、ログにのみ残す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  MsgInvalidToken,
		Category: "auth",
		Action:   "Sign in again to obtain a fresh access token.",
	}
}

// NewForbiddenError は必要なスコープが不足している場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  MsgInsufficientScope,
		Category: "auth",
		Action:   "Request an access token that grants the required permission.",
	}
}

// NewInvalidParameterError はパスパラメータ不正エラーを生成する。
func NewInvalidParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("missing or invalid parameter: %s", name),
		Category: "validation",
		Action:   "Check the request path and try again.",
	}
}

// NewUpstreamError はIdP呼び出し失敗エラーを生成する。
// 上流のレスポンスボディや認証情報はメッセージに含めない。
func NewUpstreamError(timeout bool) *APIError {
	if timeout {
		return &APIError{
			Code:     ErrCodeUpstreamTimeout,
			Message:  "The identity provider did not respond in time.",
			Category: "upstream",
			Action:   "Wait a moment and try again.",
		}
	}
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  "The identity provider request failed.",
		Category: "upstream",
		Action:   "Wait a moment and try again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}

// UpstreamError はIdP（トークンエンドポイント・管理API）呼び出しの失敗を表す。
// Status は上流のHTTPステータス（通信失敗時は0）。
type UpstreamError struct {
	Op      string // token, get_user, patch_user, decode
	Status  int
	Timeout bool
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("upstream %s: timeout", e.Op)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("upstream %s: failed", e.Op)
	}
}

// Unwrap は元のエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstreamTimeout はerrがタイムアウトによるUpstreamErrorかどうかを返す。
func IsUpstreamTimeout(err error) bool {
	var upErr *UpstreamError
	return errors.As(err, &upErr) && upErr.Timeout
}
