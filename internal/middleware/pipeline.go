// Package middleware はHTTPミドルウェアとリクエストパイプラインを提供する。
package middleware

import (
	"log/slog"
	"net/http"
)

// Stage はリクエストパイプラインの1段。
// 成功時は（必要ならコンテキストを拡張した）リクエストを返し、
// エラーを返した時点でパイプラインは停止する。
type Stage interface {
	Run(r *http.Request) (*http.Request, error)
}

// StageFunc は関数をStageとして扱うためのアダプタ。
type StageFunc func(r *http.Request) (*http.Request, error)

// Run はStageインターフェースを実装する。
func (f StageFunc) Run(r *http.Request) (*http.Request, error) {
	return f(r)
}

// Pipeline は複数のStageを順に実行するchiミドルウェアを返す。
// いずれかのStageがエラーを返すと、後続のStageとハンドラーは実行されず、
// エラーはWriteErrorで統一フォーマットのレスポンスに変換される。
func Pipeline(stages ...Stage) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, stage := range stages {
				enriched, err := stage.Run(r)
				if err != nil {
					slog.Warn("request rejected",
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("reason", err.Error()),
					)
					WriteError(w, err)
					return
				}
				r = enriched
			}
			next.ServeHTTP(w, r)
		})
	}
}
