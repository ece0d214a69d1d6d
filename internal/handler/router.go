package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pizza42/internal/metrics"
	"github.com/hitoshi/pizza42/internal/middleware"
	"github.com/hitoshi/pizza42/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// 注文エンドポイントで要求するスコープ。
const scopeWriteOrder = "write:order"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	Verifier middleware.TokenVerifier
	// BindSubject が有効な場合、パスのユーザーIDとトークンのsubの一致を要求する。
	BindSubject bool

	// 注文
	OrderService     OrderServiceInterface
	OrderRateLimiter *middleware.RateLimiter

	// 公開設定と静的ファイル
	PublicConfig model.PublicAuthConfig
	StaticDir    string

	// ミドルウェア依存
	CORSAllowedOrigin string
	Logger            *slog.Logger
	StatusRecorder    middleware.HTTPStatusRecorder
	MetricsGatherer   prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS
//
// 注文エンドポイントはルートごとにStageパイプラインを適用する:
//
//	POST /place_order/{id}:   Authenticate → RequireScopes(write:order) [→ RequireSubjectMatch] [→ RateLimit]
//	GET  /order_history/{id}: Authenticate [→ RequireSubjectMatch]
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 認証不要のルート ---

	configHandler := NewConfigHandler(deps.PublicConfig)
	r.Method(http.MethodGet, "/auth_config.json", configHandler)
	r.Method(http.MethodGet, "/config", configHandler)
	r.Get("/healthz", Health)
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証が必要なルート ---

	orderHandler := NewOrderHandler(deps.OrderService)
	authenticate := middleware.Authenticate(deps.Verifier)

	placeStages := []middleware.Stage{authenticate, middleware.RequireScopes(scopeWriteOrder)}
	historyStages := []middleware.Stage{authenticate}
	if deps.BindSubject {
		placeStages = append(placeStages, middleware.RequireSubjectMatch("id"))
		historyStages = append(historyStages, middleware.RequireSubjectMatch("id"))
	}
	if deps.OrderRateLimiter != nil {
		placeStages = append(placeStages, deps.OrderRateLimiter.Stage())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Pipeline(placeStages...))
		r.Post("/place_order/{id}", orderHandler.PlaceOrder)
		// 空のIDは400として扱う
		r.Post("/place_order/", orderHandler.PlaceOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Pipeline(historyStages...))
		r.Get("/order_history/{id}", orderHandler.GetOrderHistory)
		r.Get("/order_history/", orderHandler.GetOrderHistory)
	})

	// --- SPA ---
	if deps.StaticDir != "" {
		r.Method(http.MethodGet, "/*", NewSPAHandler(deps.StaticDir))
	}

	return r
}
