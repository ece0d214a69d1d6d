package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/config"
	"github.com/hitoshi/pizza42/internal/handler"
	"github.com/hitoshi/pizza42/internal/history"
	"github.com/hitoshi/pizza42/internal/logger"
	"github.com/hitoshi/pizza42/internal/metrics"
	"github.com/hitoshi/pizza42/internal/mgmt"
	"github.com/hitoshi/pizza42/internal/middleware"
	"github.com/hitoshi/pizza42/internal/order"
)

// Init はアプリケーションの初期化を行う。
// IdP設定ドキュメントと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 設定を読み込む
	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Any("config", cfg),
	)

	return runServe(cfg)
}

// server はHTTPサーバーの構成要素をまとめる。
type server struct {
	handler http.Handler
	close   func()
}

// newServer は設定から全依存関係をワイヤリングし、ルーターを構築する。
func newServer(cfg *config.Config, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. トークン検証
	keys := auth.NewKeySet(auth.KeySetConfig{
		JWKSURL:           cfg.JWKSURL(),
		HTTPClient:        &http.Client{Timeout: cfg.UpstreamTimeout},
		RequestsPerMinute: cfg.JWKSRequestsPerMinute,
		MaxAge:            cfg.JWKSCacheMaxAge,
		Logger:            log,
		Recorder:          collector,
	})
	verifier, err := auth.NewVerifier(keys, auth.VerifierConfig{
		Issuer:   cfg.Issuer(),
		Audience: cfg.Audience,
		Leeway:   cfg.TokenLeeway,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	// 3. 管理APIクライアント
	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	broker := mgmt.NewBroker(mgmt.BrokerConfig{
		TokenURL:     cfg.TokenURL(),
		ClientID:     cfg.MgmtClientID,
		ClientSecret: cfg.MgmtClientSecret,
		Audience:     cfg.ManagementAudience(),
		HTTPClient:   upstreamClient,
		Cache:        cfg.MgmtTokenCache,
		Logger:       log,
		Recorder:     collector,
	})
	users := mgmt.NewUsersClient(mgmt.UsersClientConfig{
		BaseURL:    cfg.ManagementAPIURL(),
		HTTPClient: upstreamClient,
		Logger:     log,
		Recorder:   collector,
	})

	// 4. ドメインサービス
	orderService := order.NewService(
		history.NewClient(broker, users),
		log,
		order.WithRecorder(collector),
	)

	// 5. ルーターの構築
	orderLimiter := middleware.NewRateLimiter("place_order", middleware.PerMinuteRateLimiterConfig(cfg.RateLimitOrders))

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          verifier,
		BindSubject:       cfg.BindSubject,
		OrderService:      orderService,
		OrderRateLimiter:  orderLimiter,
		PublicConfig:      cfg.Public(),
		StaticDir:         staticDir(cfg.StaticDir),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
		StatusRecorder:    collector,
		MetricsGatherer:   registry,
	})

	return &server{handler: router, close: orderLimiter.Stop}, nil
}

// staticDir は存在するディレクトリのみを返す。存在しない場合はSPA配信を無効にする。
func staticDir(dir string) string {
	if dir == "" {
		return ""
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		slog.Warn("static directory not found, SPA serving disabled", slog.String("dir", dir))
		return ""
	}
	return dir
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	srv, err := newServer(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.UpstreamTimeout),
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-stop:
	}

	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// upstreamCallsPerRequest は1リクエストで直列に行うIdP呼び出しの最大数。
// JWKS取得、トークン取得、プロファイル取得、プロファイル更新。
const upstreamCallsPerRequest = 4

// writeTimeout はIdP呼び出しがすべてタイムアウトしても504を書き込めるだけの書き込み期限を返す。
func writeTimeout(upstream time.Duration) time.Duration {
	return 15*time.Second + upstreamCallsPerRequest*upstream
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
