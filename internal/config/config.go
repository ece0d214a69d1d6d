package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/hitoshi/pizza42/internal/model"
)

// defaultConfigPath はIdP設定ドキュメントの既定パス。
const defaultConfigPath = "auth_config.json"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして各コンポーネントに渡す。
type Config struct {
	// IdP（auth_config.json または環境変数）
	Domain           string `validate:"required,hostname_rfc1123|hostname_port"`
	ClientID         string
	Audience         string `validate:"required"`
	MgmtClientID     string `validate:"required"`
	MgmtClientSecret string `validate:"required"`

	// IdPBaseURL はIdPのベースURL。空の場合は https://{Domain} を使う。
	IdPBaseURL string `validate:"omitempty,url"`

	// Server
	ServerPort        string `validate:"required,numeric"`
	StaticDir         string
	CORSAllowedOrigin string

	// Upstream
	UpstreamTimeout time.Duration `validate:"gt=0"`
	MgmtTokenCache  bool

	// Token verification
	JWKSRequestsPerMinute int           `validate:"gt=0"`
	JWKSCacheMaxAge       time.Duration `validate:"gt=0"`
	TokenLeeway           time.Duration `validate:"gte=0"`

	// Orders
	RateLimitOrders int `validate:"gt=0"`
	BindSubject     bool

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
}

// Load はIdP設定ドキュメント（JSON）と環境変数からConfigを読み込む。
// pathが空の場合は AUTH_CONFIG_PATH、未設定なら auth_config.json を使う。
// ドキュメントが存在しない場合はエラーにせず、環境変数のみで構成する。
// ドキュメントで空の値は環境変数にフォールバックする。
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnvString("AUTH_CONFIG_PATH", defaultConfigPath)
	}

	vip := viper.New()
	vip.SetConfigFile(path)
	vip.SetConfigType("json")
	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Domain:           fileOrEnv(vip, "domain", "AUTH0_DOMAIN"),
		ClientID:         fileOrEnv(vip, "clientId", "AUTH0_CLIENT_ID"),
		Audience:         fileOrEnv(vip, "audience", "AUTH0_AUDIENCE"),
		MgmtClientID:     fileOrEnv(vip, "mgmt_clientId", "MGMT_CLIENT_ID"),
		MgmtClientSecret: fileOrEnv(vip, "mgmt_clientSecret", "MGMT_CLIENT_SECRET"),
	}

	// Optional fields with defaults
	cfg.IdPBaseURL = strings.TrimSuffix(getEnvString("IDP_BASE_URL", ""), "/")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	cfg.StaticDir = getEnvString("STATIC_DIR", "public")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.MgmtTokenCache = getEnvBool("MGMT_TOKEN_CACHE", false)
	cfg.JWKSRequestsPerMinute = getEnvInt("JWKS_REQUESTS_PER_MINUTE", 5)
	cfg.JWKSCacheMaxAge = getEnvDuration("JWKS_CACHE_MAX_AGE", 10*time.Hour)
	cfg.TokenLeeway = getEnvDuration("TOKEN_LEEWAY", 0)
	cfg.RateLimitOrders = getEnvInt("RATE_LIMIT_ORDERS", 10)
	cfg.BindSubject = getEnvBool("ORDERS_BIND_SUBJECT", false)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// BaseURL はIdPのベースURL（末尾スラッシュなし）を返す。
func (c *Config) BaseURL() string {
	if c.IdPBaseURL != "" {
		return c.IdPBaseURL
	}
	return "https://" + c.Domain
}

// Issuer はアクセストークンのissクレームとして期待する値を返す。
func (c *Config) Issuer() string {
	return c.BaseURL() + "/"
}

// JWKSURL は公開鍵セットのURLを返す。
func (c *Config) JWKSURL() string {
	return c.BaseURL() + "/.well-known/jwks.json"
}

// TokenURL はclient credentialsグラントのトークンエンドポイントを返す。
func (c *Config) TokenURL() string {
	return c.BaseURL() + "/oauth/token"
}

// ManagementAPIURL は管理APIのベースURLを返す。
func (c *Config) ManagementAPIURL() string {
	return c.BaseURL() + "/api/v2/"
}

// ManagementAudience は管理API用サービストークンのaudienceを返す。
// IdPBaseURLを差し替えても識別子はドメインから導出する。
func (c *Config) ManagementAudience() string {
	return "https://" + c.Domain + "/api/v2/"
}

// Public はSPAに配布する公開設定を返す。
func (c *Config) Public() model.PublicAuthConfig {
	return model.PublicAuthConfig{
		Domain:   c.Domain,
		ClientID: c.ClientID,
		Audience: c.Audience,
	}
}

// LogValue はslog出力用の表現を返す。シークレットは含めない。
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("domain", c.Domain),
		slog.String("audience", c.Audience),
		slog.String("port", c.ServerPort),
		slog.Duration("upstream_timeout", c.UpstreamTimeout),
		slog.Bool("mgmt_token_cache", c.MgmtTokenCache),
		slog.Bool("bind_subject", c.BindSubject),
	)
}

// fileOrEnv は設定ドキュメントの値を返し、空なら環境変数にフォールバックする。
func fileOrEnv(vip *viper.Viper, key, envKey string) string {
	if v := strings.TrimSpace(vip.GetString(key)); v != "" {
		return v
	}
	return os.Getenv(envKey)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
