package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/pizza42/internal/model"
)

// maxResponseSize は管理APIレスポンスの読み取り上限（1MiB）。
const maxResponseSize = 1 << 20

// Profile は管理APIが返すユーザープロファイルのうち、利用するフィールド。
type Profile struct {
	UserID       string                     `json:"user_id"`
	UserMetadata map[string]json.RawMessage `json:"user_metadata,omitempty"`
}

// UsersClientConfig はUsersClientの設定。
type UsersClientConfig struct {
	BaseURL    string // https://{domain}/api/v2/
	HTTPClient *http.Client
	Logger     *slog.Logger
	Recorder   UpstreamRecorder
}

// UsersClient は管理APIのユーザーエンドポイントのクライアント。
type UsersClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	recorder   UpstreamRecorder
}

// NewUsersClient はUsersClientの新しいインスタンスを生成する。
func NewUsersClient(cfg UsersClientConfig) *UsersClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder UpstreamRecorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}
	return &UsersClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
	}
}

// GetUser はユーザープロファイルを取得する。
func (c *UsersClient) GetUser(ctx context.Context, token, userID string) (*Profile, error) {
	return c.do(ctx, "get_user", http.MethodGet, token, userID, nil)
}

// UpdateUserMetadata はuser_metadataを部分更新する。
// 指定したキーのみが送信され、他のキーはIdP側でマージされる。
func (c *UsersClient) UpdateUserMetadata(ctx context.Context, token, userID string, metadata map[string]any) (*Profile, error) {
	body, err := json.Marshal(map[string]any{"user_metadata": metadata})
	if err != nil {
		return nil, fmt.Errorf("failed to encode user metadata: %w", err)
	}
	return c.do(ctx, "patch_user", http.MethodPatch, token, userID, body)
}

// do は管理APIへのリクエストを1回実行し、プロファイルをデコードする。
// 失敗時は*model.UpstreamErrorを返す。上流のボディはエラーに含めない。
func (c *UsersClient) do(ctx context.Context, op, method, token, userID string, body []byte) (*Profile, error) {
	if userID == "" {
		return nil, model.NewInvalidParameterError("id")
	}

	reqURL := c.baseURL + "users/" + url.PathEscape(userID)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		upErr := &model.UpstreamError{Op: op, Timeout: isTimeout(err), Err: err}
		c.recorder.RecordUpstreamCall(op, outcomeFor(upErr), time.Since(start))
		c.logger.Error("management API request failed",
			slog.String("op", op),
			slog.Bool("timeout", upErr.Timeout),
			slog.String("error", err.Error()),
		)
		return nil, upErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// ボディは読み捨てる（ログにも出さない）
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		upErr := &model.UpstreamError{Op: op, Status: resp.StatusCode}
		c.recorder.RecordUpstreamCall(op, OutcomeError, time.Since(start))
		c.logger.Error("management API returned error status",
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, upErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		upErr := &model.UpstreamError{Op: op, Timeout: isTimeout(err), Err: err}
		c.recorder.RecordUpstreamCall(op, outcomeFor(upErr), time.Since(start))
		return nil, upErr
	}
	c.recorder.RecordUpstreamCall(op, OutcomeSuccess, time.Since(start))

	var profile Profile
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &profile); err != nil {
			return nil, &model.UpstreamError{Op: "decode", Err: err}
		}
	}
	return &profile, nil
}
