// Package history はユーザープロファイルのuser_metadata.historyに
// 注文履歴を読み書きする。
//
// 読み取り・追記・書き戻しは排他制御を行わない。同一ユーザーへの並行追記では
// 後勝ちとなり、一方の追記が失われることがある。
package history

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/hitoshi/pizza42/internal/mgmt"
	"github.com/hitoshi/pizza42/internal/model"
)

// metadataKey は注文履歴を格納するuser_metadataのキー。
const metadataKey = "history"

// TokenSource はサービス用アクセストークンの取得元。mgmt.Brokerが実装する。
type TokenSource interface {
	Token(ctx context.Context) (*mgmt.ServiceToken, error)
}

// ProfileStore はユーザープロファイルの取得・更新先。mgmt.UsersClientが実装する。
type ProfileStore interface {
	GetUser(ctx context.Context, token, userID string) (*mgmt.Profile, error)
	UpdateUserMetadata(ctx context.Context, token, userID string, metadata map[string]any) (*mgmt.Profile, error)
}

// Client は注文履歴の読み書きを行う。
type Client struct {
	tokens   TokenSource
	profiles ProfileStore
}

// NewClient はClientを生成する。
func NewClient(tokens TokenSource, profiles ProfileStore) *Client {
	return &Client{tokens: tokens, profiles: profiles}
}

// ReadHistory はユーザーの注文履歴を返す。
// user_metadataやhistoryが存在しない、またはnullの場合は空スライスを返す。
func (c *Client) ReadHistory(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.read(ctx, tok.Value, userID)
}

// AppendAndSave は注文を履歴の末尾に追加して書き戻し、書き込んだ履歴の件数を返す。
// 既存の要素は受け取ったJSONのまま書き戻し、内容を変更しない。
// 読み取りに成功して書き込みに失敗した場合はエラーを返す。
func (c *Client) AppendAndSave(ctx context.Context, userID string, record model.OrderRecord) (int, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	profile, err := c.profiles.GetUser(ctx, tok.Value, userID)
	if err != nil {
		return 0, err
	}
	history, err := rawHistory(profile)
	if err != nil {
		return 0, err
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	history = append(history, encoded)

	if _, err := c.profiles.UpdateUserMetadata(ctx, tok.Value, userID, map[string]any{metadataKey: history}); err != nil {
		return 0, err
	}
	return len(history), nil
}

func (c *Client) read(ctx context.Context, token, userID string) ([]model.OrderRecord, error) {
	profile, err := c.profiles.GetUser(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	return decodeHistory(profile)
}

// rawHistory はプロファイルからhistoryを要素ごとの生JSONとして取り出す。
// 存在しない、またはnullの場合は空スライス。配列でない値はdecodeエラーとする。
func rawHistory(profile *mgmt.Profile) ([]json.RawMessage, error) {
	history := []json.RawMessage{}
	if profile == nil {
		return history, nil
	}

	raw, ok := profile.UserMetadata[metadataKey]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return history, nil
	}

	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, &model.UpstreamError{Op: "decode", Err: err}
	}
	if history == nil {
		history = []json.RawMessage{}
	}
	return history, nil
}

// decodeHistory はhistoryを注文のスライスとして取り出す。
// 注文として解釈できない要素はdecodeエラーとする。
func decodeHistory(profile *mgmt.Profile) ([]model.OrderRecord, error) {
	raw, err := rawHistory(profile)
	if err != nil {
		return nil, err
	}

	history := make([]model.OrderRecord, 0, len(raw))
	for _, elem := range raw {
		var record model.OrderRecord
		if err := json.Unmarshal(elem, &record); err != nil {
			return nil, &model.UpstreamError{Op: "decode", Err: err}
		}
		history = append(history, record)
	}
	return history, nil
}
