// Package order は注文の作成と注文履歴の取得を提供する。
package order

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hitoshi/pizza42/internal/model"
)

const (
	// dateLayout はorder_dateの形式（UTC、ミリ秒精度）。
	dateLayout = "2006-01-02T15:04:05.000Z07:00"
	// menuSize は注文可能なピザの種類数。order_itemは"Pizza #1"〜"Pizza #43"。
	menuSize = 43
)

// HistoryStore は注文履歴の読み書き先。history.Clientが実装する。
type HistoryStore interface {
	ReadHistory(ctx context.Context, userID string) ([]model.OrderRecord, error)
	AppendAndSave(ctx context.Context, userID string, record model.OrderRecord) (int, error)
}

// OrderRecorder は注文作成数の記録先。metrics.Collectorが実装する。
type OrderRecorder interface {
	RecordOrderPlaced()
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom は[0,n)の乱数を返す関数を差し替える。
func WithRandom(intN func(n int) int) Option {
	return func(s *Service) { s.intN = intN }
}

// WithRecorder は注文作成数の記録先を設定する。
func WithRecorder(r OrderRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// Service は注文ユースケースを実装する。
type Service struct {
	store    HistoryStore
	now      func() time.Time
	intN     func(n int) int
	recorder OrderRecorder
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(store HistoryStore, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		now:    time.Now,
		intN:   rand.IntN,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder は新しい注文を生成してユーザーの履歴に追加し、その注文を返す。
func (s *Service) PlaceOrder(ctx context.Context, userID string) (model.OrderRecord, error) {
	record := model.OrderRecord{
		OrderDate: s.now().UTC().Format(dateLayout),
		OrderItem: fmt.Sprintf("Pizza #%d", s.intN(menuSize)+1),
	}

	length, err := s.store.AppendAndSave(ctx, userID, record)
	if err != nil {
		return model.OrderRecord{}, fmt.Errorf("failed to save order: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordOrderPlaced()
	}
	s.logger.Info("order placed",
		slog.String("user_id", userID),
		slog.String("order_item", record.OrderItem),
		slog.Int("history_length", length),
	)
	return record, nil
}

// GetOrderHistory はユーザーの注文履歴を返す。履歴がない場合は空スライス。
func (s *Service) GetOrderHistory(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	history, err := s.store.ReadHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read order history: %w", err)
	}
	if history == nil {
		history = []model.OrderRecord{}
	}
	return history, nil
}
