package order

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/hitoshi/pizza42/internal/model"
)

// mockHistoryStore はHistoryStoreのモック。
type mockHistoryStore struct {
	readHistoryFn   func(ctx context.Context, userID string) ([]model.OrderRecord, error)
	appendAndSaveFn func(ctx context.Context, userID string, record model.OrderRecord) (int, error)
}

func (m *mockHistoryStore) ReadHistory(ctx context.Context, userID string) ([]model.OrderRecord, error) {
	return m.readHistoryFn(ctx, userID)
}

func (m *mockHistoryStore) AppendAndSave(ctx context.Context, userID string, record model.OrderRecord) (int, error) {
	return m.appendAndSaveFn(ctx, userID, record)
}

type countingOrderRecorder struct{ count int }

func (c *countingOrderRecorder) RecordOrderPlaced() { c.count++ }

var orderItemPattern = regexp.MustCompile(`^Pizza #([1-9]|[1-3][0-9]|4[0-3])$`)

func TestPlaceOrder_BuildsRecordAndAppends(t *testing.T) {
	var savedUser string
	var saved model.OrderRecord
	store := &mockHistoryStore{
		appendAndSaveFn: func(ctx context.Context, userID string, record model.OrderRecord) (int, error) {
			savedUser = userID
			saved = record
			return 1, nil
		},
	}
	recorder := &countingOrderRecorder{}

	jst := time.FixedZone("JST", 9*60*60)
	svc := NewService(store, nil,
		WithClock(func() time.Time { return time.Date(2024, 1, 2, 12, 4, 5, 678_000_000, jst) }),
		WithRandom(func(n int) int { return 6 }),
		WithRecorder(recorder),
	)

	got, err := svc.PlaceOrder(context.Background(), "auth0|user-1")
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	want := model.OrderRecord{OrderDate: "2024-01-02T03:04:05.678Z", OrderItem: "Pizza #7"}
	if got != want {
		t.Errorf("PlaceOrder = %+v, want %+v", got, want)
	}
	if saved != want {
		t.Errorf("saved record = %+v, want %+v", saved, want)
	}
	if savedUser != "auth0|user-1" {
		t.Errorf("saved user = %q, want %q", savedUser, "auth0|user-1")
	}
	if recorder.count != 1 {
		t.Errorf("orders recorded = %d, want 1", recorder.count)
	}
}

func TestPlaceOrder_ItemRange(t *testing.T) {
	store := &mockHistoryStore{
		appendAndSaveFn: func(ctx context.Context, userID string, record model.OrderRecord) (int, error) {
			return 1, nil
		},
	}

	tests := []struct {
		draw int
		want string
	}{
		{0, "Pizza #1"},
		{42, "Pizza #43"},
	}
	for _, tt := range tests {
		svc := NewService(store, nil, WithRandom(func(n int) int {
			if n != 43 {
				t.Errorf("random bound = %d, want 43", n)
			}
			return tt.draw
		}))

		got, err := svc.PlaceOrder(context.Background(), "u1")
		if err != nil {
			t.Fatalf("PlaceOrder returned error: %v", err)
		}
		if got.OrderItem != tt.want {
			t.Errorf("draw %d: OrderItem = %q, want %q", tt.draw, got.OrderItem, tt.want)
		}
	}

	// 既定の乱数源でも範囲内に収まる
	svc := NewService(store, nil)
	for i := 0; i < 200; i++ {
		got, err := svc.PlaceOrder(context.Background(), "u1")
		if err != nil {
			t.Fatalf("PlaceOrder returned error: %v", err)
		}
		if !orderItemPattern.MatchString(got.OrderItem) {
			t.Fatalf("OrderItem = %q, out of range", got.OrderItem)
		}
	}
}

func TestPlaceOrder_StoreFailure(t *testing.T) {
	upErr := &model.UpstreamError{Op: "patch_user", Status: 500}
	store := &mockHistoryStore{
		appendAndSaveFn: func(ctx context.Context, userID string, record model.OrderRecord) (int, error) {
			return 0, upErr
		},
	}
	recorder := &countingOrderRecorder{}

	_, err := NewService(store, nil, WithRecorder(recorder)).PlaceOrder(context.Background(), "u1")

	if !errors.Is(err, upErr) {
		t.Errorf("error = %v, want %v", err, upErr)
	}
	if recorder.count != 0 {
		t.Errorf("orders recorded = %d, want 0", recorder.count)
	}
}

func TestGetOrderHistory(t *testing.T) {
	want := []model.OrderRecord{{OrderDate: "d1", OrderItem: "Pizza #1"}}
	store := &mockHistoryStore{
		readHistoryFn: func(ctx context.Context, userID string) ([]model.OrderRecord, error) {
			if userID != "u1" {
				t.Errorf("userID = %q, want %q", userID, "u1")
			}
			return want, nil
		},
	}

	got, err := NewService(store, nil).GetOrderHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrderHistory returned error: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("GetOrderHistory = %+v, want %+v", got, want)
	}
}

func TestGetOrderHistory_NilBecomesEmpty(t *testing.T) {
	store := &mockHistoryStore{
		readHistoryFn: func(ctx context.Context, userID string) ([]model.OrderRecord, error) {
			return nil, nil
		},
	}

	got, err := NewService(store, nil).GetOrderHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrderHistory returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("GetOrderHistory = %#v, want empty non-nil slice", got)
	}
}

func TestGetOrderHistory_StoreFailure(t *testing.T) {
	upErr := &model.UpstreamError{Op: "token", Timeout: true}
	store := &mockHistoryStore{
		readHistoryFn: func(ctx context.Context, userID string) ([]model.OrderRecord, error) {
			return nil, upErr
		},
	}

	_, err := NewService(store, nil).GetOrderHistory(context.Background(), "u1")
	if !model.IsUpstreamTimeout(err) {
		t.Errorf("error = %v, want upstream timeout", err)
	}
}
