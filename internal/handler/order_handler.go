package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pizza42/internal/middleware"
	"github.com/hitoshi/pizza42/internal/model"
)

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	// PlaceOrder は注文を生成してユーザーの履歴に追加する。
	PlaceOrder(ctx context.Context, userID string) (model.OrderRecord, error)
	// GetOrderHistory はユーザーの注文履歴を返す。
	GetOrderHistory(ctx context.Context, userID string) ([]model.OrderRecord, error)
}

// OrderHandler は注文のHTTPハンドラー。
type OrderHandler struct {
	service OrderServiceInterface
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(service OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: service}
}

// placeOrderResponse は注文作成のAPIレスポンス。
type placeOrderResponse struct {
	Status string            `json:"status"`
	Order  model.OrderRecord `json:"order"`
}

// PlaceOrder は注文を作成する。リクエストボディは使用しない。
// POST /place_order/{id}
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("id"))
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, placeOrderResponse{Status: "ok", Order: order})
}

// GetOrderHistory は注文履歴を返す。履歴がない場合は空配列。
// GET /order_history/{id}
func (h *OrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if userID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidParameterError("id"))
		return
	}

	history, err := h.service.GetOrderHistory(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []model.OrderRecord{}
	}

	writeJSON(w, http.StatusOK, history)
}

// userIDParam はパスパラメータのユーザーIDを返す。
func userIDParam(r *http.Request) string {
	return strings.TrimSpace(middleware.PathParam(r, "id"))
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := middleware.StatusForError(err)

	attrs := []any{
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	var upErr *model.UpstreamError
	if errors.As(err, &upErr) {
		attrs = append(attrs, slog.String("upstream_op", upErr.Op))
	}

	if status >= http.StatusInternalServerError {
		slog.Error("order request failed", attrs...)
	} else {
		slog.Warn("order request rejected", attrs...)
	}

	middleware.WriteError(w, err)
}
