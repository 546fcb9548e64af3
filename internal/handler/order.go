package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"papertrade/internal/domain"
	"papertrade/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc   *service.OrderService
	accountSvc *service.AccountService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService, accountSvc *service.AccountService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, accountSvc: accountSvc}
}

// placeOrderRequest is the JSON request body for POST /orders. Price is
// required for limit orders and ignored for market orders, which settle
// at the feed's last observed price.
type placeOrderRequest struct {
	Type   string `json:"type"`
	Market string `json:"market"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// orderResponse is the JSON response for order endpoints. Decimal fields
// are strings; execution_price and settled_at are null until the order
// executes, expires_at is null for market orders.
type orderResponse struct {
	OrderID        string  `json:"order_id"`
	Market         string  `json:"market"`
	Type           string  `json:"type"`
	Side           string  `json:"side"`
	Price          string  `json:"price"`
	Amount         string  `json:"amount"`
	TotalCost      string  `json:"total_cost"`
	Status         string  `json:"status"`
	ExecutionPrice *string `json:"execution_price"`
	CreatedAt      string  `json:"created_at"`
	ExpiresAt      *string `json:"expires_at"`
	SettledAt      *string `json:"settled_at"`
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		order *domain.Order
		err   error
	)
	switch domain.OrderType(req.Type) {
	case domain.OrderTypeLimit:
		order, err = h.orderSvc.PlaceLimitOrder(r.Context(), service.PlaceLimitOrderRequest{
			UserID: userID,
			Market: req.Market,
			Side:   domain.OrderSide(req.Side),
			Price:  req.Price,
			Amount: req.Amount,
		})
	case domain.OrderTypeMarket:
		order, err = h.accountSvc.PlaceMarketOrder(r.Context(), service.PlaceMarketOrderRequest{
			UserID: userID,
			Market: req.Market,
			Side:   domain.OrderSide(req.Side),
			Amount: req.Amount,
		})
	default:
		WriteError(w, http.StatusBadRequest, "validation_error", "type must be limit or market")
		return
	}
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /orders. Orders are returned newest first.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	orders, err := h.orderSvc.ListOrders(r.Context(), userID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	result := make([]orderResponse, len(orders))
	for i, o := range orders {
		result[i] = buildOrderResponse(o)
	}

	WriteJSON(w, http.StatusOK, result)
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// WatchPendingOrders handles GET /orders/pending/watch. It streams the
// user's pending-order list as newline-delimited JSON: one snapshot
// immediately, then one after every ledger commit touching the user's
// orders, until the client disconnects.
func (h *OrderHandler) WatchPendingOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	updates, cancel := h.orderSvc.WatchPendingOrders(userID)
	defer cancel()

	// The server's WriteTimeout would cut the stream off; lift it for
	// this response only.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)

	writeSnapshot := func(pending []domain.Order) bool {
		result := make([]orderResponse, len(pending))
		for i := range pending {
			result[i] = buildOrderResponse(&pending[i])
		}
		if err := enc.Encode(result); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Initial snapshot so the client doesn't wait for the next commit.
	initial, err := h.orderSvc.PendingOrders(r.Context(), userID)
	if err == nil {
		pending := make([]domain.Order, len(initial))
		for i, o := range initial {
			pending[i] = *o
		}
		if !writeSnapshot(pending) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case pending, open := <-updates:
			if !open {
				return
			}
			if !writeSnapshot(pending) {
				return
			}
		}
	}
}

// buildOrderResponse converts a domain order to its wire form.
func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:   o.OrderID,
		Market:    o.Market,
		Type:      string(o.Type),
		Side:      string(o.Side),
		Price:     o.Price.String(),
		Amount:    o.Amount.String(),
		TotalCost: o.TotalCost.String(),
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if o.Status == domain.OrderStatusExecuted {
		s := o.ExecutionPrice.String()
		resp.ExecutionPrice = &s
	}
	if !o.ExpiresAt.IsZero() {
		s := o.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.ExpiresAt = &s
	}
	if o.SettledAt != nil {
		s := o.SettledAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.SettledAt = &s
	}

	return resp
}
