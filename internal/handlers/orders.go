package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazelcart/api/internal/platform/httpx"
	"github.com/hazelcart/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes order placement, retrieval, cancellation, and payment
// session initiation.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
	limiter  rateLimiter
}

// OrderHandlersDeps wires order handler dependencies.
type OrderHandlersDeps struct {
	Orders   services.OrderService
	Payments services.PaymentService
	// Limiter caps payment session creation per user. Optional.
	Limiter rateLimiter
}

// NewOrderHandlers constructs the order endpoints.
func NewOrderHandlers(deps OrderHandlersDeps) (*OrderHandlers, error) {
	if deps.Orders == nil {
		return nil, errors.New("order handlers: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order handlers: payment service is required")
	}
	return &OrderHandlers{
		orders:   deps.Orders,
		payments: deps.Payments,
		limiter:  deps.Limiter,
	}, nil
}

// Routes attaches the customer-facing order endpoints to the router group.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/payment-session", h.createPaymentSession)
}

// AdminRoutes attaches operator endpoints. The router group is expected to be
// mounted behind an admin check.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	r.Patch("/orders/{orderID}/status", h.updateOrderStatus)
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      strings.TrimSpace(p.Line2),
		City:       strings.TrimSpace(p.City),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      strings.TrimSpace(p.Phone),
	}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type orderTotalsPayload struct {
	Items    int64 `json:"items"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type paymentResultPayload struct {
	Provider      string `json:"provider"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	PayerEmail    string `json:"payer_email,omitempty"`
	ReceivedAt    string `json:"received_at"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	InvoiceNumber   string                `json:"invoice_number"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Items           []orderItemPayload    `json:"items"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	Totals          orderTotalsPayload    `json:"totals"`
	PaymentResult   *paymentResultPayload `json:"payment_result,omitempty"`
	CancelReason    string                `json:"cancel_reason,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
	PaidAt          string                `json:"paid_at,omitempty"`
	ShippedAt       string                `json:"shipped_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CanceledAt      string                `json:"canceled_at,omitempty"`
	RefundedAt      string                `json:"refunded_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		InvoiceNumber:   order.InvoiceNumber,
		Status:          string(order.Status),
		Currency:        order.Currency,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		Totals: orderTotalsPayload{
			Items:    order.Totals.Items,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PaidAt:       formatTimePtr(order.PaidAt),
		ShippedAt:    formatTimePtr(order.ShippedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CanceledAt:   formatTimePtr(order.CanceledAt),
		RefundedAt:   formatTimePtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	if order.PaymentResult != nil {
		payload.PaymentResult = &paymentResultPayload{
			Provider:      order.PaymentResult.Provider,
			TransactionID: order.PaymentResult.TransactionID,
			Status:        order.PaymentResult.Status,
			Amount:        order.PaymentResult.Amount,
			PayerEmail:    order.PaymentResult.PayerEmail,
			ReceivedAt:    formatTime(order.PaymentResult.ReceivedAt),
		}
	}
	return payload
}

type createOrderRequest struct {
	ShippingAddress addressPayload `json:"shipping_address"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)
	if id.UserID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "a user identifier is required to place an order", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		Owner:           id.cartOwner(),
		UserID:          id.UserID,
		ShippingAddress: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

type orderListPayload struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)
	if id.UserID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "a user identifier is required", http.StatusUnauthorized))
		return
	}

	pagination := services.Pagination{
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a non-negative integer", http.StatusBadRequest))
			return
		}
		pagination.PageSize = size
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersCommand{
		UserID:     id.UserID,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderListPayload{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: id.UserID,
		IsAdmin: id.IsAdmin,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)

	var reason string
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		var req cancelOrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
		reason = strings.TrimSpace(req.Reason)
	} else if !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: id.UserID,
		IsAdmin: id.IsAdmin,
		Reason:  reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type createPaymentSessionRequest struct {
	Provider   string `json:"provider"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type paymentSessionPayload struct {
	CorrelationID string `json:"correlation_id"`
	Provider      string `json:"provider"`
	CheckoutURL   string `json:"checkout_url"`
	ExpiresAt     string `json:"expires_at"`
}

func (h *OrderHandlers) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)
	if id.UserID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "a user identifier is required", http.StatusUnauthorized))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(id.UserID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts, retry later", http.StatusTooManyRequests))
		return
	}

	var req createPaymentSessionRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeCartBodyError(ctx, w, err)
		return
	}

	intent, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		ActorID:    id.UserID,
		Provider:   strings.TrimSpace(req.Provider),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentSessionPayload{
		CorrelationID: intent.CorrelationID,
		Provider:      intent.Provider,
		CheckoutURL:   intent.CheckoutURL,
		ExpiresAt:     formatTime(intent.ExpiresAt),
	})
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identityFromRequest(r)
	if !id.IsAdmin {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionOrderCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: services.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID:      id.UserID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no purchasable items", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "one or more items are out of stock", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrCartIdentityRequired):
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "a user or session identifier is required", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process order request", http.StatusInternalServerError))
	}
}
