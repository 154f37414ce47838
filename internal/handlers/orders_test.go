package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/hazelcart/api/internal/domain"
	"github.com/hazelcart/api/internal/services"
)

type orderSvcStub struct {
	order services.Order
	page  domain.CursorPage[services.Order]
	err   error

	created     []services.CreateOrderCommand
	fetched     []services.GetOrderCommand
	listed      []services.ListOrdersCommand
	transitions []services.TransitionOrderCommand
	cancels     []services.CancelOrderCommand
}

func (s *orderSvcStub) CreateFromCart(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.created = append(s.created, cmd)
	return s.order, s.err
}

func (s *orderSvcStub) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	s.fetched = append(s.fetched, cmd)
	return s.order, s.err
}

func (s *orderSvcStub) ListOrders(ctx context.Context, cmd services.ListOrdersCommand) (domain.CursorPage[services.Order], error) {
	s.listed = append(s.listed, cmd)
	return s.page, s.err
}

func (s *orderSvcStub) TransitionStatus(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
	s.transitions = append(s.transitions, cmd)
	return s.order, s.err
}

func (s *orderSvcStub) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	s.cancels = append(s.cancels, cmd)
	return s.order, s.err
}

var _ services.OrderService = (*orderSvcStub)(nil)

type paymentSvcStub struct {
	intent       services.PaymentIntent
	confirmation services.PaymentConfirmation
	swept        int
	err          error

	initiated []services.InitiatePaymentCommand
	confirmed []services.ConfirmPaymentCommand
}

func (s *paymentSvcStub) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntent, error) {
	s.initiated = append(s.initiated, cmd)
	return s.intent, s.err
}

func (s *paymentSvcStub) Confirm(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentConfirmation, error) {
	s.confirmed = append(s.confirmed, cmd)
	return s.confirmation, s.err
}

func (s *paymentSvcStub) SweepExpired(ctx context.Context) (int, error) {
	return s.swept, s.err
}

var _ services.PaymentService = (*paymentSvcStub)(nil)

func testOrder() services.Order {
	paid := time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC)
	return services.Order{
		ID:            "o1",
		OrderNumber:   "202608310001",
		InvoiceNumber: "INV-202608310001",
		UserID:        "u1",
		Status:        domain.OrderStatusProcessing,
		Currency:      "USD",
		Items: []services.OrderItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: 10000, Quantity: 2},
		},
		ShippingAddress: services.Address{
			Recipient:  "Jo Customer",
			Line1:      "1 High St",
			City:       "London",
			PostalCode: "N1 1AA",
			Country:    "GB",
		},
		Totals:    services.OrderTotals{Items: 20000, Shipping: 1000, Tax: 2000, Total: 23000},
		CreatedAt: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC),
		PaidAt:    &paid,
	}
}

type orderRouterFixture struct {
	orders   *orderSvcStub
	payments *paymentSvcStub
	router   http.Handler
}

func newOrderRouterFixture(t *testing.T, limiter rateLimiter) *orderRouterFixture {
	t.Helper()
	orders := &orderSvcStub{order: testOrder()}
	paymentsStub := &paymentSvcStub{
		intent: services.PaymentIntent{
			CorrelationID: "corr-1",
			Provider:      "stripe",
			CheckoutURL:   "https://pay.example.com/cs_test",
			ExpiresAt:     time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC),
		},
	}
	h, err := NewOrderHandlers(OrderHandlersDeps{Orders: orders, Payments: paymentsStub, Limiter: limiter})
	if err != nil {
		t.Fatalf("NewOrderHandlers: %v", err)
	}
	router := NewRouter(
		WithOrderRoutes(h.Routes),
		WithAdminRoutes(h.AdminRoutes),
	)
	return &orderRouterFixture{orders: orders, payments: paymentsStub, router: router}
}

func TestCreateOrderReturnsCreated(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	body := `{"shipping_address":{"recipient":"Jo Customer","line1":"1 High St","city":"London","postal_code":"N1 1AA","country":"GB"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.orders.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(fixture.orders.created))
	}
	cmd := fixture.orders.created[0]
	if cmd.UserID != "u1" || cmd.Owner.SessionID != "s1" {
		t.Fatalf("unexpected command %#v", cmd)
	}
	if cmd.ShippingAddress.Country != "GB" {
		t.Fatalf("unexpected address %#v", cmd.ShippingAddress)
	}

	var payload orderPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.OrderNumber != "202608310001" || payload.Totals.Total != 23000 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.PaidAt != "2026-08-31T12:05:00Z" {
		t.Fatalf("unexpected paid_at %q", payload.PaidAt)
	}
}

func TestCreateOrderRequiresUserIdentity(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(fixture.orders.created) != 0 {
		t.Fatalf("service should not be called without a user")
	}
}

func TestCreateOrderEmptyCartConflicts(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)
	fixture.orders.err = services.ErrOrderEmptyCart

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"shipping_address":{}}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cart_empty") {
		t.Fatalf("expected cart_empty code in %s", rec.Body.String())
	}
}

func TestListOrdersParsesPagination(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)
	fixture.orders.page = domain.CursorPage[services.Order]{
		Items:         []services.Order{testOrder()},
		NextPageToken: "tok2",
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?page_size=5&page_token=tok1", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.orders.listed) != 1 {
		t.Fatalf("expected one list call, got %d", len(fixture.orders.listed))
	}
	cmd := fixture.orders.listed[0]
	if cmd.UserID != "u1" || cmd.Pagination.PageSize != 5 || cmd.Pagination.PageToken != "tok1" {
		t.Fatalf("unexpected command %#v", cmd)
	}

	var payload orderListPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Orders) != 1 || payload.NextPageToken != "tok2" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestGetOrderForbiddenMapsTo403(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)
	fixture.orders.err = services.ErrOrderForbidden

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o1", nil)
	req.Header.Set("X-User-Id", "u2")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCancelOrderPassesReason(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.orders.cancels) != 1 {
		t.Fatalf("expected one cancel call, got %d", len(fixture.orders.cancels))
	}
	cmd := fixture.orders.cancels[0]
	if cmd.OrderID != "o1" || cmd.Reason != "changed my mind" || cmd.IsAdmin {
		t.Fatalf("unexpected command %#v", cmd)
	}
}

func TestCancelOrderWithoutBodySucceeds(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/cancel", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.orders.cancels) != 1 || fixture.orders.cancels[0].Reason != "" {
		t.Fatalf("unexpected cancel calls %#v", fixture.orders.cancels)
	}
}

func TestCancelShippedOrderConflicts(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)
	fixture.orders.err = services.ErrOrderInvalidTransition

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/cancel", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreatePaymentSession(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	body := `{"success_url":"https://shop.example.com/done","cancel_url":"https://shop.example.com/cart"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/payment-session", strings.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.payments.initiated) != 1 {
		t.Fatalf("expected one initiate call, got %d", len(fixture.payments.initiated))
	}
	cmd := fixture.payments.initiated[0]
	if cmd.OrderID != "o1" || cmd.ActorID != "u1" || cmd.SuccessURL != "https://shop.example.com/done" {
		t.Fatalf("unexpected command %#v", cmd)
	}

	var payload paymentSessionPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.CheckoutURL != "https://pay.example.com/cs_test" || payload.CorrelationID != "corr-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestCreatePaymentSessionRateLimited(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	fixture := newOrderRouterFixture(t, newSimpleRateLimiter(1, time.Minute, clock))

	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/payment-session", nil)
		req.Header.Set("X-User-Id", "u1")
		rec := httptest.NewRecorder()
		fixture.router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
		}
	}
	if len(fixture.payments.initiated) != 1 {
		t.Fatalf("expected one initiate call, got %d", len(fixture.payments.initiated))
	}
}

func TestPaymentSessionNotPayableConflicts(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)
	fixture.payments.err = services.ErrPaymentOrderNotPayable

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o1/payment-session", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "order_not_payable") {
		t.Fatalf("expected order_not_payable code in %s", rec.Body.String())
	}
}

func TestUpdateOrderStatusRequiresAdmin(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/o1/status", strings.NewReader(`{"status":"shipped"}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(fixture.orders.transitions) != 0 {
		t.Fatalf("service should not be called without admin role")
	}
}

func TestUpdateOrderStatusAsAdmin(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/o1/status", strings.NewReader(`{"status":"shipped"}`))
	req.Header.Set("X-User-Id", "ops-1")
	req.Header.Set("X-User-Role", "admin")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.orders.transitions) != 1 {
		t.Fatalf("expected one transition call, got %d", len(fixture.orders.transitions))
	}
	cmd := fixture.orders.transitions[0]
	if cmd.TargetStatus != domain.OrderStatusShipped || cmd.ActorID != "ops-1" {
		t.Fatalf("unexpected command %#v", cmd)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	fixture := newOrderRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "route_not_found") {
		t.Fatalf("expected route_not_found code in %s", rec.Body.String())
	}
}
