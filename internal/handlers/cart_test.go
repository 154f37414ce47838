package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazelcart/api/internal/domain"
	"github.com/hazelcart/api/internal/services"
)

type cartSvcStub struct {
	cart services.Cart
	err  error

	reconciled []services.CartOwner
	added      []services.AddCartItemCommand
	updated    []services.UpdateCartItemCommand
	removed    []services.RemoveCartItemCommand
	coupons    []services.ApplyCouponCommand
	shipping   []services.SetShippingMethodCommand
	cleared    []services.CartOwner
}

func (s *cartSvcStub) Reconcile(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	s.reconciled = append(s.reconciled, owner)
	return s.cart, s.err
}

func (s *cartSvcStub) GetCart(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	return s.cart, s.err
}

func (s *cartSvcStub) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	s.added = append(s.added, cmd)
	return s.cart, s.err
}

func (s *cartSvcStub) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	s.updated = append(s.updated, cmd)
	return s.cart, s.err
}

func (s *cartSvcStub) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	s.removed = append(s.removed, cmd)
	return s.cart, s.err
}

func (s *cartSvcStub) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
	s.coupons = append(s.coupons, cmd)
	return s.cart, s.err
}

func (s *cartSvcStub) RemoveCoupon(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	return s.cart, s.err
}

func (s *cartSvcStub) SetShippingMethod(ctx context.Context, cmd services.SetShippingMethodCommand) (services.Cart, error) {
	s.shipping = append(s.shipping, cmd)
	return s.cart, s.err
}

func (s *cartSvcStub) Clear(ctx context.Context, owner services.CartOwner) error {
	s.cleared = append(s.cleared, owner)
	return s.err
}

var _ services.CartService = (*cartSvcStub)(nil)

func testCart() services.Cart {
	return services.Cart{
		ID:       "cart-1",
		Owner:    services.CartOwner{UserID: "u1"},
		Currency: "USD",
		Items: []services.CartItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: 1200, Quantity: 2, AddedAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)},
		},
		UpdatedAt: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
}

func newCartTestRouter(stub *cartSvcStub) http.Handler {
	handlersSet, err := NewCartHandlers(stub)
	if err != nil {
		panic(err)
	}
	return NewRouter(WithCartRoutes(handlersSet.Routes))
}

func TestGetCartReconcilesBothIdentities(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.reconciled) != 1 {
		t.Fatalf("expected one reconcile call, got %d", len(stub.reconciled))
	}
	owner := stub.reconciled[0]
	if owner.UserID != "u1" || owner.SessionID != "s1" {
		t.Fatalf("unexpected owner %#v", owner)
	}

	var payload cartPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Subtotal != 2400 {
		t.Fatalf("expected subtotal 2400, got %d", payload.Subtotal)
	}
	if len(payload.Items) != 1 || payload.Items[0].ProductID != "p1" {
		t.Fatalf("unexpected items %#v", payload.Items)
	}
}

func TestGetCartWithoutIdentityIsUnauthorized(t *testing.T) {
	stub := &cartSvcStub{err: services.ErrCartIdentityRequired}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "identity_required") {
		t.Fatalf("expected identity_required code in %s", rec.Body.String())
	}
}

func TestAddItemDefaultsQuantity(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_id":"p1","variant":"red"}`))
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.added) != 1 {
		t.Fatalf("expected one add call, got %d", len(stub.added))
	}
	cmd := stub.added[0]
	if cmd.ProductID != "p1" || cmd.Variant != "red" || cmd.Quantity != 1 {
		t.Fatalf("unexpected command %#v", cmd)
	}
	if cmd.Owner.SessionID != "s1" || cmd.Owner.UserID != "" {
		t.Fatalf("unexpected owner %#v", cmd.Owner)
	}
}

func TestAddItemRejectsEmptyBody(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("  "))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(stub.added) != 0 {
		t.Fatalf("service should not be called on empty body")
	}
}

func TestAddItemUnavailableProductConflicts(t *testing.T) {
	stub := &cartSvcStub{err: services.ErrCartProductUnavailable}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_id":"p-gone","quantity":1}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "product_unavailable") {
		t.Fatalf("expected product_unavailable code in %s", rec.Body.String())
	}
}

func TestUpdateItemQuantityUsesPathProduct(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/p1", strings.NewReader(`{"quantity":3,"variant":"red"}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.updated) != 1 {
		t.Fatalf("expected one update call, got %d", len(stub.updated))
	}
	cmd := stub.updated[0]
	if cmd.ProductID != "p1" || cmd.Quantity != 3 || cmd.Variant != "red" {
		t.Fatalf("unexpected command %#v", cmd)
	}
}

func TestUpdateMissingItemReturns404(t *testing.T) {
	stub := &cartSvcStub{err: services.ErrCartItemNotFound}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/p9", strings.NewReader(`{"quantity":2}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRemoveItemPassesVariantFromQuery(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/p1?variant=blue", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(stub.removed) != 1 || stub.removed[0].Variant != "blue" {
		t.Fatalf("unexpected remove calls %#v", stub.removed)
	}
}

func TestApplyCouponNormalisesInput(t *testing.T) {
	stub := &cartSvcStub{cart: testCart()}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/coupon", strings.NewReader(`{"code":" ten ","kind":"percentage","value":10}`))
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stub.coupons) != 1 {
		t.Fatalf("expected one coupon call, got %d", len(stub.coupons))
	}
	coupon := stub.coupons[0].Coupon
	if coupon.Code != "ten" || coupon.Kind != domain.CouponPercentage || coupon.Value != 10 {
		t.Fatalf("unexpected coupon %#v", coupon)
	}
}

func TestClearCartReturnsNoContent(t *testing.T) {
	stub := &cartSvcStub{}
	router := newCartTestRouter(stub)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(stub.cleared) != 1 {
		t.Fatalf("expected one clear call, got %d", len(stub.cleared))
	}
}
