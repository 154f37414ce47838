package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazelcart/api/internal/platform/httpx"
	"github.com/hazelcart/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the cart endpoints. Every read runs through the
// reconcile path so responses never show stale product snapshots.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs the cart endpoints.
func NewCartHandlers(carts services.CartService) (*CartHandlers, error) {
	if carts == nil {
		return nil, errors.New("cart handlers: cart service is required")
	}
	return &CartHandlers{carts: carts}, nil
}

// Routes attaches the cart endpoints to the router group.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Put("/shipping-method", h.setShippingMethod)
}

type cartItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"added_at,omitempty"`
}

type cartCouponPayload struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Value int64  `json:"value"`
}

type cartShippingPayload struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type cartPayload struct {
	ID             string               `json:"id,omitempty"`
	Currency       string               `json:"currency"`
	Items          []cartItemPayload    `json:"items"`
	Coupon         *cartCouponPayload   `json:"coupon,omitempty"`
	ShippingMethod *cartShippingPayload `json:"shipping_method,omitempty"`
	Subtotal       int64                `json:"subtotal"`
	UpdatedAt      string               `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:       cart.ID,
		Currency: cart.Currency,
		Items:    make([]cartItemPayload, 0, len(cart.Items)),
		Subtotal: cart.Subtotal(),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		payload.Items = append(payload.Items, entry)
	}
	if cart.Coupon != nil {
		payload.Coupon = &cartCouponPayload{
			Code:  cart.Coupon.Code,
			Kind:  string(cart.Coupon.Kind),
			Value: cart.Coupon.Value,
		}
	}
	if cart.ShippingMethod != nil {
		payload.ShippingMethod = &cartShippingPayload{
			Code:  cart.ShippingMethod.Code,
			Name:  cart.ShippingMethod.Name,
			Price: cart.ShippingMethod.Price,
		}
	}
	return payload
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cart, err := h.carts.Reconcile(ctx, identityFromRequest(r).cartOwner())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.carts.Clear(ctx, identityFromRequest(r).cartOwner()); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Owner:     identityFromRequest(r).cartOwner(),
		ProductID: strings.TrimSpace(req.ProductID),
		Variant:   strings.TrimSpace(req.Variant),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

type updateCartItemRequest struct {
	Variant  string `json:"variant"`
	Quantity int    `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		Owner:     identityFromRequest(r).cartOwner(),
		ProductID: chi.URLParam(r, "productID"),
		Variant:   strings.TrimSpace(req.Variant),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		Owner:     identityFromRequest(r).cartOwner(),
		ProductID: chi.URLParam(r, "productID"),
		Variant:   strings.TrimSpace(r.URL.Query().Get("variant")),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

type applyCouponRequest struct {
	Code  string `json:"code"`
	Kind  string `json:"kind"`
	Value int64  `json:"value"`
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req applyCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyCoupon(ctx, services.ApplyCouponCommand{
		Owner: identityFromRequest(r).cartOwner(),
		Coupon: services.Coupon{
			Code:  strings.TrimSpace(req.Code),
			Kind:  services.CouponKind(strings.TrimSpace(req.Kind)),
			Value: req.Value,
		},
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cart, err := h.carts.RemoveCoupon(ctx, identityFromRequest(r).cartOwner())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

type setShippingMethodRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

func (h *CartHandlers) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	var req setShippingMethodRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SetShippingMethod(ctx, services.SetShippingMethodCommand{
		Owner: identityFromRequest(r).cartOwner(),
		Method: services.ShippingMethod{
			Code:  strings.TrimSpace(req.Code),
			Name:  strings.TrimSpace(req.Name),
			Price: req.Price,
		},
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func writeCartBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", maxCartBodySize), http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartIdentityRequired):
		httpx.WriteError(ctx, w, httpx.NewError("identity_required", "a user or session identifier is required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "product is unavailable or out of stock", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
