package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazelcart/api/internal/repositories"

	domain "github.com/hazelcart/api/internal/domain"
)

var (
	// ErrCartIdentityRequired signals a request with neither user nor session identity.
	ErrCartIdentityRequired = errors.New("cart: identity required")
	// ErrCartInvalidInput signals malformed cart mutation arguments.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound signals the referenced line is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartProductUnavailable signals the product is deleted, inactive or out of stock.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
)

// CartServiceDeps bundles the collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Currency string
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	currency string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		currency: currency,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Reconcile merges the guest session cart into the user cart when both
// identities are present, then returns the repaired result. Lines matching on
// product and variant are summed; sums beyond available stock are clamped.
// The session cart is deleted after a successful merge so the guest identity
// never resurrects stale lines.
func (s *cartService) Reconcile(ctx context.Context, owner CartOwner) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	if owner.UserID == "" || owner.SessionID == "" {
		return s.GetCart(ctx, owner)
	}

	userOwner := CartOwner{UserID: owner.UserID}
	sessionOwner := CartOwner{SessionID: owner.SessionID}

	userCart, err := s.loadOrEmpty(ctx, userOwner)
	if err != nil {
		return Cart{}, err
	}
	sessionCart, err := s.loadOrEmpty(ctx, sessionOwner)
	if err != nil {
		return Cart{}, err
	}

	if len(sessionCart.Items) == 0 && sessionCart.Coupon == nil && sessionCart.ShippingMethod == nil {
		return s.repairAndSave(ctx, userCart, false)
	}

	merged := s.mergeCarts(userCart, sessionCart)
	result, err := s.repairAndSave(ctx, merged, true)
	if err != nil {
		return Cart{}, err
	}

	if err := s.carts.Delete(ctx, sessionOwner); err != nil {
		s.logger(ctx, "cart_session_delete_failed", map[string]any{
			"sessionId": owner.SessionID,
			"error":     err.Error(),
		})
	}
	return result, nil
}

// GetCart loads and repairs the cart for one identity. A missing cart reads
// as an empty cart rather than an error.
func (s *cartService) GetCart(ctx context.Context, owner CartOwner) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	cart, err := s.loadOrEmpty(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	return s.repairAndSave(ctx, cart, false)
}

// AddItem appends a product line, merging with an existing line for the same
// product and variant. Quantities are capped at the available stock.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if cmd.Owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Cart{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
		}
		return Cart{}, err
	}
	if !product.IsActive || product.CountInStock <= 0 {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
	}

	cart, err := s.loadOrEmpty(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	variant := strings.TrimSpace(cmd.Variant)
	idx := findCartLine(cart.Items, productID, variant)
	if idx >= 0 {
		cart.Items[idx].Quantity += cmd.Quantity
		cart.Items[idx].UnitPrice = product.Price
		cart.Items[idx].Name = product.Name
		cart.Items[idx].Image = product.Image
		if cart.Items[idx].Quantity > product.CountInStock {
			cart.Items[idx].Quantity = product.CountInStock
		}
	} else {
		qty := cmd.Quantity
		if qty > product.CountInStock {
			qty = product.CountInStock
		}
		cart.Items = append(cart.Items, CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     product.Image,
			Variant:   variant,
			UnitPrice: product.Price,
			Quantity:  qty,
			AddedAt:   now,
		})
	}

	return s.repairAndSave(ctx, cart, true)
}

// UpdateItemQuantity replaces the quantity of an existing line. The value is
// clamped to available stock during the repair pass.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if cmd.Owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	cart, err := s.loadOrEmpty(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}

	idx := findCartLine(cart.Items, strings.TrimSpace(cmd.ProductID), strings.TrimSpace(cmd.Variant))
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartItemNotFound, cmd.ProductID)
	}
	cart.Items[idx].Quantity = cmd.Quantity

	return s.repairAndSave(ctx, cart, true)
}

// RemoveItem drops a line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if cmd.Owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}

	cart, err := s.loadOrEmpty(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}

	idx := findCartLine(cart.Items, strings.TrimSpace(cmd.ProductID), strings.TrimSpace(cmd.Variant))
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: product %s", ErrCartItemNotFound, cmd.ProductID)
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	return s.repairAndSave(ctx, cart, true)
}

// ApplyCoupon attaches a discount to the cart. Validation mirrors the pricing
// rules so a stored coupon can always be quoted.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	if cmd.Owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	coupon := cmd.Coupon
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" {
		return Cart{}, fmt.Errorf("%w: coupon code is required", ErrCartInvalidInput)
	}
	if coupon.Value < 0 {
		return Cart{}, fmt.Errorf("%w: coupon value cannot be negative", ErrCartInvalidInput)
	}
	switch coupon.Kind {
	case domain.CouponPercentage:
		if coupon.Value > 100 {
			return Cart{}, fmt.Errorf("%w: percentage coupon cannot exceed 100", ErrCartInvalidInput)
		}
	case domain.CouponFixed, domain.CouponFreeShipping:
	default:
		return Cart{}, fmt.Errorf("%w: unknown coupon kind %q", ErrCartInvalidInput, coupon.Kind)
	}

	cart, err := s.loadOrEmpty(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	cart.Coupon = &coupon

	return s.repairAndSave(ctx, cart, true)
}

// RemoveCoupon clears any attached discount.
func (s *cartService) RemoveCoupon(ctx context.Context, owner CartOwner) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}

	cart, err := s.loadOrEmpty(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	cart.Coupon = nil

	return s.repairAndSave(ctx, cart, true)
}

// SetShippingMethod stores the selected shipping method on the cart.
func (s *cartService) SetShippingMethod(ctx context.Context, cmd SetShippingMethodCommand) (Cart, error) {
	if cmd.Owner.IsZero() {
		return Cart{}, ErrCartIdentityRequired
	}
	method := cmd.Method
	method.Code = strings.TrimSpace(method.Code)
	if method.Code == "" {
		return Cart{}, fmt.Errorf("%w: shipping method code is required", ErrCartInvalidInput)
	}
	if method.Price < 0 {
		return Cart{}, fmt.Errorf("%w: shipping price cannot be negative", ErrCartInvalidInput)
	}

	cart, err := s.loadOrEmpty(ctx, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	cart.ShippingMethod = &method

	return s.repairAndSave(ctx, cart, true)
}

// Clear empties the cart in place. The document survives with no items,
// coupon, or shipping selection so the owner's next visit starts from the
// same cart identity.
func (s *cartService) Clear(ctx context.Context, owner CartOwner) error {
	if owner.IsZero() {
		return ErrCartIdentityRequired
	}

	cart, err := s.loadOrEmpty(ctx, owner)
	if err != nil {
		return err
	}
	cart.Items = nil
	cart.Coupon = nil
	cart.ShippingMethod = nil
	cart.UpdatedAt = s.clock()

	if _, err := s.carts.Upsert(ctx, cart); err != nil {
		return err
	}
	return nil
}

// loadOrEmpty reads the cart for the owner, mapping a missing document to a
// fresh empty cart with the default currency.
func (s *cartService) loadOrEmpty(ctx context.Context, owner CartOwner) (Cart, error) {
	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Cart{
				Owner:    owner,
				Currency: s.currency,
			}, nil
		}
		return Cart{}, err
	}
	cart.Owner = owner
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	return cart, nil
}

// mergeCarts folds the session cart into the user cart. The user cart wins on
// conflicting coupon or shipping selections.
func (s *cartService) mergeCarts(userCart, sessionCart Cart) Cart {
	merged := userCart
	for _, item := range sessionCart.Items {
		idx := findCartLine(merged.Items, item.ProductID, item.Variant)
		if idx >= 0 {
			merged.Items[idx].Quantity += item.Quantity
			continue
		}
		merged.Items = append(merged.Items, item)
	}
	if merged.Coupon == nil {
		merged.Coupon = sessionCart.Coupon
	}
	if merged.ShippingMethod == nil {
		merged.ShippingMethod = sessionCart.ShippingMethod
	}
	return merged
}

// repairAndSave revalidates every line against the live product records and
// persists the cart with exactly one write. Deleted, inactive and out of
// stock products are dropped, prices refreshed, and quantities clamped to
// available stock with a floor of one. When force is false the cart is only
// written back if the repair changed it.
func (s *cartService) repairAndSave(ctx context.Context, cart Cart, force bool) (Cart, error) {
	repaired, changed, err := s.repair(ctx, cart)
	if err != nil {
		return Cart{}, err
	}

	if !force && !changed {
		return repaired, nil
	}

	repaired.UpdatedAt = s.clock()
	if repaired.CreatedAt.IsZero() {
		repaired.CreatedAt = repaired.UpdatedAt
	}

	saved, err := s.carts.Upsert(ctx, repaired)
	if err != nil {
		return Cart{}, err
	}
	return saved, nil
}

func (s *cartService) repair(ctx context.Context, cart Cart) (Cart, bool, error) {
	if len(cart.Items) == 0 {
		return cart, false, nil
	}

	ids := make([]string, 0, len(cart.Items))
	seen := make(map[string]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return Cart{}, false, err
	}

	changed := false
	kept := cart.Items[:0:0]
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive || product.CountInStock <= 0 {
			changed = true
			continue
		}
		if item.UnitPrice != product.Price {
			item.UnitPrice = product.Price
			changed = true
		}
		if item.Name != product.Name {
			item.Name = product.Name
			changed = true
		}
		if item.Quantity > product.CountInStock {
			item.Quantity = product.CountInStock
			changed = true
		}
		if item.Quantity < 1 {
			item.Quantity = 1
			changed = true
		}
		kept = append(kept, item)
	}
	cart.Items = kept
	return cart, changed, nil
}

func findCartLine(items []CartItem, productID, variant string) int {
	for i, item := range items {
		if item.ProductID == productID && item.Variant == variant {
			return i
		}
	}
	return -1
}

// isRepositoryNotFound inspects the typed repository error chain.
func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
