package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hazelcart/api/internal/domain"
	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/repositories"
)

const cartsCollection = "carts"

type cartDocument struct {
	UserID         string                  `firestore:"userId,omitempty"`
	SessionID      string                  `firestore:"sessionId,omitempty"`
	Currency       string                  `firestore:"currency"`
	Items          []cartItemDocument      `firestore:"items"`
	Coupon         *cartCouponDocument     `firestore:"coupon,omitempty"`
	ShippingMethod *shippingMethodDocument `firestore:"shippingMethod,omitempty"`
	CreatedAt      time.Time               `firestore:"createdAt"`
	UpdatedAt      time.Time               `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	Image     string    `firestore:"image,omitempty"`
	Variant   string    `firestore:"variant,omitempty"`
	UnitPrice int64     `firestore:"unitPrice"`
	Quantity  int       `firestore:"qty"`
	AddedAt   time.Time `firestore:"addedAt"`
}

type cartCouponDocument struct {
	Code  string `firestore:"code"`
	Kind  string `firestore:"kind"`
	Value int64  `firestore:"value"`
}

type shippingMethodDocument struct {
	Code  string `firestore:"code"`
	Name  string `firestore:"name"`
	Price int64  `firestore:"price"`
}

// CartRepository persists cart documents within Firestore. Documents are keyed
// by the owner key so a user and a guest session never collide.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Upsert writes the full cart document in a single set. Callers mutate the
// in-memory cart first so each logical operation produces exactly one write.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := cart.Owner.Key()
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: cart owner is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := newCartDocument(cart)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now

	result, err := r.base.Set(ctx, key, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(key)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Get loads the cart for the given owner.
func (r *CartRepository) Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := owner.Key()
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: cart owner is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := doc.Data.toDomain(doc.ID)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// Delete removes the cart document for the given owner. Deleting a missing
// cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, owner domain.CartOwner) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := owner.Key()
	if key == "" {
		return errors.New("cart repository: cart owner is required")
	}

	ref, err := r.base.DocumentRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("carts.delete", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Image:     strings.TrimSpace(item.Image),
			Variant:   strings.TrimSpace(item.Variant),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
		}
	}

	doc := cartDocument{
		UserID:    strings.TrimSpace(cart.Owner.UserID),
		SessionID: strings.TrimSpace(cart.Owner.SessionID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     items,
	}
	if cart.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:  strings.TrimSpace(cart.Coupon.Code),
			Kind:  string(cart.Coupon.Kind),
			Value: cart.Coupon.Value,
		}
	}
	if cart.ShippingMethod != nil {
		doc.ShippingMethod = &shippingMethodDocument{
			Code:  strings.TrimSpace(cart.ShippingMethod.Code),
			Name:  strings.TrimSpace(cart.ShippingMethod.Name),
			Price: cart.ShippingMethod.Price,
		}
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		}
	}

	cart := domain.Cart{
		ID: id,
		Owner: domain.CartOwner{
			UserID:    strings.TrimSpace(d.UserID),
			SessionID: strings.TrimSpace(d.SessionID),
		},
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Coupon != nil {
		cart.Coupon = &domain.Coupon{
			Code:  d.Coupon.Code,
			Kind:  domain.CouponKind(d.Coupon.Kind),
			Value: d.Coupon.Value,
		}
	}
	if d.ShippingMethod != nil {
		cart.ShippingMethod = &domain.ShippingMethod{
			Code:  d.ShippingMethod.Code,
			Name:  d.ShippingMethod.Name,
			Price: d.ShippingMethod.Price,
		}
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
