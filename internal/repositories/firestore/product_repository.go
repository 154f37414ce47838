package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hazelcart/api/internal/domain"
	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name         string    `firestore:"name"`
	Image        string    `firestore:"image,omitempty"`
	Price        int64     `firestore:"price"`
	CountInStock int       `firestore:"countInStock"`
	IsActive     bool      `firestore:"isActive"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         strings.TrimSpace(d.Name),
		Image:        strings.TrimSpace(d.Image),
		Price:        d.Price,
		CountInStock: d.CountInStock,
		IsActive:     d.IsActive,
		UpdatedAt:    d.UpdatedAt,
	}
}

// ProductRepository persists catalog records and owns the stock counters within Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID loads a single product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the requested products in one round trip. Missing documents
// are simply absent from the result map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	if len(productIDs) == 0 {
		return map[string]domain.Product{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, productID := range productIDs {
		id := strings.TrimSpace(productID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return products, nil
}

// DecrementStock decrements countInStock inside a transaction, failing with an
// insufficient stock error when the current value is below qty.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}
	if qty <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("quantity must be > 0, got %d", qty), nil)
	}

	now := time.Now().UTC()
	var updated domain.Product

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}
		if doc.CountInStock < qty {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", id), nil)
		}

		doc.CountInStock -= qty
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("products.decrementStock", err)
	}
	return updated, nil
}

// IncrementStock adds qty back to countInStock inside a transaction.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}
	if qty <= 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("quantity must be > 0, got %d", qty), nil)
	}

	now := time.Now().UTC()
	var updated domain.Product

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}

		doc.CountInStock += qty
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("products.incrementStock", err)
	}
	return updated, nil
}

// Upsert writes the full product document.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "product id is required", nil)
	}

	now := time.Now().UTC()
	if !product.UpdatedAt.IsZero() {
		now = product.UpdatedAt.UTC()
	}
	doc := productDocument{
		Name:         strings.TrimSpace(product.Name),
		Image:        strings.TrimSpace(product.Image),
		Price:        product.Price,
		CountInStock: product.CountInStock,
		IsActive:     product.IsActive,
		UpdatedAt:    now,
	}

	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(id), nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
