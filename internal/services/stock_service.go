package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hazelcart/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrStockProductNotFound indicates the product has no stock record.
	ErrStockProductNotFound = errors.New("stock: product not found")
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

// Reserve decrements the stock counter for one product. The decrement is
// conditional on the full quantity being available.
func (s *stockService) Reserve(ctx context.Context, productID string, qty int) error {
	id := strings.TrimSpace(productID)
	if id == "" {
		return fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
	}

	if _, err := s.products.DecrementStock(ctx, id, qty); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// Release adds the quantity back unconditionally.
func (s *stockService) Release(ctx context.Context, productID string, qty int) error {
	id := strings.TrimSpace(productID)
	if id == "" {
		return fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
	}

	if _, err := s.products.IncrementStock(ctx, id, qty); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// ReserveLines reserves every line or none. Lines are processed in ascending
// product ID order so concurrent batches never deadlock against each other.
// When a line fails, the already reserved lines are released before returning.
func (s *stockService) ReserveLines(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	for idx, line := range normalised {
		if _, err := s.products.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			s.compensate(ctx, normalised[:idx])
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// ReleaseLines restores every line, continuing past individual failures so a
// partial outage cannot strand the remaining quantities.
func (s *stockService) ReleaseLines(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	var failed error
	for _, line := range normalised {
		if _, err := s.products.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger(ctx, "stock_release_failed", map[string]any{
				"productId": line.ProductID,
				"qty":       line.Quantity,
				"error":     err.Error(),
			})
			failed = errors.Join(failed, s.mapRepositoryError(err))
		}
	}
	return failed
}

func (s *stockService) compensate(ctx context.Context, reserved []StockLine) {
	for _, line := range reserved {
		if _, err := s.products.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger(ctx, "stock_compensation_failed", map[string]any{
				"productId": line.ProductID,
				"qty":       line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, stockErr.Message)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrStockProductNotFound, stockErr.Message)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}
	return err
}

func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}

	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, id)
		}
		aggregated[id] += line.Quantity
	}

	result := make([]StockLine, 0, len(aggregated))
	for id, qty := range aggregated {
		result = append(result, StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}
