package services

import (
	"errors"
	"fmt"
	"math"

	domain "github.com/hazelcart/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad input such as negative prices or quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingOverflow indicates the totals exceeded the representable range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

// PricingEngine computes order totals from a cart snapshot. All amounts are
// integer minor currency units; rounding happens half-up exactly once, at the
// output boundary of each derived amount. The engine holds no state and never
// touches storage.
type PricingEngine struct {
	taxRateBp       int64
	defaultShipping int64
}

// PricingEngineConfig carries the static rates applied to every quote.
type PricingEngineConfig struct {
	// TaxRateBp is the tax rate in basis points (1000 = 10%).
	TaxRateBp int64
	// DefaultShippingPrice applies when the cart has no shipping method selected.
	DefaultShippingPrice int64
}

// NewPricingEngine validates the configured rates and returns an engine.
func NewPricingEngine(cfg PricingEngineConfig) (*PricingEngine, error) {
	if cfg.TaxRateBp < 0 {
		return nil, fmt.Errorf("%w: tax rate must be >= 0 basis points", ErrPricingInvalidInput)
	}
	if cfg.DefaultShippingPrice < 0 {
		return nil, fmt.Errorf("%w: shipping price must be >= 0", ErrPricingInvalidInput)
	}
	return &PricingEngine{
		taxRateBp:       cfg.TaxRateBp,
		defaultShipping: cfg.DefaultShippingPrice,
	}, nil
}

// Quote derives the full totals breakdown for the cart. The identity
// total = items - discount + shipping + tax holds for every result.
func (e *PricingEngine) Quote(cart Cart) (OrderTotals, error) {
	itemsPrice, err := e.itemsPrice(cart)
	if err != nil {
		return OrderTotals{}, err
	}

	shippingPrice := e.defaultShipping
	if cart.ShippingMethod != nil {
		if cart.ShippingMethod.Price < 0 {
			return OrderTotals{}, fmt.Errorf("%w: shipping price must be >= 0", ErrPricingInvalidInput)
		}
		shippingPrice = cart.ShippingMethod.Price
	}

	discountPrice, shippingPrice, err := e.applyCoupon(cart.Coupon, itemsPrice, shippingPrice)
	if err != nil {
		return OrderTotals{}, err
	}

	taxable := itemsPrice - discountPrice
	taxPrice, err := mulDivHalfUp(taxable, e.taxRateBp, 10000)
	if err != nil {
		return OrderTotals{}, err
	}

	total := taxable + shippingPrice
	if taxPrice > 0 && total > math.MaxInt64-taxPrice {
		return OrderTotals{}, ErrPricingOverflow
	}
	total += taxPrice

	return OrderTotals{
		Items:    itemsPrice,
		Discount: discountPrice,
		Shipping: shippingPrice,
		Tax:      taxPrice,
		Total:    total,
	}, nil
}

func (e *PricingEngine) itemsPrice(cart Cart) (int64, error) {
	var subtotal int64
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("%w: item %s quantity must be positive", ErrPricingInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: item %s unit price cannot be negative", ErrPricingInvalidInput, item.ProductID)
		}

		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return 0, ErrPricingOverflow
		}
		line := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-line {
			return 0, ErrPricingOverflow
		}
		subtotal += line
	}
	return subtotal, nil
}

// applyCoupon returns the items discount and the possibly zeroed shipping
// price. A discount never exceeds the items subtotal and never reaches
// shipping or tax except through the free shipping kind.
func (e *PricingEngine) applyCoupon(coupon *Coupon, itemsPrice, shippingPrice int64) (int64, int64, error) {
	if coupon == nil {
		return 0, shippingPrice, nil
	}
	if coupon.Value < 0 {
		return 0, 0, fmt.Errorf("%w: coupon value cannot be negative", ErrPricingInvalidInput)
	}

	switch coupon.Kind {
	case domain.CouponPercentage:
		if coupon.Value > 100 {
			return 0, 0, fmt.Errorf("%w: percentage coupon cannot exceed 100", ErrPricingInvalidInput)
		}
		discount, err := mulDivHalfUp(itemsPrice, coupon.Value, 100)
		if err != nil {
			return 0, 0, err
		}
		return discount, shippingPrice, nil
	case domain.CouponFixed:
		discount := coupon.Value
		if discount > itemsPrice {
			discount = itemsPrice
		}
		return discount, shippingPrice, nil
	case domain.CouponFreeShipping:
		return 0, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown coupon kind %q", ErrPricingInvalidInput, coupon.Kind)
	}
}

// mulDivHalfUp computes value*rate/scale with half-up rounding on the final
// division, guarding against intermediate overflow.
func mulDivHalfUp(value, rate, scale int64) (int64, error) {
	if value < 0 || rate < 0 || scale <= 0 {
		return 0, fmt.Errorf("%w: negative amount in rounding", ErrPricingInvalidInput)
	}
	if value == 0 || rate == 0 {
		return 0, nil
	}
	if value > math.MaxInt64/rate {
		return 0, ErrPricingOverflow
	}
	product := value * rate
	quotient := product / scale
	remainder := product % scale
	if remainder*2 >= scale {
		quotient++
	}
	return quotient, nil
}
