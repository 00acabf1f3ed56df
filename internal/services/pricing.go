package services

import (
	"math"

	domain "github.com/atelier-noir/api/internal/domain"
)

const basisPointsDenominator = 10000

// PricingRules are the store-wide pricing parameters. Amounts are whole currency units.
type PricingRules struct {
	Currency              string
	FreeShippingThreshold int64
	FlatShippingFee       int64
	TaxRateBPS            int64
}

// Price computes the money block for items. Tax is rounded half-up. Amounts that do not fit
// in an int64 fail with ErrCheckoutInvalidInput.
func (r PricingRules) Price(items []domain.OrderItem) (domain.Pricing, error) {
	var subtotal int64
	for _, item := range items {
		next, ok := addAmounts(subtotal, item.LineTotal)
		if !ok {
			return domain.Pricing{}, ErrCheckoutInvalidInput
		}
		subtotal = next
	}
	shipping := r.FlatShippingFee
	if subtotal >= r.FreeShippingThreshold {
		shipping = 0
	}
	scaled, ok := mulAmounts(subtotal, r.TaxRateBPS)
	if !ok {
		return domain.Pricing{}, ErrCheckoutInvalidInput
	}
	scaled, ok = addAmounts(scaled, basisPointsDenominator/2)
	if !ok {
		return domain.Pricing{}, ErrCheckoutInvalidInput
	}
	tax := scaled / basisPointsDenominator
	total, ok := addAmounts(subtotal, shipping)
	if ok {
		total, ok = addAmounts(total, tax)
	}
	if !ok {
		return domain.Pricing{}, ErrCheckoutInvalidInput
	}
	return domain.Pricing{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    total,
		Currency: r.Currency,
	}, nil
}

// addAmounts adds two non-negative amounts, reporting false on overflow or negative input.
func addAmounts(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// mulAmounts multiplies two non-negative amounts, reporting false on overflow or negative input.
func mulAmounts(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}
