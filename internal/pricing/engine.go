// Package pricing implements the pure money and discount calculations used
// by checkout and order creation. Nothing in here performs I/O.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vesture-shop/api/internal/domain"
)

// ErrUnknownCoupon signals that a coupon code does not resolve. Callers at
// the checkout layer treat this as "no discount applied" with a user-visible
// notice rather than a failure.
var ErrUnknownCoupon = errors.New("pricing: unknown coupon code")

const (
	defaultFreeShippingThreshold = domain.Amount(99900) // 999.00
	defaultFlatShippingFee       = domain.Amount(4900)  // 49.00
)

// Config tunes the shipping step function and seeds the coupon table.
type Config struct {
	FreeShippingThreshold domain.Amount
	FlatShippingFee       domain.Amount
	Coupons               []domain.DiscountInfo
}

// Engine computes subtotals, discounts, shipping, and order totals.
type Engine struct {
	freeShippingThreshold domain.Amount
	flatShippingFee       domain.Amount
	coupons               map[string]domain.DiscountInfo
}

// NewEngine builds an Engine, falling back to the default shipping step
// function and the built-in coupon table when the config leaves them unset.
func NewEngine(cfg Config) *Engine {
	threshold := cfg.FreeShippingThreshold
	if threshold <= 0 {
		threshold = defaultFreeShippingThreshold
	}
	fee := cfg.FlatShippingFee
	if fee < 0 {
		fee = defaultFlatShippingFee
	}
	if cfg.FlatShippingFee == 0 {
		fee = defaultFlatShippingFee
	}

	coupons := cfg.Coupons
	if len(coupons) == 0 {
		coupons = defaultCoupons()
	}

	table := make(map[string]domain.DiscountInfo, len(coupons))
	for _, c := range coupons {
		table[normaliseCode(c.Code)] = c
	}

	return &Engine{
		freeShippingThreshold: threshold,
		flatShippingFee:       fee,
		coupons:               table,
	}
}

// Subtotal sums unit price times quantity over all line items.
func (e *Engine) Subtotal(items []domain.OrderItem) domain.Amount {
	var subtotal domain.Amount
	for _, item := range items {
		subtotal += item.UnitPrice * domain.Amount(item.Quantity)
	}
	return subtotal
}

// ResolveCoupon maps a code to its DiscountInfo or fails with ErrUnknownCoupon.
func (e *Engine) ResolveCoupon(code string) (domain.DiscountInfo, error) {
	normalised := normaliseCode(code)
	if normalised == "" {
		return domain.DiscountInfo{}, fmt.Errorf("%w: empty code", ErrUnknownCoupon)
	}
	info, ok := e.coupons[normalised]
	if !ok {
		return domain.DiscountInfo{}, fmt.Errorf("%w: %q", ErrUnknownCoupon, code)
	}
	return info, nil
}

// ApplyDiscount returns the subtotal after the discount, clamped at zero.
func (e *Engine) ApplyDiscount(subtotal domain.Amount, discount domain.DiscountInfo) domain.Amount {
	return e.Total(subtotal, discount.AmountOff(subtotal))
}

// Total computes max(0, subtotal - discountAmount).
func (e *Engine) Total(subtotal, discountAmount domain.Amount) domain.Amount {
	total := subtotal - discountAmount
	if total < 0 {
		total = 0
	}
	return total
}

// ShippingCost is a step function: free at or above the threshold, a flat
// fee below it. The threshold applies to the pre-discount subtotal.
func (e *Engine) ShippingCost(subtotal domain.Amount) domain.Amount {
	if subtotal >= e.freeShippingThreshold {
		return 0
	}
	return e.flatShippingFee
}

// Quote resolves the optional coupon code and produces the full totals
// breakdown. An unknown or empty code is not an error here: the returned
// notice carries the user-visible message and no discount is applied.
func (e *Engine) Quote(items []domain.OrderItem, couponCode string) (domain.OrderTotals, string) {
	subtotal := e.Subtotal(items)

	var discount domain.Amount
	notice := ""
	if strings.TrimSpace(couponCode) != "" {
		info, err := e.ResolveCoupon(couponCode)
		if err != nil {
			notice = fmt.Sprintf("Coupon code %q is not valid; no discount was applied.", strings.TrimSpace(couponCode))
		} else {
			discount = info.AmountOff(subtotal)
		}
	}

	shipping := e.ShippingCost(subtotal)

	return domain.OrderTotals{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Total:    e.Total(subtotal, discount) + shipping,
	}, notice
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func defaultCoupons() []domain.DiscountInfo {
	return []domain.DiscountInfo{
		{Code: "WELCOME10", Type: domain.DiscountTypePercentage, Value: 10, Description: "10% off your first order"},
		{Code: "FESTIVE20", Type: domain.DiscountTypePercentage, Value: 20, Description: "20% off festive collection"},
		{Code: "FLAT200", Type: domain.DiscountTypeFixed, Value: 20000, Description: "Flat 200.00 off"},
	}
}
