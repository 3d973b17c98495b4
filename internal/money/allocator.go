// Package money recomputes line totals and splits a cart-level discount
// across line items. Amounts are in the smallest currency unit.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

type Line struct {
	Quantity  uint32
	UnitPrice int64
}

type Allocation struct {
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
}

// LineTotal returns quantity*unitPrice and false if the product does not fit
// in an int64 or unitPrice is negative.
func LineTotal(quantity uint32, unitPrice int64) (int64, bool) {
	if unitPrice < 0 {
		return 0, false
	}
	if quantity == 0 || unitPrice == 0 {
		return 0, true
	}
	if unitPrice > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return int64(quantity) * unitPrice, true
}

// AddAmounts returns a+b for non-negative amounts and false on overflow.
func AddAmounts(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// Subtotal is the sum of quantity*unitPrice, ignoring any client-supplied totals.
func Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, l := range lines {
		subtotal += int64(l.Quantity) * l.UnitPrice
	}
	return subtotal
}

// CartDiscount resolves the requested cart discount. An explicit amount wins
// over a percentage; the result is clamped to [0, subtotal].
func CartDiscount(subtotal, discountAmount int64, discountPct float64) int64 {
	if subtotal <= 0 {
		return 0
	}
	discount := discountAmount
	if discount <= 0 && discountPct > 0 {
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromFloat(discountPct)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	}
	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// Allocate distributes the cart discount proportionally to each line's total,
// rounding half away from zero per line.
func Allocate(lines []Line, discountAmount int64, discountPct float64) []Allocation {
	allocs := make([]Allocation, len(lines))
	subtotal := Subtotal(lines)
	discount := CartDiscount(subtotal, discountAmount, discountPct)

	for i, l := range lines {
		total := int64(l.Quantity) * l.UnitPrice
		allocs[i].TotalAmount = total
		allocs[i].FinalAmount = total
		if discount == 0 || subtotal == 0 {
			continue
		}

		share := decimal.NewFromInt(discount).
			Mul(decimal.NewFromInt(total)).
			Div(decimal.NewFromInt(subtotal)).
			Round(0).
			IntPart()
		if share > total {
			share = total
		}
		allocs[i].DiscountAmount = share
		allocs[i].FinalAmount = total - share
	}

	return allocs
}

// Percentage returns discount as a percentage of subtotal, rounded to two places.
func Percentage(discount, subtotal int64) float64 {
	if subtotal == 0 {
		return 0
	}
	pct, _ := decimal.NewFromInt(discount).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(subtotal)).
		Round(2).
		Float64()
	return pct
}
