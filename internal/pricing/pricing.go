// Package pricing computes a service request's total price from its linked
// catalog items. It is pure: no I/O, no side effects.
package pricing

import (
	"github.com/garageworks/autoshop/internal/models"
	"github.com/shopspring/decimal"
)

// Total returns the price of a request linking the given product and/or repair
// service. A linked product contributes price * quantity; a linked repair
// service contributes its flat price (quantity does not apply). With neither
// linked the total is 0.00 - a notes-only request is a valid state.
// The result is rounded to 2 decimal places.
func Total(product *models.Product, repair *models.RepairService, quantity int) decimal.Decimal {
	total := decimal.Zero
	if product != nil {
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(quantity))))
	}
	if repair != nil {
		total = total.Add(repair.Price)
	}
	return total.Round(2)
}
