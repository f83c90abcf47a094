package pricing

import (
	"testing"

	"github.com/garageworks/autoshop/internal/models"
	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestTotal(t *testing.T) {
	product := &models.Product{ID: 1, Price: mustDecimal(t, "10.00")}
	repair := &models.RepairService{ID: 2, Price: mustDecimal(t, "60.00")}

	t.Run("product_only", func(t *testing.T) {
		got := Total(product, nil, 4)
		if want := mustDecimal(t, "40.00"); !got.Equal(want) {
			t.Fatalf("Total = %s, want %s", got, want)
		}
	})

	t.Run("repair_only_ignores_quantity", func(t *testing.T) {
		for _, qty := range []int{1, 3, 100} {
			got := Total(nil, repair, qty)
			if want := mustDecimal(t, "60.00"); !got.Equal(want) {
				t.Fatalf("Total(qty=%d) = %s, want %s", qty, got, want)
			}
		}
	})

	t.Run("both_linked", func(t *testing.T) {
		got := Total(product, repair, 2)
		if want := mustDecimal(t, "80.00"); !got.Equal(want) {
			t.Fatalf("Total = %s, want %s", got, want)
		}
	})

	t.Run("neither_linked_is_zero", func(t *testing.T) {
		got := Total(nil, nil, 5)
		if !got.Equal(decimal.Zero) {
			t.Fatalf("Total = %s, want 0", got)
		}
	})

	t.Run("exact_decimal_arithmetic", func(t *testing.T) {
		// 0.10 * 3 must be exactly 0.30, not a binary-float approximation.
		p := &models.Product{Price: mustDecimal(t, "0.10")}
		got := Total(p, nil, 3)
		if want := mustDecimal(t, "0.30"); !got.Equal(want) {
			t.Fatalf("Total = %s, want %s", got, want)
		}
	})

	t.Run("idempotent_recomputation", func(t *testing.T) {
		first := Total(product, repair, 7)
		second := Total(product, repair, 7)
		if !first.Equal(second) {
			t.Fatalf("recomputation changed value: %s vs %s", first, second)
		}
	})
}
