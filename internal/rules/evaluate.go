// internal/rules/evaluate.go
package rules

import (
	"github.com/shopspring/decimal"

	"github.com/solatis/autogift/internal/types"
)

/*
 * Condition evaluation.
 *
 * Evaluates one CompiledCondition against a cart snapshot and collection
 * index. Pure and total: no input is mutated, every condition yields a
 * boolean, and invalid or unknown conditions yield false.
 *
 * Predicates (all bounds inclusive, no rounding; amounts compared as exact
 * decimals):
 *   - cart_quantity_at_least:    totalQuantity >= threshold
 *   - cart_quantity_in_range:    min <= totalQuantity <= max (max optional)
 *   - cart_total_at_least:       totalAmount >= amount, currency must match if set
 *   - includes_any_variants:     some line.variantId in set
 *   - includes_any_products:     some line.productId in set
 *   - includes_any_collections:  some line.productId indexed under a set member
 *   - product_quantity_in_range: min <= sum(qty of productId, managed lines excluded) <= max
 *
 * Engine-managed lines are excluded from product_quantity_in_range so a gift
 * of product P never satisfies (or breaks) a trigger counting P.
 */

// cartView caches per-cycle aggregates of a snapshot.
type cartView struct {
	cart          types.Cart
	totalQuantity int
	totalAmount   decimal.Decimal
}

func newCartView(cart types.Cart) *cartView {
	return &cartView{
		cart:          cart,
		totalQuantity: cart.TotalQuantity(),
		totalAmount:   cart.TotalAmount(),
	}
}

// EvaluateCondition reports whether cond holds for cart.
// Unknown kinds and invalid bounds evaluate to false.
func EvaluateCondition(cond types.Condition, cart types.Cart, index *types.CollectionIndex) bool {
	cc := compileCondition(cond)
	return cc.matches(newCartView(cart), index)
}

// matches evaluates a compiled condition against a cart view.
func (c *CompiledCondition) matches(v *cartView, index *types.CollectionIndex) bool {
	if c.Err != nil {
		return false
	}

	switch c.Kind {
	case types.KindCartQuantityAtLeast:
		return v.totalQuantity >= c.Min
	case types.KindCartQuantityInRange:
		return c.inRange(v.totalQuantity)
	case types.KindCartTotalAtLeast:
		if c.Currency != "" && c.Currency != v.cart.Currency {
			return false
		}
		return v.totalAmount.GreaterThanOrEqual(c.Amount)
	case types.KindIncludesAnyVariants:
		for _, l := range v.cart.Lines {
			if _, ok := c.IDs[l.VariantID]; ok {
				return true
			}
		}
		return false
	case types.KindIncludesAnyProducts:
		for _, l := range v.cart.Lines {
			if _, ok := c.IDs[l.ProductID]; ok {
				return true
			}
		}
		return false
	case types.KindIncludesAnyCollections:
		for _, l := range v.cart.Lines {
			if index.InAny(l.ProductID, c.IDs) {
				return true
			}
		}
		return false
	case types.KindProductQuantityInRange:
		qty := 0
		for _, l := range v.cart.Lines {
			if l.EngineManaged || l.ProductID != c.ProductID {
				continue
			}
			qty += l.Quantity
		}
		return c.inRange(qty)
	default:
		return false
	}
}

func (c *CompiledCondition) inRange(n int) bool {
	if n < c.Min {
		return false
	}
	return !c.Bounded || n <= c.Max
}
