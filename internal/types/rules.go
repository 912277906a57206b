// internal/types/rules.go
package types

/*
 * Domain types for auto-add rules.
 *
 * Provides Rule, Condition and Action used by internal/rules for parsing,
 * compilation and evaluation. JSON tags match the persisted rule document
 * exactly; tolerant decoding of untrusted documents lives in
 * internal/rules/parse.go, not here.
 *
 * Key types:
 *   - Rule: ordered condition conjunction plus an add-variant action
 *   - Condition: closed tagged variant, one constructor per ConditionKind
 *   - Action: variant to add and the quantity it must have
 *
 * Condition is a single struct carrying the union of all kind fields rather
 * than an interface so the evaluator switch is the one place that decides
 * what each kind means, and an unknown kind stays a visible value.
 */

// ConditionKind tags a Condition variant. Values match the "type" field of
// the rule document.
type ConditionKind string

const (
	KindCartQuantityAtLeast    ConditionKind = "cart_quantity_at_least"
	KindCartQuantityInRange    ConditionKind = "cart_quantity_in_range"
	KindCartTotalAtLeast       ConditionKind = "cart_total_at_least"
	KindIncludesAnyVariants    ConditionKind = "includes_any_variants"
	KindIncludesAnyProducts    ConditionKind = "includes_any_products"
	KindIncludesAnyCollections ConditionKind = "includes_any_collections"
	KindProductQuantityInRange ConditionKind = "product_quantity_in_range"
)

// Known reports whether k is one of the supported condition kinds.
func (k ConditionKind) Known() bool {
	switch k {
	case KindCartQuantityAtLeast, KindCartQuantityInRange, KindCartTotalAtLeast,
		KindIncludesAnyVariants, KindIncludesAnyProducts, KindIncludesAnyCollections,
		KindProductQuantityInRange:
		return true
	default:
		return false
	}
}

// Condition is one predicate over a cart snapshot.
// Only the fields relevant to Kind are meaningful.
type Condition struct {
	Kind          ConditionKind `json:"type"`
	Threshold     int           `json:"threshold,omitempty"`
	Min           int           `json:"min,omitempty"`
	Max           *int          `json:"max,omitempty"` // nil = unbounded
	Amount        float64       `json:"amount,omitempty"`
	CurrencyCode  string        `json:"currencyCode,omitempty"`
	VariantIDs    []string      `json:"variantIds,omitempty"`
	ProductIDs    []string      `json:"productIds,omitempty"`
	CollectionIDs []string      `json:"collectionIds,omitempty"`
	ProductID     string        `json:"productId,omitempty"`
}

// CartQuantityAtLeast matches when total cart quantity >= threshold.
func CartQuantityAtLeast(threshold int) Condition {
	return Condition{Kind: KindCartQuantityAtLeast, Threshold: threshold}
}

// CartQuantityInRange matches when total cart quantity is in [min, max].
// A nil max is unbounded.
func CartQuantityInRange(min int, max *int) Condition {
	return Condition{Kind: KindCartQuantityInRange, Min: min, Max: max}
}

// CartTotalAtLeast matches when the cart total >= amount. A non-empty
// currencyCode must equal the cart currency.
func CartTotalAtLeast(amount float64, currencyCode string) Condition {
	return Condition{Kind: KindCartTotalAtLeast, Amount: amount, CurrencyCode: currencyCode}
}

// IncludesAnyVariants matches when any line has one of the variant ids.
func IncludesAnyVariants(variantIDs ...string) Condition {
	return Condition{Kind: KindIncludesAnyVariants, VariantIDs: variantIDs}
}

// IncludesAnyProducts matches when any line belongs to one of the product ids.
func IncludesAnyProducts(productIDs ...string) Condition {
	return Condition{Kind: KindIncludesAnyProducts, ProductIDs: productIDs}
}

// IncludesAnyCollections matches when any line's product is indexed under
// one of the collection ids.
func IncludesAnyCollections(collectionIDs ...string) Condition {
	return Condition{Kind: KindIncludesAnyCollections, CollectionIDs: collectionIDs}
}

// ProductQuantityInRange matches when the quantity of productID, excluding
// engine-managed lines, is in [min, max].
func ProductQuantityInRange(productID string, min int, max *int) Condition {
	return Condition{Kind: KindProductQuantityInRange, ProductID: productID, Min: min, Max: max}
}

// Bound returns a pointer to n for use as an inclusive upper bound.
func Bound(n int) *int {
	return &n
}

// DefaultQuantity applies when an action omits quantity.
const DefaultQuantity = 1

// Action describes the gift a matching rule requires.
type Action struct {
	AddVariantID  string `json:"addVariantId"`
	Quantity      int    `json:"quantity,omitempty"`
	TitleOverride string `json:"titleOverride,omitempty"` // display only
}

// EffectiveQuantity returns Quantity, or DefaultQuantity when unset.
func (a Action) EffectiveQuantity() int {
	if a.Quantity <= 0 {
		return DefaultQuantity
	}
	return a.Quantity
}

// Rule pairs an ordered condition conjunction with an action.
// Rules sharing a non-empty Group are mutually exclusive per evaluation pass.
type Rule struct {
	ID         string      `json:"id"`
	Active     bool        `json:"active"`
	Group      string      `json:"group,omitempty"`
	Conditions []Condition `json:"conditions"`
	Action     Action      `json:"action"`
}
