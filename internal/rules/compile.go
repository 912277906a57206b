// internal/rules/compile.go
package rules

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/solatis/autogift/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles types.Rule to CompiledRule with id sets for O(1) membership tests
 * and conditions pre-ordered by the cost model in cost.go.
 *
 * Compilation workflow:
 *   1. Validate each condition (bounds, id sets); invalid -> Err set
 *   2. Build lookup sets for includes_* conditions
 *   3. Calculate condition cost
 *   4. Order conditions by ascending cost (stable sort for determinism)
 *
 * Compilation never fails. A condition that is invalid or of unknown kind
 * keeps its Err and evaluates to false, which makes the rule unmatchable.
 * Parsed documents already reject invalid bounds, so this only affects
 * programmatically built rules; both paths end in "never matches".
 *
 * A rule is a pure conjunction: evaluation order changes how early it
 * short-circuits, never the result.
 */

// CompiledCondition is a pre-processed condition ready for evaluation.
type CompiledCondition struct {
	Kind      types.ConditionKind
	Min       int
	Max       int
	Bounded   bool // Max applies
	Amount    decimal.Decimal
	Currency  string
	IDs       map[string]struct{} // variant, product or collection ids
	ProductID string
	Cost      int
	Err       error // non-nil: condition always fails
}

// CompiledRule is a rule with conditions ready for evaluation.
type CompiledRule struct {
	Rule       types.Rule
	Conditions []CompiledCondition // ordered by ascending cost
}

// Compile pre-processes a rule for evaluation.
func Compile(rule types.Rule) *CompiledRule {
	compiled := &CompiledRule{
		Rule:       rule,
		Conditions: make([]CompiledCondition, 0, len(rule.Conditions)),
	}
	for _, cond := range rule.Conditions {
		compiled.Conditions = append(compiled.Conditions, compileCondition(cond))
	}

	// Stable sort: equal-cost conditions keep document order
	sort.SliceStable(compiled.Conditions, func(i, j int) bool {
		return compiled.Conditions[i].Cost < compiled.Conditions[j].Cost
	})
	return compiled
}

// CompileAll compiles rules preserving rule-set order.
func CompileAll(rules []types.Rule) []*CompiledRule {
	out := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Compile(r))
	}
	return out
}

// compileCondition validates and pre-processes a single condition.
func compileCondition(cond types.Condition) CompiledCondition {
	cc := CompiledCondition{
		Kind:      cond.Kind,
		Currency:  cond.CurrencyCode,
		ProductID: cond.ProductID,
		Cost:      CalculateConditionCost(cond.Kind),
	}

	if !cond.Kind.Known() {
		cc.Err = fmt.Errorf("%w: %q", types.ErrUnknownCondition, cond.Kind)
		cc.Cost = CostInvalid
		return cc
	}
	if err := ValidateCondition(cond); err != nil {
		cc.Err = err
		cc.Cost = CostInvalid
		return cc
	}

	switch cond.Kind {
	case types.KindCartQuantityAtLeast:
		cc.Min = cond.Threshold
	case types.KindCartQuantityInRange, types.KindProductQuantityInRange:
		cc.Min = cond.Min
		if cond.Max != nil {
			cc.Max = *cond.Max
			cc.Bounded = true
		}
	case types.KindCartTotalAtLeast:
		cc.Amount = decimal.NewFromFloat(cond.Amount)
	case types.KindIncludesAnyVariants:
		cc.IDs = toSet(cond.VariantIDs)
	case types.KindIncludesAnyProducts:
		cc.IDs = toSet(cond.ProductIDs)
	case types.KindIncludesAnyCollections:
		cc.IDs = toSet(cond.CollectionIDs)
	}
	return cc
}

// ValidateCondition checks bounds and required fields of a known-kind
// condition. Unknown kinds are not validated here.
func ValidateCondition(cond types.Condition) error {
	switch cond.Kind {
	case types.KindCartQuantityAtLeast:
		if cond.Threshold < 0 {
			return types.ErrNegativeBound
		}
	case types.KindCartQuantityInRange:
		return validateRange(cond.Min, cond.Max)
	case types.KindCartTotalAtLeast:
		if cond.Amount < 0 {
			return types.ErrNegativeBound
		}
	case types.KindIncludesAnyVariants:
		if len(nonEmpty(cond.VariantIDs)) == 0 {
			return types.ErrEmptyIDSet
		}
	case types.KindIncludesAnyProducts:
		if len(nonEmpty(cond.ProductIDs)) == 0 {
			return types.ErrEmptyIDSet
		}
	case types.KindIncludesAnyCollections:
		if len(nonEmpty(cond.CollectionIDs)) == 0 {
			return types.ErrEmptyIDSet
		}
	case types.KindProductQuantityInRange:
		if cond.ProductID == "" {
			return types.ErrMissingProduct
		}
		return validateRange(cond.Min, cond.Max)
	}
	return nil
}

func validateRange(min int, max *int) error {
	if min < 0 {
		return types.ErrNegativeBound
	}
	if max != nil && *max < min {
		return types.ErrInvertedRange
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
