// internal/rules/cost.go
package rules

import "github.com/solatis/autogift/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * Cart-level scalar checks read totals computed once per cycle and cost 1.
 * Line scans cost proportionally more; collection checks additionally hit the
 * index for every line. Invalid and unknown conditions cost 0 so they are
 * evaluated (and reported) first: they fail the rule without touching lines.
 */

const (
	CostInvalid        = 0
	CostScalar         = 1
	CostLineScan       = 4
	CostLineAggregate  = 5
	CostCollectionScan = 8
)

// CalculateConditionCost returns the relative evaluation cost of a kind.
func CalculateConditionCost(kind types.ConditionKind) int {
	switch kind {
	case types.KindCartQuantityAtLeast, types.KindCartQuantityInRange, types.KindCartTotalAtLeast:
		return CostScalar
	case types.KindIncludesAnyVariants, types.KindIncludesAnyProducts:
		return CostLineScan
	case types.KindProductQuantityInRange:
		return CostLineAggregate
	case types.KindIncludesAnyCollections:
		return CostCollectionScan
	default:
		return CostInvalid
	}
}
