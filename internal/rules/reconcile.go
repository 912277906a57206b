// internal/rules/reconcile.go
package rules

import (
	"sort"

	"github.com/solatis/autogift/internal/types"
)

/*
 * Reconciliation.
 *
 * Diffs the should-have set against the cart and emits the minimal ordered
 * intent list converging the cart. Order: corrections of existing
 * engine-managed lines first, then additions, so an existing gift line is
 * never also added.
 *
 *   1. Each engine-managed line, in cart order:
 *        variant not pending in should-have -> Remove(line)
 *        quantity != action quantity        -> SetQuantity(line, qty)
 *      then the variant is marked handled. A second managed line for an
 *      already handled variant is a duplicate and is removed.
 *   2. Pending variants present as a manual line -> nothing. Manual lines are
 *      never edited, even when their quantity differs from the action.
 *   3. Remaining pending variants -> Add(variant, qty), sorted by variant id.
 *
 * Applying every intent and reconciling again yields no intents.
 */

// Reconcile computes the intents converging cart towards shouldHave.
func Reconcile(shouldHave ShouldHave, cart types.Cart) []types.MutationIntent {
	pending := make(map[string]types.Rule, len(shouldHave))
	for variantID, rule := range shouldHave {
		pending[variantID] = rule
	}

	var intents []types.MutationIntent

	for _, line := range cart.Lines {
		if !line.EngineManaged {
			continue
		}
		rule, ok := pending[line.VariantID]
		if !ok {
			intents = append(intents, types.Remove(line.LineID))
			continue
		}
		if want := rule.Action.EffectiveQuantity(); line.Quantity != want {
			intents = append(intents, types.SetQuantity(line.LineID, want, rule.ID))
		}
		delete(pending, line.VariantID)
	}

	manual := make(map[string]struct{})
	for _, line := range cart.Lines {
		if !line.EngineManaged {
			manual[line.VariantID] = struct{}{}
		}
	}

	variants := make([]string, 0, len(pending))
	for variantID := range pending {
		if _, present := manual[variantID]; present {
			continue
		}
		variants = append(variants, variantID)
	}
	sort.Strings(variants)

	for _, variantID := range variants {
		rule := pending[variantID]
		intents = append(intents, types.Add(variantID, rule.Action.EffectiveQuantity(), rule.ID))
	}

	return intents
}
