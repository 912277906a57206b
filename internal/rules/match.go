// internal/rules/match.go
package rules

import (
	"errors"

	"github.com/solatis/autogift/internal/types"
)

/*
 * Rule matching.
 *
 * Resolves an ordered rule set into the should-have mapping
 * (variant id -> rule) for one cart snapshot.
 *
 * Matching flow, per rule in rule-set order:
 *   1. Skip inactive rules
 *   2. Skip rules whose non-empty group already matched this pass
 *   3. Empty condition list -> no match
 *   4. AND conditions, short-circuit on first failure (cost-ordered)
 *   5. On match: record group, set result[addVariantId] = rule
 *
 * Group semantics are first-match-wins in rule-set order, not best-match.
 * Two ungrouped rules targeting the same variant resolve last-writer-wins.
 */

// ShouldHave maps gift variant ids to the rule requiring them.
type ShouldHave map[string]types.Rule

// RuleIDs returns the ids of the rules in s, unordered.
func (s ShouldHave) RuleIDs() []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, r.ID)
	}
	return out
}

// Resolve computes the should-have set for cart.
func (e *Engine) Resolve(rules []types.Rule, cart types.Cart, index *types.CollectionIndex) ShouldHave {
	return e.resolveCompiled(CompileAll(rules), newCartView(cart), index)
}

func (e *Engine) resolveCompiled(compiled []*CompiledRule, v *cartView, index *types.CollectionIndex) ShouldHave {
	result := make(ShouldHave)
	seenGroups := make(map[string]struct{})

	for _, cr := range compiled {
		rule := cr.Rule
		if !rule.Active {
			continue
		}
		if rule.Group != "" {
			if _, seen := seenGroups[rule.Group]; seen {
				continue
			}
		}
		if !e.matchRule(cr, v, index) {
			continue
		}

		if rule.Group != "" {
			seenGroups[rule.Group] = struct{}{}
		}
		if prev, ok := result[rule.Action.AddVariantID]; ok {
			e.logger.Debug("variant target overridden",
				"variant_id", rule.Action.AddVariantID,
				"previous_rule_id", prev.ID,
				"rule_id", rule.ID)
		}
		result[rule.Action.AddVariantID] = rule
	}

	return result
}

// matchRule evaluates an AND group. Short-circuits on first non-match.
func (e *Engine) matchRule(cr *CompiledRule, v *cartView, index *types.CollectionIndex) bool {
	if len(cr.Conditions) == 0 {
		return false
	}
	for i := range cr.Conditions {
		cond := &cr.Conditions[i]
		if cond.Err != nil {
			if errors.Is(cond.Err, types.ErrUnknownCondition) {
				e.logger.Warn("unknown condition type, rule cannot match",
					"rule_id", cr.Rule.ID,
					"condition_type", string(cond.Kind))
			} else {
				e.logger.Warn("invalid condition, rule cannot match",
					"rule_id", cr.Rule.ID,
					"condition_type", string(cond.Kind),
					"error", cond.Err)
			}
			return false
		}
		if !cond.matches(v, index) {
			return false
		}
	}
	return true
}
