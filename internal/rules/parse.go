// internal/rules/parse.go
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/solatis/autogift/internal/types"
)

/*
 * Rule document parsing.
 *
 * Decodes the persisted rule document into types.Rule values. The document is
 * untrusted (hand-edited metafields, older admin builds), so decoding is done
 * per rule: one malformed entry is dropped and reported as an Issue while the
 * rest of the set still loads. Only a document that is not a JSON array or a
 * {"rules": [...]} object fails as a whole.
 *
 * Parse-time validation:
 *   - id and action.addVariantId must be non-empty
 *   - action.quantity defaults to 1, must be positive when present
 *   - active defaults to true when absent
 *   - threshold/amount are required for their kinds; all bounds >= 0; max >= min
 *   - includes_* id sets must contain at least one non-empty id
 *
 * Unknown condition types are kept with their kind so evaluation can report
 * them and fail the condition. Dropping them here would silently widen the
 * rule (a missing conjunct matches more carts).
 */

// Issue describes one rule dropped while parsing a document.
type Issue struct {
	Index  int    // position in the source document
	RuleID string // empty when the id itself could not be read
	Err    error
}

func (i Issue) Error() string {
	if i.RuleID == "" {
		return fmt.Sprintf("rule #%d: %v", i.Index, i.Err)
	}
	return fmt.Sprintf("rule #%d (%s): %v", i.Index, i.RuleID, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}

type wireDocument struct {
	Rules []json.RawMessage `json:"rules"`
}

type wireRule struct {
	ID         string            `json:"id"`
	Active     *bool             `json:"active"`
	Group      string            `json:"group"`
	Conditions []json.RawMessage `json:"conditions"`
	Action     wireAction        `json:"action"`
}

type wireAction struct {
	AddVariantID  string `json:"addVariantId"`
	Quantity      *int   `json:"quantity"`
	TitleOverride string `json:"titleOverride"`
}

type wireCondition struct {
	Type          string   `json:"type"`
	Threshold     *int     `json:"threshold"`
	Min           *int     `json:"min"`
	Max           *int     `json:"max"`
	Amount        *float64 `json:"amount"`
	CurrencyCode  string   `json:"currencyCode"`
	VariantIDs    []string `json:"variantIds"`
	ProductIDs    []string `json:"productIds"`
	CollectionIDs []string `json:"collectionIds"`
	ProductID     string   `json:"productId"`
}

// ParseRuleSet decodes a rule document, preserving document order.
// Returns ErrMalformedDocument when the top level is unreadable; otherwise
// every undecodable or invalid rule is reported in issues and skipped.
func ParseRuleSet(data []byte) ([]types.Rule, []Issue, error) {
	raw, err := splitDocument(data)
	if err != nil {
		return nil, nil, err
	}

	rules := make([]types.Rule, 0, len(raw))
	var issues []Issue
	for i, entry := range raw {
		rule, err := parseRule(entry)
		if err != nil {
			issues = append(issues, Issue{Index: i, RuleID: rule.ID, Err: err})
			continue
		}
		rules = append(rules, rule)
	}
	return rules, issues, nil
}

// splitDocument accepts either a bare array or {"rules": [...]}.
func splitDocument(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", types.ErrMalformedDocument)
	}

	switch trimmed[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
		}
		return raw, nil
	case '{':
		var doc wireDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
		}
		return doc.Rules, nil
	default:
		return nil, fmt.Errorf("%w: expected array or object", types.ErrMalformedDocument)
	}
}

// parseRule decodes and validates one rule. The returned rule carries the id
// even on failure so issues can name it.
func parseRule(data json.RawMessage) (types.Rule, error) {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		// Best effort to recover the id for the issue report.
		var idOnly struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &idOnly)
		return types.Rule{ID: idOnly.ID}, fmt.Errorf("%w: %v", types.ErrMalformedRule, err)
	}

	rule := types.Rule{
		ID:     w.ID,
		Active: true,
		Group:  w.Group,
		Action: types.Action{
			AddVariantID:  w.Action.AddVariantID,
			Quantity:      types.DefaultQuantity,
			TitleOverride: w.Action.TitleOverride,
		},
	}
	if w.Active != nil {
		rule.Active = *w.Active
	}

	if rule.ID == "" {
		return rule, types.ErrMissingRuleID
	}
	if rule.Action.AddVariantID == "" {
		return rule, types.ErrMissingVariant
	}
	if w.Action.Quantity != nil {
		if *w.Action.Quantity <= 0 {
			return rule, types.ErrInvalidQuantity
		}
		rule.Action.Quantity = *w.Action.Quantity
	}

	rule.Conditions = make([]types.Condition, 0, len(w.Conditions))
	for i, rawCond := range w.Conditions {
		cond, err := parseCondition(rawCond)
		if err != nil {
			return rule, fmt.Errorf("condition #%d: %w", i, err)
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	return rule, nil
}

// parseCondition decodes one condition and applies kind-specific presence
// checks before the shared ValidateCondition bounds checks.
func parseCondition(data json.RawMessage) (types.Condition, error) {
	var w wireCondition
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Condition{}, fmt.Errorf("%w: %v", types.ErrMalformedRule, err)
	}

	cond := types.Condition{
		Kind:          types.ConditionKind(w.Type),
		Max:           w.Max,
		CurrencyCode:  w.CurrencyCode,
		VariantIDs:    nonEmpty(w.VariantIDs),
		ProductIDs:    nonEmpty(w.ProductIDs),
		CollectionIDs: nonEmpty(w.CollectionIDs),
		ProductID:     w.ProductID,
	}
	if w.Min != nil {
		cond.Min = *w.Min
	}

	switch cond.Kind {
	case types.KindCartQuantityAtLeast:
		if w.Threshold == nil {
			return cond, fmt.Errorf("%w: threshold is required", types.ErrMalformedRule)
		}
		cond.Threshold = *w.Threshold
	case types.KindCartTotalAtLeast:
		if w.Amount == nil {
			return cond, fmt.Errorf("%w: amount is required", types.ErrMalformedRule)
		}
		cond.Amount = *w.Amount
	}

	if !cond.Kind.Known() {
		return cond, nil
	}
	if err := ValidateCondition(cond); err != nil {
		return cond, err
	}
	return cond, nil
}

// nonEmpty drops empty ids; returns nil when nothing remains.
func nonEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// EncodeRuleSet renders rules back into the document schema accepted by
// ParseRuleSet. Kind fields are written explicitly so zero bounds survive a
// round trip.
func EncodeRuleSet(rules []types.Rule) ([]byte, error) {
	out := make([]map[string]any, 0, len(rules))
	for _, r := range rules {
		conds := make([]map[string]any, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, encodeCondition(c))
		}
		action := map[string]any{
			"addVariantId": r.Action.AddVariantID,
			"quantity":     r.Action.EffectiveQuantity(),
		}
		if r.Action.TitleOverride != "" {
			action["titleOverride"] = r.Action.TitleOverride
		}
		entry := map[string]any{
			"id":         r.ID,
			"active":     r.Active,
			"conditions": conds,
			"action":     action,
		}
		if r.Group != "" {
			entry["group"] = r.Group
		}
		out = append(out, entry)
	}
	return json.Marshal(out)
}

func encodeCondition(c types.Condition) map[string]any {
	m := map[string]any{"type": string(c.Kind)}
	switch c.Kind {
	case types.KindCartQuantityAtLeast:
		m["threshold"] = c.Threshold
	case types.KindCartQuantityInRange:
		m["min"] = c.Min
		if c.Max != nil {
			m["max"] = *c.Max
		}
	case types.KindCartTotalAtLeast:
		m["amount"] = c.Amount
		if c.CurrencyCode != "" {
			m["currencyCode"] = c.CurrencyCode
		}
	case types.KindIncludesAnyVariants:
		m["variantIds"] = c.VariantIDs
	case types.KindIncludesAnyProducts:
		m["productIds"] = c.ProductIDs
	case types.KindIncludesAnyCollections:
		m["collectionIds"] = c.CollectionIDs
	case types.KindProductQuantityInRange:
		m["productId"] = c.ProductID
		m["min"] = c.Min
		if c.Max != nil {
			m["max"] = *c.Max
		}
	}
	return m
}

// DuplicateIDs returns rule ids that appear more than once, in first-seen
// order. Duplicates are legal; loaders log them and apply
// CollapseDuplicates.
func DuplicateIDs(rules []types.Rule) []string {
	seen := make(map[string]int, len(rules))
	var dups []string
	for _, r := range rules {
		seen[r.ID]++
		if seen[r.ID] == 2 {
			dups = append(dups, r.ID)
		}
	}
	return dups
}

// CollapseDuplicates keeps only the last definition of each rule id. The kept
// rule stays at the position of that last definition, as if the earlier
// copies had been deleted from the document. The input is not modified.
func CollapseDuplicates(rules []types.Rule) []types.Rule {
	last := make(map[string]int, len(rules))
	for i, r := range rules {
		last[r.ID] = i
	}
	if len(last) == len(rules) {
		return rules
	}
	out := make([]types.Rule, 0, len(last))
	for i, r := range rules {
		if last[r.ID] == i {
			out = append(out, r)
		}
	}
	return out
}
