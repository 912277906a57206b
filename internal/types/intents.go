package types

import "fmt"

// IntentKind identifies a cart mutation.
type IntentKind string

const (
	IntentRemove      IntentKind = "remove"
	IntentSetQuantity IntentKind = "set_quantity"
	IntentAdd         IntentKind = "add"
)

// MutationIntent is one cart mutation the caller must apply.
// Each intent maps 1:1 to a cart-mutation API call. RuleID records the rule
// that required the gift and is empty for removals.
type MutationIntent struct {
	Kind      IntentKind `json:"kind"`
	LineID    string     `json:"lineId,omitempty"`
	VariantID string     `json:"variantId,omitempty"`
	Quantity  int        `json:"quantity,omitempty"`
	RuleID    string     `json:"ruleId,omitempty"`
}

// Remove builds an intent deleting lineID from the cart.
func Remove(lineID string) MutationIntent {
	return MutationIntent{Kind: IntentRemove, LineID: lineID}
}

// SetQuantity builds an intent changing lineID to quantity.
func SetQuantity(lineID string, quantity int, ruleID string) MutationIntent {
	return MutationIntent{Kind: IntentSetQuantity, LineID: lineID, Quantity: quantity, RuleID: ruleID}
}

// Add builds an intent inserting an engine-managed line for variantID.
func Add(variantID string, quantity int, ruleID string) MutationIntent {
	return MutationIntent{Kind: IntentAdd, VariantID: variantID, Quantity: quantity, RuleID: ruleID}
}

func (m MutationIntent) String() string {
	switch m.Kind {
	case IntentRemove:
		return fmt.Sprintf("Remove(%s)", m.LineID)
	case IntentSetQuantity:
		return fmt.Sprintf("SetQuantity(%s, %d)", m.LineID, m.Quantity)
	case IntentAdd:
		return fmt.Sprintf("Add(%s, %d)", m.VariantID, m.Quantity)
	default:
		return fmt.Sprintf("Unknown(%s)", m.Kind)
	}
}
