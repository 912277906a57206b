// internal/rules/parse_test.go
package rules

import (
	"errors"
	"reflect"
	"testing"

	"github.com/solatis/autogift/internal/types"
)

func TestParseRuleSet_Array(t *testing.T) {
	doc := `[
		{"id": "r1", "active": true, "group": "tier",
		 "conditions": [{"type": "cart_total_at_least", "amount": 50, "currencyCode": "USD"}],
		 "action": {"addVariantId": "gidA", "quantity": 2, "titleOverride": "Free tote"}},
		{"id": "r2",
		 "conditions": [{"type": "cart_quantity_in_range", "min": 5}],
		 "action": {"addVariantId": "gidB"}}
	]`

	rules, issues, err := ParseRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v, want nil", err)
	}
	if len(issues) != 0 {
		t.Fatalf("issues = %v, want none", issues)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %v, want 2", len(rules))
	}

	r1 := rules[0]
	if r1.ID != "r1" || r1.Group != "tier" || !r1.Active {
		t.Errorf("rules[0] = %+v, want id r1 group tier active", r1)
	}
	if r1.Action.Quantity != 2 || r1.Action.TitleOverride != "Free tote" {
		t.Errorf("rules[0].Action = %+v, want quantity 2 with title", r1.Action)
	}
	c := r1.Conditions[0]
	if c.Kind != types.KindCartTotalAtLeast || c.Amount != 50 || c.CurrencyCode != "USD" {
		t.Errorf("rules[0].Conditions[0] = %+v", c)
	}

	r2 := rules[1]
	if !r2.Active {
		t.Errorf("rules[1].Active = false, want true when absent")
	}
	if r2.Action.Quantity != types.DefaultQuantity {
		t.Errorf("rules[1].Action.Quantity = %v, want %v", r2.Action.Quantity, types.DefaultQuantity)
	}
	if r2.Conditions[0].Max != nil {
		t.Errorf("rules[1].Conditions[0].Max = %v, want nil", *r2.Conditions[0].Max)
	}
}

func TestParseRuleSet_Object(t *testing.T) {
	doc := `{"rules": [{"id": "r1", "active": false,
		"conditions": [{"type": "includes_any_collections", "collectionIds": ["c1"]}],
		"action": {"addVariantId": "gidA"}}]}`

	rules, _, err := ParseRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v, want nil", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len(rules) = %v, want 1", len(rules))
	}
	if rules[0].Active {
		t.Errorf("Active = true, want false")
	}
}

func TestParseRuleSet_DropsMalformedRules(t *testing.T) {
	doc := `[
		{"id": "ok", "conditions": [{"type": "cart_quantity_at_least", "threshold": 1}], "action": {"addVariantId": "g"}},
		{"id": "", "conditions": [], "action": {"addVariantId": "g"}},
		{"id": "no-variant", "conditions": [], "action": {}},
		{"id": "zero-qty", "conditions": [], "action": {"addVariantId": "g", "quantity": 0}},
		{"id": "bad-type", "active": "yes", "action": {"addVariantId": "g"}},
		{"id": "neg", "conditions": [{"type": "cart_quantity_at_least", "threshold": -1}], "action": {"addVariantId": "g"}},
		{"id": "inverted", "conditions": [{"type": "cart_quantity_in_range", "min": 5, "max": 4}], "action": {"addVariantId": "g"}},
		{"id": "empty-set", "conditions": [{"type": "includes_any_variants", "variantIds": [""]}], "action": {"addVariantId": "g"}},
		{"id": "no-threshold", "conditions": [{"type": "cart_quantity_at_least"}], "action": {"addVariantId": "g"}},
		{"id": "no-amount", "conditions": [{"type": "cart_total_at_least"}], "action": {"addVariantId": "g"}},
		{"id": "no-product", "conditions": [{"type": "product_quantity_in_range", "min": 1}], "action": {"addVariantId": "g"}},
		"not an object"
	]`

	rules, issues, err := ParseRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v, want nil", err)
	}
	if len(rules) != 1 || rules[0].ID != "ok" {
		t.Fatalf("rules = %+v, want only ok", rules)
	}

	wantErrs := []error{
		types.ErrMissingRuleID,
		types.ErrMissingVariant,
		types.ErrInvalidQuantity,
		types.ErrMalformedRule,
		types.ErrNegativeBound,
		types.ErrInvertedRange,
		types.ErrEmptyIDSet,
		types.ErrMalformedRule,
		types.ErrMalformedRule,
		types.ErrMissingProduct,
		types.ErrMalformedRule,
	}
	if len(issues) != len(wantErrs) {
		t.Fatalf("len(issues) = %v, want %v: %v", len(issues), len(wantErrs), issues)
	}
	for i, want := range wantErrs {
		if !errors.Is(issues[i], want) {
			t.Errorf("issues[%d] = %v, want %v", i, issues[i], want)
		}
		if issues[i].Index != i+1 {
			t.Errorf("issues[%d].Index = %v, want %v", i, issues[i].Index, i+1)
		}
	}
	if issues[1].RuleID != "no-variant" {
		t.Errorf("issues[1].RuleID = %q, want no-variant", issues[1].RuleID)
	}
	if issues[3].RuleID != "bad-type" {
		t.Errorf("issues[3].RuleID = %q, want bad-type", issues[3].RuleID)
	}
}

func TestParseRuleSet_KeepsUnknownConditions(t *testing.T) {
	doc := `[{"id": "r1", "conditions": [{"type": "customer_tag_is", "tag": "vip"}], "action": {"addVariantId": "g"}}]`

	rules, issues, err := ParseRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v, want nil", err)
	}
	if len(issues) != 0 {
		t.Fatalf("issues = %v, want none", issues)
	}
	if got := rules[0].Conditions[0].Kind; got != "customer_tag_is" {
		t.Errorf("Kind = %v, want customer_tag_is", got)
	}
}

func TestParseRuleSet_MalformedDocument(t *testing.T) {
	for _, doc := range []string{"", "   ", "42", `"rules"`, "[{", `{"rules": 3}`} {
		_, _, err := ParseRuleSet([]byte(doc))
		if !errors.Is(err, types.ErrMalformedDocument) {
			t.Errorf("ParseRuleSet(%q) error = %v, want ErrMalformedDocument", doc, err)
		}
	}
}

func TestEncodeRuleSet_RoundTrip(t *testing.T) {
	rules := []types.Rule{
		{
			ID:     "r1",
			Active: true,
			Group:  "tier",
			Conditions: []types.Condition{
				types.CartQuantityAtLeast(0),
				types.CartQuantityInRange(0, types.Bound(0)),
				types.CartTotalAtLeast(0, "EUR"),
				types.IncludesAnyVariants("v1"),
				types.IncludesAnyProducts("p1"),
				types.IncludesAnyCollections("c1"),
				types.ProductQuantityInRange("p1", 2, nil),
			},
			Action: types.Action{AddVariantID: "g", Quantity: 3, TitleOverride: "Gift"},
		},
		{
			ID:         "r2",
			Active:     false,
			Conditions: []types.Condition{types.CartQuantityAtLeast(1)},
			Action:     types.Action{AddVariantID: "g2"},
		},
	}

	data, err := EncodeRuleSet(rules)
	if err != nil {
		t.Fatalf("EncodeRuleSet() error = %v, want nil", err)
	}
	got, issues, err := ParseRuleSet(data)
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v, want nil", err)
	}
	if len(issues) != 0 {
		t.Fatalf("issues = %v, want none", issues)
	}
	if len(got) != 2 {
		t.Fatalf("len(rules) = %v, want 2", len(got))
	}
	if len(got[0].Conditions) != 7 {
		t.Fatalf("len(Conditions) = %v, want 7", len(got[0].Conditions))
	}
	if m := got[0].Conditions[1].Max; m == nil || *m != 0 {
		t.Errorf("Conditions[1].Max = %v, want 0", m)
	}
	if got[0].Conditions[2].CurrencyCode != "EUR" {
		t.Errorf("Conditions[2].CurrencyCode = %q, want EUR", got[0].Conditions[2].CurrencyCode)
	}
	if got[1].Active {
		t.Errorf("rules[1].Active = true, want false")
	}
	if got[1].Action.Quantity != 1 {
		t.Errorf("rules[1].Action.Quantity = %v, want 1", got[1].Action.Quantity)
	}
}

func TestDuplicateIDs(t *testing.T) {
	rules := []types.Rule{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "c"}, {ID: "a"}, {ID: "b"}}

	got := DuplicateIDs(rules)
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("DuplicateIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DuplicateIDs()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCollapseDuplicates(t *testing.T) {
	in := []types.Rule{
		{ID: "a", Action: types.Action{AddVariantID: "g1"}},
		{ID: "b"},
		{ID: "a", Action: types.Action{AddVariantID: "g2"}},
		{ID: "c"},
		{ID: "a", Action: types.Action{AddVariantID: "g3"}},
	}

	got := CollapseDuplicates(in)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	if want := []string{"b", "c", "a"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("CollapseDuplicates() ids = %v, want %v", ids, want)
	}
	if got[2].Action.AddVariantID != "g3" {
		t.Errorf("kept a.AddVariantID = %v, want g3", got[2].Action.AddVariantID)
	}
	if len(in) != 5 || in[0].Action.AddVariantID != "g1" {
		t.Errorf("input modified: %+v", in)
	}

	unique := []types.Rule{{ID: "x"}, {ID: "y"}}
	if got := CollapseDuplicates(unique); !reflect.DeepEqual(got, unique) {
		t.Errorf("CollapseDuplicates(unique) = %+v, want %+v", got, unique)
	}
}

func TestCollapseDuplicates_LastDefinitionDecidesMatch(t *testing.T) {
	doc := []byte(`[
		{"id": "r1", "conditions": [{"type": "cart_quantity_at_least", "threshold": 1}], "action": {"addVariantId": "gidA"}},
		{"id": "r1", "conditions": [{"type": "cart_quantity_at_least", "threshold": 10}], "action": {"addVariantId": "gidB"}}
	]`)
	parsed, issues, err := ParseRuleSet(doc)
	if err != nil || len(issues) != 0 {
		t.Fatalf("ParseRuleSet() = %v, %v, want no error", issues, err)
	}

	got := NewEngine().Resolve(CollapseDuplicates(parsed), cartWithQuantity(3), nil)
	if len(got) != 0 {
		t.Errorf("Resolve() = %v, want empty: the earlier r1 must not match", got)
	}
}
