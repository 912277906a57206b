// Package types provides domain models shared across autogift components.
//
// The package imports no storage or transport code, so the evaluation core can
// be embedded in other binaries. Money sums use shopspring/decimal; ids use
// uuid.
//
// The engine treats every value in this package as read-only input. Carts,
// rule sets and collection indexes are point-in-time snapshots owned by the
// caller; the engine only emits MutationIntent values describing changes.
package types

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// Line is one cart line as seen by the engine.
// EngineManaged is the sole signal distinguishing an auto-added gift from a
// customer's manual add of the same variant.
type Line struct {
	LineID        string  `json:"lineId"`
	VariantID     string  `json:"variantId"`
	ProductID     string  `json:"productId"`
	Quantity      int     `json:"quantity"`
	EngineManaged bool    `json:"isEngineManaged"`
	Amount        float64 `json:"currencyAmount"` // line total in cart currency
}

// Cart is a read-only snapshot of the live cart.
// Mixed-currency carts are not supported; Currency applies to every line.
type Cart struct {
	Token    string `json:"token,omitempty"`
	Currency string `json:"currency"`
	Lines    []Line `json:"lines"`
}

// TotalQuantity sums quantities over all lines, gift lines included.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// TotalAmount sums line totals over all lines, gift lines included.
// Each amount is taken at its shortest decimal form (19.99, not
// 19.989999...) and summed exactly, so totals carry no binary rounding.
func (c Cart) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(decimal.NewFromFloat(l.Amount))
	}
	return total
}

// CollectionIndex maps product ids to the collections they belong to.
// Built out-of-band; staleness is tolerated. A nil index behaves as empty.
type CollectionIndex struct {
	byProduct map[string]map[string]struct{}
}

// NewCollectionIndex builds an index from product id -> collection ids.
// Duplicate collection ids collapse; empty ids are ignored.
func NewCollectionIndex(memberships map[string][]string) *CollectionIndex {
	idx := &CollectionIndex{byProduct: make(map[string]map[string]struct{}, len(memberships))}
	for productID, collections := range memberships {
		for _, c := range collections {
			idx.Add(productID, c)
		}
	}
	return idx
}

// Add records that productID belongs to collectionID.
// Only used while building an index; snapshots handed to the engine are not
// modified afterwards.
func (idx *CollectionIndex) Add(productID, collectionID string) {
	if productID == "" || collectionID == "" {
		return
	}
	if idx.byProduct == nil {
		idx.byProduct = make(map[string]map[string]struct{})
	}
	set, ok := idx.byProduct[productID]
	if !ok {
		set = make(map[string]struct{})
		idx.byProduct[productID] = set
	}
	set[collectionID] = struct{}{}
}

// InAny reports whether productID belongs to at least one collection in ids.
// Products missing from the index belong to no collections.
func (idx *CollectionIndex) InAny(productID string, ids map[string]struct{}) bool {
	if idx == nil {
		return false
	}
	set, ok := idx.byProduct[productID]
	if !ok {
		return false
	}
	for id := range set {
		if _, hit := ids[id]; hit {
			return true
		}
	}
	return false
}

// Collections returns the sorted collection ids for productID.
func (idx *CollectionIndex) Collections(productID string) []string {
	if idx == nil {
		return nil
	}
	set := idx.byProduct[productID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Products returns the sorted product ids present in the index.
func (idx *CollectionIndex) Products() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.byProduct))
	for id := range idx.byProduct {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of indexed products.
func (idx *CollectionIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byProduct)
}

// Memberships returns a copy of the index as product id -> sorted collection ids.
func (idx *CollectionIndex) Memberships() map[string][]string {
	out := make(map[string][]string, idx.Len())
	for _, p := range idx.Products() {
		out[p] = idx.Collections(p)
	}
	return out
}

// MarshalJSON implements json.Marshaler.
// Encodes as {"productId": ["collectionId", ...]} with sorted collection ids.
func (idx *CollectionIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(idx.Memberships())
}

// UnmarshalJSON implements json.Unmarshaler.
func (idx *CollectionIndex) UnmarshalJSON(data []byte) error {
	var memberships map[string][]string
	if err := json.Unmarshal(data, &memberships); err != nil {
		return err
	}
	*idx = *NewCollectionIndex(memberships)
	return nil
}
