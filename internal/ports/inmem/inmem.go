// Package inmem provides in-memory implementations of the ports interfaces.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/types"
)

// ErrLineNotFound is returned when an intent targets a line that is gone.
var ErrLineNotFound = errors.New("cart line not found")

// Cart is a mutable cart implementing ports.CartProvider and
// ports.MutationApplier. Added lines are engine-managed.
type Cart struct {
	mu       sync.Mutex
	currency string
	lines    []types.Line
	prices   map[string]float64 // unit price per variant
	products map[string]string  // product id per variant

	failAfter int // remaining intents before injected failure; <0 disables
	failErr   error
	applied   []types.MutationIntent
}

var (
	_ ports.CartProvider    = (*Cart)(nil)
	_ ports.MutationApplier = (*Cart)(nil)
)

// NewCart creates a cart seeded with a copy of snapshot.
func NewCart(snapshot types.Cart) *Cart {
	c := &Cart{
		currency:  snapshot.Currency,
		lines:     append([]types.Line(nil), snapshot.Lines...),
		prices:    make(map[string]float64),
		products:  make(map[string]string),
		failAfter: -1,
	}
	for _, l := range snapshot.Lines {
		c.products[l.VariantID] = l.ProductID
	}
	return c
}

// SetVariant records catalog data used when a variant is added.
// Unknown variants are added with price 0 and an empty product id.
func (c *Cart) SetVariant(variantID, productID string, unitPrice float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[variantID] = productID
	c.prices[variantID] = unitPrice
}

// FailAfter makes Apply fail with err once n more intents have been applied.
func (c *Cart) FailAfter(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter = n
	c.failErr = err
}

// GetCart returns a snapshot copy of the cart.
func (c *Cart) GetCart(_ context.Context) (types.Cart, error) {
	return c.Snapshot(), nil
}

// Snapshot returns a copy of the current cart state.
func (c *Cart) Snapshot() types.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.Cart{
		Currency: c.currency,
		Lines:    append([]types.Line(nil), c.lines...),
	}
}

// Applied returns every intent applied so far, in order.
func (c *Cart) Applied() []types.MutationIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.MutationIntent(nil), c.applied...)
}

// Apply implements ports.MutationApplier.
func (c *Cart) Apply(ctx context.Context, intents []types.MutationIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, intent := range intents {
		if err := ctx.Err(); err != nil {
			return &ports.ApplyError{Applied: i, Intent: intent, Err: err}
		}
		if c.failAfter == 0 {
			return &ports.ApplyError{Applied: i, Intent: intent, Err: c.failErr}
		}
		if err := c.applyOne(intent); err != nil {
			return &ports.ApplyError{Applied: i, Intent: intent, Err: err}
		}
		if c.failAfter > 0 {
			c.failAfter--
		}
		c.applied = append(c.applied, intent)
	}
	return nil
}

func (c *Cart) applyOne(intent types.MutationIntent) error {
	switch intent.Kind {
	case types.IntentRemove:
		i := c.find(intent.LineID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrLineNotFound, intent.LineID)
		}
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	case types.IntentSetQuantity:
		i := c.find(intent.LineID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrLineNotFound, intent.LineID)
		}
		line := &c.lines[i]
		if line.Quantity > 0 {
			line.Amount = decimal.NewFromFloat(line.Amount).
				Mul(decimal.NewFromInt(int64(intent.Quantity))).
				Div(decimal.NewFromInt(int64(line.Quantity))).
				InexactFloat64()
		}
		line.Quantity = intent.Quantity
	case types.IntentAdd:
		c.lines = append(c.lines, types.Line{
			LineID:        types.NewLineID(),
			VariantID:     intent.VariantID,
			ProductID:     c.products[intent.VariantID],
			Quantity:      intent.Quantity,
			EngineManaged: true,
			Amount: decimal.NewFromFloat(c.prices[intent.VariantID]).
				Mul(decimal.NewFromInt(int64(intent.Quantity))).
				InexactFloat64(),
		})
	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
	return nil
}

func (c *Cart) find(lineID string) int {
	for i, l := range c.lines {
		if l.LineID == lineID {
			return i
		}
	}
	return -1
}

// Rules is a static ports.RuleSetProvider.
type Rules []types.Rule

func (r Rules) GetRules(_ context.Context) ([]types.Rule, error) {
	return r, nil
}

// Index is a static ports.CollectionIndexProvider.
type Index struct {
	Index *types.CollectionIndex
}

func (i Index) GetIndex(_ context.Context) (*types.CollectionIndex, error) {
	return i.Index, nil
}

// Catalog is a ports.Catalog keyed by shop id. Missing shops have no rules
// and an empty index.
type Catalog struct {
	mu      sync.RWMutex
	rules   map[string][]types.Rule
	indexes map[string]*types.CollectionIndex
}

var _ ports.Catalog = (*Catalog)(nil)

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		rules:   make(map[string][]types.Rule),
		indexes: make(map[string]*types.CollectionIndex),
	}
}

// PutRules replaces the rule set of shopID.
func (c *Catalog) PutRules(shopID string, rules []types.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[shopID] = rules
}

// PutIndex replaces the collection index of shopID.
func (c *Catalog) PutIndex(shopID string, index *types.CollectionIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[shopID] = index
}

func (c *Catalog) Rules(_ context.Context, shopID string) ([]types.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules[shopID], nil
}

func (c *Catalog) Index(_ context.Context, shopID string) (*types.CollectionIndex, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx, ok := c.indexes[shopID]; ok {
		return idx, nil
	}
	return types.NewCollectionIndex(nil), nil
}
