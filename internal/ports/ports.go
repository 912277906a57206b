// Package ports defines the collaborators the evaluation cycle consumes and
// produces. Implementations live in internal/storefront (live cart over
// HTTP), internal/source (files), internal/core/store (database) and
// internal/ports/inmem (tests and simulations).
package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/autogift/internal/types"
)

// ErrCycleInFlight is returned when a cycle is requested for a cart whose
// previous cycle has not finished applying its intents.
var ErrCycleInFlight = errors.New("evaluation cycle already in flight")

// RuleSetProvider supplies the ordered rule set for one evaluation cycle.
// Malformed rules are dropped by the provider, never returned.
type RuleSetProvider interface {
	GetRules(ctx context.Context) ([]types.Rule, error)
}

// CollectionIndexProvider supplies the product -> collections index.
// The index may be stale.
type CollectionIndexProvider interface {
	GetIndex(ctx context.Context) (*types.CollectionIndex, error)
}

// CartProvider reads a point-in-time snapshot of the live cart.
type CartProvider interface {
	GetCart(ctx context.Context) (types.Cart, error)
}

// MutationApplier applies intents in order against the live cart.
// A failure stops application and is reported as *ApplyError.
type MutationApplier interface {
	Apply(ctx context.Context, intents []types.MutationIntent) error
}

// Catalog serves rule sets and collection indexes for many shops.
type Catalog interface {
	Rules(ctx context.Context, shopID string) ([]types.Rule, error)
	Index(ctx context.Context, shopID string) (*types.CollectionIndex, error)
}

// ApplyError reports a partially applied intent list.
type ApplyError struct {
	Applied int                  // intents applied before the failure
	Intent  types.MutationIntent // intent that failed
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply intent %d (%s): %v", e.Applied, e.Intent, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// ForShop binds a Catalog to one shop, yielding single-shop providers.
func ForShop(c Catalog, shopID string) ShopCatalog {
	return ShopCatalog{catalog: c, shopID: shopID}
}

// ShopCatalog adapts a Catalog to RuleSetProvider and CollectionIndexProvider.
type ShopCatalog struct {
	catalog Catalog
	shopID  string
}

func (s ShopCatalog) GetRules(ctx context.Context) ([]types.Rule, error) {
	return s.catalog.Rules(ctx, s.shopID)
}

func (s ShopCatalog) GetIndex(ctx context.Context) (*types.CollectionIndex, error) {
	return s.catalog.Index(ctx, s.shopID)
}
