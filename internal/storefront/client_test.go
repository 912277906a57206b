package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/types"
)

// fakeStore emulates the AJAX cart endpoints for one cart.
type fakeStore struct {
	mu       sync.Mutex
	items    []itemResponse
	nextKey  int
	requests []string
	failAdd  bool
}

func (f *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart.js", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, "GET /cart.js")
		_ = json.NewEncoder(w).Encode(cartResponse{Token: "tok", Currency: "USD", Items: f.items})
	})
	mux.HandleFunc("POST /cart/add.js", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, "POST /cart/add.js")
		if f.failAdd {
			http.Error(w, `{"description":"sold out"}`, http.StatusUnprocessableEntity)
			return
		}
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, it := range req.Items {
			props := make(map[string]any, len(it.Properties))
			for k, v := range it.Properties {
				props[k] = v
			}
			f.nextKey++
			f.items = append(f.items, itemResponse{
				Key:        "key-" + string(rune('a'+f.nextKey)),
				VariantID:  it.ID,
				ProductID:  900,
				Quantity:   it.Quantity,
				Properties: props,
			})
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("POST /cart/change.js", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, "POST /cart/change.js")
		var req changeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i, it := range f.items {
			if it.Key != req.ID {
				continue
			}
			if req.Quantity == 0 {
				f.items = append(f.items[:i], f.items[i+1:]...)
			} else {
				f.items[i].Quantity = req.Quantity
			}
			_ = json.NewEncoder(w).Encode(cartResponse{Items: f.items})
			return
		}
		http.Error(w, "no such line", http.StatusBadRequest)
	})
	return mux
}

func newTestClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_GetCart(t *testing.T) {
	store := &fakeStore{items: []itemResponse{
		{Key: "k1", VariantID: 11, ProductID: 1, Quantity: 2, LinePrice: 4550},
		{Key: "k2", VariantID: 22, ProductID: 2, Quantity: 1, Properties: map[string]any{MarkerProperty: "r1"}},
		{Key: "k3", VariantID: 33, ProductID: 3, Quantity: 1, Properties: map[string]any{"engraving": "hi"}},
	}}
	client := newTestClient(t, store)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok", cart.Token)
	assert.Equal(t, "USD", cart.Currency)
	require.Len(t, cart.Lines, 3)
	assert.Equal(t, types.Line{
		LineID:    "k1",
		VariantID: "gid://shopify/ProductVariant/11",
		ProductID: "gid://shopify/Product/1",
		Quantity:  2,
		Amount:    45.5,
	}, cart.Lines[0])
	assert.True(t, cart.Lines[1].EngineManaged)
	assert.False(t, cart.Lines[2].EngineManaged)
}

func TestClient_GetCartToleratesForeignProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token": "tok", "currency": "EUR", "items": [
			{"key": "k1", "variant_id": 11, "product_id": 1, "quantity": 1, "line_price": 3000,
			 "properties": {"engraving": 42, "tags": ["a", "b"], "note": null}},
			{"key": "k2", "variant_id": 22, "product_id": 2, "quantity": 1, "line_price": 1999,
			 "properties": null},
			{"key": "k3", "variant_id": 33, "product_id": 3, "quantity": 1, "line_price": 0,
			 "properties": {"_autogift_rule": "r1", "size": {"w": 1}}},
			{"key": "k4", "variant_id": 44, "product_id": 4, "quantity": 1, "line_price": 0,
			 "properties": {"_autogift_rule": null}}
		]}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Lines, 4)
	assert.False(t, cart.Lines[0].EngineManaged)
	assert.False(t, cart.Lines[1].EngineManaged)
	assert.True(t, cart.Lines[2].EngineManaged)
	assert.False(t, cart.Lines[3].EngineManaged)
	assert.Equal(t, "49.99", cart.TotalAmount().String())
	assert.True(t, rules.EvaluateCondition(types.CartTotalAtLeast(49.99, "EUR"), cart, nil))
}

func TestClient_ApplyIntents(t *testing.T) {
	store := &fakeStore{items: []itemResponse{
		{Key: "k1", VariantID: 11, ProductID: 1, Quantity: 3, Properties: map[string]any{MarkerProperty: "r1"}},
		{Key: "k2", VariantID: 22, ProductID: 2, Quantity: 1, Properties: map[string]any{MarkerProperty: "old"}},
	}}
	client := newTestClient(t, store)

	err := client.Apply(context.Background(), []types.MutationIntent{
		types.SetQuantity("k1", 1, "r1"),
		types.Remove("k2"),
		types.Add("gid://shopify/ProductVariant/44", 2, "r4"),
	})
	require.NoError(t, err)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.Equal(t, "gid://shopify/ProductVariant/44", cart.Lines[1].VariantID)
	assert.Equal(t, 2, cart.Lines[1].Quantity)
	assert.True(t, cart.Lines[1].EngineManaged)
}

func TestClient_ApplyStopsAtFirstFailure(t *testing.T) {
	store := &fakeStore{failAdd: true, items: []itemResponse{
		{Key: "k1", VariantID: 11, ProductID: 1, Quantity: 1, Properties: map[string]any{MarkerProperty: "r1"}},
	}}
	client := newTestClient(t, store)

	err := client.Apply(context.Background(), []types.MutationIntent{
		types.Add("55", 1, "r5"),
		types.Remove("k1"),
	})

	var applyErr *ports.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 0, applyErr.Applied)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Status)
	assert.True(t, strings.Contains(statusErr.Body, "sold out"))
	assert.NotContains(t, store.requests, "POST /cart/change.js")
}

func TestClient_RejectsNonNumericVariant(t *testing.T) {
	client := newTestClient(t, &fakeStore{})

	err := client.Apply(context.Background(), []types.MutationIntent{types.Add("gid://shopify/ProductVariant/abc", 1, "r1")})
	assert.True(t, errors.Is(err, ErrInvalidVariant))
}

func TestClient_EngineConvergesLiveCart(t *testing.T) {
	store := &fakeStore{items: []itemResponse{
		{Key: "k1", VariantID: 11, ProductID: 1, Quantity: 1, LinePrice: 6000},
	}}
	client := newTestClient(t, store)
	ruleSet := []types.Rule{{
		ID:         "r1",
		Active:     true,
		Conditions: []types.Condition{types.CartTotalAtLeast(50, "USD")},
		Action:     types.Action{AddVariantID: "gid://shopify/ProductVariant/99", Quantity: 1},
	}}
	engine := rules.NewEngine()
	ctx := context.Background()

	cart, err := client.GetCart(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Apply(ctx, engine.EvaluateCycle(ruleSet, cart, nil)))

	cart, err = client.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, engine.EvaluateCycle(ruleSet, cart, nil))
	assert.Len(t, cart.Lines, 2)
}
