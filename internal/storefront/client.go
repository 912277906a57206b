// Package storefront talks to a storefront's AJAX cart API on behalf of an
// evaluation session. It reads the live cart and applies mutation intents;
// it holds no rule logic.
//
// Engine-managed lines are marked with the line property MarkerProperty,
// whose value is the id of the rule that added the line. The marker is the
// only thing distinguishing a gift from a manual add of the same variant.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/types"
)

// MarkerProperty is the line property flagging engine-managed lines.
const MarkerProperty = "_autogift_rule"

const (
	variantGIDPrefix = "gid://shopify/ProductVariant/"
	productGIDPrefix = "gid://shopify/Product/"
)

var (
	// ErrNotConfigured is returned when no base URL is set.
	ErrNotConfigured = errors.New("storefront base url not configured")

	// ErrInvalidVariant is returned for variant ids without a numeric id.
	ErrInvalidVariant = errors.New("variant id is not numeric")
)

// StatusError reports a non-2xx cart API response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// ClientConfig configures the storefront client.
type ClientConfig struct {
	// BaseURL is the storefront origin, e.g. https://shop.example.com.
	BaseURL string

	// HTTPClient is an optional custom HTTP client (for testing). When nil a
	// client with a cookie jar is created so the cart session persists.
	HTTPClient *http.Client

	// Timeout is the request timeout for the default client.
	Timeout time.Duration
}

// Client implements ports.CartProvider and ports.MutationApplier over the
// AJAX cart endpoints /cart.js, /cart/add.js and /cart/change.js.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var (
	_ ports.CartProvider    = (*Client)(nil)
	_ ports.MutationApplier = (*Client)(nil)
)

// NewClient creates a storefront client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
	}, nil
}

type cartResponse struct {
	Token    string         `json:"token"`
	Currency string         `json:"currency"`
	Items    []itemResponse `json:"items"`
}

type itemResponse struct {
	Key        string         `json:"key"`
	VariantID  int64          `json:"variant_id"`
	ProductID  int64          `json:"product_id"`
	Quantity   int            `json:"quantity"`
	LinePrice  int64          `json:"line_price"` // minor units
	Properties map[string]any `json:"properties"` // other apps store arbitrary values
}

// GetCart fetches /cart.js and converts it to a snapshot.
func (c *Client) GetCart(ctx context.Context) (types.Cart, error) {
	var resp cartResponse
	if err := c.do(ctx, http.MethodGet, "/cart.js", nil, &resp); err != nil {
		return types.Cart{}, err
	}

	cart := types.Cart{
		Token:    resp.Token,
		Currency: resp.Currency,
		Lines:    make([]types.Line, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		cart.Lines = append(cart.Lines, types.Line{
			LineID:        item.Key,
			VariantID:     variantGIDPrefix + strconv.FormatInt(item.VariantID, 10),
			ProductID:     productGIDPrefix + strconv.FormatInt(item.ProductID, 10),
			Quantity:      item.Quantity,
			EngineManaged: hasMarker(item.Properties),
			Amount:        decimal.New(item.LinePrice, -2).InexactFloat64(),
		})
	}
	return cart, nil
}

// hasMarker reports whether props carries a non-empty engine marker.
func hasMarker(props map[string]any) bool {
	switch v := props[MarkerProperty].(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

type addRequest struct {
	Items []addItem `json:"items"`
}

type addItem struct {
	ID         int64             `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties"`
}

type changeRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// Apply sends one request per intent, in order. Removal is a change to
// quantity zero. Stops at the first failure.
func (c *Client) Apply(ctx context.Context, intents []types.MutationIntent) error {
	for i, intent := range intents {
		if err := c.applyOne(ctx, intent); err != nil {
			return &ports.ApplyError{Applied: i, Intent: intent, Err: err}
		}
	}
	return nil
}

func (c *Client) applyOne(ctx context.Context, intent types.MutationIntent) error {
	switch intent.Kind {
	case types.IntentAdd:
		id, err := numericID(intent.VariantID)
		if err != nil {
			return err
		}
		ruleID := intent.RuleID
		if ruleID == "" {
			ruleID = "autogift"
		}
		body := addRequest{Items: []addItem{{
			ID:         id,
			Quantity:   intent.Quantity,
			Properties: map[string]string{MarkerProperty: ruleID},
		}}}
		return c.do(ctx, http.MethodPost, "/cart/add.js", body, nil)
	case types.IntentSetQuantity:
		return c.do(ctx, http.MethodPost, "/cart/change.js", changeRequest{ID: intent.LineID, Quantity: intent.Quantity}, nil)
	case types.IntentRemove:
		return c.do(ctx, http.MethodPost, "/cart/change.js", changeRequest{ID: intent.LineID, Quantity: 0}, nil)
	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
}

// numericID accepts "123" or "gid://shopify/ProductVariant/123".
func numericID(variantID string) (int64, error) {
	raw := variantID
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVariant, variantID)
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
