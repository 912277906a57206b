package rules

import (
	"io"
	"log/slog"

	"github.com/solatis/autogift/internal/types"
)

// Engine evaluates auto-add rules against cart snapshots.
// Stateless across calls: every method is pure given its inputs, so one
// Engine may be shared by concurrent callers. Serializing cycles per cart is
// the caller's job (see internal/session).
type Engine struct {
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for rule warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a rules engine. Without WithLogger, warnings are discarded.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateCycle resolves rules against cart and reconciles the result.
// This is the single entry point for both checkout-time and storefront
// callers. No I/O; callers apply the intents and re-snapshot.
func (e *Engine) EvaluateCycle(rules []types.Rule, cart types.Cart, index *types.CollectionIndex) []types.MutationIntent {
	return Reconcile(e.Resolve(rules, cart, index), cart)
}
