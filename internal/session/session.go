// Package session runs storefront evaluation cycles for one live cart.
//
// The engine is pure and non-reentrant per cart: a Session owns the busy flag
// that serializes cycles and the fingerprint of the last converged input, so
// a polled cart that has not changed is not re-evaluated.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/types"
)

// CycleResult describes one finished cycle.
type CycleResult struct {
	CycleID types.CycleID
	Intents []types.MutationIntent
	Applied int
	Skipped bool // inputs unchanged since the last converged cycle
}

// Session serializes evaluation cycles for one cart.
type Session struct {
	cart    ports.CartProvider
	applier ports.MutationApplier
	rules   ports.RuleSetProvider
	index   ports.CollectionIndexProvider
	engine  *rules.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	busy atomic.Bool

	mu          sync.Mutex
	fingerprint string // inputs of the last converged cycle
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records cycle metrics under the storefront caller label.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithEngine overrides the rules engine.
func WithEngine(e *rules.Engine) Option {
	return func(s *Session) {
		if e != nil {
			s.engine = e
		}
	}
}

// New creates a session reading the cart from cart and applying intents
// through applier.
func New(
	cart ports.CartProvider,
	applier ports.MutationApplier,
	ruleSet ports.RuleSetProvider,
	index ports.CollectionIndexProvider,
	opts ...Option,
) *Session {
	s := &Session{
		cart:    cart,
		applier: applier,
		rules:   ruleSet,
		index:   index,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = rules.NewEngine(rules.WithLogger(s.logger))
	}
	return s
}

// RunCycle snapshots the cart, evaluates and applies the resulting intents.
// Returns ports.ErrCycleInFlight without doing anything when another cycle
// is still running. A partially applied intent list is returned as
// *ports.ApplyError; the next cycle re-converges from the new snapshot.
func (s *Session) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.ObserveCycle(metrics.CallerStorefront, metrics.OutcomeBusy, 0)
		return CycleResult{}, ports.ErrCycleInFlight
	}
	defer s.busy.Store(false)

	start := time.Now()
	result := CycleResult{CycleID: types.NewCycleID()}
	outcome := metrics.OutcomeFailed
	defer func() {
		s.metrics.ObserveCycle(metrics.CallerStorefront, outcome, time.Since(start))
	}()

	cart, err := s.cart.GetCart(ctx)
	if err != nil {
		return result, fmt.Errorf("read cart: %w", err)
	}
	ruleSet, err := s.rules.GetRules(ctx)
	if err != nil {
		return result, fmt.Errorf("load rules: %w", err)
	}
	index, err := s.index.GetIndex(ctx)
	if err != nil {
		return result, fmt.Errorf("load collection index: %w", err)
	}

	fp, err := Fingerprint(cart, ruleSet, index)
	if err != nil {
		return result, err
	}
	if s.lastFingerprint() == fp {
		result.Skipped = true
		outcome = metrics.OutcomeSkipped
		return result, nil
	}

	result.Intents = s.engine.EvaluateCycle(ruleSet, cart, index)
	s.metrics.CountIntents(result.Intents)

	if len(result.Intents) == 0 {
		s.setFingerprint(fp)
		outcome = metrics.OutcomeConverged
		return result, nil
	}

	// The cart changes once intents land, so the next cycle must re-read it.
	s.setFingerprint("")

	s.logger.Info("applying intents",
		"cycle_id", result.CycleID,
		"cart_token", cart.Token,
		"intents", len(result.Intents))

	if err := s.applier.Apply(ctx, result.Intents); err != nil {
		var applyErr *ports.ApplyError
		if errors.As(err, &applyErr) {
			result.Applied = applyErr.Applied
		}
		return result, fmt.Errorf("cycle %s: %w", result.CycleID, err)
	}
	result.Applied = len(result.Intents)
	outcome = metrics.OutcomeApplied
	return result, nil
}

// Run evaluates on every tick of interval and on every trigger until ctx is
// done. Cycle errors are logged and never stop the loop. Triggers arriving
// while a cycle runs are dropped; the next tick covers them.
func (s *Session) Run(ctx context.Context, interval time.Duration, triggers <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		case <-triggers:
			s.runLogged(ctx)
		}
	}
}

func (s *Session) runLogged(ctx context.Context) {
	res, err := s.RunCycle(ctx)
	switch {
	case errors.Is(err, ports.ErrCycleInFlight):
		s.logger.Debug("cycle skipped, previous cycle in flight")
	case err != nil && ctx.Err() == nil:
		s.logger.Error("evaluation cycle failed",
			"cycle_id", res.CycleID,
			"applied", res.Applied,
			"error", err)
	case err == nil && !res.Skipped && len(res.Intents) > 0:
		s.logger.Info("cart converged",
			"cycle_id", res.CycleID,
			"applied", res.Applied)
	}
}

// Reset forgets the last converged fingerprint, forcing a full evaluation on
// the next cycle.
func (s *Session) Reset() {
	s.setFingerprint("")
}

func (s *Session) lastFingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

func (s *Session) setFingerprint(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fp
}

// Fingerprint hashes every input of a cycle. Equal fingerprints yield equal
// intents, so a converged fingerprint can be skipped.
func Fingerprint(cart types.Cart, ruleSet []types.Rule, index *types.CollectionIndex) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, v := range []any{cart, ruleSet, index} {
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("fingerprint: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
