// Package api provides the checkout-time evaluation service shared by the
// gRPC and HTTP transports.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/types"
)

const tracerName = "github.com/solatis/autogift/internal/core/api"

// EvaluateRequest is one checkout-time evaluation.
type EvaluateRequest struct {
	ShopID string     `json:"shopId"`
	Cart   types.Cart `json:"cart"`
}

// EvaluateResponse carries the intents for one cycle.
// MatchedRules lists the rules in the should-have set, sorted.
// UnmatchableRules lists active rules holding an unknown or invalid condition.
type EvaluateResponse struct {
	CycleID          types.CycleID          `json:"cycleId"`
	Intents          []types.MutationIntent `json:"intents"`
	MatchedRules     []string               `json:"matchedRules"`
	UnmatchableRules []string               `json:"unmatchableRules,omitempty"`
}

// EvaluationService runs single evaluation cycles against a shop catalog.
// The caller applies the returned intents; no cart state is held here.
type EvaluationService struct {
	catalog ports.Catalog
	engine  *rules.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewEvaluationService creates a service. metrics and logger may be nil.
func NewEvaluationService(catalog ports.Catalog, engine *rules.Engine, m *metrics.Metrics, logger *slog.Logger) (*EvaluationService, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if engine == nil {
		engine = rules.NewEngine(rules.WithLogger(logger))
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EvaluationService{
		catalog: catalog,
		engine:  engine,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Evaluate loads the shop's rules and index, runs one cycle against
// req.Cart and returns the intents. caller labels metrics.
func (s *EvaluationService) Evaluate(ctx context.Context, caller string, req EvaluateRequest) (*EvaluateResponse, error) {
	start := time.Now()
	cycleID := types.NewCycleID()

	ctx, span := s.tracer.Start(ctx, "EvaluationService.Evaluate", trace.WithAttributes(
		attribute.String("autogift.shop_id", req.ShopID),
		attribute.String("autogift.cycle_id", string(cycleID)),
		attribute.String("autogift.caller", caller),
		attribute.Int("autogift.cart_lines", len(req.Cart.Lines)),
	))
	defer span.End()

	resp, err := s.evaluate(ctx, cycleID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveCycle(caller, metrics.OutcomeFailed, time.Since(start))
		s.logger.Warn("evaluation failed",
			"cycle_id", cycleID,
			"shop_id", req.ShopID,
			"error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("autogift.intents", len(resp.Intents)))
	s.metrics.CountIntents(resp.Intents)
	s.metrics.ObserveCycle(caller, metrics.OutcomeFor(resp.Intents), time.Since(start))
	s.logger.Debug("evaluation finished",
		"cycle_id", cycleID,
		"shop_id", req.ShopID,
		"intents", len(resp.Intents),
		"matched_rules", len(resp.MatchedRules))
	return resp, nil
}

func (s *EvaluationService) evaluate(ctx context.Context, cycleID types.CycleID, req EvaluateRequest) (*EvaluateResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ruleSet, err := s.catalog.Rules(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("%w: rules for %s: %v", ErrCatalogUnavailable, req.ShopID, err)
	}
	index, err := s.catalog.Index(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("%w: index for %s: %v", ErrCatalogUnavailable, req.ShopID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shouldHave := s.engine.Resolve(ruleSet, req.Cart, index)
	intents := rules.Reconcile(shouldHave, req.Cart)
	if intents == nil {
		intents = []types.MutationIntent{}
	}

	matched := shouldHave.RuleIDs()
	sort.Strings(matched)

	return &EvaluateResponse{
		CycleID:          cycleID,
		Intents:          intents,
		MatchedRules:     matched,
		UnmatchableRules: unmatchableRules(ruleSet),
	}, nil
}

// validateRequest rejects carts the engine cannot reason about.
func validateRequest(req EvaluateRequest) error {
	if req.ShopID == "" {
		return fmt.Errorf("%w: shop id required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(req.Cart.Lines))
	for i, l := range req.Cart.Lines {
		if l.LineID == "" {
			return fmt.Errorf("%w: line %d: line id required", ErrInvalidRequest, i)
		}
		if _, dup := seen[l.LineID]; dup {
			return fmt.Errorf("%w: line %d: duplicate line id %q", ErrInvalidRequest, i, l.LineID)
		}
		seen[l.LineID] = struct{}{}
		if l.VariantID == "" {
			return fmt.Errorf("%w: line %d: variant id required", ErrInvalidRequest, i)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidRequest, i)
		}
	}
	return nil
}

func unmatchableRules(ruleSet []types.Rule) []string {
	var out []string
	for _, cr := range rules.CompileAll(ruleSet) {
		if !cr.Rule.Active {
			continue
		}
		for _, c := range cr.Conditions {
			if c.Err != nil {
				out = append(out, cr.Rule.ID)
				break
			}
		}
	}
	return out
}
