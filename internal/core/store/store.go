// Package store persists per-shop rule documents and collection indexes.
//
// Rule documents are stored verbatim, exactly as imported, and parsed on
// read: malformed rules stay in the document (so an operator can fix them)
// but never reach the engine. The collection index is stored as one row per
// (product, collection) membership and replaced wholesale on rebuild.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/autogift/internal/core/db"
	"github.com/solatis/autogift/internal/core/metrics"
	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/types"
)

// ErrNotFound is returned when a shop has no stored rule document.
var ErrNotFound = errors.New("not found")

// RuleSetRecord is a stored rule document.
type RuleSetRecord struct {
	ShopID       string    `db:"shop_id"`
	Document     string    `db:"document"`
	Checksum     string    `db:"checksum"`
	RuleCount    int       `db:"rule_count"`
	DroppedCount int       `db:"dropped_count"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// IndexBuild records the last collection index import for a shop.
type IndexBuild struct {
	ShopID          string    `db:"shop_id"`
	BuiltAt         time.Time `db:"built_at"`
	ProductCount    int       `db:"product_count"`
	MembershipCount int       `db:"membership_count"`
}

// Store is a ports.Catalog backed by SQL.
type Store struct {
	queries *db.Queries
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ ports.Catalog = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for dropped-rule warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts rules dropped on read.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store over an open, migrated database.
func New(conn *sqlx.DB, opts ...Option) (*Store, error) {
	queries, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	s := &Store{
		queries: queries,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PutRuleSet validates and stores a rule document (JSON) for shopID.
// A document that is not an array or {"rules": [...]} object is rejected;
// individually malformed rules are accepted and reported in issues.
func (s *Store) PutRuleSet(ctx context.Context, shopID string, document []byte) (RuleSetRecord, []rules.Issue, error) {
	parsed, issues, err := rules.ParseRuleSet(document)
	if err != nil {
		return RuleSetRecord{}, nil, err
	}

	rec := RuleSetRecord{
		ShopID:       shopID,
		Document:     string(document),
		Checksum:     fmt.Sprintf("%x", sha256.Sum256(document)),
		RuleCount:    len(parsed),
		DroppedCount: len(issues),
		UpdatedAt:    s.now().UTC(),
	}
	_, err = s.queries.Exec(ctx, "upsert-rule-set",
		rec.ShopID, rec.Document, rec.Checksum, rec.RuleCount, rec.DroppedCount, rec.UpdatedAt)
	if err != nil {
		return RuleSetRecord{}, nil, fmt.Errorf("store rule set for %s: %w", shopID, err)
	}
	return rec, issues, nil
}

// GetRuleSet returns the stored rule document for shopID.
func (s *Store) GetRuleSet(ctx context.Context, shopID string) (RuleSetRecord, error) {
	var rec RuleSetRecord
	err := s.queries.Get(ctx, "get-rule-set", &rec, shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return RuleSetRecord{}, fmt.Errorf("rule set for %s: %w", shopID, ErrNotFound)
	}
	if err != nil {
		return RuleSetRecord{}, fmt.Errorf("load rule set for %s: %w", shopID, err)
	}
	return rec, nil
}

// DeleteRuleSet removes the rule document for shopID.
func (s *Store) DeleteRuleSet(ctx context.Context, shopID string) error {
	if _, err := s.queries.Exec(ctx, "delete-rule-set", shopID); err != nil {
		return fmt.Errorf("delete rule set for %s: %w", shopID, err)
	}
	return nil
}

// Shops lists shops with a stored rule document.
func (s *Store) Shops(ctx context.Context) ([]string, error) {
	var shops []string
	if err := s.queries.Select(ctx, "list-shops", &shops); err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	return shops, nil
}

// Rules implements ports.Catalog. A shop without a document has no rules.
func (s *Store) Rules(ctx context.Context, shopID string) ([]types.Rule, error) {
	rec, err := s.GetRuleSet(ctx, shopID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	parsed, issues, err := rules.ParseRuleSet([]byte(rec.Document))
	if err != nil {
		return nil, fmt.Errorf("rule set for %s: %w", shopID, err)
	}
	for _, issue := range issues {
		s.logger.Warn("dropped malformed rule",
			"shop_id", shopID,
			"index", issue.Index,
			"rule_id", issue.RuleID,
			"error", issue.Err)
	}
	s.metrics.AddDroppedRules(len(issues))
	if dups := rules.DuplicateIDs(parsed); len(dups) > 0 {
		s.logger.Warn("duplicate rule ids, keeping the last definition of each",
			"shop_id", shopID, "rule_ids", dups)
		parsed = rules.CollapseDuplicates(parsed)
	}
	return parsed, nil
}

// ReplaceIndex atomically replaces the collection index of shopID.
func (s *Store) ReplaceIndex(ctx context.Context, shopID string, index *types.CollectionIndex) (IndexBuild, error) {
	build := IndexBuild{
		ShopID:       shopID,
		BuiltAt:      s.now().UTC(),
		ProductCount: index.Len(),
	}

	err := s.queries.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.queries.ExecTx(ctx, tx, "delete-collection-memberships", shopID); err != nil {
			return err
		}
		for productID, collections := range index.Memberships() {
			for _, collectionID := range collections {
				if _, err := s.queries.ExecTx(ctx, tx, "insert-collection-membership", shopID, productID, collectionID); err != nil {
					return err
				}
				build.MembershipCount++
			}
		}
		_, err := s.queries.ExecTx(ctx, tx, "upsert-index-build",
			build.ShopID, build.BuiltAt, build.ProductCount, build.MembershipCount)
		return err
	})
	if err != nil {
		return IndexBuild{}, fmt.Errorf("replace index for %s: %w", shopID, err)
	}
	return build, nil
}

// Index implements ports.Catalog. A shop without an index gets an empty one.
func (s *Store) Index(ctx context.Context, shopID string) (*types.CollectionIndex, error) {
	var rows []struct {
		ProductID    string `db:"product_id"`
		CollectionID string `db:"collection_id"`
	}
	if err := s.queries.Select(ctx, "list-collection-memberships", &rows, shopID); err != nil {
		return nil, fmt.Errorf("load index for %s: %w", shopID, err)
	}

	idx := types.NewCollectionIndex(nil)
	for _, r := range rows {
		idx.Add(r.ProductID, r.CollectionID)
	}
	return idx, nil
}

// LastIndexBuild returns metadata of the last index import for shopID.
func (s *Store) LastIndexBuild(ctx context.Context, shopID string) (IndexBuild, error) {
	var build IndexBuild
	err := s.queries.Get(ctx, "get-index-build", &build, shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexBuild{}, fmt.Errorf("index build for %s: %w", shopID, ErrNotFound)
	}
	if err != nil {
		return IndexBuild{}, fmt.Errorf("load index build for %s: %w", shopID, err)
	}
	return build, nil
}
