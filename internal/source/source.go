// Package source loads rule sets, collection indexes and cart snapshots from
// files. Rule documents may be JSON or YAML; YAML is converted to the JSON
// rule schema before parsing so both formats share one validator.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/rules"
	"github.com/solatis/autogift/internal/types"
)

// DecodeRuleDocument normalizes a rule document to JSON. Files ending in
// .yaml or .yml are decoded as YAML; everything else is passed through.
func DecodeRuleDocument(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		return data, nil
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
	}
	return out, nil
}

// LoadRules reads and parses a rule file. Dropped rules are logged at warn
// level and returned as issues.
func LoadRules(path string, logger *slog.Logger) ([]types.Rule, []rules.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := DecodeRuleDocument(path, data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	parsed, issues, err := rules.ParseRuleSet(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, issue := range issues {
		logger.Warn("dropped malformed rule",
			"path", path,
			"index", issue.Index,
			"rule_id", issue.RuleID,
			"error", issue.Err)
	}
	if dups := rules.DuplicateIDs(parsed); len(dups) > 0 {
		logger.Warn("duplicate rule ids, keeping the last definition of each", "path", path, "rule_ids", dups)
		parsed = rules.CollapseDuplicates(parsed)
	}
	return parsed, issues, nil
}

// Option configures file providers.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for dropped-rule warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RuleFile is a ports.RuleSetProvider re-reading its file on every call, so
// edits take effect on the next cycle.
type RuleFile struct {
	path   string
	logger *slog.Logger
}

var _ ports.RuleSetProvider = (*RuleFile)(nil)

// NewRuleFile creates a provider for the rule document at path.
func NewRuleFile(path string, opts ...Option) *RuleFile {
	o := applyOptions(opts)
	return &RuleFile{path: path, logger: o.logger}
}

func (f *RuleFile) GetRules(_ context.Context) ([]types.Rule, error) {
	parsed, _, err := LoadRules(f.path, f.logger)
	return parsed, err
}

// IndexFile is a ports.CollectionIndexProvider backed by a JSON or YAML
// document of the form {"productId": ["collectionId", ...]}. An empty path
// yields an empty index.
type IndexFile struct {
	path string
}

var _ ports.CollectionIndexProvider = (*IndexFile)(nil)

// NewIndexFile creates a provider for the index document at path.
func NewIndexFile(path string) *IndexFile {
	return &IndexFile{path: path}
}

func (f *IndexFile) GetIndex(_ context.Context) (*types.CollectionIndex, error) {
	if f.path == "" {
		return types.NewCollectionIndex(nil), nil
	}
	return LoadIndex(f.path)
}

// LoadIndex reads a collection index document.
func LoadIndex(path string) (*types.CollectionIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := DecodeRuleDocument(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var memberships map[string][]string
	if err := json.Unmarshal(doc, &memberships); err != nil {
		return nil, fmt.Errorf("%s: decode index: %w", path, err)
	}
	return types.NewCollectionIndex(memberships), nil
}

// LoadCart reads a cart snapshot document (JSON or YAML).
func LoadCart(path string) (types.Cart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Cart{}, err
	}
	doc, err := DecodeRuleDocument(path, data)
	if err != nil {
		return types.Cart{}, fmt.Errorf("%s: %w", path, err)
	}
	var cart types.Cart
	if err := json.Unmarshal(doc, &cart); err != nil {
		return types.Cart{}, fmt.Errorf("%s: decode cart: %w", path, err)
	}
	for i, l := range cart.Lines {
		if l.Quantity <= 0 {
			return types.Cart{}, fmt.Errorf("%s: line %d (%s): %w", path, i, l.LineID, types.ErrInvalidQuantity)
		}
	}
	return cart, nil
}
