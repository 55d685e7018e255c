package memory

import (
	"context"
	"sort"

	"github.com/iho/xledger/internal/domain"
)

// RuleRepository serves a fixed set of conversion rules, typically the ones
// declared in the chains file.
type RuleRepository struct {
	rules map[string]domain.ConversionRule
}

// NewRuleRepository indexes rules by id. Later duplicates win.
func NewRuleRepository(rules []*domain.ConversionRule) *RuleRepository {
	r := &RuleRepository{rules: make(map[string]domain.ConversionRule, len(rules))}
	for _, rule := range rules {
		r.rules[rule.ID] = *rule
	}
	return r
}

// GetByID returns a copy of the rule.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.ConversionRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &rule, nil
}

// List returns every rule ordered by id.
func (r *RuleRepository) List(ctx context.Context) ([]*domain.ConversionRule, error) {
	out := make([]*domain.ConversionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rule := rule
		out = append(out, &rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
