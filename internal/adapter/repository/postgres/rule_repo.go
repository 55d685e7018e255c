package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/infrastructure/postgres/generated"
)

// RuleRepository implements usecase.RuleRepository.
type RuleRepository struct {
	queries *generated.Queries
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db generated.DBTX) *RuleRepository {
	return &RuleRepository{queries: generated.New(db)}
}

// GetByID retrieves a conversion rule.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.ConversionRule, error) {
	row, err := r.queries.GetConversionRuleByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRuleNotFound
		}

		return nil, err
	}

	return rowToRule(row)
}

// List returns every conversion rule.
func (r *RuleRepository) List(ctx context.Context) ([]*domain.ConversionRule, error) {
	rows, err := r.queries.ListConversionRules(ctx)
	if err != nil {
		return nil, err
	}

	rules := make([]*domain.ConversionRule, 0, len(rows))
	for _, row := range rows {
		rule, err := rowToRule(row)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// Upsert stores rule, replacing any rule with the same id.
func (r *RuleRepository) Upsert(ctx context.Context, rule *domain.ConversionRule) error {
	source, err := json.Marshal(rule.Source)
	if err != nil {
		return err
	}
	destination, err := json.Marshal(rule.Destination)
	if err != nil {
		return err
	}

	return r.queries.UpsertConversionRule(ctx, generated.UpsertConversionRuleParams{
		ID:          rule.ID,
		Name:        rule.Name,
		Source:      source,
		Destination: destination,
		Rate:        decimalToNumeric(rule.Rate),
		Commission:  decimalToNumeric(rule.Commission),
		UpdatedAt:   timeToPgTimestamptz(time.Now().UTC()),
	})
}

func rowToRule(row generated.ConversionRule) (*domain.ConversionRule, error) {
	rule := &domain.ConversionRule{
		ID:         row.ID,
		Name:       row.Name,
		Rate:       numericToDecimal(row.Rate),
		Commission: numericToDecimal(row.Commission),
	}

	if err := json.Unmarshal(row.Source, &rule.Source); err != nil {
		return nil, fmt.Errorf("decode source of rule %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Destination, &rule.Destination); err != nil {
		return nil, fmt.Errorf("decode destination of rule %s: %w", row.ID, err)
	}
	rule.Normalize()

	return rule, nil
}
