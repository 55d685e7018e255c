package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/iho/xledger/internal/domain"
)

// Ledger drivers.
const (
	DriverHTTP = "http"
	DriverSim  = "sim"
)

// Chains file defaults.
const (
	DefaultCorrelationField = "txid"
	DefaultBalanceField     = "amount"
	DefaultChainTimeout     = 10 * time.Second
	DefaultRegistryMethod   = "getTransferTransactionList"
)

// ChainsFile declares the ledgers, the static conversion rules and the
// optional ledger-backed transfer registry.
type ChainsFile struct {
	Chains   []ChainConfig   `yaml:"chains"`
	Rules    []RuleConfig    `yaml:"rules"`
	Registry *RegistryConfig `yaml:"registry,omitempty"`
}

// ChainConfig selects and configures the gateway of one ledger.
type ChainConfig struct {
	ID               string        `yaml:"id"`
	Driver           string        `yaml:"driver"`
	AdapterURL       string        `yaml:"adapter_url"`
	Contract         string        `yaml:"contract"`
	CorrelationField string        `yaml:"correlation_field"`
	BalanceField     string        `yaml:"balance_field"`
	// StrictStatus fails a leg whose event carries no status. By default
	// such an event confirms the leg.
	StrictStatus     bool          `yaml:"strict_status"`
	EventRoutingKey  string        `yaml:"event_routing_key"`
	Timeout          time.Duration `yaml:"timeout"`
	Retry            RetryConfig   `yaml:"retry"`
	Breaker          BreakerConfig `yaml:"breaker"`
	Sim              SimConfig     `yaml:"sim"`
}

// RetryConfig bounds retries of transient adapter failures.
type RetryConfig struct {
	MaxAttempts     uint64        `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// BreakerConfig configures the per-chain circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// SimConfig seeds the simulated ledger.
type SimConfig struct {
	Balances   map[string]string `yaml:"balances"`
	EventDelay time.Duration     `yaml:"event_delay"`
}

// RuleConfig is a conversion rule as written in the chains file.
type RuleConfig struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Source      domain.RuleChain `yaml:"source"`
	Destination domain.RuleChain `yaml:"destination"`
	Rate        string           `yaml:"rate"`
	Commission  string           `yaml:"commission"`
}

// RegistryConfig names the ledger contract that lists transfers by progress.
type RegistryConfig struct {
	ChainID  string `yaml:"chain_id"`
	Contract string `yaml:"contract"`
	Method   string `yaml:"method"`
}

// LoadChains reads and validates a chains file.
func LoadChains(path string) (*ChainsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}
	return ParseChains(data)
}

// ParseChains decodes a chains file and applies defaults.
func ParseChains(data []byte) (*ChainsFile, error) {
	var file ChainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse chains file: %w", err)
	}

	seen := make(map[string]bool, len(file.Chains))
	for i := range file.Chains {
		c := &file.Chains[i]
		if c.ID == "" {
			return nil, fmt.Errorf("chain %d: id is required", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("chain %s: declared twice", c.ID)
		}
		seen[c.ID] = true

		if c.Driver == "" {
			c.Driver = DriverHTTP
		}
		switch c.Driver {
		case DriverHTTP:
			if c.AdapterURL == "" {
				return nil, fmt.Errorf("chain %s: adapter_url is required for the http driver", c.ID)
			}
		case DriverSim:
		default:
			return nil, fmt.Errorf("chain %s: unknown driver %q", c.ID, c.Driver)
		}

		if c.CorrelationField == "" {
			c.CorrelationField = DefaultCorrelationField
		}
		if c.BalanceField == "" {
			c.BalanceField = DefaultBalanceField
		}
		if c.EventRoutingKey == "" {
			c.EventRoutingKey = c.ID
		}
		if c.Timeout == 0 {
			c.Timeout = DefaultChainTimeout
		}
	}

	for _, r := range file.Rules {
		for _, chainID := range []string{r.Source.ChainID, r.Destination.ChainID} {
			if !seen[chainID] {
				return nil, fmt.Errorf("rule %s: %w: %q", r.ID, domain.ErrUnknownChain, chainID)
			}
		}
	}

	if reg := file.Registry; reg != nil {
		if !seen[reg.ChainID] {
			return nil, fmt.Errorf("registry: %w: %q", domain.ErrUnknownChain, reg.ChainID)
		}
		if reg.Method == "" {
			reg.Method = DefaultRegistryMethod
		}
	}

	return &file, nil
}

// Chain returns the configuration of one chain.
func (f *ChainsFile) Chain(id string) (ChainConfig, bool) {
	for _, c := range f.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// ConversionRules converts the declared rules into domain rules.
func (f *ChainsFile) ConversionRules() ([]*domain.ConversionRule, error) {
	rules := make([]*domain.ConversionRule, 0, len(f.Rules))
	for _, rc := range f.Rules {
		rule := &domain.ConversionRule{
			ID:          rc.ID,
			Name:        rc.Name,
			Source:      rc.Source,
			Destination: rc.Destination,
		}

		var err error
		if rule.Rate, err = parseDecimal(rc.Rate); err != nil {
			return nil, fmt.Errorf("rule %s rate: %w", rc.ID, err)
		}
		if rule.Commission, err = parseDecimal(rc.Commission); err != nil {
			return nil, fmt.Errorf("rule %s commission: %w", rc.ID, err)
		}

		rule.Normalize()
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
