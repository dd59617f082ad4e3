// Package config loads the run parameters and the contract address table.
//
// Values come from built-in defaults, then an optional YAML file, then environment
// variables. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
	"github.com/archon-research/stl/stl-borrow/internal/pkg/env"
)

// ReadMode selects how contract reads are issued.
type ReadMode string

const (
	// ReadsMulticall batches reads through Multicall3 aggregate3.
	ReadsMulticall ReadMode = "multicall"
	// ReadsDirect batches reads as JSON-RPC eth_call batches.
	ReadsDirect ReadMode = "direct"
)

// Config holds the settings of one CLI invocation.
type Config struct {
	Network             string        `yaml:"network"`
	Confirmations       uint64        `yaml:"confirmations"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	SafetyMargin        string        `yaml:"safety_margin"`
	RateMode            string        `yaml:"rate_mode"`
	ReferralCode        uint16        `yaml:"referral_code"`
	MaxQuoteAge         time.Duration `yaml:"max_quote_age"`
	GasHeadroomPercent  uint64        `yaml:"gas_headroom_percent"`
	Reads               ReadMode      `yaml:"reads"`

	Networks map[string]Network `yaml:"networks"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Network:             "hardhat",
		Confirmations:       1,
		ConfirmationTimeout: 2 * time.Minute,
		PollInterval:        500 * time.Millisecond,
		SafetyMargin:        "0.95",
		RateMode:            entity.RateModeStable.String(),
		GasHeadroomPercent:  20,
		Reads:               ReadsMulticall,
		Networks:            defaultNetworks(),
	}
}

// Load reads path (if non-empty) over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) decode(r io.Reader) error {
	var file Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	for name, n := range file.Networks {
		for role := range n.Contracts {
			if !isKnownRole(role) {
				return fmt.Errorf("network %s: unknown contract role %q", name, role)
			}
		}
	}

	networks := cfg.Networks
	overlay := file.Networks
	file.Networks = nil
	cfg.overlay(file)
	cfg.Networks = mergeNetworks(networks, overlay)
	return nil
}

// overlay copies the non-zero scalar fields of o.
func (cfg *Config) overlay(o Config) {
	if o.Network != "" {
		cfg.Network = o.Network
	}
	if o.Confirmations != 0 {
		cfg.Confirmations = o.Confirmations
	}
	if o.ConfirmationTimeout != 0 {
		cfg.ConfirmationTimeout = o.ConfirmationTimeout
	}
	if o.PollInterval != 0 {
		cfg.PollInterval = o.PollInterval
	}
	if o.SafetyMargin != "" {
		cfg.SafetyMargin = o.SafetyMargin
	}
	if o.RateMode != "" {
		cfg.RateMode = o.RateMode
	}
	if o.ReferralCode != 0 {
		cfg.ReferralCode = o.ReferralCode
	}
	if o.MaxQuoteAge != 0 {
		cfg.MaxQuoteAge = o.MaxQuoteAge
	}
	if o.GasHeadroomPercent != 0 {
		cfg.GasHeadroomPercent = o.GasHeadroomPercent
	}
	if o.Reads != "" {
		cfg.Reads = o.Reads
	}
}

func (cfg *Config) applyEnv() error {
	cfg.Network = env.Get("NETWORK", cfg.Network)

	var err error
	if cfg.Confirmations, err = env.GetUint64("CONFIRMATIONS", cfg.Confirmations); err != nil {
		return err
	}
	if cfg.ConfirmationTimeout, err = env.GetDuration("CONFIRMATION_TIMEOUT", cfg.ConfirmationTimeout); err != nil {
		return err
	}
	if cfg.MaxQuoteAge, err = env.GetDuration("MAX_QUOTE_AGE", cfg.MaxQuoteAge); err != nil {
		return err
	}
	cfg.SafetyMargin = env.Get("SAFETY_MARGIN", cfg.SafetyMargin)
	cfg.RateMode = env.Get("RATE_MODE", cfg.RateMode)
	return nil
}

func (cfg *Config) normalize() {
	cfg.Network = strings.ToLower(strings.TrimSpace(cfg.Network))
	cfg.SafetyMargin = strings.TrimSpace(cfg.SafetyMargin)
	cfg.Reads = ReadMode(strings.ToLower(strings.TrimSpace(string(cfg.Reads))))
}

// Validate checks the settings that do not need a node to verify.
func (cfg Config) Validate() error {
	if cfg.Confirmations == 0 {
		return fmt.Errorf("confirmations must be at least 1")
	}
	if cfg.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation_timeout must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.MaxQuoteAge < 0 {
		return fmt.Errorf("max_quote_age must not be negative")
	}
	if _, err := entity.ParseRateMode(cfg.RateMode); err != nil {
		return err
	}
	switch cfg.Reads {
	case ReadsMulticall, ReadsDirect:
	default:
		return fmt.Errorf("reads must be %q or %q, got %q", ReadsMulticall, ReadsDirect, cfg.Reads)
	}
	book, err := cfg.AddressBook()
	if err != nil {
		return err
	}
	return book.validate()
}

// AddressBook returns the address table of the selected network.
func (cfg Config) AddressBook() (AddressBook, error) {
	entry, ok := cfg.Networks[cfg.Network]
	if !ok {
		return AddressBook{}, fmt.Errorf("unknown network %q (configured: %s)",
			cfg.Network, strings.Join(networkNames(cfg.Networks), ", "))
	}
	return AddressBook{network: cfg.Network, entry: entry}, nil
}
