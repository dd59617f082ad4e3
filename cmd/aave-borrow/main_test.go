package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-research/stl/stl-borrow/internal/config"
	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "wrap", "position", "quote"}, names)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	for _, key := range []string{"CONFIG_FILE", "NETWORK", "CONFIRMATIONS", "CONFIRMATION_TIMEOUT", "MAX_QUOTE_AGE", "SAFETY_MARGIN", "RATE_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := loadConfig(&cliOptions{
		network:       "mainnet",
		confirmations: 4,
		margin:        "0.8",
		rateMode:      "variable",
		maxQuoteAge:   time.Hour,
		reads:         "direct",
	})
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, uint64(4), cfg.Confirmations)
	assert.Equal(t, "0.8", cfg.SafetyMargin)
	assert.Equal(t, config.ReadsDirect, cfg.Reads)

	svcCfg, err := serviceConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), svcCfg.MarginBps)
	assert.Equal(t, entity.RateModeVariable, svcCfg.RateMode)
	assert.Equal(t, time.Hour, svcCfg.MaxQuoteAge)
	assert.Equal(t, uint64(4), svcCfg.Confirmations)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NETWORK", "")

	_, err := loadConfig(&cliOptions{network: "ropsten"})
	assert.Error(t, err)

	_, err = loadConfig(&cliOptions{rateMode: "fixed"})
	assert.Error(t, err)
}

func TestServiceConfig_RejectsBadMargin(t *testing.T) {
	cfg := config.Defaults()
	cfg.SafetyMargin = "1.2"
	_, err := serviceConfig(cfg)
	assert.Error(t, err)
}
