package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv isolates a test from overrides set in the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"NETWORK", "CONFIRMATIONS", "CONFIRMATION_TIMEOUT", "MAX_QUOTE_AGE", "SAFETY_MARGIN", "RATE_MODE"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hardhat", cfg.Network)
	assert.Equal(t, uint64(1), cfg.Confirmations)
	assert.Equal(t, 2*time.Minute, cfg.ConfirmationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "0.95", cfg.SafetyMargin)
	assert.Equal(t, "stable", cfg.RateMode)
	assert.Equal(t, ReadsMulticall, cfg.Reads)

	book, err := cfg.AddressBook()
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), book.ChainID())

	weth, err := book.Address(RoleWrappedNative)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), weth)

	ref, ok, err := book.Optional(RoleReferenceFeed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"), ref)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
network: mainnet
confirmations: 3
confirmation_timeout: 5m
safety_margin: "0.9"
rate_mode: variable
referral_code: 42
max_quote_age: 1h
reads: direct
networks:
  mainnet:
    contracts:
      borrow_asset: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      borrow_asset_feed: "0x986b5E1e1755e3C2440e960477f25201B0a8bbD4"
  sepolia:
    chain_id: 11155111
    contracts:
      wrapped_native: "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"
      pool_addresses_provider: "0x0496275d34753A48320CA58103d5220d394FF77F"
      borrow_asset: "0xFF34B3d4Aee8ddCd6F9AFFFB6Fe49bD371b8a357"
      borrow_asset_feed: "0x14866185B1962B63C3Ea9E03Bc1da838bab34C19"
      multicall3: "0xcA11bde05977b3631167028862bE2a173976CA11"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, uint64(3), cfg.Confirmations)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "0.9", cfg.SafetyMargin)
	assert.Equal(t, "variable", cfg.RateMode)
	assert.Equal(t, uint16(42), cfg.ReferralCode)
	assert.Equal(t, time.Hour, cfg.MaxQuoteAge)
	assert.Equal(t, ReadsDirect, cfg.Reads)

	book, err := cfg.AddressBook()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), book.ChainID())

	asset, err := book.Address(RoleBorrowAsset)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), asset)

	// Roles not overridden keep the built-in value.
	provider, err := book.Address(RolePoolAddressesProvider)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5"), provider)

	// The hardhat defaults are untouched by the mainnet overlay.
	cfg.Network = "hardhat"
	hh, err := cfg.AddressBook()
	require.NoError(t, err)
	hhAsset, err := hh.Address(RoleBorrowAsset)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), hhAsset)

	cfg.Network = "sepolia"
	sep, err := cfg.AddressBook()
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), sep.ChainID())
	_, ok, err := sep.Optional(RoleReferenceFeed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "network: mainnet\nconfirmations: 3\n")
	t.Setenv("NETWORK", "hardhat")
	t.Setenv("CONFIRMATIONS", "6")
	t.Setenv("MAX_QUOTE_AGE", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hardhat", cfg.Network)
	assert.Equal(t, uint64(6), cfg.Confirmations)
	assert.Equal(t, 90*time.Second, cfg.MaxQuoteAge)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "hardhat", cfg.Network)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown field", body: "confirmatons: 2\n"},
		{name: "unknown role", body: "networks:\n  mainnet:\n    contracts:\n      lending_pool: \"0x01\"\n"},
		{name: "unknown network", body: "network: goerli\n"},
		{name: "bad rate mode", body: "rate_mode: fixed\n"},
		{name: "bad reads", body: "reads: graphql\n"},
		{name: "bad address", body: "networks:\n  hardhat:\n    contracts:\n      borrow_asset: \"0xnothex\"\n"},
		{name: "incomplete network", body: "network: local\nnetworks:\n  local:\n    chain_id: 1337\n"},
		{name: "bad env duration", env: map[string]string{"CONFIRMATION_TIMEOUT": "soon"}},
		{name: "bad env count", env: map[string]string{"CONFIRMATIONS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
