// Package testutil provides mocks and fakes shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/archon-research/stl/stl-borrow/internal/domain/entity"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Units parses a decimal string into smallest units, failing the test on error.
func Units(t *testing.T, s string, decimals uint8) *big.Int {
	t.Helper()
	v, err := entity.ParseUnits(s, decimals)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return v
}

// BigInt parses a base-10 integer string, failing the test on error.
func BigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return v
}
