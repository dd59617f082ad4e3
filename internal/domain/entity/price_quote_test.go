package entity

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestNewPriceQuote(t *testing.T) {
	updated := time.Unix(1_700_000_000, 0)

	if _, err := NewPriceQuote(big.NewInt(0), 18, big.NewInt(1), updated); err == nil {
		t.Error("expected zero rate to be rejected")
	}
	if _, err := NewPriceQuote(big.NewInt(-5), 18, big.NewInt(1), updated); err == nil {
		t.Error("expected negative rate to be rejected")
	}
	if _, err := NewPriceQuote(big.NewInt(5), 18, big.NewInt(1), time.Time{}); err == nil {
		t.Error("expected incomplete round to be rejected")
	}

	q, err := NewPriceQuote(big.NewInt(512_345_678_900_000), 18, big.NewInt(7), updated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.String() != "0.0005123456789" {
		t.Errorf("String() = %s", q.String())
	}
}

func TestPriceQuote_CheckFresh(t *testing.T) {
	updated := time.Unix(1_700_000_000, 0)
	q, err := NewPriceQuote(big.NewInt(1), 8, big.NewInt(1), updated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		now     time.Time
		maxAge  time.Duration
		wantErr bool
	}{
		{name: "check disabled", now: updated.Add(48 * time.Hour), maxAge: 0},
		{name: "within max age", now: updated.Add(30 * time.Minute), maxAge: time.Hour},
		{name: "exactly max age", now: updated.Add(time.Hour), maxAge: time.Hour},
		{name: "older than max age", now: updated.Add(2 * time.Hour), maxAge: time.Hour, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.CheckFresh(tt.now, tt.maxAge)
			if tt.wantErr {
				if !errors.Is(err, ErrStaleQuote) {
					t.Errorf("expected ErrStaleQuote, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
