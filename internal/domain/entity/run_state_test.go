package entity

import "testing"

func TestRunState_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from RunState
		to   RunState
		want bool
	}{
		{"idle to wrapped", StateIdle, StateWrapped, true},
		{"approved to deposited", StateApproved, StateDeposited, true},
		{"borrowed to done", StateBorrowed, StateDone, true},
		{"borrowed to repay approval", StateBorrowed, StateApprovedRepay, true},
		{"repaid to done", StateRepaid, StateDone, true},
		{"skip approval", StatePoolResolved, StateDeposited, false},
		{"borrow before sizing", StatePriced, StateBorrowed, false},
		{"backwards", StateDeposited, StateApproved, false},
		{"repay without approval", StateBorrowed, StateRepaid, false},
		{"nothing after done", StateDone, StateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStep_Target(t *testing.T) {
	steps := []Step{
		StepWrap, StepResolvePool, StepApproveDeposit, StepDeposit, StepQueryPosition,
		StepFetchQuote, StepSizeBorrow, StepBorrow, StepApproveRepay, StepRepay,
	}

	// Walking the steps in order must follow permitted transitions only.
	state := StateIdle
	for _, step := range steps {
		next, ok := step.Target()
		if !ok {
			t.Fatalf("step %s has no target state", step)
		}
		if !state.CanAdvanceTo(next) {
			t.Fatalf("step %s: %s cannot advance to %s", step, state, next)
		}
		state = next
	}
	if !state.CanAdvanceTo(StateDone) {
		t.Errorf("final state %s cannot reach done", state)
	}
}

func TestParseRateMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RateMode
		wantErr bool
	}{
		{input: "", want: RateModeStable},
		{input: "stable", want: RateModeStable},
		{input: "Variable", want: RateModeVariable},
		{input: "fixed", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRateMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if got.BigInt().Uint64() != uint64(tt.want) {
				t.Errorf("BigInt() = %s", got.BigInt())
			}
		})
	}
}
