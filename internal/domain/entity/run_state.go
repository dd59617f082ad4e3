package entity

import "fmt"

// RunState is a stage of a single borrow run. Runs only move forward.
type RunState int

const (
	StateIdle RunState = iota
	StateWrapped
	StatePoolResolved
	StateApproved
	StateDeposited
	StateQueried
	StatePriced
	StateSized
	StateBorrowed
	StateApprovedRepay
	StateRepaid
	StateDone
)

var runStateNames = map[RunState]string{
	StateIdle:          "idle",
	StateWrapped:       "wrapped",
	StatePoolResolved:  "pool_resolved",
	StateApproved:      "approved",
	StateDeposited:     "deposited",
	StateQueried:       "queried",
	StatePriced:        "priced",
	StateSized:         "sized",
	StateBorrowed:      "borrowed",
	StateApprovedRepay: "approved_repay",
	StateRepaid:        "repaid",
	StateDone:          "done",
}

// runTransitions lists the permitted successors of each state.
var runTransitions = map[RunState][]RunState{
	StateIdle:          {StateWrapped},
	StateWrapped:       {StatePoolResolved},
	StatePoolResolved:  {StateApproved},
	StateApproved:      {StateDeposited},
	StateDeposited:     {StateQueried},
	StateQueried:       {StatePriced},
	StatePriced:        {StateSized},
	StateSized:         {StateBorrowed},
	StateBorrowed:      {StateApprovedRepay, StateDone},
	StateApprovedRepay: {StateRepaid},
	StateRepaid:        {StateDone},
}

func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// CanAdvanceTo reports whether next is a permitted successor of s.
func (s RunState) CanAdvanceTo(next RunState) bool {
	for _, candidate := range runTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Step names a unit of work in a run. Used in errors, logs, spans and metrics.
type Step string

const (
	StepWrap           Step = "wrap"
	StepResolvePool    Step = "resolve_pool"
	StepApproveDeposit Step = "approve_deposit"
	StepDeposit        Step = "deposit"
	StepQueryPosition  Step = "query_position"
	StepFetchQuote     Step = "fetch_quote"
	StepSizeBorrow     Step = "size_borrow"
	StepBorrow         Step = "borrow"
	StepApproveRepay   Step = "approve_repay"
	StepRepay          Step = "repay"
)

// stepTargets maps each step to the state reached when it completes.
var stepTargets = map[Step]RunState{
	StepWrap:           StateWrapped,
	StepResolvePool:    StatePoolResolved,
	StepApproveDeposit: StateApproved,
	StepDeposit:        StateDeposited,
	StepQueryPosition:  StateQueried,
	StepFetchQuote:     StatePriced,
	StepSizeBorrow:     StateSized,
	StepBorrow:         StateBorrowed,
	StepApproveRepay:   StateApprovedRepay,
	StepRepay:          StateRepaid,
}

// Target returns the state a run is in once the step has completed.
func (s Step) Target() (RunState, bool) {
	st, ok := stepTargets[s]
	return st, ok
}
