package entity

import "errors"

var (
	// ErrSubmissionRejected is returned when the chain refuses a state-changing call,
	// either at gas estimation, at broadcast, or by reverting once mined.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrFinalizationTimeout is returned when a submitted transaction does not reach
	// the required confirmation depth within the configured bound.
	ErrFinalizationTimeout = errors.New("finalization timeout")

	// ErrStaleQuote is returned when a price quote is older than the allowed age.
	ErrStaleQuote = errors.New("stale price quote")

	// ErrNothingToBorrow is returned when sizing yields a zero borrow amount.
	ErrNothingToBorrow = errors.New("nothing to borrow")

	// ErrInsufficientAllowance is returned when the on-chain allowance does not cover
	// the amount about to be pulled by the pool.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	ErrInvalidAmount = errors.New("invalid amount")
)
