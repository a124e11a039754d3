// Copyright (c) 2015 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package experiment

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrBadInput indicates a caller supplied value was rejected before
	// any network call: a malformed key or address, a hostile fee rate,
	// an output the key does not control.  The stage is unchanged.
	ErrBadInput ErrorCode = iota

	// ErrWrongStage indicates the command does not apply to the stage
	// the experiment is currently in.  The stage is unchanged.
	ErrWrongStage

	// ErrOutputConsumed indicates the referenced outpoint was already
	// spent by a transaction this session broadcast.
	ErrOutputConsumed

	// ErrNoChange indicates the parent transaction carries no change
	// output for a child to spend.
	ErrNoChange

	// ErrReplacementFeeTooLow indicates the replacement's fee does not
	// clear the fees of the transactions it would evict by the required
	// increment.  Detected before any broadcast attempt; the stage is
	// unchanged so the command may be reissued at a higher rate.
	ErrReplacementFeeTooLow

	// ErrNodeRejected indicates the node refused a transaction or
	// lookup at the protocol level.  The experiment moves to its failed
	// stage and records the node's reason.
	ErrNodeRejected

	// ErrNodeUnreachable indicates a transport level failure: timeout,
	// refused connection.  The stage is unchanged and the same command
	// may be issued again once the node answers.
	ErrNodeUnreachable

	// ErrInvariant indicates the engine caught itself about to emit a
	// transaction that breaks its own guarantees, such as unbalanced
	// value books or a signature that fails verification.
	ErrInvariant
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrBadInput:             "ErrBadInput",
	ErrWrongStage:           "ErrWrongStage",
	ErrOutputConsumed:       "ErrOutputConsumed",
	ErrNoChange:             "ErrNoChange",
	ErrReplacementFeeTooLow: "ErrReplacementFeeTooLow",
	ErrNodeRejected:         "ErrNodeRejected",
	ErrNodeUnreachable:      "ErrNodeUnreachable",
	ErrInvariant:            "ErrInvariant",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError provides a single type for every error a session reports.  The
// ErrorCode tells the caller which class of failure occurred and therefore
// whether the command may be reissued; the Err field carries the underlying
// error from the building, policy, or node layer when there is one.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string, err error) RuleError {
	return RuleError{ErrorCode: c, Description: desc, Err: err}
}
