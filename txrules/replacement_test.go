// Copyright (c) 2018 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrules_test

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	. "github.com/rbflab/rbflab/txrules"
)

func TestSignalsReplacement(t *testing.T) {
	tests := []struct {
		Sequences []uint32
		Expected  bool
	}{
		0: {nil, false},
		1: {[]uint32{MaxRBFSequence}, true},
		2: {[]uint32{MaxRBFSequence + 1}, false},
		3: {[]uint32{0xffffffff}, false},
		4: {[]uint32{0xffffffff, 1}, true},
	}
	for i, test := range tests {
		got := SignalsReplacement(test.Sequences)
		if got != test.Expected {
			t.Errorf("Test %d: Got %v: Want %v", i, got, test.Expected)
		}
	}
}

// TestCheckReplacement walks the fee rules with the quantities of a typical
// low fee parent (110 sat, 110 vB) and its CPFP child (1100 sat, 110 vB)
// being evicted by a 110 vB replacement.
func TestCheckReplacement(t *testing.T) {
	conflicts := []Conflict{
		{Fee: 110, VSize: 110},  // 1 sat/vB
		{Fee: 1100, VSize: 110}, // 10 sat/vB
	}

	tests := []struct {
		Fee       btcutil.Amount
		Conflicts []Conflict
		OK        bool
	}{
		// 20 sat/vB clears both conflict rates and pays 2200 against
		// 1210 evicted + 110 increment.
		0: {2200, conflicts, true},

		// Exactly the evicted sum plus the increment is not enough;
		// the margin is strict.
		1: {1320, conflicts, false},

		// Matching the child's 10 sat/vB rate is a trade down.
		2: {1100, conflicts[1:], false},

		// With nothing to evict, only the incremental fee applies.
		3: {111, nil, true},
		4: {110, nil, false},
	}
	for i, test := range tests {
		err := CheckReplacement(test.Fee, 110, test.Conflicts,
			DefaultIncrementalFeePerKb)
		if test.OK && err != nil {
			t.Errorf("Test %d: unexpected error: %v", i, err)
		}
		if !test.OK && !errors.Is(err, ErrReplacementFeeTooLow) {
			t.Errorf("Test %d: Got %v: Want ErrReplacementFeeTooLow",
				i, err)
		}
	}
}

func TestConflictFeeRate(t *testing.T) {
	tests := []struct {
		Conflict Conflict
		Expected btcutil.Amount
	}{
		0: {Conflict{Fee: 110, VSize: 110}, 1e3},
		1: {Conflict{Fee: 1100, VSize: 110}, 10e3},
		2: {Conflict{Fee: 1000, VSize: 0}, 0},
	}
	for i, test := range tests {
		got := test.Conflict.FeeRatePerKb()
		if got != test.Expected {
			t.Errorf("Test %d: Got %v: Want %v", i, int64(got),
				int64(test.Expected))
		}
	}
}
