// Copyright (c) 2018 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrules

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// MaxRBFSequence is the maximum sequence number an input can use to signal
// that the transaction spending it can be replaced. Per BIP 125, this is
// 0xfffffffd.
const MaxRBFSequence uint32 = 0xfffffffd

// ErrReplacementFeeTooLow describes a replacement transaction whose fee or
// fee rate does not clear the transactions it would evict by the required
// margin.  Such a transaction would be rejected by the pool, so callers
// refuse it before any broadcast attempt.
var ErrReplacementFeeTooLow = errors.New("replacement fee too low")

// SignalsReplacement reports whether a transaction opts in to replaceability
// through the sequence number of any of its inputs.
func SignalsReplacement(sequences []uint32) bool {
	for _, seq := range sequences {
		if seq <= MaxRBFSequence {
			return true
		}
	}
	return false
}

// Conflict describes an in-pool transaction a replacement would evict.
type Conflict struct {
	// Fee is the absolute fee the conflicting transaction pays.
	Fee btcutil.Amount

	// VSize is the conflicting transaction's virtual size in vbytes.
	VSize int
}

// FeeRatePerKb returns the conflict's effective fee rate in satoshis per
// 1000 virtual bytes.
func (c Conflict) FeeRatePerKb() btcutil.Amount {
	if c.VSize <= 0 {
		return 0
	}
	return c.Fee * 1000 / btcutil.Amount(c.VSize)
}

// CheckReplacement enforces the fee rules a replacement transaction must
// satisfy against the set of in-pool transactions it conflicts with:
//
//  1. Its fee rate must be strictly greater than the effective fee rate of
//     every conflict, so the pool is never asked to trade down to a slower
//     transaction.
//
//  2. Its absolute fee must exceed the summed fees of all conflicts by more
//     than the incremental relay fee for its own size, paying for the
//     bandwidth of relaying the replacement on top of what the evicted
//     transactions already paid for.
//
// A violation is reported as ErrReplacementFeeTooLow wrapped with the
// offending quantities.  The transaction's virtual size must be positive.
func CheckReplacement(fee btcutil.Amount, vsize int, conflicts []Conflict,
	incrementalFeePerKb btcutil.Amount) error {

	if vsize <= 0 {
		return fmt.Errorf("%w: non-positive vsize %d",
			ErrReplacementFeeTooLow, vsize)
	}

	feeRate := fee * 1000 / btcutil.Amount(vsize)
	var conflictsFee btcutil.Amount
	for _, conflict := range conflicts {
		if feeRate <= conflict.FeeRatePerKb() {
			return fmt.Errorf("%w: replacement fee rate %d sat/kvB "+
				"<= conflict fee rate %d sat/kvB",
				ErrReplacementFeeTooLow, int64(feeRate),
				int64(conflict.FeeRatePerKb()))
		}
		conflictsFee += conflict.Fee
	}

	increment := FeeForVSize(incrementalFeePerKb, vsize)
	if fee <= conflictsFee+increment {
		return fmt.Errorf("%w: replacement fee %d <= evicted fees %d "+
			"+ increment %d", ErrReplacementFeeTooLow, int64(fee),
			int64(conflictsFee), int64(increment))
	}

	return nil
}
