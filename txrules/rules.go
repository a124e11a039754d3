// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txrules provides transaction policy rules and arithmetic: relay
// fees, dust determination, output sanity checks, and the fee rules a
// replacement transaction must clear.
package txrules

import (
	"errors"
	"strconv"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultRelayFeePerKb is the default minimum relay fee policy for a
// mempool, in satoshis per 1000 virtual bytes.
const DefaultRelayFeePerKb btcutil.Amount = 1e3

// DefaultIncrementalFeePerKb is the default rate by which a replacement
// transaction must outbid the transactions it evicts, in satoshis per 1000
// virtual bytes.
const DefaultIncrementalFeePerKb btcutil.Amount = 1e3

// SatPerVByte expresses a fee rate in satoshis per virtual byte, the unit
// used on the command surface.  Policy arithmetic runs on per-kilo-vbyte
// amounts.
type SatPerVByte int64

// FeePerKb converts the rate to satoshis per 1000 virtual bytes.
func (r SatPerVByte) FeePerKb() btcutil.Amount {
	return btcutil.Amount(r) * 1000
}

// String returns the rate as a human readable string.
func (r SatPerVByte) String() string {
	return strconv.FormatInt(int64(r), 10) + " sat/vB"
}

// FeeForVSize calculates the required fee for a transaction of some virtual
// size given a relay fee policy.  The result rounds up, so a transaction
// paying exactly this fee never falls under the policy rate.
func FeeForVSize(relayFeePerKb btcutil.Amount, vsize int) btcutil.Amount {
	fee := (relayFeePerKb*btcutil.Amount(vsize) + 999) / 1000

	if fee == 0 && relayFeePerKb > 0 {
		fee = 1
	}

	if fee < 0 || fee > btcutil.MaxSatoshi {
		fee = btcutil.MaxSatoshi
	}

	return fee
}

// IsDustAmount determines whether a transaction output value and locking
// script would cause the output to be considered dust.  Transactions with
// dust outputs are not standard and are rejected by mempools with default
// policies.
func IsDustAmount(amount btcutil.Amount, pkScript []byte,
	relayFeePerKb btcutil.Amount) bool {

	// The total cost to the network is the serialize size of the output
	// plus the serialize size of the input which redeems it.  Witness
	// spends carry most of their redeeming bytes at a quarter weight.
	outSize := 8 + wire.VarIntSerializeSize(uint64(len(pkScript))) +
		len(pkScript)
	inSize := 41
	if txscript.IsWitnessProgram(pkScript) {
		inSize += 107 / blockchain.WitnessScaleFactor
	} else {
		inSize += 107
	}

	// Dust is defined as an output value where the total cost to the
	// network (output size + input size) is greater than 1/3 of the
	// relay fee.
	return int64(amount)*1000/(3*int64(outSize+inSize)) <
		int64(relayFeePerKb)
}

// IsDustOutput determines whether a transaction output is considered dust.
// Transactions with dust outputs are not standard and are rejected by
// mempools with default policies.
func IsDustOutput(output *wire.TxOut, relayFeePerKb btcutil.Amount) bool {
	// Unspendable outputs are considered dust.
	if txscript.IsUnspendable(output.PkScript) {
		return true
	}

	return IsDustAmount(btcutil.Amount(output.Value), output.PkScript,
		relayFeePerKb)
}

// Transaction rule violations
var (
	ErrAmountNegative   = errors.New("transaction output amount is negative")
	ErrAmountExceedsMax = errors.New("transaction output amount exceeds maximum value")
	ErrOutputIsDust     = errors.New("transaction output is dust")
)

// CheckOutput performs simple consensus and policy tests on a transaction
// output.
func CheckOutput(output *wire.TxOut, relayFeePerKb btcutil.Amount) error {
	if output.Value < 0 {
		return ErrAmountNegative
	}
	if output.Value > btcutil.MaxSatoshi {
		return ErrAmountExceedsMax
	}
	if IsDustOutput(output, relayFeePerKb) {
		return ErrOutputIsDust
	}
	return nil
}
