// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor builds and signs single input transactions from a
// declarative intent: spend this output, produce these outputs at this fee
// rate.  Fee arithmetic always balances exactly; value never disappears
// into the gap between inputs and outputs.
package txauthor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rbflab/rbflab/keyring"
	"github.com/rbflab/rbflab/netparams"
	"github.com/rbflab/rbflab/txrules"
	"github.com/rbflab/rbflab/txsizes"
)

const (
	// DefaultTxVersion is the transaction version used when an intent
	// does not name one.  Version 2 unlocks BIP 68 relative locktime
	// semantics and is what current nodes produce by default.
	DefaultTxVersion = 2

	// MaxTxVersion is the highest accepted version, covering version 3
	// topologically restricted transactions.
	MaxTxVersion = 3
)

var (
	// ErrInsufficientFunds describes an intent whose explicit outputs
	// and fee exceed the spent input value.
	ErrInsufficientFunds = errors.New("insufficient input value to construct transaction")

	// ErrFeeExceedsInput describes a fee rate so high the computed fee
	// leaves nothing of the input for any output.
	ErrFeeExceedsInput = errors.New("fee exceeds input value")

	// ErrInvalidAddress describes a destination that fails decoding or
	// belongs to a different network.
	ErrInvalidAddress = errors.New("invalid destination address")

	// ErrDustOutput describes an explicitly requested output below the
	// dust threshold.  Explicit outputs are refused rather than dropped.
	ErrDustOutput = errors.New("transaction output is dust")

	// ErrUnsupportedScript describes a previous output locked by a
	// script other than P2WPKH or P2PKH.
	ErrUnsupportedScript = errors.New("unsupported previous output script")

	// ErrBadIntent describes an intent that is malformed independent of
	// any value arithmetic, such as carrying two remainder outputs.
	ErrBadIntent = errors.New("malformed transaction intent")

	// ErrInvariantViolation reports a broken internal guarantee, such as
	// unbalanced value books or a signed input that fails its own
	// script.  A transaction carrying this error must never be emitted.
	ErrInvariantViolation = errors.New("transaction invariant violated")
)

// PrevOutput describes the unspent output an intent spends.  The value and
// locking script must match the node's view of the outpoint or signature
// validation by the network will fail.
type PrevOutput struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// Recipient is one requested output.  At most one recipient may be marked
// Remainder; it receives whatever the input value leaves over after the
// explicit amounts and the fee.
type Recipient struct {
	Address   string
	Amount    btcutil.Amount
	Remainder bool
}

// Intent declares a transaction to build.  Intents are created per stage
// and never reused; building the same intent twice yields identical
// unsigned transactions.
type Intent struct {
	Input   PrevOutput
	Outputs []Recipient

	// FeeRatePerKb is the target fee rate in satoshis per 1000 virtual
	// bytes.
	FeeRatePerKb btcutil.Amount

	// Replaceable opts the transaction in to replacement by setting the
	// input sequence number below the non-replaceable threshold.
	Replaceable bool

	// Version is the transaction version, DefaultTxVersion when zero.
	Version int32
}

// AuthoredTx holds a newly created transaction along with the previous
// output data needed to sign it and the fee arithmetic that produced it.
type AuthoredTx struct {
	Tx              *wire.MsgTx
	PrevScripts     [][]byte
	PrevInputValues []btcutil.Amount
	TotalInput      btcutil.Amount
	Fee             btcutil.Amount
	VSize           int
	ChangeIndex     int // negative if no change
}

// SumOutputValues sums up the list of TxOuts and returns an Amount.
func SumOutputValues(outputs []*wire.TxOut) (totalOutput btcutil.Amount) {
	for _, txOut := range outputs {
		totalOutput += btcutil.Amount(txOut.Value)
	}
	return totalOutput
}

// NewUnsignedTransaction creates an unsigned transaction spending the
// intent's input and paying its outputs.  The fee is taken off the
// remainder output based on the worst case virtual size at the intent's
// fee rate.  A remainder that would be dust is added to the fee instead of
// standing as an output, so value is never silently lost.
//
// The result satisfies sum(output values) + Fee == input value exactly.
//
// Building is deterministic and performs no I/O; whether the spent output
// is actually unspent is the caller's concern.
func NewUnsignedTransaction(intent *Intent, params *netparams.Params,
	dustRelayFeePerKb btcutil.Amount) (*AuthoredTx, error) {

	version := intent.Version
	if version == 0 {
		version = DefaultTxVersion
	}
	if version < 1 || version > MaxTxVersion {
		return nil, fmt.Errorf("%w: transaction version %d",
			ErrBadIntent, version)
	}
	if len(intent.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrBadIntent)
	}

	// Classify the spent output to pick the worst case signing cost.
	var p2pkhIns, p2wpkhIns int
	switch {
	case txscript.IsPayToWitnessPubKeyHash(intent.Input.PkScript):
		p2wpkhIns = 1
	case txscript.IsPayToPubKeyHash(intent.Input.PkScript):
		p2pkhIns = 1
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnsupportedScript,
			intent.Input.PkScript)
	}

	// Resolve every destination before any value arithmetic so a bad
	// address never costs a broadcast.
	remainderIndex := -1
	txOuts := make([]*wire.TxOut, len(intent.Outputs))
	var explicitSum btcutil.Amount
	for i, out := range intent.Outputs {
		addr, err := btcutil.DecodeAddress(out.Address, params.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress,
				out.Address, err)
		}
		if !addr.IsForNet(params.Params) {
			return nil, fmt.Errorf("%w: %q is not a %s address",
				ErrInvalidAddress, out.Address, params.Name)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress,
				out.Address, err)
		}
		if out.Remainder {
			if remainderIndex != -1 {
				return nil, fmt.Errorf("%w: multiple remainder "+
					"outputs", ErrBadIntent)
			}
			remainderIndex = i
			txOuts[i] = &wire.TxOut{PkScript: script}
			continue
		}
		explicitSum += out.Amount
		txOuts[i] = &wire.TxOut{
			Value:    int64(out.Amount),
			PkScript: script,
		}
	}

	vsize := txsizes.EstimateVirtualSize(p2pkhIns, p2wpkhIns, txOuts)
	fee := txrules.FeeForVSize(intent.FeeRatePerKb, vsize)
	if fee >= intent.Input.Value {
		return nil, fmt.Errorf("%w: fee %v >= input %v",
			ErrFeeExceedsInput, fee, intent.Input.Value)
	}

	changeIndex := -1
	if remainderIndex != -1 {
		remainder := intent.Input.Value - explicitSum - fee
		if remainder < 0 {
			return nil, fmt.Errorf("%w: outputs %v + fee %v exceed "+
				"input %v", ErrInsufficientFunds, explicitSum,
				fee, intent.Input.Value)
		}
		if txrules.IsDustAmount(remainder,
			txOuts[remainderIndex].PkScript, dustRelayFeePerKb) {

			fee += remainder
			txOuts = append(txOuts[:remainderIndex],
				txOuts[remainderIndex+1:]...)
		} else {
			txOuts[remainderIndex].Value = int64(remainder)
			changeIndex = remainderIndex
		}
	} else {
		surplus := intent.Input.Value - explicitSum - fee
		if surplus < 0 {
			return nil, fmt.Errorf("%w: outputs %v + fee %v exceed "+
				"input %v", ErrInsufficientFunds, explicitSum,
				fee, intent.Input.Value)
		}
		// Without a remainder output the surplus has nowhere to go
		// but the fee.
		fee += surplus
	}
	if len(txOuts) == 0 {
		return nil, fmt.Errorf("%w: all output value consumed by fee",
			ErrInsufficientFunds)
	}

	// Explicit outputs must stand on their own; dust is refused rather
	// than dropped.
	for i, txOut := range txOuts {
		err := txrules.CheckOutput(txOut, dustRelayFeePerKb)
		if errors.Is(err, txrules.ErrOutputIsDust) {
			return nil, fmt.Errorf("%w: output %d pays %d",
				ErrDustOutput, i, txOut.Value)
		}
		if err != nil {
			return nil, err
		}
	}

	sequence := wire.MaxTxInSequenceNum
	if intent.Replaceable {
		sequence = txrules.MaxRBFSequence
	}
	txIn := wire.NewTxIn(&intent.Input.OutPoint, nil, nil)
	txIn.Sequence = sequence

	unsignedTransaction := &wire.MsgTx{
		Version:  version,
		TxIn:     []*wire.TxIn{txIn},
		TxOut:    txOuts,
		LockTime: 0,
	}

	// The books must balance exactly.
	if fee < 0 || SumOutputValues(txOuts)+fee != intent.Input.Value {
		return nil, fmt.Errorf("%w: outputs %v + fee %v != input %v",
			ErrInvariantViolation, SumOutputValues(txOuts), fee,
			intent.Input.Value)
	}

	return &AuthoredTx{
		Tx:              unsignedTransaction,
		PrevScripts:     [][]byte{intent.Input.PkScript},
		PrevInputValues: []btcutil.Amount{intent.Input.Value},
		TotalInput:      intent.Input.Value,
		Fee:             fee,
		VSize:           vsize,
		ChangeIndex:     changeIndex,
	}, nil
}

// FeeRatePerKb returns the transaction's effective fee rate in satoshis
// per 1000 virtual bytes, using the recorded virtual size.
func (tx *AuthoredTx) FeeRatePerKb() btcutil.Amount {
	if tx.VSize <= 0 {
		return 0
	}
	return tx.Fee * 1000 / btcutil.Amount(tx.VSize)
}

// AddAllInputScripts modifies an authored transaction by adding the input
// script or witness for each input, signing with keys.  Every produced
// script is executed against its previous output before release; a
// transaction that cannot spend what it claims is never handed out for
// broadcast.  On success the recorded virtual size is updated to the exact
// post-signing value and the transaction must no longer be mutated.
func (tx *AuthoredTx) AddAllInputScripts(keys *keyring.KeyRing) error {
	err := addAllInputScripts(tx.Tx, tx.PrevScripts, tx.PrevInputValues,
		keys)
	if err != nil {
		return err
	}
	err = validateMsgTx(tx.Tx, tx.PrevScripts, tx.PrevInputValues)
	if err != nil {
		return err
	}
	tx.VSize = txsizes.VirtualSize(tx.Tx)
	return nil
}

// addAllInputScripts signs each input against its previous output script.
// Witness spends leave the signature script empty; legacy spends leave the
// witness empty.
func addAllInputScripts(tx *wire.MsgTx, prevPkScripts [][]byte,
	inputValues []btcutil.Amount, keys *keyring.KeyRing) error {

	inputFetcher, err := txPrevOutFetcher(tx, prevPkScripts, inputValues)
	if err != nil {
		return err
	}
	hashCache := txscript.NewTxSigHashes(tx, inputFetcher)

	for i, pkScript := range prevPkScripts {
		switch {
		case txscript.IsPayToWitnessPubKeyHash(pkScript):
			witness, err := txscript.WitnessSignature(tx, hashCache,
				i, int64(inputValues[i]), pkScript,
				txscript.SigHashAll, keys.PrivKey(), true)
			if err != nil {
				return err
			}
			tx.TxIn[i].Witness = witness

		case txscript.IsPayToPubKeyHash(pkScript):
			sigScript, err := txscript.SignatureScript(tx, i,
				pkScript, txscript.SigHashAll, keys.PrivKey(),
				keys.Compressed())
			if err != nil {
				return err
			}
			tx.TxIn[i].SignatureScript = sigScript

		default:
			return fmt.Errorf("%w: %x", ErrUnsupportedScript,
				pkScript)
		}
	}

	return nil
}

// validateMsgTx executes every input script against the output it spends,
// proving the signatures are valid before the transaction leaves the
// process.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	inputFetcher, err := txPrevOutFetcher(tx, prevScripts, inputValues)
	if err != nil {
		return err
	}
	hashCache := txscript.NewTxSigHashes(tx, inputFetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(prevScript, tx, i,
			txscript.StandardVerifyFlags, nil, hashCache,
			int64(inputValues[i]), inputFetcher)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %s", err)
		}
		err = vm.Execute()
		if err != nil {
			return fmt.Errorf("%w: cannot validate transaction: %s",
				ErrInvariantViolation, err)
		}
	}
	return nil
}

// txPrevOutFetcher creates a txscript.MultiPrevOutFetcher from a slice of
// previous output scripts and input values.
func txPrevOutFetcher(tx *wire.MsgTx, prevPkScripts [][]byte,
	inputValues []btcutil.Amount) (*txscript.MultiPrevOutFetcher, error) {

	if len(tx.TxIn) != len(prevPkScripts) {
		return nil, errors.New("tx.TxIn and prevPkScripts slices " +
			"must have equal length")
	}
	if len(tx.TxIn) != len(inputValues) {
		return nil, errors.New("tx.TxIn and inputValues slices " +
			"must have equal length")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txin := range tx.TxIn {
		fetcher.AddPrevOut(txin.PreviousOutPoint, &wire.TxOut{
			Value:    int64(inputValues[idx]),
			PkScript: prevPkScripts[idx],
		})
	}

	return fetcher, nil
}
