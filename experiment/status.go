// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rbflab/rbflab/chain"
)

// TxState describes where a session transaction currently stands from the
// node's point of view.
type TxState uint8

const (
	// TxStateNotCreated means the session has not built this
	// transaction yet.
	TxStateNotCreated TxState = iota

	// TxStatePooled means the transaction sits in the node's pending
	// pool.
	TxStatePooled

	// TxStateConfirmed means the transaction was mined.
	TxStateConfirmed

	// TxStateGone means the node no longer knows the transaction: it
	// was evicted, or it never reached this node.
	TxStateGone
)

// Map of TxState values back to human-readable names.
var txStateStrings = map[TxState]string{
	TxStateNotCreated: "not created",
	TxStatePooled:     "in pending pool",
	TxStateConfirmed:  "confirmed",
	TxStateGone:       "evicted or missing",
}

// String returns the TxState as a human-readable name.
func (ts TxState) String() string {
	if name := txStateStrings[ts]; name != "" {
		return name
	}
	return fmt.Sprintf("unknown tx state (%d)", uint8(ts))
}

// ReceiverState is the experiment's reading of what the child's payee
// currently sees.
type ReceiverState uint8

const (
	// ReceiverWaiting means no payment is visible to the payee yet.
	ReceiverWaiting ReceiverState = iota

	// ReceiverPending means the child sits unconfirmed in the pool, the
	// window during which a replacement can still take it away.
	ReceiverPending

	// ReceiverPaid means the child confirmed and the payment settled.
	ReceiverPaid

	// ReceiverEvicted means a replacement took the funding output from
	// under the child; the payment will never arrive.
	ReceiverEvicted
)

// Map of ReceiverState values back to human-readable names.
var receiverStateStrings = map[ReceiverState]string{
	ReceiverWaiting: "waiting",
	ReceiverPending: "payment pending",
	ReceiverPaid:    "payment received",
	ReceiverEvicted: "payment evicted",
}

// String returns the ReceiverState as a human-readable name.
func (rs ReceiverState) String() string {
	if name := receiverStateStrings[rs]; name != "" {
		return name
	}
	return fmt.Sprintf("unknown receiver state (%d)", uint8(rs))
}

// TxStatus is one transaction's entry in a status report.
type TxStatus struct {
	Label string

	// TxID is nil while the transaction has not been built.
	TxID *chainhash.Hash

	State TxState

	// Confirmations is only meaningful in TxStateConfirmed.
	Confirmations int64
}

// StatusReport is a point in time view of every transaction the session
// has built, plus the payee verdict derived from them.
type StatusReport struct {
	Stage       Stage
	Parent      TxStatus
	Child       TxStatus
	Replacement TxStatus
	Receiver    ReceiverState
}

// Status polls the node for the standing of the parent, child, and
// replacement transactions.  It is read only: no stage transition happens
// here regardless of what the node answers, so it may be called at any
// time and as often as wanted.
func (s *Session) Status(ctx context.Context) (*StatusReport, error) {
	parent, err := s.txStatus(ctx, "parent", s.parent)
	if err != nil {
		return nil, err
	}
	child, err := s.txStatus(ctx, "child", s.child)
	if err != nil {
		return nil, err
	}
	replacement, err := s.txStatus(ctx, "replacement", s.replacement)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Stage:       s.stage,
		Parent:      parent,
		Child:       child,
		Replacement: replacement,
		Receiver:    receiverVerdict(child, replacement),
	}, nil
}

// txStatus resolves one record against the node: pooled wins, then mined,
// and a transaction the node cannot account for reads as gone.
func (s *Session) txStatus(ctx context.Context, label string,
	rec *txRecord) (TxStatus, error) {

	st := TxStatus{Label: label, State: TxStateNotCreated}
	if rec == nil {
		return st, nil
	}
	id := rec.txid
	st.TxID = &id

	pooled, err := s.node.InPendingPool(ctx, &id)
	if err != nil {
		return st, nodeError(fmt.Sprintf(
			"pool lookup for %s %v failed", label, id), err)
	}
	if pooled {
		st.State = TxStatePooled
		return st, nil
	}

	conf, err := s.node.TxConfirmations(ctx, &id)
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		st.State = TxStateGone
	case err != nil:
		return st, nodeError(fmt.Sprintf(
			"chain lookup for %s %v failed", label, id), err)
	case conf > 0:
		st.State = TxStateConfirmed
		st.Confirmations = conf
	default:
		// Known to the node yet neither pooled nor mined reads as
		// evicted for the experiment's purposes.
		st.State = TxStateGone
	}
	return st, nil
}

// receiverVerdict derives the payee's view.  The child's standing decides
// it outright; failing that, a live replacement means the payment was
// taken away rather than still coming.
func receiverVerdict(child, replacement TxStatus) ReceiverState {
	switch {
	case child.State == TxStatePooled:
		return ReceiverPending
	case child.State == TxStateConfirmed:
		return ReceiverPaid
	case replacement.State == TxStatePooled,
		replacement.State == TxStateConfirmed:
		return ReceiverEvicted
	default:
		return ReceiverWaiting
	}
}

// nodeError classifies a chain package error without touching the session,
// keeping status polling free of side effects.
func nodeError(desc string, err error) error {
	code := ErrNodeRejected
	if errors.Is(err, chain.ErrNodeUnreachable) {
		code = ErrNodeUnreachable
	}
	return ruleError(code, desc, err)
}
