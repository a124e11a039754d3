// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain is a thin typed adapter over a node's RPC interface,
// narrowed to the calls a replacement experiment needs: fetch an unspent
// output, test acceptance, broadcast, and query pool or chain membership.
// The node is an external collaborator; everything here translates its
// answers into typed results and errors and nothing more.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UnspentOutput describes a spendable output as the node reports it.
// Immutable once fetched; a stale view surfaces later as a broadcast
// rejection, never as corruption.
type UnspentOutput struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte

	// Confirmations is zero while the funding transaction is still in
	// the pending pool.
	Confirmations int64
}

// AcceptResult is the node's verdict on a transaction submitted for pool
// acceptance checks without relay.
type AcceptResult struct {
	TxID     string
	Accepted bool

	// Reason is the node's rejection reason, empty when accepted.
	Reason string
}

// NodeInfo is the subset of the node's chain state used to verify a
// session is pointed at the intended network.
type NodeInfo struct {
	Chain  string
	Blocks int64
}

// Interface is the node client contract consumed by the experiment
// orchestration.  Every call is remote and runs under the client's
// configured timeout; context cancellation is honored at each call.
type Interface interface {
	// GetUnspentOutput fetches an outpoint the node still considers
	// unspent, looking at both the chain and the pending pool.  An
	// unknown or already spent outpoint fails with ErrOutpointNotFound.
	GetUnspentOutput(ctx context.Context, op *wire.OutPoint) (*UnspentOutput, error)

	// TestAccept asks the node whether it would accept the transaction
	// to its pending pool, without relaying it.  A negative verdict is
	// reported in the result, not as an error.
	TestAccept(ctx context.Context, tx *wire.MsgTx) (*AcceptResult, error)

	// Broadcast submits the transaction for relay and returns its hash.
	// Rejections surface as mapped protocol errors.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)

	// InPendingPool reports whether the transaction currently sits in
	// the node's pending pool.  Absence is a clean false, not an error.
	InPendingPool(ctx context.Context, txid *chainhash.Hash) (bool, error)

	// TxConfirmations returns the number of confirmations of a
	// transaction the node knows, zero while it is only pooled, and
	// ErrTxNotFound when the node knows nothing about it.
	TxConfirmations(ctx context.Context, txid *chainhash.Hash) (int64, error)

	// Ping verifies the node is reachable and reports which chain it
	// follows.
	Ping(ctx context.Context) (*NodeInfo, error)
}
