// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/rbflab/rbflab/netparams"
)

// DefaultRPCTimeout bounds a single RPC round trip when the config does
// not name its own limit.
const DefaultRPCTimeout = 10 * time.Second

// Config describes how to reach a node's RPC listener.  Credentials are
// caller supplied and used for every call.
type Config struct {
	// Host is the RPC host:port.  When empty, localhost on the
	// network's conventional RPC port is used.
	Host string

	User string
	Pass string

	// Params names the network the node is expected to follow.
	Params *netparams.Params

	// Timeout bounds each RPC round trip, DefaultRPCTimeout when zero.
	Timeout time.Duration
}

// RPCClient implements Interface over plain HTTP POST JSON-RPC, the
// transport both btcd and bitcoind serve without extra setup.
type RPCClient struct {
	client  *rpcclient.Client
	timeout time.Duration
}

// Enforce that RPCClient satisfies the Interface interface.
var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client for the node described by cfg.  No
// connection is attempted here; POST mode connects per call.  Use Ping to
// verify reachability and chain identity.
func NewRPCClient(cfg *Config) (*RPCClient, error) {
	if cfg.Params == nil {
		return nil, errors.New("chain: config needs network parameters")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost:" + cfg.Params.RPCPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}

	log.Debugf("Using RPC server %s for the %s network", host,
		cfg.Params.Name)

	return &RPCClient{client: client, timeout: timeout}, nil
}

// Shutdown releases the underlying RPC client.
func (c *RPCClient) Shutdown() {
	c.client.Shutdown()
}

// GetUnspentOutput fetches an outpoint from the node's unspent view,
// including outputs created by still pooled transactions.
func (c *RPCClient) GetUnspentOutput(ctx context.Context,
	op *wire.OutPoint) (*UnspentOutput, error) {

	res, err := await(ctx, c.timeout,
		func() (*btcjson.GetTxOutResult, error) {
			return c.client.GetTxOut(&op.Hash, op.Index, true)
		})
	if err != nil {
		return nil, MapRPCErr(err)
	}

	// The node answers null, not an error, for unknown or spent
	// outpoints.
	if res == nil {
		return nil, fmt.Errorf("%w: %v", ErrOutpointNotFound, op)
	}

	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: output value %v: %v", ErrUndefined,
			res.Value, err)
	}
	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: output script: %v", ErrUndefined,
			err)
	}

	return &UnspentOutput{
		OutPoint:      *op,
		Value:         value,
		PkScript:      pkScript,
		Confirmations: res.Confirmations,
	}, nil
}

// TestAccept submits the transaction to the node's acceptance checks
// without relaying it.
func (c *RPCClient) TestAccept(ctx context.Context, tx *wire.MsgTx) (
	*AcceptResult, error) {

	// A zero max fee rate disables the node side cap; rate policy is
	// enforced by the caller before any transaction reaches this point.
	results, err := await(ctx, c.timeout,
		func() ([]*btcjson.TestMempoolAcceptResult, error) {
			return c.client.TestMempoolAccept(
				[]*wire.MsgTx{tx}, 0,
			)
		})
	if err != nil {
		return nil, MapRPCErr(err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%w: %d acceptance results for one "+
			"transaction", ErrUndefined, len(results))
	}

	res := results[0]
	log.Debugf("Acceptance test for %s: allowed=%v reason=%q", res.Txid,
		res.Allowed, res.RejectReason)

	return &AcceptResult{
		TxID:     res.Txid,
		Accepted: res.Allowed,
		Reason:   res.RejectReason,
	}, nil
}

// Broadcast submits the transaction for relay.
func (c *RPCClient) Broadcast(ctx context.Context, tx *wire.MsgTx) (
	*chainhash.Hash, error) {

	hash, err := await(ctx, c.timeout,
		func() (*chainhash.Hash, error) {
			return c.client.SendRawTransaction(tx, false)
		})
	if err != nil {
		return nil, MapRPCErr(err)
	}

	log.Infof("Broadcast transaction %v", hash)
	return hash, nil
}

// InPendingPool reports whether the transaction sits in the node's
// pending pool.
func (c *RPCClient) InPendingPool(ctx context.Context,
	txid *chainhash.Hash) (bool, error) {

	_, err := await(ctx, c.timeout,
		func() (*btcjson.GetMempoolEntryResult, error) {
			return c.client.GetMempoolEntry(txid.String())
		})
	switch {
	case err == nil:
		return true, nil

	// Absence is a clean answer.  btcd and bitcoind phrase it
	// differently.
	case matchErrStr(err, "not in mempool"),
		matchErrStr(err, "not in the mempool"):
		return false, nil
	}

	return false, MapRPCErr(err)
}

// TxConfirmations returns how many confirmations the node reports for a
// transaction, zero while it is only pooled.
func (c *RPCClient) TxConfirmations(ctx context.Context,
	txid *chainhash.Hash) (int64, error) {

	res, err := await(ctx, c.timeout,
		func() (*btcjson.TxRawResult, error) {
			return c.client.GetRawTransactionVerbose(txid)
		})
	if err != nil {
		return 0, MapRPCErr(err)
	}

	return int64(res.Confirmations), nil
}

// Ping verifies the node answers and reports which chain it follows.
func (c *RPCClient) Ping(ctx context.Context) (*NodeInfo, error) {
	res, err := await(ctx, c.timeout,
		func() (*btcjson.GetBlockChainInfoResult, error) {
			return c.client.GetBlockChainInfo()
		})
	if err != nil {
		return nil, MapRPCErr(err)
	}

	return &NodeInfo{
		Chain:  res.Chain,
		Blocks: int64(res.Blocks),
	}, nil
}

// await runs one blocking RPC call on its own goroutine and waits for the
// result under the client's timeout.  The underlying client has no native
// cancellation, so an expired call is abandoned; its goroutine ends when
// the transport gives up.  Whether an abandoned call took effect on the
// node is unknown, which is exactly what the timeout error conveys.
func await[T any](ctx context.Context, timeout time.Duration,
	call func() (T, error)) (T, error) {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := call()
		ch <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.value, res.err
	}
}
