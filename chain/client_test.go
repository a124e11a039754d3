// Copyright (c) 2024 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/require"

	"github.com/rbflab/rbflab/netparams"
)

// TestMatchErrStr checks that `matchErrStr` can correctly replace the
// dashes with spaces and turn title cases into lowercases for a given
// error and match it against the specified string pattern.
func TestMatchErrStr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		nodeErr  error
		matchStr string
		matched  bool
	}{
		{
			name:     "error without dashes",
			nodeErr:  errors.New("missing input"),
			matchStr: "missing input",
			matched:  true,
		},
		{
			name:     "error with dashes",
			nodeErr:  errors.New("missing-input"),
			matchStr: "missing input",
			matched:  true,
		},
		{
			name:     "error with title case",
			nodeErr:  errors.New("Missing Input"),
			matchStr: "missing input",
			matched:  true,
		},
		{
			name:     "error embedded in a longer message",
			nodeErr:  errors.New("-26: txn-mempool-conflict"),
			matchStr: "txn mempool conflict",
			matched:  true,
		},
		{
			name:     "unmatched error",
			nodeErr:  errors.New("some other error"),
			matchStr: "missing input",
			matched:  false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.matched,
				matchErrStr(tc.nodeErr, tc.matchStr))
		})
	}
}

func TestMapRPCErr(t *testing.T) {
	t.Parallel()

	rpcErr := func(msg string) error {
		return &btcjson.RPCError{Code: -26, Message: msg}
	}

	testCases := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "transport failure",
			in:   errors.New("connection refused"),
			want: ErrNodeUnreachable,
		},
		{
			name: "expired deadline",
			in:   context.DeadlineExceeded,
			want: ErrNodeUnreachable,
		},
		{
			name: "bitcoind replacement fee",
			in: rpcErr("insufficient fee, rejecting replacement " +
				"0.00002200 < 0.00002310"),
			want: ErrInsufficientFee,
		},
		{
			name: "bitcoind pool conflict",
			in:   rpcErr("txn-mempool-conflict"),
			want: ErrMempoolConflict,
		},
		{
			name: "bitcoind resubmission",
			in:   rpcErr("txn-already-in-mempool"),
			want: ErrInMempool,
		},
		{
			name: "btcd resubmission",
			in:   rpcErr("already have transaction 3e1a"),
			want: ErrInMempool,
		},
		{
			name: "bitcoind mined resubmission",
			in:   rpcErr("Transaction already in block chain"),
			want: ErrConfirmed,
		},
		{
			name: "bitcoind missing inputs",
			in:   rpcErr("bad-txns-inputs-missingorspent"),
			want: ErrMissingInputs,
		},
		{
			name: "bitcoind relay floor",
			in:   rpcErr("min relay fee not met, 90 < 110"),
			want: ErrMempoolMin,
		},
		{
			name: "bitcoind dust rejection",
			in:   rpcErr("dust"),
			want: ErrDust,
		},
		{
			name: "unknown transaction lookup",
			in: rpcErr("No such mempool or blockchain " +
				"transaction"),
			want: ErrTxNotFound,
		},
		{
			name: "unrecognized verdict",
			in:   rpcErr("a brand new rejection reason"),
			want: ErrUndefined,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, MapRPCErr(tc.in), tc.want)
		})
	}

	require.NoError(t, MapRPCErr(nil))
}

// TestAcceptResultErr checks that rejection reasons, which arrive as bare
// strings rather than RPC error payloads, map to the same typed errors a
// broadcast rejection produces.
func TestAcceptResultErr(t *testing.T) {
	t.Parallel()

	accepted := &AcceptResult{Accepted: true}
	require.NoError(t, accepted.Err())

	rejected := &AcceptResult{Reason: "txn-mempool-conflict"}
	require.ErrorIs(t, rejected.Err(), ErrMempoolConflict)

	resubmitted := &AcceptResult{Reason: "txn-already-in-mempool"}
	require.ErrorIs(t, resubmitted.Err(), ErrInMempool)

	unknown := &AcceptResult{Reason: "a brand new rejection reason"}
	require.ErrorIs(t, unknown.Err(), ErrUndefined)
}

func TestAwait(t *testing.T) {
	t.Parallel()

	got, err := await(context.Background(), time.Second,
		func() (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, got)

	boom := errors.New("boom")
	_, err = await(context.Background(), time.Second,
		func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	// A call that never answers is abandoned at the deadline and maps
	// to a transport error.
	block := make(chan struct{})
	defer close(block)
	_, err = await(context.Background(), 10*time.Millisecond,
		func() (int, error) {
			<-block
			return 0, nil
		})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, MapRPCErr(err), ErrNodeUnreachable)

	// Caller cancellation propagates without waiting for the timeout.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = await(ctx, time.Hour, func() (int, error) {
		<-block
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRPCClient(t *testing.T) {
	t.Parallel()

	_, err := NewRPCClient(&Config{})
	require.Error(t, err)

	client, err := NewRPCClient(&Config{
		User:   "user",
		Pass:   "pass",
		Params: &netparams.RegressionNetParams,
	})
	require.NoError(t, err)
	defer client.Shutdown()
	require.Equal(t, DefaultRPCTimeout, client.timeout)
}
