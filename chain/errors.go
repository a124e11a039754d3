// Copyright (c) 2024 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// ErrNodeUnreachable is a transport failure: the node never
	// produced an answer, whether from a refused connection, a broken
	// pipe, or an expired deadline.  The submitted call may or may not
	// have taken effect; callers decide whether to retry.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrUndefined is a node error this package does not recognize.
	ErrUndefined = errors.New("undefined node error")

	// ErrOutpointNotFound is returned when the node has no unspent
	// entry for a requested outpoint, because it never existed or was
	// already spent.
	ErrOutpointNotFound = errors.New("unspent output not found")

	// ErrTxNotFound is returned when the node knows nothing about a
	// transaction, neither pooled nor mined.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrInMempool is returned when a transaction to be broadcast is
	// already in the node's pending pool.
	ErrInMempool = errors.New("transaction already in mempool")

	// ErrConfirmed is returned when a transaction to be broadcast has
	// already been mined.
	ErrConfirmed = errors.New("transaction already confirmed")

	// ErrMempoolConflict is returned when a transaction spends an input
	// a pooled transaction already spends and does not qualify to
	// replace it.
	ErrMempoolConflict = errors.New("transaction conflicts with mempool")

	// ErrInsufficientFee is returned when a replacement does not pay
	// enough over the transactions it would evict.
	ErrInsufficientFee = errors.New("replacement fee insufficient")

	// ErrMempoolMin is returned when a transaction pays under the
	// node's minimum relay fee.
	ErrMempoolMin = errors.New("fee under relay minimum")

	// ErrDust is returned when the node refuses an output as dust.
	ErrDust = errors.New("node rejected dust output")

	// ErrMissingInputs is returned when a transaction spends outputs
	// the node considers unknown or fully spent.
	ErrMissingInputs = errors.New("missing inputs")
)

// rpcErrMap maps fragments of node rejection messages to the errors
// defined above.  Keys cover both btcd and bitcoind phrasings; matching is
// case insensitive and treats dashes as spaces, so a single key covers
// "txn-mempool-conflict" and "txn mempool conflict" alike.
var rpcErrMap = map[string]error{
	// Replacement fee rules.
	"insufficient fee": ErrInsufficientFee,

	// Conflicting pool spends without replacement.
	"txn mempool conflict":         ErrMempoolConflict,
	"already spent by transaction": ErrMempoolConflict,

	// Resubmissions.
	"txn already in mempool":             ErrInMempool,
	"already have transaction":           ErrInMempool,
	"txn already known":                  ErrInMempool,
	"transaction already in block chain": ErrConfirmed,
	"transaction already exists":         ErrConfirmed,

	// Spends of unknown or spent outputs.
	"bad txns inputs missingorspent":     ErrMissingInputs,
	"missing inputs":                     ErrMissingInputs,
	"unknown or fully spent transaction": ErrMissingInputs,

	// Relay policy.
	"min relay fee not met":            ErrMempoolMin,
	"mempool min fee not met":          ErrMempoolMin,
	"fees which is under the required": ErrMempoolMin,
	"dust":                             ErrDust,

	// Lookups of unknown transactions.
	"no such mempool or blockchain transaction":  ErrTxNotFound,
	"no information available about transaction": ErrTxNotFound,
}

// MapRPCErr maps an error returned from an RPC call to one of the errors
// defined above.  Errors the node itself produced are matched against
// known rejection messages; anything that never reached the node maps to
// ErrNodeUnreachable.  The original error text is preserved in the wrap
// for operator logs.
func MapRPCErr(rpcErr error) error {
	if rpcErr == nil {
		return nil
	}

	// Only *btcjson.RPCError carries a verdict from the node; every
	// other failure mode means the call did not complete.
	var rpcServerErr *btcjson.RPCError
	if !errors.As(rpcErr, &rpcServerErr) {
		return fmt.Errorf("%w: %v", ErrNodeUnreachable, rpcErr)
	}

	for matchStr, mappedErr := range rpcErrMap {
		if matchErrStr(rpcErr, matchStr) {
			return fmt.Errorf("%w: %v", mappedErr, rpcErr)
		}
	}

	return fmt.Errorf("%w: %v", ErrUndefined, rpcErr)
}

// Err maps a negative acceptance verdict's rejection reason to the same
// typed errors a broadcast rejection produces, or nil when the transaction
// was accepted.  Reject reasons arrive as bare strings rather than RPC
// error payloads, so they are matched directly.
func (r *AcceptResult) Err() error {
	if r.Accepted {
		return nil
	}
	reason := errors.New(r.Reason)
	for matchStr, mappedErr := range rpcErrMap {
		if matchErrStr(reason, matchStr) {
			return fmt.Errorf("%w: %s", mappedErr, r.Reason)
		}
	}
	return fmt.Errorf("%w: %s", ErrUndefined, r.Reason)
}

// matchErrStr reports whether the error message contains the match string,
// ignoring case and treating dashes and spaces as equal.  Node
// implementations disagree on both, so matching is deliberately loose.
func matchErrStr(err error, s string) bool {
	// Replace all dashes found in the error string with spaces.
	strippedErrStr := strings.Replace(
		strings.ToLower(err.Error()), "-", " ", -1,
	)

	// Replace all dashes found in the match string with spaces.
	strippedMatchStr := strings.Replace(
		strings.ToLower(s), "-", " ", -1,
	)

	return strings.Contains(strippedErrStr, strippedMatchStr)
}
