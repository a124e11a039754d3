// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package experiment drives a replacement experiment end to end: a low fee
// parent transaction spending a caller supplied output, a high fee child
// spending the parent's change so the pair stands or falls together, and a
// replacement double spending the original output to evict both.  A
// Session owns the experiment's state machine and talks to the node only
// through the chain package's narrow interface.
package experiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/rbflab/rbflab/chain"
	"github.com/rbflab/rbflab/keyring"
	"github.com/rbflab/rbflab/netparams"
	"github.com/rbflab/rbflab/txauthor"
	"github.com/rbflab/rbflab/txrules"
)

// Stage identifies where in its lifecycle an experiment stands.  A session
// starts Idle and ends in either StageReplacementBroadcast or StageFailed.
type Stage uint8

const (
	// StageIdle is the initial stage; nothing has been built.
	StageIdle Stage = iota

	// StageParentBuilt means the parent transaction is signed and held,
	// not yet submitted.
	StageParentBuilt

	// StageParentBroadcast means the node accepted the parent into its
	// pending pool.
	StageParentBroadcast

	// StageChildBuilt means the child spending the parent's change is
	// signed and held.
	StageChildBuilt

	// StageChildBroadcast means the node accepted the child, completing
	// the unconfirmed pair.
	StageChildBroadcast

	// StageReplacementBroadcast is the terminal success stage: the
	// replacement was accepted and the pair is being evicted.
	StageReplacementBroadcast

	// StageFailed is the terminal failure stage, entered when the node
	// rejects a transaction or an internal guarantee breaks.
	StageFailed
)

// Map of Stage values back to human-readable names.
var stageStrings = map[Stage]string{
	StageIdle:                 "idle",
	StageParentBuilt:          "parent built",
	StageParentBroadcast:      "parent broadcast",
	StageChildBuilt:           "child built",
	StageChildBroadcast:       "child broadcast",
	StageReplacementBroadcast: "replacement broadcast",
	StageFailed:               "failed",
}

// String returns the Stage as a human-readable name.
func (s Stage) String() string {
	if name := stageStrings[s]; name != "" {
		return name
	}
	return fmt.Sprintf("unknown stage (%d)", uint8(s))
}

// Terminal reports whether no command can advance the experiment further.
func (s Stage) Terminal() bool {
	return s == StageReplacementBroadcast || s == StageFailed
}

// Default fee rates per stage.  The parent pays the relay floor so it
// lingers unconfirmed, the child pays a rate miners would act on, and the
// replacement outbids the pair.
const (
	DefaultParentFeeRate      txrules.SatPerVByte = 1
	DefaultChildFeeRate       txrules.SatPerVByte = 10
	DefaultReplacementFeeRate txrules.SatPerVByte = 20

	// DefaultMaxFeeRate caps caller supplied rates, a guard against
	// unit mistakes burning the funding output as fee.
	DefaultMaxFeeRate txrules.SatPerVByte = 1000
)

// Config collects the immutable knobs of a session.  It is validated once
// when the session is created and never mutated afterwards.
type Config struct {
	// Params identifies the network the experiment runs on.  Main
	// network parameters are refused.
	Params *netparams.Params

	// DustRelayFee is the fee rate, in satoshis per 1000 virtual bytes,
	// from which per-script dust thresholds are derived.  Zero selects
	// txrules.DefaultRelayFeePerKb.
	DustRelayFee btcutil.Amount

	// RelayFeeIncrement is the rate, in satoshis per 1000 virtual
	// bytes, a replacement must pay on top of the fees it evicts.  Zero
	// selects txrules.DefaultIncrementalFeePerKb.
	RelayFeeIncrement btcutil.Amount

	// MaxFeeRate caps the per-stage fee rates a caller may supply.
	// Zero selects DefaultMaxFeeRate.
	MaxFeeRate txrules.SatPerVByte

	// TxVersion is the version of every transaction the session builds.
	// Zero selects version 2; version 3 builds topologically restricted
	// transactions on nodes that relay them.
	TxVersion int32
}

// Validate checks the configuration for values no session could run with.
// Zero values are allowed and stand for the documented defaults.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Params == nil || cfg.Params.Params == nil:
		return ruleError(ErrBadInput, "configuration names no network",
			nil)
	case cfg.Params.Net == wire.MainNet:
		return ruleError(ErrBadInput, "replacement experiments double "+
			"spend on purpose; refusing to run on the main network",
			nil)
	case cfg.DustRelayFee < 0:
		return ruleError(ErrBadInput, "negative dust relay fee", nil)
	case cfg.RelayFeeIncrement < 0:
		return ruleError(ErrBadInput, "negative relay fee increment",
			nil)
	case cfg.MaxFeeRate < 0:
		return ruleError(ErrBadInput, "negative fee rate cap", nil)
	case cfg.TxVersion < 0 || cfg.TxVersion > txauthor.MaxTxVersion:
		return ruleError(ErrBadInput, fmt.Sprintf("unsupported "+
			"transaction version %d", cfg.TxVersion), nil)
	}
	return nil
}

// txRecord captures one transaction the session has built, together with
// the fee arithmetic the replacement rules need later.
type txRecord struct {
	label       string
	txid        chainhash.Hash
	tx          *wire.MsgTx
	fee         btcutil.Amount
	vsize       int
	changeIndex int
	broadcast   bool
}

// remainderValue returns the value of the record's remainder output, zero
// when the remainder was folded into the fee.
func (r *txRecord) remainderValue() btcutil.Amount {
	if r.changeIndex < 0 {
		return 0
	}
	return btcutil.Amount(r.tx.TxOut[r.changeIndex].Value)
}

// Result reports the outcome of one session command.
type Result struct {
	// Stage is the stage the session is in after the command.
	Stage Stage

	// TxID identifies the transaction the command built or submitted,
	// nil for commands that touch no single transaction.
	TxID *chainhash.Hash

	// Log holds the human readable transcript lines the command added.
	Log []string
}

// Session is a single experiment's state machine.  Commands mutate it
// strictly sequentially; a Session must not be shared between goroutines.
// Every caller owns an independent Session, there is no process wide
// state.
type Session struct {
	cfg  Config
	node chain.Interface

	stage       Stage
	origin      *chain.UnspentOutput
	parent      *txRecord
	child       *txRecord
	replacement *txRecord

	// consumed tracks outpoints spent by transactions this session
	// broadcast, so later build commands cannot reference them again.
	consumed map[wire.OutPoint]struct{}

	lastErr    error
	transcript []string
}

// NewSession validates the configuration, fills in its defaults, and
// returns a session in the idle stage, ready for CreateParent.
func NewSession(cfg *Config, node chain.Interface) (*Session, error) {
	if cfg == nil || node == nil {
		return nil, ruleError(ErrBadInput,
			"a session needs a configuration and a node client", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := *cfg
	if c.DustRelayFee == 0 {
		c.DustRelayFee = txrules.DefaultRelayFeePerKb
	}
	if c.RelayFeeIncrement == 0 {
		c.RelayFeeIncrement = txrules.DefaultIncrementalFeePerKb
	}
	if c.MaxFeeRate == 0 {
		c.MaxFeeRate = DefaultMaxFeeRate
	}
	if c.TxVersion == 0 {
		c.TxVersion = txauthor.DefaultTxVersion
	}

	return &Session{
		cfg:      c,
		node:     node,
		consumed: make(map[wire.OutPoint]struct{}),
	}, nil
}

// Stage returns the stage the session is currently in.
func (s *Session) Stage() Stage {
	return s.stage
}

// LastErr returns the most recent command error, nil if every command so
// far succeeded.
func (s *Session) LastErr() error {
	return s.lastErr
}

// Transcript returns a copy of every human readable line the session has
// logged since it was created.
func (s *Session) Transcript() []string {
	return append([]string(nil), s.transcript...)
}

// CreateParent builds and signs the low fee parent transaction spending op
// and paying everything less the fee back to changeAddr.  The outpoint is
// fetched from the node so its value and locking script need not be
// supplied.  Idle -> StageParentBuilt.
func (s *Session) CreateParent(ctx context.Context, op wire.OutPoint,
	changeAddr, wif string, rate txrules.SatPerVByte) (*Result, error) {

	begin := len(s.transcript)
	if s.stage != StageIdle {
		return nil, s.refuse(ErrWrongStage, fmt.Sprintf(
			"CreateParent applies to the %v stage, not %v",
			StageIdle, s.stage), nil)
	}
	rate, err := s.pickRate(rate, DefaultParentFeeRate)
	if err != nil {
		return nil, err
	}
	if _, ok := s.consumed[op]; ok {
		return nil, s.refuse(ErrOutputConsumed, fmt.Sprintf(
			"outpoint %v was already spent by this session", op), nil)
	}

	keys, err := keyring.New(wif, s.cfg.Params)
	if err != nil {
		return nil, s.refuse(ErrBadInput, "private key rejected", err)
	}
	defer keys.Zero()

	utxo, err := s.node.GetUnspentOutput(ctx, &op)
	switch {
	case errors.Is(err, chain.ErrNodeUnreachable):
		return nil, s.refuse(ErrNodeUnreachable,
			"node unreachable fetching the funding output", err)
	case err != nil:
		return nil, s.fail(ruleError(ErrNodeRejected, fmt.Sprintf(
			"funding outpoint %v is unknown or already spent", op),
			err))
	}
	s.logf("Funding outpoint %v holds %d sat (%d confirmations)", op,
		utxo.Value, utxo.Confirmations)

	rec, _, err := s.buildSigned("parent", txauthor.PrevOutput{
		OutPoint: op,
		Value:    utxo.Value,
		PkScript: utxo.PkScript,
	}, changeAddr, rate, keys)
	if err != nil {
		return nil, err
	}

	s.origin = utxo
	s.parent = rec
	s.stage = StageParentBuilt
	s.logf("Input sequence %#08x signals replaceability", txrules.MaxRBFSequence)
	if rec.tx.Version == 3 {
		s.logf("Building version 3 transactions: replacement is " +
			"restricted to small unconfirmed topologies")
	}
	s.logf("Parent %v built: %d sat fee at %v over %d vB, %d sat change",
		rec.txid, rec.fee, rate, rec.vsize, rec.remainderValue())

	return s.result(&rec.txid, begin), nil
}

// BroadcastParent submits the built parent after a node acceptance
// preflight.  StageParentBuilt -> StageParentBroadcast.
func (s *Session) BroadcastParent(ctx context.Context) (*Result, error) {
	begin := len(s.transcript)
	if s.stage != StageParentBuilt {
		return nil, s.refuse(ErrWrongStage, fmt.Sprintf(
			"BroadcastParent applies to the %v stage, not %v",
			StageParentBuilt, s.stage), nil)
	}
	if err := s.submit(ctx, s.parent); err != nil {
		return nil, err
	}
	s.stage = StageParentBroadcast
	return s.result(&s.parent.txid, begin), nil
}

// CreateChild builds and signs the high fee child spending the parent's
// change output and paying everything less the fee to targetAddr.  The
// child needs no node round trip; all of its input data is local.
// StageParentBroadcast -> StageChildBuilt.
func (s *Session) CreateChild(targetAddr, wif string,
	rate txrules.SatPerVByte) (*Result, error) {

	begin := len(s.transcript)
	if s.stage != StageParentBroadcast {
		return nil, s.refuse(ErrWrongStage, fmt.Sprintf(
			"CreateChild applies to the %v stage, not %v",
			StageParentBroadcast, s.stage), nil)
	}
	rate, err := s.pickRate(rate, DefaultChildFeeRate)
	if err != nil {
		return nil, err
	}
	if s.parent.changeIndex < 0 {
		return nil, s.refuse(ErrNoChange,
			"parent carries no change output to chain from", nil)
	}

	op := wire.OutPoint{
		Hash:  s.parent.txid,
		Index: uint32(s.parent.changeIndex),
	}
	if _, ok := s.consumed[op]; ok {
		return nil, s.refuse(ErrOutputConsumed, fmt.Sprintf(
			"parent change %v was already spent by this session", op),
			nil)
	}

	keys, err := keyring.New(wif, s.cfg.Params)
	if err != nil {
		return nil, s.refuse(ErrBadInput, "private key rejected", err)
	}
	defer keys.Zero()

	changeOut := s.parent.tx.TxOut[s.parent.changeIndex]
	rec, _, err := s.buildSigned("child", txauthor.PrevOutput{
		OutPoint: op,
		Value:    btcutil.Amount(changeOut.Value),
		PkScript: changeOut.PkScript,
	}, targetAddr, rate, keys)
	if err != nil {
		return nil, err
	}

	s.child = rec
	s.stage = StageChildBuilt
	s.logf("Child %v built: %d sat fee at %v over %d vB, pays %d sat",
		rec.txid, rec.fee, rate, rec.vsize, rec.remainderValue())
	s.logf("Package with the unconfirmed parent pays %d sat over %d vB",
		s.parent.fee+rec.fee, s.parent.vsize+rec.vsize)

	return s.result(&rec.txid, begin), nil
}

// BroadcastChild submits the built child after a node acceptance
// preflight.  StageChildBuilt -> StageChildBroadcast.
func (s *Session) BroadcastChild(ctx context.Context) (*Result, error) {
	begin := len(s.transcript)
	if s.stage != StageChildBuilt {
		return nil, s.refuse(ErrWrongStage, fmt.Sprintf(
			"BroadcastChild applies to the %v stage, not %v",
			StageChildBuilt, s.stage), nil)
	}
	if err := s.submit(ctx, s.child); err != nil {
		return nil, err
	}
	s.stage = StageChildBroadcast
	return s.result(&s.child.txid, begin), nil
}

// StopAll builds, checks, and submits the replacement: a double spend of
// the original funding outpoint paying everything less the fee to
// returnAddr.  Its fee must clear every broadcast transaction it conflicts
// with, parent and child together, by the configured increment; a
// replacement that cannot is refused before any node call and the command
// may be reissued at a higher rate.  StageParentBroadcast or
// StageChildBroadcast -> StageReplacementBroadcast.
func (s *Session) StopAll(ctx context.Context, returnAddr, wif string,
	rate txrules.SatPerVByte) (*Result, error) {

	begin := len(s.transcript)
	if s.stage != StageParentBroadcast && s.stage != StageChildBroadcast {
		return nil, s.refuse(ErrWrongStage, fmt.Sprintf(
			"StopAll applies to the %v or %v stages, not %v",
			StageParentBroadcast, StageChildBroadcast, s.stage), nil)
	}
	rate, err := s.pickRate(rate, DefaultReplacementFeeRate)
	if err != nil {
		return nil, err
	}

	keys, err := keyring.New(wif, s.cfg.Params)
	if err != nil {
		return nil, s.refuse(ErrBadInput, "private key rejected", err)
	}
	defer keys.Zero()

	// The replacement deliberately respends the outpoint the parent
	// consumed.  The direct conflict is what makes the node treat it
	// as a replacement candidate rather than a double spend attempt to
	// drop, so the consumed mark is not checked here.
	rec, estVSize, err := s.buildSigned("replacement", txauthor.PrevOutput{
		OutPoint: s.origin.OutPoint,
		Value:    s.origin.Value,
		PkScript: s.origin.PkScript,
	}, returnAddr, rate, keys)
	if err != nil {
		return nil, err
	}

	conflicts := []txrules.Conflict{
		{Fee: s.parent.fee, VSize: s.parent.vsize},
	}
	evicts := fmt.Sprintf("parent %v", s.parent.txid)
	if s.child != nil && s.child.broadcast {
		conflicts = append(conflicts, txrules.Conflict{
			Fee:   s.child.fee,
			VSize: s.child.vsize,
		})
		evicts += fmt.Sprintf(" and child %v", s.child.txid)
	}

	// Policy runs against the worst case size the fee was priced for.
	// The signed transaction can only be smaller, which raises its
	// effective rate and lowers the required increment, so a pass here
	// holds for the node's own numbers too.
	err = txrules.CheckReplacement(rec.fee, estVSize, conflicts,
		s.cfg.RelayFeeIncrement)
	if err != nil {
		var evicted btcutil.Amount
		for _, conflict := range conflicts {
			evicted += conflict.Fee
		}
		return nil, s.refuse(ErrReplacementFeeTooLow, fmt.Sprintf(
			"replacement pays %d sat against %d sat being evicted "+
				"plus the increment for %d vB", rec.fee, evicted,
			estVSize), err)
	}

	if err := s.submit(ctx, rec); err != nil {
		return nil, err
	}
	s.replacement = rec
	s.stage = StageReplacementBroadcast
	s.logf("Replacement %v submitted: %d sat fee at %v over %d vB, "+
		"evicting %s", rec.txid, rec.fee, rate, rec.vsize, evicts)

	return s.result(&rec.txid, begin), nil
}

// buildSigned authors and signs a replaceable transaction spending prev
// whole and paying the remainder after the fee to addr.  Caller input
// problems leave the stage unchanged; a signing validation failure fails
// the experiment because the engine will not emit a transaction that
// cannot spend its own input.
func (s *Session) buildSigned(label string, prev txauthor.PrevOutput,
	addr string, rate txrules.SatPerVByte,
	keys *keyring.KeyRing) (*txRecord, int, error) {

	// Catch a mismatched key locally instead of letting it surface as
	// a signature validation failure.
	if !bytes.Equal(prev.PkScript, keys.PayScript()) {
		return nil, 0, s.refuse(ErrBadInput, fmt.Sprintf(
			"supplied key does not control the %s input", label), nil)
	}

	intent := &txauthor.Intent{
		Input:        prev,
		Outputs:      []txauthor.Recipient{{Address: addr, Remainder: true}},
		FeeRatePerKb: rate.FeePerKb(),
		Replaceable:  true,
		Version:      s.cfg.TxVersion,
	}
	atx, err := txauthor.NewUnsignedTransaction(intent, s.cfg.Params,
		s.cfg.DustRelayFee)
	if err != nil {
		if errors.Is(err, txauthor.ErrInvariantViolation) {
			return nil, 0, s.fail(ruleError(ErrInvariant,
				fmt.Sprintf("%s construction broke the value "+
					"balance", label), err))
		}
		return nil, 0, s.refuse(ErrBadInput,
			fmt.Sprintf("%s intent rejected", label), err)
	}

	estVSize := atx.VSize
	if err := atx.AddAllInputScripts(keys); err != nil {
		return nil, 0, s.fail(ruleError(ErrInvariant, fmt.Sprintf(
			"%s signing failed validation", label), err))
	}

	return &txRecord{
		label:       label,
		txid:        atx.Tx.TxHash(),
		tx:          atx.Tx,
		fee:         atx.Fee,
		vsize:       atx.VSize,
		changeIndex: atx.ChangeIndex,
	}, estVSize, nil
}

// submit runs the node acceptance preflight and relays the record's
// transaction.  A transaction the node already knows counts as submitted,
// which keeps a command reissued after a lost answer idempotent.  On
// success every outpoint the transaction spends is marked consumed.
func (s *Session) submit(ctx context.Context, rec *txRecord) error {
	res, err := s.node.TestAccept(ctx, rec.tx)
	switch {
	case errors.Is(err, chain.ErrNodeUnreachable):
		return s.refuse(ErrNodeUnreachable, fmt.Sprintf(
			"node unreachable testing %s acceptance", rec.label), err)
	case err != nil:
		return s.fail(ruleError(ErrNodeRejected, fmt.Sprintf(
			"%s acceptance test failed", rec.label), err))
	}

	verdict := res.Err()
	switch {
	case verdict == nil:
		if err := s.relay(ctx, rec); err != nil {
			return err
		}
	case errors.Is(verdict, chain.ErrInMempool),
		errors.Is(verdict, chain.ErrConfirmed):
		s.logf("Node already knows %s %v", rec.label, rec.txid)
	default:
		return s.fail(ruleError(ErrNodeRejected, fmt.Sprintf(
			"node refused %s: %s", rec.label, res.Reason), verdict))
	}

	rec.broadcast = true
	for _, txIn := range rec.tx.TxIn {
		s.consumed[txIn.PreviousOutPoint] = struct{}{}
	}
	return nil
}

// relay broadcasts the record's transaction, tolerating the node already
// holding it.
func (s *Session) relay(ctx context.Context, rec *txRecord) error {
	hash, err := s.node.Broadcast(ctx, rec.tx)
	switch {
	case errors.Is(err, chain.ErrNodeUnreachable):
		return s.refuse(ErrNodeUnreachable, fmt.Sprintf(
			"node unreachable broadcasting %s", rec.label), err)
	case errors.Is(err, chain.ErrInMempool),
		errors.Is(err, chain.ErrConfirmed):
		s.logf("Node already knows %s %v", rec.label, rec.txid)
		return nil
	case err != nil:
		return s.fail(ruleError(ErrNodeRejected, fmt.Sprintf(
			"node rejected %s", rec.label), err))
	}
	s.logf("Accepted %s %v into the pending pool", rec.label, hash)
	return nil
}

// pickRate substitutes the stage default for a zero rate and enforces the
// session cap.
func (s *Session) pickRate(rate,
	fallback txrules.SatPerVByte) (txrules.SatPerVByte, error) {

	if rate == 0 {
		rate = fallback
	}
	switch {
	case rate < 0:
		return 0, s.refuse(ErrBadInput,
			fmt.Sprintf("negative fee rate %d", rate), nil)
	case rate > s.cfg.MaxFeeRate:
		return 0, s.refuse(ErrBadInput, fmt.Sprintf(
			"fee rate %v above the session cap of %v", rate,
			s.cfg.MaxFeeRate), nil)
	}
	return rate, nil
}

// fail moves the machine to its terminal failure stage and records why.
func (s *Session) fail(ruleErr RuleError) error {
	s.stage = StageFailed
	s.lastErr = ruleErr
	s.logf("Experiment failed: %v", ruleErr)
	return ruleErr
}

// refuse reports a command error that leaves the stage unchanged, so the
// caller may correct the input or wait out the node and reissue.
func (s *Session) refuse(code ErrorCode, desc string, err error) error {
	ruleErr := ruleError(code, desc, err)
	s.lastErr = ruleErr
	s.logf("Command refused: %v", ruleErr)
	return ruleErr
}

// logf appends a line to the session transcript and mirrors it to the
// package logger.
func (s *Session) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	s.transcript = append(s.transcript, line)
	log.Info(line)
}

// result reports the session stage along with the transcript lines added
// since begin.
func (s *Session) result(txid *chainhash.Hash, begin int) *Result {
	res := &Result{
		Stage: s.stage,
		Log:   append([]string(nil), s.transcript[begin:]...),
	}
	if txid != nil {
		id := *txid
		res.TxID = &id
	}
	return res
}
