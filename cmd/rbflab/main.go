// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// rbflab runs a fee replacement experiment against a test network node: it
// broadcasts a low fee parent spending a chosen outpoint, chains a high fee
// child from the parent's change so the pair stands or falls together, and
// then evicts both with a replacement double spend of the same outpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/rbflab/rbflab/chain"
	"github.com/rbflab/rbflab/experiment"
	"github.com/rbflab/rbflab/internal/cfgutil"
	"github.com/rbflab/rbflab/internal/zero"
	"github.com/rbflab/rbflab/keyring"
	"github.com/rbflab/rbflab/netparams"
	"github.com/rbflab/rbflab/txrules"
)

var newlineBytes = []byte{'\n'}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

func errContext(err error, context string) error {
	return fmt.Errorf("%s: %v", context, err)
}

// Flags.
var opts = struct {
	TestNet3           bool                `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	TestNet4           bool                `long:"testnet4" description:"Use the test bitcoin network (version 4)"`
	SimNet             bool                `long:"simnet" description:"Use the simulation bitcoin network"`
	RegressionNet      bool                `long:"regtest" description:"Use the regression test network (default)"`
	RPCConnect         string              `short:"c" long:"connect" description:"Hostname[:port] of the node RPC server"`
	RPCUsername        string              `short:"u" long:"rpcuser" description:"Node RPC username"`
	RPCTimeout         time.Duration       `long:"rpctimeout" description:"Timeout for a single RPC round trip"`
	UTXO               string              `long:"utxo" description:"Funding outpoint to spend, as txid:vout"`
	ChangeAddress      string              `long:"changeaddr" description:"Parent change address; defaults to the key's own address, the only script the child can chain from"`
	TargetAddress      string              `long:"targetaddr" description:"Address the child pays; the receiver whose payment the replacement evicts"`
	ReturnAddress      string              `long:"returnaddr" description:"Replacement refund address; defaults to the key's own address"`
	ParentFeeRate      txrules.SatPerVByte `long:"parentfee" description:"Parent fee rate in sat/vB"`
	ChildFeeRate       txrules.SatPerVByte `long:"childfee" description:"Child fee rate in sat/vB"`
	ReplacementFeeRate txrules.SatPerVByte `long:"replacementfee" description:"Replacement fee rate in sat/vB"`
	DustRelayFee       *cfgutil.AmountFlag `long:"dustrelayfee" description:"Dust relay fee per kvB the node runs with"`
	FeeIncrement       *cfgutil.AmountFlag `long:"feeincrement" description:"Incremental relay fee per kvB the node runs with"`
	V3                 bool                `long:"v3" description:"Build version 3 topologically restricted transactions"`
	SkipChild          bool                `long:"skipchild" description:"Replace right after the parent broadcast, without a child"`
	KeepPair           bool                `long:"keeppair" description:"Stop after the child broadcast and leave the pair pooled"`
	Watch              time.Duration       `long:"watch" description:"Keep polling status at this interval until interrupted"`
	DebugLevel         string              `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
}{
	RPCConnect:         "localhost",
	RPCTimeout:         chain.DefaultRPCTimeout,
	ParentFeeRate:      experiment.DefaultParentFeeRate,
	ChildFeeRate:       experiment.DefaultChildFeeRate,
	ReplacementFeeRate: experiment.DefaultReplacementFeeRate,
	DustRelayFee:       cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
	FeeIncrement:       cfgutil.NewAmountFlag(txrules.DefaultIncrementalFeePerKb),
	DebugLevel:         "warn",
}

var activeNet = &netparams.RegressionNetParams

// Loggers per subsystem, all routed to stderr so the experiment transcript
// on stdout stays clean.
var (
	backendLog = btclog.NewBackend(os.Stderr)
	log        = backendLog.Logger("RBFL")
)

// Parse and validate flags.
func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	netCount := 0
	if opts.TestNet3 {
		netCount++
		activeNet = &netparams.TestNet3Params
	}
	if opts.TestNet4 {
		netCount++
		activeNet = &netparams.TestNet4Params
	}
	if opts.SimNet {
		netCount++
		activeNet = &netparams.SimNetParams
	}
	if opts.RegressionNet {
		netCount++
		activeNet = &netparams.RegressionNetParams
	}
	if netCount > 1 {
		fatalf("Multiple bitcoin networks may not be used simultaneously")
	}

	if opts.RPCConnect == "" {
		fatalf("RPC hostname[:port] is required")
	}
	rpcConnect, err := cfgutil.NormalizeAddress(opts.RPCConnect,
		activeNet.RPCPort)
	if err != nil {
		fatalf("Invalid RPC network address `%v`: %v", opts.RPCConnect, err)
	}
	opts.RPCConnect = rpcConnect

	if opts.RPCUsername == "" {
		fatalf("RPC username is required")
	}
	if opts.UTXO == "" {
		fatalf("A funding outpoint is required (--utxo txid:vout)")
	}
	if opts.TargetAddress == "" && !opts.SkipChild {
		fatalf("A target address is required unless --skipchild is set")
	}
	if opts.SkipChild && opts.KeepPair {
		fatalf("--skipchild and --keeppair may not be combined")
	}
	if opts.Watch < 0 {
		fatalf("Watch interval must be non-negative")
	}

	level, ok := btclog.LevelFromString(opts.DebugLevel)
	if !ok {
		fatalf("The specified debug level [%v] is invalid", opts.DebugLevel)
	}
	log.SetLevel(level)
	chainLog := backendLog.Logger("CHIN")
	chainLog.SetLevel(level)
	chain.UseLogger(chainLog)
	experimentLog := backendLog.Logger("XPMT")
	experimentLog.SetLevel(level)
	experiment.UseLogger(experimentLog)
}

func main() {
	err := replace()
	if err != nil {
		fatalf("%v", err)
	}
}

func replace() error {
	outPoint, err := parseOutPoint(opts.UTXO)
	if err != nil {
		return errContext(err, "invalid --utxo")
	}

	rpcPassword, err := promptSecret("Node RPC password")
	if err != nil {
		return errContext(err, "failed to read RPC password")
	}
	wif, err := promptSecret("Private key (WIF)")
	if err != nil {
		return errContext(err, "failed to read private key")
	}

	// The parent's change must be locked to the experiment key itself or
	// no child could ever spend it.
	changeAddr := opts.ChangeAddress
	returnAddr := opts.ReturnAddress
	if changeAddr == "" || returnAddr == "" {
		keys, err := keyring.New(wif, activeNet)
		if err != nil {
			return errContext(err, "invalid private key")
		}
		own := keys.Address().EncodeAddress()
		keys.Zero()
		if changeAddr == "" {
			changeAddr = own
		}
		if returnAddr == "" {
			returnAddr = own
		}
	}

	client, err := chain.NewRPCClient(&chain.Config{
		Host:    opts.RPCConnect,
		User:    opts.RPCUsername,
		Pass:    rpcPassword,
		Params:  activeNet,
		Timeout: opts.RPCTimeout,
	})
	if err != nil {
		return errContext(err, "failed to create RPC client")
	}
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	info, err := client.Ping(ctx)
	if err != nil {
		return errContext(err, "node unreachable")
	}
	if !chainMatches(activeNet, info.Chain) {
		return fmt.Errorf("node follows the %s chain, expected %s",
			info.Chain, activeNet.Name)
	}
	fmt.Printf("Connected to a %s node at height %d\n\n", info.Chain,
		info.Blocks)

	txVersion := int32(0)
	if opts.V3 {
		txVersion = 3
	}
	session, err := experiment.NewSession(&experiment.Config{
		Params:            activeNet,
		DustRelayFee:      opts.DustRelayFee.Amount,
		RelayFeeIncrement: opts.FeeIncrement.Amount,
		TxVersion:         txVersion,
	}, client)
	if err != nil {
		return err
	}

	step := func(name string, cmd func() (*experiment.Result, error)) error {
		res, err := cmd()
		if err != nil {
			return errContext(err, name)
		}
		for _, line := range res.Log {
			fmt.Println(line)
		}
		fmt.Println()
		return nil
	}

	err = step("create parent", func() (*experiment.Result, error) {
		return session.CreateParent(ctx, *outPoint, changeAddr, wif,
			opts.ParentFeeRate)
	})
	if err != nil {
		return err
	}
	err = step("broadcast parent", func() (*experiment.Result, error) {
		return session.BroadcastParent(ctx)
	})
	if err != nil {
		return err
	}

	if !opts.SkipChild {
		err = step("create child", func() (*experiment.Result, error) {
			return session.CreateChild(opts.TargetAddress, wif,
				opts.ChildFeeRate)
		})
		if err != nil {
			return err
		}
		err = step("broadcast child", func() (*experiment.Result, error) {
			return session.BroadcastChild(ctx)
		})
		if err != nil {
			return err
		}
	}

	if !opts.KeepPair {
		err = step("stop all", func() (*experiment.Result, error) {
			return session.StopAll(ctx, returnAddr, wif,
				opts.ReplacementFeeRate)
		})
		if err != nil {
			return err
		}
	}

	if err := printStatus(ctx, session); err != nil {
		return err
	}

	if opts.Watch > 0 {
		ticker := time.NewTicker(opts.Watch)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case <-ticker.C:
				fmt.Println()
				if err := printStatus(ctx, session); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	}

	return nil
}

func printStatus(ctx context.Context, session *experiment.Session) error {
	report, err := session.Status(ctx)
	if err != nil {
		return errContext(err, "status poll")
	}

	fmt.Printf("Experiment stage: %v\n", report.Stage)
	printTxStatus(report.Parent)
	printTxStatus(report.Child)
	printTxStatus(report.Replacement)
	fmt.Printf("Receiver: %v\n", report.Receiver)
	return nil
}

func printTxStatus(st experiment.TxStatus) {
	if st.TxID == nil {
		fmt.Printf("  %-12s %v\n", st.Label+":", st.State)
		return
	}
	line := fmt.Sprintf("  %-12s %v (%v)", st.Label+":", st.State, st.TxID)
	if st.State == experiment.TxStateConfirmed {
		line += fmt.Sprintf(", %d %s", st.Confirmations,
			pickNoun(int(st.Confirmations), "confirmation",
				"confirmations"))
	}
	fmt.Println(line)
}

func promptSecret(what string) (string, error) {
	fmt.Printf("%s: ", what)
	fd := int(os.Stdin.Fd())
	input, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	secret := string(input)
	zero.Bytes(input)
	return secret, nil
}

// chainMatches reports whether the chain name a node advertises identifies
// the configured network.  bitcoind reports the version 3 test network as
// just "test".
func chainMatches(params *netparams.Params, name string) bool {
	if name == params.Name {
		return true
	}
	return name == "test" && params.Name == "testnet3"
}

func parseOutPoint(s string) (*wire.OutPoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx == -1 {
		return nil, fmt.Errorf("missing output index in %q", s)
	}
	txHash, err := chainhash.NewHashFromStr(s[:idx])
	if err != nil {
		return nil, err
	}
	outputIndex, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid output index: %v", err)
	}
	return wire.NewOutPoint(txHash, uint32(outputIndex)), nil
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
