// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// TestNet4Net is the wire magic of the test network (version 4), which the
// chaincfg package in use does not define.
const TestNet4Net wire.BitcoinNet = 0x1c163f28

// testNet4ChainParams holds the test network (version 4) parameters the
// engine reads: the network identity and the address and key encoding
// magics, which testnet4 shares with testnet3.  Consensus fields are left
// out because the engine validates no chain data and never registers the
// network.
var testNet4ChainParams = chaincfg.Params{
	Name:        "testnet4",
	Net:         TestNet4Net,
	DefaultPort: "48333",

	// Mempool parameters
	RelayNonStdTxs: true,

	// Human-readable part for Bech32 encoded segwit addresses, as defined
	// in BIP 173.
	Bech32HRPSegwit: "tb", // always tb for test net

	// Address encoding magics
	PubKeyHashAddrID:        0x6f, // starts with m or n
	ScriptHashAddrID:        0xc4, // starts with 2
	WitnessPubKeyHashAddrID: 0x03, // starts with QW
	WitnessScriptHashAddrID: 0x28, // starts with T7n
	PrivateKeyID:            0xef, // starts with 9 (uncompressed) or c (compressed)

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // starts with tprv
	HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // starts with tpub

	// BIP44 coin type used in the hierarchical deterministic path for
	// address generation.
	HDCoinType: 1,
}

// TestNet4Params contains parameters specific to running against a node on
// the test network (version 4).
var TestNet4Params = Params{
	Params:  &testNet4ChainParams,
	RPCPort: "48332",
}
