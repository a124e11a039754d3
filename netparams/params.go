// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams groups the chain parameters and default node RPC port
// for every network the experiment engine may run against.  The main network
// is deliberately absent: replacement experiments double spend on purpose,
// and the engine refuses to operate outside of test networks.
package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params is used to group parameters for various networks such as the test
// network and the regression test network.
type Params struct {
	*chaincfg.Params

	// RPCPort is the default JSON-RPC port of a node serving this
	// network, used when the caller supplies a host with no port.
	RPCPort string
}

// TestNet3Params contains parameters specific to running against a node on
// the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	RPCPort: "18332",
}

// RegressionNetParams contains parameters specific to running against a
// local regression test node (wire.TestNet).  This is the network the
// replacement experiment is normally run on.
var RegressionNetParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	RPCPort: "18443",
}

// SimNetParams contains parameters specific to the btcd simulation test
// network (wire.SimNet).
var SimNetParams = Params{
	Params:  &chaincfg.SimNetParams,
	RPCPort: "18556",
}

// ByName returns the parameters for the named network.  The boolean return
// reports whether the name identifies a supported network.  Main network
// names are not recognized.
func ByName(name string) (*Params, bool) {
	switch name {
	case "testnet", "testnet3":
		return &TestNet3Params, true
	case "testnet4":
		return &TestNet4Params, true
	case "regtest", "regressionnet", "regnet":
		return &RegressionNetParams, true
	case "simnet":
		return &SimNetParams, true
	default:
		return nil, false
	}
}
