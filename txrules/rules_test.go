// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrules_test

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	. "github.com/rbflab/rbflab/txrules"
)

var (
	// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
	p2pkhScript = append(append([]byte{0x76, 0xa9, 0x14},
		make([]byte, 20)...), 0x88, 0xac)

	// OP_0 <20 bytes>
	p2wpkhScript = append([]byte{0x00, 0x14}, make([]byte, 20)...)

	// OP_RETURN
	nullDataScript = []byte{0x6a}
)

func TestFeeForVSize(t *testing.T) {
	tests := []struct {
		RelayFeePerKb btcutil.Amount
		VSize         int
		Expected      btcutil.Amount
	}{
		0: {1e3, 110, 110},
		1: {10e3, 110, 1100},
		2: {20e3, 110, 2200},
		3: {1e3, 141, 141},

		// Fractional fees round up, never down.
		4: {1300, 113, 147},
		5: {1e3, 1, 1},

		// A zero rate requires no fee at all.
		6: {0, 110, 0},

		// A positive rate never yields a zero fee.
		7: {1, 1, 1},
		8: {1e3, 0, 1},
	}
	for i, test := range tests {
		fee := FeeForVSize(test.RelayFeePerKb, test.VSize)
		if fee != test.Expected {
			t.Errorf("Test %d: Got %v: Want %v", i, fee, test.Expected)
		}
	}
}

func TestIsDustAmount(t *testing.T) {
	tests := []struct {
		Amount        btcutil.Amount
		PkScript      []byte
		RelayFeePerKb btcutil.Amount
		Expected      bool
	}{
		// The canonical thresholds at the default relay fee: 546 for
		// P2PKH, 294 for P2WPKH.
		0: {546, p2pkhScript, 1e3, false},
		1: {545, p2pkhScript, 1e3, true},
		2: {294, p2wpkhScript, 1e3, false},
		3: {293, p2wpkhScript, 1e3, true},

		// No relay fee, no dust.
		4: {0, p2wpkhScript, 0, false},

		// Thresholds scale linearly with the relay fee.
		5: {1091, p2pkhScript, 2e3, true},
		6: {1092, p2pkhScript, 2e3, false},
	}
	for i, test := range tests {
		isDust := IsDustAmount(test.Amount, test.PkScript,
			test.RelayFeePerKb)
		if isDust != test.Expected {
			t.Errorf("Test %d: Got %v: Want %v", i, isDust,
				test.Expected)
		}
	}
}

func TestIsDustOutput(t *testing.T) {
	// Unspendable outputs are dust no matter their value.
	out := &wire.TxOut{Value: 1e8, PkScript: nullDataScript}
	if !IsDustOutput(out, DefaultRelayFeePerKb) {
		t.Error("unspendable output not considered dust")
	}

	out = &wire.TxOut{Value: 99890, PkScript: p2wpkhScript}
	if IsDustOutput(out, DefaultRelayFeePerKb) {
		t.Error("spendable change output considered dust")
	}
}

func TestCheckOutput(t *testing.T) {
	tests := []struct {
		Output   *wire.TxOut
		Expected error
	}{
		0: {&wire.TxOut{Value: -1, PkScript: p2pkhScript}, ErrAmountNegative},
		1: {&wire.TxOut{Value: btcutil.MaxSatoshi + 1, PkScript: p2pkhScript}, ErrAmountExceedsMax},
		2: {&wire.TxOut{Value: 100, PkScript: p2pkhScript}, ErrOutputIsDust},
		3: {&wire.TxOut{Value: 546, PkScript: p2pkhScript}, nil},
		4: {&wire.TxOut{Value: 294, PkScript: p2wpkhScript}, nil},
	}
	for i, test := range tests {
		err := CheckOutput(test.Output, DefaultRelayFeePerKb)
		if !errors.Is(err, test.Expected) {
			t.Errorf("Test %d: Got %v: Want %v", i, err, test.Expected)
		}
	}
}

func TestSatPerVByte(t *testing.T) {
	if got := SatPerVByte(20).FeePerKb(); got != 20e3 {
		t.Errorf("FeePerKb: Got %v: Want 20000", int64(got))
	}
	if got := SatPerVByte(20).String(); got != "20 sat/vB" {
		t.Errorf("String: Got %q: Want \"20 sat/vB\"", got)
	}
}
