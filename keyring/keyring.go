// Copyright (c) 2026 The rbflab developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyring decodes WIF private keys and derives the address,
// locking script, and signatures for a single key.  A KeyRing is held for
// the duration of one build and sign pass and erased with Zero afterwards;
// it is never cached across stages.
package keyring

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/rbflab/rbflab/netparams"
)

var (
	// ErrInvalidKey describes a private key string that is not a valid
	// WIF encoding.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrWrongNet describes a WIF encoded for a network other than the
	// one the session is configured for.
	ErrWrongNet = errors.New("key is not intended for this network")
)

// KeyRing wraps a decoded private key together with the address and
// locking script it can spend.
type KeyRing struct {
	wif    *btcutil.WIF
	addr   btcutil.Address
	script []byte
}

// New decodes a WIF encoded private key and derives the address it spends
// to.  Compressed keys derive a pay-to-witness-pubkey-hash address,
// uncompressed keys the legacy pay-to-pubkey-hash form, matching how funds
// sent to the key are locked.
func New(wifStr string, params *netparams.Params) (*KeyRing, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !wif.IsForNet(params.Params) {
		return nil, fmt.Errorf("%w: %v", ErrWrongNet, params.Name)
	}

	pkHash := btcutil.Hash160(wif.SerializePubKey())
	var addr btcutil.Address
	if wif.CompressPubKey {
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pkHash,
			params.Params)
	} else {
		addr, err = btcutil.NewAddressPubKeyHash(pkHash, params.Params)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &KeyRing{wif: wif, addr: addr, script: script}, nil
}

// Address returns the address derived from the key.  The same key always
// derives the same address.
func (k *KeyRing) Address() btcutil.Address {
	return k.addr
}

// PayScript returns the locking script paying to the key's address.
func (k *KeyRing) PayScript() []byte {
	return k.script
}

// Compressed reports whether the public key is in compressed form, which
// decides between witness and legacy spends of the key's outputs.
func (k *KeyRing) Compressed() bool {
	return k.wif.CompressPubKey
}

// PrivKey exposes the private key for script signing.  Callers must not
// retain it beyond the signing call.
func (k *KeyRing) PrivKey() *btcec.PrivateKey {
	return k.wif.PrivKey
}

// SignDigest produces a deterministic DER encoded ECDSA signature over a
// digest.  Signing the same digest with the same key yields identical
// bytes across runs.
func (k *KeyRing) SignDigest(digest []byte) []byte {
	return ecdsa.Sign(k.wif.PrivKey, digest).Serialize()
}

// Zero erases the private key material.  The KeyRing must not be used for
// signing afterwards.
func (k *KeyRing) Zero() {
	k.wif.PrivKey.Zero()
}
