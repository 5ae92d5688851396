package btc

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/portalswap/portal/pkg/secret"
)

// HtlcScript builds the single-stage swap script. The claim branch pays the
// claimant against the sha256 preimage; the refund branch pays the funder
// once the absolute locktime has passed. The hash function must stay
// bit-exact with the other leg's escrow contract.
//
//	OP_IF
//	    OP_SHA256 <hashlock> OP_EQUALVERIFY OP_DUP OP_HASH160 <claimant>
//	OP_ELSE
//	    <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP OP_DUP OP_HASH160 <funder>
//	OP_ENDIF
//	OP_EQUALVERIFY
//	OP_CHECKSIG
func HtlcScript(funderPubkeyHash, claimantPubkeyHash []byte, lock secret.Hashlock, deadline time.Time) ([]byte, error) {
	if len(funderPubkeyHash) != 20 || len(claimantPubkeyHash) != 20 {
		return nil, fmt.Errorf("pubkey hashes must be 20 bytes")
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(lock[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(claimantPubkeyHash)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(deadline.Unix())
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(funderPubkeyHash)
	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	return builder.Script()
}

// P2wshAddress wraps the script into its pay-to-witness-script-hash address.
func P2wshAddress(script []byte, network *chaincfg.Params) (btcutil.Address, error) {
	scriptHash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], network)
}

// witness layout of a claim spend:
//
//	[ 0: sig, 1: spender pubkey, 2: secret, 3: 0x01 (claim branch), 4: script ]
const claimWitnessItems = 5

// SecretFromWitness recovers the revealed preimage from a claim spend's
// witness stack. It returns false when the witness is not a claim spend.
func SecretFromWitness(witness [][]byte) (secret.Secret, bool) {
	if len(witness) != claimWitnessItems {
		return secret.Secret{}, false
	}
	sec, err := secret.FromBytes(witness[2])
	if err != nil {
		return secret.Secret{}, false
	}
	return sec, true
}
