// Package keys derives the per-ledger signing keys used by the ledger
// adapters from a single BIP39 mnemonic. The coordinator itself never sees
// key material; adapters are handed a derived key at construction time.
package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Chain selects the derivation branch for a ledger.
type Chain string

const (
	Bitcoin        Chain = "bitcoin"
	BitcoinTestnet Chain = "bitcoin-testnet"
	BitcoinRegtest Chain = "bitcoin-regtest"
	Ethereum       Chain = "ethereum"
	EthereumLocal  Chain = "ethereum-localnet"
)

func coinIndex(chain Chain) (uint32, error) {
	switch chain {
	case Bitcoin:
		return 0, nil
	case BitcoinTestnet, BitcoinRegtest:
		return 1, nil
	case Ethereum, EthereumLocal:
		return 60, nil
	default:
		return 0, fmt.Errorf("invalid chain: %s", chain)
	}
}

// NewMnemonic generates a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic validates the mnemonic and returns its derivation seed.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	return bip39.NewSeedWithErrorChecking(mnemonic, "")
}

// Key is one derived signing key, usable on either ledger family.
type Key struct {
	inner *bip32.Key
}

// LoadKey derives the key at coin/account/selector under the seed's master
// key.
func LoadKey(seed []byte, chain Chain, account, selector uint32) (*Key, error) {
	index, err := coinIndex(chain)
	if err != nil {
		return nil, err
	}
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, idx := range []uint32{index, account, selector} {
		masterKey, err = masterKey.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to create child key: %v", err)
		}
	}
	return &Key{masterKey}, nil
}

// BtcKey returns the key in secp256k1 form for bitcoin signing.
func (key *Key) BtcKey() *btcec.PrivateKey {
	privKey, _ := btcec.PrivKeyFromBytes(key.inner.Key)
	return privKey
}

// ECDSA returns the key in go-ethereum's ECDSA form.
func (key *Key) ECDSA() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(key.inner.Key)
}

// WitnessAddress returns the key's p2wpkh address on the given network.
func (key *Key) WitnessAddress(network *chaincfg.Params) (btcutil.Address, error) {
	keyBytesHash := btcutil.Hash160(key.BtcKey().PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(keyBytesHash, network)
}

// EvmAddress returns the key's ethereum account address.
func (key *Key) EvmAddress() (common.Address, error) {
	ecdsaKey, err := key.ECDSA()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(ecdsaKey.PublicKey), nil
}

// Keys caches derived keys per chain/account/selector.
type Keys struct {
	mu   sync.Mutex
	seed []byte
	m    map[[32]byte]*Key
}

func NewKeys(seed []byte) *Keys {
	return &Keys{
		seed: seed,
		m:    map[[32]byte]*Key{},
	}
}

func (keys *Keys) GetKey(chain Chain, account, selector uint32) (*Key, error) {
	digest := append([]byte(chain), []byte(fmt.Sprintf("_%v_%v", account, selector))...)
	mapKey := sha256.Sum256(digest)

	keys.mu.Lock()
	defer keys.mu.Unlock()
	if key, ok := keys.m[mapKey]; ok {
		return key, nil
	}
	key, err := LoadKey(keys.seed, chain, account, selector)
	if err != nil {
		return nil, err
	}
	keys.m[mapKey] = key
	return key, nil
}
