// Package secret implements the hashlock commitment scheme shared by both
// legs of a swap. The hash function is a single SHA-256 application and must
// stay bit-exact with the escrow implementations on every supported ledger.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Size is the length of a swap secret in bytes.
const Size = 32

var ErrMalformedSecret = fmt.Errorf("secret must be exactly %v bytes", Size)

// Secret is the preimage committed to by a hashlock. It is confidential
// until revealed by an on-ledger claim, after which it is public data.
type Secret [Size]byte

// Hashlock is the public commitment to a secret.
type Hashlock [sha256.Size]byte

// New generates a fresh secret from a cryptographically secure source.
func New() (Secret, error) {
	var sec Secret
	if _, err := rand.Read(sec[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	return sec, nil
}

// FromBytes parses a secret from raw bytes.
func FromBytes(data []byte) (Secret, error) {
	if len(data) != Size {
		return Secret{}, ErrMalformedSecret
	}
	var sec Secret
	copy(sec[:], data)
	return sec, nil
}

// FromHex parses a hex-encoded secret.
func FromHex(str string) (Secret, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to decode secret: %w", err)
	}
	return FromBytes(data)
}

// Hashlock derives the public commitment of the secret.
func (sec Secret) Hashlock() Hashlock {
	return sha256.Sum256(sec[:])
}

func (sec Secret) Hex() string {
	return hex.EncodeToString(sec[:])
}

// Verify reports whether sec is the preimage of lock. It is used before
// every claim to fail fast locally instead of wasting an on-ledger tx.
func Verify(sec Secret, lock Hashlock) bool {
	got := sec.Hashlock()
	return subtle.ConstantTimeCompare(got[:], lock[:]) == 1
}

// HashlockFromBytes parses a hashlock from raw bytes.
func HashlockFromBytes(data []byte) (Hashlock, error) {
	if len(data) != sha256.Size {
		return Hashlock{}, fmt.Errorf("hashlock must be exactly %v bytes", sha256.Size)
	}
	var lock Hashlock
	copy(lock[:], data)
	return lock, nil
}

// HashlockFromHex parses a hex-encoded hashlock.
func HashlockFromHex(str string) (Hashlock, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hashlock{}, fmt.Errorf("failed to decode hashlock: %w", err)
	}
	return HashlockFromBytes(data)
}

func (lock Hashlock) Hex() string {
	return hex.EncodeToString(lock[:])
}
