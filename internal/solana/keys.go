// Package solana adapts solana-go to the gateway: keypairs stored as base58
// secret keys, System transfers and SPL token burns, and an RPC client that
// confirms what it submits.
package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var (
	// ErrInvalidPublicKey is returned for malformed base58 addresses.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrInvalidSecretKey is returned for malformed base58 secret keys.
	ErrInvalidSecretKey = errors.New("invalid secret key")
)

type (
	// PublicKey is a 32-byte account address.
	PublicKey = solanago.PublicKey
	// Hash is a recent blockhash.
	Hash = solanago.Hash
	// Signature is a transaction signature.
	Signature = solanago.Signature
)

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidPublicKey, s)
	}
	return pk, nil
}

// MustPublicKey parses s and panics on failure. For constants.
func MustPublicKey(s string) PublicKey {
	return solanago.MustPublicKeyFromBase58(s)
}

// Keypair is an ed25519 signing key. The 64-byte secret key layout
// (seed followed by public key) matches browser wallets.
type Keypair struct {
	key solanago.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{key: key}, nil
}

// KeypairFromSecret restores a keypair from a 64-byte secret key. The public
// half must match the seed.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSecretKey, ed25519.PrivateKeySize, len(secret))
	}
	derived := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	if !derived.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(secret[ed25519.SeedSize:])) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidSecretKey)
	}
	return &Keypair{key: solanago.PrivateKey(derived)}, nil
}

// KeypairFromBase58 restores a keypair from a base58 secret key.
func KeypairFromBase58(s string) (*Keypair, error) {
	key, err := solanago.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	return KeypairFromSecret(key)
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() PublicKey {
	return k.key.PublicKey()
}

// SecretBase58 returns the base58 64-byte secret key.
func (k *Keypair) SecretBase58() string {
	return k.key.String()
}

// PrivateKey exposes the key for transaction signing.
func (k *Keypair) PrivateKey() *solanago.PrivateKey {
	return &k.key
}
