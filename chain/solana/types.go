// Package solana implements the chain adapter against a Solana JSON-RPC node:
// legacy transaction encoding, SPL token transfer instructions, associated
// token account derivation, and ed25519 signing.
package solana

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Well-known program addresses involved in SPL token transfers.
const (
	SystemProgram          = "11111111111111111111111111111111"
	TokenProgram           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// Pubkey is a 32-byte account address.
type Pubkey [32]byte

// ParsePubkey decodes a base58 account address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return pk, fmt.Errorf("solana: decode pubkey: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("solana: pubkey must be 32 bytes, got %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPubkey parses a compile-time constant address and panics on failure.
func MustPubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

// Keypair wraps an ed25519 signing key and its public address.
type Keypair struct {
	pub  Pubkey
	priv ed25519.PrivateKey
}

// KeypairFromBase58 loads a keypair from a base58-encoded 64-byte secret key
// (seed followed by public key, the common wallet export format).
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("solana: decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana: secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	var pub Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{pub: pub, priv: priv}, nil
}

// Pubkey returns the public address of the keypair.
func (k *Keypair) Pubkey() Pubkey { return k.pub }

// Sign produces an ed25519 signature over the message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}
