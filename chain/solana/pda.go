package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
)

const pdaMarker = "ProgramDerivedAddress"

// onCurve reports whether the 32 bytes decode to a valid ed25519 curve
// point. Program-derived addresses must not be valid points so they can never
// carry a signature.
func onCurve(b [32]byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// createProgramAddress hashes the seeds with the program id and the PDA
// marker, rejecting results that land on the curve.
func createProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return Pubkey{}, fmt.Errorf("solana: seed exceeds 32 bytes")
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	var out Pubkey
	copy(out[:], h.Sum(nil))
	if onCurve(out) {
		return Pubkey{}, fmt.Errorf("solana: derived address is on the curve")
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 downward for a valid
// off-curve derived address.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidate := append(append([][]byte{}, seeds...), []byte{uint8(bump)})
		addr, err := createProgramAddress(candidate, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, fmt.Errorf("solana: no viable bump seed for program address")
}

// DeriveAssociatedTokenAccount computes the canonical token account holding
// mint for owner.
func DeriveAssociatedTokenAccount(owner, mint Pubkey) (Pubkey, error) {
	tokenProgram := MustPubkey(TokenProgram)
	ataProgram := MustPubkey(AssociatedTokenProgram)
	addr, _, err := FindProgramAddress([][]byte{owner[:], tokenProgram[:], mint[:]}, ataProgram)
	if err != nil {
		return Pubkey{}, fmt.Errorf("solana: derive associated token account: %w", err)
	}
	return addr, nil
}
