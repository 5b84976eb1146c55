package chain

import (
	"crypto/sha256"

	"github.com/btcsuite/btcutil/base58"
)

// Seed strings for program-derived addresses. Must match the deployed
// escrow program.
const (
	escrowSeed  = "escrow"
	disputeSeed = "dispute"
)

// DeriveEscrowAddress returns the deterministic escrow account address
// for an intent: sha256(programID || "escrow" || intentID), base58.
// Pure function — callers may cache the result.
func DeriveEscrowAddress(programID, intentID string) string {
	h := sha256.New()
	h.Write([]byte(programID))
	h.Write([]byte(escrowSeed))
	h.Write([]byte(intentID))
	return base58.Encode(h.Sum(nil))
}

// DeriveDisputeAddress derives the dispute account address from its
// parent escrow address, same scheme.
func DeriveDisputeAddress(programID, escrowAddress string) string {
	h := sha256.New()
	h.Write([]byte(programID))
	h.Write([]byte(disputeSeed))
	h.Write([]byte(escrowAddress))
	return base58.Encode(h.Sum(nil))
}
