package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Wallet signs transaction messages. The core never reads ambient
// signer state: every operation takes its Wallet as a parameter.
type Wallet interface {
	PublicKey() string // base58-encoded ed25519 public key
	Sign(message []byte) ([]byte, error)
}

type KeypairWallet struct {
	priv ed25519.PrivateKey
	pub  string
}

func NewKeypairWallet(priv ed25519.PrivateKey) *KeypairWallet {
	pub := priv.Public().(ed25519.PublicKey)
	return &KeypairWallet{priv: priv, pub: base58.Encode(pub)}
}

func GenerateWallet() (*KeypairWallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return NewKeypairWallet(priv), nil
}

// WalletFromSeedHex builds a wallet from a hex-encoded 32-byte ed25519
// seed, the format used for operator and arbitrator secrets in config.
func WalletFromSeedHex(seedHex string) (*KeypairWallet, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode wallet seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewKeypairWallet(ed25519.NewKeyFromSeed(seed)), nil
}

// DeriveUserWallet derives the custodial signing key for a user from
// the platform master seed via HKDF-SHA256. Deterministic: the same
// user always maps to the same keypair.
func DeriveUserWallet(masterSeed []byte, userID uuid.UUID) (*KeypairWallet, error) {
	if len(masterSeed) == 0 {
		return nil, fmt.Errorf("empty wallet master seed")
	}
	r := hkdf.New(sha256.New, masterSeed, []byte("mesh-custodial-wallet"), userID[:])
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive wallet seed: %w", err)
	}
	return NewKeypairWallet(ed25519.NewKeyFromSeed(seed)), nil
}

func (w *KeypairWallet) PublicKey() string { return w.pub }

func (w *KeypairWallet) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(w.priv, message), nil
}
