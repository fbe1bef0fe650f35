package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignerUsed is returned when a Signer is asked to sign a second time.
var ErrSignerUsed = errors.New("signer already used")

// Signer is a short-lived signing capability bound to one credential.
// A Signer signs exactly one payload; the key material is wiped afterwards.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicKey() string
	Algorithm() Algorithm
	// Discard wipes the key material without signing. It is safe to call
	// after Sign and more than once.
	Discard()
}

// keySigner holds decrypted key bytes for the lifetime of one Sign call.
// It never touches persistent storage.
type keySigner struct {
	sec  secret
	pub  string
	used bool
}

// newSigner takes ownership of sec; callers must not reuse it.
func newSigner(sec secret) (*keySigner, error) {
	pub, err := sec.publicKey()
	if err != nil {
		sec.wipe()
		return nil, err
	}
	return &keySigner{sec: sec, pub: pub}, nil
}

func (s *keySigner) PublicKey() string    { return s.pub }
func (s *keySigner) Algorithm() Algorithm { return s.sec.alg }

func (s *keySigner) Discard() {
	s.used = true
	s.sec.wipe()
}

// Sign signs payload. ECDSA signs keccak256(payload) and returns r||s,
// ED25519 signs the payload itself.
func (s *keySigner) Sign(payload []byte) ([]byte, error) {
	if s.used {
		return nil, ErrSignerUsed
	}
	s.used = true
	defer s.sec.wipe()

	switch s.sec.alg {
	case AlgECDSA:
		priv, err := crypto.ToECDSA(s.sec.key)
		if err != nil {
			return nil, fmt.Errorf("failed to load secp256k1 key: %w", err)
		}
		sig, err := crypto.Sign(crypto.Keccak256(payload), priv)
		if err != nil {
			return nil, fmt.Errorf("failed to sign payload: %w", err)
		}
		// drop the recovery id
		return sig[:64], nil
	case AlgED25519:
		return ed25519.Sign(ed25519.NewKeyFromSeed(s.sec.key), payload), nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", s.sec.alg)
}
