package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// Algorithm identifies a key type. The set is closed.
type Algorithm string

const (
	AlgECDSA   Algorithm = "ECDSA"   // secp256k1
	AlgED25519 Algorithm = "ED25519" // EdDSA over curve25519
)

// ParseAlgorithm accepts the canonical names plus a few common spellings.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ECDSA", "ECDSA_SECP256K1", "SECP256K1":
		return AlgECDSA, nil
	case "ED25519", "EDDSA":
		return AlgED25519, nil
	}
	return "", errs.Validation("unsupported key algorithm %q (expected ECDSA or ED25519)", s)
}

// PKCS#8 prefixes for the two supported key types, as emitted by ledger SDKs
// when exporting private keys as DER hex.
var (
	derPrefixED25519 = hexutil.MustDecode("0x302e020100300506032b657004220420")
	derPrefixECDSA   = hexutil.MustDecode("0x3030020100300706052b8104000a04220420")
)

const rawKeyLen = 32

// secret is the only representation of private key material. It lives inside
// a backend's storage code path or inside a Signer and nowhere else.
type secret struct {
	alg Algorithm
	key []byte
}

// String keeps secrets out of fmt verbs and zap's reflection encoder.
func (s secret) String() string { return "secret(" + string(s.alg) + ")" }

func (s secret) publicKey() (string, error) {
	switch s.alg {
	case AlgECDSA:
		priv, err := crypto.ToECDSA(s.key)
		if err != nil {
			return "", errs.InvalidSecret(nil, "invalid secp256k1 private key")
		}
		return hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey)), nil
	case AlgED25519:
		if len(s.key) != ed25519.SeedSize {
			return "", errs.InvalidSecret(nil, "invalid ed25519 seed length %d", len(s.key))
		}
		pub := ed25519.NewKeyFromSeed(s.key).Public().(ed25519.PublicKey)
		return hex.EncodeToString(pub), nil
	}
	return "", errs.InvalidSecret(nil, "unsupported algorithm %q", s.alg)
}

func (s secret) encode() string { return hex.EncodeToString(s.key) }

func (s *secret) wipe() {
	for i := range s.key {
		s.key[i] = 0
	}
}

// decodeKeyText strips an optional 0x prefix and hex-decodes the rest.
func decodeKeyText(text string) ([]byte, bool) {
	text = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(text), "0x"), "0X")
	if text == "" || len(text)%2 != 0 {
		return nil, false
	}
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// LooksLikePrivateKey reports whether text has the syntax of a private key:
// 32 raw bytes or a supported PKCS#8 DER encoding, hex encoded.
func LooksLikePrivateKey(text string) bool {
	raw, ok := decodeKeyText(text)
	if !ok {
		return false
	}
	_, _, ok = splitDER(raw)
	return ok || len(raw) == rawKeyLen
}

// EncodedAlgorithm returns the algorithm declared by a DER encoded key.
func EncodedAlgorithm(text string) (Algorithm, bool) {
	raw, ok := decodeKeyText(text)
	if !ok {
		return "", false
	}
	alg, _, ok := splitDER(raw)
	return alg, ok
}

func splitDER(raw []byte) (Algorithm, []byte, bool) {
	switch {
	case len(raw) == len(derPrefixED25519)+rawKeyLen && bytes.HasPrefix(raw, derPrefixED25519):
		return AlgED25519, raw[len(derPrefixED25519):], true
	case len(raw) == len(derPrefixECDSA)+rawKeyLen && bytes.HasPrefix(raw, derPrefixECDSA):
		return AlgECDSA, raw[len(derPrefixECDSA):], true
	}
	return "", nil, false
}

// parseSecret turns user text into secret material. DER input carries its
// own algorithm; it must agree with alg when alg is set. Raw 32-byte input
// takes alg, which is then required.
func parseSecret(text string, alg Algorithm) (secret, error) {
	raw, ok := decodeKeyText(text)
	if !ok {
		return secret{}, errs.InvalidSecret(nil, "private key is not valid hex")
	}
	if derAlg, key, ok := splitDER(raw); ok {
		if alg != "" && alg != derAlg {
			return secret{}, errs.InvalidSecret(nil, "private key is %s but %s was requested", derAlg, alg)
		}
		alg, raw = derAlg, key
	}
	if len(raw) != rawKeyLen {
		return secret{}, errs.InvalidSecret(nil, "private key must be %d bytes, got %d", rawKeyLen, len(raw))
	}
	if alg == "" {
		return secret{}, errs.InvalidSecret(nil, "private key algorithm is required for raw keys")
	}
	s := secret{alg: alg, key: append([]byte(nil), raw...)}
	if _, err := s.publicKey(); err != nil {
		return secret{}, err
	}
	return s, nil
}

// decodeStoredSecret rebuilds a secret from a backend's persisted fields.
func decodeStoredSecret(alg Algorithm, keyHex string) (secret, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != rawKeyLen {
		return secret{}, errs.State("stored %s secret is corrupt", alg)
	}
	return secret{alg: alg, key: key}, nil
}

func generateSecret(alg Algorithm) (secret, error) {
	switch alg {
	case AlgECDSA:
		priv, err := crypto.GenerateKey()
		if err != nil {
			return secret{}, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return secret{alg: alg, key: crypto.FromECDSA(priv)}, nil
	case AlgED25519:
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return secret{}, fmt.Errorf("failed to generate ed25519 seed: %w", err)
		}
		return secret{alg: alg, key: seed}, nil
	}
	return secret{}, errs.Validation("unsupported key algorithm %q", alg)
}

// DerivePublicKey returns the public key for a private key string without
// storing anything. It is used to cross-check user supplied key pairs.
func DerivePublicKey(privateKey string, alg Algorithm) (string, Algorithm, error) {
	s, err := parseSecret(privateKey, alg)
	if err != nil {
		return "", "", err
	}
	defer s.wipe()
	pub, err := s.publicKey()
	return pub, s.alg, err
}

// Verify checks a signature produced by a Signer of the given algorithm.
func Verify(alg Algorithm, publicKey string, payload, sig []byte) bool {
	pub, err := hex.DecodeString(publicKey)
	if err != nil {
		return false
	}
	switch alg {
	case AlgECDSA:
		if len(sig) != 64 {
			return false
		}
		return crypto.VerifySignature(pub, crypto.Keccak256(payload), sig)
	case AlgED25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(pub, payload, sig)
	}
	return false
}
