package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

type encryptedKeyFile struct {
	Algorithm Algorithm           `json:"algorithm"`
	PublicKey string              `json:"publicKey"`
	Crypto    keystore.CryptoJSON `json:"crypto"`
}

// EncryptedBackend stores secrets encrypted with a passphrase using the
// keystore v3 scheme (scrypt + AES-128-CTR). Secrets are decrypted only when
// a Signer is created.
type EncryptedBackend struct {
	files      *keyDir
	passphrase string
	scryptN    int
	scryptP    int
	log        *zap.Logger
}

// NewEncryptedBackend creates the backend. lightKDF trades brute force
// resistance for speed and should only be used for tests and devnets.
func NewEncryptedBackend(dir, passphrase string, lightKDF bool, log *zap.Logger) (*EncryptedBackend, error) {
	if passphrase == "" {
		return nil, errs.WithHint(
			errs.Validation("the local_encrypted backend needs a passphrase"),
			"set key_manager.local_encrypted.passphrase or LEDGERCTL_KEY_MANAGER_LOCAL_ENCRYPTED_PASSPHRASE",
		)
	}
	files, err := newKeyDir(dir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &EncryptedBackend{
		files:      files,
		passphrase: passphrase,
		scryptN:    keystore.StandardScryptN,
		scryptP:    keystore.StandardScryptP,
		log:        log.Named(BackendLocalEncrypted),
	}
	if lightKDF {
		b.scryptN, b.scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	return b, nil
}

func (b *EncryptedBackend) Name() string { return BackendLocalEncrypted }

func (b *EncryptedBackend) StoreSecret(_ context.Context, sec secret) (string, error) {
	pub, err := sec.publicKey()
	if err != nil {
		return "", err
	}
	cj, err := keystore.EncryptDataV3(sec.key, []byte(b.passphrase), b.scryptN, b.scryptP)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt private key: %w", err)
	}
	handle, err := b.files.write(encryptedKeyFile{Algorithm: sec.alg, PublicKey: pub, Crypto: cj})
	if err != nil {
		return "", err
	}
	b.log.Debug("wrote encrypted key file", zap.String("handle", handle))
	return handle, nil
}

func (b *EncryptedBackend) CreateSigner(_ context.Context, handle string) (Signer, error) {
	var f encryptedKeyFile
	if err := b.files.read(handle, &f); err != nil {
		return nil, err
	}
	key, err := keystore.DecryptDataV3(f.Crypto, b.passphrase)
	if err != nil {
		return nil, errs.SigningFailed(err, "failed to decrypt key %s", handle)
	}
	if len(key) != rawKeyLen {
		return nil, errs.State("decrypted key %s has unexpected length", handle)
	}
	return newSigner(secret{alg: f.Algorithm, key: key})
}

func (b *EncryptedBackend) PublicKeyFor(_ context.Context, handle string) (string, error) {
	var f encryptedKeyFile
	if err := b.files.read(handle, &f); err != nil {
		return "", err
	}
	return f.PublicKey, nil
}

func (b *EncryptedBackend) RemoveSecret(_ context.Context, handle string) error {
	return b.files.remove(handle)
}

func (b *EncryptedBackend) Handles(_ context.Context) ([]string, error) {
	return b.files.handles()
}

var _ Backend = (*EncryptedBackend)(nil)
