package signer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// VaultBackend keeps secrets in a HashiCorp Vault KV v2 engine. The secret
// leaves Vault only when a Signer is created.
type VaultBackend struct {
	client *api.Client
	mount  string
	prefix string
	log    *zap.Logger
}

// NewVaultBackend creates a backend storing secrets under mount/prefix. When
// autoMount is set, a missing KV v2 engine is enabled at mount.
func NewVaultBackend(ctx context.Context, client *api.Client, mount, prefix string, autoMount bool, log *zap.Logger) (*VaultBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &VaultBackend{
		client: client,
		mount:  strings.Trim(mount, "/"),
		prefix: strings.Trim(prefix, "/"),
		log:    log.Named(BackendVault),
	}
	if b.mount == "" {
		return nil, fmt.Errorf("vault mount is not configured")
	}
	if autoMount {
		if err := b.ensureMount(ctx); err != nil {
			return nil, fmt.Errorf("failed to enable kv secrets engine: %w", err)
		}
	}
	return b, nil
}

func (b *VaultBackend) ensureMount(ctx context.Context) error {
	mounts, err := b.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return err
	}
	if _, ok := mounts[b.mount+"/"]; ok {
		b.log.Debug("kv secrets engine already enabled", zap.String("mount", b.mount))
		return nil
	}
	b.log.Info("kv secrets engine not found, enabling it", zap.String("mount", b.mount))
	return b.client.Sys().MountWithContext(ctx, b.mount, &api.MountInput{
		Type:    "kv",
		Options: map[string]string{"version": "2"},
	})
}

func (b *VaultBackend) secretPath(handle string) (string, error) {
	if !handlePattern.MatchString(handle) {
		return "", errs.NotFound("unknown key handle")
	}
	return path.Join(b.prefix, handle), nil
}

func (b *VaultBackend) Name() string { return BackendVault }

func (b *VaultBackend) StoreSecret(ctx context.Context, sec secret) (string, error) {
	pub, err := sec.publicKey()
	if err != nil {
		return "", err
	}
	handle := strings.ReplaceAll(uuid.NewString(), "-", "")
	p, _ := b.secretPath(handle)
	_, err = b.client.KVv2(b.mount).Put(ctx, p, map[string]interface{}{
		"algorithm":   string(sec.alg),
		"public_key":  pub,
		"private_key": sec.encode(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to write secret to vault: %w", err)
	}
	b.log.Debug("stored secret in vault", zap.String("handle", handle))
	return handle, nil
}

func (b *VaultBackend) read(ctx context.Context, handle string) (map[string]interface{}, error) {
	p, err := b.secretPath(handle)
	if err != nil {
		return nil, err
	}
	s, err := b.client.KVv2(b.mount).Get(ctx, p)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, errs.NotFound("key handle %s not found in vault", handle)
		}
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if s == nil || s.Data == nil {
		return nil, errs.NotFound("key handle %s not found in vault", handle)
	}
	return s.Data, nil
}

func (b *VaultBackend) CreateSigner(ctx context.Context, handle string) (Signer, error) {
	data, err := b.read(ctx, handle)
	if err != nil {
		return nil, err
	}
	algText, _ := data["algorithm"].(string)
	keyHex, _ := data["private_key"].(string)
	alg, err := ParseAlgorithm(algText)
	if err != nil {
		return nil, errs.State("vault secret %s has unknown algorithm %q", handle, algText)
	}
	sec, err := decodeStoredSecret(alg, keyHex)
	if err != nil {
		return nil, err
	}
	return newSigner(sec)
}

func (b *VaultBackend) PublicKeyFor(ctx context.Context, handle string) (string, error) {
	data, err := b.read(ctx, handle)
	if err != nil {
		return "", err
	}
	pub, ok := data["public_key"].(string)
	if !ok || pub == "" {
		return "", errs.State("vault secret %s has no public key", handle)
	}
	return pub, nil
}

func (b *VaultBackend) RemoveSecret(ctx context.Context, handle string) error {
	p, err := b.secretPath(handle)
	if err != nil {
		return err
	}
	if _, err := b.read(ctx, handle); err != nil {
		return err
	}
	if err := b.client.KVv2(b.mount).DeleteMetadata(ctx, p); err != nil {
		return fmt.Errorf("failed to delete secret from vault: %w", err)
	}
	return nil
}

func (b *VaultBackend) Handles(ctx context.Context) ([]string, error) {
	listPath := path.Join(b.mount, "metadata", b.prefix)
	s, err := b.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault secrets: %w", err)
	}
	if s == nil || s.Data["keys"] == nil {
		return nil, nil
	}
	keys, ok := s.Data["keys"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected format for keys from vault")
	}
	var out []string
	for _, k := range keys {
		if name, ok := k.(string); ok && handlePattern.MatchString(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

var _ Backend = (*VaultBackend)(nil)
