package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

var handlePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// keyDir stores one JSON document per handle. Writes go through a temp file
// and a rename so readers never observe a partial secret.
type keyDir struct {
	dir string
}

func newKeyDir(dir string) (*keyDir, error) {
	if dir == "" {
		return nil, fmt.Errorf("key directory is not configured")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	return &keyDir{dir: dir}, nil
}

func (d *keyDir) path(handle string) (string, error) {
	if !handlePattern.MatchString(handle) {
		return "", errs.NotFound("unknown key handle")
	}
	return filepath.Join(d.dir, handle+".json"), nil
}

func (d *keyDir) write(doc interface{}) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode key file: %w", err)
	}
	handle := strings.ReplaceAll(uuid.NewString(), "-", "")
	p, _ := d.path(handle)
	if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Chmod(p, 0600); err != nil {
		_ = os.Remove(p)
		return "", fmt.Errorf("failed to restrict key file permissions: %w", err)
	}
	return handle, nil
}

func (d *keyDir) read(handle string, doc interface{}) error {
	p, err := d.path(handle)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return errs.NotFound("key handle %s not found", handle)
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return errs.State("key file %s is corrupt: %v", filepath.Base(p), err)
	}
	return nil
}

func (d *keyDir) remove(handle string) error {
	p, err := d.path(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return errs.NotFound("key handle %s not found", handle)
		}
		return fmt.Errorf("failed to remove key file: %w", err)
	}
	return nil
}

func (d *keyDir) handles() ([]string, error) {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	var out []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if h := strings.TrimSuffix(name, ".json"); handlePattern.MatchString(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

type localKeyFile struct {
	Algorithm  Algorithm `json:"algorithm"`
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
}

// LocalBackend keeps secrets unencrypted on disk. It is meant for test
// networks and throwaway keys.
type LocalBackend struct {
	files *keyDir
	log   *zap.Logger
}

// NewLocalBackend creates the key directory if needed.
func NewLocalBackend(dir string, log *zap.Logger) (*LocalBackend, error) {
	files, err := newKeyDir(dir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalBackend{files: files, log: log.Named(BackendLocal)}, nil
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) StoreSecret(_ context.Context, sec secret) (string, error) {
	pub, err := sec.publicKey()
	if err != nil {
		return "", err
	}
	handle, err := b.files.write(localKeyFile{Algorithm: sec.alg, PublicKey: pub, PrivateKey: sec.encode()})
	if err != nil {
		return "", err
	}
	b.log.Debug("wrote key file", zap.String("handle", handle))
	return handle, nil
}

func (b *LocalBackend) CreateSigner(_ context.Context, handle string) (Signer, error) {
	var f localKeyFile
	if err := b.files.read(handle, &f); err != nil {
		return nil, err
	}
	sec, err := decodeStoredSecret(f.Algorithm, f.PrivateKey)
	if err != nil {
		return nil, err
	}
	return newSigner(sec)
}

func (b *LocalBackend) PublicKeyFor(_ context.Context, handle string) (string, error) {
	var f localKeyFile
	if err := b.files.read(handle, &f); err != nil {
		return "", err
	}
	return f.PublicKey, nil
}

func (b *LocalBackend) RemoveSecret(_ context.Context, handle string) error {
	return b.files.remove(handle)
}

func (b *LocalBackend) Handles(_ context.Context) ([]string, error) {
	return b.files.handles()
}

var _ Backend = (*LocalBackend)(nil)
