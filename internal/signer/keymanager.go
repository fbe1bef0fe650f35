package signer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// Backend names registered by the CLI.
const (
	BackendLocal          = "local"
	BackendLocalEncrypted = "local_encrypted"
	BackendVault          = "vault"
)

// Backend is a secret store. Handles are opaque and backend local; only the
// KeyManager maps them to keyRefIds.
//
// The secret type is unexported, so the set of backends is closed to this
// package and registered by name at startup.
type Backend interface {
	// Name is the registry key recorded next to every credential.
	Name() string

	// StoreSecret persists sec and returns a handle for it. The write must be
	// atomic: a crash never leaves a partially written secret behind.
	StoreSecret(ctx context.Context, sec secret) (string, error)

	// CreateSigner loads (and, if needed, decrypts) the secret behind handle
	// and wraps it in a single-use Signer.
	CreateSigner(ctx context.Context, handle string) (Signer, error)

	// PublicKeyFor returns the public key without exposing the secret.
	PublicKeyFor(ctx context.Context, handle string) (string, error)

	// RemoveSecret deletes the secret. Returns an ErrNotFound-marked error
	// when the handle is unknown.
	RemoveSecret(ctx context.Context, handle string) error

	// Handles lists every handle held by the backend.
	Handles(ctx context.Context) ([]string, error)
}

// Credential is the metadata kept for one stored secret. It never carries
// secret material.
type Credential struct {
	KeyRefID  string    `json:"keyRefId"`
	Algorithm Algorithm `json:"algorithm"`
	PublicKey string    `json:"publicKey"`
	Backend   string    `json:"backend"`
	Handle    string    `json:"-"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasLabel reports whether the credential carries label.
func (c Credential) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Index records which backend owns each keyRefId.
type Index interface {
	// Put adds a credential. It fails if the keyRefId already exists.
	Put(ctx context.Context, cred Credential) error
	// Get returns an ErrNotFound-marked error for unknown keyRefIds.
	Get(ctx context.Context, keyRefID string) (Credential, error)
	// Delete returns an ErrNotFound-marked error for unknown keyRefIds.
	Delete(ctx context.Context, keyRefID string) error
	List(ctx context.Context) ([]Credential, error)
}

// ReferenceChecker reports which records still point at a keyRefId.
type ReferenceChecker interface {
	KeyRefReferences(ctx context.Context, keyRefID string) ([]string, error)
}

// ListFilter narrows KeyManager.List. Empty fields match everything.
type ListFilter struct {
	Backend string
	Label   string
}

var keyRefPattern = regexp.MustCompile(`^kr_[0-9a-f]{8,64}$`)

// IsKeyRefID reports whether s has keyRefId syntax.
func IsKeyRefID(s string) bool {
	return keyRefPattern.MatchString(s)
}

// NewKeyRefID returns a fresh, process-unique keyRefId.
func NewKeyRefID() string {
	return "kr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// KeyManager dispatches key operations to the backend that owns each
// credential. Backends are selected per call by name, so credentials from
// several backends can be used side by side.
type KeyManager struct {
	backends map[string]Backend
	index    Index
	refs     ReferenceChecker
	log      *zap.Logger
	newID    func() string
	now      func() time.Time
}

// NewKeyManager creates a KeyManager over index with the given backends.
func NewKeyManager(index Index, log *zap.Logger, backends ...Backend) (*KeyManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	km := &KeyManager{
		backends: make(map[string]Backend),
		index:    index,
		log:      log,
		newID:    NewKeyRefID,
		now:      time.Now,
	}
	for _, b := range backends {
		if err := km.Register(b); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// Register adds a backend. Names must be unique.
func (km *KeyManager) Register(b Backend) error {
	if _, ok := km.backends[b.Name()]; ok {
		return fmt.Errorf("backend %q already registered", b.Name())
	}
	km.backends[b.Name()] = b
	return nil
}

// SetReferenceChecker makes Remove refuse keys that are still referenced.
func (km *KeyManager) SetReferenceChecker(rc ReferenceChecker) {
	km.refs = rc
}

// Backends returns the registered backend names, sorted.
func (km *KeyManager) Backends() []string {
	names := make([]string, 0, len(km.backends))
	for name := range km.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (km *KeyManager) backend(name string) (Backend, error) {
	b, ok := km.backends[name]
	if !ok {
		return nil, errs.WithHint(
			errs.Validation("unknown key backend %q", name),
			"available backends: "+strings.Join(km.Backends(), ", "),
		)
	}
	return b, nil
}

// Store parses privateKey for alg and persists it under backendName.
// alg may be empty when the key is DER encoded.
func (km *KeyManager) Store(ctx context.Context, privateKey string, alg Algorithm, backendName string, labels []string) (Credential, error) {
	b, err := km.backend(backendName)
	if err != nil {
		return Credential{}, err
	}
	sec, err := parseSecret(privateKey, alg)
	if err != nil {
		return Credential{}, err
	}
	return km.store(ctx, b, sec, labels)
}

// Generate creates a new key pair for alg under backendName.
func (km *KeyManager) Generate(ctx context.Context, alg Algorithm, backendName string, labels []string) (Credential, error) {
	b, err := km.backend(backendName)
	if err != nil {
		return Credential{}, err
	}
	sec, err := generateSecret(alg)
	if err != nil {
		return Credential{}, err
	}
	return km.store(ctx, b, sec, labels)
}

func (km *KeyManager) store(ctx context.Context, b Backend, sec secret, labels []string) (Credential, error) {
	defer sec.wipe()

	pub, err := sec.publicKey()
	if err != nil {
		return Credential{}, err
	}
	handle, err := b.StoreSecret(ctx, sec)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to store secret in %s backend: %w", b.Name(), err)
	}

	cred := Credential{
		KeyRefID:  km.newID(),
		Algorithm: sec.alg,
		PublicKey: pub,
		Backend:   b.Name(),
		Handle:    handle,
		Labels:    normalizeLabels(labels),
		CreatedAt: km.now().UTC(),
	}
	if err := km.index.Put(ctx, cred); err != nil {
		if rmErr := b.RemoveSecret(ctx, handle); rmErr != nil {
			km.log.Warn("failed to roll back stored secret",
				zap.String("backend", b.Name()), zap.Error(rmErr))
		}
		return Credential{}, fmt.Errorf("failed to index credential: %w", err)
	}

	km.log.Info("stored credential",
		zap.String("key_ref_id", cred.KeyRefID),
		zap.String("backend", cred.Backend),
		zap.String("algorithm", string(cred.Algorithm)),
		zap.Strings("labels", cred.Labels))
	return cred, nil
}

// Get returns the credential metadata for keyRefID.
func (km *KeyManager) Get(ctx context.Context, keyRefID string) (Credential, error) {
	return km.index.Get(ctx, keyRefID)
}

// FindByPublicKey looks for an existing credential with publicKey in
// backendName, so importing the same secret twice yields one keyRefId.
func (km *KeyManager) FindByPublicKey(ctx context.Context, backendName, publicKey string) (Credential, bool, error) {
	creds, err := km.index.List(ctx)
	if err != nil {
		return Credential{}, false, err
	}
	for _, c := range creds {
		if c.Backend == backendName && strings.EqualFold(c.PublicKey, publicKey) {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

// PublicKey returns the public key of keyRefID as reported by its backend.
func (km *KeyManager) PublicKey(ctx context.Context, keyRefID string) (string, error) {
	cred, err := km.index.Get(ctx, keyRefID)
	if err != nil {
		return "", err
	}
	b, err := km.owner(cred)
	if err != nil {
		return "", err
	}
	pub, err := b.PublicKeyFor(ctx, cred.Handle)
	if err != nil {
		return "", fmt.Errorf("failed to read public key for %s: %w", keyRefID, err)
	}
	return pub, nil
}

// Sign signs payload with keyRefID. A fresh Signer is built for the call and
// dropped before Sign returns.
func (km *KeyManager) Sign(ctx context.Context, keyRefID string, payload []byte) ([]byte, error) {
	cred, err := km.index.Get(ctx, keyRefID)
	if err != nil {
		return nil, err
	}
	b, err := km.owner(cred)
	if err != nil {
		return nil, err
	}

	s, err := b.CreateSigner(ctx, cred.Handle)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.State("secret for %s is missing from the %s backend", keyRefID, cred.Backend)
		}
		return nil, errs.SigningFailed(err, "failed to open signer for %s", keyRefID)
	}
	defer s.Discard()
	if s.Algorithm() != cred.Algorithm || !strings.EqualFold(s.PublicKey(), cred.PublicKey) {
		return nil, errs.State("secret for %s does not match its recorded public key", keyRefID)
	}

	sig, err := s.Sign(payload)
	if err != nil {
		return nil, errs.SigningFailed(err, "failed to sign with %s", keyRefID)
	}
	km.log.Debug("signed payload",
		zap.String("key_ref_id", keyRefID), zap.Int("payload_bytes", len(payload)))
	return sig, nil
}

// List returns credential metadata ordered by creation time.
func (km *KeyManager) List(ctx context.Context, filter ListFilter) ([]Credential, error) {
	creds, err := km.index.List(ctx)
	if err != nil {
		return nil, err
	}
	out := creds[:0]
	for _, c := range creds {
		if filter.Backend != "" && c.Backend != filter.Backend {
			continue
		}
		if filter.Label != "" && !c.HasLabel(filter.Label) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyRefID < out[j].KeyRefID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Remove deletes keyRefID and its secret. Removal is irreversible; keys still
// referenced by alias records are refused.
func (km *KeyManager) Remove(ctx context.Context, keyRefID string) error {
	cred, err := km.index.Get(ctx, keyRefID)
	if err != nil {
		return err
	}
	if km.refs != nil {
		refs, err := km.refs.KeyRefReferences(ctx, keyRefID)
		if err != nil {
			return fmt.Errorf("failed to check references to %s: %w", keyRefID, err)
		}
		if len(refs) > 0 {
			return errs.WithHint(
				errs.State("%s is still referenced by %s", keyRefID, strings.Join(refs, ", ")),
				"remove the aliases first with `ledgerctl alias remove`",
			)
		}
	}

	b, err := km.owner(cred)
	if err != nil {
		return err
	}
	if err := b.RemoveSecret(ctx, cred.Handle); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("failed to remove secret for %s: %w", keyRefID, err)
		}
		km.log.Warn("secret already absent from backend",
			zap.String("key_ref_id", keyRefID), zap.String("backend", cred.Backend))
	}
	if err := km.index.Delete(ctx, keyRefID); err != nil {
		return err
	}
	km.log.Info("removed credential", zap.String("key_ref_id", keyRefID))
	return nil
}

func (km *KeyManager) owner(cred Credential) (Backend, error) {
	b, ok := km.backends[cred.Backend]
	if !ok {
		return nil, errs.WithHint(
			errs.State("%s belongs to backend %q which is not configured", cred.KeyRefID, cred.Backend),
			"enable the backend in the key_manager section of the config",
		)
	}
	return b, nil
}

func normalizeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
