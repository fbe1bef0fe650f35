// Package resolve turns user supplied key references into stored credentials.
//
// Accepted shapes, tried in order:
//
//	accountId:privateKey   raw pair, or a bare private key
//	kr_<hex>               an existing keyRefId
//	name                   an alias registered for the network
package resolve

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

// ResolvedKey is what commands receive. PublicKey always comes from the
// credential store. AccountID is empty when no account is known for the key.
type ResolvedKey struct {
	AccountID string           `json:"accountId,omitempty"`
	KeyRefID  string           `json:"keyRefId"`
	PublicKey string           `json:"publicKey"`
	Algorithm signer.Algorithm `json:"algorithm"`
}

// RequireAccount fails when the key has no associated account.
func (k ResolvedKey) RequireAccount() error {
	if k.AccountID == "" {
		return errs.WithHint(
			errs.State("key %s is not associated with an account", k.KeyRefID),
			"pass the key as accountId:privateKey or register an account alias for it",
		)
	}
	return nil
}

// LedgerKey converts the key for use in a transaction body.
func (k ResolvedKey) LedgerKey() *ledger.Key {
	return &ledger.Key{Algorithm: string(k.Algorithm), PublicKey: k.PublicKey}
}

// Mirror is the read side of the network used to find accounts.
type Mirror interface {
	// AccountByPublicKey returns the account holding publicKey. ErrNotFound
	// marked when none does.
	AccountByPublicKey(ctx context.Context, publicKey string) (string, error)
	// AccountKey returns the public key of accountID.
	AccountKey(ctx context.Context, accountID string) (string, error)
}

// Keys is the part of the key manager the resolver uses.
type Keys interface {
	Store(ctx context.Context, privateKey string, alg signer.Algorithm, backend string, labels []string) (signer.Credential, error)
	Get(ctx context.Context, keyRefID string) (signer.Credential, error)
	FindByPublicKey(ctx context.Context, backend, publicKey string) (signer.Credential, bool, error)
}

// Operator is a network's default paying account.
type Operator struct {
	AccountID  string
	KeyRefID   string
	PrivateKey string
}

// Options apply to one resolution.
type Options struct {
	Backend   string
	Labels    []string
	Algorithm signer.Algorithm
	Network   string
}

type Config struct {
	DefaultBackend    string
	DefaultAlgorithm  signer.Algorithm
	VerifyAccountKeys bool
	Operators         map[string]Operator
}

type Resolver struct {
	keys    Keys
	aliases alias.Directory
	mirror  Mirror
	cfg     Config
	log     *zap.Logger
}

// New builds a resolver. mirror may be nil, in which case bare keys and
// keyRefIds without an account alias resolve without an account.
func New(keys Keys, aliases alias.Directory, mirror Mirror, cfg Config, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = signer.BackendLocal
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = signer.AlgECDSA
	}
	return &Resolver{keys: keys, aliases: aliases, mirror: mirror, cfg: cfg, log: log.Named("resolve")}
}

// GetOrInitKey resolves input, importing raw key material into the chosen
// backend when needed. Labels are attached to newly stored credentials only.
func (r *Resolver) GetOrInitKey(ctx context.Context, input string, opts Options) (ResolvedKey, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return ResolvedKey{}, errs.Validation("a key reference is required")
	}

	if account, key, ok := strings.Cut(input, ":"); ok {
		if !ledger.IsEntityID(account) {
			return ResolvedKey{}, errs.WithHint(
				errs.Validation("malformed key pair: %q is not an account id", account),
				"use accountId:privateKey, e.g. 0.0.1001:<64 hex chars>",
			)
		}
		if !signer.LooksLikePrivateKey(key) {
			return ResolvedKey{}, errs.Validation("malformed key pair: private key for %s is not a 32-byte hex or DER key", account)
		}
		return r.importKey(ctx, account, key, opts)
	}
	if signer.LooksLikePrivateKey(input) {
		return r.importKey(ctx, "", input, opts)
	}
	if signer.IsKeyRefID(input) {
		return r.fromKeyRef(ctx, input, opts)
	}
	if alias.IsValidName(input) {
		return r.fromAlias(ctx, input, opts)
	}
	return ResolvedKey{}, errs.WithHint(
		errs.Validation("unrecognized key reference %q", input),
		"expected accountId:privateKey, a private key, a kr_ keyRefId or an alias",
	)
}

// GetOrInitKeyWithFallback resolves input, or the network's operator when
// input is empty.
func (r *Resolver) GetOrInitKeyWithFallback(ctx context.Context, input string, opts Options) (ResolvedKey, error) {
	if strings.TrimSpace(input) != "" {
		return r.GetOrInitKey(ctx, input, opts)
	}
	op, ok := r.cfg.Operators[opts.Network]
	if !ok || op.AccountID == "" {
		return ResolvedKey{}, errs.WithHint(
			errs.State("no operator configured for network %q", opts.Network),
			"set networks."+opts.Network+".operator in the config file",
		)
	}
	if op.KeyRefID != "" {
		cred, err := r.keys.Get(ctx, op.KeyRefID)
		if err != nil {
			return ResolvedKey{}, errors.Wrapf(err, "operator key for %s", opts.Network)
		}
		return ResolvedKey{AccountID: op.AccountID, KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}, nil
	}
	if op.PrivateKey == "" {
		return ResolvedKey{}, errs.State("operator for network %q has neither key_ref_id nor private_key", opts.Network)
	}
	return r.importKey(ctx, op.AccountID, op.PrivateKey, opts)
}

func (r *Resolver) backend(opts Options) string {
	if opts.Backend != "" {
		return opts.Backend
	}
	return r.cfg.DefaultBackend
}

func (r *Resolver) importKey(ctx context.Context, accountID, privateKey string, opts Options) (ResolvedKey, error) {
	alg := opts.Algorithm
	if encoded, ok := signer.EncodedAlgorithm(privateKey); ok && alg == "" {
		alg = encoded
	}
	if alg == "" {
		alg = r.cfg.DefaultAlgorithm
	}
	pub, alg, err := signer.DerivePublicKey(privateKey, alg)
	if err != nil {
		return ResolvedKey{}, err
	}

	if accountID == "" {
		accountID, err = r.lookupAccount(ctx, pub)
		if err != nil {
			return ResolvedKey{}, err
		}
	} else if err := r.verifyAccountKey(ctx, accountID, pub); err != nil {
		return ResolvedKey{}, err
	}

	backend := r.backend(opts)
	cred, found, err := r.keys.FindByPublicKey(ctx, backend, pub)
	if err != nil {
		return ResolvedKey{}, err
	}
	if found && cred.Algorithm == alg {
		r.log.Debug("reusing stored credential", zap.String("keyRefId", cred.KeyRefID), zap.String("backend", backend))
	} else {
		cred, err = r.keys.Store(ctx, privateKey, alg, backend, opts.Labels)
		if err != nil {
			return ResolvedKey{}, err
		}
	}
	return ResolvedKey{AccountID: accountID, KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}, nil
}

func (r *Resolver) fromKeyRef(ctx context.Context, keyRefID string, opts Options) (ResolvedKey, error) {
	cred, err := r.keys.Get(ctx, keyRefID)
	if err != nil {
		return ResolvedKey{}, err
	}
	out := ResolvedKey{KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}

	if r.aliases != nil && opts.Network != "" {
		recs, err := r.aliases.ByKeyRef(ctx, keyRefID, opts.Network)
		if err != nil {
			return ResolvedKey{}, err
		}
		for _, rec := range recs {
			if rec.Type == alias.TypeAccount {
				out.AccountID = rec.EntityID
				return out, nil
			}
		}
	}
	out.AccountID, err = r.lookupAccount(ctx, cred.PublicKey)
	return out, err
}

func (r *Resolver) fromAlias(ctx context.Context, name string, opts Options) (ResolvedKey, error) {
	if r.aliases == nil {
		return ResolvedKey{}, errs.NotFound("alias %q not found", name)
	}
	rec, err := r.aliases.Resolve(ctx, name, "", opts.Network)
	if err != nil {
		return ResolvedKey{}, err
	}
	if rec == nil {
		return ResolvedKey{}, errs.WithHint(
			errs.NotFound("alias %q not found on %s", name, opts.Network),
			"list known aliases with 'ledgerctl alias list'",
		)
	}
	if rec.KeyRefID == "" {
		return ResolvedKey{}, errs.State("alias %q has no key attached", name)
	}
	cred, err := r.keys.Get(ctx, rec.KeyRefID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ResolvedKey{}, errs.State("alias %q points at missing key %s", name, rec.KeyRefID)
		}
		return ResolvedKey{}, err
	}
	out := ResolvedKey{KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}
	if rec.Type == alias.TypeAccount {
		out.AccountID = rec.EntityID
	}
	return out, nil
}

// lookupAccount asks the mirror which account holds publicKey. A key no
// account holds resolves without an account.
func (r *Resolver) lookupAccount(ctx context.Context, publicKey string) (string, error) {
	if r.mirror == nil {
		return "", nil
	}
	id, err := r.mirror.AccountByPublicKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			r.log.Debug("no account holds key", zap.String("publicKey", publicKey))
			return "", nil
		}
		return "", errors.Wrap(err, "mirror account lookup")
	}
	return id, nil
}

func (r *Resolver) verifyAccountKey(ctx context.Context, accountID, publicKey string) error {
	if !r.cfg.VerifyAccountKeys || r.mirror == nil {
		return nil
	}
	onChain, err := r.mirror.AccountKey(ctx, accountID)
	if err != nil {
		return errors.Wrapf(err, "fetch key of %s", accountID)
	}
	if !strings.EqualFold(onChain, publicKey) {
		return errs.WithHint(
			errs.Validation("private key does not belong to account %s", accountID),
			"check the account id or disable resolver.verify_account_keys",
		)
	}
	return nil
}
