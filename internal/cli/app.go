package cli

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/config"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/execute"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/logging"
	"github.com/xueqianLu/ledgerctl/internal/mirror"
	"github.com/xueqianLu/ledgerctl/internal/resolve"
	"github.com/xueqianLu/ledgerctl/internal/signer"
	"github.com/xueqianLu/ledgerctl/internal/store/sqlite"
	"github.com/xueqianLu/ledgerctl/pkg/client"
)

type globalOptions struct {
	configPath string
	network    string
	verbose    bool
	debug      bool
	json       bool
}

// app holds the components one command invocation works with. They are
// built on first use and closed when the command returns.
type app struct {
	opts globalOptions

	cfg      *config.Config
	network  config.NetworkConfig
	log      *zap.Logger
	out      *printer
	db       *sqlite.DB
	keys     *signer.KeyManager
	aliases  alias.Directory
	mirror   *mirror.Client
	resolver *resolve.Resolver
	exec     *execute.Executor
}

// load reads the configuration and sets up logging. It does not touch any
// store, so it is cheap enough to run before every command.
func (a *app) load() error {
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}
	if a.opts.network != "" {
		cfg.Network = a.opts.network
	}
	network, err := cfg.ActiveNetwork()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: a.opts.verbose,
		Debug:   a.opts.debug,
	})
	if err != nil {
		return errs.Validation("%v", err)
	}
	a.cfg, a.network, a.log = cfg, network, log
	a.log.Debug("configuration loaded",
		zap.String("file", cfg.File),
		zap.String("network", cfg.Network),
		zap.String("defaultBackend", cfg.KeyManager.DefaultBackend),
		zap.String("state", cfg.State.Driver),
	)
	return nil
}

// open wires the key manager, the alias directory, the mirror client and the
// resolver.
func (a *app) open(ctx context.Context) error {
	if a.resolver != nil {
		return nil
	}
	backends, err := a.backends(ctx)
	if err != nil {
		return err
	}

	var index signer.Index
	switch a.cfg.State.Driver {
	case "sqlite":
		db, err := sqlite.Open(a.cfg.State.Path)
		if err != nil {
			return errors.Wrapf(err, "open state database %s", a.cfg.State.Path)
		}
		a.db = db
		index = sqlite.NewCredentialRepo(db)
		a.aliases = sqlite.NewAliasRepo(db)
	default:
		index = signer.NewMemoryIndex()
		a.aliases = alias.NewMemory()
	}

	a.keys, err = signer.NewKeyManager(index, a.log, backends...)
	if err != nil {
		return err
	}
	if rc, ok := a.aliases.(signer.ReferenceChecker); ok {
		a.keys.SetReferenceChecker(rc)
	}

	var m resolve.Mirror
	if a.network.MirrorURL != "" {
		a.mirror, err = mirror.New(a.network.MirrorURL, mirror.Options{
			RatePerSecond: a.cfg.Mirror.RatePerSecond,
			Burst:         a.cfg.Mirror.Burst,
			Timeout:       a.cfg.Mirror.Timeout,
			Logger:        a.log,
		})
		if err != nil {
			return err
		}
		m = a.mirror
	}

	operators := make(map[string]resolve.Operator, len(a.cfg.Networks))
	for name, n := range a.cfg.Networks {
		operators[name] = resolve.Operator{
			AccountID:  n.Operator.AccountID,
			KeyRefID:   n.Operator.KeyRefID,
			PrivateKey: n.Operator.PrivateKey,
		}
	}
	a.resolver = resolve.New(a.keys, a.aliases, m, resolve.Config{
		DefaultBackend:    a.cfg.KeyManager.DefaultBackend,
		DefaultAlgorithm:  signer.Algorithm(a.cfg.Resolver.DefaultAlgorithm),
		VerifyAccountKeys: a.cfg.Resolver.VerifyAccountKeys,
		Operators:         operators,
	}, a.log)
	return nil
}

func (a *app) backends(ctx context.Context) ([]signer.Backend, error) {
	km := a.cfg.KeyManager
	local, err := signer.NewLocalBackend(km.Local.KeyDir, a.log)
	if err != nil {
		return nil, err
	}
	out := []signer.Backend{local}

	if km.LocalEncrypted.Passphrase != "" {
		enc, err := signer.NewEncryptedBackend(km.LocalEncrypted.KeyDir, km.LocalEncrypted.Passphrase, km.LocalEncrypted.LightKDF, a.log)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}

	if km.Vault.Address != "" {
		vaultConfig := api.DefaultConfig()
		if err := vaultConfig.ReadEnvironment(); err != nil {
			a.log.Warn("could not read Vault environment variables", zap.Error(err))
		}
		vaultConfig.Address = km.Vault.Address
		vaultClient, err := api.NewClient(vaultConfig)
		if err != nil {
			return nil, errors.Wrap(err, "create vault client")
		}
		if km.Vault.Token != "" {
			vaultClient.SetToken(km.Vault.Token)
		}
		vb, err := signer.NewVaultBackend(ctx, vaultClient, km.Vault.Mount, km.Vault.Prefix, km.Vault.AutoMount, a.log)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
	}
	return out, nil
}

// executor resolves the network operator and builds the executor.
func (a *app) executor(ctx context.Context) (*execute.Executor, resolve.ResolvedKey, error) {
	if err := a.open(ctx); err != nil {
		return nil, resolve.ResolvedKey{}, err
	}
	op, err := a.resolver.GetOrInitKeyWithFallback(ctx, "", a.resolveOpts(nil))
	if err != nil {
		return nil, resolve.ResolvedKey{}, err
	}
	if a.exec == nil {
		a.exec, err = execute.New(execute.Config{
			Network:       client.NewClient(a.network.GatewayURL, a.network.APIKey, a.network.APISecret),
			Keys:          a.keys,
			Operator:      execute.Operator{AccountID: op.AccountID, KeyRefID: op.KeyRefID},
			NodeAccountID: a.network.NodeAccountID,
			Policy:        a.cfg.Execution.Policy(),
			Logger:        a.log,
		})
		if err != nil {
			return nil, resolve.ResolvedKey{}, err
		}
	}
	return a.exec, op, nil
}

func (a *app) resolveOpts(labels []string) resolve.Options {
	return resolve.Options{Network: a.cfg.Network, Labels: labels}
}

// resolveKey resolves an optional key flag. An empty input yields nil.
func (a *app) resolveKey(ctx context.Context, input string, labels ...string) (*resolve.ResolvedKey, error) {
	if input == "" {
		return nil, nil
	}
	k, err := a.resolver.GetOrInitKey(ctx, input, a.resolveOpts(labels))
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// entityID accepts an entity id or an alias of type typ.
func (a *app) entityID(ctx context.Context, input string, typ alias.Type) (string, error) {
	if ledger.IsEntityID(input) {
		return input, nil
	}
	if !alias.IsValidName(input) {
		return "", errs.Validation("%q is neither a %s id nor an alias", input, typ)
	}
	rec, err := a.aliases.Resolve(ctx, input, typ, a.cfg.Network)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", errs.WithHint(
			errs.NotFound("%s alias %q not found on %s", typ, input, a.cfg.Network),
			"list known aliases with 'ledgerctl alias list'",
		)
	}
	return rec.EntityID, nil
}

// registerAlias records name for an entity created or imported by a command.
func (a *app) registerAlias(ctx context.Context, name string, typ alias.Type, entityID string, key *resolve.ResolvedKey) error {
	if name == "" {
		return nil
	}
	rec := alias.Record{Alias: name, Type: typ, Network: a.cfg.Network, EntityID: entityID}
	if key != nil {
		rec.KeyRefID = key.KeyRefID
		rec.PublicKey = key.PublicKey
	}
	return a.aliases.Register(ctx, rec)
}

// checkAlias fails early when name is malformed or taken.
func (a *app) checkAlias(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if !alias.IsValidName(name) {
		return errs.Validation("invalid alias %q", name)
	}
	return a.aliases.AvailableOrThrow(ctx, name, a.cfg.Network)
}

// signers lists the operator key followed by the extra keys, each once.
func signers(op resolve.ResolvedKey, extra ...*resolve.ResolvedKey) []string {
	refs := []string{op.KeyRefID}
	seen := map[string]bool{op.KeyRefID: true}
	for _, k := range extra {
		if k == nil || seen[k.KeyRefID] {
			continue
		}
		seen[k.KeyRefID] = true
		refs = append(refs, k.KeyRefID)
	}
	return refs
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close state database", zap.Error(err))
		}
		a.db = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
