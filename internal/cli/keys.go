package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/resolve"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

func newKeysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored credentials",
	}
	cmd.AddCommand(
		newKeysListCmd(a),
		newKeysImportCmd(a),
		newKeysGenerateCmd(a),
		newKeysPublicKeyCmd(a),
		newKeysRemoveCmd(a),
	)
	return cmd
}

func (a *app) printCredentials(creds []signer.Credential) error {
	if a.out.json {
		if creds == nil {
			creds = []signer.Credential{}
		}
		return a.out.JSON(creds)
	}
	rows := make([][]string, 0, len(creds))
	for _, c := range creds {
		rows = append(rows, []string{
			c.KeyRefID,
			string(c.Algorithm),
			c.Backend,
			c.PublicKey,
			strings.Join(c.Labels, ","),
			c.CreatedAt.Local().Format(time.DateTime),
		})
	}
	a.out.Table([]string{"KEY REF", "ALGORITHM", "BACKEND", "PUBLIC KEY", "LABELS", "CREATED"}, rows)
	return nil
}

func newKeysListCmd(a *app) *cobra.Command {
	var filter signer.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (metadata only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			creds, err := a.keys.List(ctx, filter)
			if err != nil {
				return err
			}
			return a.printCredentials(creds)
		},
	}
	cmd.Flags().StringVar(&filter.Backend, "backend", "", "only keys held by this backend")
	cmd.Flags().StringVar(&filter.Label, "label", "", "only keys carrying this label, e.g. token:supply")
	return cmd
}

func newKeysImportCmd(a *app) *cobra.Command {
	var (
		backend   string
		algorithm string
		labels    []string
		name      string
	)
	cmd := &cobra.Command{
		Use:   "import <accountId:privateKey | privateKey>",
		Short: "Import a private key into a backend",
		Long: `Import a private key into a backend and print its keyRefId.

The account is taken from the accountId: prefix, or looked up on the mirror
by the derived public key. Importing the same key twice into the same
backend returns the existing keyRefId.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.checkAlias(ctx, name); err != nil {
				return err
			}
			if !signer.LooksLikePrivateKey(args[0]) && !strings.Contains(args[0], ":") {
				return errs.WithHint(
					errs.Validation("keys import expects a private key"),
					"use 'ledgerctl account import' to name an existing key reference",
				)
			}
			opts := a.resolveOpts(labels)
			opts.Backend = backend
			if algorithm != "" {
				alg, err := signer.ParseAlgorithm(algorithm)
				if err != nil {
					return err
				}
				opts.Algorithm = alg
			}
			key, err := a.resolver.GetOrInitKey(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if name != "" {
				typ, entity := alias.TypeKey, ""
				if key.AccountID != "" {
					typ, entity = alias.TypeAccount, key.AccountID
				}
				if err := a.registerAlias(ctx, name, typ, entity, &key); err != nil {
					return err
				}
			}
			return a.printResolved("Imported key", key, name)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "backend to store the key in (default from config)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "key algorithm: ECDSA or ED25519 (default from config or DER prefix)")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "label to attach to the credential (repeatable)")
	cmd.Flags().StringVar(&name, "alias", "", "register an alias for the key")
	return cmd
}

func (a *app) printResolved(what string, key resolve.ResolvedKey, name string) error {
	if a.out.json {
		return a.out.JSON(struct {
			resolve.ResolvedKey
			Alias string `json:"alias,omitempty"`
		}{key, name})
	}
	a.out.Successf("%s %s", what, highlight(key.KeyRefID))
	a.out.Field("algorithm", string(key.Algorithm))
	a.out.Field("public key", key.PublicKey)
	a.out.Field("account", key.AccountID)
	a.out.Field("alias", name)
	return nil
}

func newKeysGenerateCmd(a *app) *cobra.Command {
	var (
		backend   string
		algorithm string
		labels    []string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key in a backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if algorithm == "" {
				algorithm = a.cfg.Resolver.DefaultAlgorithm
			}
			alg, err := signer.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			if backend == "" {
				backend = a.cfg.KeyManager.DefaultBackend
			}
			cred, err := a.keys.Generate(ctx, alg, backend, labels)
			if err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(cred)
			}
			a.out.Successf("Generated key %s", highlight(cred.KeyRefID))
			a.out.Field("algorithm", string(cred.Algorithm))
			a.out.Field("backend", cred.Backend)
			a.out.Field("public key", cred.PublicKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "backend to store the key in (default from config)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "key algorithm: ECDSA or ED25519")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "label to attach to the credential (repeatable)")
	return cmd
}

func newKeysPublicKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "public-key <keyRefId>",
		Short: "Print the public key of a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			pub, err := a.keys.PublicKey(ctx, args[0])
			if err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(map[string]string{"keyRefId": args[0], "publicKey": pub})
			}
			_, err = cmd.OutOrStdout().Write([]byte(pub + "\n"))
			return err
		},
	}
}

func newKeysRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <keyRefId>",
		Short: "Delete a stored credential and its secret",
		Long: `Delete a stored credential and its secret.

Keys that an alias still references are refused; remove the alias first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.keys.Remove(ctx, args[0]); err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(map[string]string{"removed": args[0]})
			}
			a.out.Successf("Removed key %s", highlight(args[0]))
			return nil
		},
	}
}
