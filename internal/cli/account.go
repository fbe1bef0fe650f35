package cli

import (
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/resolve"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

const labelAccountKey = "account:key"

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create, import and inspect accounts",
	}
	cmd.AddCommand(newAccountCreateCmd(a), newAccountImportCmd(a), newAccountViewCmd(a))
	return cmd
}

func newAccountCreateCmd(a *app) *cobra.Command {
	var (
		keyInput  string
		algorithm string
		name      string
		memo      string
		balance   uint64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account paid for by the operator",
		Long: `Create an account paid for by the operator.

Without --key a new key is generated in the default backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, op, err := a.executor(ctx)
			if err != nil {
				return err
			}
			if err := a.checkAlias(ctx, name); err != nil {
				return err
			}

			key, err := a.resolveKey(ctx, keyInput, labelAccountKey)
			if err != nil {
				return err
			}
			if key == nil {
				if algorithm == "" {
					algorithm = a.cfg.Resolver.DefaultAlgorithm
				}
				alg, err := signer.ParseAlgorithm(algorithm)
				if err != nil {
					return err
				}
				cred, err := a.keys.Generate(ctx, alg, a.cfg.KeyManager.DefaultBackend, []string{labelAccountKey})
				if err != nil {
					return err
				}
				key = &resolve.ResolvedKey{KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}
			}

			tx, err := ledger.New(ledger.AccountCreate{Key: *key.LedgerKey(), InitialBalance: balance, Memo: memo})
			if err != nil {
				return err
			}
			stop := a.out.Spin("Creating account...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op))
			stop()
			if err != nil {
				return err
			}
			if res.Success {
				if err := a.registerAlias(ctx, name, alias.TypeAccount, res.AccountID, key); err != nil {
					return err
				}
			}
			return a.out.Result("Account created", res, map[string]string{"keyRefId": key.KeyRefID, "alias": name})
		},
	}
	cmd.Flags().StringVar(&keyInput, "key", "", "key for the account: private key, keyRefId or alias (default: generate one)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "algorithm of the generated key")
	cmd.Flags().StringVar(&name, "alias", "", "register an alias for the new account")
	cmd.Flags().StringVar(&memo, "memo", "", "account memo")
	cmd.Flags().Uint64Var(&balance, "balance", 0, "initial balance transferred from the operator")
	return cmd
}

func newAccountImportCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <accountId:privateKey | privateKey | keyRefId>",
		Short: "Name an existing account so other commands can refer to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if name == "" {
				return errs.Validation("--alias is required")
			}
			if err := a.checkAlias(ctx, name); err != nil {
				return err
			}
			key, err := a.resolver.GetOrInitKey(ctx, args[0], a.resolveOpts([]string{labelAccountKey}))
			if err != nil {
				return err
			}
			if err := key.RequireAccount(); err != nil {
				return err
			}
			if err := a.registerAlias(ctx, name, alias.TypeAccount, key.AccountID, &key); err != nil {
				return err
			}
			return a.printResolved("Imported account "+key.AccountID+" with key", key, name)
		},
	}
	cmd.Flags().StringVar(&name, "alias", "", "alias to register for the account")
	return cmd
}

func newAccountViewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view <accountId | alias>",
		Short: "Show an account as the mirror reports it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if a.mirror == nil {
				return errs.WithHint(
					errs.State("no mirror configured for network %q", a.cfg.Network),
					"set networks."+a.cfg.Network+".mirror_url",
				)
			}
			id, err := a.entityID(ctx, args[0], alias.TypeAccount)
			if err != nil {
				return err
			}
			acc, err := a.mirror.Account(ctx, id)
			if err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(acc)
			}
			a.out.Successf("Account %s", highlight(acc.Account))
			a.out.Field("balance", formatAmount(acc.Balance.Balance))
			if acc.Key != nil {
				a.out.Field("key", acc.Key.Type+" "+acc.Key.Key)
			}
			a.out.Field("memo", acc.Memo)
			return nil
		},
	}
}
