package cli

import (
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/resolve"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage tokens",
	}
	cmd.AddCommand(newTokenCreateCmd(a))
	return cmd
}

func newTokenCreateCmd(a *app) *cobra.Command {
	var (
		body      ledger.TokenCreate
		treasury  string
		adminKey  string
		supplyKey string
		name      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a fungible token",
		Long: `Create a fungible token.

The initial supply is credited to the treasury account (default: operator).
The treasury and the admin key sign the transaction; the supply key is
only recorded on the token.`,
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

			treasuryKey := &op
			if treasury != "" {
				if treasuryKey, err = a.resolveKey(ctx, treasury, "token:treasury"); err != nil {
					return err
				}
				if err := treasuryKey.RequireAccount(); err != nil {
					return err
				}
			}
			admin, err := a.resolveKey(ctx, adminKey, "token:admin")
			if err != nil {
				return err
			}
			supply, err := a.resolveKey(ctx, supplyKey, "token:supply")
			if err != nil {
				return err
			}

			body.Treasury = treasuryKey.AccountID
			body.AdminKey = ledgerKey(admin)
			body.SupplyKey = ledgerKey(supply)
			tx, err := ledger.New(body)
			if err != nil {
				return err
			}
			stop := a.out.Spin("Creating token...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op, treasuryKey, admin))
			stop()
			if err != nil {
				return err
			}
			if res.Success {
				if err := a.registerAlias(ctx, name, alias.TypeToken, res.TokenID, admin); err != nil {
					return err
				}
			}
			return a.out.Result("Token created", res, map[string]string{"treasury": body.Treasury, "alias": name})
		},
	}
	cmd.Flags().StringVar(&body.Name, "name", "", "token name")
	cmd.Flags().StringVar(&body.Symbol, "symbol", "", "token symbol")
	cmd.Flags().Uint32Var(&body.Decimals, "decimals", 0, "decimal places")
	cmd.Flags().Uint64Var(&body.InitialSupply, "supply", 0, "initial supply credited to the treasury")
	cmd.Flags().StringVar(&treasury, "treasury", "", "treasury account as a key reference (default: operator)")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin key reference")
	cmd.Flags().StringVar(&supplyKey, "supply-key", "", "supply key reference")
	cmd.Flags().StringVar(&name, "alias", "", "register an alias for the token")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func ledgerKey(k *resolve.ResolvedKey) *ledger.Key {
	if k == nil {
		return nil
	}
	return k.LedgerKey()
}
