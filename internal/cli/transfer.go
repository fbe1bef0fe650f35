package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
)

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

func newTransferCmd(a *app) *cobra.Command {
	var (
		from   string
		to     string
		amount int64
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer balance between accounts",
		Long: `Transfer balance between accounts.

The operator pays the fee. When --from names another account, the
transaction is signed by the operator and by the sender, in that order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if amount <= 0 {
				return errs.Validation("--amount must be positive")
			}
			exec, op, err := a.executor(ctx)
			if err != nil {
				return err
			}
			receiver, err := a.entityID(ctx, to, alias.TypeAccount)
			if err != nil {
				return err
			}

			sender := &op
			if from != "" {
				if sender, err = a.resolveKey(ctx, from); err != nil {
					return err
				}
				if err := sender.RequireAccount(); err != nil {
					return err
				}
			}
			if sender.AccountID == receiver {
				return errs.Validation("cannot transfer from %s to itself", receiver)
			}

			tx, err := ledger.New(ledger.NewTransfer(sender.AccountID, receiver, amount))
			if err != nil {
				return err
			}
			stop := a.out.Spin("Transferring...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op, sender))
			stop()
			if err != nil {
				return err
			}
			return a.out.Result("Transfer", res, map[string]string{
				"from":   sender.AccountID,
				"to":     receiver,
				"amount": formatAmount(amount),
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sending account as a key reference (default: operator)")
	cmd.Flags().StringVar(&to, "to", "", "receiving account id or alias")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount to transfer")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
