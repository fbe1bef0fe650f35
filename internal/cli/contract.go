package cli

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
)

func newContractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Deploy smart contracts",
	}
	cmd.AddCommand(newContractCreateCmd(a))
	return cmd
}

// readBytecode reads a hex encoded bytecode file, with or without 0x.
func readBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Validation("read bytecode file: %v", err)
	}
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, "0x") && !strings.HasPrefix(text, "0X") {
		text = "0x" + text
	}
	code, err := hexutil.Decode(text)
	if err != nil {
		return nil, errs.Validation("bytecode file %s is not hex: %v", path, err)
	}
	return code, nil
}

func newContractCreateCmd(a *app) *cobra.Command {
	var (
		bytecodeFile string
		adminKey     string
		gas          uint64
		balance      uint64
		name         string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Deploy a contract from a bytecode file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			code, err := readBytecode(bytecodeFile)
			if err != nil {
				return err
			}
			exec, op, err := a.executor(ctx)
			if err != nil {
				return err
			}
			if err := a.checkAlias(ctx, name); err != nil {
				return err
			}
			admin, err := a.resolveKey(ctx, adminKey, "contract:admin")
			if err != nil {
				return err
			}

			tx, err := ledger.New(ledger.ContractCreate{
				Bytecode:       code,
				Gas:            gas,
				InitialBalance: balance,
				AdminKey:       ledgerKey(admin),
			})
			if err != nil {
				return err
			}
			stop := a.out.Spin("Deploying contract...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op, admin))
			stop()
			if err != nil {
				return err
			}
			if res.Success {
				if err := a.registerAlias(ctx, name, alias.TypeContract, res.ContractID, admin); err != nil {
					return err
				}
			}
			return a.out.Result("Contract created", res, map[string]string{"alias": name})
		},
	}
	cmd.Flags().StringVar(&bytecodeFile, "bytecode-file", "", "file holding the hex encoded contract bytecode")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin key reference")
	cmd.Flags().Uint64Var(&gas, "gas", 100_000, "gas limit for the constructor")
	cmd.Flags().Uint64Var(&balance, "balance", 0, "initial contract balance")
	cmd.Flags().StringVar(&name, "alias", "", "register an alias for the contract")
	_ = cmd.MarkFlagRequired("bytecode-file")
	return cmd
}
