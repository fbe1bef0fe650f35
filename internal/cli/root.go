// Package cli implements the ledgerctl command tree.
package cli

import (
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the ledgerctl command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Manage keys, accounts, tokens, topics and contracts on a ledger network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = &printer{
				out:     cmd.OutOrStdout(),
				json:    a.opts.json,
				spinner: !a.opts.verbose && !a.opts.debug && !color.NoColor,
			}
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "config file (default ./ledgerctl.yaml or ~/.ledgerctl/ledgerctl.yaml)")
	flags.StringVarP(&a.opts.network, "network", "n", "", "network to use (overrides the config file)")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&a.opts.debug, "debug", "d", false, "enable debug output")
	flags.BoolVar(&a.opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newKeysCmd(a),
		newAliasCmd(a),
		newAccountCmd(a),
		newTransferCmd(a),
		newTokenCmd(a),
		newTopicCmd(a),
		newContractCmd(a),
		newDevnetCmd(a),
	)
	return root, a
}

// Execute runs ledgerctl with args, writing results to out.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	root, a := newRoot()
	defer a.close()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}
