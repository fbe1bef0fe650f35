package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
)

func newAliasCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage aliases of the active network",
	}
	cmd.AddCommand(newAliasListCmd(a), newAliasRemoveCmd(a))
	return cmd
}

func newAliasListCmd(a *app) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			filter := alias.Filter{Network: a.cfg.Network}
			if typ != "" {
				t, err := alias.ParseType(typ)
				if err != nil {
					return err
				}
				filter.Type = t
			}
			recs, err := a.aliases.List(ctx, filter)
			if err != nil {
				return err
			}
			if a.out.json {
				if recs == nil {
					recs = []alias.Record{}
				}
				return a.out.JSON(recs)
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{r.Alias, string(r.Type), r.EntityID, r.KeyRefID, r.CreatedAt.Local().Format(time.DateTime)})
			}
			a.out.Table([]string{"ALIAS", "TYPE", "ENTITY", "KEY REF", "CREATED"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only aliases of this type: account, token, topic, contract or key")
	return cmd
}

func newAliasRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove an alias; the key it references is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.aliases.Remove(ctx, args[0], a.cfg.Network); err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(map[string]string{"removed": args[0]})
			}
			a.out.Successf("Removed alias %s", highlight(args[0]))
			return nil
		},
	}
}
