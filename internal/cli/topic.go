package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
)

func newTopicCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Create topics and submit messages",
	}
	cmd.AddCommand(newTopicCreateCmd(a), newTopicSubmitCmd(a))
	return cmd
}

func newTopicCreateCmd(a *app) *cobra.Command {
	var (
		memo      string
		adminKey  string
		submitKey string
		name      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, op, err := a.executor(ctx)
			if err != nil {
				return err
			}
			if err := a.checkAlias(ctx, name); err != nil {
				return err
			}
			admin, err := a.resolveKey(ctx, adminKey, "topic:admin")
			if err != nil {
				return err
			}
			submit, err := a.resolveKey(ctx, submitKey, "topic:submit")
			if err != nil {
				return err
			}

			tx, err := ledger.New(ledger.TopicCreate{Memo: memo, AdminKey: ledgerKey(admin), SubmitKey: ledgerKey(submit)})
			if err != nil {
				return err
			}
			stop := a.out.Spin("Creating topic...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op, admin))
			stop()
			if err != nil {
				return err
			}
			if res.Success {
				if err := a.registerAlias(ctx, name, alias.TypeTopic, res.TopicID, submit); err != nil {
					return err
				}
			}
			return a.out.Result("Topic created", res, map[string]string{"alias": name})
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "topic memo")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin key reference")
	cmd.Flags().StringVar(&submitKey, "submit-key", "", "key reference required to submit messages")
	cmd.Flags().StringVar(&name, "alias", "", "register an alias for the topic")
	return cmd
}

func newTopicSubmitCmd(a *app) *cobra.Command {
	var submitKey string
	cmd := &cobra.Command{
		Use:   "submit <topicId | alias> <message>",
		Short: "Submit a message to a topic",
		Long: `Submit a message to a topic.

For topics created with an alias and a submit key, the submit key recorded
on the alias is used unless --submit-key is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exec, op, err := a.executor(ctx)
			if err != nil {
				return err
			}
			topicID, err := a.entityID(ctx, args[0], alias.TypeTopic)
			if err != nil {
				return err
			}
			if submitKey == "" && !ledger.IsEntityID(args[0]) {
				if rec, err := a.aliases.Resolve(ctx, args[0], alias.TypeTopic, a.cfg.Network); err == nil && rec != nil {
					submitKey = rec.KeyRefID
				}
			}
			submit, err := a.resolveKey(ctx, submitKey)
			if err != nil {
				return err
			}

			tx, err := ledger.New(ledger.TopicMessage{TopicID: topicID, Message: []byte(args[1])})
			if err != nil {
				return err
			}
			stop := a.out.Spin("Submitting message...")
			res, err := exec.SignAndExecuteWith(ctx, tx, signers(op, submit))
			stop()
			if err != nil {
				return err
			}
			extra := map[string]string{"topic": topicID}
			if res.Receipt != nil && res.Receipt.TopicSequenceNumber > 0 {
				extra["sequence"] = strconv.FormatUint(res.Receipt.TopicSequenceNumber, 10)
			}
			return a.out.Result("Message submitted", res, extra)
		},
	}
	cmd.Flags().StringVar(&submitKey, "submit-key", "", "submit key reference")
	return cmd
}
