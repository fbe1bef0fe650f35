package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/middleware"
	"github.com/xueqianLu/ledgerctl/internal/resolve"
	"github.com/xueqianLu/ledgerctl/internal/server"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

const labelDevnetTreasury = "devnet:treasury"

func newDevnetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run a local in-memory ledger for development",
	}
	cmd.AddCommand(newDevnetServeCmd(a))
	return cmd
}

// treasuryKey returns the operator key of the active network, or a stored
// devnet treasury key, generating one on first use.
func (a *app) treasuryKey(ctx context.Context) (resolve.ResolvedKey, bool, error) {
	op, err := a.resolver.GetOrInitKeyWithFallback(ctx, "", a.resolveOpts(nil))
	if err == nil {
		return op, false, nil
	}
	if !errors.Is(err, errs.ErrState) {
		return resolve.ResolvedKey{}, false, err
	}

	creds, err := a.keys.List(ctx, signer.ListFilter{Label: labelDevnetTreasury})
	if err != nil {
		return resolve.ResolvedKey{}, false, err
	}
	var cred signer.Credential
	generated := len(creds) == 0
	if generated {
		cred, err = a.keys.Generate(ctx, signer.AlgED25519, a.cfg.KeyManager.DefaultBackend, []string{labelDevnetTreasury})
		if err != nil {
			return resolve.ResolvedKey{}, false, err
		}
	} else {
		cred = creds[0]
	}
	return resolve.ResolvedKey{KeyRefID: cred.KeyRefID, PublicKey: cred.PublicKey, Algorithm: cred.Algorithm}, generated, nil
}

func newDevnetServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway and mirror APIs of an in-memory ledger",
		Long: `Serve the gateway and mirror APIs of an in-memory ledger.

The treasury account is funded at start and owned by the operator key of
the active network. When no operator key is configured, a treasury key is
generated once and reused; configure it as the operator to pay from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.open(ctx); err != nil {
				return err
			}
			key, generated, err := a.treasuryKey(ctx)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.cfg.Devnet.Listen
			}

			d := a.cfg.Devnet
			l := devnet.New(devnet.Config{
				NodeAccountID:   a.network.NodeAccountID,
				TreasuryAccount: d.TreasuryAccount,
				TreasuryKey:     *key.LedgerKey(),
				InitialBalance:  d.InitialBalance,
			}, a.log)
			auth := middleware.NewAuthMiddleware(d.APIKey, d.APISecret, a.log)
			srv := server.NewServer(server.Routes(l, auth), listen)

			if !a.out.json {
				a.out.Successf("Devnet listening on %s", highlight("http://"+listen))
				a.out.Field("treasury", d.TreasuryAccount)
				a.out.Field("treasury key", key.KeyRefID)
				if generated {
					a.out.Field("hint", "set networks."+a.cfg.Network+".operator.key_ref_id to "+key.KeyRefID)
				}
			} else if err := a.out.JSON(map[string]string{
				"listen":      listen,
				"treasury":    d.TreasuryAccount,
				"treasuryKey": key.KeyRefID,
			}); err != nil {
				return err
			}
			a.log.Info("devnet starting", zap.String("listen", listen), zap.String("treasury", d.TreasuryAccount))
			return server.Run(ctx, srv, a.log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default devnet.listen)")
	return cmd
}

