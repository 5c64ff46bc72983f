// cmd/tools/entitlementctl/reconcile.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"play-entitlements/internal/app"
	"play-entitlements/internal/common/errors"
	"play-entitlements/internal/models"
	ingestnotification "play-entitlements/internal/workers/billing/ingest-notification"
)

func (c *cli) reconcileCmd() *cobra.Command {
	var (
		tokens      []string
		packageName string
		productID   string
		kind        string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-verify stored purchase tokens and rewrite their owners' entitlements",
		Long: `Reconcile runs the notification re-verification path for each token without a
bus message: look up the owner, verify with Google Play, rewrite the entitlement.
Use it to backfill after an outage or to repair a single user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			engine, err := app.Build(cmd.Context(), cfg, c.logger(), nil, app.Options{
				Clients:         c.clients,
				SkipCallerAuth:  true,
				ConnectAttempts: 3,
			})
			if err != nil {
				return err
			}
			defer engine.Close()

			hint := models.ProductRef{PackageName: packageName, ProductID: productID, Kind: models.ProductKind(kind)}
			failed := 0
			for _, token := range tokens {
				res, err := engine.Ingester.Reverify(cmd.Context(), token, hint)
				if err != nil {
					failed++
					res = &ingestnotification.Result{Outcome: "error", Token: token}
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", token, errors.AsStandardError(err).Error())
				}
				if err := c.printJSON(res); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tokens failed", failed, len(tokens))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tokens, "token", nil, "Purchase token (repeatable)")
	cmd.Flags().StringVar(&packageName, "package", "", "Package name used when the stored mapping lacks one")
	cmd.Flags().StringVar(&productID, "product", "", "Product id used when the stored mapping lacks one")
	cmd.Flags().StringVar(&kind, "kind", "", "Product kind used when the stored mapping lacks one")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}
