// cmd/tools/entitlementctl/verify.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/gcp"
	"play-entitlements/internal/models"
	verifypurchase "play-entitlements/internal/workers/billing/verify-purchase"

	"google.golang.org/api/option"
)

func (c *cli) verifyCmd() *cobra.Command {
	var (
		packageName string
		productID   string
		kind        string
		token       string
		ack         bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Ask Google Play for the current state of a purchase token",
		Long: `Verify calls the Play Developer API for one purchase token and prints the
normalized status. Nothing is written to the entitlement store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if packageName == "" {
				packageName = cfg.Billing.PackageName
			}

			svc := verifypurchase.NewService(verifypurchase.ServiceDependencies{
				Clients: c.clientsFor(cfg),
				Logger:  c.logger(),
			}, verifypurchase.ConfigFrom(cfg.Billing))

			ref := models.ProductRef{PackageName: packageName, ProductID: productID, Kind: models.ProductKind(kind)}
			status, err := svc.Verify(cmd.Context(), ref, token)
			if err != nil {
				return err
			}
			if ack && status.Active && !status.Acknowledged {
				if err := svc.Acknowledge(cmd.Context(), ref, token); err != nil {
					return fmt.Errorf("acknowledge: %w", err)
				}
				status.Acknowledged = true
			}
			return c.printJSON(status)
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "Application package name (default: billing.package_name)")
	cmd.Flags().StringVar(&productID, "product", "", "Product or subscription id")
	cmd.Flags().StringVar(&kind, "kind", string(models.ProductKindSubscription), "Product kind: subscription or product")
	cmd.Flags().StringVar(&token, "token", "", "Purchase token")
	cmd.Flags().BoolVar(&ack, "ack", false, "Acknowledge the purchase if it is active and unacknowledged")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func (c *cli) clientsFor(cfg *config.Config) verifypurchase.ClientProvider {
	if c.clients != nil {
		return c.clients
	}
	var opts []option.ClientOption
	if cfg.Billing.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Billing.Endpoint))
	}
	return gcp.NewCredentialProvider(cfg.Billing.Credentials, c.logger(), opts...)
}
