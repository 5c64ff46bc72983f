// cmd/tools/entitlementctl/catalog.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"play-entitlements/pkg/registry"
)

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the product catalog",
	}
	cmd.AddCommand(c.catalogValidateCmd())
	cmd.AddCommand(c.catalogListCmd())
	return cmd
}

func (c *cli) catalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a catalog file for missing ids, unknown kinds and duplicates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.catalogPath(args)
			if err != nil {
				return err
			}
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(c.out, "%s: %d products, version %s\n", path, reg.Len(), reg.Version)
			return nil
		},
	}
}

func (c *cli) catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [path]",
		Short: "List catalog products",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.catalogPath(args)
			if err != nil {
				return err
			}
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPACKAGE\tNAME")
			for _, p := range reg.Products {
				pkg := p.PackageName
				if pkg == "" {
					pkg = reg.PackageName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, pkg, p.DisplayName)
			}
			return w.Flush()
		},
	}
}

// catalogPath prefers the argument, then billing.catalog_path from config.
func (c *cli) catalogPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := c.loadConfig(c.configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Billing.CatalogPath == "" {
		return "", fmt.Errorf("no catalog path given and billing.catalog_path is empty")
	}
	return cfg.Billing.CatalogPath, nil
}
