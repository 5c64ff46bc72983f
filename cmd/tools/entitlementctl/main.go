// cmd/tools/entitlementctl/main.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"play-entitlements/internal/common/config"
	"play-entitlements/internal/common/logger"
	verifypurchase "play-entitlements/internal/workers/billing/verify-purchase"
)

var Version = "dev"

// cli carries what every subcommand shares. clients overrides the
// configured credential source.
type cli struct {
	out        io.Writer
	configPath string
	logLevel   string
	clients    verifypurchase.ClientProvider
	loadConfig func(path string) (*config.Config, error)
}

func main() {
	c := &cli{out: os.Stdout, loadConfig: loadConfig}
	if err := c.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "entitlementctl",
		Short:         "Operate the Play entitlement engine from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(c.out)

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default: configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(c.verifyCmd())
	rootCmd.AddCommand(c.reconcileCmd())
	rootCmd.AddCommand(c.catalogCmd())
	return rootCmd
}

func (c *cli) logger() logger.Logger {
	return logger.NewStructured(c.logLevel, "console")
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
