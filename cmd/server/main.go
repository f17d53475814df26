package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kycgate/internal/platform/config"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "kycgate",
	Short: "KYC verification gateway",
	Long: `kycgate brokers identity verification between client applications and an
external KYC provider: it tracks multi-step verifications in a correlation
cache, records outcomes in a durable ledger and reconciles provider webhooks.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file; missing is fine")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func loadOptions() []config.Option {
	opts := []config.Option{config.WithEnvFile(envFile)}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	return opts
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
