package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FundGuard/internal/domain/models"
	"FundGuard/pkg/config"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "riskctl",
		Short:         "Offline fault index, slashing and investor state calculations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults when empty)")

	rootCmd.AddCommand(fiCmd())
	rootCmd.AddCommand(ratioCmd())
	rootCmd.AddCommand(slashCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRiskConfig builds version 1 of the governance config from the config
// file, or from defaults when no file is given.
func loadRiskConfig() (models.RiskConfig, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.Parse([]byte("{}"))
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return models.RiskConfig{}, err
	}
	params, err := cfg.RiskParams()
	if err != nil {
		return models.RiskConfig{}, err
	}
	return models.NewRiskConfig(1, params)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective risk config",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRiskConfig()
			if err != nil {
				return err
			}
			return printJSON(cmd, rc)
		},
	}
}
