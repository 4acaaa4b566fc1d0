// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/naka-gawa/year-review/internal/config"
	"github.com/naka-gawa/year-review/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "year-review",
	Short: "A CLI tool to build a year in review from your work accounts.",
	Long: `year-review aggregates one person's yearly activity across GitHub,
Google (Gmail and Calendar), Slack and Linear into a single report.
Each provider is fetched independently: a provider that cannot be reached
is reported as unavailable instead of failing the whole review.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ./.year-review.yaml or $HOME/.year-review.yaml)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("storage", "sqlite", "Credential storage backend: memory, sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", config.DefaultSQLite, "Credential storage DSN")

	bindFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	bindFlag("storage.backend", rootCmd.PersistentFlags().Lookup("storage"))
	bindFlag("storage.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

// setup loads and validates the configuration and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log = logger.New(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}
