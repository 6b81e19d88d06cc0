package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quantumtrader/internal/config"
	"quantumtrader/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

var (
	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "trader",
	Short:         "Spot position manager: signals, sizing, exits and reconciliation against the exchange",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetString("config"))
		if err != nil {
			return err
		}
		if lvl := viper.GetString("log_level"); lvl != "" {
			loaded.App.LogLevel = lvl
		}
		if db := viper.GetString("db"); db != "" {
			loaded.Storage.Path = db
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		log = util.NewLogger(cfg.App.LogLevel, cfg.App.PrettyLogs).With().Str("app", cfg.App.Name).Logger()
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", defaultConfigPath, "path to the YAML config")
	flags.String("log-level", "", "override app.log_level")
	flags.String("db", "", "override storage.path")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("db", flags.Lookup("db"))

	viper.SetEnvPrefix("QT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
