package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"snowpulse/internal/config"
	"snowpulse/internal/ui"
	"snowpulse/pkg/models"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "snowpulse",
		Short: "Data-quality checks and market alerts for Snowflake",
		Long: `snowpulse evaluates data-quality checks over a Snowflake market-data
warehouse, records every result in an audit log and raises deduplicated
alerts for quality failures and notable market conditions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.ShowError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.snowpulse/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "override logging.format (json, text)")
}

// flagBindings maps persistent flags onto config keys
var flagBindings = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfig reads .env, the config file, SNOWPULSE_* env overrides and
// the command's flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	v := config.NewViper(cfgFile)
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.LoadViper(v)
}
