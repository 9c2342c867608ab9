package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"snowpulse/internal/config"
	"snowpulse/internal/ui"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initial configuration setup",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	noKeyring, _ := cmd.Flags().GetBool("no-keyring")

	if config.Exists() && !force {
		overwrite := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Configuration already exists at %s. Overwrite it?", config.GetConfigFile()),
			Default: false,
		}
		if err := survey.AskOne(prompt, &overwrite); err != nil {
			return err
		}
		if !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
			return nil
		}
	}

	base, err := defaultConfig()
	if err != nil {
		return err
	}
	cfg, err := ui.NewConfigWizard(base).Run()
	if err != nil {
		return err
	}

	if !noKeyring {
		for _, warning := range storeSecrets(cfg, config.StoreSecret) {
			ui.ShowWarning(warning)
		}
	}
	if err := config.Save(cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to save configuration")
	}

	ui.ShowSuccess(fmt.Sprintf("Configuration saved to %s", config.GetConfigFile()))
	ui.ShowInfo("Next: 'snowpulse migrate up' to create the tables, then 'snowpulse quality run'")
	return nil
}

// defaultConfig is the configuration with every default and no file
func defaultConfig() (*models.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to decode default configuration")
	}
	return &cfg, nil
}

// storeSecrets moves plain-text secrets into the keyring, replacing them
// with keyring references. A secret that cannot be stored stays in the
// file and produces a warning.
func storeSecrets(cfg *models.Config, store func(name, value string) (string, error)) []string {
	secrets := []struct {
		name  string
		value *string
	}{
		{"snowflake.password", &cfg.Snowflake.Password},
		{"snowflake.private_key_passphrase", &cfg.Snowflake.PrivateKeyPassphrase},
		{"redis.password", &cfg.Redis.Password},
		{"ingest.api_key", &cfg.Ingest.APIKey},
	}

	var warnings []string
	for _, s := range secrets {
		if *s.value == "" {
			continue
		}
		ref, err := store(s.name, *s.value)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s is stored in plain text: %v", s.name, err))
			continue
		}
		*s.value = ref
	}
	return warnings
}

func init() {
	setupCmd.Flags().Bool("force", false, "Overwrite an existing configuration without asking")
	setupCmd.Flags().Bool("no-keyring", false, "Keep secrets in the config file instead of the OS keyring")

	rootCmd.AddCommand(setupCmd)
}
