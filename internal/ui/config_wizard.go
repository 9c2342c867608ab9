package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Authentication methods offered by the wizard
const (
	AuthPassword = "password"
	AuthKeyPair  = "key pair"
)

// SetupAnswers holds everything the setup wizard asks for
type SetupAnswers struct {
	Account        string
	Username       string
	AuthMethod     string
	Password       string
	PrivateKeyPath string
	Role           string
	Warehouse      string
	Database       string

	Tickers          string
	BigMovePct       string
	VolumeMultiplier string
	MarketAlerts     bool

	UseRedis  bool
	RedisAddr string

	PolygonAPIKey string
}

// ConfigWizard provides an interactive configuration setup
type ConfigWizard struct {
	currentStep int
	totalSteps  int
	base        *models.Config
}

// NewConfigWizard starts from base, typically the loaded defaults
func NewConfigWizard(base *models.Config) *ConfigWizard {
	return &ConfigWizard{
		currentStep: 1,
		totalSteps:  5,
		base:        base,
	}
}

// Run executes the configuration wizard
func (w *ConfigWizard) Run() (*models.Config, error) {
	ShowHeader("snowpulse - Configuration Setup")

	var answers SetupAnswers
	steps := []func(*SetupAnswers) error{
		w.snowflakeStep,
		w.pipelineStep,
		w.redisStep,
		w.ingestStep,
	}
	for _, step := range steps {
		if err := step(&answers); err != nil {
			if err == terminal.InterruptErr {
				return nil, errors.New(errors.ErrCodeInvalidInput, "Configuration cancelled")
			}
			return nil, err
		}
		w.currentStep++
	}

	cfg, err := ApplyAnswers(w.base, answers)
	if err != nil {
		return nil, err
	}
	if err := w.review(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (w *ConfigWizard) snowflakeStep(a *SetupAnswers) error {
	w.showProgress("Snowflake Connection")

	questions := []*survey.Question{
		{
			Name:     "account",
			Prompt:   &survey.Input{Message: "Snowflake Account:", Default: w.base.Snowflake.Account, Help: "Account identifier, e.g. xy12345.us-east-1"},
			Validate: survey.Required,
		},
		{
			Name:     "username",
			Prompt:   &survey.Input{Message: "Username:", Default: w.base.Snowflake.Username},
			Validate: survey.Required,
		},
		{
			Name: "authmethod",
			Prompt: &survey.Select{
				Message: "Authentication:",
				Options: []string{AuthPassword, AuthKeyPair},
				Default: AuthPassword,
			},
		},
		{
			Name:     "role",
			Prompt:   &survey.Input{Message: "Role:", Default: orDefault(w.base.Snowflake.Role, "SNOWPULSE_ROLE")},
			Validate: survey.Required,
		},
		{
			Name:     "warehouse",
			Prompt:   &survey.Input{Message: "Warehouse:", Default: orDefault(w.base.Snowflake.Warehouse, "SNOWPULSE_WH")},
			Validate: survey.Required,
		},
		{
			Name:     "database",
			Prompt:   &survey.Input{Message: "Database:", Default: orDefault(w.base.Snowflake.Database, "SNOWPULSE_DB")},
			Validate: survey.Required,
		},
	}
	if err := survey.Ask(questions, a); err != nil {
		return err
	}

	if a.AuthMethod == AuthKeyPair {
		return survey.AskOne(&survey.Input{
			Message: "Private key path:",
			Default: w.base.Snowflake.PrivateKeyPath,
			Help:    "PEM encoded PKCS#8 key registered for the user",
		}, &a.PrivateKeyPath, survey.WithValidator(survey.Required))
	}
	return survey.AskOne(&survey.Password{
		Message: "Password:",
		Help:    "Stored in the OS keyring when available",
	}, &a.Password, survey.WithValidator(survey.Required))
}

func (w *ConfigWizard) pipelineStep(a *SetupAnswers) error {
	w.showProgress("Quality Checks and Alerts")

	questions := []*survey.Question{
		{
			Name:     "tickers",
			Prompt:   &survey.Input{Message: "Tracked tickers:", Default: strings.Join(w.base.Quality.Tickers, ",")},
			Validate: survey.Required,
		},
		{
			Name:   "marketalerts",
			Prompt: &survey.Confirm{Message: "Enable market alerts?", Default: w.base.Alerts.MarketAlerts},
		},
		{
			Name:     "bigmovepct",
			Prompt:   &survey.Input{Message: "Big daily move threshold (%):", Default: formatMetric(w.base.Alerts.BigMoveThresholdPct)},
			Validate: positiveNumber,
		},
		{
			Name:     "volumemultiplier",
			Prompt:   &survey.Input{Message: "High volume multiplier:", Default: formatMetric(w.base.Alerts.VolumeMultiplier)},
			Validate: positiveNumber,
		},
	}
	return survey.Ask(questions, a)
}

func (w *ConfigWizard) redisStep(a *SetupAnswers) error {
	w.showProgress("Redis")

	if err := survey.AskOne(&survey.Confirm{
		Message: "Use Redis for alert dedup and run locks?",
		Default: w.base.Redis.Enabled,
		Help:    "Required when more than one snowpulse instance runs against the same warehouse",
	}, &a.UseRedis); err != nil {
		return err
	}
	if !a.UseRedis {
		return nil
	}
	return survey.AskOne(&survey.Input{Message: "Redis address:", Default: w.base.Redis.Addr}, &a.RedisAddr,
		survey.WithValidator(survey.Required))
}

func (w *ConfigWizard) ingestStep(a *SetupAnswers) error {
	w.showProgress("Ingestion")

	return survey.AskOne(&survey.Password{
		Message: "Polygon.io API key (leave empty to skip):",
	}, &a.PolygonAPIKey)
}

// ApplyAnswers overlays wizard answers onto a copy of base
func ApplyAnswers(base *models.Config, a SetupAnswers) (*models.Config, error) {
	cfg := *base
	cfg.Quality.Tickers = append([]string(nil), base.Quality.Tickers...)

	cfg.Snowflake.Account = strings.TrimSpace(a.Account)
	cfg.Snowflake.Username = strings.TrimSpace(a.Username)
	cfg.Snowflake.Role = strings.TrimSpace(a.Role)
	cfg.Snowflake.Warehouse = strings.TrimSpace(a.Warehouse)
	cfg.Snowflake.Database = strings.TrimSpace(a.Database)
	if a.AuthMethod == AuthKeyPair {
		cfg.Snowflake.PrivateKeyPath = strings.TrimSpace(a.PrivateKeyPath)
		cfg.Snowflake.Password = ""
	} else {
		cfg.Snowflake.Password = a.Password
		cfg.Snowflake.PrivateKeyPath = ""
	}

	if tickers := splitTickers(a.Tickers); len(tickers) > 0 {
		cfg.Quality.Tickers = tickers
	}
	cfg.Alerts.MarketAlerts = a.MarketAlerts
	if a.BigMovePct != "" {
		v, err := strconv.ParseFloat(a.BigMovePct, 64)
		if err != nil || v <= 0 {
			return nil, errors.ValidationError("alerts.big_move_threshold_pct", a.BigMovePct, "must be a positive number")
		}
		cfg.Alerts.BigMoveThresholdPct = v
	}
	if a.VolumeMultiplier != "" {
		v, err := strconv.ParseFloat(a.VolumeMultiplier, 64)
		if err != nil || v <= 0 {
			return nil, errors.ValidationError("alerts.volume_multiplier", a.VolumeMultiplier, "must be a positive number")
		}
		cfg.Alerts.VolumeMultiplier = v
	}

	cfg.Redis.Enabled = a.UseRedis
	if a.UseRedis && a.RedisAddr != "" {
		cfg.Redis.Addr = strings.TrimSpace(a.RedisAddr)
	}
	if a.PolygonAPIKey != "" {
		cfg.Ingest.APIKey = a.PolygonAPIKey
	}
	return &cfg, nil
}

func splitTickers(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func positiveNumber(val interface{}) error {
	s, _ := val.(string)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func (w *ConfigWizard) review(cfg *models.Config) error {
	w.showProgress("Review Configuration")

	fmt.Println("\n" + ColorInfo("Configuration Summary:"))
	fmt.Println(strings.Repeat("─", 50))
	fmt.Println(ColorBold("\nSnowflake:"))
	PrintKeyValue("Account", cfg.Snowflake.Account)
	PrintKeyValue("Username", cfg.Snowflake.Username)
	PrintKeyValue("Role", cfg.Snowflake.Role)
	PrintKeyValue("Warehouse", cfg.Snowflake.Warehouse)
	PrintKeyValue("Database", cfg.Snowflake.Database)
	fmt.Println(ColorBold("\nPipeline:"))
	PrintKeyValue("Tickers", strings.Join(cfg.Quality.Tickers, ", "))
	PrintKeyValue("Market alerts", strconv.FormatBool(cfg.Alerts.MarketAlerts))
	PrintKeyValue("Redis", strconv.FormatBool(cfg.Redis.Enabled))
	PrintKeyValue("Ingest API key", strconv.FormatBool(cfg.Ingest.APIKey != ""))
	fmt.Println(strings.Repeat("─", 50))

	confirm := false
	if err := survey.AskOne(&survey.Confirm{Message: "Save this configuration?", Default: true}, &confirm); err != nil {
		return err
	}
	if !confirm {
		return errors.New(errors.ErrCodeInvalidInput, "Configuration cancelled")
	}
	return nil
}

func (w *ConfigWizard) showProgress(step string) {
	fmt.Printf("\n%s [Step %d/%d] %s\n\n",
		ColorProgress("►"),
		w.currentStep,
		w.totalSteps,
		ColorBold(step),
	)
}
