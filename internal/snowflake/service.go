package snowflake

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"snowpulse/internal/config"
	"snowpulse/internal/observability"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Service owns the warehouse connection pool
type Service struct {
	mu             sync.Mutex
	db             *sql.DB
	config         Config
	connected      bool
	circuitBreaker *errors.CircuitBreaker
	retry          *errors.RetryConfig
	open           func(driverName, dsn string) (*sql.DB, error)
	logger         *observability.Logger
}

// Config holds Snowflake connection configuration
type Config struct {
	Account    string
	Username   string
	Password   string
	PrivateKey *rsa.PrivateKey // key-pair auth, takes precedence over Password
	Database   string
	Schema     string
	Warehouse  string
	Role       string
	Timeout    time.Duration
}

// ConfigFrom builds a connection config from the config file section,
// loading the private key when one is configured.
func ConfigFrom(sf models.Snowflake) (Config, error) {
	cfg := Config{
		Account:   sf.Account,
		Username:  sf.Username,
		Password:  sf.Password,
		Database:  sf.Database,
		Schema:    sf.Schema,
		Warehouse: sf.Warehouse,
		Role:      sf.Role,
		Timeout:   sf.Timeout,
	}
	if sf.PrivateKeyPath != "" {
		key, err := config.LoadPrivateKey(sf.PrivateKeyPath, sf.PrivateKeyPassphrase)
		if err != nil {
			return Config{}, err
		}
		cfg.PrivateKey = key
	}
	return cfg, nil
}

// NewService creates a new Snowflake service
func NewService(cfg Config, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("component", "snowflake")

	retry := errors.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Warn("Retrying warehouse connection")
	}

	return &Service{
		config:         cfg,
		circuitBreaker: errors.NewCircuitBreaker("snowflake", 5, 30*time.Second),
		retry:          retry,
		open:           sql.Open,
		logger:         logger,
	}
}

// NewServiceWithDB wraps an already open pool, e.g. a sqlmock database.
func NewServiceWithDB(db *sql.DB, cfg Config) *Service {
	s := NewService(cfg, nil)
	s.db = db
	s.connected = true
	return s
}

// DSN renders the gosnowflake data source name for the configuration.
func (s *Service) DSN() (string, error) {
	sfCfg := &gosnowflake.Config{
		Account:   s.config.Account,
		User:      s.config.Username,
		Password:  s.config.Password,
		Database:  s.config.Database,
		Schema:    s.config.Schema,
		Warehouse: s.config.Warehouse,
		Role:      s.config.Role,
	}
	if s.config.PrivateKey != nil {
		sfCfg.Authenticator = gosnowflake.AuthTypeJwt
		sfCfg.PrivateKey = s.config.PrivateKey
		sfCfg.Password = ""
	}
	if s.config.Timeout > 0 {
		sfCfg.LoginTimeout = s.config.Timeout
	}

	dsn, err := gosnowflake.DSN(sfCfg)
	if err != nil {
		return "", errors.ConfigError(fmt.Sprintf("Invalid Snowflake configuration: %v", err), "snowflake")
	}
	return dsn, nil
}

// Connect establishes a connection to Snowflake
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if err := ValidateConfig(s.config); err != nil {
		return err
	}

	dsn, err := s.DSN()
	if err != nil {
		return err
	}

	return s.circuitBreaker.Execute(ctx, func() error {
		return errors.Retry(ctx, s.retry, func(ctx context.Context) error {
			db, err := s.open("snowflake", dsn)
			if err != nil {
				return errors.ConnectionError("Failed to open Snowflake connection", err).
					WithContext("account", s.config.Account).
					WithContext("warehouse", s.config.Warehouse)
			}

			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(10 * time.Minute)

			connCtx, cancel := s.getContext(ctx)
			defer cancel()

			if err := db.PingContext(connCtx); err != nil {
				_ = db.Close()

				if strings.Contains(strings.ToLower(err.Error()), "authentication") {
					return errors.New(errors.ErrCodeAuthenticationFailed, "Authentication failed").
						WithContext("user", s.config.Username).
						WithSuggestions(
							"Verify your username and password or private key",
							"Check if your user is locked or the key is registered",
						)
				}

				return errors.ConnectionError("Failed to connect to Snowflake", err).
					WithContext("account", s.config.Account).
					AsRecoverable()
			}

			s.db = db
			s.connected = true
			s.logger.WithFields(map[string]interface{}{
				"account":   s.config.Account,
				"warehouse": s.config.Warehouse,
				"database":  s.config.Database,
			}).Info("Connected to Snowflake")
			return nil
		})
	})
}

// DB returns the underlying pool, nil before Connect.
func (s *Service) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Ping checks the connection, used by the health endpoint.
func (s *Service) Ping(ctx context.Context) error {
	db := s.DB()
	if db == nil {
		return errors.New(errors.ErrCodeConnectionFailed, "Not connected to database")
	}
	ctx, cancel := s.getContext(ctx)
	defer cancel()
	return db.PingContext(ctx)
}

// Close closes the database connection
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	s.connected = false
	s.db = nil
	return nil
}

// CircuitState reports the connection circuit breaker state.
func (s *Service) CircuitState() string {
	return s.circuitBreaker.GetState()
}

func (s *Service) getContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// ValidateConfig validates the Snowflake configuration
func ValidateConfig(cfg Config) error {
	if cfg.Account == "" {
		return errors.ConfigError("account is required", "snowflake.account")
	}
	if cfg.Username == "" {
		return errors.ConfigError("username is required", "snowflake.username")
	}
	if cfg.Password == "" && cfg.PrivateKey == nil {
		return errors.ConfigError("password or private key is required", "snowflake.password")
	}
	if cfg.Warehouse == "" {
		return errors.ConfigError("warehouse is required", "snowflake.warehouse")
	}
	if cfg.Database == "" {
		return errors.ConfigError("database is required", "snowflake.database")
	}
	return nil
}
