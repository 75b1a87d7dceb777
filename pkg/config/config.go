package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix used for environment overrides, e.g. REGISTRY_ACCOUNT_PASSPHRASE.
const EnvPrefix = "REGISTRY"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Account      AccountConfig      `mapstructure:"account"`
	Contracts    ContractsConfig    `mapstructure:"contracts"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Notification NotificationConfig `mapstructure:"notification"`
	Security     SecurityConfig     `mapstructure:"security"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host" default:"0.0.0.0"`
	Port            int           `mapstructure:"port" default:"4242" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" default:"60s"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" default:"120s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"30s"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" default:"60s"`
}

// LedgerConfig contains ledger node connection settings
type LedgerConfig struct {
	RPCURL string `mapstructure:"rpc_url" validate:"required"`
	// WSURL enables push subscriptions; polling is used when empty or unreachable.
	WSURL               string        `mapstructure:"ws_url"`
	PollingInterval     time.Duration `mapstructure:"polling_interval" default:"2s"`
	FromBlock           uint64        `mapstructure:"from_block"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" default:"1s"`
	DeployTimeout       time.Duration `mapstructure:"deploy_timeout" default:"5m"`
}

// AccountConfig describes the fueling account used for every mutating transaction
type AccountConfig struct {
	Address        string        `mapstructure:"address" validate:"required,eth_addr"`
	Passphrase     string        `mapstructure:"passphrase"`
	UnlockDuration time.Duration `mapstructure:"unlock_duration" default:"30s"`
}

// ContractsConfig contains contract metadata sources
type ContractsConfig struct {
	// EmptyAddress overrides the constants file sentinel; both unset means the zero address.
	EmptyAddress string `mapstructure:"empty_address" validate:"omitempty,eth_addr"`
	// ConstantsFile optionally overrides the built-in ABIs, bytecode and addresses.
	ConstantsFile   string `mapstructure:"constants_file"`
	RegistryAddress string `mapstructure:"registry_address" validate:"omitempty,eth_addr"`
}

// DispatchConfig contains transaction submission settings
type DispatchConfig struct {
	GasLimit             uint64 `mapstructure:"gas_limit" default:"1000000" validate:"gt=0"`
	DeployGasMultiplier  uint64 `mapstructure:"deploy_gas_multiplier" default:"2" validate:"gt=0"`
	SerializeSubmissions bool   `mapstructure:"serialize_submissions" default:"true"`
}

// SyncConfig contains bootstrap and reconciliation settings
type SyncConfig struct {
	InitializeOnStart bool          `mapstructure:"initialize_on_start" default:"true"`
	MaxPages          int           `mapstructure:"max_pages" default:"1" validate:"gt=0"`
	HistoryFromBlock  uint64        `mapstructure:"history_from_block"`
	ResubscribeMin    time.Duration `mapstructure:"resubscribe_min" default:"1s"`
	ResubscribeMax    time.Duration `mapstructure:"resubscribe_max" default:"1m"`
}

// NotificationConfig contains settings for the party notification sink
type NotificationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SMTPHost    string        `mapstructure:"smtp_host" validate:"required_if=Enabled true"`
	SMTPPort    int           `mapstructure:"smtp_port" default:"587"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from" validate:"required_if=Enabled true"`
	Subject     string        `mapstructure:"subject" default:"Product notification"`
	RatePerHour float64       `mapstructure:"rate_per_hour" default:"60"`
	Burst       int           `mapstructure:"burst" default:"5"`
	SendTimeout time.Duration `mapstructure:"send_timeout" default:"30s"`
}

// SecurityConfig contains contact encryption and facade authentication settings
type SecurityConfig struct {
	EncryptContacts bool   `mapstructure:"encrypt_contacts"`
	MasterKeyEnv    string `mapstructure:"master_key_env" default:"REGISTRY_MASTER_KEY"`
	// JWTSecret enables HS256 bearer authentication on the RPC endpoint when set.
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// DatabaseConfig contains database connection settings for the event journal
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" default:"localhost"`
	Port     int    `mapstructure:"port" default:"5432"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" default:"registry"`
	SSLMode  string `mapstructure:"ssl_mode" default:"disable"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter" default:"stdout" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" default:"localhost:4317"`
	SampleRate   float64 `mapstructure:"sample_rate" default:"1"`
	ServiceName  string  `mapstructure:"service_name" default:"registry-middleware"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info"`
	Format     string `mapstructure:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" default:"stdout"`
}

// Load loads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env values for keys viper already knows about.
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

var envKeys = []string{
	"ledger.rpc_url",
	"ledger.ws_url",
	"account.address",
	"account.passphrase",
	"contracts.registry_address",
	"notification.password",
	"security.jwt_secret",
	"database.password",
}

// Validate checks struct level constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Sync.ResubscribeMax < cfg.Sync.ResubscribeMin {
		return fmt.Errorf("sync.resubscribe_max must not be lower than sync.resubscribe_min")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
