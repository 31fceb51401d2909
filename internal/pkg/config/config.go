// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. APPROVALS_SERVER_PORT.
const EnvPrefix = "APPROVALS"

// Config is the root service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig selects the repository implementation.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | memory
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// NATSConfig holds notification publisher settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ApprovalConfig configures the chain engine.
type ApprovalConfig struct {
	Ladder           []BandConfig                    `mapstructure:"ladder"`
	Representatives  map[string]RepresentativeConfig `mapstructure:"representatives"`
	RoleHours        map[string]float64              `mapstructure:"role_hours"`
	DefaultRoleHours float64                         `mapstructure:"default_role_hours"`
	DelegatesMayAct  bool                            `mapstructure:"delegates_may_act"`
}

// BandConfig is one amount-tier ladder band. An empty Max means unbounded.
type BandConfig struct {
	Max   string   `mapstructure:"max"`
	Roles []string `mapstructure:"roles"`
}

// RepresentativeConfig names the user who approves on behalf of a role.
type RepresentativeConfig struct {
	UserID string `mapstructure:"user_id"`
	Name   string `mapstructure:"name"`
}

// SchedulerConfig controls the overdue reminder sweep.
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ReminderSpec string `mapstructure:"reminder_spec"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-exp-approvals")
	v.SetDefault("service.version", "0.1.0")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.grpc_port", 9086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "expense_approvals")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "notifications.expenses")

	v.SetDefault("approval.ladder", []map[string]interface{}{
		{"max": "100", "roles": []string{"manager"}},
		{"max": "1000", "roles": []string{"manager", "senior_manager"}},
		{"max": "5000", "roles": []string{"manager", "senior_manager", "director"}},
		{"max": "", "roles": []string{"manager", "senior_manager", "director", "ceo"}},
	})
	v.SetDefault("approval.representatives", map[string]interface{}{})
	v.SetDefault("approval.role_hours", map[string]interface{}{
		"manager":        24,
		"senior_manager": 36,
		"director":       48,
		"ceo":            72,
		"admin":          24,
	})
	v.SetDefault("approval.default_role_hours", 24)
	v.SetDefault("approval.delegates_may_act", false)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reminder_spec", "@every 15m")
}

// Load reads configuration. Precedence, lowest first: defaults, config file
// (path argument, or config.yaml in . and ./config), .env, environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if len(c.Approval.Ladder) == 0 {
		return fmt.Errorf("approval ladder must have at least one band")
	}
	return nil
}
