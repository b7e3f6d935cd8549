package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Environment keys. The ORACLE_* and legacy names are accepted as aliases.
const (
	EnvDriver       = "MCP_DB_DRIVER"
	EnvUser         = "MCP_DB_USER"
	EnvPassword     = "MCP_DB_PASSWORD"
	EnvDSN          = "MCP_DB_DSN"
	EnvPoolMin      = "MCP_POOL_MIN"
	EnvPoolMax      = "MCP_POOL_MAX"
	EnvQueryTimeout = "MCP_QUERY_TIMEOUT"
	EnvReadOnly     = "MCP_READ_ONLY"
	EnvLogLevel     = "MCP_LOG_LEVEL"
	EnvLogFile      = "MCP_LOG_FILE"
	EnvMetricsAddr  = "MCP_METRICS_ADDR"
	EnvEnvFile      = "MCP_ENV_FILE"
)

var envAliases = map[string]string{
	EnvUser:         "ORACLE_USER",
	EnvPassword:     "ORACLE_PASSWORD",
	EnvDSN:          "ORACLE_DSN",
	EnvPoolMin:      "ORACLE_POOL_MIN",
	EnvPoolMax:      "ORACLE_POOL_MAX",
	EnvQueryTimeout: "QUERY_TIMEOUT",
	EnvReadOnly:     "READ_ONLY_MODE",
}

// Configuration defaults
const (
	DefaultDriver       = "oracle"
	DefaultPoolMin      = 2
	DefaultPoolMax      = 10
	DefaultQueryTimeout = 30
	DefaultLogLevel     = "info"

	passwordMask = "***"
)

// Config holds the connection parameters and operating mode. It is built once
// at startup and treated as read-only afterwards.
type Config struct {
	Driver       string `validate:"oneof=oracle postgres mysql sqlite"`
	User         string `validate:"required"`
	Password     string `validate:"required"`
	DSN          string `validate:"required"`
	PoolMin      int    `validate:"min=1"`
	PoolMax      int    `validate:"gtefield=PoolMin"`
	QueryTimeout int    `validate:"min=1"`
	ReadOnly     bool
	LogLevel     string `validate:"oneof=debug info warn error"`
	LogFile      string
	MetricsAddr  string `validate:"omitempty,hostname_port"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

var fieldMessages = map[string]string{
	"Driver":       "driver must be one of oracle, postgres, mysql, sqlite",
	"User":         "user must not be empty",
	"Password":     "password must not be empty",
	"DSN":          "connection target must not be empty",
	"PoolMin":      "pool_min must be at least 1",
	"PoolMax":      "pool_max must be greater than or equal to pool_min",
	"QueryTimeout": "query_timeout must be at least 1 second",
	"LogLevel":     "log level must be one of debug, info, warn, error",
	"MetricsAddr":  "metrics address must be host:port",
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. An empty path means
// ".env", which is skipped silently when absent.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: loading %s: %v", ErrInvalidConfiguration, path, err)
	}
	return nil
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	return loadConfigFrom(os.LookupEnv)
}

func loadConfigFrom(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		if alias, ok := envAliases[key]; ok {
			if v, ok := lookup(alias); ok {
				return v
			}
		}
		return ""
	}

	cfg := &Config{
		Driver:   strings.ToLower(get(EnvDriver)),
		User:     get(EnvUser),
		Password: get(EnvPassword),
		DSN:      get(EnvDSN),
		LogLevel: strings.ToLower(get(EnvLogLevel)),
		LogFile:  get(EnvLogFile),
	}
	cfg.MetricsAddr = get(EnvMetricsAddr)

	for _, req := range []struct {
		key   string
		value string
	}{
		{EnvUser, cfg.User},
		{EnvPassword, cfg.Password},
		{EnvDSN, cfg.DSN},
	} {
		if req.value == "" {
			return nil, fmt.Errorf("%w: %s environment variable is required", ErrMissingRequiredSetting, req.key)
		}
	}

	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	var err error
	if cfg.PoolMin, err = intSetting(get(EnvPoolMin), EnvPoolMin, DefaultPoolMin); err != nil {
		return nil, err
	}
	if cfg.PoolMax, err = intSetting(get(EnvPoolMax), EnvPoolMax, DefaultPoolMax); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = intSetting(get(EnvQueryTimeout), EnvQueryTimeout, DefaultQueryTimeout); err != nil {
		return nil, err
	}
	cfg.ReadOnly = strings.EqualFold(strings.TrimSpace(get(EnvReadOnly)), "true")

	return cfg, nil
}

func intSetting(raw, key string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfiguration, key, raw)
	}
	return v, nil
}

// Validate checks value ranges. It never touches the network.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if msg, ok := fieldMessages[fe.StructField()]; ok {
			msgs = append(msgs, msg)
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(msgs, "; "))
}

// Timeout is the per-call database timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.QueryTimeout) * time.Second
}

// MaskedDSN returns the connection target with any embedded password replaced.
func (c *Config) MaskedDSN() string {
	return maskDSN(c.DSN, c.Password)
}

// ConnectionString is a loggable user/***@target form of the configuration.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("%s/%s@%s", c.User, passwordMask, c.MaskedDSN())
}

func (c *Config) String() string {
	return c.ConnectionString()
}

// MarshalLogObject lets zap log the configuration without the credential.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("driver", c.Driver)
	enc.AddString("connection", c.ConnectionString())
	enc.AddInt("pool_min", c.PoolMin)
	enc.AddInt("pool_max", c.PoolMax)
	enc.AddInt("query_timeout_seconds", c.QueryTimeout)
	enc.AddBool("read_only", c.ReadOnly)
	return nil
}

func maskDSN(dsn, password string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), passwordMask)
			// url.String escapes the mask; keep it readable.
			return strings.Replace(u.String(), url.QueryEscape(passwordMask), passwordMask, 1)
		}
	}
	if password != "" && strings.Contains(dsn, password) {
		dsn = strings.ReplaceAll(dsn, password, passwordMask)
	}
	if err != nil {
		// An unparsable URL may still carry userinfo.
		dsn = urlPasswordPattern.ReplaceAllString(dsn, "${1}"+passwordMask+"@")
	}
	return dsn
}

var urlPasswordPattern = regexp.MustCompile(`(://[^:/@\s]*:).*@`)
