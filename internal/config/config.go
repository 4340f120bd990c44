package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
)

// Backend kinds
const (
	BackendLocal = "local"
	BackendSFTP  = "sftp"
)

// Config represents the connector configuration
type Config struct {
	// Watch settings
	Backend       string        `mapstructure:"backend"`         // local, sftp
	Dir           string        `mapstructure:"dir"`             // watched directory (local path or remote path)
	OutputSuffix  string        `mapstructure:"output_suffix"`   // suffix of completed files
	PollInterval  time.Duration `mapstructure:"poll_interval"`   // delay between polls
	MaxReadErrors int           `mapstructure:"max_read_errors"` // consecutive read errors tolerated (0 = unlimited)

	// Output settings
	Output string `mapstructure:"output"` // "-" for stdout, a file path, or empty for none

	SFTP SFTPConfig `mapstructure:"sftp"` // remote backend settings
	Rows RowsConfig `mapstructure:"rows"` // row parsing and history
	NATS NATSConfig `mapstructure:"nats"` // publish polled data to NATS
	HTTP HTTPConfig `mapstructure:"http"` // status API
}

// SFTPConfig holds the remote backend settings
type SFTPConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	KeyFile               string        `mapstructure:"key_file"`
	KnownHosts            string        `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

// RowsConfig controls how the byte stream is parsed into rows
type RowsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`      // parse rows and keep a history
	Columns     []string `mapstructure:"columns"`      // column names in field order
	Delimiter   string   `mapstructure:"delimiter"`    // single character field separator
	History     int      `mapstructure:"history"`      // rows kept for lookups
	EventPrefix string   `mapstructure:"event_prefix"` // file name prefix for written events
}

// NATSConfig holds the NATS sink settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// HTTPConfig holds the status API settings
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// DIRLOG_* environment variables, in increasing order of precedence
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("backend", BackendLocal)
	v.SetDefault("dir", ".")
	v.SetDefault("output_suffix", ".csv")
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("max_read_errors", 5)
	v.SetDefault("output", "-")

	v.SetDefault("sftp.host", "")
	v.SetDefault("sftp.port", 22)
	v.SetDefault("sftp.user", "")
	v.SetDefault("sftp.password", "")
	v.SetDefault("sftp.key_file", "")
	v.SetDefault("sftp.known_hosts", "")
	v.SetDefault("sftp.insecure_ignore_host_key", false)
	v.SetDefault("sftp.timeout", "30s")

	v.SetDefault("rows.enabled", false)
	v.SetDefault("rows.columns", []string{})
	v.SetDefault("rows.delimiter", ",")
	v.SetDefault("rows.history", 1000)
	v.SetDefault("rows.event_prefix", "event")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "dirlog.data")

	v.SetDefault("http.listen_addr", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DIRLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values the connector cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendLocal:
	case BackendSFTP:
		if c.SFTP.Host == "" {
			errs = append(errs, errors.New("sftp.host is required for the sftp backend"))
		}
		if c.SFTP.User == "" {
			errs = append(errs, errors.New("sftp.user is required for the sftp backend"))
		}
		if c.SFTP.Password == "" && c.SFTP.KeyFile == "" {
			errs = append(errs, errors.New("sftp.password or sftp.key_file is required"))
		}
		if c.SFTP.KnownHosts == "" && !c.SFTP.InsecureIgnoreHostKey {
			errs = append(errs, errors.New("sftp.known_hosts is required unless sftp.insecure_ignore_host_key is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (use %s or %s)", c.Backend, BackendLocal, BackendSFTP))
	}

	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if c.OutputSuffix == "" {
		errs = append(errs, errors.New("output_suffix is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxReadErrors < 0 {
		errs = append(errs, fmt.Errorf("max_read_errors must not be negative, got %d", c.MaxReadErrors))
	}

	if c.Rows.Enabled {
		if len(c.Rows.Columns) == 0 {
			errs = append(errs, errors.New("rows.columns is required when rows are enabled"))
		}
		if utf8.RuneCountInString(c.Rows.Delimiter) != 1 {
			errs = append(errs, fmt.Errorf("rows.delimiter must be a single character, got %q", c.Rows.Delimiter))
		}
		if c.Rows.History <= 0 {
			errs = append(errs, fmt.Errorf("rows.history must be positive, got %d", c.Rows.History))
		}
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}

	return errors.Join(errs...)
}

// Delimiter returns the row field separator
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Rows.Delimiter)
	if r == utf8.RuneError {
		return ','
	}
	return r
}
