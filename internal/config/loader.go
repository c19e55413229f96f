package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/rowmap/internal/db"
	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/logging"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ROWMAP_DATABASE_HOST.
const EnvPrefix = "ROWMAP"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type FingerprintConfig struct {
	Algorithm string
}

// ImportConfig bounds file imports.
type ImportConfig struct {
	PreviewLimit   int
	MaxUploadBytes int64
}

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig
	Database    db.Config
	Log         logging.Config
	Fingerprint FingerprintConfig
	Import      ImportConfig

	// File is the config file that was read, empty when only defaults and env applied.
	File string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database:    db.DefaultConfig(),
		Log:         logging.DefaultConfig(),
		Fingerprint: FingerprintConfig{Algorithm: fingerprint.DefaultAlgorithm},
		Import: ImportConfig{
			PreviewLimit:   20,
			MaxUploadBytes: 32 << 20,
		},
	}
}

var keys = []string{
	"server.addr",
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.allowed_origins",
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.max_conns",
	"log.level",
	"log.format",
	"fingerprint.algorithm",
	"import.preview_limit",
	"import.max_upload_bytes",
}

// New returns a viper instance reading config.yaml from configPath with
// ROWMAP_ environment overrides bound for every known key.
func New(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads configuration from configPath and the environment.
func Load(configPath string) (Config, error) {
	return FromViper(New(configPath))
}

// FromViper overlays values set in v on top of Default. A missing config
// file is not an error.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}

	if v.IsSet("fingerprint.algorithm") {
		cfg.Fingerprint.Algorithm = v.GetString("fingerprint.algorithm")
	}
	algorithm, err := fingerprint.CanonicalAlgorithm(cfg.Fingerprint.Algorithm)
	if err != nil {
		return Config{}, fmt.Errorf("invalid fingerprint.algorithm: %w", err)
	}
	cfg.Fingerprint.Algorithm = algorithm

	if v.IsSet("import.preview_limit") {
		cfg.Import.PreviewLimit = v.GetInt("import.preview_limit")
	}
	if v.IsSet("import.max_upload_bytes") {
		cfg.Import.MaxUploadBytes = v.GetInt64("import.max_upload_bytes")
	}

	return cfg, nil
}
