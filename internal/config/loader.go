package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/rpattn/asset360/internal/db"
)

// Config is the runtime configuration shared by the server and the CLI.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Schema   SchemaConfig
	Log      LogConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	Migrate        bool
	// Storage is "postgres" or "memory".
	Storage        string
}

// SchemaConfig lists the schema documents to load at start-up and the
// class documents are validated against when none is named.
type SchemaConfig struct {
	Paths        []string
	DefaultClass string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when neither a file nor the
// environment say otherwise.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			Migrate:        true,
			Storage:        "postgres",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config.yaml from configPath (when present) and applies
// ASSET360_* environment overrides, e.g. ASSET360_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("ASSET360")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Debug("loaded config", "file", v.ConfigFileUsed())
	}

	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
		MaxConns: v.GetInt32("database.max_conns"),
	}
	cfg.Server = ServerConfig{
		Addr:           v.GetString("server.addr"),
		AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		Migrate:        v.GetBool("server.migrate"),
		Storage:        strings.ToLower(v.GetString("server.storage")),
	}
	cfg.Schema = SchemaConfig{
		Paths:        v.GetStringSlice("schema.paths"),
		DefaultClass: v.GetString("schema.default_class"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	switch cfg.Server.Storage {
	case "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unknown storage %q", cfg.Server.Storage)
	}
	if cfg.Database.Port <= 0 {
		return Config{}, fmt.Errorf("invalid database port %d", cfg.Database.Port)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.migrate", cfg.Server.Migrate)
	v.SetDefault("server.storage", cfg.Server.Storage)
	v.SetDefault("schema.paths", cfg.Schema.Paths)
	v.SetDefault("schema.default_class", cfg.Schema.DefaultClass)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
