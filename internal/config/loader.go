package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/rpattn/rostersync/internal/db"
)

// TrackingConfig holds the change tracking engine settings.
type TrackingConfig struct {
	RetentionDays        int
	CompressionDays      int
	CompressionEnabled   bool
	BatchChunkSize       int
	MaxWriteConcurrency  int
	MaxQueryLimit        int
	ScoreThreshold       float64
	DefaultConfidence    float64
	NotificationsEnabled bool
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Config is the full application configuration.
type Config struct {
	DB       db.Config
	Tracking TrackingConfig
	Server   ServerConfig
}

// DefaultTrackingConfig returns the standard tracking settings.
func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		RetentionDays:        90,
		CompressionDays:      30,
		CompressionEnabled:   false,
		BatchChunkSize:       100,
		MaxWriteConcurrency:  5,
		MaxQueryLimit:        1000,
		ScoreThreshold:       50,
		DefaultConfidence:    0.75,
		NotificationsEnabled: true,
	}
}

// DefaultServerConfig returns the standard HTTP settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Load reads config.yaml from configPath with env overrides on top of the
// defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{
		DB:       db.DefaultConfig(),
		Tracking: DefaultTrackingConfig(),
		Server:   DefaultServerConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv() // allow environment overrides

	// Optional: Map nested keys to flat env vars
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("tracking.retention_days", "TRACKING_RETENTION_DAYS")
	v.BindEnv("tracking.compression_days", "TRACKING_COMPRESSION_DAYS")
	v.BindEnv("tracking.compression_enabled", "TRACKING_COMPRESSION_ENABLED")
	v.BindEnv("tracking.batch_chunk_size", "TRACKING_BATCH_CHUNK_SIZE")
	v.BindEnv("tracking.max_write_concurrency", "TRACKING_MAX_WRITE_CONCURRENCY")
	v.BindEnv("tracking.max_query_limit", "TRACKING_MAX_QUERY_LIMIT")
	v.BindEnv("tracking.score_threshold", "TRACKING_SCORE_THRESHOLD")
	v.BindEnv("tracking.default_confidence", "TRACKING_DEFAULT_CONFIDENCE")
	v.BindEnv("tracking.notifications_enabled", "TRACKING_NOTIFICATIONS_ENABLED")
	v.BindEnv("server.addr", "SERVER_ADDR")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("tracking.retention_days") {
		cfg.Tracking.RetentionDays = v.GetInt("tracking.retention_days")
	}
	if v.IsSet("tracking.compression_days") {
		cfg.Tracking.CompressionDays = v.GetInt("tracking.compression_days")
	}
	if v.IsSet("tracking.compression_enabled") {
		cfg.Tracking.CompressionEnabled = v.GetBool("tracking.compression_enabled")
	}
	if v.IsSet("tracking.batch_chunk_size") {
		cfg.Tracking.BatchChunkSize = v.GetInt("tracking.batch_chunk_size")
	}
	if v.IsSet("tracking.max_write_concurrency") {
		cfg.Tracking.MaxWriteConcurrency = v.GetInt("tracking.max_write_concurrency")
	}
	if v.IsSet("tracking.max_query_limit") {
		cfg.Tracking.MaxQueryLimit = v.GetInt("tracking.max_query_limit")
	}
	if v.IsSet("tracking.score_threshold") {
		cfg.Tracking.ScoreThreshold = v.GetFloat64("tracking.score_threshold")
	}
	if v.IsSet("tracking.default_confidence") {
		cfg.Tracking.DefaultConfidence = v.GetFloat64("tracking.default_confidence")
	}
	if v.IsSet("tracking.notifications_enabled") {
		cfg.Tracking.NotificationsEnabled = v.GetBool("tracking.notifications_enabled")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	return cfg, nil
}
