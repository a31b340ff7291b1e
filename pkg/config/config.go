package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Directions DirectionsConfig `mapstructure:"directions"`
	Geocoder   GeocoderConfig   `mapstructure:"geocoder"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=1,max=65535"`
	Host              string        `mapstructure:"host" validate:"required"`
	Environment       string        `mapstructure:"environment" validate:"oneof=development staging production"`
	HealthCheckPath   string        `mapstructure:"health_check_path"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	PositionRateLimit float64       `mapstructure:"position_rate_limit" validate:"gt=0"`
	PositionBurst     int           `mapstructure:"position_burst" validate:"min=1"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL     string             `mapstructure:"url" validate:"required"`
	Streams RedisStreamsConfig `mapstructure:"streams"`
}

// RedisStreamsConfig holds the event bus settings on top of Redis streams
type RedisStreamsConfig struct {
	ConsumerGroup string `mapstructure:"consumer_group" validate:"required"`
	TopicPrefix   string `mapstructure:"topic_prefix" validate:"required"`
}

// DirectionsConfig selects and configures the routing backend
type DirectionsConfig struct {
	Provider     string        `mapstructure:"provider" validate:"oneof=valhalla osrm"`
	ValhallaURL  string        `mapstructure:"valhalla_url" validate:"omitempty,url"`
	OSRMURL      string        `mapstructure:"osrm_url" validate:"omitempty,url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Alternatives bool          `mapstructure:"alternatives"`
	Language     string        `mapstructure:"language"`
	TravelMode   string        `mapstructure:"travel_mode" validate:"oneof=driving walking cycling"`
}

// GeocoderConfig configures address lookups for deals without coordinates
type GeocoderConfig struct {
	NominatimURL string        `mapstructure:"nominatim_url" validate:"omitempty,url"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TrackingConfig configures the position sink. HeartbeatInterval paces
// live-position heartbeats to watching clients.
type TrackingConfig struct {
	StreamMaxLen      int64         `mapstructure:"stream_max_len" validate:"min=1"`
	LastPositionTTL   time.Duration `mapstructure:"last_position_ttl"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

// NavigationConfig holds the navigator defaults
type NavigationConfig struct {
	Locale     string `mapstructure:"locale" validate:"oneof=ru en"`
	FollowMode bool   `mapstructure:"follow_mode"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
}

var (
	mu     sync.Mutex
	loaded *viper.Viper
)

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/haulnav")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	loaded = v
	mu.Unlock()

	return cfg, nil
}

// Watch re-decodes the configuration whenever the config file changes.
// onChange only receives configurations that pass validation.
func Watch(onChange func(*Config), onError func(error)) bool {
	mu.Lock()
	v := loaded
	mu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.health_check_path", "/health")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.position_rate_limit", 5.0)
	v.SetDefault("server.position_burst", 20)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.streams.consumer_group", "haulnav")
	v.SetDefault("redis.streams.topic_prefix", "haulnav-events")

	v.SetDefault("directions.provider", "osrm")
	v.SetDefault("directions.valhalla_url", "http://localhost:8002")
	v.SetDefault("directions.osrm_url", "https://router.project-osrm.org")
	v.SetDefault("directions.timeout", "10s")
	v.SetDefault("directions.alternatives", true)
	v.SetDefault("directions.language", "ru")
	v.SetDefault("directions.travel_mode", "driving")

	v.SetDefault("geocoder.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "haulnav/1.0")
	v.SetDefault("geocoder.timeout", "10s")

	v.SetDefault("tracking.stream_max_len", 5000)
	v.SetDefault("tracking.last_position_ttl", "10m")
	v.SetDefault("tracking.write_timeout", "3s")
	v.SetDefault("tracking.min_interval", "0s")
	v.SetDefault("tracking.heartbeat_interval", "5s")
	v.SetDefault("tracking.stale_after", "30s")

	v.SetDefault("navigation.locale", "ru")
	v.SetDefault("navigation.follow_mode", true)

	v.SetDefault("auth.jwt_secret", "dev-jwt-secret-change-in-production")
	v.SetDefault("auth.jwt_issuer", "haulnav")
	v.SetDefault("auth.jwt_expiration", "24h")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch cfg.Directions.Provider {
	case "valhalla":
		if cfg.Directions.ValhallaURL == "" {
			return fmt.Errorf("directions provider valhalla requires valhalla_url")
		}
	case "osrm":
		if cfg.Directions.OSRMURL == "" {
			return fmt.Errorf("directions provider osrm requires osrm_url")
		}
	}

	if len(cfg.Auth.JWTSecret) < 8 {
		return fmt.Errorf("JWT secret must be at least 8 characters long")
	}

	if cfg.Auth.JWTExpiration < time.Minute {
		return fmt.Errorf("JWT expiration must be at least 1 minute")
	}

	if cfg.Tracking.WriteTimeout <= 0 {
		return fmt.Errorf("tracking write timeout must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	validEncodings := []string{"json", "console"}
	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	return nil
}

// GetServerAddr returns the server address in host:port format
func (s *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if the environment is production
func (s *ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
