// Package config loads server settings.
//
// LOAD ORDER (later wins):
//  1. Defaults()
//  2. YAML file at CONFIG_PATH (default "config.yaml"), if it exists
//  3. Environment variables, after an optional .env file is loaded into
//     the environment
//
// So a checked-in config.yaml can hold the shape of a deployment while
// secrets like JWT_SECRET stay in the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Image stores.
const (
	ImageStoreLocal = "local"
	ImageStoreS3    = "s3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Images    ImagesConfig    `yaml:"images"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicURL is the origin clients reach the API on; used for the GitHub
	// callback and local image URLs.
	PublicURL       string        `yaml:"public_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Secure sets the Secure flag on cookies. Enable behind HTTPS.
	SecureCookies bool `yaml:"secure_cookies"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable it when a proxy you control sets those headers; otherwise
	// any client can pick its own rate-limit bucket.
	TrustProxy bool `yaml:"trust_proxy"`
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	SQLitePath    string `yaml:"sqlite_path"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	GitHubClientID     string `yaml:"github_client_id"`
	GitHubClientSecret string `yaml:"github_client_secret"`
	GitHubCallbackURL  string `yaml:"github_callback_url"`
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (a AuthConfig) GitHubEnabled() bool {
	return a.GitHubClientID != "" && a.GitHubClientSecret != ""
}

// RedisConfig enables the shared logout blocklist. Empty Addr means tokens
// are revoked in process memory only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ImagesConfig struct {
	Store    string   `yaml:"store"`
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

type S3Config struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	PublicURL    string `yaml:"public_url"`
}

// RateLimitConfig throttles signup and login per client IP.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns a config that runs locally with no external services.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			PublicURL:       "http://localhost:5000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:        DriverSQLite,
			MongoDatabase: "threadline",
			SQLitePath:    "data/threadline.db",
		},
		Images: ImagesConfig{
			Store:    ImageStoreLocal,
			LocalDir: "data/uploads",
			S3:       S3Config{Region: "us-east-1", Prefix: "posts/"},
		},
		RateLimit: RateLimitConfig{PerMinute: 10, Burst: 5},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads .env, the YAML file and the environment, in that order.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	cfg := Defaults()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	num("PORT", &c.Server.Port)
	str("PUBLIC_URL", &c.Server.PublicURL)
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	flag("SECURE_COOKIES", &c.Server.SecureCookies)
	flag("TRUST_PROXY", &c.Server.TrustProxy)

	str("DB_DRIVER", &c.Database.Driver)
	str("MONGO_URI", &c.Database.MongoURI)
	str("MONGO_DATABASE", &c.Database.MongoDatabase)
	str("DB_PATH", &c.Database.SQLitePath)

	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("GITHUB_CLIENT_ID", &c.Auth.GitHubClientID)
	str("GITHUB_CLIENT_SECRET", &c.Auth.GitHubClientSecret)
	str("GITHUB_CALLBACK_URL", &c.Auth.GitHubCallbackURL)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)

	str("IMAGE_STORE", &c.Images.Store)
	str("UPLOAD_DIR", &c.Images.LocalDir)
	str("S3_REGION", &c.Images.S3.Region)
	str("S3_BUCKET", &c.Images.S3.Bucket)
	str("S3_PREFIX", &c.Images.S3.Prefix)
	str("S3_ENDPOINT", &c.Images.S3.Endpoint)
	flag("S3_USE_PATH_STYLE", &c.Images.S3.UsePathStyle)
	str("S3_ACCESS_KEY", &c.Images.S3.AccessKey)
	str("S3_SECRET_KEY", &c.Images.S3.SecretKey)
	str("S3_PUBLIC_URL", &c.Images.S3.PublicURL)

	num("RATE_LIMIT_PER_MINUTE", &c.RateLimit.PerMinute)
	num("RATE_LIMIT_BURST", &c.RateLimit.Burst)

	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}

// Validate reports every inconsistency at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: port %d out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case DriverMongo:
		if c.Database.MongoURI == "" {
			errs = append(errs, errors.New("config: MONGO_URI is required for the mongo driver"))
		}
		if c.Database.MongoDatabase == "" {
			errs = append(errs, errors.New("config: MONGO_DATABASE is required for the mongo driver"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("config: DB_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown database driver %q", c.Database.Driver))
	}

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("config: JWT_SECRET must be set to at least 16 characters"))
	}
	if (c.Auth.GitHubClientID == "") != (c.Auth.GitHubClientSecret == "") {
		errs = append(errs, errors.New("config: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}

	switch c.Images.Store {
	case ImageStoreLocal:
		if c.Images.LocalDir == "" {
			errs = append(errs, errors.New("config: UPLOAD_DIR is required for the local image store"))
		}
	case ImageStoreS3:
		if c.Images.S3.Bucket == "" {
			errs = append(errs, errors.New("config: S3_BUCKET is required for the s3 image store"))
		}
		if c.Images.S3.Region == "" {
			errs = append(errs, errors.New("config: S3_REGION is required for the s3 image store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown image store %q", c.Images.Store))
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("config: rate limit values must not be negative"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// GitHubCallback returns the configured callback URL or the default one
// derived from PublicURL.
func (c *Config) GitHubCallback() string {
	if c.Auth.GitHubCallbackURL != "" {
		return c.Auth.GitHubCallbackURL
	}
	return strings.TrimRight(c.Server.PublicURL, "/") + "/users/oauth/github/callback"
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", l.Level)
	}
	return lvl, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
