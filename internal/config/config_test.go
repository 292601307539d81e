package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults_ValidOnceSecretSet(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, cfg.Validate(), "defaults have no JWT secret")

	cfg.Auth.JWTSecret = testSecret
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8081
  allowed_origins: [https://app.example.com]
  read_timeout: 5s
database:
  driver: mongo
  mongo_uri: mongodb://db:27017
images:
  store: s3
  s3:
    bucket: media
`), 0o644))

	cfg := Defaults()
	require.NoError(t, cfg.loadFile(path))

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverMongo, cfg.Database.Driver)
	assert.Equal(t, "threadline", cfg.Database.MongoDatabase, "unset keys keep defaults")
	assert.Equal(t, "media", cfg.Images.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.Images.S3.Region)
}

func TestLoadFile_MissingIsFine(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.loadFile(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	cfg := Defaults()
	assert.Error(t, cfg.loadFile(path))
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":           "9000",
		"DB_DRIVER":      "mongo",
		"MONGO_URI":      "mongodb://localhost:27017",
		"JWT_SECRET":     testSecret,
		"REDIS_ADDR":     "localhost:6379",
		"CORS_ORIGINS":   "https://a.example.com, https://b.example.com,",
		"SECURE_COOKIES": "true",
		"TRUST_PROXY":    "true",
		"IMAGE_STORE":    "s3",
		"S3_BUCKET":      "media",
		"LOG_LEVEL":      "debug",
		"UPLOAD_DIR":     "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DriverMongo, cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Server.SecureCookies)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, "data/uploads", cfg.Images.LocalDir, "empty values do not override")
	require.NoError(t, cfg.Validate())

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestApplyEnv_BadNumbers(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(envMap(map[string]string{"PORT": "eighty", "SECURE_COOKIES": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "SECURE_COOKIES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "unknown database driver"},
		{"mongo without uri", func(c *Config) { c.Database.Driver = DriverMongo }, "MONGO_URI"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
		{"half github config", func(c *Config) { c.Auth.GitHubClientID = "id" }, "GITHUB_CLIENT_SECRET"},
		{"s3 without bucket", func(c *Config) { c.Images.Store = ImageStoreS3 }, "S3_BUCKET"},
		{"unknown image store", func(c *Config) { c.Images.Store = "ftp" }, "unknown image store"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGitHubCallback(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "http://localhost:5000/users/oauth/github/callback", cfg.GitHubCallback())
	assert.False(t, cfg.Auth.GitHubEnabled())

	cfg.Auth.GitHubCallbackURL = "https://api.example.com/cb"
	assert.Equal(t, "https://api.example.com/cb", cfg.GitHubCallback())
}
