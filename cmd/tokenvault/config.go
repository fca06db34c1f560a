package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/focusmate/tokenvault/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultScopes       = "https://www.googleapis.com/auth/userinfo.email"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the tokenvault service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key used to sign the OAuth state token
	SecretKey string

	// Base64 encoded 32 byte AES key; every token at rest is sealed with it
	EncryptionKey string

	// OAuth client credentials registered with Google
	GoogleClientID     string
	GoogleClientSecret string

	// Redirect URL registered with the provider, must point at /oauth/callback
	OAuthRedirectURL string

	// Space separated scopes requested on consent
	OAuthScopes string

	// Where the browser lands after the callback
	AppURL string

	// Bearer secret for the internal token handout API
	APISecret string

	// Bearer secret for the one-off encryption sweep endpoint
	MigrationSecret string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		OAuthScopes: defaultScopes,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"SECRET_KEY":           setString(&c.SecretKey),
		"ENCRYPTION_KEY":       setString(&c.EncryptionKey),
		"GOOGLE_CLIENT_ID":     setString(&c.GoogleClientID),
		"GOOGLE_CLIENT_SECRET": setString(&c.GoogleClientSecret),
		"OAUTH_REDIRECT_URL":   setString(&c.OAuthRedirectURL),
		"OAUTH_SCOPES":         setString(&c.OAuthScopes),
		"APP_URL":              setString(&c.AppURL),
		"API_SECRET":           setString(&c.APISecret),
		"MIGRATION_SECRET":     setString(&c.MigrationSecret),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("tokenvault", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key for signing OAuth state")
	fs.StringVarP(&c.EncryptionKey, "encryption-key", "k", c.EncryptionKey, "Base64 32-byte AES key for tokens at rest")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.GoogleClientID, "google-client-id", c.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&c.GoogleClientSecret, "google-client-secret", c.GoogleClientSecret, "Google OAuth client secret")
	fs.StringVar(&c.OAuthRedirectURL, "redirect-url", c.OAuthRedirectURL, "Registered OAuth redirect URL")
	fs.StringVar(&c.OAuthScopes, "scopes", c.OAuthScopes, "Space separated OAuth scopes")
	fs.StringVar(&c.AppURL, "app-url", c.AppURL, "URL the browser is sent back to after the callback")
	fs.StringVar(&c.APISecret, "api-secret", c.APISecret, "Bearer secret for the token handout API")
	fs.StringVar(&c.MigrationSecret, "migration-secret", c.MigrationSecret, "Bearer secret for the encryption sweep endpoint")

	return fs.Parse(args)
}

// Validate fails fast on anything the service cannot run without.
// Missing secrets must stop the process, never fall back to defaults.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"database DSN", c.DatabaseDSN},
		{"secret key", c.SecretKey},
		{"encryption key", c.EncryptionKey},
		{"google client id", c.GoogleClientID},
		{"google client secret", c.GoogleClientSecret},
		{"oauth redirect url", c.OAuthRedirectURL},
		{"app url", c.AppURL},
		{"api secret", c.APISecret},
		{"migration secret", c.MigrationSecret},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}

	if len(missing) != 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Scopes splits the configured scope string the way OAuth expects
func (c *Config) Scopes() []string {
	return strings.Fields(c.OAuthScopes)
}
