package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ourea-as/meadstats-api/internal/untappd"
)

const (
	envPrefix              = "MEADSTATS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabasePath    = "meadstats.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "jwt_token"
	defaultIssuer          = "meadstats-api"
	defaultAudience        = "meadstats-app"
	defaultTokenTTLMinutes = 30 * 24 * 60
	defaultAppDomain       = "https://www.meadstats.com"
	defaultAPIDomain       = "https://api.meadstats.com"
	defaultCookieDomain    = ".meadstats.com"
	defaultUntappdTimeout  = 15
	defaultUntappdRetries  = 2
	defaultShutdownSeconds = 10
	callbackPath           = "/auth_callback"
	driverSQLite           = "sqlite"
	driverPostgres         = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	ShutdownTimeout time.Duration

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	CookieName    string

	AppDomain    string
	APIDomain    string
	CookieDomain string

	UntappdClientID     string
	UntappdClientSecret string
	UntappdEndpoint     string
	UntappdAuthorizeURL string
	UntappdTimeout      time.Duration
	UntappdMaxRetries   int

	TastingAdmin string
}

// RedirectURL is the OAuth callback Untappd sends users back to.
func (c AppConfig) RedirectURL() string {
	return strings.TrimRight(c.APIDomain, "/") + callbackPath
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_seconds", defaultShutdownSeconds)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("app.domain", defaultAppDomain)
	configViper.SetDefault("app.api_domain", defaultAPIDomain)
	configViper.SetDefault("app.cookie_domain", defaultCookieDomain)
	configViper.SetDefault("untappd.client_id", "")
	configViper.SetDefault("untappd.client_secret", "")
	configViper.SetDefault("untappd.endpoint", untappd.DefaultEndpoint)
	configViper.SetDefault("untappd.authorize_url", untappd.DefaultAuthorizeURL)
	configViper.SetDefault("untappd.timeout_seconds", defaultUntappdTimeout)
	configViper.SetDefault("untappd.max_retries", defaultUntappdRetries)
	configViper.SetDefault("tasting.admin_user", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		ShutdownTimeout:     time.Duration(configViper.GetInt("http.shutdown_seconds")) * time.Second,
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		Issuer:              configViper.GetString("auth.issuer"),
		Audience:            configViper.GetString("auth.audience"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CookieName:          configViper.GetString("auth.cookie_name"),
		AppDomain:           configViper.GetString("app.domain"),
		APIDomain:           configViper.GetString("app.api_domain"),
		CookieDomain:        configViper.GetString("app.cookie_domain"),
		UntappdClientID:     configViper.GetString("untappd.client_id"),
		UntappdClientSecret: configViper.GetString("untappd.client_secret"),
		UntappdEndpoint:     configViper.GetString("untappd.endpoint"),
		UntappdAuthorizeURL: configViper.GetString("untappd.authorize_url"),
		UntappdTimeout:      time.Duration(configViper.GetInt("untappd.timeout_seconds")) * time.Second,
		UntappdMaxRetries:   configViper.GetInt("untappd.max_retries"),
		TastingAdmin:        strings.TrimSpace(configViper.GetString("tasting.admin_user")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case driverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case driverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", driverSQLite, driverPostgres)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.UntappdClientID) == "" || strings.TrimSpace(c.UntappdClientSecret) == "" {
		return fmt.Errorf("untappd.client_id and untappd.client_secret are required")
	}
	if c.UntappdTimeout <= 0 {
		return fmt.Errorf("untappd.timeout_seconds must be positive")
	}
	if c.UntappdMaxRetries < 0 {
		return fmt.Errorf("untappd.max_retries must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_seconds must be positive")
	}
	if strings.TrimSpace(c.AppDomain) == "" || strings.TrimSpace(c.APIDomain) == "" {
		return fmt.Errorf("app.domain and app.api_domain are required")
	}
	return nil
}
