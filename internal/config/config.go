package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CAMPAIGN"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultAllowedOrigins     = "*"
	defaultSubmitRate         = 10
	defaultSubmitBurst        = 3
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "campaign.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultLogMaxSizeMB       = 50
	defaultLogMaxBackups      = 5
	defaultAuthIssuer         = "campaign-auth"
	defaultCookieName         = "app_session"
	defaultTokenTTLMinutes    = 720
	defaultSettingsID         = "main"
	defaultHeroTitle          = "Our campaign"
	defaultHeroSubtitle       = "Help us reach the goal!"
	defaultLeaderboardSize    = 10
	defaultRequestLimit       = 50
	defaultPollInterval       = 30 * time.Second
	defaultHeartbeatInterval  = 25 * time.Second
	defaultMaxSubscribers     = 256
	defaultReconcileInterval  = 5 * time.Minute
	maxLeaderboardSize        = 500
	maxRequestLimit           = 1000
	minimumRealtimeInterval   = time.Second
	minimumReconcileInterval  = 10 * time.Second
	postgresDSNRequiredReason = "database.dsn is required when database.driver is postgres"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	AllowedOrigins        []string
	SubmitRatePerMinute   float64
	SubmitBurst           int
	SecureCookies         bool
	DatabaseDriver        string
	DatabasePath          string
	DatabaseDSN           string
	LogLevel              string
	LogFormat             string
	LogFile               string
	LogMaxSizeMB          int
	LogMaxBackups         int
	AuthSigningSecret     string
	AuthIssuer            string
	AuthCookieName        string
	AuthTokenTTL          time.Duration
	ModeratorPasswordHash string
	SettingsID            string
	HeroTitle             string
	HeroSubtitle          string
	LeaderboardSize       int
	RequestLimit          int
	PollInterval          time.Duration
	HeartbeatInterval     time.Duration
	MaxSubscribers        int
	ReconcileInterval     time.Duration
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
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("http.submit_rate_per_minute", defaultSubmitRate)
	configViper.SetDefault("http.submit_burst", defaultSubmitBurst)
	configViper.SetDefault("http.secure_cookies", true)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.moderator_password_hash", "")
	configViper.SetDefault("campaign.settings_id", defaultSettingsID)
	configViper.SetDefault("campaign.hero_title", defaultHeroTitle)
	configViper.SetDefault("campaign.hero_subtitle", defaultHeroSubtitle)
	configViper.SetDefault("campaign.leaderboard_size", defaultLeaderboardSize)
	configViper.SetDefault("moderation.request_limit", defaultRequestLimit)
	configViper.SetDefault("realtime.poll_interval", defaultPollInterval)
	configViper.SetDefault("realtime.heartbeat_interval", defaultHeartbeatInterval)
	configViper.SetDefault("realtime.max_subscribers", defaultMaxSubscribers)
	configViper.SetDefault("ledger.reconcile_interval", defaultReconcileInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		AllowedOrigins:        splitList(configViper.GetString("http.allowed_origins")),
		SubmitRatePerMinute:   configViper.GetFloat64("http.submit_rate_per_minute"),
		SubmitBurst:           configViper.GetInt("http.submit_burst"),
		SecureCookies:         configViper.GetBool("http.secure_cookies"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		LogFile:               configViper.GetString("log.file"),
		LogMaxSizeMB:          configViper.GetInt("log.max_size_mb"),
		LogMaxBackups:         configViper.GetInt("log.max_backups"),
		AuthSigningSecret:     configViper.GetString("auth.signing_secret"),
		AuthIssuer:            configViper.GetString("auth.issuer"),
		AuthCookieName:        configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ModeratorPasswordHash: strings.TrimSpace(configViper.GetString("auth.moderator_password_hash")),
		SettingsID:            strings.TrimSpace(configViper.GetString("campaign.settings_id")),
		HeroTitle:             strings.TrimSpace(configViper.GetString("campaign.hero_title")),
		HeroSubtitle:          strings.TrimSpace(configViper.GetString("campaign.hero_subtitle")),
		LeaderboardSize:       configViper.GetInt("campaign.leaderboard_size"),
		RequestLimit:          configViper.GetInt("moderation.request_limit"),
		PollInterval:          configViper.GetDuration("realtime.poll_interval"),
		HeartbeatInterval:     configViper.GetDuration("realtime.heartbeat_interval"),
		MaxSubscribers:        configViper.GetInt("realtime.max_subscribers"),
		ReconcileInterval:     configViper.GetDuration("ledger.reconcile_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return errors.New(postgresDSNRequiredReason)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q is not supported", c.LogFormat)
	}
	if c.SettingsID == "" {
		return fmt.Errorf("campaign.settings_id is required")
	}
	if c.LeaderboardSize <= 0 || c.LeaderboardSize > maxLeaderboardSize {
		return fmt.Errorf("campaign.leaderboard_size must be between 1 and %d", maxLeaderboardSize)
	}
	if c.RequestLimit <= 0 || c.RequestLimit > maxRequestLimit {
		return fmt.Errorf("moderation.request_limit must be between 1 and %d", maxRequestLimit)
	}
	if c.PollInterval < minimumRealtimeInterval {
		return fmt.Errorf("realtime.poll_interval must be at least %s", minimumRealtimeInterval)
	}
	if c.HeartbeatInterval < minimumRealtimeInterval {
		return fmt.Errorf("realtime.heartbeat_interval must be at least %s", minimumRealtimeInterval)
	}
	if c.MaxSubscribers <= 0 {
		return fmt.Errorf("realtime.max_subscribers must be positive")
	}
	if c.ReconcileInterval != 0 && c.ReconcileInterval < minimumReconcileInterval {
		return fmt.Errorf("ledger.reconcile_interval must be 0 or at least %s", minimumReconcileInterval)
	}
	if c.SubmitRatePerMinute <= 0 || c.SubmitBurst <= 0 {
		return fmt.Errorf("http.submit_rate_per_minute and http.submit_burst must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
