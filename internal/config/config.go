package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string `mapstructure:"cache_path"`
	AttachmentDir     string `mapstructure:"attachment_dir"`
	SearchResultLimit int    `mapstructure:"search_result_limit"`
	LogLevel          string `mapstructure:"log_level"`

	Sync    SyncConfig    `mapstructure:"sync"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Accounts seeded into the account table on startup
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// SyncConfig controls the scheduled sync cycles
type SyncConfig struct {
	QuickInterval   time.Duration `mapstructure:"quick_interval"`
	QuickLimit      int           `mapstructure:"quick_limit"`
	DeepInterval    time.Duration `mapstructure:"deep_interval"`
	DeepLimit       int           `mapstructure:"deep_limit"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	Parallelism     int           `mapstructure:"parallelism"`
	FetchBatchSize  int           `mapstructure:"fetch_batch_size"`
	FolderTimeout   time.Duration `mapstructure:"folder_timeout"`
	OnStart         bool          `mapstructure:"on_start"`
}

// CacheConfig controls body and attachment retention
type CacheConfig struct {
	BodyTTL       time.Duration `mapstructure:"body_ttl"`
	AttachmentTTL time.Duration `mapstructure:"attachment_ttl"`
	PrefetchCount int           `mapstructure:"prefetch_count"`
	PrefetchDelay time.Duration `mapstructure:"prefetch_delay"`
	LogRetention  time.Duration `mapstructure:"log_retention"`
}

// AuthConfig holds OAuth client settings
type AuthConfig struct {
	TokenSkew     time.Duration          `mapstructure:"token_skew"`
	ProvidersFile string                 `mapstructure:"providers_file"`
	RedirectURL   string                 `mapstructure:"redirect_url"`
	Clients       map[string]OAuthClient `mapstructure:"clients"`
}

// OAuthClient is the registered application of one provider
type OAuthClient struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	TokenURL     string   `mapstructure:"token_url"`
	AuthURL      string   `mapstructure:"auth_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// WorkerConfig sizes the on-demand task pool
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// RedisConfig enables the cross-process mailbox lock when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name     string `mapstructure:"name"`
	UserID   string `mapstructure:"user_id"`
	Email    string `mapstructure:"email"`
	Provider string `mapstructure:"provider"`

	// IMAP settings
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPSecurity string `mapstructure:"imap_security"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`

	// OAuth marks the account as authenticating with the stored token of (Provider, Email)
	OAuth bool `mapstructure:"oauth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_path", "/data/email_cache.db")
	v.SetDefault("attachment_dir", "/data/attachments")
	v.SetDefault("search_result_limit", 100)
	v.SetDefault("log_level", "info")

	v.SetDefault("sync.quick_interval", 5*time.Minute)
	v.SetDefault("sync.quick_limit", 50)
	v.SetDefault("sync.deep_interval", time.Hour)
	v.SetDefault("sync.deep_limit", 200)
	v.SetDefault("sync.cleanup_schedule", "@daily")
	v.SetDefault("sync.parallelism", 5)
	v.SetDefault("sync.fetch_batch_size", 50)
	v.SetDefault("sync.folder_timeout", 60*time.Second)
	v.SetDefault("sync.on_start", true)

	v.SetDefault("cache.body_ttl", 7*24*time.Hour)
	v.SetDefault("cache.attachment_ttl", 30*24*time.Hour)
	v.SetDefault("cache.prefetch_count", 20)
	v.SetDefault("cache.prefetch_delay", time.Second)
	v.SetDefault("cache.log_retention", 90*24*time.Hour)

	v.SetDefault("auth.token_skew", 5*time.Minute)
	v.SetDefault("auth.providers_file", "")
	v.SetDefault("auth.redirect_url", "http://localhost:8085/oauth/callback")

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 64)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 5*time.Minute)

	v.SetDefault("metrics.addr", "")
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// environment variables. Nested keys map to env names with "." replaced by
// "_", e.g. SYNC_QUICK_LIMIT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("MAILSYNC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Auth.Clients = loadOAuthClients(v, cfg.Auth.Clients)

	envAccounts, err := loadAccounts(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = append(cfg.Accounts, envAccounts...)

	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i])
	}

	return cfg, nil
}

// loadOAuthClients overlays <PROVIDER>_CLIENT_ID / <PROVIDER>_CLIENT_SECRET
// environment variables onto the configured clients
func loadOAuthClients(v *viper.Viper, clients map[string]OAuthClient) map[string]OAuthClient {
	if clients == nil {
		clients = map[string]OAuthClient{}
	}
	for _, provider := range []string{"google", "microsoft", "yahoo"} {
		id := v.GetString(provider + "_client_id")
		secret := v.GetString(provider + "_client_secret")
		if id == "" {
			continue
		}
		c := clients[provider]
		c.ClientID = id
		if secret != "" {
			c.ClientSecret = secret
		}
		clients[provider] = c
	}
	return clients
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration
	if v.GetString("imap_host") != "" {
		name := v.GetString("account_name")
		if name == "" {
			name = "default"
		}
		acc := AccountConfig{
			Name:         name,
			Email:        v.GetString("account_email"),
			Provider:     v.GetString("account_provider"),
			IMAPHost:     v.GetString("imap_host"),
			IMAPPort:     v.GetInt("imap_port"),
			IMAPSecurity: v.GetString("imap_security"),
			IMAPUsername: v.GetString("imap_username"),
			IMAPPassword: v.GetString("imap_password"),
		}
		if acc.IMAPUsername == "" || acc.IMAPPassword == "" {
			return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required")
		}
		return append(accounts, acc), nil
	}

	// Multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		acc, ok, err := loadAccountByNumber(v, num)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		accounts = append(accounts, *acc)
	}

	return accounts, nil
}

// loadAccountByNumber loads an account by number (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
func loadAccountByNumber(v *viper.Viper, num int) (*AccountConfig, bool, error) {
	prefix := fmt.Sprintf("account_%d_", num)

	name := v.GetString(prefix + "name")
	if name == "" {
		return nil, false, nil
	}

	acc := &AccountConfig{
		Name:         name,
		UserID:       v.GetString(prefix + "user_id"),
		Email:        v.GetString(prefix + "email"),
		Provider:     v.GetString(prefix + "provider"),
		IMAPHost:     v.GetString(prefix + "imap_host"),
		IMAPPort:     v.GetInt(prefix + "imap_port"),
		IMAPSecurity: v.GetString(prefix + "imap_security"),
		IMAPUsername: v.GetString(prefix + "imap_username"),
		IMAPPassword: v.GetString(prefix + "imap_password"),
		OAuth:        v.GetBool(prefix + "oauth"),
	}

	if acc.IMAPHost == "" && acc.Provider == "" {
		return nil, false, fmt.Errorf("account %d: IMAP_HOST or PROVIDER is required", num)
	}
	if !acc.OAuth && (acc.IMAPUsername == "" || acc.IMAPPassword == "") {
		return nil, false, fmt.Errorf("account %d: IMAP_USERNAME and IMAP_PASSWORD are required", num)
	}

	return acc, true, nil
}

func applyAccountDefaults(acc *AccountConfig) {
	if acc.Provider == "" {
		acc.Provider = "default"
	}
	if acc.IMAPPort == 0 && acc.IMAPHost != "" {
		acc.IMAPPort = 993
	}
	if acc.IMAPSecurity == "" {
		acc.IMAPSecurity = securityForPort(acc.IMAPPort)
	}
	if acc.IMAPUsername == "" {
		acc.IMAPUsername = acc.Email
	}
	if acc.UserID == "" {
		acc.UserID = "default"
	}
}

// securityForPort picks implicit TLS for the IMAPS port and a plaintext dial
// upgraded with STARTTLS otherwise. An unset port means the provider default
// of 993.
func securityForPort(port int) string {
	if port == 0 || port == 993 {
		return "tls"
	}
	return "starttls"
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	if c.Sync.QuickInterval <= 0 || c.Sync.DeepInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.QuickLimit < 1 || c.Sync.DeepLimit < 1 {
		return fmt.Errorf("sync limits must be at least 1")
	}
	if c.Sync.Parallelism < 1 {
		return fmt.Errorf("sync parallelism must be at least 1")
	}
	if c.Sync.FetchBatchSize < 1 {
		return fmt.Errorf("fetch batch size must be at least 1")
	}
	if _, err := cron.ParseStandard(c.Sync.CleanupSchedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.Sync.CleanupSchedule, err)
	}
	if c.Worker.Count < 1 || c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker count and queue size must be at least 1")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost != "" && (acc.IMAPPort < 1 || acc.IMAPPort > 65535) {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		switch acc.IMAPSecurity {
		case "tls", "starttls", "none":
		default:
			return fmt.Errorf("account %s: invalid IMAP_SECURITY %q", acc.Name, acc.IMAPSecurity)
		}
		if acc.OAuth && acc.Email == "" {
			return fmt.Errorf("account %s: oauth accounts need an email", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
