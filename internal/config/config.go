package config

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Security  SecurityConfig            `mapstructure:"security"`
	Credits   CreditsConfig             `mapstructure:"credits"`
	Endpoints map[string]int64          `mapstructure:"endpoints"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Usage     UsageConfig               `mapstructure:"usage"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	AdminUsername string          `mapstructure:"admin_username"`
	AdminPassword string          `mapstructure:"admin_password"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CreditsConfig controls key issuance
type CreditsConfig struct {
	DefaultCredits    int64         `mapstructure:"default_credits"`
	DefaultDailyLimit int64         `mapstructure:"default_daily_limit"`
	KeyLifetime       time.Duration `mapstructure:"key_lifetime"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	BootstrapKey      string        `mapstructure:"bootstrap_key"`
	BootstrapCredits  int64         `mapstructure:"bootstrap_credits"`
}

// ProviderConfig describes how a request is forwarded to an upstream service.
// URL placeholders are written as {param}.
type ProviderConfig struct {
	URL      string            `mapstructure:"url"`
	Required []string          `mapstructure:"required"`
	Defaults map[string]string `mapstructure:"defaults"`
}

// Placeholder matches a {param} in a provider URL template
var Placeholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Unresolved returns the template placeholders that are neither required
// nor given a default, so no request could ever fill them
func (p ProviderConfig) Unresolved() []string {
	required := make(map[string]bool, len(p.Required))
	for _, name := range p.Required {
		required[name] = true
	}

	var out []string
	for _, m := range Placeholder.FindAllStringSubmatch(p.URL, -1) {
		name := m[1]
		if !required[name] && p.Defaults[name] == "" {
			out = append(out, name)
		}
	}
	return out
}

// keyPattern is the character set accepted for configured keys and prefixes
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type StorageConfig struct {
	Driver        string        `mapstructure:"driver"`
	KeysDir       string        `mapstructure:"keys_dir"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type UsageConfig struct {
	Driver     string        `mapstructure:"driver"`
	RedisURL   string        `mapstructure:"redis_url"`
	Prefix     string        `mapstructure:"prefix"`
	MaxEntries int           `mapstructure:"max_entries"`
	Retention  time.Duration `mapstructure:"retention"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
	BufferSize    int    `mapstructure:"buffer_size"`
}

const (
	DefaultCredits    = 30
	DefaultDailyLimit = 30
	DefaultKeyLife    = 365 * 24 * time.Hour
	BootstrapCredits  = 50
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageNone     = "none"

	UsageMemory = "memory"
	UsageRedis  = "redis"
)

// DefaultEndpointCosts is the credit price of every gateway endpoint
var DefaultEndpointCosts = map[string]int64{
	"image":  0,
	"text":   0,
	"qr":     0,
	"voice":  0,
	"ffinfo": 1,
	"video":  2,
	"num":    5,
}

// DefaultProviders are the upstream URL templates per endpoint
var DefaultProviders = map[string]ProviderConfig{
	"image": {
		URL:      "https://image.pollinations.ai/prompt/{prompt}?width={width}&height={height}&nologo=true",
		Required: []string{"prompt"},
		Defaults: map[string]string{"width": "512", "height": "512"},
	},
	"text": {
		URL:      "https://text.pollinations.ai/prompt/{prompt}",
		Required: []string{"prompt"},
	},
	"qr": {
		URL:      "https://api.qrserver.com/v1/create-qr-code/?size={size}&data={text}",
		Required: []string{"text"},
		Defaults: map[string]string{"size": "150x150"},
	},
	"voice": {
		URL:      "https://api.soundoftext.com/sounds/{text}?voice={voice}",
		Required: []string{"text"},
		Defaults: map[string]string{"voice": "alloy"},
	},
	"ffinfo": {
		URL:      "https://danger-info-alpha.vercel.app/accinfo?uid={uid}",
		Required: []string{"uid"},
	},
	"video": {
		URL:      "https://api.yabes-desu.workers.dev/ai/tool/txt2video?prompt={prompt}",
		Required: []string{"prompt"},
	},
	"num": {
		URL:      "https://nixonsmmapi.s77134867.workers.dev/?mobile={mobile}",
		Required: []string{"mobile"},
	},
}

// Load loads the configuration from viper (file, env and flags)
func Load() (*Config, error) {
	var cfg Config

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// zero is a valid balance and limit, only an absent value gets the default
	if !viper.IsSet("credits.default_credits") {
		cfg.Credits.DefaultCredits = DefaultCredits
	}
	if !viper.IsSet("credits.bootstrap_credits") {
		cfg.Credits.BootstrapCredits = BootstrapCredits
	}
	if !viper.IsSet("credits.default_daily_limit") {
		cfg.Credits.DefaultDailyLimit = DefaultDailyLimit
	}
	if !viper.IsSet("credits.key_lifetime") {
		cfg.Credits.KeyLifetime = DefaultKeyLife
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrCreate loads the config file, writing a default one with a
// generated admin password if none exists yet
func LoadOrCreate() (*Config, error) {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = "./config.yaml"
	}

	if _, err := os.Stat(configFile); err == nil {
		cfg, err := Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
		}
		return cfg, nil
	}

	// env vars and flags still apply without a file
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.Security.AdminPassword == "" {
		password, err := generateRandomPassword(20)
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin password: %w", err)
		}
		cfg.Security.AdminPassword = password
		fmt.Printf("\nGenerated admin password for user %q: %s\n", cfg.Security.AdminUsername, password)
		fmt.Println("Save this password, it is required for every /admin request.")
	}

	if err := SaveConfig(cfg, configFile); err != nil {
		fmt.Printf("Warning: failed to save config file: %v\n", err)
		fmt.Println("Continuing with in-memory config...")
	} else {
		fmt.Printf("Config file created: %s\n", configFile)
	}

	return cfg, nil
}

// SaveConfig writes the user facing sections to path
func SaveConfig(cfg *Config, path string) error {
	viper.Set("server", cfg.Server)
	viper.Set("security", cfg.Security)
	viper.Set("credits", cfg.Credits)
	viper.Set("endpoints", cfg.Endpoints)
	viper.Set("storage", cfg.Storage)
	viper.Set("usage", cfg.Usage)
	viper.Set("logging", cfg.Logging)

	return viper.WriteConfigAs(path)
}

func generateRandomPassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}

func setDefaults(cfg *Config) {
	// server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	// security
	if cfg.Security.AdminUsername == "" {
		cfg.Security.AdminUsername = "admin"
	}
	if cfg.Security.RateLimit.RequestsPerSecond == 0 {
		cfg.Security.RateLimit.RequestsPerSecond = 10
	}
	if cfg.Security.RateLimit.Burst == 0 {
		cfg.Security.RateLimit.Burst = 20
	}

	// credits
	if cfg.Credits.KeyPrefix == "" {
		cfg.Credits.KeyPrefix = "api_"
	}

	// endpoints missing from the file keep their default price
	if cfg.Endpoints == nil {
		cfg.Endpoints = make(map[string]int64, len(DefaultEndpointCosts))
	}
	for name, cost := range DefaultEndpointCosts {
		if _, ok := cfg.Endpoints[name]; !ok {
			cfg.Endpoints[name] = cost
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig, len(DefaultProviders))
	}
	for name, p := range DefaultProviders {
		if _, ok := cfg.Providers[name]; !ok {
			cfg.Providers[name] = p
		}
	}

	// storage
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageFile
	}
	if cfg.Storage.KeysDir == "" {
		cfg.Storage.KeysDir = "./data/keys"
	}
	if cfg.Storage.FlushInterval == 0 {
		cfg.Storage.FlushInterval = 10 * time.Second
	}

	// usage
	if cfg.Usage.Driver == "" {
		cfg.Usage.Driver = UsageMemory
	}
	if cfg.Usage.Prefix == "" {
		cfg.Usage.Prefix = "gateway:usage"
	}
	if cfg.Usage.MaxEntries == 0 {
		cfg.Usage.MaxEntries = 1000
	}
	if cfg.Usage.Retention == 0 {
		cfg.Usage.Retention = 30 * 24 * time.Hour
	}

	// logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/gateway.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}
	if cfg.Logging.BufferSize == 0 {
		cfg.Logging.BufferSize = 1000
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Credits.DefaultCredits < 0 {
		return fmt.Errorf("default_credits must not be negative: %d", cfg.Credits.DefaultCredits)
	}
	if cfg.Credits.BootstrapCredits < 0 {
		return fmt.Errorf("bootstrap_credits must not be negative: %d", cfg.Credits.BootstrapCredits)
	}
	if cfg.Credits.DefaultDailyLimit < 0 {
		return fmt.Errorf("default_daily_limit must not be negative: %d", cfg.Credits.DefaultDailyLimit)
	}
	if cfg.Credits.KeyLifetime < 0 {
		return fmt.Errorf("key_lifetime must not be negative: %s", cfg.Credits.KeyLifetime)
	}
	if !keyPattern.MatchString(cfg.Credits.KeyPrefix) {
		return fmt.Errorf("key_prefix may only contain letters, digits, '_' and '-': %q", cfg.Credits.KeyPrefix)
	}
	if k := cfg.Credits.BootstrapKey; k != "" && !keyPattern.MatchString(k) {
		return fmt.Errorf("bootstrap_key may only contain letters, digits, '_' and '-'")
	}

	if rl := cfg.Security.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		return fmt.Errorf("rate_limit needs positive requests_per_second and burst, got %v/%d",
			rl.RequestsPerSecond, rl.Burst)
	}

	for name, cost := range cfg.Endpoints {
		if cost < 0 {
			return fmt.Errorf("endpoint %s has negative cost %d", name, cost)
		}
		p, ok := cfg.Providers[name]
		if !ok {
			return fmt.Errorf("endpoint %s has no provider", name)
		}
		if missing := p.Unresolved(); len(missing) > 0 {
			return fmt.Errorf("endpoint %s: placeholders %v are neither required nor defaulted", name, missing)
		}
	}

	if cfg.Storage.FlushInterval <= 0 {
		return fmt.Errorf("storage.flush_interval must be positive: %s", cfg.Storage.FlushInterval)
	}
	if cfg.Usage.Retention <= 0 {
		return fmt.Errorf("usage.retention must be positive: %s", cfg.Usage.Retention)
	}
	if cfg.Usage.MaxEntries <= 0 {
		return fmt.Errorf("usage.max_entries must be positive: %d", cfg.Usage.MaxEntries)
	}

	switch cfg.Storage.Driver {
	case StorageFile, StorageNone:
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}

	switch cfg.Usage.Driver {
	case UsageMemory:
	case UsageRedis:
		if cfg.Usage.RedisURL == "" {
			return fmt.Errorf("usage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown usage driver: %s", cfg.Usage.Driver)
	}
	return nil
}
