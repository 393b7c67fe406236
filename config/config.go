package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g.
// LISTING_CAPTCHA_USERNAME.
const EnvPrefix = "LISTING"

// Config represents the application configuration
type Config struct {
	Console ConsoleConfig `yaml:"console" mapstructure:"console"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Timing  TimingConfig  `yaml:"timing" mapstructure:"timing"`
	Captcha CaptchaConfig `yaml:"captcha" mapstructure:"captcha"`
	Stealth StealthConfig `yaml:"stealth" mapstructure:"stealth"`
	Limits  LimitsConfig  `yaml:"limits" mapstructure:"limits"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ConsoleConfig contains the business console endpoints
type ConsoleConfig struct {
	LoginURL     string `yaml:"login_url" mapstructure:"login_url"`
	LocationsURL string `yaml:"locations_url" mapstructure:"locations_url"`
	AccountURL   string `yaml:"account_url" mapstructure:"account_url"` // prefix of the page reached after login
	MaxPageSize  int    `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// BrowserConfig contains browser automation settings
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	SlowMo         time.Duration `yaml:"slow_mo" mapstructure:"slow_mo"`
	ViewportWidth  int           `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" mapstructure:"viewport_height"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	ExecutablePath string        `yaml:"executable_path" mapstructure:"executable_path"`
	DataDir        string        `yaml:"data_dir" mapstructure:"data_dir"`
	DebugDir       string        `yaml:"debug_dir" mapstructure:"debug_dir"`
}

// TimingConfig contains bounded waits used by the bots
type TimingConfig struct {
	ElementTimeout   time.Duration `yaml:"element_timeout" mapstructure:"element_timeout"`
	PageLoadTimeout  time.Duration `yaml:"page_load_timeout" mapstructure:"page_load_timeout"`
	SpawnSettle      time.Duration `yaml:"spawn_settle" mapstructure:"spawn_settle"`
	PageSettle       time.Duration `yaml:"page_settle" mapstructure:"page_settle"`
	CodePollInterval time.Duration `yaml:"code_poll_interval" mapstructure:"code_poll_interval"`
	CodePollRetries  int           `yaml:"code_poll_retries" mapstructure:"code_poll_retries"`
	CodeSendDwell    time.Duration `yaml:"code_send_dwell" mapstructure:"code_send_dwell"`
	SnapshotTimeout  time.Duration `yaml:"snapshot_timeout" mapstructure:"snapshot_timeout"`
}

// CaptchaConfig contains solving service settings
type CaptchaConfig struct {
	Endpoint      string        `yaml:"endpoint" mapstructure:"endpoint"`
	Username      string        `yaml:"username" mapstructure:"username"`
	Password      string        `yaml:"password" mapstructure:"password"`
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	DecodeTimeout time.Duration `yaml:"decode_timeout" mapstructure:"decode_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ImageDir      string        `yaml:"image_dir" mapstructure:"image_dir"`
}

// StealthConfig contains human-like pacing settings
type StealthConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	MinDelay     time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	TypeMinDelay time.Duration `yaml:"type_min_delay" mapstructure:"type_min_delay"`
	TypeMaxDelay time.Duration `yaml:"type_max_delay" mapstructure:"type_max_delay"`
}

// LimitsConfig contains rate limiting settings
type LimitsConfig struct {
	MinDelay       time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	EntityDelay    time.Duration `yaml:"entity_delay" mapstructure:"entity_delay"`
	LoginDelay     time.Duration `yaml:"login_delay" mapstructure:"login_delay"`
	JitterPercent  float64       `yaml:"jitter_percent" mapstructure:"jitter_percent"`
	DailyEntities  int           `yaml:"daily_entities" mapstructure:"daily_entities"`
	HourlyEntities int           `yaml:"hourly_entities" mapstructure:"hourly_entities"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	Output     string `yaml:"output" mapstructure:"output"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
}

// LoadConfig loads configuration from file, environment variables and
// key=value overrides, in increasing order of precedence.
func LoadConfig(configPath string, overrides map[string]string) (*Config, error) {
	configPath, err := homedir.Expand(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := createDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := expandPaths(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		Console: ConsoleConfig{
			LoginURL:     "https://accounts.google.com/ServiceLogin",
			LocationsURL: "https://business.google.com/locations",
			AccountURL:   "https://myaccount.google",
			MaxPageSize:  100,
		},
		Browser: BrowserConfig{
			Headless:       true,
			SlowMo:         0,
			ViewportWidth:  1200,
			ViewportHeight: 700,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			DataDir:        "./data/browser",
			DebugDir:       "./data/debug",
		},
		Timing: TimingConfig{
			ElementTimeout:   10 * time.Second,
			PageLoadTimeout:  30 * time.Second,
			SpawnSettle:      2 * time.Second,
			PageSettle:       3 * time.Second,
			CodePollInterval: 15 * time.Second,
			CodePollRetries:  10,
			CodeSendDwell:    5 * time.Minute,
			SnapshotTimeout:  30 * time.Second,
		},
		Captcha: CaptchaConfig{
			Endpoint:      "http://api.dbcapi.me/api",
			MaxRetries:    10,
			DecodeTimeout: 60 * time.Second,
			PollInterval:  2 * time.Second,
			ImageDir:      "./data/captcha",
		},
		Stealth: StealthConfig{
			Enabled:      true,
			MinDelay:     500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			TypeMinDelay: 50 * time.Millisecond,
			TypeMaxDelay: 200 * time.Millisecond,
		},
		Limits: LimitsConfig{
			MinDelay:       2 * time.Second,
			EntityDelay:    30 * time.Second,
			LoginDelay:     10 * time.Second,
			JitterPercent:  20.0,
			DailyEntities:  200,
			HourlyEntities: 40,
		},
		Storage: StorageConfig{
			Path: "./data/listings.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("console.login_url", d.Console.LoginURL)
	v.SetDefault("console.locations_url", d.Console.LocationsURL)
	v.SetDefault("console.account_url", d.Console.AccountURL)
	v.SetDefault("console.max_page_size", d.Console.MaxPageSize)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.slow_mo", d.Browser.SlowMo)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.data_dir", d.Browser.DataDir)
	v.SetDefault("browser.debug_dir", d.Browser.DebugDir)

	v.SetDefault("timing.element_timeout", d.Timing.ElementTimeout)
	v.SetDefault("timing.page_load_timeout", d.Timing.PageLoadTimeout)
	v.SetDefault("timing.spawn_settle", d.Timing.SpawnSettle)
	v.SetDefault("timing.page_settle", d.Timing.PageSettle)
	v.SetDefault("timing.code_poll_interval", d.Timing.CodePollInterval)
	v.SetDefault("timing.code_poll_retries", d.Timing.CodePollRetries)
	v.SetDefault("timing.code_send_dwell", d.Timing.CodeSendDwell)
	v.SetDefault("timing.snapshot_timeout", d.Timing.SnapshotTimeout)

	v.SetDefault("captcha.endpoint", d.Captcha.Endpoint)
	v.SetDefault("captcha.username", "")
	v.SetDefault("captcha.password", "")
	v.SetDefault("captcha.max_retries", d.Captcha.MaxRetries)
	v.SetDefault("captcha.decode_timeout", d.Captcha.DecodeTimeout)
	v.SetDefault("captcha.poll_interval", d.Captcha.PollInterval)
	v.SetDefault("captcha.image_dir", d.Captcha.ImageDir)

	v.SetDefault("stealth.enabled", d.Stealth.Enabled)
	v.SetDefault("stealth.min_delay", d.Stealth.MinDelay)
	v.SetDefault("stealth.max_delay", d.Stealth.MaxDelay)
	v.SetDefault("stealth.type_min_delay", d.Stealth.TypeMinDelay)
	v.SetDefault("stealth.type_max_delay", d.Stealth.TypeMaxDelay)

	v.SetDefault("limits.min_delay", d.Limits.MinDelay)
	v.SetDefault("limits.entity_delay", d.Limits.EntityDelay)
	v.SetDefault("limits.login_delay", d.Limits.LoginDelay)
	v.SetDefault("limits.jitter_percent", d.Limits.JitterPercent)
	v.SetDefault("limits.daily_entities", d.Limits.DailyEntities)
	v.SetDefault("limits.hourly_entities", d.Limits.HourlyEntities)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
}

// createDefaultConfig creates a default configuration file
func createDefaultConfig(configPath string) error {
	config := Default()

	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// expandPaths resolves a leading ~ in every filesystem setting.
func expandPaths(config *Config) error {
	paths := []*string{
		&config.Browser.ExecutablePath,
		&config.Browser.DataDir,
		&config.Browser.DebugDir,
		&config.Captcha.ImageDir,
		&config.Storage.Path,
	}
	if config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		paths = append(paths, &config.Logging.Output)
	}

	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Browser.ViewportWidth <= 0 || config.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", config.Browser.ViewportWidth, config.Browser.ViewportHeight)
	}
	if config.Captcha.MaxRetries <= 0 {
		return fmt.Errorf("captcha max retries must be positive")
	}
	if config.Timing.CodePollRetries <= 0 {
		return fmt.Errorf("code poll retries must be positive")
	}
	if config.Timing.ElementTimeout <= 0 {
		return fmt.Errorf("element timeout must be positive")
	}
	if config.Timing.SpawnSettle < 0 || config.Timing.PageSettle < 0 || config.Timing.CodeSendDwell < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if config.Stealth.MaxDelay < config.Stealth.MinDelay {
		return fmt.Errorf("stealth max delay must not be below min delay")
	}
	if config.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	return nil
}
