package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/sceneslurp/internal/progress"
)

// ErrConfigProblem matches every loading and validation error.
var ErrConfigProblem = errors.New("config problem")

// API variants.
const (
	APIM2M    = "m2m"
	APILegacy = "legacy"
)

// Config defines configuration for the sceneslurp CLI.
type Config struct {
	API      string `yaml:"api"`
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TokenCache is a file path or a bucket URL ("gs://bucket/token.yaml").
	TokenCache string `yaml:"token_cache"`

	Dir     string `yaml:"dir"`
	Ledger  string `yaml:"ledger"`
	Archive string `yaml:"archive"`

	Workers           int           `yaml:"workers"`
	Stagger           time.Duration `yaml:"stagger"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	ChunkSize         int64         `yaml:"chunk_size"`
	Progress          bool          `yaml:"progress"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`

	Download  DownloadConfig  `yaml:"download"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Order     OrderConfig     `yaml:"order"`
}

// DownloadConfig defines per-transfer retry behavior.
type DownloadConfig struct {
	Attempts int           `yaml:"attempts"`
	Pause    time.Duration `yaml:"pause"`
}

// RateLimitConfig defines how RATE_LIMIT responses are retried.
type RateLimitConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
}

// OrderConfig defines the bulk order service settings.
type OrderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
	Format     string        `yaml:"format"`
	Collection string        `yaml:"collection"`
	Products   []string      `yaml:"products"`
}

// Default returns a Config with the defaults of every component.
func Default() Config {
	return Config{
		API:               APIM2M,
		TokenCache:        defaultTokenCache(),
		Dir:               ".",
		Ledger:            "sceneslurp.db",
		Workers:           4,
		Stagger:           5 * time.Second,
		TaskTimeout:       time.Hour,
		ChunkSize:         1 << 20,
		RequestsPerSecond: 4,
		Download: DownloadConfig{
			Attempts: 3,
			Pause:    30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Retries: 3,
			Delay:   5 * time.Minute,
		},
		Order: OrderConfig{
			BatchSize:  10,
			BatchPause: 30 * time.Second,
			Format:     "GTIFF",
			Collection: "olitirs8_collection",
			Products:   []string{"sr"},
		},
	}
}

func defaultTokenCache() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".sceneslurp-token.yaml"
	}
	return filepath.Join(dir, "sceneslurp", "token.yaml")
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	API               string  `yaml:"api"`
	BaseURL           string  `yaml:"base_url"`
	Username          string  `yaml:"username"`
	Password          string  `yaml:"password"`
	TokenCache        string  `yaml:"token_cache"`
	Dir               string  `yaml:"dir"`
	Ledger            string  `yaml:"ledger"`
	Archive           string  `yaml:"archive"`
	Workers           int     `yaml:"workers"`
	Stagger           string  `yaml:"stagger"`
	TaskTimeout       string  `yaml:"task_timeout"`
	ChunkSize         string  `yaml:"chunk_size"`
	Progress          bool    `yaml:"progress"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Download struct {
		Attempts int    `yaml:"attempts"`
		Pause    string `yaml:"pause"`
	} `yaml:"download"`

	RateLimit struct {
		Retries int    `yaml:"retries"`
		Delay   string `yaml:"delay"`
	} `yaml:"rate_limit"`

	Order struct {
		BaseURL    string   `yaml:"base_url"`
		Username   string   `yaml:"username"`
		Password   string   `yaml:"password"`
		BatchSize  int      `yaml:"batch_size"`
		BatchPause string   `yaml:"batch_pause"`
		Format     string   `yaml:"format"`
		Collection string   `yaml:"collection"`
		Products   []string `yaml:"products"`
	} `yaml:"order"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config file: %v", ErrConfigProblem, err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("%w: parse config file: %v", ErrConfigProblem, err)
	}

	override := Config{
		API:               yc.API,
		BaseURL:           yc.BaseURL,
		Username:          yc.Username,
		Password:          yc.Password,
		TokenCache:        yc.TokenCache,
		Dir:               yc.Dir,
		Ledger:            yc.Ledger,
		Archive:           yc.Archive,
		Workers:           yc.Workers,
		Progress:          yc.Progress,
		RequestsPerSecond: yc.RequestsPerSecond,
		Download:          DownloadConfig{Attempts: yc.Download.Attempts},
		RateLimit:         RateLimitConfig{Retries: yc.RateLimit.Retries},
		Order: OrderConfig{
			BaseURL:    yc.Order.BaseURL,
			Username:   yc.Order.Username,
			Password:   yc.Order.Password,
			BatchSize:  yc.Order.BatchSize,
			Format:     yc.Order.Format,
			Collection: yc.Order.Collection,
			Products:   yc.Order.Products,
		},
	}

	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse chunk_size: %v", ErrConfigProblem, err)
		}
		override.ChunkSize = size
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"stagger", yc.Stagger, &override.Stagger},
		{"task_timeout", yc.TaskTimeout, &override.TaskTimeout},
		{"download.pause", yc.Download.Pause, &override.Download.Pause},
		{"rate_limit.delay", yc.RateLimit.Delay, &override.RateLimit.Delay},
		{"order.batch_pause", yc.Order.BatchPause, &override.Order.BatchPause},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfigProblem, d.name, err)
		}
		*d.dst = v
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SCENESLURP_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"API":              &c.API,
		"BASE_URL":         &c.BaseURL,
		"USERNAME":         &c.Username,
		"PASSWORD":         &c.Password,
		"TOKEN_CACHE":      &c.TokenCache,
		"DIR":              &c.Dir,
		"LEDGER":           &c.Ledger,
		"ARCHIVE":          &c.Archive,
		"ESPA_BASE_URL":    &c.Order.BaseURL,
		"ESPA_USERNAME":    &c.Order.Username,
		"ESPA_PASSWORD":    &c.Order.Password,
		"ORDER_FORMAT":     &c.Order.Format,
		"ORDER_COLLECTION": &c.Order.Collection,
	}
	for name, dst := range strs {
		if v := os.Getenv("SCENESLURP_" + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":            &c.Workers,
		"DOWNLOAD_ATTEMPTS":  &c.Download.Attempts,
		"RATE_LIMIT_RETRIES": &c.RateLimit.Retries,
		"ORDER_BATCH_SIZE":   &c.Order.BatchSize,
	}
	for name, dst := range ints {
		if v := os.Getenv("SCENESLURP_" + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: parse SCENESLURP_%s: %v", ErrConfigProblem, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"STAGGER":           &c.Stagger,
		"TASK_TIMEOUT":      &c.TaskTimeout,
		"DOWNLOAD_PAUSE":    &c.Download.Pause,
		"RATE_LIMIT_DELAY":  &c.RateLimit.Delay,
		"ORDER_BATCH_PAUSE": &c.Order.BatchPause,
	}
	for name, dst := range durations {
		if v := os.Getenv("SCENESLURP_" + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: parse SCENESLURP_%s: %v", ErrConfigProblem, name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("SCENESLURP_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("%w: parse SCENESLURP_CHUNK_SIZE: %v", ErrConfigProblem, err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("SCENESLURP_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: parse SCENESLURP_REQUESTS_PER_SECOND: %v", ErrConfigProblem, err)
		}
		c.RequestsPerSecond = f
	}
	if v := os.Getenv("SCENESLURP_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("SCENESLURP_ORDER_PRODUCTS"); v != "" {
		c.Order.Products = strings.Split(v, ",")
	}

	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var problems []string
	if c.API != APIM2M && c.API != APILegacy {
		problems = append(problems, fmt.Sprintf("api must be %q or %q, got %q", APIM2M, APILegacy, c.API))
	}
	if c.Username == "" {
		problems = append(problems, "username is required")
	}
	if c.Password == "" {
		problems = append(problems, "password is required")
	}
	if c.Workers <= 0 {
		problems = append(problems, "workers must be positive")
	}
	if c.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.TaskTimeout <= 0 {
		problems = append(problems, "task_timeout must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		problems = append(problems, "requests_per_second must be positive")
	}
	if c.Download.Attempts <= 0 {
		problems = append(problems, "download.attempts must be positive")
	}
	if c.Order.BatchSize <= 0 {
		problems = append(problems, "order.batch_size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigProblem, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateOrder checks the settings of the order commands.
func (c *Config) ValidateOrder() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Order.Username == "" || c.Order.Password == "" {
		return fmt.Errorf("%w: order.username and order.password are required", ErrConfigProblem)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	mergeString(&c.API, override.API)
	mergeString(&c.BaseURL, override.BaseURL)
	mergeString(&c.Username, override.Username)
	mergeString(&c.Password, override.Password)
	mergeString(&c.TokenCache, override.TokenCache)
	mergeString(&c.Dir, override.Dir)
	mergeString(&c.Ledger, override.Ledger)
	mergeString(&c.Archive, override.Archive)
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Stagger != 0 {
		c.Stagger = override.Stagger
	}
	if override.TaskTimeout != 0 {
		c.TaskTimeout = override.TaskTimeout
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Progress {
		c.Progress = true
	}
	if override.RequestsPerSecond != 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Download.Attempts != 0 {
		c.Download.Attempts = override.Download.Attempts
	}
	if override.Download.Pause != 0 {
		c.Download.Pause = override.Download.Pause
	}
	if override.RateLimit.Retries != 0 {
		c.RateLimit.Retries = override.RateLimit.Retries
	}
	if override.RateLimit.Delay != 0 {
		c.RateLimit.Delay = override.RateLimit.Delay
	}
	mergeString(&c.Order.BaseURL, override.Order.BaseURL)
	mergeString(&c.Order.Username, override.Order.Username)
	mergeString(&c.Order.Password, override.Order.Password)
	mergeString(&c.Order.Format, override.Order.Format)
	mergeString(&c.Order.Collection, override.Order.Collection)
	if override.Order.BatchSize != 0 {
		c.Order.BatchSize = override.Order.BatchSize
	}
	if override.Order.BatchPause != 0 {
		c.Order.BatchPause = override.Order.BatchPause
	}
	if len(override.Order.Products) > 0 {
		c.Order.Products = append([]string(nil), override.Order.Products...)
	}
	return c
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
