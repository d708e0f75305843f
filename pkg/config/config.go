package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PARTYSYNC_"

// CategoryOther matches any extension that no named category lists.
const CategoryOther = "other"

// Config holds all configuration options for a sync run
type Config struct {
	// Remote sources (kemono, coomer)
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Where and how files land on disk
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Attachment download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Retry policy for every outbound request
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourceConfig describes one aggregator site
type SourceConfig struct {
	Name            string `yaml:"name" json:"name"`
	BaseURL         string `yaml:"base_url" json:"base_url"`
	FallbackBaseURL string `yaml:"fallback_base_url" json:"fallback_base_url"`
	Enabled         bool   `yaml:"enabled" json:"enabled"`
}

// StorageConfig holds the storage root and per-creator layout options
type StorageConfig struct {
	Root                string        `yaml:"root" json:"root"`
	CreatePerPostFolder bool          `yaml:"create_per_post_folder" json:"create_per_post_folder"`
	PostLimitPerCreator int           `yaml:"post_limit_per_creator" json:"post_limit_per_creator"`
	DiskQuotaMB         float64       `yaml:"disk_quota_mb" json:"disk_quota_mb"`
	QuotaGraceDelay     time.Duration `yaml:"quota_grace_delay" json:"quota_grace_delay"`
	WriteContentFile    bool          `yaml:"write_content_file" json:"write_content_file"`
}

// DownloadConfig holds attachment filters and worker settings
type DownloadConfig struct {
	ConcurrentDownloads int                 `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	ProfileConcurrency  int                 `yaml:"profile_concurrency" json:"profile_concurrency"`
	Timeout             time.Duration       `yaml:"timeout" json:"timeout"`
	MinFileSizeMB       float64             `yaml:"min_file_size_mb" json:"min_file_size_mb"`
	MaxFileSizeMB       float64             `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	AllowedFileTypes    []string            `yaml:"allowed_file_types" json:"allowed_file_types"`
	FileTypeExtensions  map[string][]string `yaml:"file_type_extensions" json:"file_type_extensions"`
	UserAgent           string              `yaml:"user_agent" json:"user_agent"`
}

// RetryConfig holds the bounded retry policy
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	Delay        time.Duration `yaml:"delay" json:"delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultFileTypeExtensions returns the built-in extension categories
func DefaultFileTypeExtensions() map[string][]string {
	return map[string][]string{
		"images":    {".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".jfif"},
		"videos":    {".mp4", ".webm", ".mov", ".mkv", ".avi", ".m4v", ".wmv"},
		"archives":  {".zip", ".rar", ".7z", ".tar", ".gz"},
		"documents": {".pdf", ".txt", ".doc", ".docx", ".psd", ".clip", ".epub"},
		"audio":     {".mp3", ".wav", ".flac", ".ogg", ".m4a"},
	}
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}

	return &Config{
		Sources: []SourceConfig{
			{Name: "kemono", BaseURL: "https://kemono.su", FallbackBaseURL: "https://kemono.party", Enabled: true},
			{Name: "coomer", BaseURL: "https://coomer.su", FallbackBaseURL: "https://coomer.party", Enabled: false},
		},
		Storage: StorageConfig{
			Root:                "./partysync",
			CreatePerPostFolder: true,
			PostLimitPerCreator: 0,
			DiskQuotaMB:         0,
			QuotaGraceDelay:     10 * time.Second,
			WriteContentFile:    true,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: workers,
			ProfileConcurrency:  4,
			Timeout:             60 * time.Second,
			AllowedFileTypes:    []string{"images", "videos", "archives", "documents", "audio", CategoryOther},
			FileTypeExtensions:  DefaultFileTypeExtensions(),
			UserAgent:           "partysync/1.0",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			Delay:        2 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
		},
		Notifications: NotificationConfig{
			Enabled:    false,
			OnComplete: true,
			OnError:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if root := os.Getenv(envPrefix + "STORAGE_ROOT"); root != "" {
		c.Storage.Root = root
	}
	if v := os.Getenv(envPrefix + "POST_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPOST_LIMIT: %w", envPrefix, err))
		} else {
			c.Storage.PostLimitPerCreator = n
		}
	}
	if v := os.Getenv(envPrefix + "DISK_QUOTA_MB"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDISK_QUOTA_MB: %w", envPrefix, err))
		} else {
			c.Storage.DiskQuotaMB = f
		}
	}
	if v := os.Getenv(envPrefix + "CONCURRENT_DOWNLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCONCURRENT_DOWNLOADS: %w", envPrefix, err))
		} else if n > 0 {
			c.Download.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv(envPrefix + "REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_MINUTE: %w", envPrefix, err))
		} else if n > 0 {
			c.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv(envPrefix + "MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_ATTEMPTS: %w", envPrefix, err))
		} else if n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv(envPrefix + "NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	for i := range c.Sources {
		key := envPrefix + strings.ToUpper(c.Sources[i].Name) + "_URL"
		if v := os.Getenv(key); v != "" {
			c.Sources[i].BaseURL = strings.TrimRight(v, "/")
		}
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"partysync.yaml",
		".partysync.yaml",
		".partysync.yml",
		filepath.Join(home, ".config", "partysync", "config.yaml"),
		filepath.Join(home, ".partysync.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, errors.New("source name is required"))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source %q", s.Name))
		}
		seen[s.Name] = true
		if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
			errs = append(errs, fmt.Errorf("source %q: base url must be http(s)", s.Name))
		}
	}

	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage root is required"))
	}
	if c.Storage.PostLimitPerCreator < 0 {
		errs = append(errs, errors.New("post limit cannot be negative"))
	}
	if c.Storage.DiskQuotaMB < 0 {
		errs = append(errs, errors.New("disk quota cannot be negative"))
	}
	if c.Storage.QuotaGraceDelay < 0 {
		errs = append(errs, errors.New("quota grace delay cannot be negative"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.ProfileConcurrency <= 0 {
		errs = append(errs, errors.New("profile concurrency must be positive"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.MinFileSizeMB < 0 || c.Download.MaxFileSizeMB < 0 {
		errs = append(errs, errors.New("file size bounds cannot be negative"))
	}
	if c.Download.MaxFileSizeMB > 0 && c.Download.MinFileSizeMB > c.Download.MaxFileSizeMB {
		errs = append(errs, errors.New("min file size exceeds max file size"))
	}
	for _, category := range c.Download.AllowedFileTypes {
		if category == CategoryOther {
			continue
		}
		if _, ok := c.Download.FileTypeExtensions[category]; !ok {
			errs = append(errs, fmt.Errorf("allowed file type %q has no extension list", category))
		}
	}
	owner := make(map[string]string)
	for _, category := range c.Download.Categories() {
		for _, ext := range c.Download.FileTypeExtensions[category] {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if prev, ok := owner[ext]; ok {
				errs = append(errs, fmt.Errorf("extension %q is listed in both %q and %q", ext, prev, category))
				continue
			}
			owner[ext] = category
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Source returns the named source configuration
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// EnabledSources returns the sources a sync run should visit
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// StateDir is where snapshots and the error log live
func (c *Config) StateDir() string {
	return filepath.Join(c.Storage.Root, "Config")
}

// ErrorLogPath is the append-only failure log
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.StateDir(), "errors.txt")
}

// CreatorsDir is the root of the mirrored tree
func (c *Config) CreatorsDir() string {
	return filepath.Join(c.Storage.Root, "Creators")
}

// QuotaBytes converts the configured ceiling; 0 disables the quota.
func (s StorageConfig) QuotaBytes() int64 {
	return megabytes(s.DiskQuotaMB)
}

// MinFileBytes returns the lower size bound, 0 meaning none
func (d DownloadConfig) MinFileBytes() int64 {
	return megabytes(d.MinFileSizeMB)
}

// MaxFileBytes returns the upper size bound, 0 meaning none
func (d DownloadConfig) MaxFileBytes() int64 {
	return megabytes(d.MaxFileSizeMB)
}

func megabytes(mb float64) int64 {
	if mb <= 0 {
		return 0
	}
	return int64(mb * 1024 * 1024)
}

// Categories returns the configured category names in stable order
func (d DownloadConfig) Categories() []string {
	names := make([]string, 0, len(d.FileTypeExtensions))
	for name := range d.FileTypeExtensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if root, ok := flags["storage-root"].(string); ok && root != "" {
		c.Storage.Root = root
	}
	if limit, ok := flags["post-limit"].(int); ok && limit >= 0 {
		c.Storage.PostLimitPerCreator = limit
	}
	if quota, ok := flags["disk-quota-mb"].(float64); ok && quota >= 0 {
		c.Storage.DiskQuotaMB = quota
	}
	if perPost, ok := flags["per-post-folder"].(bool); ok {
		c.Storage.CreatePerPostFolder = perPost
	}
	if concurrent, ok := flags["concurrent-downloads"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if attempts, ok := flags["max-attempts"].(int); ok && attempts > 0 {
		c.Retry.MaxAttempts = attempts
	}
	if enabled, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = enabled
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if sources, ok := flags["sources"].([]string); ok && len(sources) > 0 {
		want := make(map[string]bool, len(sources))
		for _, s := range sources {
			want[strings.ToLower(strings.TrimSpace(s))] = true
		}
		for i := range c.Sources {
			c.Sources[i].Enabled = want[c.Sources[i].Name]
		}
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".partysync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
