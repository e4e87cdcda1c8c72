package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"fieldops/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Google     GoogleConfig     `yaml:"google"`
	Sync       SyncConfig       `yaml:"sync"`
	Categories []string         `yaml:"categories"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	// Root is the directory relative paths (credentials, database) are resolved against.
	Root string `yaml:"root"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// LockTTL bounds how long a crashed holder can keep the sheet lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	SpreadsheetID   string        `yaml:"spreadsheet_id"`
	CredentialsFile string        `yaml:"credentials_file"`
	SheetName       string        `yaml:"sheet_name"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
}

type SyncConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен, но если он есть, он должен парситься
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Google.SpreadsheetID != "" && c.Google.CredentialsFile == "" {
		return errors.New("google.credentials_file is required when google.spreadsheet_id is set")
	}
	return ValidateCategories(c.Categories)
}

// ValidateCategories rejects blank and duplicate job categories.
func ValidateCategories(categories []string) error {
	seen := make(map[string]bool, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c)
		if name == "" {
			return errors.New("category name must not be empty")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("duplicate category: %s", name)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			c.App.Root = wd
		}
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = models.DefaultSheetName
	}
	if c.Google.HTTPTimeout == 0 {
		c.Google.HTTPTimeout = 30 * time.Second
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = models.DefaultLockTTL * time.Millisecond
	}
	if c.Sync.QueueSize == 0 {
		c.Sync.QueueSize = models.WorkerQueueSize
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2 * time.Second
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultSyncBatchSize
	}
	if len(c.Categories) == 0 {
		c.Categories = append([]string(nil), models.DefaultCategories...)
	}
}

var driveLetterPath = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// ResolvePath resolves p against root unless p is already absolute.
// Windows drive-letter paths are treated as absolute on every platform.
func ResolvePath(root, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) || driveLetterPath.MatchString(p) || strings.HasPrefix(p, `\\`) {
		return p
	}
	return filepath.Join(root, p)
}

// CredentialsPath returns the resolved location of the service-account file.
func (g GoogleConfig) CredentialsPath(root string) string {
	return ResolvePath(root, g.CredentialsFile)
}

// Enabled reports whether the spreadsheet sink is usable: a spreadsheet id is
// configured and the credentials file exists.
func (g GoogleConfig) Enabled(root string) bool {
	if strings.TrimSpace(g.SpreadsheetID) == "" || g.CredentialsFile == "" {
		return false
	}
	info, err := os.Stat(g.CredentialsPath(root))
	return err == nil && !info.IsDir()
}
