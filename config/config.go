package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	kiloByte = 1024
	megaByte = 1024 * kiloByte
)

// environment keys read by LoadEnv
const (
	EnvS3AccessKey = "DASH_S3_ACCESS_KEY"
	EnvS3SecretKey = "DASH_S3_SECRET_KEY"
	EnvS3Endpoint  = "DASH_S3_ENDPOINT"
	EnvDataPath    = "DASH_DATA_PATH"
)

// missing category policies
const (
	MissingCategoryBucket = "bucket"
	MissingCategoryDrop   = "drop"
)

type Config struct {
	Server    serverConfig    `yaml:"server"`
	Data      dataConfig      `yaml:"data"`
	Storage   storageConfig   `yaml:"storage"`
	Dashboard dashboardConfig `yaml:"dashboard"`
	Logging   loggingConfig   `yaml:"logging"`
}
type serverConfig struct {
	Port       int    `yaml:"port"`
	Host       string `yaml:"host"`
	Timeout    int    `yaml:"timeout"` // seconds, per request
	EnableGRPC bool   `yaml:"enable_grpc"`
	GRPCPort   int    `yaml:"grpc_port"` // health probe only
}
type dataConfig struct {
	Path              string `yaml:"path"` // local file or s3://bucket/key
	BatchSize         int    `yaml:"batch_size"`
	RowLimit          int    `yaml:"row_limit"`            // 0 loads every row
	MaxDownloadSizeMB int    `yaml:"max_download_size_mb"` // max size to download from S3
}
type storageConfig struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	// secrets only come from the environment
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}
type dashboardConfig struct {
	MissingCategory string `yaml:"missing_category"`
	TopCities       int    `yaml:"top_cities"`
	Locale          string `yaml:"locale"`
	Currency        string `yaml:"currency"`
}
type loggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

var configInstance *Config = defaultConfig()

func defaultConfig() *Config {
	return &Config{
		Server: serverConfig{
			Port:       8080,
			Host:       "localhost",
			Timeout:    30,
			EnableGRPC: false,
			GRPCPort:   9090,
		},
		Data: dataConfig{
			Path:              "data/all_data.csv",
			BatchSize:         1024 * 8, // rows per batch
			RowLimit:          0,
			MaxDownloadSizeMB: 256,
		},
		Storage: storageConfig{
			Region: "us-east-1",
		},
		Dashboard: dashboardConfig{
			MissingCategory: MissingCategoryBucket,
			TopCities:       5,
			Locale:          "es-CO",
			Currency:        "USD",
		},
		Logging: loggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

func GetConfig() *Config {
	return configInstance
}

// MaxDownloadBytes is the S3 download limit in bytes, 0 when unlimited.
func (c *Config) MaxDownloadBytes() int64 {
	if c.Data.MaxDownloadSizeMB <= 0 {
		return 0
	}
	return int64(c.Data.MaxDownloadSizeMB) * int64(megaByte)
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	suffix := strings.Split(filePath, ".")[len(strings.Split(filePath, "."))-1]
	if suffix != "yaml" && suffix != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	config := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	mergeConfig(configInstance, config)
	return configInstance.validate()
}

// LoadEnv reads .env style files into the process environment and applies the
// DASH_* overrides. With no files it tries ./.env and ignores its absence.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", files, err)
	}
	applyEnv(configInstance)
	return nil
}

func applyEnv(dst *Config) {
	if v, ok := os.LookupEnv(EnvS3AccessKey); ok {
		dst.Storage.AccessKey = v
	}
	if v, ok := os.LookupEnv(EnvS3SecretKey); ok {
		dst.Storage.SecretKey = v
	}
	if v, ok := os.LookupEnv(EnvS3Endpoint); ok && v != "" {
		dst.Storage.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvDataPath); ok && v != "" {
		dst.Data.Path = v
	}
}

func (c *Config) validate() error {
	switch c.Dashboard.MissingCategory {
	case MissingCategoryBucket, MissingCategoryDrop:
	default:
		return fmt.Errorf("dashboard.missing_category must be %q or %q, got %q",
			MissingCategoryBucket, MissingCategoryDrop, c.Dashboard.MissingCategory)
	}
	if c.Dashboard.TopCities <= 0 {
		return fmt.Errorf("dashboard.top_cities must be positive, got %d", c.Dashboard.TopCities)
	}
	if c.Data.BatchSize <= 0 || c.Data.BatchSize > 65535 {
		return fmt.Errorf("data.batch_size must be between 1 and 65535, got %d", c.Data.BatchSize)
	}
	if c.Data.RowLimit < 0 {
		return fmt.Errorf("data.row_limit cannot be negative, got %d", c.Data.RowLimit)
	}
	return nil
}

func mergeConfig(dst *Config, src map[string]interface{}) {
	// =============================
	// SERVER
	// =============================
	if server, ok := src["server"].(map[string]interface{}); ok {
		if v, ok := server["port"].(int); ok {
			dst.Server.Port = v
		}
		if v, ok := server["host"].(string); ok {
			dst.Server.Host = v
		}
		if v, ok := server["timeout"].(int); ok {
			dst.Server.Timeout = v
		}
		if v, ok := server["enable_grpc"].(bool); ok {
			dst.Server.EnableGRPC = v
		}
		if v, ok := server["grpc_port"].(int); ok {
			dst.Server.GRPCPort = v
		}
	}

	// =============================
	// DATA
	// =============================
	if data, ok := src["data"].(map[string]interface{}); ok {
		if v, ok := data["path"].(string); ok {
			dst.Data.Path = v
		}
		if v, ok := data["batch_size"].(int); ok {
			dst.Data.BatchSize = v
		}
		if v, ok := data["row_limit"].(int); ok {
			dst.Data.RowLimit = v
		}
		if v, ok := data["max_download_size_mb"].(int); ok {
			dst.Data.MaxDownloadSizeMB = v
		}
	}

	// =============================
	// STORAGE
	// =============================
	if storage, ok := src["storage"].(map[string]interface{}); ok {
		if v, ok := storage["region"].(string); ok {
			dst.Storage.Region = v
		}
		if v, ok := storage["endpoint"].(string); ok {
			dst.Storage.Endpoint = v
		}
		if v, ok := storage["path_style"].(bool); ok {
			dst.Storage.PathStyle = v
		}
	}

	// =============================
	// DASHBOARD
	// =============================
	if dash, ok := src["dashboard"].(map[string]interface{}); ok {
		if v, ok := dash["missing_category"].(string); ok {
			dst.Dashboard.MissingCategory = strings.ToLower(v)
		}
		if v, ok := dash["top_cities"].(int); ok {
			dst.Dashboard.TopCities = v
		}
		if v, ok := dash["locale"].(string); ok {
			dst.Dashboard.Locale = v
		}
		if v, ok := dash["currency"].(string); ok {
			dst.Dashboard.Currency = strings.ToUpper(v)
		}
	}

	// =============================
	// LOGGING
	// =============================
	if logging, ok := src["logging"].(map[string]interface{}); ok {
		if v, ok := logging["level"].(string); ok {
			dst.Logging.Level = v
		}
		if v, ok := logging["development"].(bool); ok {
			dst.Logging.Development = v
		}
	}
}
