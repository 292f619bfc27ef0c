package config

import (
	"log"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Storage    StorageConfig
	Drive      DriveConfig
	TimeSeries TimeSeriesConfig
	Forecast   ForecastConfig
	LogLevel   string
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Enabled bool
	// URL takes precedence over the discrete fields and is opened with the pgx driver.
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type CacheConfig struct {
	Enabled    bool
	RedisURL   string
	RedisHost  string
	RedisPort  string
	Password   string
	DB         int
	TTLSeconds int
}

// StorageConfig describes the S3-compatible bucket used for inputs and reports.
type StorageConfig struct {
	Enabled   bool
	Driver    string // minio or s3
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type DriveConfig struct {
	CredentialsJSON string
	FolderPath      string
}

// TimeSeriesConfig points at the InfluxDB bucket that receives forecast bands.
type TimeSeriesConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// ForecastConfig holds the knobs of the forecasting pipeline.
type ForecastConfig struct {
	SeasonalPeriods int
	Horizon         int
	TrainRatio      float64
	ConfidenceLevel float64
	ZScoreMode      string
	HoldingCostRate float64
	DateLayout      string
	OutputDir       string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads configuration once per process from the environment (and .env).
func Load() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		v := viper.GetViper()
		SetDefaults(v)
		v.AutomaticEnv()

		instance = FromViper(v)
		ensureDir(instance.Forecast.OutputDir)
	})

	return instance
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "autopo")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 300)

	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_DRIVER", "minio")
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PREFIX", "forecasts")

	v.SetDefault("GOOGLE_DRIVE_CREDENTIALS_JSON", "")
	v.SetDefault("GOOGLE_DRIVE_FOLDER_PATH", "")

	v.SetDefault("INFLUX_ENABLED", false)
	v.SetDefault("INFLUX_URL", "http://localhost:8086")
	v.SetDefault("INFLUX_TOKEN", "")
	v.SetDefault("INFLUX_ORG", "")
	v.SetDefault("INFLUX_BUCKET", "forecasts")

	v.SetDefault("FORECAST_SEASONAL_PERIODS", 12)
	v.SetDefault("FORECAST_HORIZON", 0)
	v.SetDefault("FORECAST_TRAIN_RATIO", 0.8)
	v.SetDefault("FORECAST_CONFIDENCE_LEVEL", 0.95)
	v.SetDefault("FORECAST_ZSCORE_MODE", "exact")
	v.SetDefault("FORECAST_HOLDING_COST_RATE", 0.2)
	v.SetDefault("FORECAST_DATE_LAYOUT", "2006-01-02")
	v.SetDefault("FORECAST_OUTPUT_DIR", "./data/output")
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			RedisURL:   v.GetString("REDIS_URL"),
			RedisHost:  v.GetString("REDIS_HOST"),
			RedisPort:  v.GetString("REDIS_PORT"),
			Password:   v.GetString("REDIS_PASSWORD"),
			DB:         v.GetInt("REDIS_DB"),
			TTLSeconds: v.GetInt("CACHE_TTL_SECONDS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Driver:    v.GetString("STORAGE_DRIVER"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			Prefix:    v.GetString("STORAGE_PREFIX"),
		},
		Drive: DriveConfig{
			CredentialsJSON: v.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
			FolderPath:      v.GetString("GOOGLE_DRIVE_FOLDER_PATH"),
		},
		TimeSeries: TimeSeriesConfig{
			Enabled: v.GetBool("INFLUX_ENABLED"),
			URL:     v.GetString("INFLUX_URL"),
			Token:   v.GetString("INFLUX_TOKEN"),
			Org:     v.GetString("INFLUX_ORG"),
			Bucket:  v.GetString("INFLUX_BUCKET"),
		},
		Forecast: ForecastConfig{
			SeasonalPeriods: v.GetInt("FORECAST_SEASONAL_PERIODS"),
			Horizon:         v.GetInt("FORECAST_HORIZON"),
			TrainRatio:      v.GetFloat64("FORECAST_TRAIN_RATIO"),
			ConfidenceLevel: v.GetFloat64("FORECAST_CONFIDENCE_LEVEL"),
			ZScoreMode:      v.GetString("FORECAST_ZSCORE_MODE"),
			HoldingCostRate: v.GetFloat64("FORECAST_HOLDING_COST_RATE"),
			DateLayout:      v.GetString("FORECAST_DATE_LAYOUT"),
			OutputDir:       v.GetString("FORECAST_OUTPUT_DIR"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
