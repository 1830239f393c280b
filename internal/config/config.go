package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
	Storage  StorageConfig  `toml:"storage"`
	Detector DetectorConfig `toml:"detector"`
	LLM      LLMConfig      `toml:"llm"`
	CORS     CORSConfig     `toml:"cors"`
}

type AppConfig struct {
	Name           string `toml:"name" validate:"required"`
	Env            string `toml:"env"`
	Host           string `toml:"host"`
	Port           int    `toml:"port" validate:"gt=0,lt=65536"`
	GinMode        string `toml:"gin_mode" validate:"oneof=debug release test"`
	TempDir        string `toml:"temp_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

type DatabaseConfig struct {
	Driver   string `toml:"driver" validate:"oneof=mysql postgres sqlite"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
	Params   string `toml:"params"`
	// Path is the sqlite database file; ignored by the other drivers.
	Path string `toml:"path"`
}

// RedisConfig leaves caching disabled when Addr is empty.
type RedisConfig struct {
	Addr                   string `toml:"addr"`
	Password               string `toml:"password"`
	DB                     int    `toml:"db"`
	ResultsTTLSeconds      int    `toml:"results_ttl_seconds"`
	ResultsDirtyTTLSeconds int    `toml:"results_dirty_ttl_seconds"`
}

// RabbitMQConfig leaves event publishing disabled when URL is empty.
type RabbitMQConfig struct {
	URL            string `toml:"url"`
	DetectionQueue string `toml:"detection_queue"`
}

type StorageConfig struct {
	Root             string `toml:"root" validate:"required"`
	PublicBaseURL    string `toml:"public_base_url" validate:"required"`
	SigningSecret    string `toml:"signing_secret"`
	SignedURLMinutes int    `toml:"signed_url_minutes"`
}

type DetectorConfig struct {
	Engine        string  `toml:"engine" validate:"oneof=remote onnx"`
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	Model         string  `toml:"model"`
	Version       int     `toml:"version"`
	Confidence    float64 `toml:"confidence" validate:"gte=0,lte=1"`
	Overlap       float64 `toml:"overlap" validate:"gte=0,lte=1"`
	ModelPath     string  `toml:"model_path"`
	LabelsPath    string  `toml:"labels_path"`
	InputSize     int     `toml:"input_size"`
	ONNXSharedLib string  `toml:"onnx_shared_lib_path"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	envFile := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags plus the cross-field rules of the selected
// database driver and detection engine.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("invalid config: database.path is required for sqlite")
		}
	default:
		if c.Database.Host == "" || c.Database.DB == "" {
			return fmt.Errorf("invalid config: database.host and database.db are required for %s", c.Database.Driver)
		}
	}
	switch c.Detector.Engine {
	case "remote":
		if c.Detector.BaseURL == "" || c.Detector.Model == "" {
			return fmt.Errorf("invalid config: detector.base_url and detector.model are required for the remote engine")
		}
	case "onnx":
		if c.Detector.ModelPath == "" || c.Detector.LabelsPath == "" {
			return fmt.Errorf("invalid config: detector.model_path and detector.labels_path are required for the onnx engine")
		}
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// DSN renders the connection string for the configured database driver.
func (c *Config) DSN() string {
	d := c.Database
	switch d.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s", d.Host, d.Port, d.User, d.Password, d.DB)
		if d.Params != "" {
			dsn += " " + d.Params
		}
		return dsn
	case "sqlite":
		return d.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", d.User, d.Password, d.Host, d.Port, d.DB, d.Params)
	}
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:           "braillescan",
			Env:            "dev",
			Host:           "0.0.0.0",
			Port:           5000,
			GinMode:        "debug",
			TempDir:        os.TempDir(),
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			DB:     "braillescan",
			Params: "parseTime=true&loc=UTC&charset=utf8mb4",
			Path:   "braillescan.db",
		},
		Redis: RedisConfig{
			ResultsTTLSeconds:      60,
			ResultsDirtyTTLSeconds: 5,
		},
		RabbitMQ: RabbitMQConfig{
			DetectionQueue: "braille.detection.completed",
		},
		Storage: StorageConfig{
			Root:             "data/blobs",
			PublicBaseURL:    "http://127.0.0.1:5000/blobs",
			SignedURLMinutes: 60 * 24 * 7,
		},
		Detector: DetectorConfig{
			Engine:     "remote",
			BaseURL:    "https://detect.roboflow.com",
			Model:      "braille-detection",
			Version:    1,
			Confidence: 0.4,
			Overlap:    0.3,
			ModelPath:  "assets/braille-yolov8n.onnx",
			LabelsPath: "assets/braille-labels.txt",
			InputSize:  640,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.TempDir = getEnv("APP_TEMP_DIR", cfg.App.TempDir)
	cfg.App.MaxUploadBytes = int64(getEnvAsInt("APP_MAX_UPLOAD_BYTES", int(cfg.App.MaxUploadBytes)))

	cfg.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", cfg.Log.Format))

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DB = getEnv("DB_NAME", cfg.Database.DB)
	cfg.Database.Params = getEnv("DB_PARAMS", cfg.Database.Params)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.ResultsTTLSeconds = getEnvAsInt("REDIS_RESULTS_TTL_SECONDS", cfg.Redis.ResultsTTLSeconds)
	cfg.Redis.ResultsDirtyTTLSeconds = getEnvAsInt("REDIS_RESULTS_DIRTY_TTL_SECONDS", cfg.Redis.ResultsDirtyTTLSeconds)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.DetectionQueue = getEnv("RABBITMQ_DETECTION_QUEUE", cfg.RabbitMQ.DetectionQueue)

	cfg.Storage.Root = getEnv("STORAGE_ROOT", cfg.Storage.Root)
	cfg.Storage.PublicBaseURL = getEnv("STORAGE_PUBLIC_BASE_URL", cfg.Storage.PublicBaseURL)
	cfg.Storage.SigningSecret = getEnv("STORAGE_SIGNING_SECRET", cfg.Storage.SigningSecret)
	cfg.Storage.SignedURLMinutes = getEnvAsInt("STORAGE_SIGNED_URL_MINUTES", cfg.Storage.SignedURLMinutes)

	cfg.Detector.Engine = getEnv("DETECTOR_ENGINE", cfg.Detector.Engine)
	cfg.Detector.BaseURL = getEnv("DETECTOR_BASE_URL", cfg.Detector.BaseURL)
	cfg.Detector.APIKey = getEnv("DETECTOR_API_KEY", cfg.Detector.APIKey)
	cfg.Detector.Model = getEnv("DETECTOR_MODEL", cfg.Detector.Model)
	cfg.Detector.Version = getEnvAsInt("DETECTOR_VERSION", cfg.Detector.Version)
	cfg.Detector.Confidence = getEnvAsFloat("DETECTOR_CONFIDENCE", cfg.Detector.Confidence)
	cfg.Detector.Overlap = getEnvAsFloat("DETECTOR_OVERLAP", cfg.Detector.Overlap)
	cfg.Detector.ModelPath = getEnv("DETECTOR_MODEL_PATH", cfg.Detector.ModelPath)
	cfg.Detector.LabelsPath = getEnv("DETECTOR_LABELS_PATH", cfg.Detector.LabelsPath)
	cfg.Detector.InputSize = getEnvAsInt("DETECTOR_INPUT_SIZE", cfg.Detector.InputSize)
	cfg.Detector.ONNXSharedLib = getEnv("DETECTOR_ONNX_LIB", cfg.Detector.ONNXSharedLib)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	if raw := getEnv("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		origins := strings.Split(raw, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORS.AllowedOrigins = origins
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
