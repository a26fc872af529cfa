package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultModelURL is the public MobileNetV2 classifier (NCHW [N,3,224,224]
// in, [N,1000] out) used when no cached model exists.
const DefaultModelURL = "https://github.com/onnx/models/raw/main/validated/vision/classification/mobilenet/model/mobilenetv2-12.onnx"

type Server struct {
	RESTAddr      string   `mapstructure:"rest_addr"`
	GRPCAddr      string   `mapstructure:"grpc_addr"`
	MaxUploadSize int      `mapstructure:"max_upload_size"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
}

type Remote struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Model struct {
	CachePath   string        `mapstructure:"cache_path"`
	URL         string        `mapstructure:"url"`
	LibraryPath string        `mapstructure:"library_path"`
	InputName   string        `mapstructure:"input_name"`
	OutputName  string        `mapstructure:"output_name"`
	OutputSize  int64         `mapstructure:"output_size"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type Database struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	MaxRetained int    `mapstructure:"max_retained"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server        Server   `mapstructure:"server"`
	Remote        Remote   `mapstructure:"remote"`
	Model         Model    `mapstructure:"model"`
	Database      Database `mapstructure:"database"`
	Log           Log      `mapstructure:"log"`
	KnowledgeBase string   `mapstructure:"knowledge_base"`
	EventBuffer   int      `mapstructure:"event_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.rest_addr", ":8088")
	v.SetDefault("server.grpc_addr", ":8008")
	v.SetDefault("server.max_upload_size", 10<<20)
	v.SetDefault("server.cors_origins", []string{
		"http://localhost:3000",
		"http://localhost:5000",
		"http://127.0.0.1:5500",
	})

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("model.cache_path", "models/leaf_disease.onnx")
	v.SetDefault("model.url", DefaultModelURL)
	v.SetDefault("model.library_path", "")
	v.SetDefault("model.input_name", "")
	v.SetDefault("model.output_name", "")
	v.SetDefault("model.output_size", 0)
	v.SetDefault("model.load_timeout", 2*time.Minute)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_retained", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("knowledge_base", "")
	v.SetDefault("event_buffer", 64)
}

// Load reads defaults, then path (or ./config.yaml when path is empty and the
// file exists), then environment variables such as SERVER_REST_ADDR. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config and normalizes the database driver name.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		return errors.New("database.dsn is required when database.driver is set")
	}
	if c.Server.MaxUploadSize <= 0 {
		return errors.New("server.max_upload_size must be positive")
	}
	if c.Model.OutputSize < 0 {
		return errors.New("model.output_size must not be negative")
	}
	return nil
}
