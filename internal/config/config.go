package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Brownie44l1/classifier-api/internal/model"
)

type Config struct {
	Server    ServerConfig
	Model     ModelConfig
	App       AppConfig
	Log       LogConfig
	Artifacts ArtifactsConfig
}

type ServerConfig struct {
	Host               string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string
}

type ModelConfig struct {
	WeightsPath   string
	FullModelPath string
	ONNXLibrary   string
	ONNXInput     string
	ONNXOutput    string
	Labels        []string
}

type AppConfig struct {
	MaxUploadSize int64
	CacheSize     int
}

type LogConfig struct {
	Level  string
	Format string
}

// ArtifactsConfig points at an optional S3-compatible bucket holding the
// model artifacts. An empty Bucket disables the sync.
type ArtifactsConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	WeightsKey      string
	FullModelKey    string
}

// Load reads configuration from the environment and, when path is not
// empty, from a config file. Environment variables win.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{})
	v.SetDefault("MODEL_WEIGHTS_PATH", "models/model_weights.npz")
	v.SetDefault("MODEL_FULL_PATH", "models/my_classifier_model.onnx")
	v.SetDefault("MODEL_ONNX_LIBRARY", "")
	v.SetDefault("MODEL_ONNX_INPUT", "input")
	v.SetDefault("MODEL_ONNX_OUTPUT", "output")
	v.SetDefault("MODEL_LABELS", model.DefaultLabels())
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("APP_CACHE_SIZE", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ARTIFACTS_S3_BUCKET", "")
	v.SetDefault("ARTIFACTS_S3_ENDPOINT", "")
	v.SetDefault("ARTIFACTS_S3_REGION", "us-east-1")
	v.SetDefault("ARTIFACTS_S3_ACCESS_KEY_ID", "")
	v.SetDefault("ARTIFACTS_S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("ARTIFACTS_S3_WEIGHTS_KEY", "models/model_weights.npz")
	v.SetDefault("ARTIFACTS_S3_MODEL_KEY", "models/my_classifier_model.onnx")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:               v.GetString("SERVER_HOST"),
			Port:               v.GetString("SERVER_PORT"),
			ReadTimeout:        v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:       v.GetDuration("SERVER_WRITE_TIMEOUT"),
			CORSAllowedOrigins: stringList(v, "CORS_ALLOWED_ORIGINS"),
		},
		Model: ModelConfig{
			WeightsPath:   v.GetString("MODEL_WEIGHTS_PATH"),
			FullModelPath: v.GetString("MODEL_FULL_PATH"),
			ONNXLibrary:   v.GetString("MODEL_ONNX_LIBRARY"),
			ONNXInput:     v.GetString("MODEL_ONNX_INPUT"),
			ONNXOutput:    v.GetString("MODEL_ONNX_OUTPUT"),
			Labels:        stringList(v, "MODEL_LABELS"),
		},
		App: AppConfig{
			MaxUploadSize: v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			CacheSize:     v.GetInt("APP_CACHE_SIZE"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Artifacts: ArtifactsConfig{
			Bucket:          v.GetString("ARTIFACTS_S3_BUCKET"),
			Endpoint:        v.GetString("ARTIFACTS_S3_ENDPOINT"),
			Region:          v.GetString("ARTIFACTS_S3_REGION"),
			AccessKeyID:     v.GetString("ARTIFACTS_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("ARTIFACTS_S3_SECRET_ACCESS_KEY"),
			WeightsKey:      v.GetString("ARTIFACTS_S3_WEIGHTS_KEY"),
			FullModelKey:    v.GetString("ARTIFACTS_S3_MODEL_KEY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Model.Labels) != model.NumClasses {
		return fmt.Errorf("MODEL_LABELS: expected %d labels, got %d", model.NumClasses, len(c.Model.Labels))
	}
	seen := make(map[string]struct{}, len(c.Model.Labels))
	for _, l := range c.Model.Labels {
		if l == "" {
			return fmt.Errorf("MODEL_LABELS: empty label")
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("MODEL_LABELS: duplicate label %q", l)
		}
		seen[l] = struct{}{}
	}
	if c.Model.WeightsPath == "" && c.Model.FullModelPath == "" {
		return fmt.Errorf("at least one of MODEL_WEIGHTS_PATH and MODEL_FULL_PATH must be set")
	}
	if c.App.MaxUploadSize <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_SIZE must be positive")
	}
	if c.App.CacheSize < 0 {
		return fmt.Errorf("APP_CACHE_SIZE must not be negative")
	}
	return nil
}

// ModelServer returns the model package configuration.
func (c *Config) ModelServer() model.Config {
	return model.Config{
		Loader: model.LoaderConfig{
			WeightsPath:   c.Model.WeightsPath,
			FullModelPath: c.Model.FullModelPath,
			ONNX: model.ONNXConfig{
				LibraryPath: c.Model.ONNXLibrary,
				InputName:   c.Model.ONNXInput,
				OutputName:  c.Model.ONNXOutput,
			},
		},
		Labels:    c.Model.Labels,
		CacheSize: c.App.CacheSize,
	}
}

// stringList reads a list that may arrive as a comma separated string from
// the environment or as a native list from a config file.
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return split([]string{s})
	}
	return split(v.GetStringSlice(key))
}

func split(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
