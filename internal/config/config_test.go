package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/classifier-api/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "models/model_weights.npz", cfg.Model.WeightsPath)
	assert.Equal(t, "models/my_classifier_model.onnx", cfg.Model.FullModelPath)
	assert.Equal(t, model.DefaultLabels(), cfg.Model.Labels)
	assert.EqualValues(t, 10*1024*1024, cfg.App.MaxUploadSize)
	assert.Zero(t, cfg.App.CacheSize)
	assert.Empty(t, cfg.Artifacts.Bucket)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SERVER_WRITE_TIMEOUT", "5s")
	t.Setenv("MODEL_LABELS", "airplane, automobile,bird,cat,deer,dog,frog,horse,ship,sports car")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("APP_CACHE_SIZE", "128")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "airplane", cfg.Model.Labels[0])
	assert.Equal(t, "sports car", cfg.Model.Labels[9])
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 128, cfg.App.CacheSize)

	mc := cfg.ModelServer()
	assert.Equal(t, cfg.Model.Labels, mc.Labels)
	assert.Equal(t, 128, mc.CacheSize)
	assert.Equal(t, "input", mc.Loader.ONNX.InputName)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "7000"
model_weights_path: /srv/models/w.npz
log_level: debug
`), 0o644))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "/srv/models/w.npz", cfg.Model.WeightsPath)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"too few labels":   func(c *Config) { c.Model.Labels = c.Model.Labels[:9] },
		"duplicate labels": func(c *Config) { c.Model.Labels[3] = c.Model.Labels[2] },
		"no artifacts":     func(c *Config) { c.Model.WeightsPath, c.Model.FullModelPath = "", "" },
		"upload size":      func(c *Config) { c.App.MaxUploadSize = 0 },
		"cache size":       func(c *Config) { c.App.CacheSize = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsWrongLabelCount(t *testing.T) {
	t.Setenv("MODEL_LABELS", "cat,dog")
	_, err := Load("")
	assert.ErrorContains(t, err, "MODEL_LABELS")
}
