package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "admin_api", cfg.Taxonomy.Source)
	assert.Equal(t, 30, cfg.Taxonomy.CacheTTLMinutes)
	assert.Equal(t, 15, cfg.Taxonomy.FetchTimeoutSecs)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, 60, cfg.LLM.TimeoutSecs)
	assert.Equal(t, "23515d46", cfg.Classify.FallbackCategoryID)
	assert.Equal(t, 100, cfg.Batch.DefaultSize)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 2000, cfg.Cost.TokensPerRequest)
	assert.InDelta(t, 0.00015, cfg.Cost.USDPer1KTokens, 1e-9)
	assert.InDelta(t, 1300.0, cfg.Cost.KRWPerUSD, 0.001)
	assert.InDelta(t, 0.3, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 5, cfg.Monitoring.MinItems)
	assert.Equal(t, "Asia/Seoul", cfg.Schedule.Timezone)
	assert.Equal(t, "voc.normalized", cfg.Kafka.Topic)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  concurrency: 8
pricing:
  models:
    claude-haiku-4-5-20251001:
      input: 1.0
      output: 5.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.InDelta(t, 5.0, cfg.Pricing.Models["claude-haiku-4-5-20251001"].Output, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VOC_STORE_DRIVER", "postgres")
	t.Setenv("VOC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("VOC_SERVER_PORT", "3000")
	t.Setenv("VOC_CLASSIFY_FALLBACK_CATEGORY_ID", "235167ff")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "235167ff", cfg.Classify.FallbackCategoryID)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.3
	cfg.Taxonomy.Source = "admin_api"
	cfg.Taxonomy.AdminBaseURL = "http://admin-service:8080"
	cfg.Classify.FallbackCategoryID = "23515d46"
	cfg.Batch.Concurrency = 4
	cfg.Monitoring.FailureRateThreshold = 0.3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateBatch_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/voc"
	cfg.LLM.AnthropicKey = "sk-ant-key"

	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateBatch_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Classify.FallbackCategoryID = ""

	err := cfg.Validate("batch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "llm.anthropic_key is required")
	assert.Contains(t, err.Error(), "classify.fallback_category_id is required")
}

func TestValidateStore_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"

	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnsupportedDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateClassify_ProviderKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "openai"

	err := cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "llm.openai_key is required")

	cfg.LLM.OpenAIKey = "sk-openai"
	assert.NoError(t, cfg.Validate("classify"))

	cfg.LLM.Provider = "gemini"
	err = cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "llm.gemini_key is required")
}

func TestValidateClassify_FileTaxonomy(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.AnthropicKey = "sk-ant-key"
	cfg.Taxonomy.Source = "file"

	err := cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "taxonomy.file_path is required")

	cfg.Taxonomy.FilePath = "categories.yaml"
	assert.NoError(t, cfg.Validate("classify"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = "postgres://localhost/voc"
	cfg.LLM.AnthropicKey = "sk-ant-key"
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"

	cfg.Batch.Concurrency = 0
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency must be between 1 and 50")

	cfg.Batch.Concurrency = 51
	err = cfg.Validate("store")
	assert.Error(t, err)

	cfg.Batch.Concurrency = 50
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateModelTuning(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.AnthropicKey = "sk-ant-key"

	cfg.LLM.Temperature = 2.5
	err := cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "llm.temperature")

	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxTokens = 0
	err = cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "llm.max_tokens must be > 0")

	cfg.LLM.MaxTokens = 2000
	cfg.Monitoring.FailureRateThreshold = 1.5
	err = cfg.Validate("classify")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold")
}

func TestLoadFileExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voc-prod.yaml")
	yaml := `
store:
  driver: mysql
batch:
  default_size: 250
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 250, cfg.Batch.DefaultSize)
	assert.Equal(t, 300, cfg.Batch.LockTTLSecs)
}

func TestLoadFileMissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}
