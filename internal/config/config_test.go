package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "SESSION_SECRET", "SESSION_COOKIE_NAME", "SESSION_COOKIE_MAX_AGE", "CORS_ALLOWED_ORIGINS",
		"SESSION_STORE", "DB_HOST", "DB_PORT", "DB_PASSWORD", "DB_USE_SSL", "DB_INDEX", "SESSION_KEY_PREFIX",
		"SESSION_TTL", "SESSION_STRICT_READS", "SESSION_OPTIMISTIC_LOCKING", "SESSION_DELETE_ON_CLEAR",
		"MODEL_PROVIDER", "MODEL_NAME", "GEMINI_API_KEY", "GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION",
		"VERTEX_AI_DATASTORE", "RETRIEVAL_MAX_RESULTS", "SHOW_MODEL_THINKING", "MODEL_TEMPERATURE",
		"MODEL_TOP_P", "MODEL_MAX_TOKENS", "MODEL_OPEN_RETRIES", "ARK_API_KEY", "ARK_ACCESS_KEY",
		"ARK_SECRET_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"FEEDBACK_DB_PATH", "FEEDBACK_PASSWORD", "CITATIONS_PATH", "LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5001", cfg.Server.Addr)
	assert.False(t, cfg.Server.Production)
	assert.Equal(t, "tfa_session", cfg.Server.CookieName)
	assert.Nil(t, cfg.Server.AllowedOrigins)

	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Addr())
	assert.Equal(t, "session:", cfg.Store.KeyPrefix)
	assert.False(t, cfg.Store.StrictReads)
	assert.False(t, cfg.Store.OptimisticLocking)

	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Model)
	assert.Equal(t, 5, cfg.AI.RetrievalMaxResults)
	assert.Equal(t, 2, cfg.AI.OpenRetries)
	assert.False(t, cfg.AI.Enabled())

	assert.Equal(t, "data/feedback.db", cfg.Feedback.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:8080")
	t.Setenv("ENV", "prod")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("SESSION_OPTIMISTIC_LOCKING", "true")
	t.Setenv("DB_PORT", "6380")
	t.Setenv("DB_USE_SSL", "1")
	t.Setenv("MODEL_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MODEL_TEMPERATURE", "0.5")
	t.Setenv("RETRIEVAL_MAX_RESULTS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.Production)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.True(t, cfg.Store.OptimisticLocking)
	assert.Equal(t, 6380, cfg.Store.Port)
	assert.True(t, cfg.Store.UseSSL)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, "gpt-4.1", cfg.AI.Model)
	assert.True(t, cfg.AI.Enabled())
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.5, *cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 8, cfg.AI.RetrievalMaxResults)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "50 01",
		"SESSION_STORE":     "etcd",
		"DB_PORT":           "abc",
		"SESSION_TTL":       "-1h",
		"MODEL_PROVIDER":    "llama",
		"MODEL_TEMPERATURE": "hot",
		"LOG_PRETTY":        "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestAIConfigEnabled(t *testing.T) {
	assert.True(t, AIConfig{Provider: ProviderGemini, GeminiAPIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderGemini, Project: "p"}.Enabled())
	assert.False(t, AIConfig{Provider: ProviderArk, APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
}
