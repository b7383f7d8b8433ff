package config

import (
	"testing"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(env(map[string]string{
		"BOT_TOKEN":         "123:abc",
		"ADMIN_TELEGRAM_ID": "42",
	}))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, int64(42), cfg.AdminID)
	assert.Equal(t, "recommender.db", cfg.DBPath)
	assert.Equal(t, BlobStoreSQLite, cfg.BlobStore)
	assert.Equal(t, blobstore.DefaultNamespace, cfg.BlobNamespace)
	assert.Equal(t, blobstore.DefaultDomain, cfg.BlobDomain)
	assert.Equal(t, 10, cfg.MaxImages)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 90.0, cfg.MinConfidence)
	assert.Equal(t, 50, cfg.StructuredMaxLabels)
	assert.Equal(t, 20, cfg.GenerativeMaxLabels)
	assert.Equal(t, DriverOpenAI, cfg.GenerativeDriver)
	assert.True(t, cfg.LabelCache)
	assert.True(t, cfg.CloudVision)
	assert.Equal(t, llm.DefaultOllamaModel, cfg.OllamaModel)
	assert.Zero(t, cfg.ProviderRateLimit)
	assert.Empty(t, cfg.BlobBaseURL)
	assert.False(t, cfg.BlobPublicURLs)
}

func TestParse_BlobBaseURL(t *testing.T) {
	cfg, err := Parse(env(map[string]string{
		"BLOB_BASE_URL":    "http://localhost:8080/blobs/",
		"BLOB_PUBLIC_URLS": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/blobs", cfg.BlobBaseURL)
	assert.True(t, cfg.BlobPublicURLs)
}

func TestParse_PublicURLsNeedBaseURL(t *testing.T) {
	_, err := Parse(env(map[string]string{"BLOB_PUBLIC_URLS": "1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOB_PUBLIC_URLS")
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(env(map[string]string{
		"MAX_IMAGES":               "5",
		"BLOB_STORE":               "File",
		"BLOB_DIR":                 "/var/lib/blobs",
		"VISION_MIN_CONFIDENCE":    "75.5",
		"VISION_GENERATIVE_DRIVER": "gemini",
		"LABEL_CACHE":              "false",
		"PROVIDER_RATE_LIMIT":      "2",
		"OPENAI_TEXT_MODEL":        "gpt-4o",
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxImages)
	assert.Equal(t, BlobStoreFile, cfg.BlobStore)
	assert.Equal(t, "/var/lib/blobs", cfg.BlobDir)
	assert.Equal(t, 75.5, cfg.MinConfidence)
	assert.Equal(t, DriverGemini, cfg.GenerativeDriver)
	assert.False(t, cfg.LabelCache)
	assert.Equal(t, 2.0, cfg.ProviderRateLimit)
	assert.Equal(t, "gpt-4o", cfg.OpenAITextModel)
}

func TestParse_ReportsAllErrors(t *testing.T) {
	_, err := Parse(env(map[string]string{
		"ADMIN_TELEGRAM_ID":        "admin",
		"MAX_IMAGES":               "0",
		"BLOB_STORE":               "s3",
		"VISION_GENERATIVE_DRIVER": "claude",
		"VISION_MIN_CONFIDENCE":    "120",
		"LABEL_CACHE":              "maybe",
	}))
	require.Error(t, err)

	for _, key := range []string{"ADMIN_TELEGRAM_ID", "MAX_IMAGES", "BLOB_STORE", "VISION_GENERATIVE_DRIVER", "VISION_MIN_CONFIDENCE", "LABEL_CACHE"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestCheckRequired(t *testing.T) {
	assert.Equal(t, []string{"BOT_TOKEN", "ADMIN_TELEGRAM_ID"}, CheckRequired(env(nil)))
	assert.Equal(t, []string{"ADMIN_TELEGRAM_ID"}, CheckRequired(env(map[string]string{"BOT_TOKEN": "x"})))
	assert.Empty(t, CheckRequired(env(map[string]string{"BOT_TOKEN": "x", "ADMIN_TELEGRAM_ID": "1"})))
}
