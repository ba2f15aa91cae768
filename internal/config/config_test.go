package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 1500, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.SearchLimit)
	assert.Equal(t, 800, cfg.LLMMaxTokens)
	assert.InDelta(t, 0.6, cfg.LLMTemperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.LLMTopP, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ReGreetAfter)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadSize)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RAG_CHUNK_SIZE", "800")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("REGREET_AFTER", "30m")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("RAG_SEARCH_LIMIT", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://painel.example.com, ,https://admin.example.com")

	cfg := Load()

	assert.Equal(t, 800, cfg.ChunkSize)
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.ReGreetAfter)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 5, cfg.SearchLimit)
	assert.Equal(t, []string{"https://painel.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}
