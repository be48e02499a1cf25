package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Database.Backend)
	assert.Equal(t, "./data/conversations.db", cfg.Database.SQLitePath)
	assert.Equal(t, IndexSQLite, cfg.Index.Backend)
	assert.Equal(t, 1000, cfg.Index.ChunkSize)
	assert.Equal(t, 200, cfg.Index.ChunkOverlap)
	assert.Equal(t, 50, cfg.Session.MaxMessages)
	assert.Equal(t, time.Hour, cfg.Session.Timeout)
	assert.Equal(t, 4, cfg.Chat.RetrievalK)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.LLMModel)
	assert.True(t, cfg.OpenAI.BaseURL.IsAbsent())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "CHUNK_SIZE=500\nSESSION_TIMEOUT=90s\nSTORE_TIMEOUT=7\nOPENAI_BASE_URL=http://localhost:1234/v1/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	for _, key := range []string{"CHUNK_SIZE", "SESSION_TIMEOUT", "STORE_TIMEOUT", "OPENAI_BASE_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Index.ChunkSize)
	assert.Equal(t, 90*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 7*time.Second, cfg.Chat.StoreTimeout)
	assert.Equal(t, "http://localhost:1234/v1/", cfg.OpenAI.BaseURL.OrEmpty())
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CONVERSATION_BACKEND", "Postgres")
	t.Setenv("RETRIEVAL_K", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Database.Backend)
	assert.Equal(t, 4, cfg.Chat.RetrievalK)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"未知の会話バックエンド", func(c *Config) { c.Database.Backend = "mongo" }},
		{"未知のインデックスバックエンド", func(c *Config) { c.Index.Backend = "chroma" }},
		{"pgvectorにはpostgresが必要", func(c *Config) { c.Index.Backend = IndexPGVector }},
		{"オーバーラップがチャンク長以上", func(c *Config) { c.Index.ChunkOverlap = c.Index.ChunkSize }},
		{"チャンク長が0", func(c *Config) { c.Index.ChunkSize = 0 }},
		{"最大メッセージ数が0", func(c *Config) { c.Session.MaxMessages = 0 }},
		{"ポート範囲外", func(c *Config) { c.Server.Port = 70000 }},
		{"会話DBのパスが空", func(c *Config) { c.Database.SQLitePath = "" }},
		{"会話DBがインデックスディレクトリ内", func(c *Config) {
			c.Index.Dir = "./store"
			c.Database.SQLitePath = "./store/conversations.db"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
