package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/rewritegate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("REWRITEGATE_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "accounts.db"))
	t.Setenv("REWRITEGATE_LOG_LEVEL", "error")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("REWRITEGATE_DATABASE_URL", "memory://")
	t.Setenv("REWRITEGATE_DEFAULT_PROVIDER", "openai")
	t.Setenv("REWRITEGATE_DEFAULT_MODEL", "gpt-3.5-turbo")
	t.Setenv("REWRITEGATE_LOG_LEVEL", "debug")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory://", cfg.DatabaseURL)
	assert.Equal(t, rewritegate.ProviderOpenAI, cfg.DefaultProvider)
	assert.Equal(t, rewritegate.ModelGPT35Turbo, cfg.DefaultModel)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewritegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: memory://\ntemperature: 0.9\n"), 0o600))

	t.Setenv("REWRITEGATE_CONFIG", path)
	t.Setenv("REWRITEGATE_DEFAULT_PROVIDER", "gemini")
	t.Setenv("REWRITEGATE_DEFAULT_MODEL", "gemini-1.5-flash")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.Temperature, 1e-9)
	assert.Equal(t, rewritegate.ProviderGemini, cfg.DefaultProvider)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	t.Setenv("REWRITEGATE_DEFAULT_MODEL", "gpt-4-turbo")

	_, err := loadConfig("")
	assert.Error(t, err)
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, "memory://")
	require.NoError(t, err)
	assert.NotNil(t, repo)
	require.NoError(t, closeRepo(ctx))

	repo, closeRepo, err = openRepository(ctx, "sqlite://"+filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	_, ok := repo.(rewritegate.SchemaInitializer)
	assert.True(t, ok)
	require.NoError(t, closeRepo(ctx))

	_, _, err = openRepository(ctx, "mysql://localhost/db")
	assert.Error(t, err)

	_, _, err = openRepository(ctx, "no-scheme")
	assert.Error(t, err)
}

func TestModelsCommand(t *testing.T) {
	out, err := execute(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "gemma-7b-it")
	assert.Contains(t, out, "gpt-4-turbo")
	assert.Contains(t, out, "gemini-1.5-pro")
	assert.Contains(t, out, "GROQ_API_KEY")
}

func TestAccountCommands(t *testing.T) {
	useSQLite(t)

	_, err := execute(t, "migrate")
	require.NoError(t, err)

	out, err := execute(t, "whoami", "--user", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "groq")
	assert.Contains(t, out, "gemma-7b-it")
	assert.Contains(t, out, "1000000")

	out, err = execute(t, "use", "openai", "gpt-4-turbo", "-u", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "gpt-4-turbo")

	_, err = execute(t, "use", "groq", "gpt-4-turbo", "-u", "42")
	require.Error(t, err)
	assert.True(t, rewritegate.IsConfiguration(err))

	out, err = execute(t, "topup", "500", "-u", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "500")

	out, err = execute(t, "exempt", "true", "-u", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "true")

	out, err = execute(t, "whoami", "-u", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "gpt-4-turbo")
	assert.Contains(t, out, "500")
	assert.Contains(t, out, "true")
}

func TestRewriteCommand_MissingCredential(t *testing.T) {
	useSQLite(t)
	t.Setenv("GROQ_API_KEY", "")

	_, err := execute(t, "migrate")
	require.NoError(t, err)

	out, err := execute(t, "rewrite", "helo", "wrld")
	require.Error(t, err)
	assert.True(t, rewritegate.IsConfiguration(err))
	assert.Contains(t, out, rewritegate.ReplyServiceUnavailable)
}
