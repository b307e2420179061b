package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func clearToolEnv(t *testing.T) {
	t.Helper()
	for _, g := range tool.Groups() {
		t.Setenv(DisableGroupEnv(g), "")
	}
	t.Setenv(disableToolsEnv, "")
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_DBT_MCP_TOKEN", "s3cret")
	path := writeFile(t, `
server:
  port: 8080
  auth:
    token: ${TEST_DBT_MCP_TOKEN}
tools:
  deny: [execute_sql]
  disabledGroups: [ADMIN_API, "group:dbt_codegen"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.Auth.Token)
	assert.Equal(t, []string{"execute_sql"}, cfg.Tools.Deny)
	assert.Equal(t, []string{}, cfg.Tools.Allow)
	assert.Equal(t, []tool.Group{tool.GroupAdminAPI, tool.GroupDBTCodegen}, cfg.Tools.DisabledGroups)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Server.AuditSchedule)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NotNil(t, cfg.Tools.DisabledGroups)
}

func TestLoad_UnsetEnvVarKept(t *testing.T) {
	cfg, err := Load(writeFile(t, "server:\n  auth:\n    token: ${DBT_MCP_SURELY_UNSET_VAR}\n"))
	require.NoError(t, err)
	assert.Equal(t, "${DBT_MCP_SURELY_UNSET_VAR}", cfg.Server.Auth.Token)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "server: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeFile(t, "tools:\n  disabledGroups: [dbt_lsp]\n"))
	assert.ErrorIs(t, err, tool.ErrUnknownGroup)
}

func TestLoadFromExample(t *testing.T) {
	cfg, err := LoadFromExample()
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.Equal(t, defaultAuditSchedule, cfg.Server.AuditSchedule)
	assert.Empty(t, cfg.Tools.Allow)
}

func TestCreateFromExampleAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, CreateFromExample(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Server.Auth.Token, 64)

	cfg.Tools.DisabledGroups = []tool.Group{tool.GroupSQL}
	require.NoError(t, Write(path, cfg))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("DBT_MCP_HOME", "/opt/dbt-mcp")
	assert.Equal(t, "/opt/dbt-mcp", ResolveHome())
	assert.Equal(t, "/opt/dbt-mcp/config.yaml", ResolveConfigPath(""))
	assert.Equal(t, "custom.yaml", ResolveConfigPath("custom.yaml"))
}

func TestSetGetAndReloadCallbacks(t *testing.T) {
	cfg := DefaultConfig()
	Set(cfg)
	Set(nil)
	assert.Same(t, cfg, Get())

	var got *Config
	RegisterOnReload(func(c *Config) { got = c })
	notifyReload(cfg)
	assert.Same(t, cfg, got)
}

func TestEnvPolicyLayer(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		clearToolEnv(t)
		assert.Nil(t, EnvPolicyLayer())
	})

	t.Run("groups and tools", func(t *testing.T) {
		clearToolEnv(t)
		t.Setenv("DISABLE_ADMIN_API", "true")
		t.Setenv("DISABLE_SQL", "1")
		t.Setenv("DISABLE_DISCOVERY", "false")
		t.Setenv("DISABLE_TOOLS", "build, show,,")

		layer := EnvPolicyLayer()
		require.NotNil(t, layer)
		assert.Equal(t, []tool.Group{tool.GroupSQL, tool.GroupAdminAPI}, layer.DisabledGroups)
		assert.Equal(t, []string{"build", "show"}, layer.Deny)
	})

	t.Run("non-boolean value is logged", func(t *testing.T) {
		clearToolEnv(t)
		t.Setenv("DISABLE_ADMIN_API", "yes")
		t.Setenv("DISABLE_SQL", "true")

		var logs bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
		t.Cleanup(func() { slog.SetDefault(prev) })

		layer := EnvPolicyLayer()
		require.NotNil(t, layer)
		assert.Equal(t, []tool.Group{tool.GroupSQL}, layer.DisabledGroups)
		assert.Contains(t, logs.String(), "var=DISABLE_ADMIN_API")
		assert.Contains(t, logs.String(), "value=yes")
	})
}

func TestDisableGroupEnv(t *testing.T) {
	assert.Equal(t, "DISABLE_DBT_CLI", DisableGroupEnv(tool.GroupDBTCLI))
	assert.Equal(t, "DISABLE_SEMANTIC_LAYER", DisableGroupEnv(tool.GroupSemanticLayer))
}

func TestPolicy(t *testing.T) {
	clearToolEnv(t)
	t.Setenv("DISABLE_DBT_CLI", "true")

	cfg := DefaultConfig()
	cfg.Tools.Deny = []string{"get_column_lineage"}

	p, err := Policy(cfg)
	require.NoError(t, err)
	assert.False(t, p.IsAllowed(tool.Build))
	assert.False(t, p.IsAllowed(tool.GetColumnLineage))
	assert.True(t, p.IsAllowed(tool.ListJobs))

	cfg.Tools.Allow = []string{"group:nope"}
	_, err = Policy(cfg)
	assert.ErrorIs(t, err, tool.ErrUnknownGroup)
}
