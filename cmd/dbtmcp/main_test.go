package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbtmcp/dbt-mcp/internal/config"
	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func clearToolEnv(t *testing.T) {
	t.Helper()
	for _, g := range tool.Groups() {
		t.Setenv(config.DisableGroupEnv(g), "")
	}
	t.Setenv("DISABLE_TOOLS", "")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dbtmcp v"+version+"\n", out)
}

func TestGroupsCmd(t *testing.T) {
	out, err := run(t, "groups")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_api")
	assert.Contains(t, out, "DISABLE_ADMIN_API=true")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 7)
}

func TestToolsCmd(t *testing.T) {
	out, err := run(t, "tools")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 37)
	assert.Regexp(t, `^get_column_lineage\s+-$`, lines[len(lines)-1])

	out, err = run(t, "tools", "group:sql")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^text_to_sql\s+sql$`, out)
	assert.Regexp(t, `(?m)^execute_sql\s+sql$`, out)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = run(t, "tools", "dbt_lsp")
	assert.ErrorIs(t, err, tool.ErrUnknownGroup)
}

func TestToolsCmd_Enabled(t *testing.T) {
	clearToolEnv(t)
	t.Setenv("DISABLE_ADMIN_API", "true")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  disabledGroups: [dbt_cli]\n"), 0600))

	out, err := run(t, "tools", "--enabled", "--config", path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 37-10-8)
	assert.NotContains(t, out, "list_jobs")
	assert.NotRegexp(t, `(?m)^compile\s`, out)
}

func writeServed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "served.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestValidateCmd(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		path := writeServed(t, "- "+strings.Join(tool.AllToolNames(), "\n- ")+"\n")
		out, err := run(t, "validate", path)
		require.NoError(t, err)
		assert.Equal(t, "ok: 37 tools match the registry\n", out)
	})

	t.Run("drift", func(t *testing.T) {
		path := writeServed(t, `{"tools":[{"name":"build"},{"name":"get_semantic_model"}]}`)
		out, err := run(t, "validate", path)
		assert.ErrorIs(t, err, errDrift)
		assert.Contains(t, out, "missing  get_column_lineage\n")
		assert.Contains(t, out, "extra    get_semantic_model\n")
		assert.NotContains(t, out, "missing  build")
	})

	t.Run("duplicate", func(t *testing.T) {
		path := writeServed(t, "- "+strings.Join(tool.AllToolNames(), "\n- ")+"\n- show\n")
		out, err := run(t, "validate", path)
		assert.ErrorIs(t, err, errDrift)
		assert.Equal(t, "dup      show\n", out)
	})

	t.Run("usage", func(t *testing.T) {
		_, err := run(t, "validate")
		assert.ErrorContains(t, err, "either a file or --server")
	})
}

func TestParseServedTools(t *testing.T) {
	names, err := parseServedTools([]byte(`["build", "run"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "run"}, names)

	names, err = parseServedTools([]byte("tools:\n  - name: show\n  - list\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"show", "list"}, names)

	_, err = parseServedTools([]byte(`{}`))
	assert.ErrorContains(t, err, "no tools found")

	_, err = parseServedTools([]byte(`[{"description":"x"}]`))
	assert.ErrorContains(t, err, "has no name")

	_, err = parseServedTools([]byte("tools: [unclosed"))
	assert.Error(t, err)
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err := run(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "init", path)
	assert.ErrorContains(t, err, "already exists")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Server.Auth.Token)
}
