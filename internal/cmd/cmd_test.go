package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/store"
)

const testSecret = "cmd-test-secret-that-is-long-enough-0123456789"

func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults("127.0.0.1:0", testSecret)
	cfg.Storage.DSN = filepath.Join(dir, "splitify.db")
	cfg.Media.Root = filepath.Join(dir, "media")
	cfg.Auth.InitialAdmin = &config.InitialAdmin{Username: "root", Password: "root-password"}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "splitify.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	newCmd := func() (*cobra.Command, *cobra.Command) {
		root := &cobra.Command{Use: "root"}
		root.PersistentFlags().StringP("config", "c", "", "")
		child := &cobra.Command{Use: "child", Run: func(*cobra.Command, []string) {}}
		root.AddCommand(child)
		return root, child
	}

	_, child := newCmd()
	assert.Equal(t, "default.json", resolveConfigPath(child, nil, "default.json"))
	assert.Equal(t, "arg.json", resolveConfigPath(child, []string{"arg.json"}, "default.json"))

	root, child := newCmd()
	require.NoError(t, root.PersistentFlags().Set("config", "flag.json"))
	assert.Equal(t, "flag.json", resolveConfigPath(child, nil, "default.json"))
	assert.Equal(t, "arg.json", resolveConfigPath(child, []string{"arg.json"}, "default.json"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "splitify 1.2.3\n", out)
}

func TestMigrateCreatesSchema(t *testing.T) {
	path, cfg := writeTestConfig(t)

	out, err := execute(t, "migrate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema is up to date")

	db, err := store.NewSQLite(cfg.Storage.DSN)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	users, total, err := db.ListUsers(context.Background(), store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, total)
}

func TestMigrateMissingConfig(t *testing.T) {
	_, err := execute(t, "migrate", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestTokenIssuesValidToken(t *testing.T) {
	path, cfg := writeTestConfig(t)

	out, err := execute(t, "token", "root", "--config", path)
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	db, err := store.NewSQLite(cfg.Storage.DSN)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	id, err := auth.NewService(db, cfg.Auth).ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "root", id.Username)
	assert.Equal(t, "admin", id.Role)
}

func TestTokenUnknownUser(t *testing.T) {
	path, _ := writeTestConfig(t)

	_, err := execute(t, "token", "nobody", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
}

func TestInitDefaults(t *testing.T) {
	t.Setenv("SPLITIFY_ADDR", ":7001")
	t.Setenv("SPLITIFY_STORAGE_DRIVER", "")
	t.Setenv(config.EnvStorageDSN, "")
	output := filepath.Join(t.TempDir(), "generated.json")

	out, err := execute(t, "init", "--defaults", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to")

	cfg, err := config.Load(output)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.Addr)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{}}`), 0600))

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.addr is required")
}
