package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/errintake/internal/conf"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/notification"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func tempWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DB_URL", "")
	t.Setenv("ERRINTAKE_LOG_FILE", filepath.Join(dir, "errintake.log"))
	t.Setenv("ERRINTAKE_DATABASE_DSN", "sqlite://"+filepath.Join(dir, "errors.db"))
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "errintake dev")
}

func TestMigrateCommand(t *testing.T) {
	dir := tempWorkspace(t)

	_, err := run(t, "migrate")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "errors.db"))
}

func TestSeedCommand(t *testing.T) {
	dir := tempWorkspace(t)
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  - {name: IMA-01, group: plant-a}
rules:
  - service: {name: IMA-01, group: plant-a}
    user: {first_name: Ada, last_name: Lovelace, email: ada@example.com}
    min_severity: WARN
    do_email: true
`), 0o600))

	out, err := run(t, "seed", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "services created: 1")
	assert.Contains(t, out, "rules created: 1")

	out, err = run(t, "seed", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rules updated: 1")
}

func TestSeedCommand_RequiresFile(t *testing.T) {
	tempWorkspace(t)

	_, err := run(t, "seed")
	assert.Error(t, err)
}

func TestBuildNotifier(t *testing.T) {
	t.Parallel()
	log := logger.NewNop()

	s := &conf.Settings{}
	n, err := buildNotifier(s, log)
	require.NoError(t, err)
	assert.IsType(t, &notification.LogNotifier{}, n)

	s.Notify = conf.NotifySettings{
		Relay:      true,
		EmailURLs:  []string{"logger://"},
		TicketURLs: []string{"logger://"},
		CallURLs:   []string{"logger://"},
	}
	n, err = buildNotifier(s, log)
	require.NoError(t, err)
	multi, ok := n.(notification.MultiNotifier)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	s.Notify.EmailURLs = []string{"nosuchservice://x"}
	_, err = buildNotifier(s, log)
	assert.Error(t, err)
}
