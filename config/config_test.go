package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConf(t *testing.T) {
	c := DefaultConf()
	require.NoError(t, c.Validate())
	assert.Equal(t, "BRS/9.9.9", c.Crawler.UserAgent)
	assert.Equal(t, 10*time.Second, c.Crawler.Timeout.Std())
	assert.Equal(t, 15*time.Minute, c.Crawler.RescanInterval.Std())
	assert.Equal(t, 8123, c.Crawler.DefaultPort)
	assert.False(t, c.IPCheck.Enabled)
}

func TestFromReader(t *testing.T) {
	const doc = `
[Crawler]
  UserAgent = "BRS/3.8.0"
  Timeout = "3s"
  RescanInterval = "1h"
  Seeds = ["europe.example:8123", "10.0.0.1"]

[Storage.Postgresql]
  URL = "postgres://crawler@db:5432/brs"
  SchemaName = "crawler"

[IPCheck]
  Enabled = true
  Nameserver = "1.1.1.1"
`
	c, err := FromReader(strings.NewReader(doc), DefaultConf())
	require.NoError(t, err)

	assert.Equal(t, "BRS/3.8.0", c.Crawler.UserAgent)
	assert.Equal(t, 3*time.Second, c.Crawler.Timeout.Std())
	assert.Equal(t, time.Hour, c.Crawler.RescanInterval.Std())
	assert.Equal(t, []string{"europe.example:8123", "10.0.0.1"}, c.Crawler.Seeds)
	assert.Equal(t, "crawler", c.Storage.Postgresql.SchemaName)
	assert.True(t, c.IPCheck.Enabled)
	assert.Equal(t, "1.1.1.1", c.IPCheck.Nameserver)

	// untouched settings keep their defaults
	assert.Equal(t, 500*time.Millisecond, c.Crawler.TickInterval.Std())
	assert.Equal(t, 5, c.Storage.Postgresql.ConnectRetries)
}

func TestFromReaderBadDuration(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Crawler]\nTimeout = \"soon\"\n"), DefaultConf())
	assert.Error(t, err)
}

func TestFromFileMissing(t *testing.T) {
	c, err := FromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), c)
}

func TestEnsureExistsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, EnsureExists(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	c, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), c)

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("[Crawler]\nWorkers = 3\n"), 0o644))
	require.NoError(t, EnsureExists(path))
	c, err = FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Crawler.Workers)
}

func TestDatabaseURL(t *testing.T) {
	c := PgStorageConf{URLEnv: "CRAWLER_TEST_URL_ENV", URL: "postgres://fallback"}
	assert.Equal(t, "postgres://fallback", c.DatabaseURL())

	t.Setenv("CRAWLER_TEST_URL_ENV", "postgres://from-env")
	assert.Equal(t, "postgres://from-env", c.DatabaseURL())
}

func TestValidate(t *testing.T) {
	c := DefaultConf()
	c.Crawler.Timeout = 0
	c.Crawler.DefaultPort = 70000
	c.Crawler.Workers = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}
