package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"api_key":"secret_x","database_id":"db-1"}`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret_x", c.APIKey)
	assert.Equal(t, "db-1", c.DatabaseID)
	assert.Equal(t, 100, c.BatchSize)
	assert.True(t, c.Dedupe)
	assert.Equal(t, 30, c.TimeoutSeconds)
	assert.Equal(t, "https://api.notion.com/v1", c.APIBaseURL)

	p := c.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 4.0, p.BackoffFactor)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}

func TestLoadYAMLWithRouting(t *testing.T) {
	path := writeFile(t, "config.yml", `
api_key: secret_y
batch_size: 25
dedupe: false
databases:
  - extractor_namespace: tap-github
    stream_name: issues
    database_id: db-issues
  - stream_name: users
    database_id: db-users
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, c.BatchSize)
	assert.False(t, c.Dedupe)
	require.Len(t, c.Databases, 2)
	assert.Equal(t, "tap-github", c.Databases[0].ExtractorNamespace)

	db, err := c.DatabaseFor("tap-github-issues")
	require.NoError(t, err)
	assert.Equal(t, "db-issues", db)

	db, err = c.DatabaseFor("users")
	require.NoError(t, err)
	assert.Equal(t, "db-users", db)

	_, err = c.DatabaseFor("commits")
	assert.ErrorContains(t, err, "commits")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{"database_id":"db-1","batch_size":10}`)
	t.Setenv("TARGET_NOTION_API_KEY", "secret_env")
	t.Setenv("TARGET_NOTION_BATCH_SIZE", "50")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret_env", c.APIKey)
	assert.Equal(t, 50, c.BatchSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Config{BatchSize: 0, MaxAttempts: 0, RetryBackoff: 0.5, TimeoutSeconds: 1,
		Databases: []Destination{{StreamName: "x"}}}
	err := c.Validate()
	require.Error(t, err)

	for _, want := range []string{"api_key", "databases[0].database_id", "batch_size", "max_attempts", "retry_backoff"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestDatabaseForFallback(t *testing.T) {
	c := Config{DatabaseID: "db-default", Databases: []Destination{{StreamName: "a", DatabaseID: "db-a"}}}

	db, err := c.DatabaseFor("a")
	require.NoError(t, err)
	assert.Equal(t, "db-a", db)

	db, err = c.DatabaseFor("b")
	require.NoError(t, err)
	assert.Equal(t, "db-default", db)
}

func TestRedacted(t *testing.T) {
	c := Config{APIKey: "secret", DatabaseID: "db"}
	r := c.Redacted()
	assert.Equal(t, "****", r.APIKey)
	assert.Equal(t, "secret", c.APIKey)
}
