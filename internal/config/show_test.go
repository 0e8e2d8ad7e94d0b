package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_HTTP(t *testing.T) {
	r := &Resolved{Config: *DefaultConfig(), Path: "/etc/ledgersync/config.toml", Token: "secret"}
	r.Remote.Endpoint = "https://ledger.example.com"
	r.Sync.Tenants = []string{"household-1", "household-2"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, "(file: /etc/ledgersync/config.toml)")
	assert.Contains(t, out, `endpoint        = "https://ledger.example.com"`)
	assert.Contains(t, out, `tenants             = ["household-1", "household-2"]`)
	assert.Contains(t, out, "token taken from "+EnvToken)
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "log_file")
}

func TestRenderEffective_PostgresHidesDSN(t *testing.T) {
	r := &Resolved{Config: *DefaultConfig()}
	r.Remote.Backend = BackendPostgres
	r.Remote.PostgresDSN = "postgres://user:hunter2@db/ledger"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	assert.Contains(t, buf.String(), "postgres_dsn    = (set)")
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "endpoint")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(&Resolved{Config: *DefaultConfig()}, failWriter{})
	require.EqualError(t, err, "disk full")
}

func TestJoinQuoted(t *testing.T) {
	assert.Empty(t, joinQuoted(nil))
	assert.Equal(t, `"a", "b"`, joinQuoted([]string{"a", "b"}))
}
