package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Broker.ServiceFailureIsFatal)
	assert.Equal(t, "0.0.0.0:28888", cfg.Net.Addr)
	assert.Equal(t, "edu.umn.cs.melt.monto.broker", cfg.Version.ID)
	assert.Equal(t, "memory", cfg.History.Backend)
}

func TestLoadMissingExplicitFileIsError(t *testing.T) {
	dir := t.TempDir()
	cfg, found, err := Load(filepath.Join(dir, "does-not-exist.toml"))
	assert.False(t, found)
	assert.Error(t, err) // explicit path that doesn't exist is an error
	_ = cfg
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monto-broker.toml")
	contents := `
[broker]
service_failure_is_fatal = false

[net]
addr = "127.0.0.1:9999"

[[service]]
addr = "127.0.0.1:9001"

[[service]]
addr = "127.0.0.1:9002"
base = "/custom"
scheme = "https"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, cfg.Broker.ServiceFailureIsFatal)
	assert.Equal(t, "127.0.0.1:9999", cfg.Net.Addr)
	require.Len(t, cfg.Service, 2)
	assert.Equal(t, "/monto", cfg.Service[0].Base)
	assert.Equal(t, "http", cfg.Service[0].Scheme)
	assert.Equal(t, "https", cfg.Service[1].Scheme)
}

func TestServiceBaseURL(t *testing.T) {
	s := ServiceConfig{Addr: "127.0.0.1:9001", Base: "/monto", Scheme: "http"}
	assert.Equal(t, "http://127.0.0.1:9001/monto", s.BaseURL())
}

func TestVersionConfigSoftwareVersion(t *testing.T) {
	sv := Default().Version.SoftwareVersion()
	assert.Equal(t, "edu.umn.cs.melt.monto.broker", sv.ID.String())
}
