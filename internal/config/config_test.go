package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTOML = `
[control_plane]
base_url = "https://control.example.com/api/v1"
node_token = "test-token"

[wireguard]
interface_name = "labman0"

[proxy]
listen_port = 8080

[[endpoints]]
name = "local"
base_url = "http://127.0.0.1:11434/v1"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labman.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalTOML), nil)
	require.NoError(t, err)

	assert.Equal(t, "https://control.example.com/api/v1", cfg.ControlPlane.BaseURL)
	assert.Equal(t, "test-token", cfg.ControlPlane.NodeToken)
	assert.Equal(t, "labman0", cfg.WireGuard.InterfaceName)
	assert.Equal(t, 8080, cfg.Proxy.ListenPort)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "local", cfg.Endpoints[0].Name)
	assert.Equal(t, "http://127.0.0.1:11434/v1", cfg.Endpoints[0].BaseURL)

	// defaults fill unspecified sections
	assert.Equal(t, DefaultMetricsPort, cfg.Telemetry.MetricsPort)
	assert.False(t, cfg.Telemetry.DisableMetrics)
	assert.True(t, cfg.MetricsEnabled())
}

func TestLoadFullOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[control_plane]
base_url = "https://control.example.com/api/v1"
node_token = "tok"
region = "us-west"
description = "home gpu box"

[wireguard]
interface_name = "wg9"
address = "10.90.0.2/32"
peer_endpoint = "control.example.com:51820"
allowed_ips = ["10.90.0.1/32"]

[wireguard.rosenpass]
private_key_path = "/etc/labman/rp.key"

[proxy]
listen_port = 8181
listen_addr = "127.0.0.1"

[telemetry]
log_level = "debug"
log_format = "json"
disable_metrics = true
metrics_port = 9191

[[endpoints]]
name = "vllm"
base_url = "https://10.0.0.5:8000/v1"
max_concurrent = 8
models_include = ["llama*"]
models_exclude = ["*test*"]
`), nil)
	require.NoError(t, err)

	assert.Equal(t, "us-west", cfg.ControlPlane.Region)
	assert.Equal(t, "wg9", cfg.WireGuard.InterfaceName)
	assert.Equal(t, "10.90.0.2/32", cfg.WireGuard.Address)
	require.NotNil(t, cfg.WireGuard.Rosenpass)
	assert.Equal(t, "/etc/labman/rp.key", cfg.WireGuard.Rosenpass.PrivateKeyPath)
	assert.Equal(t, 8181, cfg.Proxy.ListenPort)
	assert.Equal(t, "127.0.0.1", cfg.Proxy.ListenAddr)
	assert.True(t, cfg.Telemetry.DisableMetrics)
	assert.False(t, cfg.MetricsEnabled())
	assert.Equal(t, 9191, cfg.Telemetry.MetricsPort)

	ep := cfg.Endpoints[0]
	assert.Equal(t, 8, ep.MaxConcurrent)
	assert.Equal(t, []string{"llama*"}, ep.ModelsInclude)
	assert.Equal(t, []string{"*test*"}, ep.ModelsExclude)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"), nil)
	assert.Error(t, err)
}

func TestLoadMalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "this is not toml = ["), nil)
	assert.Error(t, err)
}

// Two loads of the same file are structurally equal, so a loaded config
// fully determines the daemon's behaviour.
func TestLoadTwiceIsStructurallyEqual(t *testing.T) {
	path := writeConfig(t, minimalTOML)

	first, err := Load(path, nil)
	require.NoError(t, err)
	second, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, minimalTOML), nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config passes", func(c *Config) {}, ""},
		{"empty control plane url", func(c *Config) { c.ControlPlane.BaseURL = "" }, "control_plane.base_url"},
		{"non-http control plane url", func(c *Config) { c.ControlPlane.BaseURL = "ftp://x" }, "control_plane.base_url"},
		{"empty node token", func(c *Config) { c.ControlPlane.NodeToken = "  " }, "control_plane.node_token"},
		{"empty endpoint name", func(c *Config) { c.Endpoints[0].Name = "" }, "endpoints.name"},
		{"duplicate endpoint names", func(c *Config) {
			c.Endpoints = append(c.Endpoints, c.Endpoints[0])
		}, "duplicate endpoint name"},
		{"empty endpoint url", func(c *Config) { c.Endpoints[0].BaseURL = "" }, "endpoints.base_url"},
		{"non-http endpoint url", func(c *Config) { c.Endpoints[0].BaseURL = "tcp://x/v1" }, "endpoints.base_url"},
		{"endpoint url without /v1", func(c *Config) { c.Endpoints[0].BaseURL = "http://127.0.0.1:11434" }, "/v1"},
		{"negative max_concurrent", func(c *Config) { c.Endpoints[0].MaxConcurrent = -1 }, "max_concurrent"},
		{"empty interface name", func(c *Config) { c.WireGuard.InterfaceName = "" }, "interface_name"},
		{"blank allowed ip", func(c *Config) { c.WireGuard.AllowedIPs = []string{""} }, "allowed_ips"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadDefaultFindsLocalFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LocalConfigName), []byte(minimalTOML), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadDefault(nil)
	require.NoError(t, err)
	assert.Equal(t, "test-token", cfg.ControlPlane.NodeToken)
}

func TestPrintSummary(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalTOML), nil)
	require.NoError(t, err)

	var sb testWriter
	cfg.PrintSummary(&sb)

	out := sb.String()
	assert.Contains(t, out, "control_plane.base_url")
	assert.Contains(t, out, "https://control.example.com/api/v1")
	assert.Contains(t, out, "- name")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "max_concurrent = <unbounded>")
}

type testWriter struct{ data []byte }

func (w *testWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *testWriter) String() string { return string(w.data) }
