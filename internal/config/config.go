package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/qapish/labman/internal/core/domain"
)

const (
	DefaultInterfaceName = "labman0"
	DefaultListenPort    = 8080
	DefaultMetricsPort   = 9090

	SystemConfigPath = "/etc/labman/labman.toml"
	LocalConfigName  = "labman.toml"

	// small delay so a file write has finished before we react to the event
	defaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with the documented defaults applied.
func DefaultConfig() *Config {
	return &Config{
		WireGuard: WireGuardConfig{
			InterfaceName: DefaultInterfaceName,
		},
		Proxy: ProxyConfig{
			ListenPort: DefaultListenPort,
		},
		Telemetry: TelemetryConfig{
			MetricsPort: DefaultMetricsPort,
		},
	}
}

// Load reads the configuration from an explicit path. The file must be TOML.
func Load(path string, onConfigChange func()) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, domain.WrapError(domain.ErrKindConfig,
			fmt.Sprintf("failed to read config file %q", path), err)
	}
	return loadFile(path, onConfigChange)
}

// LoadDefault probes the default search locations in order:
// /etc/labman/labman.toml, then ./labman.toml.
func LoadDefault(onConfigChange func()) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	candidates := []string{
		SystemConfigPath,
		filepath.Join(cwd, LocalConfigName),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return loadFile(candidate, onConfigChange)
		}
	}

	return nil, domain.NewError(domain.ErrKindConfig,
		"no configuration file found; provide a path explicitly or create /etc/labman/labman.toml or ./labman.toml")
}

func loadFile(path string, onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, domain.WrapError(domain.ErrKindConfig,
			fmt.Sprintf("failed to parse config file %q", path), err)
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, domain.WrapError(domain.ErrKindConfig,
			fmt.Sprintf("unable to decode config file %q", path), err)
	}

	if onConfigChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// debounce rapid-fire events from editors writing in chunks
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(defaultFileWriteDelay)
			onConfigChange()
		})
		v.WatchConfig()
	}

	return config, nil
}

// Validate performs structural validation of the configuration. It does not
// contact any external system; reachability belongs to the health probes.
func (c *Config) Validate() error {
	if err := c.validateControlPlane(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	return c.validateWireGuard()
}

func (c *Config) validateControlPlane() error {
	url := strings.TrimSpace(c.ControlPlane.BaseURL)
	if url == "" {
		return domain.NewConfigError("control_plane.base_url", "must not be empty")
	}
	if !isHTTPURL(url) {
		return domain.NewConfigError("control_plane.base_url", "must start with http:// or https://")
	}
	if strings.TrimSpace(c.ControlPlane.NodeToken) == "" {
		return domain.NewConfigError("control_plane.node_token", "must not be empty")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	seen := make(map[string]struct{}, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if strings.TrimSpace(ep.Name) == "" {
			return domain.NewConfigError("endpoints.name", "endpoint name must not be empty")
		}
		if _, dup := seen[ep.Name]; dup {
			return domain.NewConfigError("endpoints.name",
				fmt.Sprintf("duplicate endpoint name: %s", ep.Name))
		}
		seen[ep.Name] = struct{}{}

		baseURL := strings.TrimSpace(ep.BaseURL)
		if baseURL == "" {
			return domain.NewConfigError("endpoints.base_url",
				fmt.Sprintf("endpoint %q has an empty base_url", ep.Name))
		}
		if !isHTTPURL(baseURL) {
			return domain.NewConfigError("endpoints.base_url",
				fmt.Sprintf("endpoint %q base_url must start with http:// or https://", ep.Name))
		}
		if !strings.HasSuffix(baseURL, "/v1") && !strings.Contains(baseURL, "/v1/") {
			return domain.NewConfigError("endpoints.base_url",
				fmt.Sprintf("endpoint %q base_url should contain /v1 (got %q)", ep.Name, baseURL))
		}
		if ep.MaxConcurrent < 0 {
			return domain.NewConfigError("endpoints.max_concurrent",
				fmt.Sprintf("endpoint %q max_concurrent must be positive", ep.Name))
		}
	}
	return nil
}

func (c *Config) validateWireGuard() error {
	if strings.TrimSpace(c.WireGuard.InterfaceName) == "" {
		return domain.NewConfigError("wireguard.interface_name", "must not be empty")
	}
	for _, cidr := range c.WireGuard.AllowedIPs {
		if strings.TrimSpace(cidr) == "" {
			return domain.NewConfigError("wireguard.allowed_ips", "must not contain empty entries")
		}
	}
	return nil
}

// MetricsEnabled reports whether the Prometheus exporter should be wired in.
func (c *Config) MetricsEnabled() bool {
	return !c.Telemetry.DisableMetrics
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
