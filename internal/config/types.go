package config

// Config is the operator-supplied configuration consumed by the daemon.
type Config struct {
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
	WireGuard    WireGuardConfig    `mapstructure:"wireguard"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Endpoints    []EndpointConfig   `mapstructure:"endpoints"`
}

// ControlPlaneConfig holds control-plane connectivity and identity.
type ControlPlaneConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	NodeToken   string `mapstructure:"node_token"`
	Region      string `mapstructure:"region"`
	Description string `mapstructure:"description"`
}

// WireGuardConfig describes the secure tunnel towards the control plane.
// The tunnel itself is managed by a collaborator; labman only consumes the
// resulting local address and allowed-IPs set.
type WireGuardConfig struct {
	InterfaceName  string           `mapstructure:"interface_name"`
	Address        string           `mapstructure:"address"`
	PrivateKeyPath string           `mapstructure:"private_key_path"`
	PublicKeyPath  string           `mapstructure:"public_key_path"`
	PeerEndpoint   string           `mapstructure:"peer_endpoint"`
	AllowedIPs     []string         `mapstructure:"allowed_ips"`
	Rosenpass      *RosenpassConfig `mapstructure:"rosenpass"`
}

// RosenpassConfig holds post-quantum key exchange material paths.
type RosenpassConfig struct {
	PrivateKeyPath     string `mapstructure:"private_key_path"`
	PublicKeyPath      string `mapstructure:"public_key_path"`
	PeerPublicKeyPath  string `mapstructure:"peer_public_key_path"`
}

// ProxyConfig holds the local OpenAI-compatible proxy listener settings.
type ProxyConfig struct {
	ListenPort int    `mapstructure:"listen_port"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelemetryConfig holds logging and metrics settings.
type TelemetryConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	DisableMetrics bool   `mapstructure:"disable_metrics"`
	MetricsPort    int    `mapstructure:"metrics_port"`
}

// EndpointConfig describes a single logical LLM endpoint.
type EndpointConfig struct {
	Name          string   `mapstructure:"name"`
	BaseURL       string   `mapstructure:"base_url"`
	MaxConcurrent int      `mapstructure:"max_concurrent"`
	ModelsInclude []string `mapstructure:"models_include"`
	ModelsExclude []string `mapstructure:"models_exclude"`
}
