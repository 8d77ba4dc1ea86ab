// Package wireguard is the tunnel collaborator boundary. The daemon does not
// manage WireGuard or Rosenpass itself; it only derives the usable local
// address and allowed-IPs set that the tunnel manager establishes, so the
// servers know where to bind.
package wireguard

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/qapish/labman/internal/config"
	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/logger"
	"github.com/qapish/labman/internal/util"
)

// Manager yields the tunnel-side view the rest of the daemon consumes.
type Manager interface {
	// InterfaceName is the configured tunnel interface, e.g. "labman0".
	InterfaceName() string

	// LocalAddress returns the tunnel-local IP when one is configured or
	// assigned, and false otherwise.
	LocalAddress() (net.IP, bool)

	// AllowedIPs is the parsed allowed-IPs set for the control-plane peer.
	AllowedIPs() []*net.IPNet

	// BindAddress resolves the address a server should bind for the given
	// port: the tunnel address when available, 0.0.0.0 otherwise.
	BindAddress(port int) string
}

// ConfigManager resolves everything from static configuration. It stands in
// for the full tunnel manager in deployments where the interface is brought
// up out of band.
type ConfigManager struct {
	interfaceName string
	localAddress  net.IP
	allowedIPs    []*net.IPNet
}

var _ Manager = (*ConfigManager)(nil)

func NewConfigManager(cfg config.WireGuardConfig, log *slog.Logger) (*ConfigManager, error) {
	wlog := log.With(logger.ComponentKey, "wireguard")

	m := &ConfigManager{interfaceName: cfg.InterfaceName}

	if addr := strings.TrimSpace(cfg.Address); addr != "" {
		ip, err := parseAddress(addr)
		if err != nil {
			return nil, domain.NewConfigError("wireguard.address", err.Error())
		}
		m.localAddress = ip
	}

	allowed, err := util.ParseCIDRs(cfg.AllowedIPs)
	if err != nil {
		return nil, domain.NewConfigError("wireguard.allowed_ips", err.Error())
	}
	m.allowedIPs = allowed

	if m.localAddress != nil {
		wlog.Info("tunnel address resolved", "interface", m.interfaceName, "address", m.localAddress.String())
	} else {
		wlog.Warn("no tunnel address configured; servers fall back to 0.0.0.0",
			"interface", m.interfaceName)
	}

	return m, nil
}

func (m *ConfigManager) InterfaceName() string {
	return m.interfaceName
}

func (m *ConfigManager) LocalAddress() (net.IP, bool) {
	return m.localAddress, m.localAddress != nil
}

func (m *ConfigManager) AllowedIPs() []*net.IPNet {
	return m.allowedIPs
}

func (m *ConfigManager) BindAddress(port int) string {
	if m.localAddress != nil {
		return fmt.Sprintf("%s:%d", m.localAddress.String(), port)
	}
	return fmt.Sprintf("0.0.0.0:%d", port)
}

// parseAddress accepts either a bare IP or CIDR notation like "10.90.0.2/32".
func parseAddress(addr string) (net.IP, error) {
	if strings.Contains(addr, "/") {
		ip, _, err := net.ParseCIDR(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		return ip, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	return ip, nil
}
