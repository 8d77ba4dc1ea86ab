package config

import (
	"fmt"
	"io"
	"strings"
)

// PrintSummary writes a concise human-readable summary of the loaded
// configuration, used by --print-config.
func (c *Config) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "labmand configuration summary:")
	fmt.Fprintf(w, "  control_plane.base_url    = %s\n", c.ControlPlane.BaseURL)
	fmt.Fprintf(w, "  control_plane.region      = %s\n", orDash(c.ControlPlane.Region))
	fmt.Fprintf(w, "  control_plane.description = %s\n", orDash(c.ControlPlane.Description))

	fmt.Fprintf(w, "  wireguard.interface_name  = %s\n", c.WireGuard.InterfaceName)
	fmt.Fprintf(w, "  wireguard.address         = %s\n",
		orDefault(c.WireGuard.Address, "<not set; may be provided by control plane>"))
	fmt.Fprintf(w, "  wireguard.peer_endpoint   = %s\n", orDefault(c.WireGuard.PeerEndpoint, "<not set>"))
	if len(c.WireGuard.AllowedIPs) == 0 {
		fmt.Fprintf(w, "  wireguard.allowed_ips     = [<none>]\n")
	} else {
		fmt.Fprintf(w, "  wireguard.allowed_ips     = [%s]\n", strings.Join(c.WireGuard.AllowedIPs, ", "))
	}

	fmt.Fprintf(w, "  proxy.listen_port         = %d\n", c.Proxy.ListenPort)
	fmt.Fprintf(w, "  proxy.listen_addr         = %s\n", orDefault(c.Proxy.ListenAddr, "<default (WG addr)>"))

	fmt.Fprintf(w, "  telemetry.disable_metrics = %t\n", c.Telemetry.DisableMetrics)
	fmt.Fprintf(w, "  telemetry.metrics_port    = %d\n", c.Telemetry.MetricsPort)

	fmt.Fprintln(w, "  endpoints:")
	if len(c.Endpoints) == 0 {
		fmt.Fprintln(w, "    <none configured>")
		return
	}
	for _, ep := range c.Endpoints {
		fmt.Fprintf(w, "    - name           = %s\n", ep.Name)
		fmt.Fprintf(w, "      base_url       = %s\n", ep.BaseURL)
		if ep.MaxConcurrent > 0 {
			fmt.Fprintf(w, "      max_concurrent = %d\n", ep.MaxConcurrent)
		} else {
			fmt.Fprintf(w, "      max_concurrent = <unbounded>\n")
		}
		fmt.Fprintf(w, "      models_include = %s\n", patternList(ep.ModelsInclude))
		fmt.Fprintf(w, "      models_exclude = %s\n", patternList(ep.ModelsExclude))
	}
}

func patternList(patterns []string) string {
	if len(patterns) == 0 {
		return "<none>"
	}
	return "[" + strings.Join(patterns, ", ") + "]"
}

func orDash(s string) string {
	return orDefault(s, "-")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
