package version

import (
	"fmt"
	"log"
)

var (
	Name        = "labman"
	Description = "per-node LLM endpoint manager"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "unknown"
)

// PrintVersionInfo writes the banner line, plus build details when
// extendedInfo is set.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	vlog.Printf("%s %s - %s", Name, Version, Description)
	if extendedInfo {
		vlog.Println(fmt.Sprintf(" Commit: %s", Commit))
		vlog.Println(fmt.Sprintf("  Built: %s", Date))
	}
}
