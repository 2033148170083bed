package doctor

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/perchbot/perch/internal/config"
)

// checkFilePermissions flags group/world access on the config file. The file
// may carry plaintext credentials between externalize runs.
func checkFilePermissions(path string) []Finding {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	perm := info.Mode().Perm()

	var findings []Finding
	if perm&0o022 != 0 {
		findings = append(findings, Finding{
			Check:    "permissions",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("config file %q is group/world writable (%#o)", path, perm),
			Fix:      fmt.Sprintf("chmod 600 %s", path),
		})
	} else if perm&0o044 != 0 {
		findings = append(findings, Finding{
			Check:    "permissions",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("config file %q is group/world readable (%#o)", path, perm),
			Fix:      fmt.Sprintf("chmod 600 %s", path),
		})
	}
	return findings
}

// checkBindHazards flags a publicly reachable listener with no auth token.
func checkBindHazards(doc config.Document) []Finding {
	hostValue, _ := config.GetPath(doc, "server.host")
	tokenValue, _ := config.GetPath(doc, "auth.token")
	host, _ := hostValue.(string)
	token, _ := tokenValue.(string)
	if !isPublicBind(host) || strings.TrimSpace(token) != "" {
		return nil
	}
	return []Finding{{
		Check:    "server",
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("server.host %q is publicly reachable without auth.token", host),
		Fix:      "set auth.token or bind to 127.0.0.1",
	}}
}

func isPublicBind(host string) bool {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		// The gateway defaults to loopback when unset.
		return false
	}
	if strings.EqualFold(trimmed, "localhost") {
		return false
	}
	if ip := net.ParseIP(trimmed); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
