package tunnel

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Destination is one endpoint of a file transfer, either a local path or a
// remote host with an optional port and path.
type Destination struct {
	Host string
	Port int
	Path string
}

func (d Destination) Remote() bool { return d.Host != "" }

func (d Destination) String() string {
	if !d.Remote() {
		return d.Path
	}
	if d.Port != 0 {
		return fmt.Sprintf("%s:%d:%s", d.Host, d.Port, d.Path)
	}
	return fmt.Sprintf("%s:%s", d.Host, d.Path)
}

// ParseDestination classifies a transfer endpoint. Precedence matters: a
// leading /, ./ or ../ is unambiguously local even when the rest of the path
// contains a colon, a scheme-less host:path is remote, a full URI is remote
// with an explicit port, and everything else defaults to local.
func ParseDestination(raw string) (Destination, error) {
	if raw == "" {
		return Destination{}, fmt.Errorf("destination is empty")
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") {
		return Destination{Path: raw}, nil
	}
	if !strings.Contains(raw, "://") {
		if idx := strings.Index(raw, ":"); idx > 0 {
			return Destination{Host: raw[:idx], Path: raw[idx+1:]}, nil
		}
		return Destination{Path: raw}, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid destination URI: %w", err)
	}
	if parsed.Hostname() == "" {
		return Destination{}, fmt.Errorf("destination URI %q has no host", raw)
	}
	dest := Destination{Host: parsed.Hostname(), Path: parsed.Path}
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Destination{}, fmt.Errorf("invalid destination port %q", portStr)
		}
		dest.Port = port
	}
	return dest, nil
}
