package device

import (
	"os/exec"
	"runtime"
	"strings"
)

// OpenBrowser launches the platform browser at url. Honors P0_NO_BROWSER for
// headless environments; callers treat failures as non-fatal.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// BrowserDisabled reports whether the environment opted out of browser
// launching.
func BrowserDisabled(env string) bool {
	return strings.EqualFold(env, "true") || env == "1"
}
