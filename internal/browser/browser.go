// Package browser opens photo URLs and downloaded files with the desktop's default viewer.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxOpeners = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Overridden in tests.
var (
	openRun  = open.Run
	lookPath = exec.LookPath
	startCmd = func(cmd *exec.Cmd) error { return cmd.Start() }
)

// OpenURL opens target, a URL or a local file path, in the default viewer.
// open-golang is tried first; platform commands are the fallback.
func OpenURL(target string) error {
	err := openRun(target)
	if err == nil {
		log.Debugf("opened %s", target)
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)

	cmd, err := platformCommand(target)
	if err != nil {
		return err
	}
	log.Debugf("running %s %v", cmd.Path, cmd.Args[1:])
	if err = startCmd(cmd); err != nil {
		return fmt.Errorf("browser: start %s: %w", cmd.Path, err)
	}
	return nil
}

func platformCommand(target string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target), nil
	case "linux":
		if opener := firstAvailable(); opener != "" {
			return exec.Command(opener, target), nil
		}
		return nil, fmt.Errorf("browser: no suitable opener found")
	}
	return nil, fmt.Errorf("browser: unsupported operating system %s", runtime.GOOS)
}

func firstAvailable() string {
	for _, name := range linuxOpeners {
		if _, err := lookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// IsAvailable reports whether a platform opener exists. It does not launch anything.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		return firstAvailable() != ""
	}
	return false
}
