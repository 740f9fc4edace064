package browser

import (
	"errors"
	"os/exec"
	"runtime"
	"testing"

	"github.com/skratchdot/open-golang/open"
)

func TestOpenURLPrefersLibrary(t *testing.T) {
	var opened string
	openRun = func(target string) error { opened = target; return nil }
	startCmd = func(*exec.Cmd) error { t.Fatalf("fallback used"); return nil }
	t.Cleanup(restore)

	if err := OpenURL("http://127.0.0.1/p.jpg"); err != nil {
		t.Fatalf("OpenURL: %v", err)
	}
	if opened != "http://127.0.0.1/p.jpg" {
		t.Fatalf("opened %q", opened)
	}
}

func TestOpenURLFallsBackToPlatformCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux opener lookup")
	}
	openRun = func(string) error { return errors.New("no display") }
	lookPath = func(name string) (string, error) {
		if name == "firefox" {
			return "/usr/bin/firefox", nil
		}
		return "", exec.ErrNotFound
	}
	var args []string
	startCmd = func(cmd *exec.Cmd) error { args = cmd.Args; return nil }
	t.Cleanup(restore)

	if err := OpenURL("/tmp/p.jpg"); err != nil {
		t.Fatalf("OpenURL: %v", err)
	}
	if len(args) != 2 || args[0] != "firefox" || args[1] != "/tmp/p.jpg" {
		t.Fatalf("args = %v", args)
	}

	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if err := OpenURL("/tmp/p.jpg"); err == nil {
		t.Fatalf("expected error without any opener")
	}
	if IsAvailable() {
		t.Fatalf("IsAvailable = true without any opener")
	}
}

func restore() {
	openRun = open.Run
	lookPath = exec.LookPath
	startCmd = func(cmd *exec.Cmd) error { return cmd.Start() }
}
