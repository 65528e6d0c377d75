// Package autostart registers claudit to launch at login.
package autostart

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Label identifies the login item.
const Label = "com.psurma.claudit"

// ErrUnsupported is returned on platforms without a login item strategy.
var ErrUnsupported = errors.New("autostart is unsupported on this platform")

// Manager toggles launch-at-login.
type Manager interface {
	IsEnabled() (bool, error)
	Enable() error
	Disable() error
}

// FileManager manages a login item described by a single file: a
// LaunchAgent plist on macOS, an XDG autostart entry elsewhere.
type FileManager struct {
	Kind    string
	Path    string
	ExePath string
}

// New returns the login item manager for goos, rooted at home.
func New(goos, home, exePath string) Manager {
	switch goos {
	case "darwin":
		return &FileManager{
			Kind:    goos,
			Path:    filepath.Join(home, "Library", "LaunchAgents", Label+".plist"),
			ExePath: exePath,
		}
	case "linux", "freebsd", "openbsd", "netbsd":
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			dir = filepath.Join(home, ".config")
		}
		return &FileManager{
			Kind:    goos,
			Path:    filepath.Join(dir, "autostart", "claudit.desktop"),
			ExePath: exePath,
		}
	default:
		return unsupported{}
	}
}

// Default returns the manager for the running binary.
func Default(goos string) (Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	return New(goos, home, exePath), nil
}

// IsEnabled reports whether the login item file exists.
func (m *FileManager) IsEnabled() (bool, error) {
	_, err := os.Stat(m.Path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Enable writes the login item.
func (m *FileManager) Enable() error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return fmt.Errorf("create autostart dir: %w", err)
	}
	if err := os.WriteFile(m.Path, []byte(m.content()), 0o644); err != nil {
		return fmt.Errorf("write login item: %w", err)
	}
	return nil
}

// Disable removes the login item. Removing an absent item is not an error.
func (m *FileManager) Disable() error {
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove login item: %w", err)
	}
	return nil
}

func (m *FileManager) content() string {
	if m.Kind == "darwin" {
		return launchAgentPlist(m.ExePath)
	}
	return desktopEntry(m.ExePath)
}

func launchAgentPlist(exePath string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>serve</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`, Label, xmlEscape(exePath))
}

func desktopEntry(exePath string) string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=Claudit
Comment=Claude usage and cost monitor
Exec=%s serve
Terminal=false
X-GNOME-Autostart-enabled=true
`, desktopExecQuote(exePath))
}

func xmlEscape(in string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(in)); err != nil {
		return in
	}
	return b.String()
}

// desktopExecQuote quotes a path for the Exec key of a desktop entry.
func desktopExecQuote(p string) string {
	if !strings.ContainsAny(p, " \t\"'\\$`") {
		return p
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(p) + `"`
}

type unsupported struct{}

func (unsupported) IsEnabled() (bool, error) { return false, nil }
func (unsupported) Enable() error            { return ErrUnsupported }
func (unsupported) Disable() error           { return ErrUnsupported }
