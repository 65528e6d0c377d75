package cost

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ToolName is the cost reporting CLI.
const ToolName = "ccusage"

// Locator finds the CLI on one platform: fixed candidate paths first, then
// a PATH lookup command.
type Locator struct {
	// Candidates are checked in order for an existing file.
	Candidates []string
	// LookupCmd is run as `LookupCmd ccusage`; its first output line is
	// taken as the path. Empty disables the lookup.
	LookupCmd string
	// ExtraDirs are prepended to the child's PATH.
	ExtraDirs []string
	// ListSeparator joins PATH entries.
	ListSeparator string
}

// LocatorFor returns the resolution strategy for goos.
func LocatorFor(goos string) Locator {
	home, _ := os.UserHomeDir()
	npmGlobal := filepath.Join(home, ".npm-global", "bin")

	switch goos {
	case "windows":
		appData := os.Getenv("APPDATA")
		dirs := []string{filepath.Join(appData, "npm")}
		return Locator{
			Candidates:    []string{filepath.Join(appData, "npm", ToolName+".cmd")},
			LookupCmd:     "where",
			ExtraDirs:     dirs,
			ListSeparator: ";",
		}
	case "darwin":
		dirs := []string{npmGlobal, "/usr/local/bin", "/opt/homebrew/bin"}
		return Locator{
			Candidates:    joinAll(dirs, ToolName),
			LookupCmd:     "which",
			ExtraDirs:     dirs,
			ListSeparator: ":",
		}
	default:
		dirs := []string{npmGlobal, filepath.Join(home, ".local", "bin"), "/usr/local/bin", "/usr/bin"}
		return Locator{
			Candidates:    joinAll(dirs, ToolName),
			LookupCmd:     "which",
			ExtraDirs:     dirs,
			ListSeparator: ":",
		}
	}
}

func joinAll(dirs []string, name string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = filepath.Join(d, name)
	}
	return out
}

// Resolve returns the path of the CLI or ErrNotFound.
func (l Locator) Resolve(ctx context.Context) (string, error) {
	for _, c := range l.Candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	if l.LookupCmd == "" {
		return "", ErrNotFound
	}
	out, err := exec.CommandContext(ctx, l.LookupCmd, ToolName).Output()
	if err != nil {
		return "", ErrNotFound
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if first = strings.TrimSpace(first); first == "" {
		return "", ErrNotFound
	}
	return first, nil
}

// ChildPath returns current prefixed with the install directories.
func (l Locator) ChildPath(current string) string {
	parts := append([]string{}, l.ExtraDirs...)
	if current != "" {
		parts = append(parts, current)
	}
	return strings.Join(parts, l.ListSeparator)
}
