// Package testutil provides shared fixtures, fakes, and a mock usage server.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

// DiscardLogger returns a logger that discards all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// FakeCLI writes an executable shell script named name into a temp directory
// that prints stdout, writes stderr, and exits with code. Returns the script path.
// Skips the test on Windows.
func FakeCLI(t *testing.T, name, stdout, stderr string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes are not supported on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)

	outFile := filepath.Join(dir, "stdout.txt")
	errFile := filepath.Join(dir, "stderr.txt")
	if err := os.WriteFile(outFile, []byte(stdout), 0o600); err != nil {
		t.Fatalf("FakeCLI: %v", err)
	}
	if err := os.WriteFile(errFile, []byte(stderr), 0o600); err != nil {
		t.Fatalf("FakeCLI: %v", err)
	}

	script := "#!/bin/sh\n" +
		"printf '%s' \"$*\" > \"" + filepath.Join(dir, "args.txt") + "\"\n" +
		"cat \"" + outFile + "\"\n" +
		"cat \"" + errFile + "\" >&2\n" +
		"exit " + strconv.Itoa(code) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatalf("FakeCLI: %v", err)
	}
	return path
}

// FakeCLIArgs returns the arguments the last FakeCLI invocation received.
func FakeCLIArgs(t *testing.T, scriptPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(scriptPath), "args.txt"))
	if err != nil {
		t.Fatalf("FakeCLIArgs: %v", err)
	}
	return string(data)
}
