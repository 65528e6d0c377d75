package cost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocatorFor_Platforms(t *testing.T) {
	t.Setenv("APPDATA", `C:\Users\me\AppData\Roaming`)

	win := LocatorFor("windows")
	if win.LookupCmd != "where" || win.ListSeparator != ";" {
		t.Errorf("windows locator = %+v", win)
	}
	if len(win.Candidates) != 1 || !strings.HasSuffix(win.Candidates[0], "ccusage.cmd") {
		t.Errorf("windows candidates = %v, want ccusage.cmd", win.Candidates)
	}

	for _, goos := range []string{"darwin", "linux"} {
		l := LocatorFor(goos)
		if l.LookupCmd != "which" || l.ListSeparator != ":" {
			t.Errorf("%s locator = %+v", goos, l)
		}
		for _, c := range l.Candidates {
			if filepath.Base(c) != ToolName {
				t.Errorf("%s candidate %q does not name %s", goos, c, ToolName)
			}
		}
	}

	mac := LocatorFor("darwin")
	found := false
	for _, d := range mac.ExtraDirs {
		if d == "/opt/homebrew/bin" {
			found = true
		}
	}
	if !found {
		t.Errorf("darwin extra dirs %v missing /opt/homebrew/bin", mac.ExtraDirs)
	}
}

func TestLocator_ResolveCandidate(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing", ToolName)
	present := filepath.Join(dir, ToolName)
	if err := os.WriteFile(present, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := Locator{Candidates: []string{missing, dir, present}}
	got, err := l.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != present {
		t.Errorf("Resolve = %q, want %q", got, present)
	}
}

func TestLocator_ResolveNotFound(t *testing.T) {
	l := Locator{Candidates: []string{filepath.Join(t.TempDir(), ToolName)}}
	if _, err := l.Resolve(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}

	l.LookupCmd = filepath.Join(t.TempDir(), "no-such-lookup")
	if _, err := l.Resolve(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve with failing lookup = %v, want ErrNotFound", err)
	}
}

func TestLocator_ChildPath(t *testing.T) {
	l := Locator{ExtraDirs: []string{"/a", "/b"}, ListSeparator: ":"}
	if got := l.ChildPath("/usr/bin"); got != "/a:/b:/usr/bin" {
		t.Errorf("ChildPath = %q", got)
	}
	if got := l.ChildPath(""); got != "/a:/b" {
		t.Errorf("ChildPath empty = %q", got)
	}
	if len(l.ExtraDirs) != 2 {
		t.Errorf("ChildPath mutated ExtraDirs: %v", l.ExtraDirs)
	}
}
