package update

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name            string
		latest, current string
		want            bool
	}{
		{"equal", "1.2.0", "1.2.0", false},
		{"greater major", "2.0.0", "1.9.9", true},
		{"lower major", "1.0.0", "2.0.0", false},
		{"greater minor", "1.3.0", "1.2.0", true},
		{"greater patch", "1.2.1", "1.2.0", true},
		{"short latest", "1.3", "1.2.9", true},
		{"short current", "1.2.0.1", "1.2", true},
		{"padded equal", "1.2", "1.2.0", false},
		{"numeric not lexical", "1.10.0", "1.9.0", true},
		{"unparsable latest", "1.2.0-beta", "1.1.0", false},
		{"unparsable current", "2.0.0", "dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNewer(tt.latest, tt.current); got != tt.want {
				t.Errorf("isNewer(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
			}
		})
	}
}

func releaseServer(t *testing.T, status int, rel githubRelease) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if ua := r.Header.Get("User-Agent"); ua != "Claudit" {
			t.Errorf("User-Agent = %q, want Claudit", ua)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(rel)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCheck_UpdateAvailable(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusOK, githubRelease{
		TagName: "v1.3.0",
		HTMLURL: "https://github.com/psurma/claudit/releases/tag/v1.3.0",
	})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	info, err := u.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.UpdateAvailable {
		t.Error("expected update to be available")
	}
	if info.LatestVersion != "1.3.0" {
		t.Errorf("got latest=%q, want %q", info.LatestVersion, "1.3.0")
	}
	if info.ReleaseURL != "https://github.com/psurma/claudit/releases/tag/v1.3.0" {
		t.Errorf("got release_url=%q", info.ReleaseURL)
	}
}

func TestCheck_AlreadyLatest(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusOK, githubRelease{TagName: "v1.2.0"})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	info, err := u.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.UpdateAvailable {
		t.Error("should not report update when at latest version")
	}
	if info.ReleaseURL != ReleasesPageURL {
		t.Errorf("expected fallback release URL, got %q", info.ReleaseURL)
	}
}

func TestCheck_NoReleases(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusNotFound, githubRelease{})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	info, err := u.Check(context.Background())
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	want := UpdateInfo{
		CurrentVersion:  "1.2.0",
		LatestVersion:   "unknown",
		UpdateAvailable: false,
		ReleaseURL:      ReleasesPageURL,
	}
	if info != want {
		t.Errorf("got %+v, want %+v", info, want)
	}
}

func TestCheck_DevVersionNeverAvailable(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusOK, githubRelease{TagName: "v9.9.9"})

	u := NewUpdater("dev", slog.Default())
	u.apiURL = srv.URL

	info, err := u.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.UpdateAvailable {
		t.Error("dev build should never report updates available")
	}
}

func TestCheck_CacheTTL(t *testing.T) {
	srv, calls := releaseServer(t, http.StatusOK, githubRelease{TagName: "v1.3.0"})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	for range 3 {
		if _, err := u.Check(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 API call with caching, got %d", calls.Load())
	}

	u.cacheTTL = time.Millisecond
	time.Sleep(5 * time.Millisecond)
	if _, err := u.Check(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected refetch after expiry, got %d calls", calls.Load())
	}
}

func TestCheck_GitHubAPIError(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusInternalServerError, githubRelease{})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	info, err := u.Check(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if info.CurrentVersion != "1.2.0" {
		t.Errorf("current version should still be reported, got %q", info.CurrentVersion)
	}
}

func TestCheck_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	if _, err := u.Check(context.Background()); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestApply_DevBuild(t *testing.T) {
	u := NewUpdater("dev", slog.Default())
	if err := u.Apply(context.Background()); err == nil {
		t.Fatal("expected error when applying update to dev build")
	}
}

func TestApply_AlreadyLatest(t *testing.T) {
	srv, _ := releaseServer(t, http.StatusOK, githubRelease{TagName: "v1.2.0"})

	u := NewUpdater("1.2.0", slog.Default())
	u.apiURL = srv.URL

	if err := u.Apply(context.Background()); err == nil {
		t.Fatal("expected error when already at latest")
	}
}

func TestBinaryDownloadURL(t *testing.T) {
	u := NewUpdater("1.2.0", slog.Default())
	url := u.binaryDownloadURL("1.3.0")
	if want := downloadBaseURL + "/v1.3.0/claudit-"; len(url) <= len(want) || url[:len(want)] != want {
		t.Errorf("unexpected download URL %q", url)
	}
}

func TestValidateBinary(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		wantErr bool
	}{
		{"elf", []byte{0x7f, 'E', 'L', 'F', 0, 0}, false},
		{"macho", []byte{0xCF, 0xFA, 0xED, 0xFE, 0, 0}, false},
		{"universal", []byte{0xCA, 0xFE, 0xBA, 0xBE}, false},
		{"pe", []byte{'M', 'Z', 0x90, 0}, false},
		{"html", []byte("<html>not found</html>"), true},
		{"too small", []byte{0x7f}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bin")
			if err := os.WriteFile(path, tt.content, 0o755); err != nil {
				t.Fatal(err)
			}
			err := validateBinary(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBinary() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckWritable(t *testing.T) {
	if err := checkWritable(t.TempDir()); err != nil {
		t.Errorf("temp dir should be writable: %v", err)
	}
	if err := checkWritable(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing dir should not be writable")
	}
}

func TestReplaceBinary(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "claudit")
	tmpPath := filepath.Join(dir, "claudit.tmp.123")
	oldPath := exePath + ".old"

	// leftover from a previous failed update
	if err := os.WriteFile(oldPath, []byte("stale-old"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exePath, []byte("old-binary-content"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmpPath, []byte("new-binary-content"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := replaceBinary(exePath, tmpPath, slog.Default()); err != nil {
		t.Fatalf("replaceBinary failed: %v", err)
	}

	content, err := os.ReadFile(exePath)
	if err != nil {
		t.Fatalf("failed to read replaced binary: %v", err)
	}
	if string(content) != "new-binary-content" {
		t.Errorf("got content=%q, want %q", string(content), "new-binary-content")
	}
	if _, err := os.Stat(tmpPath); err == nil {
		t.Error("temp file should have been renamed away")
	}
	if _, err := os.Stat(oldPath); err == nil {
		t.Error(".old backup should have been cleaned up")
	}
}

func TestReplaceBinary_MissingNewFileRestoresBackup(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "claudit")
	if err := os.WriteFile(exePath, []byte("current"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := replaceBinary(exePath, filepath.Join(dir, "missing"), slog.Default()); err == nil {
		t.Fatal("expected swap error")
	}
	content, err := os.ReadFile(exePath)
	if err != nil || string(content) != "current" {
		t.Errorf("expected original binary restored, got %q, %v", content, err)
	}
}
