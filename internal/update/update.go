// Package update checks GitHub releases for a newer claudit and can replace
// the running binary with it.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	githubReleasesURL = "https://api.github.com/repos/psurma/claudit/releases/latest"
	downloadBaseURL   = "https://github.com/psurma/claudit/releases/download"
	ReleasesPageURL   = "https://github.com/psurma/claudit/releases"
	defaultCacheTTL   = 1 * time.Hour
	unknownVersion    = "unknown"
)

// UpdateInfo holds the result of a version check.
type UpdateInfo struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
	ReleaseURL      string `json:"release_url"`
}

// Updater checks for and applies self-updates from GitHub releases.
type Updater struct {
	currentVersion string
	logger         *slog.Logger
	httpClient     *http.Client

	mu       sync.Mutex
	cached   *githubRelease
	cachedAt time.Time
	cacheTTL time.Duration

	// overridable in tests
	apiURL      string
	downloadURL string
}

// NewUpdater creates a new Updater with the given version and logger.
func NewUpdater(version string, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		currentVersion: version,
		logger:         logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cacheTTL:    defaultCacheTTL,
		apiURL:      githubReleasesURL,
		downloadURL: downloadBaseURL,
	}
}

// githubRelease is the subset of the GitHub release response we read.
type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Check queries GitHub for the latest release and compares it with the
// running version. A repository without releases reports "unknown".
// Results are cached for cacheTTL.
func (u *Updater) Check(ctx context.Context) (UpdateInfo, error) {
	u.mu.Lock()
	if u.cached != nil && time.Since(u.cachedAt) < u.cacheTTL {
		rel := *u.cached
		u.mu.Unlock()
		return u.infoFor(rel), nil
	}
	u.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.apiURL, nil)
	if err != nil {
		return u.infoFor(githubRelease{}), fmt.Errorf("update.Check: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Claudit")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return u.infoFor(githubRelease{}), fmt.Errorf("update.Check: %w", err)
	}
	defer resp.Body.Close()

	var release githubRelease
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// no published releases yet
	case resp.StatusCode != http.StatusOK:
		return u.infoFor(githubRelease{}), fmt.Errorf("update.Check: GitHub API returned %d", resp.StatusCode)
	default:
		if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
			return u.infoFor(githubRelease{}), fmt.Errorf("update.Check: %w", err)
		}
	}

	u.mu.Lock()
	u.cached = &release
	u.cachedAt = time.Now()
	u.mu.Unlock()

	info := u.infoFor(release)
	u.logger.Info("Version check complete",
		"current", info.CurrentVersion,
		"latest", info.LatestVersion,
		"available", info.UpdateAvailable)
	return info, nil
}

func (u *Updater) infoFor(rel githubRelease) UpdateInfo {
	info := UpdateInfo{
		CurrentVersion: u.currentVersion,
		LatestVersion:  unknownVersion,
		ReleaseURL:     ReleasesPageURL,
	}
	if rel.TagName != "" {
		info.LatestVersion = strings.TrimPrefix(rel.TagName, "v")
	}
	if rel.HTMLURL != "" {
		info.ReleaseURL = rel.HTMLURL
	}
	info.UpdateAvailable = info.LatestVersion != unknownVersion && isNewer(info.LatestVersion, u.currentVersion)
	return info
}

// Apply downloads the latest binary and swaps it in place of the current one.
func (u *Updater) Apply(ctx context.Context) error {
	if u.currentVersion == "dev" || u.currentVersion == "" {
		return fmt.Errorf("update.Apply: cannot update dev build")
	}

	info, err := u.Check(ctx)
	if err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}
	if !info.UpdateAvailable {
		return fmt.Errorf("update.Apply: already at latest version %s", u.currentVersion)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}

	exeDir := filepath.Dir(exePath)
	if err := checkWritable(exeDir); err != nil {
		return fmt.Errorf("update.Apply: binary directory not writable: %w", err)
	}

	url := u.binaryDownloadURL(info.LatestVersion)
	u.logger.Info("Downloading update", "version", info.LatestVersion, "url", url)

	// same directory as the binary so the final rename is atomic
	tmpFile, err := os.CreateTemp(exeDir, "claudit.tmp.*")
	if err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := u.download(ctx, url, tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("update.Apply: %w", err)
	}
	tmpFile.Close()

	if err := validateBinary(tmpPath); err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}
	if err := replaceBinary(exePath, tmpPath, u.logger); err != nil {
		return fmt.Errorf("update.Apply: %w", err)
	}

	u.logger.Info("Update applied successfully",
		"from", u.currentVersion,
		"to", info.LatestVersion)
	return nil
}

func (u *Updater) download(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	dlClient := &http.Client{Timeout: 60 * time.Second}
	resp, err := dlClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}
	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return fmt.Errorf("download write failed: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("downloaded file is empty")
	}
	return nil
}

// replaceBinary moves newPath over exePath, keeping a backup until the swap
// has succeeded.
func replaceBinary(exePath, newPath string, logger *slog.Logger) error {
	backupPath := exePath + ".old"
	// leftover from an interrupted update
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if err := os.Rename(exePath, backupPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := os.Rename(newPath, exePath); err != nil {
		if rerr := os.Rename(backupPath, exePath); rerr != nil {
			logger.Error("Failed to restore backup", "error", rerr)
		}
		return fmt.Errorf("swap failed: %w", err)
	}
	if err := os.Remove(backupPath); err != nil {
		logger.Warn("Failed to remove backup binary", "path", backupPath, "error", err)
	}
	return nil
}

// binaryDownloadURL constructs the download URL for the current platform.
func (u *Updater) binaryDownloadURL(version string) string {
	name := fmt.Sprintf("claudit-%s-%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return fmt.Sprintf("%s/v%s/%s", u.downloadURL, version, name)
}

// parseVersion splits a dotted numeric version. Any non-numeric part
// makes the whole version unparsable.
func parseVersion(v string) ([]uint64, bool) {
	parts := strings.Split(v, ".")
	nums := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, false
		}
		nums[i] = n
	}
	return nums, true
}

// isNewer reports whether latest is strictly greater than current.
// Missing parts count as zero; unparsable versions are never newer.
func isNewer(latest, current string) bool {
	l, ok := parseVersion(latest)
	if !ok {
		return false
	}
	c, ok := parseVersion(current)
	if !ok {
		return false
	}
	for i := 0; i < max(len(l), len(c)); i++ {
		var lv, cv uint64
		if i < len(l) {
			lv = l[i]
		}
		if i < len(c) {
			cv = c[i]
		}
		if lv != cv {
			return lv > cv
		}
	}
	return false
}

// checkWritable tests if the directory is writable by creating a temp file.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".claudit-write-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// validateBinary checks if the file starts with valid executable magic bytes.
func validateBinary(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open downloaded binary: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil || n < 4 {
		return fmt.Errorf("downloaded file too small to be a valid binary")
	}

	switch {
	case magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F':
		return nil // ELF
	case magic[0] == 0xFE && magic[1] == 0xED && magic[2] == 0xFA && (magic[3] == 0xCE || magic[3] == 0xCF):
		return nil // Mach-O
	case (magic[0] == 0xCE || magic[0] == 0xCF) && magic[1] == 0xFA && magic[2] == 0xED && magic[3] == 0xFE:
		return nil // Mach-O little-endian
	case magic[0] == 0xCA && magic[1] == 0xFE && magic[2] == 0xBA && magic[3] == 0xBE:
		return nil // universal
	case magic[0] == 'M' && magic[1] == 'Z':
		return nil // PE
	}
	return fmt.Errorf("downloaded file is not a valid executable (magic: %x)", magic)
}
