package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"
)

// CredentialService is the secret-store service name Claude Code writes to.
const CredentialService = "Claude Code-credentials"

// Credential lookup failures.
var (
	ErrCredentialsNotFound = errors.New("credentials not found. Run `claude` first to authenticate")
	ErrCredentialsParse    = errors.New("failed to parse credentials")
)

// CredentialProvider resolves an OAuth bearer token.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// claudeCredentials is the JSON blob stored under CredentialService.
type claudeCredentials struct {
	ClaudeAiOauth *struct {
		AccessToken string `json:"accessToken"`
	} `json:"claudeAiOauth"`
}

// ParseCredentials extracts claudeAiOauth.accessToken from a credentials blob.
func ParseCredentials(data []byte) (string, error) {
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialsParse, err)
	}
	if creds.ClaudeAiOauth == nil || creds.ClaudeAiOauth.AccessToken == "" {
		return "", fmt.Errorf("%w: missing claudeAiOauth.accessToken", ErrCredentialsParse)
	}
	return strings.TrimSpace(creds.ClaudeAiOauth.AccessToken), nil
}

// SecretSource reads the raw credentials blob from one backing store.
// It returns ErrCredentialsNotFound when the store has no entry.
type SecretSource struct {
	Name string
	Read func(ctx context.Context) ([]byte, error)
}

// StaticToken is a provider for an explicitly configured token.
type StaticToken string

// Token returns the configured token, or NotFound when empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrCredentialsNotFound
	}
	return string(s), nil
}

// SecretStoreProvider tries each source in order; the first source holding an
// entry decides the result.
type SecretStoreProvider struct {
	sources []SecretSource
	logger  *slog.Logger
}

// NewSecretStoreProvider creates a provider over explicit sources.
func NewSecretStoreProvider(logger *slog.Logger, sources ...SecretSource) *SecretStoreProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretStoreProvider{sources: sources, logger: logger}
}

// NewPlatformProvider creates a provider with the secret sources conventional
// for goos, followed by the credentials file fallback.
func NewPlatformProvider(goos string, logger *slog.Logger) *SecretStoreProvider {
	return NewSecretStoreProvider(logger, PlatformSources(goos)...)
}

// PlatformSources returns the lookup strategy for the given platform.
func PlatformSources(goos string) []SecretSource {
	var sources []SecretSource
	switch goos {
	case "darwin":
		sources = append(sources, SecretSource{Name: "macOS Keychain", Read: readMacKeychain})
	default:
		sources = append(sources, SecretSource{Name: "OS keyring", Read: readKeyring})
	}
	return append(sources, SecretSource{Name: "credentials file", Read: readCredentialsFile})
}

// Token resolves the access token.
func (p *SecretStoreProvider) Token(ctx context.Context) (string, error) {
	for _, src := range p.sources {
		raw, err := src.Read(ctx)
		if errors.Is(err, ErrCredentialsNotFound) {
			continue
		}
		if err != nil {
			p.logger.Debug("credential source failed", "source", src.Name, "error", err)
			continue
		}
		token, err := ParseCredentials(raw)
		if err != nil {
			return "", err
		}
		p.logger.Debug("credentials resolved", "source", src.Name, "token", RedactToken(token))
		return token, nil
	}
	return "", ErrCredentialsNotFound
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func readMacKeychain(ctx context.Context) ([]byte, error) {
	args := []string{"find-generic-password", "-s", CredentialService, "-w"}
	if name := currentUsername(); name != "" {
		args = append(args, "-a", name)
	}
	out, err := exec.CommandContext(ctx, "security", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, ErrCredentialsNotFound
		}
		return nil, err
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

const keyringDefaultAccount = "default"

// keyringAccounts are tried in order. The desktop app stores its entry
// under "default"; the CLI uses the login name.
func keyringAccounts() []string {
	accounts := []string{keyringDefaultAccount}
	if u := currentUsername(); u != "" && u != keyringDefaultAccount {
		accounts = append(accounts, u)
	}
	return accounts
}

func readKeyring(context.Context) ([]byte, error) {
	for _, account := range keyringAccounts() {
		secret, err := keyring.Get(CredentialService, account)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return []byte(secret), nil
	}
	return nil, ErrCredentialsNotFound
}

// CredentialsFilePath returns ~/.claude/.credentials.json.
func CredentialsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

func readCredentialsFile(context.Context) ([]byte, error) {
	path := CredentialsFilePath()
	if path == "" {
		return nil, ErrCredentialsNotFound
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	return data, err
}

// DefaultProvider returns the platform provider for the running OS.
func DefaultProvider(logger *slog.Logger) *SecretStoreProvider {
	return NewPlatformProvider(runtime.GOOS, logger)
}
