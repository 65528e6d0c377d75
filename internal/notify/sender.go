// Package notify decides when to remind the user about unused session
// capacity and delivers the reminder.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// AppName is the notification source name.
const AppName = "Claudit"

// Sender delivers a desktop notification.
type Sender interface {
	Send(ctx context.Context, summary, body string) error
}

// CommandSender shells out to the platform notification tool.
type CommandSender struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

// NewCommandSender returns a sender for goos.
func NewCommandSender(goos string) *CommandSender {
	return &CommandSender{goos: goos, run: runQuiet}
}

// Command returns the command line used on this platform.
func (s *CommandSender) Command(summary, body string) (string, []string, error) {
	switch s.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(body), appleQuote(summary))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send", []string{"--app-name=" + AppName, summary, body}, nil
	default:
		return "", nil, fmt.Errorf("notifications unsupported on %s", s.goos)
	}
}

// Send runs the notification command.
func (s *CommandSender) Send(ctx context.Context, summary, body string) error {
	name, args, err := s.Command(summary, body)
	if err != nil {
		return err
	}
	if err := s.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func appleQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func runQuiet(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// LogSender writes reminders to the log instead of the desktop.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the reminder.
func (s LogSender) Send(_ context.Context, summary, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reminder", "summary", summary, "body", body)
	return nil
}
