package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/metrics"
	"github.com/psurma/claudit/internal/store"
)

// Reminder thresholds.
const (
	MinMinutesLeft = 30
	MaxMinutesLeft = 75
	UsageCeiling   = 0.80
)

// ReminderSummary is the notification title.
const ReminderSummary = "Use your tokens!"

const reminderType = "session_reminder"

// Decision is the outcome of evaluating the session limit.
type Decision struct {
	Fire        bool   `json:"fire"`
	Reason      string `json:"reason"`
	Percent     int    `json:"percent"`
	MinutesLeft int    `json:"minutes_left"`
	Cycle       string `json:"cycle"`
}

// Body returns the reminder text for a firing decision.
func (d Decision) Body() string {
	return fmt.Sprintf("You've only used %d%% of your session. ~%dmin left before it resets.", d.Percent, d.MinutesLeft)
}

// Evaluate decides whether the session limit warrants a reminder at now.
// It does not consult the reminder log.
func Evaluate(session api.UsageLimit, now time.Time) Decision {
	if session.ResetAt == nil {
		return Decision{Reason: "no reset time"}
	}
	d := Decision{Cycle: *session.ResetAt}

	resetAt, err := time.Parse(time.RFC3339, *session.ResetAt)
	if err != nil {
		d.Reason = "unparsable reset time"
		return d
	}

	d.MinutesLeft = int(resetAt.Sub(now) / time.Minute)
	d.Percent = int(session.UsagePct * 100)

	switch {
	case d.MinutesLeft < MinMinutesLeft || d.MinutesLeft > MaxMinutesLeft:
		d.Reason = "outside reminder window"
	case session.UsagePct >= UsageCeiling:
		d.Reason = "usage above ceiling"
	default:
		d.Fire = true
		d.Reason = "session underused"
	}
	return d
}

// UsageSource fetches usage for a token.
type UsageSource interface {
	FetchUsage(ctx context.Context, token string) (*api.UsageData, error)
}

// Engine checks the session limit and sends at most one reminder per reset
// window. Sent windows are recorded in the store's notification log.
type Engine struct {
	creds  api.CredentialProvider
	usage  UsageSource
	store  *store.Store
	sender Sender

	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	checkMu sync.Mutex
	mu      sync.Mutex
	enabled bool
}

// New creates an Engine. The enabled flag is read from the store,
// defaulting to on.
func New(creds api.CredentialProvider, usage UsageSource, s *store.Store, sender Sender, logger *slog.Logger, m *metrics.Collector) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	enabled, err := s.GetBool(store.KeyNotifications, true)
	if err != nil {
		logger.Warn("notification preference unreadable, defaulting to on", "error", err)
	}
	return &Engine{
		creds:   creds,
		usage:   usage,
		store:   s,
		sender:  sender,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		enabled: enabled,
	}
}

// Enabled reports whether reminders are on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetEnabled persists and applies the preference.
func (e *Engine) SetEnabled(enabled bool) error {
	if err := e.store.SetBool(store.KeyNotifications, enabled); err != nil {
		return err
	}
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	e.logger.Info("Notifications preference changed", "enabled", enabled)
	return nil
}

// Check runs one evaluation. Checks are serialized so a slow fetch cannot
// race a second reminder for the same window.
func (e *Engine) Check(ctx context.Context) (Decision, error) {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()

	if !e.Enabled() {
		return Decision{Reason: "disabled"}, nil
	}

	token, err := e.creds.Token(ctx)
	if err != nil {
		e.logger.Debug("notifier: no valid token, skipping", "error", err)
		return Decision{Reason: "no credential"}, err
	}

	data, err := e.usage.FetchUsage(ctx, token)
	if err != nil {
		e.logger.Debug("notifier: usage fetch failed", "error", err)
		return Decision{Reason: "fetch failed"}, err
	}

	session, ok := data.Limit(api.LabelSession)
	if !ok {
		return Decision{Reason: "no session limit"}, nil
	}
	if session.ResetAt != nil {
		last, err := e.store.GetLastNotification(api.LabelSession, reminderType)
		if err != nil {
			return Decision{Reason: "log unreadable"}, err
		}
		if last != nil && last.Cycle == *session.ResetAt {
			return Decision{Cycle: last.Cycle, Reason: "already reminded"}, nil
		}
	}

	d := Evaluate(session, e.now())
	e.logger.Debug("notifier evaluated",
		"minutes_left", d.MinutesLeft,
		"percent", d.Percent,
		"fire", d.Fire,
		"reason", d.Reason,
	)
	if !d.Fire {
		return d, nil
	}

	if err := e.sender.Send(ctx, ReminderSummary, d.Body()); err != nil {
		e.logger.Error("notifier: failed to send", "error", err)
		return d, err
	}
	e.metrics.ReminderSent()
	e.logger.Info("Session reminder sent", "percent", d.Percent, "minutes_left", d.MinutesLeft)

	if err := e.store.UpsertNotificationLog(api.LabelSession, reminderType, d.Cycle, session.UsagePct); err != nil {
		e.logger.Error("failed to log notification", "error", err)
	}
	return d, nil
}
