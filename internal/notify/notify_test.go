package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/store"
	"github.com/psurma/claudit/internal/testutil"
)

var baseNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sessionLimit(usage float64, resetIn time.Duration) api.UsageLimit {
	reset := baseNow.Add(resetIn).Format(time.RFC3339)
	return api.UsageLimit{Label: api.LabelSession, UsagePct: usage, ResetAt: &reset}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		limit   api.UsageLimit
		fire    bool
		percent int
		minutes int
	}{
		{"inside window underused", sessionLimit(0.45, 60*time.Minute), true, 45, 60},
		{"lower edge", sessionLimit(0.10, 30*time.Minute), true, 10, 30},
		{"upper edge", sessionLimit(0.10, 75*time.Minute), true, 10, 75},
		{"too early", sessionLimit(0.10, 76*time.Minute), false, 10, 76},
		{"too late", sessionLimit(0.10, 29*time.Minute), false, 10, 29},
		{"at ceiling", sessionLimit(0.80, 60*time.Minute), false, 80, 60},
		{"truncates minutes", sessionLimit(0.5, 45*time.Minute+59*time.Second), true, 50, 45},
		{"floors percent", sessionLimit(0.799, 45*time.Minute), true, 79, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.limit, baseNow)
			if d.Fire != tt.fire {
				t.Errorf("Fire = %v, want %v (%s)", d.Fire, tt.fire, d.Reason)
			}
			if d.Percent != tt.percent {
				t.Errorf("Percent = %d, want %d", d.Percent, tt.percent)
			}
			if d.MinutesLeft != tt.minutes {
				t.Errorf("MinutesLeft = %d, want %d", d.MinutesLeft, tt.minutes)
			}
		})
	}
}

func TestEvaluate_MissingOrBadReset(t *testing.T) {
	if d := Evaluate(api.UsageLimit{Label: api.LabelSession, UsagePct: 0.1}, baseNow); d.Fire {
		t.Error("expected no fire without reset time")
	}
	bad := "soon"
	if d := Evaluate(api.UsageLimit{UsagePct: 0.1, ResetAt: &bad}, baseNow); d.Fire {
		t.Error("expected no fire with unparsable reset time")
	}
}

func TestDecision_Body(t *testing.T) {
	d := Decision{Percent: 42, MinutesLeft: 50}
	want := "You've only used 42% of your session. ~50min left before it resets."
	if got := d.Body(); got != want {
		t.Errorf("Body() = %q, want %q", got, want)
	}
}

type fakeUsage struct {
	data *api.UsageData
	err  error
}

func (f *fakeUsage) FetchUsage(context.Context, string) (*api.UsageData, error) {
	return f.data, f.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (r *recordingSender) Send(_ context.Context, summary, body string) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, summary+"|"+body)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestEngine(t *testing.T, usage UsageSource, sender Sender) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	e := New(api.StaticToken("tok"), usage, s, sender, testutil.DiscardLogger(), nil)
	e.now = func() time.Time { return baseNow }
	return e, s
}

func TestEngine_SendsOncePerResetWindow(t *testing.T) {
	usage := &fakeUsage{data: &api.UsageData{Limits: []api.UsageLimit{sessionLimit(0.3, time.Hour)}}}
	sender := &recordingSender{}
	e, _ := newTestEngine(t, usage, sender)

	d, err := e.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Fire {
		t.Fatalf("expected fire, got %+v", d)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 reminder, got %d", sender.count())
	}
	if !strings.HasPrefix(sender.sent[0], ReminderSummary+"|You've only used 30%") {
		t.Errorf("unexpected reminder: %q", sender.sent[0])
	}

	if _, err := e.Check(context.Background()); err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("expected dedupe within the same window, got %d reminders", sender.count())
	}

	// New reset window.
	usage.data = &api.UsageData{Limits: []api.UsageLimit{sessionLimit(0.3, 50*time.Minute)}}
	if _, err := e.Check(context.Background()); err != nil {
		t.Fatalf("third Check: %v", err)
	}
	if sender.count() != 2 {
		t.Errorf("expected reminder for new window, got %d", sender.count())
	}
}

func TestEngine_Disabled(t *testing.T) {
	usage := &fakeUsage{data: &api.UsageData{Limits: []api.UsageLimit{sessionLimit(0.3, time.Hour)}}}
	sender := &recordingSender{}
	e, s := newTestEngine(t, usage, sender)

	if !e.Enabled() {
		t.Fatal("expected enabled by default")
	}
	if err := e.SetEnabled(false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if _, err := e.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if sender.count() != 0 {
		t.Error("disabled engine must not send")
	}

	reloaded := New(api.StaticToken("tok"), usage, s, sender, testutil.DiscardLogger(), nil)
	if reloaded.Enabled() {
		t.Error("expected preference to persist")
	}
}

func TestEngine_FailedSendIsRetried(t *testing.T) {
	usage := &fakeUsage{data: &api.UsageData{Limits: []api.UsageLimit{sessionLimit(0.3, time.Hour)}}}
	sender := &recordingSender{fail: errors.New("no daemon")}
	e, _ := newTestEngine(t, usage, sender)

	if _, err := e.Check(context.Background()); err == nil {
		t.Fatal("expected send error")
	}
	sender.fail = nil
	if _, err := e.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("expected retry to send, got %d", sender.count())
	}
}

func TestEngine_FetchErrorAndMissingSession(t *testing.T) {
	sender := &recordingSender{}
	e, _ := newTestEngine(t, &fakeUsage{err: api.ErrUsageUnauthorized}, sender)
	if _, err := e.Check(context.Background()); !errors.Is(err, api.ErrUsageUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}

	e2, _ := newTestEngine(t, &fakeUsage{data: &api.UsageData{}}, sender)
	d, err := e2.Check(context.Background())
	if err != nil || d.Fire {
		t.Errorf("expected quiet no-op, got %+v, %v", d, err)
	}
	if sender.count() != 0 {
		t.Error("expected no reminders")
	}
}

func TestCommandSender(t *testing.T) {
	var gotName string
	var gotArgs []string
	s := NewCommandSender("linux")
	s.run = func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}
	if err := s.Send(context.Background(), "Title", "Body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotName != "notify-send" || len(gotArgs) != 3 || gotArgs[1] != "Title" {
		t.Errorf("unexpected command %s %v", gotName, gotArgs)
	}

	name, args, err := NewCommandSender("darwin").Command(`Say "hi"`, "b")
	if err != nil || name != "osascript" {
		t.Fatalf("darwin command: %s %v", name, err)
	}
	if !strings.Contains(args[1], `with title "Say \"hi\""`) {
		t.Errorf("unexpected script %q", args[1])
	}

	if _, _, err := NewCommandSender("plan9").Command("a", "b"); err == nil {
		t.Error("expected unsupported platform error")
	}
}

func TestScheduler(t *testing.T) {
	e, _ := newTestEngine(t, &fakeUsage{data: &api.UsageData{}}, &recordingSender{})

	if _, err := NewScheduler(e, "not a schedule", testutil.DiscardLogger()); err == nil {
		t.Fatal("expected invalid schedule error")
	}

	sched, err := NewScheduler(e, "", testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if sched.NextRun() != nil {
		t.Error("expected no next run before start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	next := sched.NextRun()
	if next == nil || next.Before(time.Now()) {
		t.Errorf("unexpected next run %v", next)
	}
	sched.Stop()
	if sched.NextRun() != nil {
		t.Error("expected no next run after stop")
	}
}
