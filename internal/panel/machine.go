// Package panel owns the panel's visibility, attachment and position, and
// the debounce between a tray click and the blur it causes.
package panel

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/psurma/claudit/internal/metrics"
)

// Panel geometry in logical units.
const (
	Width             = 360.0
	Height            = 620.0
	DetachedMinWidth  = 300.0
	DetachedMinHeight = 400.0
	TopOffset         = 30.0
)

// BlurSuppressWindow is how long after a blur-hide a tray click is taken to
// be the click that caused the blur.
const BlurSuppressWindow = 500 * time.Millisecond

// Event is emitted to the UI layer after a transition.
type Event string

// Panel events.
const (
	EventShown    Event = "panel-shown"
	EventHidden   Event = "panel-hidden"
	EventDetached Event = "panel-detached"
	EventAttached Event = "panel-attached"
)

// ClickResult reports what a tray click did.
type ClickResult string

// Click outcomes.
const (
	ClickSuppressed ClickResult = "suppressed"
	ClickHidden     ClickResult = "hidden"
	ClickShown      ClickResult = "shown"
	ClickFailed     ClickResult = "failed"
)

// State is the panel's process-wide state.
type State struct {
	Visible               bool      `json:"visible"`
	Detached              bool      `json:"detached"`
	StayOnTopWhenDetached bool      `json:"stay_on_top_when_detached"`
	LastBlurHideAt        time.Time `json:"-"`
}

// Machine serializes panel transitions. Safe for concurrent use.
type Machine struct {
	mu     sync.Mutex
	state  State
	win    Window
	screen Screen

	logger  *slog.Logger
	metrics *metrics.Collector
	emit    func(Event)
}

// Option configures a Machine.
type Option func(*Machine)

// WithEmitter sets the event sink. It is called with the machine locked and
// must not call back into it.
func WithEmitter(fn func(Event)) Option {
	return func(m *Machine) {
		m.emit = fn
	}
}

// WithStayOnTop sets the initial stay-on-top preference.
func WithStayOnTop(enabled bool) Option {
	return func(m *Machine) {
		m.state.StayOnTopWhenDetached = enabled
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Machine) {
		m.metrics = c
	}
}

// New creates a hidden, docked panel.
func New(win Window, screen Screen, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		win:    win,
		screen: screen,
		logger: logger,
		emit:   func(Event) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Window returns the window the machine drives.
func (m *Machine) Window() Window {
	return m.win
}

// Show shows the panel. A detached panel is raised where it is; a docked
// panel is placed under cursor, or centered on the primary display when
// cursor is nil.
func (m *Machine) Show(cursor *Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.showLocked(cursor)
}

func (m *Machine) showLocked(cursor *Point) error {
	if !m.state.Detached {
		if x, y, ok := m.dockedPosition(cursor); ok {
			m.logger.Debug("positioning panel", "x", x, "y", y)
			if err := m.win.SetPosition(x, y); err != nil {
				m.logger.Warn("panel position failed", "error", err)
			}
		}
	}

	if err := m.win.Show(); err != nil {
		m.logger.Error("panel show failed", "error", err)
		return err
	}
	if err := m.win.Focus(); err != nil {
		m.logger.Warn("panel focus failed", "error", err)
	}
	m.state.Visible = true
	m.logger.Info("Panel shown", "detached", m.state.Detached)
	m.publish(EventShown)
	return nil
}

// Hide hides the panel.
func (m *Machine) Hide() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideLocked()
}

func (m *Machine) hideLocked() {
	wasVisible := m.state.Visible
	m.state.Visible = false
	if err := m.win.Hide(); err != nil {
		m.logger.Warn("panel hide failed", "error", err)
	}
	if wasVisible {
		m.publish(EventHidden)
	}
}

// ToggleOnClick handles a tray click at now. A click within
// BlurSuppressWindow of a blur-hide is swallowed and consumes the blur mark.
func (m *Machine) ToggleOnClick(cursor *Point, now time.Time) ClickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last := m.state.LastBlurHideAt; !last.IsZero() && now.Sub(last) < BlurSuppressWindow {
		m.state.LastBlurHideAt = time.Time{}
		m.logger.Debug("tray click suppressed, panel just hidden by blur")
		return ClickSuppressed
	}

	if m.state.Visible && !m.state.Detached {
		m.logger.Debug("tray click hides docked panel")
		m.hideLocked()
		return ClickHidden
	}

	if err := m.showLocked(cursor); err != nil {
		return ClickFailed
	}
	return ClickShown
}

// OnBlur handles focus loss at now. Only a visible docked panel reacts.
func (m *Machine) OnBlur(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Detached {
		m.logger.Debug("panel blur ignored, detached")
		return
	}
	if !m.state.Visible {
		return
	}
	m.hideLocked()
	m.state.LastBlurHideAt = now
	m.logger.Debug("panel hidden on blur")
}

// Detach turns the panel into a free-floating resizable window.
func (m *Machine) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apply("always_on_top", m.win.SetAlwaysOnTop(m.state.StayOnTopWhenDetached))
	m.apply("resizable", m.win.SetResizable(true))
	m.apply("min_size", m.win.SetMinSize(DetachedMinWidth, DetachedMinHeight))
	m.state.Detached = true
	m.logger.Info("Panel detached", "stay_on_top", m.state.StayOnTopWhenDetached)
	m.publish(EventDetached)
}

// Attach re-docks the panel at its fixed size and hides it.
func (m *Machine) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apply("always_on_top", m.win.SetAlwaysOnTop(true))
	m.apply("resizable", m.win.SetResizable(false))
	m.apply("min_size", m.win.ClearMinSize())
	m.apply("size", m.win.SetSize(Width, Height))
	m.state.Detached = false
	m.hideLocked()
	m.logger.Info("Panel attached")
	m.publish(EventAttached)
}

// SetStayOnTop stores the preference and applies it to a detached panel.
func (m *Machine) SetStayOnTop(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.StayOnTopWhenDetached = enabled
	if m.state.Detached {
		m.apply("always_on_top", m.win.SetAlwaysOnTop(enabled))
	}
}

// StayOnTop returns the stay-on-top preference.
func (m *Machine) StayOnTop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.StayOnTopWhenDetached
}

func (m *Machine) apply(attr string, err error) {
	if err != nil {
		m.logger.Warn("panel window update failed", "attr", attr, "error", err)
	}
}

func (m *Machine) publish(ev Event) {
	m.metrics.PanelEvent(string(ev))
	m.emit(ev)
}

// dockedPosition picks the docked top-left corner in logical units.
func (m *Machine) dockedPosition(cursor *Point) (x, y float64, ok bool) {
	if cursor == nil {
		primary, err := m.screen.Primary()
		if err != nil {
			m.logger.Warn("no primary display", "error", err)
			return 0, 0, false
		}
		mx, my, mw, _ := primary.Logical()
		return mx + (mw-Width)/2, my + TopOffset, true
	}

	displays, err := m.screen.Displays()
	if err != nil {
		m.logger.Warn("display enumeration failed", "error", err)
		return 0, 0, false
	}
	return PositionUnder(*cursor, displays)
}

// PositionUnder returns the docked position on the display containing the
// physical point p, clamped to that display's horizontal bounds.
func PositionUnder(p Point, displays []Display) (x, y float64, ok bool) {
	for _, d := range displays {
		sf := d.scale()
		cx, cy := p.X/sf, p.Y/sf
		mx, my, mw, mh := d.Logical()
		if cx >= mx && cx < mx+mw && cy >= my && cy < my+mh {
			x = math.Min(math.Max(cx-Width/2, mx), mx+mw-Width)
			return x, my + TopOffset, true
		}
	}
	return 0, 0, false
}
