package panel

import (
	"errors"
	"sync"
)

// Point is a pointer position in physical pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Display is a monitor in physical pixels with its scale factor.
type Display struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scale_factor"`
}

func (d Display) scale() float64 {
	if d.ScaleFactor <= 0 {
		return 1
	}
	return d.ScaleFactor
}

// Logical returns the display bounds in logical units.
func (d Display) Logical() (x, y, w, h float64) {
	sf := d.scale()
	return float64(d.X) / sf, float64(d.Y) / sf, float64(d.Width) / sf, float64(d.Height) / sf
}

// Window is the platform panel window.
type Window interface {
	Show() error
	Hide() error
	Focus() error
	SetPosition(x, y float64) error
	SetSize(w, h float64) error
	SetMinSize(w, h float64) error
	ClearMinSize() error
	SetResizable(resizable bool) error
	SetAlwaysOnTop(onTop bool) error
}

// Screen enumerates displays.
type Screen interface {
	Displays() ([]Display, error)
	Primary() (Display, error)
}

// ErrNoDisplay is returned by a Screen with no displays.
var ErrNoDisplay = errors.New("no display available")

// StaticScreen is a fixed display list; the first entry is primary.
type StaticScreen []Display

// Displays returns the list.
func (s StaticScreen) Displays() ([]Display, error) {
	return s, nil
}

// Primary returns the first display.
func (s StaticScreen) Primary() (Display, error) {
	if len(s) == 0 {
		return Display{}, ErrNoDisplay
	}
	return s[0], nil
}

// Geometry is the window attributes tracked by HeadlessWindow.
type Geometry struct {
	Visible     bool    `json:"visible"`
	Focused     bool    `json:"focused"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	MinWidth    float64 `json:"min_width"`
	MinHeight   float64 `json:"min_height"`
	Resizable   bool    `json:"resizable"`
	AlwaysOnTop bool    `json:"always_on_top"`
}

// HeadlessWindow records window calls without a native window. The UI layer
// reads its geometry from the panel events stream.
type HeadlessWindow struct {
	mu      sync.Mutex
	g       Geometry
	showErr error
}

// NewHeadlessWindow returns a hidden, docked-size, always-on-top window.
func NewHeadlessWindow() *HeadlessWindow {
	return &HeadlessWindow{g: Geometry{Width: Width, Height: Height, AlwaysOnTop: true}}
}

// FailShow makes subsequent Show calls return err. Nil clears it.
func (w *HeadlessWindow) FailShow(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.showErr = err
}

// Geometry returns a copy of the current attributes.
func (w *HeadlessWindow) Geometry() Geometry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.g
}

func (w *HeadlessWindow) update(fn func(g *Geometry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.g)
	return nil
}

// Show makes the window visible.
func (w *HeadlessWindow) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.showErr != nil {
		return w.showErr
	}
	w.g.Visible = true
	return nil
}

// Hide hides the window.
func (w *HeadlessWindow) Hide() error {
	return w.update(func(g *Geometry) { g.Visible, g.Focused = false, false })
}

// Focus focuses the window.
func (w *HeadlessWindow) Focus() error {
	return w.update(func(g *Geometry) { g.Focused = g.Visible })
}

// SetPosition moves the window.
func (w *HeadlessWindow) SetPosition(x, y float64) error {
	return w.update(func(g *Geometry) { g.X, g.Y = x, y })
}

// SetSize resizes the window.
func (w *HeadlessWindow) SetSize(width, height float64) error {
	return w.update(func(g *Geometry) { g.Width, g.Height = width, height })
}

// SetMinSize sets the minimum size.
func (w *HeadlessWindow) SetMinSize(width, height float64) error {
	return w.update(func(g *Geometry) { g.MinWidth, g.MinHeight = width, height })
}

// ClearMinSize removes the minimum size.
func (w *HeadlessWindow) ClearMinSize() error {
	return w.update(func(g *Geometry) { g.MinWidth, g.MinHeight = 0, 0 })
}

// SetResizable toggles resizing.
func (w *HeadlessWindow) SetResizable(resizable bool) error {
	return w.update(func(g *Geometry) { g.Resizable = resizable })
}

// SetAlwaysOnTop toggles the always-on-top level.
func (w *HeadlessWindow) SetAlwaysOnTop(onTop bool) error {
	return w.update(func(g *Geometry) { g.AlwaysOnTop = onTop })
}

// DisplayList is a Screen the UI layer can update as monitors change.
type DisplayList struct {
	mu       sync.RWMutex
	displays []Display
}

// NewDisplayList returns a list seeded with displays.
func NewDisplayList(displays ...Display) *DisplayList {
	return &DisplayList{displays: displays}
}

// Set replaces the display list. The first entry is primary.
func (l *DisplayList) Set(displays []Display) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.displays = append([]Display(nil), displays...)
}

// Displays returns a copy of the list.
func (l *DisplayList) Displays() ([]Display, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Display(nil), l.displays...), nil
}

// Primary returns the first display.
func (l *DisplayList) Primary() (Display, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.displays) == 0 {
		return Display{}, ErrNoDisplay
	}
	return l.displays[0], nil
}
