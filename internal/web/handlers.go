package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/psurma/claudit/internal/autostart"
	"github.com/psurma/claudit/internal/orchestrator"
	"github.com/psurma/claudit/internal/panel"
	"github.com/psurma/claudit/internal/store"
	"github.com/psurma/claudit/internal/update"
)

// DataSource runs the aggregation.
type DataSource interface {
	Data(ctx context.Context) *orchestrator.Result
	Costs(ctx context.Context) *orchestrator.CostResult
}

// NotificationToggle reads and writes the reminder preference.
type NotificationToggle interface {
	Enabled() bool
	SetEnabled(enabled bool) error
}

// Updater checks for and applies releases.
type Updater interface {
	Check(ctx context.Context) (update.UpdateInfo, error)
	Apply(ctx context.Context) error
}

// Deps are the components the handlers call into.
type Deps struct {
	Data          DataSource
	Panel         *panel.Machine
	Displays      *panel.DisplayList
	Prefs         *store.Store
	Notifications NotificationToggle
	Autostart     autostart.Manager
	Updater       Updater
	Events        *Hub
}

// Handler handles HTTP requests for the panel API
type Handler struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// keepalive interval for event streams
	ping time.Duration
}

// NewHandler creates a new Handler instance
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = NewHub(0)
	}
	return &Handler{deps: deps, logger: logger, now: time.Now, ping: 25 * time.Second}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Data runs a full aggregation. The run outlives the request so an
// abandoned cost fetch can still fill the cache.
func (h *Handler) Data(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Data.Data(context.WithoutCancel(r.Context())))
}

// Costs runs a cost-only fetch.
func (h *Handler) Costs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Data.Costs(context.WithoutCancel(r.Context())))
}

type cursorRequest struct {
	Cursor *panel.Point `json:"cursor"`
}

type panelResponse struct {
	panel.State
	Geometry *panel.Geometry `json:"geometry,omitempty"`
	Result   string          `json:"result,omitempty"`
}

func (h *Handler) panelState(result string) panelResponse {
	resp := panelResponse{State: h.deps.Panel.State(), Result: result}
	if g, ok := h.panelGeometry(); ok {
		resp.Geometry = &g
	}
	return resp
}

func (h *Handler) panelGeometry() (panel.Geometry, bool) {
	type geometer interface{ Geometry() panel.Geometry }
	if h.deps.Panel == nil {
		return panel.Geometry{}, false
	}
	if g, ok := h.deps.Panel.Window().(geometer); ok {
		return g.Geometry(), true
	}
	return panel.Geometry{}, false
}

// PanelState returns the panel state.
func (h *Handler) PanelState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelToggle handles a tray click.
func (h *Handler) PanelToggle(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res := h.deps.Panel.ToggleOnClick(req.Cursor, h.now())
	respondJSON(w, http.StatusOK, h.panelState(string(res)))
}

// PanelShow shows the panel.
func (h *Handler) PanelShow(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.deps.Panel.Show(req.Cursor); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("show failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelHide hides the panel.
func (h *Handler) PanelHide(w http.ResponseWriter, r *http.Request) {
	h.deps.Panel.Hide()
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelBlur reports that the panel lost focus.
func (h *Handler) PanelBlur(w http.ResponseWriter, r *http.Request) {
	h.deps.Panel.OnBlur(h.now())
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelDetach detaches the panel into a free window.
func (h *Handler) PanelDetach(w http.ResponseWriter, r *http.Request) {
	h.deps.Panel.Detach()
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelAttach docks the panel back under the tray.
func (h *Handler) PanelAttach(w http.ResponseWriter, r *http.Request) {
	h.deps.Panel.Attach()
	respondJSON(w, http.StatusOK, h.panelState(""))
}

// PanelDisplays replaces the display list used for positioning.
func (h *Handler) PanelDisplays(w http.ResponseWriter, r *http.Request) {
	if h.deps.Displays == nil {
		respondError(w, http.StatusNotImplemented, "display updates not supported")
		return
	}
	var displays []panel.Display
	if err := decodeBody(r, &displays); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.deps.Displays.Set(displays)
	respondJSON(w, http.StatusOK, map[string]int{"displays": len(displays)})
}

type enabledBody struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) readEnabled(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var body enabledBody
	if err := decodeBody(r, &body); err != nil || body.Enabled == nil {
		respondError(w, http.StatusBadRequest, `expected {"enabled": true|false}`)
		return false, false
	}
	return *body.Enabled, true
}

// GetStayOnTop returns the detached stay-on-top preference.
func (h *Handler) GetStayOnTop(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": h.deps.Panel.StayOnTop()})
}

// SetStayOnTop persists and applies the detached stay-on-top preference.
func (h *Handler) SetStayOnTop(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.readEnabled(w, r)
	if !ok {
		return
	}
	if h.deps.Prefs != nil {
		if err := h.deps.Prefs.SetBool(store.KeyStayOnTop, enabled); err != nil {
			h.logger.Error("failed to save stay-on-top", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save preference")
			return
		}
	}
	h.deps.Panel.SetStayOnTop(enabled)
	h.deps.Events.Publish(EventPrefsChanged, map[string]bool{"stay_on_top": enabled})
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// GetAutostart reports whether launch at login is registered.
func (h *Handler) GetAutostart(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.deps.Autostart.IsEnabled()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// SetAutostart registers or removes launch at login.
func (h *Handler) SetAutostart(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.readEnabled(w, r)
	if !ok {
		return
	}
	var err error
	if enabled {
		err = h.deps.Autostart.Enable()
	} else {
		err = h.deps.Autostart.Disable()
	}
	if errors.Is(err, autostart.ErrUnsupported) {
		respondError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("autostart change failed", "enabled", enabled, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("Autostart changed", "enabled", enabled)
	h.deps.Events.Publish(EventPrefsChanged, map[string]bool{"autostart": enabled})
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// GetNotifications returns the reminder preference.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": h.deps.Notifications.Enabled()})
}

// SetNotifications updates the reminder preference.
func (h *Handler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.readEnabled(w, r)
	if !ok {
		return
	}
	if err := h.deps.Notifications.SetEnabled(enabled); err != nil {
		h.logger.Error("failed to save notifications preference", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save preference")
		return
	}
	h.deps.Events.Publish(EventPrefsChanged, map[string]bool{"notifications": enabled})
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// CheckUpdate queries the latest release.
func (h *Handler) CheckUpdate(w http.ResponseWriter, r *http.Request) {
	info, err := h.deps.Updater.Check(r.Context())
	if err != nil {
		h.logger.Warn("update check failed", "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// ApplyUpdate downloads and installs the latest release.
func (h *Handler) ApplyUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Updater.Apply(r.Context()); err != nil {
		h.logger.Error("update apply failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated", "message": "restart claudit to run the new version"})
}

// Events streams hub events as server-sent events until the client leaves.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := h.deps.Events.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(h.ping)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data := ev.Data
			if len(data) == 0 {
				data = json.RawMessage("{}")
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}
