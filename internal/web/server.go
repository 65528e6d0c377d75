package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps an HTTP server with graceful shutdown capabilities
type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     *slog.Logger

	// cancels request contexts on Shutdown so event streams end
	cancelBase context.CancelFunc
}

// NewServer creates a Server on addr. metrics may be nil.
func NewServer(addr string, handler *Handler, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           Routes(handler, metrics, logger),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		handler:    handler,
		logger:     logger,
		cancelBase: cancel,
	}
}

// Routes builds the API mux with its middleware chain.
func Routes(handler *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/data", handler.Data)
	mux.HandleFunc("GET /api/costs", handler.Costs)

	mux.HandleFunc("GET /api/panel", handler.PanelState)
	mux.HandleFunc("POST /api/panel/toggle", handler.PanelToggle)
	mux.HandleFunc("POST /api/panel/show", handler.PanelShow)
	mux.HandleFunc("POST /api/panel/hide", handler.PanelHide)
	mux.HandleFunc("POST /api/panel/blur", handler.PanelBlur)
	mux.HandleFunc("POST /api/panel/detach", handler.PanelDetach)
	mux.HandleFunc("POST /api/panel/attach", handler.PanelAttach)
	mux.HandleFunc("PUT /api/panel/displays", handler.PanelDisplays)

	mux.HandleFunc("GET /api/prefs/stay-on-top", handler.GetStayOnTop)
	mux.HandleFunc("PUT /api/prefs/stay-on-top", handler.SetStayOnTop)
	mux.HandleFunc("GET /api/prefs/autostart", handler.GetAutostart)
	mux.HandleFunc("PUT /api/prefs/autostart", handler.SetAutostart)
	mux.HandleFunc("GET /api/prefs/notifications", handler.GetNotifications)
	mux.HandleFunc("PUT /api/prefs/notifications", handler.SetNotifications)

	mux.HandleFunc("GET /api/update", handler.CheckUpdate)
	applyLimiter := NewRateLimiter(3, time.Hour)
	mux.Handle("POST /api/update", RateLimitMiddleware(applyLimiter, logger)(http.HandlerFunc(handler.ApplyUpdate)))

	mux.HandleFunc("GET /api/events", handler.Events)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	allow := NewIPAllowlistMiddleware(DefaultAllowedNets, logger)
	return LoggingMiddleware(logger)(allow.Middleware(LocalHostMiddleware(mux)))
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting web server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}
