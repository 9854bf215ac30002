package internal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router for every HTTP and websocket endpoint. Extra
// middleware (request logging, for one) runs in front of the built-in recoverer.
func (s *Server) Routes(wsPath string, extra ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if s.options.TrustProxy {
		r.Use(middleware.RealIP)
	}
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Use(middleware.Recoverer)

	r.Get(wsPath, s.ServeWS)
	r.Get("/api/rooms/{roomID}", s.HandleRoom)
	r.Get("/exists", s.HandleRoomExists)
	r.Get("/healthz", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.MetricsHandler())
	return r
}
