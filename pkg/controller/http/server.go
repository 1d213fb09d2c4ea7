package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/argos/pkg/usecase"
)

type Server struct {
	router *chi.Mux
	uc     *usecase.UseCases
}

type Options func(*Server)

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		uc:     uc,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", healthHandler)
	r.Post("/ingest", ingestHandler(uc.Ingest))

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", searchHandler(uc.Query))
		r.Post("/search", searchByVectorHandler(uc.Query))
		r.Get("/graph/{nodeID}", graphHandler(uc.Query))
		r.Get("/visits/{fingerprint}", visitHandler(uc.Query))
		r.Post("/visits/{fingerprint}/cancel", cancelHandler(uc.Ingest))
		r.Get("/stats", statsHandler(uc.Query))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
