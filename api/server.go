/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Structured request logging (logrus)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Only when origins are configured

ROUTE GROUPS:
  /healthz              Liveness + database ping
  /api/bills/*          Bill management and regeneration
  /api/occurrences/*    Occurrence search and decisions
  /api/reports/*        Summary and CSV export
  /api/admin/*          Manual sweep

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/", h.CreateBill)
			r.Get("/{id}", h.GetBill)
			r.Put("/{id}", h.UpdateBill)
			r.Get("/{id}/occurrences", h.ListBillOccurrences)
			r.Post("/{id}/occurrences/regenerate", h.RegenerateOccurrences)
		})

		r.Route("/occurrences", func(r chi.Router) {
			r.Get("/", h.SearchOccurrences)
			r.Get("/{id}", h.GetOccurrence)
			r.Post("/{id}/decisions", h.Decide)
			r.Get("/{id}/approvals", h.ListApprovals)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/occurrences.csv", h.ExportOccurrences)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
				}).Info("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
