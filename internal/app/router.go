package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/pagebroker/internal/adapter/httpserver"
	"github.com/fairyhunter13/pagebroker/internal/adapter/observability"
	"github.com/fairyhunter13/pagebroker/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(60 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics stay unauthenticated
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// Everything else requires a credential. The IP limiter is a coarse outer
	// guard; the per-key limiter inside Authenticate is the real budget.
	r.Group(func(ar chi.Router) {
		ar.Use(httprate.LimitByIP(cfg.RateLimitPerMin*10, 1*time.Minute))
		ar.Use(srv.Authenticate())

		ar.Get("/v1/me", srv.MeHandler())

		ar.Route("/v1/jobs", func(jr chi.Router) {
			jr.Post("/", srv.CreateJobHandler())
			jr.Get("/", srv.ListJobsHandler())
			jr.Post("/lease", srv.ClaimHandler())

			jr.Route("/{id}", func(ir chi.Router) {
				ir.Get("/", srv.GetJobHandler())
				ir.Patch("/", srv.PatchJobHandler())

				ir.Patch("/lease", srv.HeartbeatHandler())
				ir.Delete("/lease", srv.ReleaseHandler())

				ir.Put("/images/{name}/files/{kind}", srv.UploadArtifactHandler())
				ir.Put("/files/metadata", srv.UploadMetadataHandler())

				ir.Post("/result", srv.UploadResultHandler())
				ir.Get("/result", srv.FetchResultHandler())
			})
		})

		ar.Route("/v1/engines", func(er chi.Router) {
			er.Get("/", srv.ListEnginesHandler())
			er.Post("/", srv.CreateEngineHandler())
			er.Get("/{id}", srv.GetEngineHandler())
			er.Delete("/{id}", srv.DeleteEngineHandler())
		})

		ar.Route("/v1/admin/keys", func(kr chi.Router) {
			kr.Post("/", srv.CreateKeyHandler())
			kr.Get("/", srv.ListKeysHandler())
			kr.Get("/{id}", srv.GetKeyHandler())
			kr.Patch("/{id}", srv.UpdateKeyHandler())
			kr.Post("/{id}/rotate", srv.RotateKeyHandler())
		})
	})

	return httpserver.SecurityHeaders(r)
}
