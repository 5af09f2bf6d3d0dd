package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/org/datacapture/internal/audit"
	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/dataset"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/internal/principal"
	"github.com/org/datacapture/internal/registry"
	"github.com/org/datacapture/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr         string
	TLSCertFile        string
	TLSKeyFile         string
	RateLimitPerMinute int
	SSLRedirect        bool
	Collection         collection.Config
	Registry           registry.Config
}

// Server is the API server.
type Server struct {
	store       storage.StorageBackend
	principals  *principal.Resolver
	engine      *permission.Engine
	collections *collection.Manager
	datasets    *dataset.Importer
	registrar   *registry.Registrar
	auditor     *audit.Recorder
	validate    *validator.Validate
	cfg         Config
	httpSrv     *http.Server
}

// NewServer creates a fully wired Server. client delivers metadata registrations.
func NewServer(store storage.StorageBackend, client registry.Client, cfg Config) *Server {
	resolver := principal.NewResolver(store)
	engine := permission.NewEngine(store, resolver)
	auditor := audit.NewRecorder(store)
	manager := collection.NewManager(store, engine, resolver, auditor, cfg.Collection)

	return &Server{
		store:       store,
		principals:  resolver,
		engine:      engine,
		collections: manager,
		datasets:    dataset.NewImporter(store, manager),
		registrar:   registry.NewRegistrar(store, manager, engine, client, cfg.Registry),
		auditor:     auditor,
		validate:    validator.New(),
		cfg:         cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	limit := s.cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = 600
	}

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders(s.cfg.SSLRedirect))
	r.Use(rateLimit(limit))
	r.Use(metricsMiddleware)
	r.Use(accessLogMiddleware)

	r.Handle("/metrics", s.MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	// Everything else knows who is calling, or that nobody is.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware(s.store))

		r.Post("/v1/principals", s.PrincipalCreateHandler)
		r.Get("/v1/principals/self", s.PrincipalSelfHandler)

		r.Route("/v1/collections", func(r chi.Router) {
			r.Post("/", s.CollectionCreateHandler)
			r.Get("/", s.CollectionListHandler)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.CollectionGetHandler)
				r.Put("/", s.CollectionUpdateHandler)
				r.Delete("/", s.CollectionDeleteHandler)

				r.Get("/permissions", s.PermissionsListHandler)
				r.Post("/permissions", s.PermissionsUpdateHandler)
				r.Get("/permissions/effective", s.PermissionsEffectiveHandler)

				r.Post("/datasets", s.DatasetImportHandler)
				r.Get("/datasets", s.DatasetListHandler)

				r.Post("/register", s.RegisterHandler)
			})
		})

		r.Get("/v1/audit-events", s.AuditEventsHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
