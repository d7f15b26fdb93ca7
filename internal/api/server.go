package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/motion-engine/internal/config"
	"github.com/snarg/motion-engine/internal/metrics"
	"github.com/snarg/motion-engine/internal/mqttclient"
	"github.com/snarg/motion-engine/internal/provision"
	"github.com/snarg/motion-engine/internal/store"
)

type Server struct {
	http   *http.Server
	log    zerolog.Logger
	health *HealthHandler
}

type ServerOptions struct {
	Config      *config.Config
	DB          *store.DB
	MQTT        *mqttclient.Client
	Provisioner *provision.Provisioner
	Stats       metrics.EngineStats // nil until the engine finishes starting up
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	// Unauthenticated endpoints.
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	if opts.Config.MetricsEnabled {
		collector := metrics.NewCollector(opts.DB.Pool, opts.Stats)
		prometheus.MustRegister(collector)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	// Authenticated provisioning routes.
	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(1 << 20)) // 1 MB, provisioning requests are small JSON bodies
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(BearerAuth(opts.Config.AuthToken))
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		provisionHandler := NewProvisionHandler(opts.Provisioner, opts.Config)
		r.Route("/api/v1/sensors", func(r chi.Router) {
			r.Post("/", provisionHandler.Provision)
			r.Delete("/{sensorId}", func(w http.ResponseWriter, r *http.Request) {
				provisionHandler.Deprovision(w, r, chi.URLParam(r, "sensorId"))
			})
		})
	})

	srv := &http.Server{
		Addr:         opts.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}

	return &Server{
		http:   srv,
		log:    opts.Log,
		health: health,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
