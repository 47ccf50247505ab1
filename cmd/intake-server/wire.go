package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/auditor"
	"github.com/ehr/intake/internal/domain/guardrail"
	"github.com/ehr/intake/internal/domain/identity"
	"github.com/ehr/intake/internal/domain/ingest"
	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/internal/platform/chunker"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/healthstore"
	"github.com/ehr/intake/internal/platform/middleware"
	"github.com/ehr/intake/internal/platform/telemetry"
)

// store is what the pipeline and the FHIR read-through need from the
// clinical data store.
type store interface {
	ingest.ResourceWriter
	ingest.PatientStore
	Validate() error
}

// unavailableStore stands in for a store that could not be configured.
// Every call reports the configuration error, so dry runs still work.
type unavailableStore struct{ err error }

func (s unavailableStore) Validate() error { return s.err }

func (s unavailableStore) Create(context.Context, healthstore.Resource) (*healthstore.Created, error) {
	return nil, s.err
}

func (s unavailableStore) Search(context.Context, string, url.Values) (json.RawMessage, error) {
	return nil, s.err
}

func (s unavailableStore) Read(context.Context, string, string) (json.RawMessage, error) {
	return nil, s.err
}

type pipeline struct {
	svc   *ingest.Service
	store store
}

// buildPipeline creates the process-scoped collaborators. metrics may be nil.
func buildPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, metrics *telemetry.Provider) (*pipeline, error) {
	settings, err := cfg.AuditorConfig()
	if err != nil {
		return nil, err
	}
	prompt, err := auditor.LoadPrompt(settings.PromptFile)
	if err != nil {
		return nil, err
	}
	model, err := auditor.NewGenAIModel(ctx, settings.APIKey, settings.ModelID)
	if err != nil {
		return nil, err
	}
	aud := auditor.New(model,
		auditor.WithPrompt(prompt),
		auditor.WithRateLimit(settings.RPS, settings.Burst),
		auditor.WithLogger(logger.With().Str("component", "auditor").Logger()),
	)

	markers, err := guardrail.LoadMarkers(cfg.GuardrailMarkersFile)
	if err != nil {
		return nil, err
	}

	st := newStore(ctx, cfg, logger)

	opts := []ingest.Option{
		ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
		ingest.WithMaxConcurrency(cfg.MaxConcurrency),
	}
	if pool != nil {
		opts = append(opts, ingest.WithOutcomeRepository(ingest.NewOutcomeRepoPG(pool)))
	} else {
		opts = append(opts, ingest.WithOutcomeRepository(ingest.NewInMemoryOutcomeRepository()))
	}
	if metrics != nil {
		opts = append(opts, ingest.WithMetrics(metrics))
	}

	svc := ingest.NewService(
		chunker.New(chunker.WithChunkSize(cfg.ChunkSize)),
		aud,
		guardrail.NewEngine(markers),
		identity.NewBuilder(cfg.IdentifierSystem),
		st,
		opts...,
	)
	return &pipeline{svc: svc, store: st}, nil
}

// newStore creates the store client once per process. Missing settings are
// reported on first use rather than at startup.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store {
	sc, err := cfg.StoreConfig()
	if err != nil {
		logger.Warn().Err(err).Msg("clinical store not configured, only dry runs will succeed")
		return unavailableStore{err: err}
	}
	client, err := healthstore.NewFromEnvironment(ctx, sc,
		healthstore.WithLogger(logger.With().Str("component", "healthstore").Logger()))
	if err != nil {
		logger.Warn().Err(err).Msg("clinical store client unavailable")
		return unavailableStore{err: err}
	}
	logger.Info().Str("base_url", client.BaseURL()).Msg("clinical store configured")
	return client
}

func newRouter(cfg *config.Config, logger zerolog.Logger, p *pipeline, metrics *telemetry.Provider, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Health and metrics stay reachable without a token.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var pinger db.Pinger
	if pool != nil {
		pinger = pool
	}
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", metrics.PrometheusHandler())

	// Auth middleware
	authMW := auth.DevAuthMiddleware()
	if !cfg.IsDev() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1", authMW)
	fhirGroup := e.Group("/fhir", authMW)

	ingest.NewHandler(p.svc, p.store).RegisterRoutes(apiV1, fhirGroup)
	return e
}
