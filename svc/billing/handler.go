package billingsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/requestid"
)

// RouterOption configures Router.
type RouterOption func(*routerOptions)

type routerOptions struct {
	checks   []httpserver.Check
	gatherer prometheus.Gatherer
}

// WithReadinessChecks adds dependency checks to /readyz.
func WithReadinessChecks(checks ...httpserver.Check) RouterOption {
	return func(o *routerOptions) { o.checks = append(o.checks, checks...) }
}

// WithGatherer exposes the registry on /metrics.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(o *routerOptions) { o.gatherer = g }
}

// SnapshotResponse is the body of the billing read endpoint.
type SnapshotResponse struct {
	OrganizationID   string                   `json:"organization_id"`
	SubscriptionType billing.SubscriptionType `json:"subscription_type"`
	Snapshot         billing.Snapshot         `json:"snapshot"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router mounts the service routes.
func (s *Service) Router(opts ...RouterOption) http.Handler {
	o := &routerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthCheckHandler(s.logger))
	r.Get("/readyz", httpserver.HealthCheckHandler(s.logger, o.checks...))
	if o.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	}

	r.Method(http.MethodPost, "/webhooks/billing", s.Ingestor)

	r.Route("/organizations/{organizationID}/billing", func(r chi.Router) {
		r.Get("/", s.getSnapshot)
		r.Post("/invalidate", s.invalidate)
	})

	return r
}

func (s *Service) getSnapshot(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "organizationID")
	snap := s.Resolver.Resolve(r.Context(), orgID)

	writeJSON(w, http.StatusOK, SnapshotResponse{
		OrganizationID:   orgID,
		SubscriptionType: snap.SubscriptionType(),
		Snapshot:         snap,
	})
}

func (s *Service) invalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "organizationID")

	err := s.Resolver.Invalidate(ctx, orgID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, billing.ErrOrganizationNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: billing.ErrOrganizationNotFound.Error()})
	default:
		s.logger.ErrorContext(ctx, "billing invalidate failed",
			logger.OrganizationID(orgID),
			logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
