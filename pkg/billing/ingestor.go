package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Scheduler defers a resync until after the webhook has been acknowledged.
type Scheduler interface {
	Dispatch(ctx context.Context, event Event) bool
}

// Ack is the JSON body returned to the provider.
type Ack struct {
	Received bool   `json:"received,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ingestor receives provider push notifications. It is a stateless filter:
// verify the signature, drop event types nobody cares about, acknowledge,
// and hand the resync to the Scheduler.
type Ingestor struct {
	verifier        EventVerifier
	scheduler       Scheduler
	eventTypes      map[string]struct{}
	signatureHeader string
	maxBodyBytes    int64
	logger          *slog.Logger
	metrics         *Metrics
}

// NewIngestor creates an Ingestor. The default allow-list and signature
// header target Stripe; use WithEventTypes and WithSignatureHeader for
// other providers.
func NewIngestor(verifier EventVerifier, scheduler Scheduler, opts ...IngestorOption) *Ingestor {
	if verifier == nil {
		panic("billing: EventVerifier is required")
	}
	if scheduler == nil {
		panic("billing: Scheduler is required")
	}

	o := &ingestorOptions{
		logger:          slog.Default(),
		signatureHeader: StripeSignatureHeader,
		maxBodyBytes:    1 << 20,
	}
	WithEventTypes(StripeEventTypes...)(o)
	for _, opt := range opts {
		opt(o)
	}

	return &Ingestor{
		verifier:        verifier,
		scheduler:       scheduler,
		eventTypes:      o.eventTypes,
		signatureHeader: o.signatureHeader,
		maxBodyBytes:    o.maxBodyBytes,
		logger:          o.logger.With(logger.Component("billing.ingestor")),
		metrics:         o.metrics,
	}
}

// Handle processes one delivery and returns the HTTP status and body to send.
// Only a failed signature check produces a non-200 response; everything
// after it happens in the background.
func (i *Ingestor) Handle(ctx context.Context, body []byte, signature string) (int, Ack) {
	if signature == "" {
		i.metrics.webhook("invalid_signature")
		i.logger.WarnContext(ctx, "webhook rejected: missing signature")
		return http.StatusBadRequest, Ack{Error: ErrSignatureInvalid.Error()}
	}

	event, err := i.verifier.Verify(body, signature)
	if err != nil {
		i.metrics.webhook("invalid_signature")
		i.logger.WarnContext(ctx, "webhook rejected", logger.Error(err))
		if errors.Is(err, ErrMalformedEvent) {
			return http.StatusBadRequest, Ack{Error: ErrMalformedEvent.Error()}
		}
		return http.StatusBadRequest, Ack{Error: ErrSignatureInvalid.Error()}
	}

	if _, ok := i.eventTypes[event.Type]; !ok {
		i.metrics.webhook("ignored")
		i.logger.DebugContext(ctx, "webhook event type not tracked",
			logger.EventID(event.ID),
			logger.EventType(event.Type))
		return http.StatusOK, Ack{Received: true}
	}

	i.metrics.webhook("accepted")
	i.scheduler.Dispatch(ctx, *event)
	return http.StatusOK, Ack{Received: true}
}

// ServeHTTP adapts Handle to net/http.
func (i *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeAck(w, http.StatusMethodNotAllowed, Ack{Error: http.StatusText(http.StatusMethodNotAllowed)})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, i.maxBodyBytes))
	if err != nil {
		i.logger.WarnContext(r.Context(), "failed to read webhook body", logger.Error(err))
		writeAck(w, http.StatusBadRequest, Ack{Error: ErrMalformedEvent.Error()})
		return
	}

	status, ack := i.Handle(r.Context(), body, r.Header.Get(i.signatureHeader))
	writeAck(w, status, ack)
}

func writeAck(w http.ResponseWriter, status int, ack Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
