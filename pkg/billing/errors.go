package billing

import "errors"

var (
	ErrSignatureInvalid     = errors.New("billing webhook signature verification failed")
	ErrUnsupportedEventType = errors.New("billing webhook event type is not handled")
	ErrMissingCustomerID    = errors.New("billing webhook event has no customer reference")
	ErrMalformedEvent       = errors.New("billing webhook payload is malformed")

	ErrUpstreamUnavailable = errors.New("billing provider is unavailable")
	ErrUpstreamMalformed   = errors.New("billing provider returned a malformed response")
	ErrUnknownCustomer     = errors.New("billing customer is not linked to any organization")

	ErrOrganizationNotFound = errors.New("organization not found")
	ErrPersistenceFailure   = errors.New("failed to persist billing state")
	ErrCacheUnavailable     = errors.New("billing cache is unavailable")
	ErrInvalidSnapshot      = errors.New("invalid billing snapshot encoding")

	// Provider configuration errors
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
)
