package billingsvc

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/config"
)

// ErrUnknownProvider is returned for an unsupported Config.Provider value.
var ErrUnknownProvider = errors.New("unknown billing provider")

// Backend bundles everything that differs between billing providers.
type Backend struct {
	Provider        billing.Provider
	Verifier        billing.EventVerifier
	EventTypes      []string
	SignatureHeader string
}

// NewBackend builds the provider named in cfg, loading its credentials from
// the environment.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case ProviderStripe, "":
		var sc billing.StripeConfig
		if err := config.Load(&sc); err != nil {
			return Backend{}, err
		}
		return NewStripeBackend(sc)
	case ProviderPaddle:
		var pc billing.PaddleConfig
		if err := config.Load(&pc); err != nil {
			return Backend{}, err
		}
		return NewPaddleBackend(pc)
	default:
		return Backend{}, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func NewStripeBackend(cfg billing.StripeConfig) (Backend, error) {
	provider, err := billing.NewStripeProvider(cfg)
	if err != nil {
		return Backend{}, err
	}
	verifier, err := billing.NewStripeVerifier(cfg.WebhookSecret)
	if err != nil {
		return Backend{}, err
	}
	return Backend{
		Provider:        provider,
		Verifier:        verifier,
		EventTypes:      billing.StripeEventTypes,
		SignatureHeader: billing.StripeSignatureHeader,
	}, nil
}

func NewPaddleBackend(cfg billing.PaddleConfig) (Backend, error) {
	provider, err := billing.NewPaddleProvider(cfg)
	if err != nil {
		return Backend{}, err
	}
	verifier, err := billing.NewPaddleVerifier(cfg.WebhookSecret)
	if err != nil {
		return Backend{}, err
	}
	return Backend{
		Provider:        provider,
		Verifier:        verifier,
		EventTypes:      billing.PaddleEventTypes,
		SignatureHeader: billing.PaddleSignatureHeader,
	}, nil
}
