package billing

import (
	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/stripe/stripe-go/v82/client"
)

// NewStripeProviderWithAPI lets tests point the provider at a fake backend.
func NewStripeProviderWithAPI(api *client.API) *StripeProvider {
	return newStripeProvider(api)
}

// NewPaddleProviderWithSDK lets tests point the provider at a fake backend.
func NewPaddleProviderWithSDK(sdk *paddle.SDK) *PaddleProvider {
	return &PaddleProvider{client: sdk}
}
