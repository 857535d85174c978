package deposits

import (
	"context"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeAuthorizer implements Authorizer with manual-capture PaymentIntents:
// the authorization holds funds until capture or cancel.
type StripeAuthorizer struct {
	api *client.API
}

// NewStripeAuthorizer builds a client from the secret key.
func NewStripeAuthorizer(secretKey string) *StripeAuthorizer {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeAuthorizer{api: api}
}

func (s *StripeAuthorizer) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return fromIntent(pi), nil
}

func (s *StripeAuthorizer) Capture(ctx context.Context, intentID string, amountCents int64) (*IntentResult, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amountCents),
	}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, err
	}
	return fromIntent(pi), nil
}

func (s *StripeAuthorizer) Cancel(ctx context.Context, intentID string) (*IntentResult, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, err
	}
	return fromIntent(pi), nil
}

func (s *StripeAuthorizer) Get(ctx context.Context, intentID string) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, err
	}
	return fromIntent(pi), nil
}

func fromIntent(pi *stripe.PaymentIntent) *IntentResult {
	return &IntentResult{
		ID:               pi.ID,
		ClientSecret:     pi.ClientSecret,
		Status:           string(pi.Status),
		AmountCents:      pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
	}
}
