package payouts

import (
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"tollgate/internal/platform/models"
)

// PaymentRail is the external settlement collaborator. CreateTransfer must
// be idempotent on the payout id so retries from the reconciliation sweep
// never double-pay.
type PaymentRail interface {
	CreateTransfer(payout *models.Payout, recipient string) (reference string, err error)
	CheckSettlement(reference string) (bool, error)
}

// StripeRail settles payouts as Stripe transfers, using the payout id as
// both the idempotency key and the transfer group.
type StripeRail struct {
	api *client.API
}

func NewStripeRail(apiKey string) *StripeRail {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeRail{api: api}
}

func (r *StripeRail) CreateTransfer(payout *models.Payout, recipient string) (string, error) {
	params := &stripe.TransferParams{
		// Sub-cent remainders stay on the claimable balance.
		Amount:        stripe.Int64(int64(payout.Amount) / 10000),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Destination:   stripe.String(recipient),
		TransferGroup: stripe.String(payout.ID),
	}
	params.SetIdempotencyKey(payout.ID)

	transfer, err := r.api.Transfers.New(params)
	if err != nil {
		return "", err
	}
	return transfer.ID, nil
}

func (r *StripeRail) CheckSettlement(reference string) (bool, error) {
	transfer, err := r.api.Transfers.Get(reference, nil)
	if err != nil {
		return false, err
	}
	return !transfer.Reversed, nil
}
