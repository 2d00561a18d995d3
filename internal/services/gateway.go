package services

import (
	"context"

	"github.com/sellora/backend/internal/paga"
)

// PaymentGateway is the outbound processor surface the services depend on.
// *paga.Client is the production implementation; tests substitute a mock.
type PaymentGateway interface {
	GenerateDedicatedAccount(ctx context.Context, owner paga.OwnerProfile, callbackURL string) (*paga.DedicatedAccount, error)
	ValidateDestinationAccount(ctx context.Context, bankID, accountNumber string) (*paga.DestinationAccount, error)
	Disburse(ctx context.Context, reference string, amountKobo int64, currency, bankID, accountNumber, narration string) (*paga.DisbursementResult, error)
	PurchaseAirtime(ctx context.Context, reference string, amountKobo int64, currency, phoneNumber string) (*paga.AirtimeResult, error)
	ChargeCard(ctx context.Context, reference, cardToken string, amountKobo int64, currency string) (*paga.ChargeResult, error)
	GetCheckoutURL(ctx context.Context, reference string, amountKobo int64, currency, description string) (string, error)
	ListBanks(ctx context.Context) ([]paga.Bank, error)
}
