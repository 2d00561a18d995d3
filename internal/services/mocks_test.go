package services

import (
	"context"
	"sync"

	"github.com/sellora/backend/internal/paga"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GenerateDedicatedAccount(ctx context.Context, owner paga.OwnerProfile, callbackURL string) (*paga.DedicatedAccount, error) {
	args := m.Called(ctx, owner, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paga.DedicatedAccount), args.Error(1)
}

func (m *MockGateway) ValidateDestinationAccount(ctx context.Context, bankID, accountNumber string) (*paga.DestinationAccount, error) {
	args := m.Called(ctx, bankID, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paga.DestinationAccount), args.Error(1)
}

func (m *MockGateway) Disburse(ctx context.Context, reference string, amountKobo int64, currency, bankID, accountNumber, narration string) (*paga.DisbursementResult, error) {
	args := m.Called(ctx, reference, amountKobo, currency, bankID, accountNumber, narration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paga.DisbursementResult), args.Error(1)
}

func (m *MockGateway) PurchaseAirtime(ctx context.Context, reference string, amountKobo int64, currency, phoneNumber string) (*paga.AirtimeResult, error) {
	args := m.Called(ctx, reference, amountKobo, currency, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paga.AirtimeResult), args.Error(1)
}

func (m *MockGateway) ChargeCard(ctx context.Context, reference, cardToken string, amountKobo int64, currency string) (*paga.ChargeResult, error) {
	args := m.Called(ctx, reference, cardToken, amountKobo, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paga.ChargeResult), args.Error(1)
}

func (m *MockGateway) GetCheckoutURL(ctx context.Context, reference string, amountKobo int64, currency, description string) (string, error) {
	args := m.Called(ctx, reference, amountKobo, currency, description)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) ListBanks(ctx context.Context) ([]paga.Bank, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]paga.Bank), args.Error(1)
}

// FakeNotifier records in-app notifications; safe for the fire-and-forget
// goroutines the services spawn.
type FakeNotifier struct {
	mu       sync.Mutex
	Messages []string
}

func (f *FakeNotifier) Add(ctx context.Context, userID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, userID+": "+message)
}

func (f *FakeNotifier) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type FakeMailer struct {
	mu   sync.Mutex
	Sent []sentMail
}

func (f *FakeMailer) Send(to, subject, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, sentMail{To: to, Subject: subject, Body: body})
}

func (f *FakeMailer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
