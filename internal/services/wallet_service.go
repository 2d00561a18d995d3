package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sellora/backend/internal/models"
	"github.com/sellora/backend/internal/notify"
	"github.com/sellora/backend/internal/paga"
	"github.com/shopspring/decimal"
)

var disbursements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_disbursements_total",
	Help: "Disbursement attempts by outcome",
}, []string{"operation", "outcome"})

// WithdrawRequest moves wallet money to an external bank account.
type WithdrawRequest struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	BankID        string  `json:"bankId" validate:"required"`
	AccountNumber string  `json:"accountNumber" validate:"required,len=10"`
	Narration     string  `json:"narration" validate:"max=200"`
}

// AirtimeRequest buys airtime off the wallet balance.
type AirtimeRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PhoneNumber string  `json:"phoneNumber" validate:"required,min=11,max=14"`
}

// WalletService moves money out of creator wallets. The gateway call always
// precedes the local debit: a declined disbursement leaves the ledger
// untouched, and a disbursement that succeeded but failed to record locally
// is flagged for reconciliation rather than re-sent.
type WalletService struct {
	db        *sql.DB
	ledger    *LedgerStore
	gateway   PaymentGateway
	notifier  notify.Notifier
	mailer    notify.Mailer
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, ledger *LedgerStore, gateway PaymentGateway, notifier notify.Notifier, mailer notify.Mailer) *WalletService {
	return &WalletService{
		db:        db,
		ledger:    ledger,
		gateway:   gateway,
		notifier:  notifier,
		mailer:    mailer,
		validator: NewValidationHelper(),
	}
}

// Withdraw disburses wallet funds to a bank account.
func (s *WalletService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	amountKobo := floatToKobo(req.Amount)

	acct, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not fully set up", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[WALLET] account lookup failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if amountKobo > acct.BalanceKobo {
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		return
	}

	dest, err := s.gateway.ValidateDestinationAccount(ctx, req.BankID, req.AccountNumber)
	if err != nil {
		s.respondGatewayError(w, "withdraw", userID, err)
		return
	}

	reference := "WD-" + uuid.NewString()
	result, err := s.gateway.Disburse(ctx, reference, amountKobo, "NGN", req.BankID, req.AccountNumber, req.Narration)
	if err != nil {
		s.respondGatewayError(w, "withdraw", userID, err)
		return
	}

	feeKobo, _ := paga.NairaToKobo(dest.Fee)
	entry := &models.Transaction{
		UserID:     userID,
		AmountKobo: amountKobo,
		Type:       models.TxTypeDebit,
		Source:     models.TxSourceSavings,
		Reference:  reference,
		Metadata: models.TransactionMetadata{
			BankName:         req.BankID,
			AccountNumber:    req.AccountNumber,
			AccountName:      dest.AccountName,
			PaymentReference: result.TransactionID,
			FeeKobo:          feeKobo,
			Message:          "Withdrawal to bank account",
		},
	}

	s.recordDisbursement(ctx, userID, entry, result)
	disbursements.WithLabelValues("withdraw", "success").Inc()

	message := "NGN " + paga.KoboToNaira(amountKobo) + " was withdrawn from your wallet to " +
		dest.AccountName + " (" + req.AccountNumber + ")"
	go s.notifyDebit(userID, "Withdrawal successful", message)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"reference":   reference,
		"accountName": dest.AccountName,
		"fee":         dest.Fee,
	})
}

// BuyAirtime follows the withdrawal pattern with the airtime gateway call.
func (s *WalletService) BuyAirtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req AirtimeRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	amountKobo := floatToKobo(req.Amount)

	acct, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			SendErrorResponse(w, "Account not fully set up", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[WALLET] account lookup failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to process airtime purchase", http.StatusInternalServerError, nil)
		return
	}

	if amountKobo > acct.BalanceKobo {
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		return
	}

	reference := "AT-" + uuid.NewString()
	result, err := s.gateway.PurchaseAirtime(ctx, reference, amountKobo, "NGN", req.PhoneNumber)
	if err != nil {
		s.respondGatewayError(w, "airtime", userID, err)
		return
	}

	entry := &models.Transaction{
		UserID:     userID,
		AmountKobo: amountKobo,
		Type:       models.TxTypeDebit,
		Source:     models.TxSourceSavings,
		Reference:  reference,
		Metadata: models.TransactionMetadata{
			PaymentReference: result.TransactionID,
			AccountNumber:    req.PhoneNumber,
			Message:          "Airtime purchase",
		},
	}

	s.recordAirtime(ctx, userID, entry, result)
	disbursements.WithLabelValues("airtime", "success").Inc()

	go s.notifyDebit(userID, "Airtime purchased",
		"NGN "+paga.KoboToNaira(amountKobo)+" airtime was purchased for "+req.PhoneNumber)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "reference": reference})
}

// ListTransactions returns the caller's ledger history, newest first.
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	transactions, err := s.ledger.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[WALLET] failed to list transactions for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// recordDisbursement persists the local side of a disbursement the gateway
// already confirmed. Failures here must not re-trigger the gateway; they
// are logged for reconciliation instead.
func (s *WalletService) recordDisbursement(ctx context.Context, userID string, entry *models.Transaction, result *paga.DisbursementResult) {
	if err := s.ledger.ApplyDebit(ctx, entry); err != nil {
		disbursements.WithLabelValues("withdraw", "reconcile").Inc()
		log.Printf("[WALLET] RECONCILE: disbursement %s succeeded at processor (tx %s) but local debit failed: %v",
			entry.Reference, result.TransactionID, err)
		if recErr := s.ledger.RecordTransaction(ctx, entry); recErr != nil {
			log.Printf("[WALLET] RECONCILE: could not record transaction %s either: %v", entry.Reference, recErr)
		}
	}

	raw, _ := json.Marshal(result)
	if _, err := s.ledger.RecordDump(ctx, userID, raw); err != nil {
		log.Printf("[WALLET] failed to dump disbursement response %s: %v", entry.Reference, err)
	}
}

func (s *WalletService) recordAirtime(ctx context.Context, userID string, entry *models.Transaction, result *paga.AirtimeResult) {
	if err := s.ledger.ApplyDebit(ctx, entry); err != nil {
		disbursements.WithLabelValues("airtime", "reconcile").Inc()
		log.Printf("[WALLET] RECONCILE: airtime %s succeeded at processor (tx %s) but local debit failed: %v",
			entry.Reference, result.TransactionID, err)
		if recErr := s.ledger.RecordTransaction(ctx, entry); recErr != nil {
			log.Printf("[WALLET] RECONCILE: could not record transaction %s either: %v", entry.Reference, recErr)
		}
	}

	raw, _ := json.Marshal(result)
	if _, err := s.ledger.RecordDump(ctx, userID, raw); err != nil {
		log.Printf("[WALLET] failed to dump airtime response %s: %v", entry.Reference, err)
	}
}

func (s *WalletService) respondGatewayError(w http.ResponseWriter, operation, userID string, err error) {
	var pe *paga.ProcessorError
	if errors.As(err, &pe) {
		disbursements.WithLabelValues(operation, "declined").Inc()
		log.Printf("[WALLET] processor declined %s for user %s: %v", operation, userID, pe)
		SendErrorResponse(w, pe.Message, http.StatusBadRequest, nil)
		return
	}
	// Transport failure: the outcome is unknown. Do not tell the user it
	// failed, and never resend the same operation automatically.
	disbursements.WithLabelValues(operation, "unknown").Inc()
	log.Printf("[WALLET] RECONCILE: %s outcome unknown for user %s: %v", operation, userID, err)
	SendErrorResponse(w, "Request is being processed; please check your transaction history before retrying",
		http.StatusAccepted, nil)
}

func (s *WalletService) notifyDebit(userID, subject, message string) {
	s.notifier.Add(context.Background(), userID, message)

	var email string
	if err := s.db.QueryRow(`SELECT email FROM users WHERE id = $1`, userID).Scan(&email); err != nil {
		log.Printf("[WALLET] could not resolve email for user %s: %v", userID, err)
		return
	}
	s.mailer.Send(email, subject, message)
}

func (s *WalletService) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// floatToKobo converts a request amount in naira to kobo, rounding to 2 dp.
func floatToKobo(amount float64) int64 {
	return decimal.NewFromFloat(amount).Round(2).Mul(decimal.New(1, 2)).IntPart()
}
