package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sellora/backend/internal/models"
	"github.com/sellora/backend/internal/notify"
	"github.com/sellora/backend/internal/paga"
)

var (
	webhookApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_webhook_credits_applied_total",
		Help: "Funding webhooks credited to an account",
	})
	webhookDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_webhook_duplicates_total",
		Help: "Funding webhooks suppressed as duplicates",
	})
	webhookUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_webhook_unknown_account_total",
		Help: "Funding webhooks for an unknown account reference",
	})
)

// FundingPayload is the processor's funding callback, accepted via either
// query string or JSON body. statusCode "0" means the transfer succeeded on
// the processor side; transactionReference is the idempotency key. Amount is
// a json.Number because deliveries carry it both quoted and bare.
type FundingPayload struct {
	Reference            string      `json:"reference"`
	Amount               json.Number `json:"amount"`
	StatusCode           string `json:"statusCode"`
	TransactionReference string `json:"transactionReference"`
	FundingReference     string `json:"fundingPaymentReference"`
	AccountNumber        string `json:"accountNumber"`
	AccountName          string `json:"accountName"`
	PayerDetails         struct {
		PayerName              string `json:"payerName"`
		PayerBankName          string `json:"payerBankName"`
		PaymentReferenceNumber string `json:"paymentReferenceNumber"`
	} `json:"payerDetails"`
}

// WebhookService reconciles asynchronous funding callbacks against the
// ledger, crediting each physical transfer exactly once.
type WebhookService struct {
	db       *sql.DB
	ledger   *LedgerStore
	notifier notify.Notifier
	mailer   notify.Mailer
}

func NewWebhookService(db *sql.DB, ledger *LedgerStore, notifier notify.Notifier, mailer notify.Mailer) *WebhookService {
	return &WebhookService{
		db:       db,
		ledger:   ledger,
		notifier: notifier,
		mailer:   mailer,
	}
}

// HandleFunding processes a funding callback. Duplicates resolve to HTTP
// 200 with "Already logged" so the processor never retries them.
func (ws *WebhookService) HandleFunding(w http.ResponseWriter, r *http.Request) {
	payload, raw, err := ws.parsePayload(r)
	if err != nil {
		log.Printf("[WEBHOOK] malformed funding payload: %v", err)
		SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
		return
	}

	log.Printf("[WEBHOOK] funding callback: reference=%s txRef=%s amount=%s status=%s",
		payload.Reference, payload.TransactionReference, payload.Amount, payload.StatusCode)

	if payload.StatusCode != "0" {
		log.Printf("[WEBHOOK] ignoring non-success callback for reference %s (status %s)",
			payload.Reference, payload.StatusCode)
		ws.respond(w, map[string]string{"status": "IGNORED"})
		return
	}

	ctx := r.Context()

	account, err := ws.ledger.GetAccountByReference(ctx, payload.Reference)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			webhookUnknown.Inc()
			log.Printf("[WEBHOOK] unknown account reference %s", payload.Reference)
			SendErrorResponse(w, "Unknown account reference", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WEBHOOK] account lookup failed for reference %s: %v", payload.Reference, err)
		SendErrorResponse(w, "Failed to process callback", http.StatusInternalServerError, nil)
		return
	}

	// Dump before anything else so a duplicate or a downstream failure
	// still leaves the raw payload for reconciliation.
	dumpID, err := ws.ledger.RecordDump(ctx, account.UserID, raw)
	if err != nil {
		log.Printf("[WEBHOOK] failed to record dump for user %s: %v", account.UserID, err)
		SendErrorResponse(w, "Failed to process callback", http.StatusInternalServerError, nil)
		return
	}

	exists, err := ws.ledger.HasTransaction(ctx, payload.TransactionReference, account.UserID)
	if err != nil {
		log.Printf("[WEBHOOK] duplicate check failed for %s: %v", payload.TransactionReference, err)
		SendErrorResponse(w, "Failed to process callback", http.StatusInternalServerError, nil)
		return
	}
	if exists {
		webhookDuplicate.Inc()
		log.Printf("[WEBHOOK] duplicate delivery suppressed: %s", payload.TransactionReference)
		ws.respond(w, map[string]string{"status": "SUCCESS", "message": "Already logged"})
		return
	}

	amountKobo, err := paga.NairaToKobo(payload.Amount.String())
	if err != nil {
		log.Printf("[WEBHOOK] bad amount on %s: %v", payload.TransactionReference, err)
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	entry := &models.Transaction{
		UserID:     account.UserID,
		AmountKobo: amountKobo,
		Type:       models.TxTypeCredit,
		Source:     models.TxSourceBankTransfer,
		Reference:  payload.TransactionReference,
		DumpID:     dumpID,
		Metadata: models.TransactionMetadata{
			PayerName:        payload.PayerDetails.PayerName,
			BankName:         payload.PayerDetails.PayerBankName,
			PaymentReference: payload.PayerDetails.PaymentReferenceNumber,
			AccountNumber:    payload.AccountNumber,
			AccountName:      payload.AccountName,
			Message:          "Wallet funded via bank transfer",
		},
	}

	if err := ws.ledger.ApplyCredit(ctx, entry); err != nil {
		// Lost the insert race against a concurrent delivery of the same
		// reference; the other delivery credited the account.
		if errors.Is(err, ErrDuplicateTransaction) {
			webhookDuplicate.Inc()
			log.Printf("[WEBHOOK] concurrent duplicate suppressed by unique index: %s", payload.TransactionReference)
			ws.respond(w, map[string]string{"status": "SUCCESS", "message": "Already logged"})
			return
		}
		log.Printf("[WEBHOOK] failed to apply credit %s: %v", payload.TransactionReference, err)
		SendErrorResponse(w, "Failed to process callback", http.StatusInternalServerError, nil)
		return
	}

	webhookApplied.Inc()
	log.Printf("[WEBHOOK] credited %d kobo to user %s (ref %s)",
		amountKobo, account.UserID, payload.TransactionReference)

	go ws.notifyCredit(account.UserID, amountKobo, payload.PayerDetails.PayerName)

	ws.respond(w, map[string]string{"status": "SUCCESS"})
}

func (ws *WebhookService) notifyCredit(userID string, amountKobo int64, payerName string) {
	message := "Your wallet was credited with NGN " + paga.KoboToNaira(amountKobo)
	if payerName != "" {
		message += " by " + payerName
	}
	ws.notifier.Add(context.Background(), userID, message)

	var email string
	err := ws.db.QueryRow(`SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		log.Printf("[WEBHOOK] could not resolve email for user %s: %v", userID, err)
		return
	}
	ws.mailer.Send(email, "Wallet credited", message)
}

// parsePayload accepts the callback via query parameters (redirect style)
// or a JSON body, returning the raw bytes for the dump either way.
func (ws *WebhookService) parsePayload(r *http.Request) (*FundingPayload, []byte, error) {
	q := r.URL.Query()
	if q.Get("reference") != "" || q.Get("statusCode") != "" {
		amount := q.Get("amount")
		if amount == "" {
			amount = "0"
		}
		payload := &FundingPayload{
			Reference:            q.Get("reference"),
			Amount:               json.Number(amount),
			StatusCode:           q.Get("statusCode"),
			TransactionReference: q.Get("transactionReference"),
			FundingReference:     q.Get("fundingPaymentReference"),
			AccountNumber:        q.Get("accountNumber"),
			AccountName:          q.Get("accountName"),
		}
		payload.PayerDetails.PayerName = q.Get("payerName")
		payload.PayerDetails.PayerBankName = q.Get("payerBankName")
		payload.PayerDetails.PaymentReferenceNumber = q.Get("paymentReferenceNumber")
		raw, err := json.Marshal(payload)
		return payload, raw, err
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(nil, r.Body, int64(maxBytes))
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	var payload FundingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, err
	}
	return &payload, raw, nil
}

func (ws *WebhookService) respond(w http.ResponseWriter, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
