package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sellora/backend/internal/models"
	"github.com/sellora/backend/internal/notify"
	"github.com/sellora/backend/internal/paga"
	"github.com/spf13/viper"
)

var ErrProvisioningInProgress = errors.New("account provisioning already in progress")

// ProvisioningService ensures every creator has exactly one dedicated
// virtual bank account. A redis lock keyed by user id plus the unique
// constraint on accounts.user_id keep two near-simultaneous requests from
// creating duplicate processor-side accounts.
type ProvisioningService struct {
	db          *sql.DB
	ledger      *LedgerStore
	gateway     PaymentGateway
	redis       *redis.Client
	notifier    notify.Notifier
	mailer      notify.Mailer
	callbackURL string
}

func NewProvisioningService(db *sql.DB, ledger *LedgerStore, gateway PaymentGateway, redisClient *redis.Client, notifier notify.Notifier, mailer notify.Mailer) *ProvisioningService {
	viper.SetDefault("paga.funding_callback_url", "https://api.sellora.app/webhooks/paga/funding")
	return &ProvisioningService{
		db:          db,
		ledger:      ledger,
		gateway:     gateway,
		redis:       redisClient,
		notifier:    notifier,
		mailer:      mailer,
		callbackURL: viper.GetString("paga.funding_callback_url"),
	}
}

// ProvisionAccount creates the dedicated account for a user. On processor
// decline nothing is persisted and the user is told the setup will be
// retried within 24 hours.
func (ps *ProvisioningService) ProvisionAccount(ctx context.Context, userID string) (*models.Account, error) {
	if ps.redis != nil {
		ok, err := ps.redis.SetNX(ctx, "provision:"+userID, 1, 2*time.Minute).Result()
		if err != nil {
			log.Printf("[PROVISION] redis lock failed for user %s, relying on db constraint: %v", userID, err)
		} else if !ok {
			return nil, ErrProvisioningInProgress
		} else {
			defer ps.redis.Del(ctx, "provision:"+userID)
		}
	}

	// A concurrent request may have finished while we waited on the lock.
	if acct, err := ps.ledger.GetAccount(ctx, userID); err == nil {
		return acct, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	var firstName, lastName, email, phone string
	err := ps.db.QueryRowContext(ctx, `
		SELECT first_name, last_name, email, COALESCE(phone, '')
		FROM users WHERE id = $1`, userID).
		Scan(&firstName, &lastName, &email, &phone)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	owner := paga.OwnerProfile{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Phone:     normalizePhone(phone),
	}

	dedicated, err := ps.gateway.GenerateDedicatedAccount(ctx, owner, ps.callbackURL)
	if err != nil {
		var pe *paga.ProcessorError
		if errors.As(err, &pe) {
			log.Printf("[PROVISION] processor declined account for user %s: %v", userID, pe)
			ps.notifier.Add(ctx, userID,
				"We could not set up your wallet. Please check that your profile details are complete; we will retry within 24 hours.")
		} else {
			log.Printf("[PROVISION] gateway unreachable provisioning user %s: %v", userID, err)
		}
		return nil, err
	}

	acct := &models.Account{
		UserID:           userID,
		AccountNumber:    dedicated.AccountNumber,
		ReferenceNumber:  dedicated.ReferenceNumber,
		AccountReference: dedicated.AccountReference,
		BankName:         dedicated.BankName,
		CallbackURL:      dedicated.CallbackURL,
	}

	created, err := ps.ledger.CreateAccount(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("persist account for user %s: %w", userID, err)
	}
	if !created {
		// Lost the race after the gateway call; the processor-side account
		// we just created is orphaned and needs manual cleanup.
		log.Printf("[PROVISION] account already existed for user %s; orphaned processor account %s",
			userID, dedicated.AccountReference)
		return ps.ledger.GetAccount(ctx, userID)
	}

	log.Printf("[PROVISION] wallet ready for user %s (account %s)", userID, dedicated.AccountNumber)
	ps.notifier.Add(ctx, userID, "Your wallet is ready. Your dedicated account number is "+dedicated.AccountNumber+".")
	ps.notifier.Add(ctx, userID, "Tip: fund your wallet by transferring to your dedicated account from any bank app.")
	ps.mailer.Send(email, "Your Sellora wallet is ready",
		"Your dedicated account number is "+dedicated.AccountNumber+" ("+dedicated.BankName+").")

	return ps.ledger.GetAccount(ctx, userID)
}

// GetAccountInfo returns the caller's wallet, provisioning it inline on
// first call. The first balance check for a new creator pays the
// provisioning latency.
func (ps *ProvisioningService) GetAccountInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	acct, err := ps.ledger.GetAccount(r.Context(), userID)
	if errors.Is(err, ErrAccountNotFound) {
		acct, err = ps.ProvisionAccount(r.Context(), userID)
	}
	if err != nil {
		if errors.Is(err, ErrProvisioningInProgress) {
			SendErrorResponse(w, "Wallet setup in progress, try again shortly", http.StatusConflict, nil)
			return
		}
		var pe *paga.ProcessorError
		if errors.As(err, &pe) {
			SendErrorResponse(w, "Wallet setup failed; we will retry within 24 hours", http.StatusBadGateway, nil)
			return
		}
		log.Printf("[PROVISION] get account info failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

// ProvisionMissingAccounts is the daily sweep over creators who have a
// storefront but no wallet yet, catching anyone who skipped the lazy path.
func (ps *ProvisioningService) ProvisionMissingAccounts(ctx context.Context) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT DISTINCT u.id
		FROM users u
		INNER JOIN stores s ON s.user_id = u.id AND s.deleted_at IS NULL
		LEFT JOIN accounts a ON a.user_id = u.id AND a.deleted_at IS NULL
		WHERE a.id IS NULL`)
	if err != nil {
		log.Printf("[PROVISION] sweep query failed: %v", err)
		return
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf("[PROVISION] sweep scan failed: %v", err)
			return
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[PROVISION] sweep rows failed: %v", err)
		return
	}

	for _, userID := range userIDs {
		if _, err := ps.ProvisionAccount(ctx, userID); err != nil {
			log.Printf("[PROVISION] sweep could not provision user %s: %v", userID, err)
		}
	}
}

// normalizePhone defaults bare local numbers to the +234 country code.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+234" + strings.TrimPrefix(phone, "0")
}
