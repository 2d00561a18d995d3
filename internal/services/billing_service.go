package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sellora/backend/internal/models"
	"github.com/sellora/backend/internal/notify"
	"github.com/sellora/backend/internal/paga"
)

var subscriptionCharges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subscription_charges_total",
	Help: "Recurring charge attempts by outcome",
}, []string{"outcome"})

// maxFailedCharges is how many consecutive declines a subscriber gets
// before the scheduler stops trying and flags them for manual follow-up.
const maxFailedCharges = 3

// BillingService sweeps subscription payment links and re-charges
// subscribers whose next charge date has elapsed. The billing cursor only
// advances on a confirmed successful charge; declines accumulate toward a
// flag instead of silently skipping a period.
type BillingService struct {
	db       *sql.DB
	ledger   *LedgerStore
	gateway  PaymentGateway
	notifier notify.Notifier
	mailer   notify.Mailer
}

func NewBillingService(db *sql.DB, ledger *LedgerStore, gateway PaymentGateway, notifier notify.Notifier, mailer notify.Mailer) *BillingService {
	return &BillingService{
		db:       db,
		ledger:   ledger,
		gateway:  gateway,
		notifier: notifier,
		mailer:   mailer,
	}
}

type dueSubscription struct {
	linkID       int
	creatorID    string
	linkName     string
	amountKobo   int64
	currency     string
	intervalDays int
	clientID     int
	email        string
	cardToken    string
	failedTries  int
}

// ChargeDueSubscriptions finds every subscriber whose cursor has elapsed
// and is still under the link's charge cap (frequency 0 = unlimited).
func (bs *BillingService) ChargeDueSubscriptions(ctx context.Context) {
	rows, err := bs.db.QueryContext(ctx, `
		SELECT l.id, l.user_id, l.name, l.amount, l.currency, l.interval_days,
		       c.id, c.email, c.card_token, c.failed_attempts
		FROM payment_links l
		INNER JOIN payment_link_clients c ON c.link_id = l.id AND c.deleted_at IS NULL
		WHERE l.payment_type = $1 AND l.deleted_at IS NULL
		  AND c.next_charge_date <= $2
		  AND (l.frequency = 0 OR c.times_billed < l.frequency)
		  AND c.flagged = FALSE`,
		models.LinkTypeSubscription, time.Now())
	if err != nil {
		log.Printf("[BILLING] due-subscription query failed: %v", err)
		return
	}
	defer rows.Close()

	var due []dueSubscription
	for rows.Next() {
		var d dueSubscription
		err := rows.Scan(&d.linkID, &d.creatorID, &d.linkName, &d.amountKobo, &d.currency,
			&d.intervalDays, &d.clientID, &d.email, &d.cardToken, &d.failedTries)
		if err != nil {
			log.Printf("[BILLING] due-subscription scan failed: %v", err)
			return
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[BILLING] due-subscription rows failed: %v", err)
		return
	}

	for _, d := range due {
		bs.chargeSubscriber(ctx, d)
	}
}

func (bs *BillingService) chargeSubscriber(ctx context.Context, d dueSubscription) {
	reference := "SUB-" + uuid.NewString()
	result, err := bs.gateway.ChargeCard(ctx, reference, d.cardToken, d.amountKobo, d.currency)
	if err != nil {
		var pe *paga.ProcessorError
		if errors.As(err, &pe) {
			subscriptionCharges.WithLabelValues("declined").Inc()
			bs.recordDecline(ctx, d, pe)
			return
		}
		// Transport failure: outcome unknown, leave the cursor and the
		// failure count alone; the next sweep retries.
		subscriptionCharges.WithLabelValues("unknown").Inc()
		log.Printf("[BILLING] charge outcome unknown for client %d on link %d: %v", d.clientID, d.linkID, err)
		return
	}

	_, err = bs.db.ExecContext(ctx, `
		UPDATE payment_link_clients
		SET next_charge_date = $1, times_billed = times_billed + 1, failed_attempts = 0
		WHERE id = $2`,
		time.Now().AddDate(0, 0, d.intervalDays), d.clientID)
	if err != nil {
		log.Printf("[BILLING] RECONCILE: charge %s succeeded (tx %s) but cursor update failed for client %d: %v",
			reference, result.TransactionID, d.clientID, err)
	}

	entry := &models.Transaction{
		UserID:     d.creatorID,
		AmountKobo: d.amountKobo,
		Type:       models.TxTypeCredit,
		Source:     models.TxSourcePaymentLink,
		Reference:  result.TransactionID,
		Metadata: models.TransactionMetadata{
			AccountName: d.email,
			Message:     "Subscription charge for " + d.linkName,
		},
	}
	if err := bs.ledger.ApplyCredit(ctx, entry); err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		log.Printf("[BILLING] RECONCILE: could not credit creator %s for charge %s: %v",
			d.creatorID, result.TransactionID, err)
	}

	subscriptionCharges.WithLabelValues("success").Inc()
	log.Printf("[BILLING] charged %d kobo for link %d client %d (ref %s)",
		d.amountKobo, d.linkID, d.clientID, reference)
	bs.notifier.Add(ctx, d.creatorID,
		"Subscription payment of NGN "+paga.KoboToNaira(d.amountKobo)+" received on "+d.linkName)
}

// recordDecline increments the failure count without advancing the cursor;
// after maxFailedCharges declines the subscriber is flagged out of the
// sweep and the creator is told to follow up.
func (bs *BillingService) recordDecline(ctx context.Context, d dueSubscription, pe *paga.ProcessorError) {
	flagged := d.failedTries+1 >= maxFailedCharges
	_, err := bs.db.ExecContext(ctx, `
		UPDATE payment_link_clients
		SET failed_attempts = failed_attempts + 1, flagged = $1
		WHERE id = $2`,
		flagged, d.clientID)
	if err != nil {
		log.Printf("[BILLING] failed to record decline for client %d: %v", d.clientID, err)
		return
	}

	log.Printf("[BILLING] charge declined for client %d on link %d (%d consecutive): %v",
		d.clientID, d.linkID, d.failedTries+1, pe)

	if flagged {
		bs.notifier.Add(ctx, d.creatorID,
			"We could not bill "+d.email+" on "+d.linkName+" after "+
				"repeated attempts. The subscription is paused; please follow up with them.")
		bs.mailer.Send(d.email, "Payment failed for "+d.linkName,
			"We could not charge your card for your subscription. Please update your payment details.")
	}
}
