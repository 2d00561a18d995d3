package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sellora/backend/internal/models"
	"github.com/sellora/backend/internal/notify"
	"github.com/spf13/viper"
)

var (
	ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created with inventory reserved",
	})
	ordersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Pending orders released by the expiry sweep",
	})
)

// ErrOutOfStock is returned when a line item requests more than available.
type ErrOutOfStock struct {
	MerchName string
}

func (e *ErrOutOfStock) Error() string {
	return "quantity selected is more than available for " + e.MerchName
}

type OrderItemRequest struct {
	MerchID  int `json:"merchId" validate:"required,gt=0"`
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderRequest struct {
	StoreID       string             `json:"storeId" validate:"required"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount      float64            `json:"discount" validate:"gte=0"`
	CustomerEmail string             `json:"customerEmail" validate:"required,email"`
}

// OrderService reserves merchandise stock at order creation and releases it
// when the reservation window lapses without payment. Stock mutation is an
// atomic conditional decrement, so concurrent orders against a low-stock
// item cannot jointly oversell.
type OrderService struct {
	db                *sql.DB
	gateway           PaymentGateway
	notifier          notify.Notifier
	mailer            notify.Mailer
	validator         *ValidationHelper
	reservationWindow time.Duration
}

func NewOrderService(db *sql.DB, gateway PaymentGateway, notifier notify.Notifier, mailer notify.Mailer) *OrderService {
	viper.SetDefault("orders.reservation_window", 48*time.Hour)
	return &OrderService{
		db:                db,
		gateway:           gateway,
		notifier:          notifier,
		mailer:            mailer,
		validator:         NewValidationHelper(),
		reservationWindow: viper.GetDuration("orders.reservation_window"),
	}
}

// CreateOrder reserves stock for every line item and returns the
// processor-hosted payment URL. The whole reservation rolls back if any
// single item cannot cover the requested quantity.
func (os *OrderService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateOrderRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()

	// Price the order before touching stock; the checkout URL is obtained
	// outside the reservation transaction so network latency never holds
	// row locks.
	items, totalKobo, err := os.priceItems(ctx, req.Items)
	if err != nil {
		log.Printf("[ORDERS] pricing failed for store %s: %v", req.StoreID, err)
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	totalKobo -= floatToKobo(req.Discount)
	if totalKobo < 0 {
		totalKobo = 0
	}

	code := "ORD-" + strings.ToUpper(uuid.NewString()[:8])
	paymentURL, err := os.gateway.GetCheckoutURL(ctx, code, totalKobo, "NGN", "Order "+code)
	if err != nil {
		log.Printf("[ORDERS] could not obtain checkout URL for %s: %v", code, err)
		SendErrorResponse(w, "Failed to create payment link for order", http.StatusBadGateway, nil)
		return
	}

	order := &models.Order{
		Code:          code,
		UserID:        userID,
		StoreID:       req.StoreID,
		Items:         items,
		TotalKobo:     totalKobo,
		DiscountKobo:  floatToKobo(req.Discount),
		PaymentURL:    paymentURL,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		CustomerEmail: req.CustomerEmail,
	}

	if err := os.reserve(ctx, order); err != nil {
		var oos *ErrOutOfStock
		if errors.As(err, &oos) {
			SendErrorResponse(w, oos.Error(), http.StatusBadRequest, nil)
			return
		}
		log.Printf("[ORDERS] failed to reserve order %s: %v", code, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	ordersCreated.Inc()
	log.Printf("[ORDERS] created %s: %d items, total %d kobo", code, len(items), totalKobo)

	go os.mailer.Send(req.CustomerEmail, "Complete your order "+code,
		"Your order is reserved. Complete payment at "+paymentURL+" within 48 hours.")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// priceItems loads name/price/currency per line item. Stock is not checked
// here; the reservation transaction is the only authority on quantity.
func (os *OrderService) priceItems(ctx context.Context, reqs []OrderItemRequest) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(reqs))
	var total int64
	for _, req := range reqs {
		var name, currency string
		var price int64
		err := os.db.QueryRowContext(ctx, `
			SELECT name, price, currency FROM merches
			WHERE id = $1 AND deleted_at IS NULL`, req.MerchID).
			Scan(&name, &price, &currency)
		if err == sql.ErrNoRows {
			return nil, 0, fmt.Errorf("item %d not found", req.MerchID)
		}
		if err != nil {
			return nil, 0, err
		}
		items = append(items, models.OrderItem{
			MerchID:       req.MerchID,
			Quantity:      req.Quantity,
			UnitPriceKobo: price,
			Currency:      currency,
		})
		total += price * int64(req.Quantity)
	}
	return items, total, nil
}

// reserve persists the order and decrements stock for every line item in
// one storage transaction. Each decrement is conditional on sufficient
// quantity; any shortfall rolls the whole order back.
func (os *OrderService) reserve(ctx context.Context, order *models.Order) error {
	tx, err := os.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (code, user_id, store_id, total, discount, payment_url, status, payment_status, customer_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		order.Code, order.UserID, order.StoreID, order.TotalKobo, order.DiscountKobo,
		order.PaymentURL, order.Status, order.PaymentStatus, order.CustomerEmail, time.Now()).
		Scan(&order.ID)
	if err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		res, err := tx.ExecContext(ctx, `
			UPDATE merches
			SET quantity = quantity - $1, updated_at = $2
			WHERE id = $3 AND deleted_at IS NULL AND quantity >= $1`,
			item.Quantity, time.Now(), item.MerchID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			var name string
			if scanErr := tx.QueryRowContext(ctx, `SELECT name FROM merches WHERE id = $1`, item.MerchID).Scan(&name); scanErr != nil {
				name = fmt.Sprintf("item %d", item.MerchID)
			}
			return &ErrOutOfStock{MerchName: name}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, merch_id, quantity, unit_price, currency)
			VALUES ($1, $2, $3, $4, $5)`,
			item.OrderID, item.MerchID, item.Quantity, item.UnitPriceKobo, item.Currency)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// HandlePaymentCallback is the processor's redirect after a hosted-checkout
// payment, moving the order from PENDING to PROCESSING.
func (os *OrderService) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("reference")
	statusCode := r.URL.Query().Get("statusCode")

	if code == "" {
		SendErrorResponse(w, "reference is required", http.StatusBadRequest, nil)
		return
	}

	if statusCode != "0" {
		log.Printf("[ORDERS] payment callback for %s reported failure (status %s)", code, statusCode)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "IGNORED"})
		return
	}

	res, err := os.db.ExecContext(r.Context(), `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = $3
		WHERE code = $4 AND status = $5 AND deleted_at IS NULL`,
		models.OrderStatusProcessing, models.PaymentStatusPaid, time.Now(),
		code, models.OrderStatusPending)
	if err != nil {
		log.Printf("[ORDERS] payment callback update failed for %s: %v", code, err)
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already processed or unknown; still 200 so the processor stops.
		log.Printf("[ORDERS] payment callback for %s matched no pending order", code)
	} else {
		log.Printf("[ORDERS] order %s paid, now processing", code)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "SUCCESS"})
}

// ReleaseExpiredOrders restores inventory held by orders that stayed
// unpaid past the reservation window. Safe to run concurrently with
// itself: the status transition and the restoration share one transaction,
// and the PENDING filter inside that transaction makes a second pass a
// no-op.
func (os *OrderService) ReleaseExpiredOrders(ctx context.Context) {
	cutoff := time.Now().Add(-os.reservationWindow)

	rows, err := os.db.QueryContext(ctx, `
		SELECT id, code, customer_email FROM orders
		WHERE status = $1 AND deleted_at IS NULL AND created_at < $2`,
		models.OrderStatusPending, cutoff)
	if err != nil {
		log.Printf("[ORDERS] expiry sweep query failed: %v", err)
		return
	}
	defer rows.Close()

	type expired struct {
		id    int
		code  string
		email string
	}
	var candidates []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.code, &e.email); err != nil {
			log.Printf("[ORDERS] expiry sweep scan failed: %v", err)
			return
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ORDERS] expiry sweep rows failed: %v", err)
		return
	}

	for _, e := range candidates {
		released, err := os.releaseOrder(ctx, e.id)
		if err != nil {
			log.Printf("[ORDERS] failed to release expired order %s: %v", e.code, err)
			continue
		}
		if !released {
			continue
		}
		ordersExpired.Inc()
		log.Printf("[ORDERS] released expired order %s, inventory restored", e.code)
		os.mailer.Send(e.email, "Order "+e.code+" expired",
			"Your order was not paid within the reservation window and has been cancelled. The items are back in stock.")
	}
}

// releaseOrder flips one order to FAILED and restores its stock. Returns
// false when another sweep already released it.
func (os *OrderService) releaseOrder(ctx context.Context, orderID int) (bool, error) {
	tx, err := os.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.OrderStatusFailed, models.PaymentStatusUnpaid, time.Now(),
		orderID, models.OrderStatusPending)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}

	// Aggregate per merch before joining: an order can hold several lines
	// for the same merch, and UPDATE ... FROM applies only one joined row.
	_, err = tx.ExecContext(ctx, `
		UPDATE merches
		SET quantity = merches.quantity + oi.qty, updated_at = $2
		FROM (
			SELECT merch_id, SUM(quantity) AS qty
			FROM order_items
			WHERE order_id = $1
			GROUP BY merch_id
		) oi
		WHERE merches.id = oi.merch_id`,
		orderID, time.Now())
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// RemindPendingOrders emails customers whose orders sit halfway through
// the reservation window, without mutating any state.
func (os *OrderService) RemindPendingOrders(ctx context.Context) {
	half := os.reservationWindow / 2
	newest := time.Now().Add(-half)
	oldest := time.Now().Add(-(half + time.Hour))

	rows, err := os.db.QueryContext(ctx, `
		SELECT code, customer_email, payment_url FROM orders
		WHERE status = $1 AND deleted_at IS NULL AND created_at >= $2 AND created_at < $3`,
		models.OrderStatusPending, oldest, newest)
	if err != nil {
		log.Printf("[ORDERS] reminder sweep query failed: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var code, email, paymentURL string
		if err := rows.Scan(&code, &email, &paymentURL); err != nil {
			log.Printf("[ORDERS] reminder sweep scan failed: %v", err)
			return
		}
		os.mailer.Send(email, "Payment still pending for order "+code,
			"Your order is still reserved. Complete payment at "+paymentURL+" before the hold expires.")
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ORDERS] reminder sweep rows failed: %v", err)
	}
}
