package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/sellora/backend/internal/models"
)

// PaymentLinkService serves the public checkout surface of payment links:
// link lookup and a scannable QR of the hosted checkout URL.
type PaymentLinkService struct {
	db      *sql.DB
	gateway PaymentGateway
}

func NewPaymentLinkService(db *sql.DB, gateway PaymentGateway) *PaymentLinkService {
	return &PaymentLinkService{db: db, gateway: gateway}
}

// GetLink returns one payment link by its public code.
func (pls *PaymentLinkService) GetLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := pls.loadLink(r.Context(), code)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Payment link not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[LINKS] failed to load link %s: %v", code, err)
		SendErrorResponse(w, "Failed to load payment link", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(link)
}

// CheckoutQR renders the link's hosted checkout URL as a PNG QR code,
// obtaining and caching the URL on first request.
func (pls *PaymentLinkService) CheckoutQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := pls.loadLink(r.Context(), code)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Payment link not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[LINKS] failed to load link %s: %v", code, err)
		SendErrorResponse(w, "Failed to load payment link", http.StatusInternalServerError, nil)
		return
	}

	if link.CheckoutURL == "" {
		url, err := pls.gateway.GetCheckoutURL(r.Context(), link.Code, link.AmountKobo, link.Currency, link.Name)
		if err != nil {
			log.Printf("[LINKS] could not obtain checkout URL for %s: %v", code, err)
			SendErrorResponse(w, "Checkout is temporarily unavailable", http.StatusBadGateway, nil)
			return
		}
		link.CheckoutURL = url
		pls.cacheCheckoutURL(r.Context(), link.ID, url)
	}

	png, err := qrcode.Encode(link.CheckoutURL, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[LINKS] QR encode failed for %s: %v", code, err)
		SendErrorResponse(w, "Failed to render QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

func (pls *PaymentLinkService) loadLink(ctx context.Context, code string) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := pls.db.QueryRowContext(ctx, `
		SELECT id, user_id, code, name, payment_type, amount, currency,
		       frequency, interval_days, COALESCE(checkout_url, ''), created_at
		FROM payment_links
		WHERE code = $1 AND deleted_at IS NULL`, code).
		Scan(&link.ID, &link.UserID, &link.Code, &link.Name, &link.PaymentType,
			&link.AmountKobo, &link.Currency, &link.Frequency, &link.IntervalDays,
			&link.CheckoutURL, &link.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (pls *PaymentLinkService) cacheCheckoutURL(ctx context.Context, linkID int, url string) {
	if _, err := pls.db.ExecContext(ctx, `
		UPDATE payment_links SET checkout_url = $1 WHERE id = $2`, url, linkID); err != nil {
		log.Printf("[LINKS] failed to cache checkout URL for link %d: %v", linkID, err)
	}
}
