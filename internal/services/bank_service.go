package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/sellora/backend/internal/models"
)

// seedBanks is the fallback directory served until the first successful
// refresh from the processor.
var seedBanks = []models.Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "023", Name: "Citibank Nigeria"},
	{Code: "050", Name: "Ecobank Nigeria"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "032", Name: "Union Bank of Nigeria"},
	{Code: "033", Name: "United Bank For Africa"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "090405", Name: "Moniepoint MFB"},
}

// BankService serves the bank directory from a local cache table refreshed
// off the processor's bank list.
type BankService struct {
	db      *sql.DB
	gateway PaymentGateway
}

func NewBankService(db *sql.DB, gateway PaymentGateway) *BankService {
	return &BankService{db: db, gateway: gateway}
}

// GetAllBanks serves the cached directory, falling back to the static seed
// when the cache is empty.
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := bs.loadCached(r.Context())
	if err != nil {
		log.Printf("[BANKS] cache read failed, serving seed list: %v", err)
		banks = seedBanks
	}
	if len(banks) == 0 {
		banks = seedBanks
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(banks)
}

func (bs *BankService) loadCached(ctx context.Context) ([]models.Bank, error) {
	rows, err := bs.db.QueryContext(ctx, `SELECT name, code, sort_code FROM banks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	banks := []models.Bank{}
	for rows.Next() {
		var b models.Bank
		if err := rows.Scan(&b.Name, &b.Code, &b.SortCode); err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// RefreshBanks replaces the cache table with the processor's current bank
// list. Run at boot and daily; a failed refresh keeps the previous cache.
func (bs *BankService) RefreshBanks(ctx context.Context) {
	banks, err := bs.gateway.ListBanks(ctx)
	if err != nil {
		log.Printf("[BANKS] refresh failed, keeping existing cache: %v", err)
		return
	}
	if len(banks) == 0 {
		log.Printf("[BANKS] refresh returned no banks, keeping existing cache")
		return
	}

	tx, err := bs.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[BANKS] refresh begin failed: %v", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM banks`); err != nil {
		log.Printf("[BANKS] refresh clear failed: %v", err)
		return
	}
	for _, b := range banks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO banks (name, code, sort_code, updated_at)
			VALUES ($1, $2, $3, $4)`,
			b.Name, b.Code, b.SortCode, time.Now())
		if err != nil {
			log.Printf("[BANKS] refresh insert failed for %s: %v", b.Code, err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[BANKS] refresh commit failed: %v", err)
		return
	}
	log.Printf("[BANKS] refreshed bank directory: %d banks", len(banks))
}
