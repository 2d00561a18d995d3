package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sellora/backend/internal/models"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateTransaction = errors.New("transaction already logged")
)

// LedgerStore is the single source of truth for wallet balances and the
// append-only transaction history. Balance mutations are atomic
// increment-by-delta expressions; transactions are insert-only with a
// partial unique index on reference for credit/bank_transfer rows, so a
// duplicate webhook surfaces as a 23505 rather than a double credit.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (ls *LedgerStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	return ls.scanAccount(ls.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_number, reference_number, account_reference,
		       bank_name, callback_url, balance, debt, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND deleted_at IS NULL`, userID))
}

// GetAccountByReference resolves an account from the processor's reference
// number, the only identifier a funding webhook carries.
func (ls *LedgerStore) GetAccountByReference(ctx context.Context, reference string) (*models.Account, error) {
	return ls.scanAccount(ls.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_number, reference_number, account_reference,
		       bank_name, callback_url, balance, debt, created_at, updated_at
		FROM accounts
		WHERE reference_number = $1 AND deleted_at IS NULL`, reference))
}

func (ls *LedgerStore) scanAccount(row *sql.Row) (*models.Account, error) {
	var acct models.Account
	err := row.Scan(
		&acct.ID, &acct.UserID, &acct.AccountNumber, &acct.ReferenceNumber,
		&acct.AccountReference, &acct.BankName, &acct.CallbackURL,
		&acct.BalanceKobo, &acct.DebtKobo, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateAccount inserts a zero-balance account for a user. The unique
// constraint on user_id makes concurrent provisioning converge on one row;
// returns false when the account already existed.
func (ls *LedgerStore) CreateAccount(ctx context.Context, acct *models.Account) (bool, error) {
	res, err := ls.db.ExecContext(ctx, `
		INSERT INTO accounts
		(user_id, account_number, reference_number, account_reference, bank_name, callback_url, balance, debt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		acct.UserID, acct.AccountNumber, acct.ReferenceNumber, acct.AccountReference,
		acct.BankName, acct.CallbackURL, time.Now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ApplyCredit appends a credit transaction and increments the balance in
// one storage transaction. The transaction row is inserted first so the
// unique reference index is the gate: a duplicate delivery fails the insert
// with 23505 and the balance increment never runs.
func (ls *LedgerStore) ApplyCredit(ctx context.Context, entry *models.Transaction) error {
	tx, err := ls.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ls.insertTransaction(ctx, tx, entry); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = $2
		WHERE user_id = $3 AND deleted_at IS NULL`,
		entry.AmountKobo, time.Now(), entry.UserID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrAccountNotFound
	}

	return tx.Commit()
}

// ApplyDebit decrements the balance with a floor-at-zero guard and appends
// the debit transaction atomically. Zero rows updated means the balance no
// longer covers the amount.
func (ls *LedgerStore) ApplyDebit(ctx context.Context, entry *models.Transaction) error {
	tx, err := ls.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = $2
		WHERE user_id = $3 AND deleted_at IS NULL AND balance >= $1`,
		entry.AmountKobo, time.Now(), entry.UserID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrInsufficientBalance
	}

	if err := ls.insertTransaction(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit()
}

// RecordTransaction appends a ledger entry outside any balance mutation.
func (ls *LedgerStore) RecordTransaction(ctx context.Context, entry *models.Transaction) error {
	tx, err := ls.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := ls.insertTransaction(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (ls *LedgerStore) insertTransaction(ctx context.Context, tx *sql.Tx, entry *models.Transaction) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}

	var dumpID any
	if entry.DumpID != 0 {
		dumpID = entry.DumpID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (user_id, amount, type, source, reference, dump_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, entry.AmountKobo, entry.Type, entry.Source, entry.Reference,
		dumpID, metadata, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// HasTransaction is the application-level duplicate check run before a
// credit is applied. The unique index remains the backstop for the window
// between this check and the insert.
func (ls *LedgerStore) HasTransaction(ctx context.Context, reference, userID string) (bool, error) {
	var exists bool
	err := ls.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE reference = $1 AND user_id = $2
		)`, reference, userID).Scan(&exists)
	return exists, err
}

// RecordDump persists the raw processor payload before any processing, so
// even a discarded duplicate leaves an audit trail.
func (ls *LedgerStore) RecordDump(ctx context.Context, userID string, payload []byte) (int, error) {
	var id int
	err := ls.db.QueryRowContext(ctx, `
		INSERT INTO transaction_dumps (user_id, payload, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`,
		userID, payload, time.Now()).Scan(&id)
	return id, err
}

func (ls *LedgerStore) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	rows, err := ls.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, source, reference, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var entry models.Transaction
		var metadata []byte
		err := rows.Scan(&entry.ID, &entry.UserID, &entry.AmountKobo, &entry.Type,
			&entry.Source, &entry.Reference, &metadata, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode transaction metadata: %w", err)
			}
		}
		transactions = append(transactions, entry)
	}
	return transactions, rows.Err()
}
