package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sellora/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "account_number", "reference_number", "account_reference",
		"bank_name", "callback_url", "balance", "debt", "created_at", "updated_at",
	})
}

func TestGetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)

	t.Run("Found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, account_number, reference_number").
			WithArgs("user-1").
			WillReturnRows(accountRows().AddRow(
				1, "user-1", "3010011223", "REF-123", "ACCT-REF-1",
				"Paga", "https://example.com/cb", int64(50000), int64(0), now, now))

		acct, err := store.GetAccount(context.Background(), "user-1")
		assert.NoError(t, err)
		assert.Equal(t, "REF-123", acct.ReferenceNumber)
		assert.Equal(t, int64(50000), acct.BalanceKobo)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, reference_number").
			WithArgs("ghost").
			WillReturnRows(accountRows())

		acct, err := store.GetAccount(context.Background(), "ghost")
		assert.Nil(t, acct)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)
	acct := &models.Account{
		UserID:          "user-1",
		AccountNumber:   "3010011223",
		ReferenceNumber: "REF-123",
	}

	t.Run("Created", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		created, err := store.CreateAccount(context.Background(), acct)
		assert.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("AlreadyExists", func(t *testing.T) {
		// ON CONFLICT DO NOTHING reports zero rows affected.
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := store.CreateAccount(context.Background(), acct)
		assert.NoError(t, err)
		assert.False(t, created)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCredit(t *testing.T) {
	entry := &models.Transaction{
		UserID:     "user-1",
		AmountKobo: 250000,
		Type:       models.TxTypeCredit,
		Source:     models.TxSourceBankTransfer,
		Reference:  "TXN-001",
	}

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		store := NewLedgerStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, store.ApplyCredit(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		store := NewLedgerStore(db)

		// The unique index rejects the insert, so the balance update never
		// runs and the transaction rolls back.
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err = store.ApplyCredit(context.Background(), entry)
		assert.ErrorIs(t, err, ErrDuplicateTransaction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingAccountRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		store := NewLedgerStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = store.ApplyCredit(context.Background(), entry)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyDebit(t *testing.T) {
	entry := &models.Transaction{
		UserID:     "user-1",
		AmountKobo: 100000,
		Type:       models.TxTypeDebit,
		Source:     models.TxSourceSavings,
		Reference:  "WD-001",
	}

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		store := NewLedgerStore(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1`).
			WithArgs(int64(100000), sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		assert.NoError(t, store.ApplyDebit(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		store := NewLedgerStore(db)

		// balance >= amount guard matched no row; nothing is written.
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = store.ApplyDebit(context.Background(), entry)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHasTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)

	t.Run("Exists", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("TXN-001", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := store.HasTransaction(context.Background(), "TXN-001", "user-1")
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("TXN-999", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		exists, err := store.HasTransaction(context.Background(), "TXN-999", "user-1")
		assert.NoError(t, err)
		assert.False(t, exists)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDump(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)

	mock.ExpectQuery("INSERT INTO transaction_dumps").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := store.RecordDump(context.Background(), "user-1", []byte(`{"statusCode":"0"}`))
	assert.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT id, user_id, amount, type, source, reference, metadata, created_at").
		WithArgs("user-1", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "amount", "type", "source", "reference", "metadata", "created_at",
		}).
			AddRow(2, "user-1", int64(100000), "debit", "withdrawal", "WD-001", []byte(`{"message":"Withdrawal"}`), now).
			AddRow(1, "user-1", int64(250000), "credit", "bank_transfer", "TXN-001", []byte(nil), now))

	entries, err := store.ListTransactions(context.Background(), "user-1", 20)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "Withdrawal", entries[0].Metadata.Message)
	assert.Equal(t, int64(250000), entries[1].AmountKobo)
	assert.NoError(t, mock.ExpectationsWereMet())
}
