package models

import (
	"encoding/json"
	"time"
)

// Transaction types
const (
	TxTypeCredit = "credit"
	TxTypeDebit  = "debit"
	TxTypeLoan   = "loan"
	TxTypeRefund = "refund"
	TxTypeStash  = "stash"
)

// Transaction sources
const (
	TxSourceBankTransfer = "bank_transfer"
	TxSourceUserTransfer = "user_transfer"
	TxSourceCardDeposit  = "card_deposit"
	TxSourceStore        = "store"
	TxSourceInvoice      = "invoice"
	TxSourcePaymentLink  = "payment_link"
	TxSourceSavings      = "savings"
	TxSourceStash        = "stash"
	TxSourceReversal     = "reversal"
)

// Account is the wallet record for one creator. One row per user, balance
// held in kobo (minor units).
type Account struct {
	ID               int        `json:"id" db:"id"`
	UserID           string     `json:"userId" db:"user_id"`
	AccountNumber    string     `json:"accountNumber" db:"account_number"`
	ReferenceNumber  string     `json:"referenceNumber" db:"reference_number"`
	AccountReference string     `json:"accountReference" db:"account_reference"`
	BankName         string     `json:"bankName" db:"bank_name"`
	CallbackURL      string     `json:"callbackUrl" db:"callback_url"`
	BalanceKobo      int64      `json:"balance" db:"balance"`
	DebtKobo         int64      `json:"debt" db:"debt"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" db:"updated_at"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
	DeletedBy        string     `json:"deletedBy,omitempty" db:"deleted_by"`
}

// TransactionMetadata carries payer details copied off processor callbacks.
type TransactionMetadata struct {
	PayerName        string `json:"payerName,omitempty"`
	BankName         string `json:"bankName,omitempty"`
	PaymentReference string `json:"paymentReference,omitempty"`
	AccountNumber    string `json:"accountNumber,omitempty"`
	AccountName      string `json:"accountName,omitempty"`
	FeeKobo          int64  `json:"fee,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Transaction is an append-only ledger entry. Rows are never updated; the
// partial unique index on reference for credit/bank_transfer rows is the
// webhook idempotency backstop.
type Transaction struct {
	ID         int                 `json:"id" db:"id"`
	UserID     string              `json:"userId" db:"user_id"`
	AmountKobo int64               `json:"amount" db:"amount"`
	Type       string              `json:"type" db:"type"`
	Source     string              `json:"source" db:"source"`
	Reference  string              `json:"reference" db:"reference"`
	DumpID     int                 `json:"dumpId,omitempty" db:"dump_id"`
	Metadata   TransactionMetadata `json:"metadata" db:"metadata"`
	CreatedAt  time.Time           `json:"createdAt" db:"created_at"`
}

// TransactionDump is the raw copy of an inbound webhook or processor
// response, written before any processing so failed or duplicate events
// still leave an audit trail.
type TransactionDump struct {
	ID        int             `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// Bank is one row of the local bank directory cache, refreshed from the
// processor's bank list.
type Bank struct {
	Name     string `json:"name" db:"name"`
	Code     string `json:"code" db:"code"`
	SortCode string `json:"sortCode" db:"sort_code"`
}
