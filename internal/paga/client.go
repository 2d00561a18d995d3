package paga

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ProcessorError is a failure reported by Paga itself (invalid destination
// account, insufficient upstream funds, declined charge). It is a final
// answer and must not be retried.
type ProcessorError struct {
	Code    string
	Message string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("paga declined (%s): %s", e.Code, e.Message)
}

// TransportError is a network-level failure (timeout, connection reset,
// malformed response). The outcome of the remote call is unknown; callers
// may retry idempotent operations but must not assume failure for
// money-moving ones.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("paga %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure rather than a
// processor decline.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type OwnerProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phoneNumber"`
	Email     string `json:"email"`
}

type DedicatedAccount struct {
	AccountNumber    string `json:"accountNumber"`
	ReferenceNumber  string `json:"referenceNumber"`
	AccountReference string `json:"accountReference"`
	BankName         string `json:"bankName"`
	CallbackURL      string `json:"callbackUrl"`
}

type DestinationAccount struct {
	AccountName string `json:"destinationAccountHolderNameAtBank"`
	Fee         string `json:"fee"`
	Vat         string `json:"vat"`
}

type DisbursementResult struct {
	TransactionID string `json:"transactionId"`
	Fee           string `json:"fee"`
}

type AirtimeResult struct {
	TransactionID string `json:"transactionId"`
}

type ChargeResult struct {
	TransactionID string `json:"transactionId"`
}

type Bank struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	SortCode string `json:"sortCode"`
}

// Client wraps the Paga business HTTP API. It holds no mutable state and is
// safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	principal  string
	credential string
	hashKey    string
	maxRetries int
}

func NewClient() *Client {
	viper.SetDefault("paga.base_url", "https://www.mypaga.com/paga-webservices/business-rest/secured")
	viper.SetDefault("paga.timeout", 30*time.Second)
	viper.SetDefault("paga.max_retries", 3)

	return &Client{
		httpClient: &http.Client{Timeout: viper.GetDuration("paga.timeout")},
		baseURL:    viper.GetString("paga.base_url"),
		principal:  viper.GetString("paga.principal"),
		credential: viper.GetString("paga.credential"),
		hashKey:    viper.GetString("paga.hash_key"),
		maxRetries: viper.GetInt("paga.max_retries"),
	}
}

// GenerateDedicatedAccount provisions a persistent virtual account number
// mapped to one creator. Transfers into it arrive as funding webhooks
// carrying the returned reference number.
func (c *Client) GenerateDedicatedAccount(ctx context.Context, owner OwnerProfile, callbackURL string) (*DedicatedAccount, error) {
	req := map[string]any{
		"referenceNumber":      fmt.Sprintf("PA-%d", time.Now().UnixNano()),
		"accountName":          owner.FirstName + " " + owner.LastName,
		"firstName":            owner.FirstName,
		"lastName":             owner.LastName,
		"phoneNumber":          owner.Phone,
		"email":                owner.Email,
		"callbackUrl":          callbackURL,
		"fundingTransactionLimit": 0,
	}

	var resp struct {
		envelope
		AccountNumber    string `json:"accountNumber"`
		ReferenceNumber  string `json:"referenceNumber"`
		AccountReference string `json:"accountReference"`
	}
	if err := c.do(ctx, "registerPersistentPaymentAccount", req, &resp); err != nil {
		return nil, err
	}
	return &DedicatedAccount{
		AccountNumber:    resp.AccountNumber,
		ReferenceNumber:  resp.ReferenceNumber,
		AccountReference: resp.AccountReference,
		BankName:         "Paga",
		CallbackURL:      callbackURL,
	}, nil
}

// ValidateDestinationAccount confirms a withdrawal destination exists and
// quotes the transfer fee before any money moves.
func (c *Client) ValidateDestinationAccount(ctx context.Context, bankID, accountNumber string) (*DestinationAccount, error) {
	req := map[string]any{
		"referenceNumber":          fmt.Sprintf("VA-%d", time.Now().UnixNano()),
		"destinationBankUUID":      bankID,
		"destinationBankAccountNumber": accountNumber,
	}

	var resp struct {
		envelope
		DestinationAccount
	}
	if err := c.do(ctx, "validateDepositToBank", req, &resp); err != nil {
		return nil, err
	}
	return &resp.DestinationAccount, nil
}

// Disburse pushes money out of the platform wallet to an external bank
// account. Not retried on transport failure: the outcome is unknown and
// must be reconciled by a status check, never by a second disbursement.
func (c *Client) Disburse(ctx context.Context, reference string, amountKobo int64, currency, bankID, accountNumber, narration string) (*DisbursementResult, error) {
	req := map[string]any{
		"referenceNumber":              reference,
		"amount":                       KoboToNaira(amountKobo),
		"currency":                     currency,
		"destinationBankUUID":          bankID,
		"destinationBankAccountNumber": accountNumber,
		"remarks":                      narration,
	}

	var resp struct {
		envelope
		DisbursementResult
	}
	if err := c.doOnce(ctx, "depositToBank", req, &resp); err != nil {
		return nil, err
	}
	return &resp.DisbursementResult, nil
}

// PurchaseAirtime buys airtime for a phone number off the wallet balance.
// Same no-retry rule as Disburse.
func (c *Client) PurchaseAirtime(ctx context.Context, reference string, amountKobo int64, currency, phoneNumber string) (*AirtimeResult, error) {
	req := map[string]any{
		"referenceNumber":        reference,
		"amount":                 KoboToNaira(amountKobo),
		"currency":               currency,
		"destinationPhoneNumber": phoneNumber,
	}

	var resp struct {
		envelope
		AirtimeResult
	}
	if err := c.doOnce(ctx, "airtimePurchase", req, &resp); err != nil {
		return nil, err
	}
	return &resp.AirtimeResult, nil
}

// ChargeCard bills a stored payment instrument, used by the recurring
// payment scheduler.
func (c *Client) ChargeCard(ctx context.Context, reference, cardToken string, amountKobo int64, currency string) (*ChargeResult, error) {
	req := map[string]any{
		"referenceNumber": reference,
		"amount":          KoboToNaira(amountKobo),
		"currency":        currency,
		"cardToken":       cardToken,
	}

	var resp struct {
		envelope
		ChargeResult
	}
	if err := c.doOnce(ctx, "moneyTransfer", req, &resp); err != nil {
		return nil, err
	}
	return &resp.ChargeResult, nil
}

// GetCheckoutURL returns a processor-hosted payment page URL for an order
// or payment link total.
func (c *Client) GetCheckoutURL(ctx context.Context, reference string, amountKobo int64, currency, description string) (string, error) {
	req := map[string]any{
		"referenceNumber": reference,
		"amount":          KoboToNaira(amountKobo),
		"currency":        currency,
		"description":     description,
	}

	var resp struct {
		envelope
		PaymentURL string `json:"paymentUrl"`
	}
	if err := c.do(ctx, "getPaymentLink", req, &resp); err != nil {
		return "", err
	}
	return resp.PaymentURL, nil
}

// ListBanks fetches the processor's bank directory, used to refresh the
// local bank cache table.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	req := map[string]any{
		"referenceNumber": fmt.Sprintf("BK-%d", time.Now().UnixNano()),
	}

	var resp struct {
		envelope
		Banks []Bank `json:"banks"`
	}
	if err := c.do(ctx, "getBanks", req, &resp); err != nil {
		return nil, err
	}
	return resp.Banks, nil
}

type envelope struct {
	StatusCode string `json:"statusCode"`
	Message    string `json:"message"`
}

func (e envelope) status() (string, string) { return e.StatusCode, e.Message }

type statuser interface {
	status() (string, string)
}

// do performs a request with bounded exponential backoff on transport
// failures. Processor declines are returned immediately.
func (c *Client) do(ctx context.Context, op string, payload any, out statuser) error {
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[PAGA] retrying %s (attempt %d) after %v", op, attempt, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &TransportError{Op: op, Err: ctx.Err()}
			}
			backoff *= 2
		}
		err = c.doOnce(ctx, op, payload, out)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// doOnce performs exactly one request. Money-moving operations call this
// directly so a transport failure is surfaced as unknown-outcome instead of
// being retried into a double-spend.
func (c *Client) doOnce(ctx context.Context, op string, payload any, out statuser) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("paga %s: encode request: %w", op, err)
	}

	url := c.baseURL + "/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("paga %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("principal", c.principal)
	req.Header.Set("credentials", c.credential)
	req.Header.Set("hash", c.hash(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode >= 500 {
		return &TransportError{Op: op, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	if code, msg := out.status(); code != "0" {
		return &ProcessorError{Code: code, Message: msg}
	}
	return nil
}

func (c *Client) hash(body []byte) string {
	sum := sha512.Sum512(append(body, []byte(c.hashKey)...))
	return hex.EncodeToString(sum[:])
}

// KoboToNaira renders an int64 kobo amount as a 2-dp naira string, the
// format Paga expects on the wire.
func KoboToNaira(kobo int64) string {
	return decimal.New(kobo, -2).StringFixed(2)
}

// NairaToKobo parses a decimal naira amount (string form, as delivered on
// webhooks) into kobo, rounding to 2 dp first.
func NairaToKobo(naira string) (int64, error) {
	d, err := decimal.NewFromString(naira)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", naira, err)
	}
	return d.Round(2).Mul(decimal.New(1, 2)).IntPart(), nil
}
