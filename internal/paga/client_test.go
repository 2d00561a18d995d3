package paga

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testClient(server *httptest.Server, maxRetries int) *Client {
	return &Client{
		httpClient: server.Client(),
		baseURL:    server.URL,
		principal:  "test-principal",
		credential: "test-credential",
		hashKey:    "test-hash-key",
		maxRetries: maxRetries,
	}
}

func TestDisburse(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			assert.Equal(t, "/depositToBank", r.URL.Path)
			assert.Equal(t, "test-principal", r.Header.Get("principal"))
			assert.NotEmpty(t, r.Header.Get("hash"))
			w.Write([]byte(`{"statusCode":"0","message":"ok","transactionId":"PGA-001","fee":"53.75"}`))
		}))
		defer server.Close()

		c := testClient(server, 3)
		result, err := c.Disburse(context.Background(), "WD-1", 100000, "NGN", "bank-uuid-1", "0123456789", "rent")
		assert.NoError(t, err)
		assert.Equal(t, "PGA-001", result.TransactionID)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("ProcessorDecline", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"statusCode":"14","message":"Invalid destination account"}`))
		}))
		defer server.Close()

		c := testClient(server, 3)
		result, err := c.Disburse(context.Background(), "WD-1", 100000, "NGN", "bank-uuid-1", "0123456789", "")
		assert.Nil(t, result)

		var pe *ProcessorError
		assert.ErrorAs(t, err, &pe)
		assert.Equal(t, "14", pe.Code)
		assert.False(t, IsRetryable(err))
	})

	t.Run("TransportFailureNotRetried", func(t *testing.T) {
		// Money movers hit the wire exactly once: a 500 means the outcome is
		// unknown, and a retry could double-spend.
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := testClient(server, 3)
		result, err := c.Disburse(context.Background(), "WD-1", 100000, "NGN", "bank-uuid-1", "0123456789", "")
		assert.Nil(t, result)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})
}

func TestGetCheckoutURLRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"statusCode":"0","message":"ok","paymentUrl":"https://pay.example.com/chk-1"}`))
	}))
	defer server.Close()

	c := testClient(server, 2)
	url, err := c.GetCheckoutURL(context.Background(), "ORD-1", 250000, "NGN", "Order ORD-1")
	assert.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/chk-1", url)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGetCheckoutURLGivesUpAfterRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := testClient(server, 1)
	_, err := c.GetCheckoutURL(context.Background(), "ORD-1", 250000, "NGN", "Order ORD-1")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestValidateDestinationAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":"0","message":"ok","destinationAccountHolderNameAtBank":"JANE DOE","fee":"53.75","vat":"4.03"}`))
	}))
	defer server.Close()

	c := testClient(server, 0)
	dest, err := c.ValidateDestinationAccount(context.Background(), "bank-uuid-1", "0123456789")
	assert.NoError(t, err)
	assert.Equal(t, "JANE DOE", dest.AccountName)
	assert.Equal(t, "53.75", dest.Fee)
}

func TestContextCancellationDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := testClient(server, 5)
	_, err := c.ListBanks(ctx)
	assert.True(t, IsRetryable(err))
}

func TestKoboToNaira(t *testing.T) {
	assert.Equal(t, "2500.00", KoboToNaira(250000))
	assert.Equal(t, "0.01", KoboToNaira(1))
	assert.Equal(t, "0.00", KoboToNaira(0))
	assert.Equal(t, "1050.50", KoboToNaira(105050))
}

func TestNairaToKobo(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"2500.00", 250000},
		{"2500", 250000},
		{"0.01", 1},
		{"1050.505", 105051},
	}
	for _, tc := range cases {
		got, err := NairaToKobo(tc.in)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NairaToKobo("not-a-number")
	assert.Error(t, err)
}
