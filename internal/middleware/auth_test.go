package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	var gotUserID, gotStoreID string
	handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = r.Context().Value("userID").(string)
		gotStoreID, _ = r.Context().Value("storeID").(string)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("ValidToken", func(t *testing.T) {
		gotUserID, gotStoreID = "", ""
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id":  "user-1",
			"store_id": "store-1",
			"exp":      time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-1", gotUserID)
		assert.Equal(t, "store-1", gotStoreID)
	})

	t.Run("StoreClaimOptional", func(t *testing.T) {
		gotUserID, gotStoreID = "", ""
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": "user-1",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-1", gotUserID)
		assert.Equal(t, "", gotStoreID)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/wallet", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/wallet", nil)
		req.Header.Set("Authorization", "Token abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("WrongSignature", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{
			"user_id": "user-1",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": "user-1",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
