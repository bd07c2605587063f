package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/data"
)

func Test_APIKeyAuthenticate_successfulAPIKey(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	apiKey, err := models.APIKeys.Insert(ctx, "ops key",
		[]data.APIKeyPermission{data.ReadPayments}, nil, nil, "ops@bodasure.africa")
	require.NoError(t, err)

	var gotAPIKey *data.APIKey
	var gotUserID any
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey, _ = r.Context().Value(APIKeyContextKey).(*data.APIKey)
		gotUserID = r.Context().Value(UserIDContextKey)
		w.WriteHeader(http.StatusOK)
	})

	handler := APIKeyAuthenticate(models.APIKeys)(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
	req.Header.Set("Authorization", apiKey.Key)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotAPIKey)
	assert.Equal(t, apiKey.ID, gotAPIKey.ID)
	assert.Equal(t, "ops@bodasure.africa", gotUserID)
}

func Test_APIKeyAuthenticate_bearerSchemeIsAccepted(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	apiKey, err := models.APIKeys.Insert(ctx, "ops key",
		[]data.APIKeyPermission{data.ReadAll}, nil, nil, "ops@bodasure.africa")
	require.NoError(t, err)

	handler := APIKeyAuthenticate(models.APIKeys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey.Key)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func Test_APIKeyAuthenticate_expiredKey(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	expiry := time.Now().Add(-time.Hour)
	apiKey, err := models.APIKeys.Insert(ctx, "expired key",
		[]data.APIKeyPermission{data.ReadPayments}, nil, &expiry, "ops@bodasure.africa")
	require.NoError(t, err)

	handler := APIKeyAuthenticate(models.APIKeys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Fail(t, "next handler should not be reached with an expired key")
	}))

	req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
	req.Header.Set("Authorization", apiKey.Key)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error": "Invalid API key"}`, rr.Body.String())
}

func Test_APIKeyAuthenticate_ipRestriction(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	apiKey, err := models.APIKeys.Insert(ctx, "restricted key",
		[]data.APIKeyPermission{data.ReadPayments}, []string{"10.0.0.0/8"}, nil, "ops@bodasure.africa")
	require.NoError(t, err)

	handler := APIKeyAuthenticate(models.APIKeys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("request from an allowed IP passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
		req.Header.Set("Authorization", apiKey.Key)
		req.Header.Set("X-Forwarded-For", "10.1.2.3")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("request from a disallowed IP is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
		req.Header.Set("Authorization", apiKey.Key)
		req.Header.Set("X-Forwarded-For", "192.168.50.50")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"error": "IP not allowed"}`, rr.Body.String())
	})
}

func Test_APIKeyAuthenticate_rejectsTokensWithoutKeyPrefix(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	handler := APIKeyAuthenticate(models.APIKeys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Fail(t, "next handler should not be reached without a valid key")
	}))

	testCases := []struct {
		name       string
		authHeader string
	}{
		{name: "no Authorization header", authHeader: ""},
		{name: "bearer JWT", authHeader: "Bearer eyJhbGciOiJIUzI1NiJ9.e30.abc"},
		{name: "random token", authHeader: "not-an-api-key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops/payments", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func Test_RequirePermission(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	requestWithAPIKey := func(perms ...data.APIKeyPermission) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/ops/payments/deposit", nil)
		apiKey := &data.APIKey{
			ID:          "00000000-0000-0000-0000-000000000001",
			Permissions: data.APIKeyPermissions(perms),
			CreatedBy:   "ops@bodasure.africa",
		}
		ctx := context.WithValue(req.Context(), APIKeyContextKey, apiKey)
		return req.WithContext(ctx)
	}

	t.Run("returns 401 when no API key is in the context", func(t *testing.T) {
		handler := RequirePermission(data.WritePayments)(nextHandler)

		req := httptest.NewRequest(http.MethodPost, "/ops/payments/deposit", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("returns 403 when the key lacks the permission", func(t *testing.T) {
		handler := RequirePermission(data.WritePayments)(nextHandler)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestWithAPIKey(data.ReadPayments))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"error": "Insufficient API key permissions"}`, rr.Body.String())
	})

	t.Run("passes with the exact permission", func(t *testing.T) {
		handler := RequirePermission(data.WritePayments)(nextHandler)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestWithAPIKey(data.WritePayments))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("write:all covers every write permission", func(t *testing.T) {
		handler := RequirePermission(data.WriteBatches)(nextHandler)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestWithAPIKey(data.WriteAll))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("read:all covers every read permission", func(t *testing.T) {
		handler := RequirePermission(data.ReadLedger)(nextHandler)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestWithAPIKey(data.ReadAll))

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
