package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *APIClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid management token"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewAPIClient(srv.URL+"/", "tok")
}

func TestAPIClient_ListAndGetUsers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /manage/users", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []apikey.Profile{{ID: "u1", Email: "a@example.com"}}})
	})
	mux.HandleFunc("GET /manage/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(apikey.Profile{ID: r.PathValue("id"), RateLimit: 5})
	})
	c := newTestClient(t, mux)

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a@example.com", users[0].Email)

	p, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, 5, p.RateLimit)
}

func TestAPIClient_RegisterSetRateLimitDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /manage/users", func(w http.ResponseWriter, r *http.Request) {
		var reg account.Registration
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(apikey.Profile{ID: "new", Email: reg.Email})
	})
	mux.HandleFunc("PUT /manage/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(apikey.Profile{ID: r.PathValue("id"), RateLimit: body["rateLimit"]})
	})
	mux.HandleFunc("DELETE /manage/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	p, err := c.RegisterUser(ctx, account.Registration{Email: "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", p.Email)

	p, err = c.SetRateLimit(ctx, "u1", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, p.RateLimit)

	require.NoError(t, c.DeleteUser(ctx, "u1"))
}

func TestAPIClient_ErrorResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /manage/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"user not found"}`))
	})
	c := newTestClient(t, mux)

	err := c.DeleteUser(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "user not found", apiErr.Message)

	bad := NewAPIClient(c.baseURL, "wrong")
	_, err = bad.ListUsers(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
