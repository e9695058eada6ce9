package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/apiserver/internal/services"
	"github.com/creditdesk/apiserver/internal/store"
	"github.com/creditdesk/apiserver/types"
)

func newSellerRouter(repo *memoryUserRepo, ledger *stubLedgerStore) *chi.Mux {
	userService := services.NewUserService(repo)
	ledgerService := services.NewLedgerService(ledger, nil, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/seller", func(r chi.Router) {
		SellerRouter(r, ledgerService, userService, testJWTSecret)
	})
	return router
}

func authedRequest(t *testing.T, method, path string, userID int, body []byte) *http.Request {
	t.Helper()
	token, err := issueToken(userID, []byte(testJWTSecret), defaultTokenTTL)
	require.NoError(t, err)

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAddCreditsAsSeller(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
		types.User{ID: 2, Username: "buyer", Role: types.RoleUser, IsActive: true},
	)
	ledger := &stubLedgerStore{
		grantResult: types.GrantResult{
			TargetID: 2, TargetUsername: "buyer",
			Kind: types.KindCredits, Amount: 10, PreviousAmount: 20, NewAmount: 30,
		},
	}
	router := newSellerRouter(repo, ledger)

	body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 10, Reason: "sale"})
	req := authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result types.GrantResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 30, result.NewAmount)

	require.Len(t, ledger.grantParams, 1)
	assert.Equal(t, 1, ledger.grantParams[0].CallerID)
	assert.Equal(t, 2, ledger.grantParams[0].TargetID)
	assert.Equal(t, types.KindCredits, ledger.grantParams[0].Kind)
}

func TestAddDaysUsesDaysKind(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
	)
	ledger := &stubLedgerStore{grantResult: types.GrantResult{TargetID: 2, NewAmount: 12}}
	router := newSellerRouter(repo, ledger)

	body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 5})
	req := authedRequest(t, http.MethodPost, "/seller/add-days", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, ledger.grantParams, 1)
	assert.Equal(t, types.KindDays, ledger.grantParams[0].Kind)
}

func TestGrantForbiddenForPlainUser(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "justauser", Role: types.RoleUser, IsActive: true},
	)
	ledger := &stubLedgerStore{}
	router := newSellerRouter(repo, ledger)

	body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 10})
	req := authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ledger.grantParams)
}

func TestGrantRejectedForInactiveSeller(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: false},
	)
	router := newSellerRouter(repo, &stubLedgerStore{})

	body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 10})
	req := authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGrantErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		storeErr   error
		wantStatus int
	}{
		{"invalid target", store.ErrInvalidTarget, http.StatusBadRequest},
		{"invalid kind", store.ErrInvalidKind, http.StatusBadRequest},
		{"not authorized", store.ErrNotAuthorized, http.StatusForbidden},
		{"not found", store.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryUserRepo(
				types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
			)
			router := newSellerRouter(repo, &stubLedgerStore{grantErr: tc.storeErr})

			body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 10})
			req := authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestGrantValidationErrors(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
	)
	ledger := &stubLedgerStore{}
	router := newSellerRouter(repo, ledger)

	// Zero amount is rejected before the store is reached.
	body, _ := json.Marshal(GrantRequest{UserID: 2, Amount: 0})
	req := authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Granting to yourself is rejected.
	body, _ = json.Marshal(GrantRequest{UserID: 1, Amount: 10})
	req = authedRequest(t, http.MethodPost, "/seller/add-credits", 1, body)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, ledger.grantParams)
}

func TestSellerStats(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
	)
	ledger := &stubLedgerStore{
		sellerStats: types.SellerStats{
			TotalUsersCredited: 3,
			TotalCreditsGiven:  120,
			TotalDaysGiven:     45,
			TotalTransactions:  9,
		},
	}
	router := newSellerRouter(repo, ledger)

	req := authedRequest(t, http.MethodGet, "/seller/stats", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats types.SellerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalUsersCredited)
	assert.Equal(t, 120, stats.TotalCreditsGiven)
}

func TestSearchUserRequiresQuery(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
	)
	router := newSellerRouter(repo, &stubLedgerStore{})

	req := authedRequest(t, http.MethodGet, "/seller/search-user", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUserReturnsPlainUsers(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
		types.User{ID: 2, Username: "bob", Role: types.RoleUser, IsActive: true},
		types.User{ID: 3, Username: "bobby", Role: types.RoleUser, IsActive: true},
	)
	router := newSellerRouter(repo, &stubLedgerStore{})

	req := authedRequest(t, http.MethodGet, "/seller/search-user?q=bob", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserSearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Users, 2)
}
