package handlers

import (
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

func newAdminRouter(repo *memoryUserRepo, ledger *stubLedgerStore) *chi.Mux {
	userService := services.NewUserService(repo)
	ledgerService := services.NewLedgerService(ledger, nil, zerolog.Nop())
	exportService := services.NewExportService(ledger, nil)
	router := chi.NewRouter()
	router.Route("/admin", func(r chi.Router) {
		AdminRouter(r, ledgerService, userService, exportService, testJWTSecret)
	})
	return router
}

func TestChangeRoleAsAdmin(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
		types.User{ID: 2, Username: "bob", Role: types.RoleUser, IsActive: true},
	)
	ledger := &stubLedgerStore{
		roleChange: types.RoleChange{
			TargetID: 2, TargetUsername: "bob",
			OldRole: types.RoleUser, NewRole: types.RoleSeller,
		},
	}
	router := newAdminRouter(repo, ledger)

	body, _ := json.Marshal(ChangeRoleRequest{Role: types.RoleSeller})
	req := authedRequest(t, http.MethodPut, "/admin/users/2/role", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var change types.RoleChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &change))
	assert.Equal(t, types.RoleSeller, change.NewRole)
}

func TestChangeRoleForbiddenForSeller(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	body, _ := json.Marshal(ChangeRoleRequest{Role: types.RoleSeller})
	req := authedRequest(t, http.MethodPut, "/admin/users/2/role", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChangeRoleInvalidRole(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	body, _ := json.Marshal(map[string]string{"role": "superuser"})
	req := authedRequest(t, http.MethodPut, "/admin/users/2/role", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeRoleUnknownTarget(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{roleChangeErr: store.ErrNotFound})

	body, _ := json.Marshal(ChangeRoleRequest{Role: types.RoleSeller})
	req := authedRequest(t, http.MethodPut, "/admin/users/99/role", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangeStatus(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
		types.User{ID: 2, Username: "bob", Role: types.RoleUser, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	body, _ := json.Marshal(ChangeStatusRequest{IsActive: false})
	req := authedRequest(t, http.MethodPut, "/admin/users/2/status", 1, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user types.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.False(t, user.IsActive)
}

func TestListUsersSellerSeesOnlyPlainUsers(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "seller1", Role: types.RoleSeller, IsActive: true},
		types.User{ID: 2, Username: "bob", Role: types.RoleUser, IsActive: true},
		types.User{ID: 3, Username: "boss", Role: types.RoleAdmin, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	// Sellers get plain users regardless of the filter they ask for.
	req := authedRequest(t, http.MethodGet, "/admin/users?role=admin", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "bob", resp.Users[0].Username)
}

func TestListUsersAdminCanFilter(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
		types.User{ID: 2, Username: "seller1", Role: types.RoleSeller, IsActive: true},
		types.User{ID: 3, Username: "bob", Role: types.RoleUser, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	req := authedRequest(t, http.MethodGet, "/admin/users?role=seller", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "seller1", resp.Users[0].Username)
}

func TestExportTransactionsWithoutStorage(t *testing.T) {
	repo := newMemoryUserRepo(
		types.User{ID: 1, Username: "boss", Role: types.RoleAdmin, IsActive: true},
	)
	router := newAdminRouter(repo, &stubLedgerStore{})

	req := authedRequest(t, http.MethodPost, "/admin/exports/transactions", 1, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
