package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creditdesk/apiserver/internal/services"
	"github.com/creditdesk/apiserver/types"
)

// AdminHandler exposes platform administration endpoints.
type AdminHandler struct {
	ledgerService *services.LedgerService
	userService   *services.UserService
	exportService *services.ExportService
}

// NewAdminHandler constructs an AdminHandler with the provided dependencies.
func NewAdminHandler(ledgerService *services.LedgerService, userService *services.UserService, exportService *services.ExportService) *AdminHandler {
	return &AdminHandler{
		ledgerService: ledgerService,
		userService:   userService,
		exportService: exportService,
	}
}

// AdminRouter registers administration routes. User listing is available to
// sellers as well, restricted to plain user accounts; everything else is
// admin only.
func AdminRouter(r chi.Router, ledgerService *services.LedgerService, userService *services.UserService, exportService *services.ExportService, jwtSecret string) {
	handler := NewAdminHandler(ledgerService, userService, exportService)

	r.Use(RequireAuth(jwtSecret))

	r.With(requireRole(userService, types.RoleSeller, types.RoleAdmin)).
		Get("/users", handler.ListUsers)

	r.Group(func(r chi.Router) {
		r.Use(requireRole(userService, types.RoleAdmin))
		r.Put("/users/{id}/role", handler.ChangeRole)
		r.Put("/users/{id}/status", handler.ChangeStatus)
		r.Get("/transactions/sellers", handler.SellerTransactions)
		r.Get("/stats", handler.PlatformStats)
		r.Post("/exports/transactions", handler.ExportTransactions)
	})
}

// ChangeRoleRequest carries the new role for the target account.
type ChangeRoleRequest struct {
	Role types.Role `json:"role"`
}

// ChangeRole sets a user's role and records the change in the ledger.
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	targetID, err := parseUserIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	change, err := h.ledgerService.ChangeRole(r.Context(), caller.ID, targetID, req.Role)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, change)
}

// ChangeStatusRequest toggles whether the target account may log in.
type ChangeStatusRequest struct {
	IsActive bool `json:"is_active"`
}

// ChangeStatus activates or deactivates a user account.
func (h *AdminHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseUserIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.userService.SetActive(r.Context(), targetID, req.IsActive); err != nil {
		writeLedgerError(w, err)
		return
	}

	user, err := h.userService.GetByID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ListUsers returns accounts with pagination. Admins may filter by role;
// sellers always see plain user accounts only.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := types.Role(r.URL.Query().Get("role"))
	if caller.Role != types.RoleAdmin {
		role = types.RoleUser
	} else if role != "" && !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid role filter")
		return
	}

	users, total, err := h.userService.List(r.Context(), role, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Users: users,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// SellerTransactions lists grants made by sellers across the platform.
func (h *AdminHandler) SellerTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, total, err := h.ledgerService.ListSellerTransactions(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	writeJSON(w, http.StatusOK, SellerTransactionListResponse{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

// PlatformStats returns platform-wide account and ledger totals.
func (h *AdminHandler) PlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledgerService.PlatformStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ExportTransactions writes the full ledger to object storage as CSV.
func (h *AdminHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	result, err := h.exportService.ExportTransactions(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrExportsDisabled) {
			writeError(w, http.StatusServiceUnavailable, "exports are not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to export transactions")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type UserListResponse struct {
	Users []types.User `json:"users"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

type SellerTransactionListResponse struct {
	Transactions []types.SellerTransaction `json:"transactions"`
	Total        int                       `json:"total"`
	Page         int                       `json:"page"`
	Limit        int                       `json:"limit"`
}
