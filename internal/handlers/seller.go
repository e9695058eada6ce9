package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/creditdesk/apiserver/internal/services"
	"github.com/creditdesk/apiserver/types"
)

const searchResultLimit = 20

// SellerHandler exposes the granting endpoints used by sellers.
type SellerHandler struct {
	ledgerService *services.LedgerService
	userService   *services.UserService
}

// NewSellerHandler constructs a SellerHandler with the provided dependencies.
func NewSellerHandler(ledgerService *services.LedgerService, userService *services.UserService) *SellerHandler {
	return &SellerHandler{ledgerService: ledgerService, userService: userService}
}

// SellerRouter registers seller routes. All routes require an authenticated
// seller or admin account.
func SellerRouter(r chi.Router, ledgerService *services.LedgerService, userService *services.UserService, jwtSecret string) {
	handler := NewSellerHandler(ledgerService, userService)

	r.Use(RequireAuth(jwtSecret))
	r.Use(requireRole(userService, types.RoleSeller, types.RoleAdmin))

	r.Post("/add-credits", handler.AddCredits)
	r.Post("/add-days", handler.AddDays)
	r.Get("/stats", handler.Stats)
	r.Get("/transactions", handler.Transactions)
	r.Get("/search-user", handler.SearchUser)
}

// GrantRequest identifies the target account and the amount to grant.
type GrantRequest struct {
	UserID int    `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// AddCredits transfers credits to a plain user account.
func (h *SellerHandler) AddCredits(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, types.KindCredits)
}

// AddDays extends a plain user's subscription window.
func (h *SellerHandler) AddDays(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, types.KindDays)
}

func (h *SellerHandler) grant(w http.ResponseWriter, r *http.Request, kind types.Kind) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := h.ledgerService.Grant(r.Context(), caller.ID, req.UserID, kind, req.Amount, strings.TrimSpace(req.Reason))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Stats returns the caller's cumulative granting figures.
func (h *SellerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.ledgerService.SellerStats(r.Context(), caller.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Transactions lists the caller's own grant history, newest first.
func (h *SellerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
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

	transactions, total, err := h.ledgerService.ListBySource(r.Context(), caller.ID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	writeJSON(w, http.StatusOK, TransactionListResponse{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

// SearchUser finds plain user accounts by username prefix.
func (h *SellerHandler) SearchUser(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	users, err := h.userService.Search(r.Context(), prefix, searchResultLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search users")
		return
	}

	writeJSON(w, http.StatusOK, UserSearchResponse{Users: users})
}

type TransactionListResponse struct {
	Transactions []types.Transaction `json:"transactions"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
}

type UserSearchResponse struct {
	Users []types.User `json:"users"`
}
