package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/creditdesk/apiserver/internal/metrics"
	"github.com/creditdesk/apiserver/internal/store"
	"github.com/creditdesk/apiserver/types"
	"github.com/rs/zerolog"
)

// EventChannel is the broker channel committed ledger mutations are
// announced on.
const EventChannel = "ledger.events"

// LedgerStore defines the transactional operations of the balance ledger.
type LedgerStore interface {
	Grant(ctx context.Context, p store.GrantParams) (types.GrantResult, error)
	ChangeRole(ctx context.Context, callerID, targetID int, newRole types.Role) (types.RoleChange, error)
	ListBySource(ctx context.Context, fromUserID, offset, limit int) ([]types.Transaction, int, error)
	SellerStats(ctx context.Context, sellerID int) (types.SellerStats, error)
	ListSellerTransactions(ctx context.Context, offset, limit int) ([]types.SellerTransaction, int, error)
	StreamAll(ctx context.Context, fn func(types.Transaction) error) error
	PlatformStats(ctx context.Context) (types.PlatformStats, error)
}

// EventPublisher sends a message to the named broker channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// LedgerEvent is the payload published after a committed mutation.
type LedgerEvent struct {
	Type       string     `json:"type"` // "grant" or "role_change"
	FromUserID int        `json:"from_user_id"`
	ToUserID   int        `json:"to_user_id"`
	Kind       types.Kind `json:"kind"`
	Amount     int        `json:"amount,omitempty"`
	NewAmount  int        `json:"new_amount,omitempty"`
	OldRole    types.Role `json:"old_role,omitempty"`
	NewRole    types.Role `json:"new_role,omitempty"`
	Username   string     `json:"username"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// LedgerService fronts the transfer and role coordinators. Input-shape checks
// happen here; authority and eligibility are re-checked inside the store's
// transaction, which is the authoritative check.
type LedgerService struct {
	store  LedgerStore
	events EventPublisher // nil when no broker is configured
	log    zerolog.Logger
}

func NewLedgerService(ledgerStore LedgerStore, events EventPublisher, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:  ledgerStore,
		events: events,
		log:    log,
	}
}

// Grant adds credits or days to a plain user's balance and appends the audit
// entry, all inside one transaction. The returned result carries the locked
// previous/new pair.
func (s *LedgerService) Grant(ctx context.Context, callerID, targetID int, kind types.Kind, amount int, reason string) (types.GrantResult, error) {
	if !kind.Balance() {
		return types.GrantResult{}, store.ErrInvalidKind
	}
	if amount <= 0 {
		metrics.GrantErrorsTotal.WithLabelValues("invalid_amount").Inc()
		return types.GrantResult{}, store.ErrInvalidAmount
	}
	if callerID == targetID {
		metrics.GrantErrorsTotal.WithLabelValues("self_grant").Inc()
		return types.GrantResult{}, store.ErrSelfGrant
	}

	result, err := s.store.Grant(ctx, store.GrantParams{
		CallerID: callerID,
		TargetID: targetID,
		Kind:     kind,
		Amount:   amount,
		Reason:   reason,
	})
	if err != nil {
		metrics.GrantErrorsTotal.WithLabelValues(grantErrorReason(err)).Inc()
		return types.GrantResult{}, err
	}

	metrics.GrantsTotal.WithLabelValues(string(kind)).Inc()
	s.publish(ctx, LedgerEvent{
		Type:       "grant",
		FromUserID: callerID,
		ToUserID:   targetID,
		Kind:       kind,
		Amount:     amount,
		NewAmount:  result.NewAmount,
		Username:   result.TargetUsername,
		OccurredAt: time.Now().UTC(),
	})
	return result, nil
}

// ChangeRole moves the target account to newRole, recording the transition.
func (s *LedgerService) ChangeRole(ctx context.Context, callerID, targetID int, newRole types.Role) (types.RoleChange, error) {
	if !newRole.Valid() {
		return types.RoleChange{}, store.ErrInvalidRole
	}

	result, err := s.store.ChangeRole(ctx, callerID, targetID, newRole)
	if err != nil {
		return types.RoleChange{}, err
	}

	s.publish(ctx, LedgerEvent{
		Type:       "role_change",
		FromUserID: callerID,
		ToUserID:   targetID,
		Kind:       types.KindRoleChange,
		OldRole:    result.OldRole,
		NewRole:    result.NewRole,
		Username:   result.TargetUsername,
		OccurredAt: time.Now().UTC(),
	})
	return result, nil
}

// publish announces a committed mutation. Best-effort: the mutation has
// already committed, so a broker failure is logged and swallowed.
func (s *LedgerService) publish(ctx context.Context, event LedgerEvent) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal ledger event")
		return
	}
	if _, err := s.events.Publish(ctx, EventChannel, data, map[string]string{"type": event.Type}); err != nil {
		s.log.Warn().Err(err).Str("type", event.Type).Msg("publish ledger event")
	}
}

func (s *LedgerService) ListBySource(ctx context.Context, fromUserID, offset, limit int) ([]types.Transaction, int, error) {
	return s.store.ListBySource(ctx, fromUserID, offset, limit)
}

func (s *LedgerService) SellerStats(ctx context.Context, sellerID int) (types.SellerStats, error) {
	return s.store.SellerStats(ctx, sellerID)
}

func (s *LedgerService) ListSellerTransactions(ctx context.Context, offset, limit int) ([]types.SellerTransaction, int, error) {
	return s.store.ListSellerTransactions(ctx, offset, limit)
}

func (s *LedgerService) PlatformStats(ctx context.Context) (types.PlatformStats, error) {
	return s.store.PlatformStats(ctx)
}

func grantErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, store.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, store.ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
