package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/creditdesk/apiserver/internal/store"
	"github.com/creditdesk/apiserver/types"
)

const testJWTSecret = "handler-test-secret"

// memoryUserRepo is an in-memory UserRepository used by handler tests.
type memoryUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]types.User
}

func newMemoryUserRepo(users ...types.User) *memoryUserRepo {
	repo := &memoryUserRepo{nextID: 1, users: map[int]types.User{}}
	for _, u := range users {
		repo.users[u.ID] = u
		if u.ID >= repo.nextID {
			repo.nextID = u.ID + 1
		}
	}
	return repo
}

func (m *memoryUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryUserRepo) GetByUsername(_ context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryUserRepo) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	if u, err := m.GetByUsername(ctx, handle); err == nil {
		return u, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TelegramUsername == handle {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = m.nextID
	m.nextID++
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	user.Credits = 20
	user.DaysRemaining = 7
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdateLastLogin(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) SetActive(_ context.Context, id int, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.IsActive = active
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) MarkVerified(_ context.Context, id int) error {
	return m.SetActive(context.Background(), id, true)
}

func (m *memoryUserRepo) LinkTelegramChat(_ context.Context, telegramUsername string, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.TelegramUsername == telegramUsername {
			u.TelegramChatID = chatID
			m.users[id] = u
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memoryUserRepo) List(_ context.Context, role types.Role, offset, limit int) ([]types.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []types.User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			all = append(all, u)
		}
	}
	return all, len(all), nil
}

func (m *memoryUserRepo) Search(_ context.Context, prefix string, limit int) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []types.User
	for _, u := range m.users {
		if u.Role == types.RoleUser && len(u.Username) >= len(prefix) && u.Username[:len(prefix)] == prefix {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

// stubLedgerStore returns canned results and records grant parameters.
type stubLedgerStore struct {
	mu          sync.Mutex
	grantParams []store.GrantParams
	grantResult types.GrantResult
	grantErr    error

	roleChange    types.RoleChange
	roleChangeErr error

	sellerStats types.SellerStats
}

func (s *stubLedgerStore) Grant(_ context.Context, p store.GrantParams) (types.GrantResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantParams = append(s.grantParams, p)
	if s.grantErr != nil {
		return types.GrantResult{}, s.grantErr
	}
	return s.grantResult, nil
}

func (s *stubLedgerStore) ChangeRole(context.Context, int, int, types.Role) (types.RoleChange, error) {
	if s.roleChangeErr != nil {
		return types.RoleChange{}, s.roleChangeErr
	}
	return s.roleChange, nil
}

func (s *stubLedgerStore) ListBySource(context.Context, int, int, int) ([]types.Transaction, int, error) {
	return []types.Transaction{}, 0, nil
}

func (s *stubLedgerStore) SellerStats(context.Context, int) (types.SellerStats, error) {
	return s.sellerStats, nil
}

func (s *stubLedgerStore) ListSellerTransactions(context.Context, int, int) ([]types.SellerTransaction, int, error) {
	return []types.SellerTransaction{}, 0, nil
}

func (s *stubLedgerStore) StreamAll(context.Context, func(types.Transaction) error) error {
	return nil
}

func (s *stubLedgerStore) PlatformStats(context.Context) (types.PlatformStats, error) {
	return types.PlatformStats{}, nil
}
