package services

import (
	"context"

	"github.com/creditdesk/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByHandle(ctx context.Context, handle string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateLastLogin(ctx context.Context, id int) error
	SetActive(ctx context.Context, id int, active bool) error
	MarkVerified(ctx context.Context, id int) error
	LinkTelegramChat(ctx context.Context, telegramUsername string, chatID int64) error
	List(ctx context.Context, role types.Role, offset, limit int) ([]types.User, int, error)
	Search(ctx context.Context, prefix string, limit int) ([]types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	return s.repo.GetByHandle(ctx, handle)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

func (s *UserService) UpdateLastLogin(ctx context.Context, id int) error {
	return s.repo.UpdateLastLogin(ctx, id)
}

func (s *UserService) SetActive(ctx context.Context, id int, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

func (s *UserService) List(ctx context.Context, role types.Role, offset, limit int) ([]types.User, int, error) {
	return s.repo.List(ctx, role, offset, limit)
}

func (s *UserService) Search(ctx context.Context, prefix string, limit int) ([]types.User, error) {
	return s.repo.Search(ctx, prefix, limit)
}
