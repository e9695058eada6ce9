package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/apiserver/internal/store"
	"github.com/creditdesk/apiserver/types"
)

type fakeUserRepo struct {
	users    map[string]types.User
	verified []int
}

func newFakeUserRepo(users ...types.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[string]types.User{}}
	for _, u := range users {
		repo.users[u.Username] = u
	}
	return repo
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) GetByHandle(_ context.Context, handle string) (types.User, error) {
	if u, ok := f.users[handle]; ok {
		return u, nil
	}
	for _, u := range f.users {
		if u.TelegramUsername == handle {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	f.users[user.Username] = user
	return user, nil
}

func (f *fakeUserRepo) UpdateLastLogin(context.Context, int) error { return nil }

func (f *fakeUserRepo) SetActive(context.Context, int, bool) error { return nil }

func (f *fakeUserRepo) MarkVerified(_ context.Context, id int) error {
	f.verified = append(f.verified, id)
	return nil
}

func (f *fakeUserRepo) LinkTelegramChat(context.Context, string, int64) error { return nil }

func (f *fakeUserRepo) List(context.Context, types.Role, int, int) ([]types.User, int, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) Search(context.Context, string, int) ([]types.User, error) {
	return nil, nil
}

type fakeCodeStore struct {
	userID    int
	code      string
	expiresAt time.Time
	deleted   bool
}

func (f *fakeCodeStore) Replace(_ context.Context, userID int, code string, expiresAt time.Time) error {
	f.userID = userID
	f.code = code
	f.expiresAt = expiresAt
	f.deleted = false
	return nil
}

func (f *fakeCodeStore) Get(_ context.Context, userID int, code string) (time.Time, error) {
	if f.deleted || userID != f.userID || code != f.code {
		return time.Time{}, store.ErrNotFound
	}
	return f.expiresAt, nil
}

func (f *fakeCodeStore) Delete(_ context.Context, userID int) error {
	f.deleted = true
	return nil
}

type fakeSender struct {
	chatID int64
	code   string
	err    error
}

func (f *fakeSender) SendCode(chatID int64, code string, _ time.Duration) error {
	f.chatID = chatID
	f.code = code
	return f.err
}

type fakeThrottle struct {
	allowed bool
	err     error
}

func (f *fakeThrottle) Allow(context.Context, int) (bool, error) {
	return f.allowed, f.err
}

func newVerificationFixture(user types.User, throttle RequestThrottle) (*VerificationService, *fakeUserRepo, *fakeCodeStore, *fakeSender) {
	users := newFakeUserRepo(user)
	codes := &fakeCodeStore{}
	sender := &fakeSender{}
	svc := NewVerificationService(users, codes, sender, throttle, 10*time.Minute, zerolog.Nop())
	return svc, users, codes, sender
}

func TestRequestCodeSendsSixDigitCode(t *testing.T) {
	svc, _, codes, sender := newVerificationFixture(types.User{
		ID: 1, Username: "alice", TelegramChatID: 42,
	}, nil)

	require.NoError(t, svc.RequestCode(context.Background(), "alice"))

	assert.Equal(t, int64(42), sender.chatID)
	require.Len(t, sender.code, 6)
	assert.Equal(t, sender.code, codes.code)
	assert.Equal(t, 1, codes.userID)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), codes.expiresAt, 5*time.Second)
}

func TestRequestCodeAlreadyVerified(t *testing.T) {
	svc, _, _, _ := newVerificationFixture(types.User{
		ID: 1, Username: "alice", TelegramChatID: 42, IsActive: true,
	}, nil)

	err := svc.RequestCode(context.Background(), "alice")
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestRequestCodeWithoutLinkedChat(t *testing.T) {
	svc, _, _, _ := newVerificationFixture(types.User{
		ID: 1, Username: "alice",
	}, nil)

	err := svc.RequestCode(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNoTelegramLink)
}

func TestRequestCodeThrottled(t *testing.T) {
	svc, _, _, sender := newVerificationFixture(types.User{
		ID: 1, Username: "alice", TelegramChatID: 42,
	}, &fakeThrottle{allowed: false})

	err := svc.RequestCode(context.Background(), "alice")
	require.ErrorIs(t, err, ErrThrottled)
	assert.Empty(t, sender.code)
}

func TestRequestCodeUnknownHandle(t *testing.T) {
	svc, _, _, _ := newVerificationFixture(types.User{ID: 1, Username: "alice"}, nil)

	err := svc.RequestCode(context.Background(), "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerifyCodeActivatesAccount(t *testing.T) {
	svc, users, codes, sender := newVerificationFixture(types.User{
		ID: 1, Username: "alice", TelegramChatID: 42,
	}, nil)

	require.NoError(t, svc.RequestCode(context.Background(), "alice"))
	require.NoError(t, svc.VerifyCode(context.Background(), "alice", sender.code))

	assert.Equal(t, []int{1}, users.verified)
	assert.True(t, codes.deleted, "code must be single-use")
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	svc, users, _, sender := newVerificationFixture(types.User{
		ID: 1, Username: "alice", TelegramChatID: 42,
	}, nil)

	require.NoError(t, svc.RequestCode(context.Background(), "alice"))

	wrong := "000000"
	if wrong == sender.code {
		wrong = "000001"
	}
	err := svc.VerifyCode(context.Background(), "alice", wrong)
	require.ErrorIs(t, err, ErrCodeInvalid)
	assert.Empty(t, users.verified)
}

func TestVerifyCodeExpired(t *testing.T) {
	users := newFakeUserRepo(types.User{ID: 1, Username: "alice", TelegramChatID: 42})
	codes := &fakeCodeStore{}
	sender := &fakeSender{}
	svc := NewVerificationService(users, codes, sender, nil, -time.Minute, zerolog.Nop())

	require.NoError(t, svc.RequestCode(context.Background(), "alice"))

	err := svc.VerifyCode(context.Background(), "alice", sender.code)
	require.ErrorIs(t, err, ErrCodeExpired)
	assert.True(t, codes.deleted, "expired code must be discarded")
	assert.Empty(t, users.verified)
}
