package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/creditdesk/apiserver/internal/metrics"
	"github.com/creditdesk/apiserver/internal/store"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyVerified is returned when the account does not need a code.
	ErrAlreadyVerified = errors.New("account already verified")

	// ErrCodeInvalid is returned for an unknown or mismatched code.
	ErrCodeInvalid = errors.New("invalid verification code")

	// ErrCodeExpired is returned when the code exists but has lapsed.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrThrottled is returned when codes are requested too frequently.
	ErrThrottled = errors.New("verification requested too frequently")

	// ErrNoTelegramLink is returned when the user has not yet messaged the
	// bot, so there is no chat to deliver the code to.
	ErrNoTelegramLink = errors.New("telegram chat not linked")
)

// VerificationStore persists one-time activation codes.
type VerificationStore interface {
	Replace(ctx context.Context, userID int, code string, expiresAt time.Time) error
	Get(ctx context.Context, userID int, code string) (time.Time, error)
	Delete(ctx context.Context, userID int) error
}

// CodeSender delivers a verification code to a linked chat.
type CodeSender interface {
	SendCode(chatID int64, code string, ttl time.Duration) error
}

// RequestThrottle limits how often a user may request a fresh code.
// Implementations report false when the request should be rejected.
type RequestThrottle interface {
	Allow(ctx context.Context, userID int) (bool, error)
}

// VerificationService owns the Telegram activation flow: codes are generated
// here, stored with a TTL, delivered through the bot, and checked on
// verification. Accounts stay inactive until a code is confirmed.
type VerificationService struct {
	users    UserRepository
	codes    VerificationStore
	sender   CodeSender
	throttle RequestThrottle // nil when Redis is not configured
	ttl      time.Duration
	log      zerolog.Logger
}

func NewVerificationService(
	users UserRepository,
	codes VerificationStore,
	sender CodeSender,
	throttle RequestThrottle,
	ttl time.Duration,
	log zerolog.Logger,
) *VerificationService {
	return &VerificationService{
		users:    users,
		codes:    codes,
		sender:   sender,
		throttle: throttle,
		ttl:      ttl,
		log:      log,
	}
}

// RequestCode generates a fresh 6-digit code for the account matching the
// handle and sends it to the linked Telegram chat. A new request replaces any
// previous code.
func (s *VerificationService) RequestCode(ctx context.Context, handle string) error {
	user, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if user.IsActive {
		return ErrAlreadyVerified
	}
	if user.TelegramChatID == 0 {
		return ErrNoTelegramLink
	}

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, user.ID)
		if err != nil {
			// Redis being down should not block activation.
			s.log.Warn().Err(err).Int("user_id", user.ID).Msg("verification throttle check failed")
		} else if !allowed {
			return ErrThrottled
		}
	}

	code, err := randomCode()
	if err != nil {
		return err
	}
	if err := s.codes.Replace(ctx, user.ID, code, time.Now().Add(s.ttl)); err != nil {
		return err
	}

	if err := s.sender.SendCode(user.TelegramChatID, code, s.ttl); err != nil {
		metrics.VerificationCodesSentTotal.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Int("user_id", user.ID).Msg("send verification code")
		return err
	}
	metrics.VerificationCodesSentTotal.WithLabelValues("sent").Inc()
	return nil
}

// VerifyCode checks the submitted code and activates the account. The code is
// single-use: it is deleted whether it was confirmed or found expired.
func (s *VerificationService) VerifyCode(ctx context.Context, handle, code string) error {
	user, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if user.IsActive {
		return ErrAlreadyVerified
	}

	expiresAt, err := s.codes.Get(ctx, user.ID, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCodeInvalid
		}
		return err
	}
	if time.Now().After(expiresAt) {
		_ = s.codes.Delete(ctx, user.ID)
		return ErrCodeExpired
	}

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return err
	}
	if err := s.codes.Delete(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Int("user_id", user.ID).Msg("delete used verification code")
	}
	return nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
