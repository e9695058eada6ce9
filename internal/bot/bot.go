// Package bot runs the Telegram side of account verification: it links chats
// to registered Telegram handles, delivers verification codes, and pushes
// balance-change notifications from the ledger event feed.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/creditdesk/apiserver/internal/mq"
	"github.com/creditdesk/apiserver/internal/services"
	"github.com/creditdesk/apiserver/types"
)

const pollTimeoutSeconds = 60

// UserDirectory is the subset of user persistence the bot needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	LinkTelegramChat(ctx context.Context, telegramUsername string, chatID int64) error
}

// Bot wraps the Telegram API client.
type Bot struct {
	api   *tgbotapi.BotAPI
	users UserDirectory
	log   zerolog.Logger
}

// New authenticates against the Telegram bot API.
func New(token string, users UserDirectory, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Bot{api: api, users: users, log: log}, nil
}

// Run long-polls Telegram updates until ctx is cancelled. A /start from a
// user whose handle is registered links their chat so codes can be delivered.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.reply(msg.Chat.ID, "I only respond to commands. Use /help to see what I can do.")
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.reply(msg.Chat.ID,
			"To activate your account:\n"+
				"1. Register on the site with this Telegram username (@"+msg.From.UserName+")\n"+
				"2. Send /start here so I can reach you\n"+
				"3. Request a verification code from the site; I will deliver it")
	default:
		b.reply(msg.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	handle := msg.From.UserName
	if handle == "" {
		b.reply(msg.Chat.ID, "Your Telegram account has no username set; add one and send /start again.")
		return
	}

	err := b.users.LinkTelegramChat(ctx, handle, msg.Chat.ID)
	if err != nil {
		// Unregistered handles are linked lazily: nothing to do until the
		// user registers on the site with this username.
		b.log.Debug().Err(err).Str("handle", handle).Msg("link telegram chat")
		b.reply(msg.Chat.ID,
			"Hi @"+handle+". Register on the site with this username, then request a verification code.")
		return
	}
	b.reply(msg.Chat.ID, "Chat linked. Request a verification code from the site and I will send it here.")
}

// SendCode delivers a verification code to a linked chat.
func (b *Bot) SendCode(chatID int64, code string, ttl time.Duration) error {
	text := fmt.Sprintf(
		"*Verification code*\n\nYour code is: *%s*\nValid for %d minutes.\n\nDo not share this code with anyone.",
		code, int(ttl.Minutes()),
	)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := b.api.Send(msg)
	return err
}

// HandleLedgerEvent is the broker subscriber: it notifies the affected user
// about committed grants and role changes when their chat is linked.
func (b *Bot) HandleLedgerEvent(ctx context.Context, msg mq.Message) error {
	var event services.LedgerEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.log.Warn().Err(err).Str("msg_id", msg.ID).Msg("bad ledger event payload")
		// Malformed payloads are dropped, not redelivered.
		return nil
	}

	user, err := b.users.GetByID(ctx, event.ToUserID)
	if err != nil {
		b.log.Warn().Err(err).Int("user_id", event.ToUserID).Msg("ledger event for unknown user")
		return nil
	}
	if user.TelegramChatID == 0 {
		return nil
	}

	var text string
	switch event.Type {
	case "grant":
		unit := "credits"
		if event.Kind == types.KindDays {
			unit = "days"
		}
		text = fmt.Sprintf("You received %d %s. New balance: %d.", event.Amount, unit, event.NewAmount)
	case "role_change":
		text = fmt.Sprintf("Your role changed from %s to %s.", event.OldRole, event.NewRole)
	default:
		return nil
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(user.TelegramChatID, text)); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", user.TelegramChatID).Msg("send notification")
	}
	return nil
}
