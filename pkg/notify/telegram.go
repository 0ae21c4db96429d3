package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
)

// maxMessageLength is the Bot API limit for one message
const maxMessageLength = 4096

// Telegram sends messages through a Telegram bot
type Telegram struct {
	cfg     *config.Config
	log     *logger.Logger
	bot     *tgbotapi.BotAPI
	chatID  int64
	channel string // @channel name, used instead of chatID when set
}

// NewTelegram validates the token and chat id. Reaching Telegram is not required to start.
func NewTelegram(cfg *config.Config, log *logger.Logger) (*Telegram, error) {
	t := &Telegram{cfg: cfg, log: log}

	chat := strings.TrimSpace(cfg.TelegramChatID)
	switch {
	case chat == "":
		return nil, errors.New("telegram_chat_id is required when telegram_token is set")
	case strings.HasPrefix(chat, "@"):
		t.channel = chat
	default:
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed telegram_chat_id %q: %w", chat, err)
		}
		t.chatID = id
	}

	if err := checkToken(cfg.TelegramToken); err != nil {
		return nil, err
	}

	endpoint := cfg.TelegramAPI
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	// getMe is best effort here, delivery errors surface on Send
	bot := &tgbotapi.BotAPI{
		Token:  cfg.TelegramToken,
		Client: &http.Client{Timeout: cfg.Timeout},
		Buffer: 100,
		Debug:  log.DebugEnabled(),
	}
	bot.SetAPIEndpoint(endpoint)
	t.bot = bot

	if self, err := bot.GetMe(); err != nil {
		log.Warnf("Telegram bot not reachable yet, messages are retried on every check: %v", err)
	} else {
		bot.Self = self
		log.Infof("Telegram notifications enabled as @%s", self.UserName)
	}
	return t, nil
}

// checkToken rejects tokens that are not in the "<bot id>:<secret>" form
func checkToken(token string) error {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || secret == "" {
		return errors.New("malformed telegram_token, want <bot id>:<secret>")
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return fmt.Errorf("malformed telegram_token bot id %q", id)
	}
	return nil
}

// Send delivers text as a Markdown message, falling back to plain text
// when Telegram rejects the markup
func (t *Telegram) Send(ctx context.Context, text string) error {
	text = truncate(text, maxMessageLength)

	err := sendContext(ctx, func() error {
		return t.send(text, tgbotapi.ModeMarkdown)
	})
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		t.log.Warnf("Telegram rejected the message markup, resending as plain text: %v", err)
		err = sendContext(ctx, func() error {
			return t.send(text, "")
		})
	}
	if err != nil {
		return fmt.Errorf("%w: telegram: %w", ErrDelivery, err)
	}

	t.log.Debugf("Telegram notification sent")
	return nil
}

func (t *Telegram) send(text, parseMode string) error {
	var msg tgbotapi.MessageConfig
	if t.channel != "" {
		msg = tgbotapi.NewMessageToChannel(t.channel, text)
	} else {
		msg = tgbotapi.NewMessage(t.chatID, text)
	}
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true

	_, err := t.bot.Send(msg)
	return err
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
