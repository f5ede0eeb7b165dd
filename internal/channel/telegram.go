package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"arogyabot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram runs the bot over long polling. Photos and documents are
// forwarded with a direct file URL so the media pipeline can download
// them like any other attachment.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnReply("telegram", func(reply domain.Reply) {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(reply.To, "telegram:"), 10, 64)
		if err != nil {
			t.logger.Error("invalid telegram recipient", "to", reply.To, "error", err)
			return
		}
		t.sendMessage(chatID, reply.Text)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled,
// and StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	msg := domain.InboundMessage{
		Channel:   "telegram",
		SenderID:  "telegram:" + strconv.FormatInt(chatID, 10),
		Body:      strings.TrimSpace(update.Message.Text),
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	}

	switch {
	case len(update.Message.Photo) > 0:
		// Largest rendition is last.
		photo := update.Message.Photo[len(update.Message.Photo)-1]
		url, err := t.bot.GetFileDirectURL(photo.FileID)
		if err != nil {
			t.logger.Error("cannot resolve telegram photo", "error", err)
			return
		}
		msg.MediaURL = url
		msg.MediaContentType = "image/jpeg"
		msg.Body = strings.TrimSpace(update.Message.Caption)
	case update.Message.Document != nil:
		url, err := t.bot.GetFileDirectURL(update.Message.Document.FileID)
		if err != nil {
			t.logger.Error("cannot resolve telegram document", "error", err)
			return
		}
		msg.MediaURL = url
		msg.MediaContentType = update.Message.Document.MimeType
		msg.Body = strings.TrimSpace(update.Message.Caption)
	default:
		if msg.Body == "" {
			return
		}
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(msg.Body),
		"media", msg.MediaContentType,
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(msg)
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	identity := "telegram:" + strconv.FormatInt(chatID, 10)
	switch msg.Command() {
	case "start":
		// Route through the normal pipeline so a new user lands in
		// profile setup and a returning one gets the welcome back.
		t.bus.Publish(domain.InboundMessage{
			Channel:   "telegram",
			SenderID:  identity,
			Body:      "Hi",
			Timestamp: time.Now(),
		})
	case "help":
		t.sendMessage(chatID, "📖 Healthcare Bot Help\n\nSend me a health question in your language and I'll do my best to help.\n\nYou can also:\n• Send a photo of a skin condition or report\n• Upload a medical document (PDF, DOC, DOCX)\n\nCommands:\n/start - Begin or resume profile setup\n/help - Show this message\n\n⚠️ This is AI guidance only. Please consult a doctor for confirmation.")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit
// handling.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
