// Package telegram is the messaging transport: the long-polling updates
// loop, the command surface and the outbound send/edit/delete contract
// consumed by the chat pipeline.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/config"
	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/usecase/chat"
)

const greeting = "Hello! I'm your AI assistant. You can:\n" +
	"• Send me text messages\n" +
	"• Send me voice notes\n" +
	"I'll remember our conversation and respond accordingly!"

type Bot struct {
	api   *tgbotapi.BotAPI
	cfg   config.Config
	chat  *chat.Service
	store domain.ConversationStore
	log   zerolog.Logger
}

// NewAPI authenticates against the Bot API. Kept separate from NewBot so the
// transport can be constructed before the pipeline that depends on it.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

func NewBot(api *tgbotapi.BotAPI, cfg config.Config, chatSvc *chat.Service, store domain.ConversationStore, log zerolog.Logger) *Bot {
	return &Bot{
		api:   api,
		cfg:   cfg,
		chat:  chatSvc,
		store: store,
		log:   log.With().Str("component", "telegram").Logger(),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info().Str("bot", b.api.Self.UserName).Msg("polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if !isAllowedUser(userID, b.cfg) {
		b.sendText(userID, "access denied")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, userID, msg)
		return
	}

	input, err := buildInput(b.api, msg)
	if err != nil {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("could not build input")
		b.sendText(userID, "Sorry, there was an error processing your message: "+err.Error())
		return
	}
	if err := b.chat.HandleEvent(ctx, userID, input); err != nil {
		b.log.Error().Err(err).Int64("user_id", userID).Msg("message handling failed")
	}
}

func (b *Bot) handleCommand(ctx context.Context, userID int64, msg *tgbotapi.Message) {
	log := b.log.With().Int64("user_id", userID).Str("command", msg.Command()).Logger()

	switch msg.Command() {
	case "start":
		b.sendText(userID, greeting)

	case "test":
		b.sendText(userID, "Bot is working!")

	case "clear":
		if err := b.store.ClearHistory(ctx, userID); err != nil {
			log.Error().Err(err).Msg("clear history failed")
			b.sendText(userID, "Sorry, there was an error clearing your conversation history.")
			return
		}
		b.sendText(userID, "Conversation history cleared!")

	case "setprompt":
		prompt := strings.TrimSpace(msg.CommandArguments())
		if prompt == "" {
			b.sendText(userID, "Please provide a prompt after the command. For example:\n"+
				"/setprompt You are a helpful AI assistant who speaks in a friendly tone.")
			return
		}
		if err := b.store.SetSystemPrompt(ctx, userID, prompt); err != nil {
			log.Error().Err(err).Msg("set prompt failed")
			b.sendText(userID, "Sorry, there was an error setting your prompt.")
			return
		}
		b.sendText(userID, "System prompt set successfully!\n\nCurrent prompt:\n"+prompt)

	case "showprompt":
		prompt, ok, err := b.store.SystemPrompt(ctx, userID)
		if err != nil {
			log.Error().Err(err).Msg("show prompt failed")
			b.sendText(userID, "Sorry, there was an error retrieving your prompt.")
			return
		}
		if !ok {
			b.sendText(userID, "No system prompt set. Use /setprompt to set one.\n"+
				"Example: /setprompt You are a helpful AI assistant.")
			return
		}
		b.sendText(userID, "Current system prompt:\n\n"+prompt)

	default:
		// unknown commands are ignored, matching unsupported input
	}
}

// buildInput maps a Telegram message onto a pipeline event. Anything that is
// neither text nor a voice note yields a zero Input, which the pipeline
// treats as a no-op. A failed voice download is an error: the sender must be
// told their note went nowhere.
func buildInput(api *tgbotapi.BotAPI, msg *tgbotapi.Message) (chat.Input, error) {
	if msg.Voice != nil {
		data, err := downloadFile(api, msg.Voice.FileID)
		if err != nil {
			return chat.Input{}, fmt.Errorf("download voice note: %w", err)
		}
		return chat.Input{Voice: &chat.Voice{
			FileName: "voice_note.ogg",
			Data:     data,
		}}, nil
	}
	return chat.Input{Text: msg.Text}, nil
}

func (b *Bot) sendText(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to send reply")
	}
}

func isAllowedUser(userID int64, cfg config.Config) bool {
	for _, id := range cfg.AdminUserIDs {
		if id == userID {
			return true
		}
	}

	if len(cfg.AllowedUserIDs) == 0 {
		return true
	}

	for _, id := range cfg.AllowedUserIDs {
		if id == userID {
			return true
		}
	}

	return false
}
