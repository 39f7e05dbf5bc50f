package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/usecase/chat"
)

const chunkSize = 2048

// Transport implements chat.Transport on the Bot API. Users are addressed
// by their id, which in a private chat doubles as the chat id.
type Transport struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

func NewTransport(api *tgbotapi.BotAPI, log zerolog.Logger) *Transport {
	return &Transport{
		api: api,
		log: log.With().Str("component", "telegram").Logger(),
	}
}

// Reply sends text to the user, chunked when it exceeds the message size
// limit. The returned ref identifies the first chunk.
func (t *Transport) Reply(_ context.Context, userID int64, text string) (chat.MessageRef, error) {
	var ref chat.MessageRef
	for idx, chunk := range splitText(text, chunkSize) {
		msg := tgbotapi.NewMessage(userID, chunk)
		sent, err := t.api.Send(msg)
		if err != nil {
			return ref, err
		}
		if idx == 0 {
			ref = chat.MessageRef{UserID: userID, MessageID: sent.MessageID}
		}
	}
	return ref, nil
}

func (t *Transport) Edit(_ context.Context, ref chat.MessageRef, text string) error {
	edit := tgbotapi.NewEditMessageText(ref.UserID, ref.MessageID, text)
	_, err := t.api.Request(edit)
	return err
}

func (t *Transport) Delete(_ context.Context, ref chat.MessageRef) error {
	del := tgbotapi.NewDeleteMessage(ref.UserID, ref.MessageID)
	_, err := t.api.Request(del)
	return err
}

func splitText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/chunkSize+1)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}
