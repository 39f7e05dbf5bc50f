package openai

import (
	"bytes"
	"context"
	"strings"

	openaiapi "github.com/sashabaranov/go-openai"

	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/usecase/transcribe"
)

func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openaiapi.AudioRequest{
		Model:    req.Model,
		FilePath: req.FileName,
		Reader:   bytes.NewReader(req.Data),
	})
	if err != nil {
		return "", &domain.ExternalServiceError{Service: "transcription", Err: err}
	}

	return strings.TrimSpace(resp.Text), nil
}
