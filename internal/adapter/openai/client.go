// Package openai adapts the chat and transcribe use cases to the OpenAI API.
// The adapter only maps requests and wraps errors; retry and deadlines are
// the caller's concern.
package openai

import (
	"context"
	"errors"

	openaiapi "github.com/sashabaranov/go-openai"

	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/usecase/chat"
)

type Client struct {
	api *openaiapi.Client
}

func NewClient(token string) *Client {
	return &Client{
		api: openaiapi.NewClient(token),
	}
}

func (c *Client) Complete(ctx context.Context, req chat.CompletionRequest) (string, error) {
	apiReq := openaiapi.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxCompletionTokens,
		Stream:              false,
		Messages:            toAPIMessages(req),
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return "", &domain.ExternalServiceError{Service: "completion", Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", &domain.ExternalServiceError{
			Service: "completion",
			Err:     errors.New("empty response"),
		}
	}

	return resp.Choices[0].Message.Content, nil
}

// toAPIMessages prepends the dedicated system prompt, then passes the stored
// history through with its roles verbatim.
func toAPIMessages(req chat.CompletionRequest) []openaiapi.ChatCompletionMessage {
	res := make([]openaiapi.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		res = append(res, openaiapi.ChatCompletionMessage{
			Role:    openaiapi.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		res = append(res, openaiapi.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return res
}
