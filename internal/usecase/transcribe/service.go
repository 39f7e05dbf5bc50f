package transcribe

import (
	"context"
	"errors"

	"assistant-telegram-bot/internal/config"
)

var ErrEmptyAudio = errors.New("empty audio")

type Client interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model    string
	FileName string
	Data     []byte
}

type Service struct {
	client Client
	cfg    config.Config
}

func NewService(client Client, cfg config.Config) *Service {
	return &Service{
		client: client,
		cfg:    cfg,
	}
}

func (s *Service) Transcribe(ctx context.Context, fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	return s.client.Transcribe(ctx, Request{
		Model:    s.cfg.TranscribeModel,
		FileName: fileName,
		Data:     data,
	})
}
