// Package chat drives one incoming user event through normalization,
// persistence, context assembly, completion and delivery.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/config"
	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/metrics"
	"assistant-telegram-bot/internal/usecase/transcribe"
)

const (
	processingText      = "Processing your message..."
	processingVoiceText = "Processing voice note..."
	thinkingText        = "Thinking..."
)

// Completer produces one response for a conversation. Implementations wrap
// their failures in *domain.ExternalServiceError and never retry.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	Model               string
	System              string
	Messages            []Message
	MaxCompletionTokens int
}

type Message struct {
	Role    string
	Content string
}

// MessageRef identifies a delivered transport message so it can later be
// edited or deleted.
type MessageRef struct {
	UserID    int64
	MessageID int
}

func (r MessageRef) valid() bool { return r.MessageID != 0 }

// Transport is the outbound side of the messaging platform. Each method is
// independently fallible; callers decide severity.
type Transport interface {
	Reply(ctx context.Context, userID int64, text string) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Input is one inbound event: a text payload, a voice payload, or neither
// (which the pipeline ignores).
type Input struct {
	Text  string
	Voice *Voice
}

type Voice struct {
	FileName string
	Data     []byte
}

type Service struct {
	store       domain.ConversationStore
	completer   Completer
	transcriber *transcribe.Service
	transport   Transport
	cfg         config.Config
	log         zerolog.Logger
	met         *metrics.Metrics
}

func NewService(
	store domain.ConversationStore,
	completer Completer,
	transcriber *transcribe.Service,
	transport Transport,
	cfg config.Config,
	log zerolog.Logger,
	met *metrics.Metrics,
) *Service {
	return &Service{
		store:       store,
		completer:   completer,
		transcriber: transcriber,
		transport:   transport,
		cfg:         cfg,
		log:         log.With().Str("component", "chat").Logger(),
		met:         met,
	}
}

// HandleEvent runs the full pipeline for one event. Unsupported input is a
// silent no-op. Any stage failure aborts the remaining stages, is logged and
// is reported to the user as a single failure notification; the returned
// error mirrors what was logged. The processing indicator is removed on
// every exit path.
func (s *Service) HandleEvent(ctx context.Context, userID int64, in Input) error {
	kind := "text"
	indicatorText := processingText
	switch {
	case in.Voice != nil:
		kind = "voice"
		indicatorText = processingVoiceText
	case strings.TrimSpace(in.Text) != "":
	default:
		return nil
	}

	start := time.Now()
	log := s.log.With().Int64("user_id", userID).Str("kind", kind).Logger()

	ind := &indicator{}
	ref, err := s.transport.Reply(ctx, userID, indicatorText)
	if err != nil {
		log.Warn().Err(err).Msg("could not send processing indicator")
	} else {
		ind.ref = ref
		ind.text = indicatorText
	}
	defer func() {
		if !ind.ref.valid() {
			return
		}
		if err := s.transport.Delete(ctx, ind.ref); err != nil {
			log.Debug().Err(err).Msg("could not delete processing indicator")
		}
	}()

	err = s.run(ctx, log, userID, in, ind)
	outcome := "success"
	if err != nil {
		outcome = "error"
		log.Error().Err(err).Msg("pipeline failed")
		s.notifyFailure(ctx, log, userID, err)
	}
	s.met.RecordPipeline(kind, outcome, time.Since(start))
	return err
}

// indicator is the transient processing message shown while a run is in
// progress. Its text is tracked so redundant edits are skipped.
type indicator struct {
	ref  MessageRef
	text string
}

// updateIndicator edits the indicator only when its current text differs.
// Edit failures are logged and never escalate.
func (s *Service) updateIndicator(ctx context.Context, log zerolog.Logger, ind *indicator, text string) {
	if !ind.ref.valid() || ind.text == text {
		return
	}
	if err := s.transport.Edit(ctx, ind.ref, text); err != nil {
		log.Debug().Err(err).Msg("could not update processing indicator")
		return
	}
	ind.text = text
}

func (s *Service) run(ctx context.Context, log zerolog.Logger, userID int64, in Input, ind *indicator) error {
	text := in.Text

	if in.Voice != nil {
		var err error
		text, err = s.transcribeVoice(ctx, in.Voice)
		if err != nil {
			return err
		}
		log.Info().Int("chars", len(text)).Msg("transcription completed")

		if _, err := s.transport.Reply(ctx, userID, "Transcription:\n"+text); err != nil {
			log.Warn().Err(err).Msg("could not deliver transcription")
		}
	}

	if err := s.store.AppendMessage(ctx, userID, domain.RoleUser, text); err != nil {
		return err
	}

	system, _, err := s.store.SystemPrompt(ctx, userID)
	if err != nil {
		return err
	}
	// History intentionally includes system rows and ends with the user
	// message persisted above.
	history, err := s.store.History(ctx, userID, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	s.updateIndicator(ctx, log, ind, thinkingText)

	response, err := s.complete(ctx, system, history)
	if err != nil {
		return err
	}

	if err := s.store.AppendMessage(ctx, userID, domain.RoleAssistant, response); err != nil {
		return err
	}

	if _, err := s.transport.Reply(ctx, userID, response); err != nil {
		log.Error().Err(err).Msg("could not deliver response")
		return err
	}
	return nil
}

func (s *Service) transcribeVoice(ctx context.Context, voice *Voice) (string, error) {
	var text string
	err := s.callExternal(ctx, "transcription", func(ctx context.Context) error {
		var err error
		text, err = s.transcriber.Transcribe(ctx, voice.FileName, voice.Data)
		return err
	})
	return text, err
}

func (s *Service) complete(ctx context.Context, system string, history []domain.Message) (string, error) {
	messages := make([]Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var response string
	err := s.callExternal(ctx, "completion", func(ctx context.Context) error {
		var err error
		response, err = s.completer.Complete(ctx, CompletionRequest{
			Model:               s.cfg.Model,
			System:              system,
			Messages:            messages,
			MaxCompletionTokens: s.cfg.MaxCompletionTokens,
		})
		return err
	})
	return response, err
}

func (s *Service) notifyFailure(ctx context.Context, log zerolog.Logger, userID int64, cause error) {
	text := "Sorry, there was an error processing your message: " + cause.Error()
	if _, err := s.transport.Reply(ctx, userID, text); err != nil {
		log.Warn().Err(err).Msg("could not deliver failure notification")
	}
}
