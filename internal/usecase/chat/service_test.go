package chat_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/adapter/memory"
	"assistant-telegram-bot/internal/config"
	"assistant-telegram-bot/internal/domain"
	"assistant-telegram-bot/internal/metrics"
	"assistant-telegram-bot/internal/usecase/chat"
	"assistant-telegram-bot/internal/usecase/transcribe"
)

// callLog records the order of external interactions across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) indexOf(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.calls {
		if c == name {
			return i
		}
	}
	return -1
}

type recordingStore struct {
	*memory.Store
	log *callLog
}

func (s *recordingStore) AppendMessage(ctx context.Context, userID int64, role, content string) error {
	s.log.add("append:" + role)
	return s.Store.AppendMessage(ctx, userID, role, content)
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	replies []string
	edits   []string
	deleted []chat.MessageRef

	// replyErr, when set, decides per reply text whether the send fails
	replyErr  func(text string) error
	editErr   error
	deleteErr error
}

func (t *fakeTransport) Reply(_ context.Context, userID int64, text string) (chat.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.replyErr != nil {
		if err := t.replyErr(text); err != nil {
			return chat.MessageRef{}, err
		}
	}
	t.nextID++
	t.replies = append(t.replies, text)
	return chat.MessageRef{UserID: userID, MessageID: t.nextID}, nil
}

func (t *fakeTransport) Edit(_ context.Context, _ chat.MessageRef, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.editErr != nil {
		return t.editErr
	}
	t.edits = append(t.edits, text)
	return nil
}

func (t *fakeTransport) Delete(_ context.Context, ref chat.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleteErr != nil {
		return t.deleteErr
	}
	t.deleted = append(t.deleted, ref)
	return nil
}

func (t *fakeTransport) lastReply() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.replies) == 0 {
		return ""
	}
	return t.replies[len(t.replies)-1]
}

type fakeCompleter struct {
	log       *callLog
	response  string
	failFirst int
	failWith  error
	calls     int
	lastReq   chat.CompletionRequest
}

func (c *fakeCompleter) Complete(_ context.Context, req chat.CompletionRequest) (string, error) {
	c.log.add("complete")
	c.calls++
	if c.calls <= c.failFirst {
		return "", c.failWith
	}
	c.lastReq = req
	return c.response, nil
}

type fakeTranscriberClient struct {
	log   *callLog
	text  string
	err   error
	calls int
}

func (c *fakeTranscriberClient) Transcribe(_ context.Context, _ transcribe.Request) (string, error) {
	c.log.add("transcribe")
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.text, nil
}

type fixture struct {
	svc       *chat.Service
	store     *recordingStore
	transport *fakeTransport
	completer *fakeCompleter
	stt       *fakeTranscriberClient
	log       *callLog
}

func newFixture(retries int) *fixture {
	cfg := config.Config{
		Model:               "test-model",
		MaxCompletionTokens: 256,
		HistoryLimit:        10,
		ExternalTimeout:     time.Second,
		ExternalRetries:     retries,
	}

	cl := &callLog{}
	store := &recordingStore{Store: memory.NewStore(), log: cl}
	transport := &fakeTransport{}
	completer := &fakeCompleter{log: cl, response: "Hi!"}
	stt := &fakeTranscriberClient{log: cl, text: "spoken words"}

	svc := chat.NewService(
		store,
		completer,
		transcribe.NewService(stt, cfg),
		transport,
		cfg,
		zerolog.Nop(),
		metrics.New(),
	)

	return &fixture{svc: svc, store: store, transport: transport, completer: completer, stt: stt, log: cl}
}

func TestTextScenario(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, 42, chat.Input{Text: "Hello"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	history, _ := f.store.History(ctx, 42, 10)
	if len(history) != 2 {
		t.Fatalf("got %d stored messages, want 2: %+v", len(history), history)
	}
	if history[0].Role != domain.RoleUser || history[0].Content != "Hello" {
		t.Errorf("first stored message = %+v, want user/Hello", history[0])
	}
	if history[1].Role != domain.RoleAssistant || history[1].Content != "Hi!" {
		t.Errorf("second stored message = %+v, want assistant/Hi!", history[1])
	}

	req := f.completer.lastReq
	if len(req.Messages) == 0 {
		t.Fatal("completer received no history")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser || last.Content != "Hello" {
		t.Errorf("history ends in %+v, want user/Hello", last)
	}

	if got := f.transport.lastReply(); got != "Hi!" {
		t.Errorf("last reply = %q, want \"Hi!\"", got)
	}
	if len(f.transport.deleted) != 1 {
		t.Errorf("indicator deleted %d times, want 1", len(f.transport.deleted))
	}
	if len(f.transport.edits) != 1 || f.transport.edits[0] != "Thinking..." {
		t.Errorf("indicator edits = %v, want [Thinking...]", f.transport.edits)
	}
}

func TestVoiceScenario(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	input := chat.Input{Voice: &chat.Voice{FileName: "voice_note.ogg", Data: []byte{1, 2, 3}}}
	if err := f.svc.HandleEvent(ctx, 7, input); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if f.stt.calls != 1 {
		t.Fatalf("transcriber called %d times, want 1", f.stt.calls)
	}
	if ti, ai := f.log.indexOf("transcribe"), f.log.indexOf("append:user"); ti < 0 || ai < 0 || ti > ai {
		t.Errorf("transcription (index %d) must precede user append (index %d)", ti, ai)
	}

	history, _ := f.store.History(ctx, 7, 10)
	if len(history) == 0 || history[0].Content != "spoken words" {
		t.Fatalf("persisted user message = %+v, want transcription result", history)
	}

	foundNotification := false
	for _, r := range f.transport.replies {
		if r == "Transcription:\nspoken words" {
			foundNotification = true
		}
	}
	if !foundNotification {
		t.Errorf("transcription notification missing from replies: %v", f.transport.replies)
	}
	if f.transport.replies[0] != "Processing voice note..." {
		t.Errorf("indicator text = %q, want voice variant", f.transport.replies[0])
	}
}

func TestCompletionFailure(t *testing.T) {
	f := newFixture(0)
	f.completer.failFirst = 1
	f.completer.failWith = &domain.ExternalServiceError{
		Service: "completion",
		Err:     errors.New("provider exploded"),
	}
	ctx := context.Background()

	err := f.svc.HandleEvent(ctx, 42, chat.Input{Text: "Hello"})
	if err == nil {
		t.Fatal("expected pipeline error")
	}

	history, _ := f.store.History(ctx, 42, 10)
	for _, m := range history {
		if m.Role == domain.RoleAssistant {
			t.Errorf("assistant message persisted despite failure: %+v", m)
		}
	}

	last := f.transport.lastReply()
	if !strings.Contains(last, "provider exploded") {
		t.Errorf("failure notification %q does not contain error text", last)
	}
	if len(f.transport.deleted) != 1 {
		t.Errorf("indicator deleted %d times, want 1", len(f.transport.deleted))
	}
}

func TestUnsupportedInputIsNoOp(t *testing.T) {
	f := newFixture(0)

	if err := f.svc.HandleEvent(context.Background(), 42, chat.Input{}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(f.transport.replies) != 0 {
		t.Errorf("transport touched for unsupported input: %v", f.transport.replies)
	}
	history, _ := f.store.History(context.Background(), 42, 10)
	if len(history) != 0 {
		t.Errorf("store touched for unsupported input: %+v", history)
	}
}

func TestTransientFailureRetries(t *testing.T) {
	f := newFixture(2)
	f.completer.failFirst = 1
	f.completer.failWith = &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	if err := f.svc.HandleEvent(context.Background(), 42, chat.Input{Text: "Hello"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if f.completer.calls != 2 {
		t.Errorf("completer called %d times, want 2 (one retry)", f.completer.calls)
	}
	if got := f.transport.lastReply(); got != "Hi!" {
		t.Errorf("last reply = %q, want \"Hi!\"", got)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	f := newFixture(3)
	f.completer.failFirst = 10
	f.completer.failWith = &domain.ExternalServiceError{
		Service: "completion",
		Err:     errors.New("invalid request"),
	}

	if err := f.svc.HandleEvent(context.Background(), 42, chat.Input{Text: "Hello"}); err == nil {
		t.Fatal("expected pipeline error")
	}
	if f.completer.calls != 1 {
		t.Errorf("completer called %d times, want 1 (no retry)", f.completer.calls)
	}
}

func TestTranscriptionFailureAbortsBeforePersist(t *testing.T) {
	f := newFixture(0)
	f.stt.err = &domain.ExternalServiceError{
		Service: "transcription",
		Err:     errors.New("unintelligible"),
	}
	ctx := context.Background()

	input := chat.Input{Voice: &chat.Voice{FileName: "voice_note.ogg", Data: []byte{1}}}
	if err := f.svc.HandleEvent(ctx, 7, input); err == nil {
		t.Fatal("expected pipeline error")
	}

	history, _ := f.store.History(ctx, 7, 10)
	if len(history) != 0 {
		t.Errorf("messages persisted despite transcription failure: %+v", history)
	}
	if f.completer.calls != 0 {
		t.Errorf("completer called %d times after transcription failure, want 0", f.completer.calls)
	}
}

func TestIndicatorSendFailureNonFatal(t *testing.T) {
	f := newFixture(0)
	f.transport.replyErr = func(text string) error {
		if text == "Processing your message..." {
			return errors.New("flood control")
		}
		return nil
	}
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, 42, chat.Input{Text: "Hello"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if got := f.transport.lastReply(); got != "Hi!" {
		t.Errorf("last reply = %q, want \"Hi!\"", got)
	}
	// without an indicator there is nothing to edit or delete
	if len(f.transport.edits) != 0 {
		t.Errorf("edits = %v, want none", f.transport.edits)
	}
	if len(f.transport.deleted) != 0 {
		t.Errorf("deleted = %v, want none", f.transport.deleted)
	}

	history, _ := f.store.History(ctx, 42, 10)
	if len(history) != 2 {
		t.Errorf("got %d stored messages, want 2", len(history))
	}
}

func TestTranscriptionNotificationFailureNonFatal(t *testing.T) {
	f := newFixture(0)
	f.transport.replyErr = func(text string) error {
		if strings.HasPrefix(text, "Transcription:") {
			return errors.New("flood control")
		}
		return nil
	}
	ctx := context.Background()

	input := chat.Input{Voice: &chat.Voice{FileName: "voice_note.ogg", Data: []byte{1}}}
	if err := f.svc.HandleEvent(ctx, 7, input); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if got := f.transport.lastReply(); got != "Hi!" {
		t.Errorf("last reply = %q, want \"Hi!\"", got)
	}
	history, _ := f.store.History(ctx, 7, 10)
	if len(history) != 2 || history[1].Role != domain.RoleAssistant {
		t.Errorf("stored messages = %+v, want user and assistant rows", history)
	}
}

func TestIndicatorEditAndDeleteFailuresNonFatal(t *testing.T) {
	f := newFixture(0)
	f.transport.editErr = errors.New("message not found")
	f.transport.deleteErr = errors.New("message not found")

	if err := f.svc.HandleEvent(context.Background(), 42, chat.Input{Text: "Hello"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if got := f.transport.lastReply(); got != "Hi!" {
		t.Errorf("last reply = %q, want \"Hi!\"", got)
	}
}

func TestSystemPromptPassedSeparately(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	if err := f.store.SetSystemPrompt(ctx, 42, "be terse"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, 42, chat.Input{Text: "Hello"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if f.completer.lastReq.System != "be terse" {
		t.Errorf("completion system = %q, want \"be terse\"", f.completer.lastReq.System)
	}
}
