package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type stubTransport struct {
	edits   []string
	editErr error
}

func (t *stubTransport) Reply(context.Context, int64, string) (MessageRef, error) {
	return MessageRef{}, nil
}

func (t *stubTransport) Edit(_ context.Context, _ MessageRef, text string) error {
	t.edits = append(t.edits, text)
	return t.editErr
}

func (t *stubTransport) Delete(context.Context, MessageRef) error { return nil }

func TestUpdateIndicatorSkipsMatchingText(t *testing.T) {
	tr := &stubTransport{}
	s := &Service{transport: tr, log: zerolog.Nop()}
	ind := &indicator{ref: MessageRef{UserID: 1, MessageID: 5}, text: processingText}

	s.updateIndicator(context.Background(), zerolog.Nop(), ind, thinkingText)
	s.updateIndicator(context.Background(), zerolog.Nop(), ind, thinkingText)

	if len(tr.edits) != 1 {
		t.Fatalf("got %d edits, want 1: %v", len(tr.edits), tr.edits)
	}
	if ind.text != thinkingText {
		t.Errorf("indicator text = %q, want %q", ind.text, thinkingText)
	}
}

func TestUpdateIndicatorInvalidRef(t *testing.T) {
	tr := &stubTransport{}
	s := &Service{transport: tr, log: zerolog.Nop()}
	ind := &indicator{}

	s.updateIndicator(context.Background(), zerolog.Nop(), ind, thinkingText)

	if len(tr.edits) != 0 {
		t.Fatalf("edited an indicator that was never sent: %v", tr.edits)
	}
}

func TestUpdateIndicatorEditFailure(t *testing.T) {
	tr := &stubTransport{editErr: errors.New("gone")}
	s := &Service{transport: tr, log: zerolog.Nop()}
	ind := &indicator{ref: MessageRef{UserID: 1, MessageID: 5}, text: processingText}

	s.updateIndicator(context.Background(), zerolog.Nop(), ind, thinkingText)

	if ind.text != processingText {
		t.Errorf("indicator text updated despite failed edit: %q", ind.text)
	}
}
