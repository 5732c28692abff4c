package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

type fakeConversationReader struct {
	byID      map[string]conversations.Conversation
	listItems []conversations.Conversation
	gotLimit  int
	gotOffset int
	markReads int
}

func (f *fakeConversationReader) GetByID(ctx context.Context, id string) (conversations.Conversation, error) {
	if conv, ok := f.byID[id]; ok {
		return conv, nil
	}
	return conversations.Conversation{}, conversations.ErrConversationNotFound
}

func (f *fakeConversationReader) List(ctx context.Context, limit, offset int) ([]conversations.Conversation, int64, error) {
	f.gotLimit = limit
	f.gotOffset = offset
	return f.listItems, int64(len(f.listItems)), nil
}

func (f *fakeConversationReader) MarkRead(ctx context.Context, id string) (conversations.Conversation, error) {
	conv, ok := f.byID[id]
	if !ok {
		return conversations.Conversation{}, conversations.ErrConversationNotFound
	}
	f.markReads++
	conv.UnreadCount = 0
	f.byID[id] = conv
	return conv, nil
}

type fakeHistory struct {
	items        []messages.Message
	gotBeforeSeq int64
	gotLimit     int
}

func (f *fakeHistory) History(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]messages.Message, error) {
	f.gotBeforeSeq = beforeSeq
	f.gotLimit = limit
	return f.items, nil
}

func TestListConversationsClampsLimit(t *testing.T) {
	reader := &fakeConversationReader{}
	svc := NewService(nil, reader, &fakeHistory{})
	ctx := context.Background()

	if _, err := svc.ListConversations(ctx, 0, -5); err != nil {
		t.Fatal(err)
	}
	if reader.gotLimit != DefaultPageSize || reader.gotOffset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", reader.gotLimit, reader.gotOffset, DefaultPageSize)
	}

	if _, err := svc.ListConversations(ctx, 10_000, 20); err != nil {
		t.Fatal(err)
	}
	if reader.gotLimit != MaxPageSize {
		t.Errorf("limit = %d, want %d", reader.gotLimit, MaxPageSize)
	}
}

func TestOpenConversationMarksRead(t *testing.T) {
	reader := &fakeConversationReader{
		byID: map[string]conversations.Conversation{
			"conv-1": {
				ID:          "conv-1",
				Platform:    platform.WhatsApp,
				UnreadCount: 3,
				Contact:     &contacts.Contact{ID: "contact-1", Name: "Budi"},
			},
		},
	}
	history := &fakeHistory{items: []messages.Message{{ID: "msg-1"}, {ID: "msg-2"}}}
	svc := NewService(nil, reader, history)

	thread, err := svc.OpenConversation(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	if thread.Conversation.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", thread.Conversation.UnreadCount)
	}
	if thread.Conversation.Contact == nil || thread.Conversation.Contact.Name != "Budi" {
		t.Error("expected the joined contact on the opened thread")
	}
	if len(thread.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(thread.Messages))
	}
	if reader.markReads != 1 {
		t.Errorf("mark reads = %d, want 1", reader.markReads)
	}
}

func TestOpenConversationSkipsRedundantMarkRead(t *testing.T) {
	reader := &fakeConversationReader{
		byID: map[string]conversations.Conversation{
			"conv-1": {ID: "conv-1", UnreadCount: 0},
		},
	}
	svc := NewService(nil, reader, &fakeHistory{})

	if _, err := svc.OpenConversation(context.Background(), "conv-1", 10); err != nil {
		t.Fatal(err)
	}
	if reader.markReads != 0 {
		t.Errorf("mark reads = %d, want 0 when already read", reader.markReads)
	}
}

func TestOpenConversationNotFound(t *testing.T) {
	svc := NewService(nil, &fakeConversationReader{}, &fakeHistory{})

	_, err := svc.OpenConversation(context.Background(), "missing", 10)
	if !errors.Is(err, conversations.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestHistoryRequiresKnownConversation(t *testing.T) {
	reader := &fakeConversationReader{
		byID: map[string]conversations.Conversation{"conv-1": {ID: "conv-1"}},
	}
	history := &fakeHistory{}
	svc := NewService(nil, reader, history)
	ctx := context.Background()

	if _, err := svc.History(ctx, "missing", 0, 10); !errors.Is(err, conversations.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}

	if _, err := svc.History(ctx, "conv-1", 42, 10); err != nil {
		t.Fatal(err)
	}
	if history.gotBeforeSeq != 42 || history.gotLimit != 10 {
		t.Errorf("history called with beforeSeq=%d limit=%d", history.gotBeforeSeq, history.gotLimit)
	}
}
