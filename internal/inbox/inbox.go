// Package inbox is the read side of the conversation store: the agent-facing
// conversation list and per-thread history views.
package inbox

import (
	"context"
	"log/slog"

	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/messages"
)

// DefaultPageSize applies when a list request carries no limit.
const DefaultPageSize = 50

// MaxPageSize caps a single page.
const MaxPageSize = 200

// ConversationReader lists and opens conversation threads.
type ConversationReader interface {
	GetByID(ctx context.Context, id string) (conversations.Conversation, error)
	List(ctx context.Context, limit, offset int) ([]conversations.Conversation, int64, error)
	MarkRead(ctx context.Context, id string) (conversations.Conversation, error)
}

// HistoryReader pages through a conversation's message log.
type HistoryReader interface {
	History(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]messages.Message, error)
}

// Service answers inbox queries. Reads never mutate state except for
// OpenConversation, which clears the unread counter of the opened thread.
type Service struct {
	conversations ConversationReader
	history       HistoryReader
	logger        *slog.Logger
}

// NewService creates an inbox query service.
func NewService(log *slog.Logger, convs ConversationReader, history HistoryReader) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conversations: convs,
		history:       history,
		logger:        log.With(slog.String("service", "inbox")),
	}
}

// ConversationPage is one page of the inbox list, newest-activity first.
type ConversationPage struct {
	Items []conversations.Conversation `json:"items"`
	Total int64                        `json:"total"`
}

// Thread is one opened conversation with its most recent messages
// oldest-first.
type Thread struct {
	Conversation conversations.Conversation `json:"conversation"`
	Messages     []messages.Message         `json:"messages"`
}

// ListConversations returns one page of conversations ordered by most recent
// activity.
func (s *Service) ListConversations(ctx context.Context, limit, offset int) (ConversationPage, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.conversations.List(ctx, limit, offset)
	if err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{Items: items, Total: total}, nil
}

// OpenConversation returns the thread with its latest page of messages and
// clears the unread counter, mirroring an agent opening it on screen.
func (s *Service) OpenConversation(ctx context.Context, id string, historyLimit int) (Thread, error) {
	historyLimit = clampLimit(historyLimit)

	conversation, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return Thread{}, err
	}
	if conversation.UnreadCount > 0 {
		marked, err := s.conversations.MarkRead(ctx, id)
		if err != nil {
			return Thread{}, err
		}
		conversation.UnreadCount = marked.UnreadCount
	}
	history, err := s.history.History(ctx, id, 0, historyLimit)
	if err != nil {
		return Thread{}, err
	}
	return Thread{Conversation: conversation, Messages: history}, nil
}

// History pages backwards through one conversation's messages. beforeSeq is
// the seq of the oldest already-loaded message; zero asks for the latest page.
// The conversation is looked up first so an unknown id fails loudly instead of
// returning an empty page.
func (s *Service) History(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]messages.Message, error) {
	limit = clampLimit(limit)
	if _, err := s.conversations.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.history.History(ctx, conversationID, beforeSeq, limit)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
