package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

var ErrChatRequired = errors.New("chat id is required")

// History is the read side of the message log.
type History interface {
	ListMessages(ctx context.Context, chatID string, page store.Page) ([]chat.Message, error)
	ListTranslated(ctx context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error)
}

// Service answers history queries for a chat.
type Service struct {
	history History
}

// NewService wraps the configured message store.
func NewService(history History) *Service {
	return &Service{history: history}
}

// Messages returns the canonical, original-language messages of a chat in send order.
func (s *Service) Messages(ctx context.Context, chatID string, page store.Page) ([]chat.Message, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, ErrChatRequired
	}

	items, err := s.history.ListMessages(ctx, chatID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	if items == nil {
		items = []chat.Message{}
	}
	return items, nil
}

// Translations returns the per-recipient copies of a chat. An empty language
// returns every variant.
func (s *Service) Translations(ctx context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, ErrChatRequired
	}

	language = strings.ToLower(strings.TrimSpace(language))
	items, err := s.history.ListTranslated(ctx, chatID, language, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list %q translations of %s: %w", language, chatID, err)
	}
	if items == nil {
		items = []chat.TranslatedMessage{}
	}
	return items, nil
}
