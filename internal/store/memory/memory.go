// Package memory keeps the message log in process memory.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

// Store is an in-memory message log indexed by chat.
type Store struct {
	mu         sync.RWMutex
	messages   map[string][]chat.Message
	translated map[string][]chat.TranslatedMessage
	closed     bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		messages:   make(map[string][]chat.Message),
		translated: make(map[string][]chat.TranslatedMessage),
	}
}

func (s *Store) SaveMessage(_ context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return nil
}

func (s *Store) SaveTranslated(_ context.Context, msg chat.TranslatedMessage) error {
	if err := store.ValidateTranslated(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.translated[msg.ChatID] = append(s.translated[msg.ChatID], msg)
	return nil
}

func (s *Store) ListMessages(_ context.Context, chatID string, page store.Page) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return store.Window(s.messages[chatID], page), nil
}

// ListTranslated returns the copies stored for chatID. An empty language
// returns every copy.
func (s *Store) ListTranslated(_ context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	var matched []chat.TranslatedMessage
	for _, msg := range s.translated[chatID] {
		if language == "" || strings.EqualFold(msg.TargetLanguage, language) {
			matched = append(matched, msg)
		}
	}
	return store.Window(matched, page), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
