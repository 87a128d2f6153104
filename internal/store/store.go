// Package store persists the append-only chat message log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	// ErrInvalidMessage 表示缺少必填字段。
	ErrInvalidMessage = errors.New("invalid message record")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Page selects a window of the log, oldest first.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps a page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store is the message log. Records are only ever appended.
type Store interface {
	SaveMessage(ctx context.Context, msg chat.Message) error
	SaveTranslated(ctx context.Context, msg chat.TranslatedMessage) error
	ListMessages(ctx context.Context, chatID string, page Page) ([]chat.Message, error)
	ListTranslated(ctx context.Context, chatID, language string, page Page) ([]chat.TranslatedMessage, error)
	Close() error
}

// ValidateMessage checks the fields every backend requires.
func ValidateMessage(msg chat.Message) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidMessage)
	case msg.ChatID == "":
		return fmt.Errorf("%w: chat id is required", ErrInvalidMessage)
	case msg.SenderID == "":
		return fmt.Errorf("%w: sender id is required", ErrInvalidMessage)
	}
	return nil
}

// ValidateTranslated checks the fields every backend requires.
func ValidateTranslated(msg chat.TranslatedMessage) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidMessage)
	case msg.ChatID == "":
		return fmt.Errorf("%w: chat id is required", ErrInvalidMessage)
	case msg.ReceiverID == "":
		return fmt.Errorf("%w: receiver id is required", ErrInvalidMessage)
	}
	return nil
}

// Window applies a normalized page to an already ordered slice.
func Window[T any](items []T, page Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[page.Offset:end]...)
}
