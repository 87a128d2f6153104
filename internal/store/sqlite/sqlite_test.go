package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s, path
}

func TestOpenRunsMigrations(t *testing.T) {
	s, path := newTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version;").Scan(&version))
	assert.Equal(t, len(migrations), version)

	// reopening an up to date database is a no-op
	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSaveAndListMessages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessage(ctx, chat.Message{ID: "m2", ChatID: "c1", SenderID: "alice", Content: "second", Language: "en", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.SaveMessage(ctx, chat.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Content: "first", Language: "en", CreatedAt: base}))
	require.NoError(t, s.SaveMessage(ctx, chat.Message{ID: "other", ChatID: "c2", SenderID: "bob", Content: "elsewhere", CreatedAt: base}))

	got, err := s.ListMessages(ctx, "c1", store.Page{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "first", got[0].Content)
	assert.True(t, base.Equal(got[0].CreatedAt))

	page, err := s.ListMessages(ctx, "c1", store.Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m2", page[0].ID)
}

func TestSaveMessageRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	msg := chat.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Content: "hi"}
	require.NoError(t, s.SaveMessage(ctx, msg))
	assert.Error(t, s.SaveMessage(ctx, msg))
}

func TestListTranslatedFiltersLanguage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveTranslated(ctx, chat.TranslatedMessage{ID: "t1", ChatID: "c1", SenderID: "alice", ReceiverID: "ravi", Content: "नमस्ते", TargetLanguage: "hi"}))
	require.NoError(t, s.SaveTranslated(ctx, chat.TranslatedMessage{ID: "t2", ChatID: "c1", SenderID: "alice", ReceiverID: "lucia", Content: "hola", TargetLanguage: "es"}))

	hi, err := s.ListTranslated(ctx, "c1", "hi", store.Page{})
	require.NoError(t, err)
	require.Len(t, hi, 1)
	assert.Equal(t, "ravi", hi[0].ReceiverID)

	all, err := s.ListTranslated(ctx, "c1", "", store.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListTranslatedIgnoresLanguageCase(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveTranslated(ctx, chat.TranslatedMessage{ID: "t1", ChatID: "c1", SenderID: "alice", ReceiverID: "joao", Content: "olá", TargetLanguage: "pt-BR"}))
	require.NoError(t, s.SaveTranslated(ctx, chat.TranslatedMessage{ID: "t2", ChatID: "c1", SenderID: "alice", ReceiverID: "lucia", Content: "hola", TargetLanguage: "es"}))

	for _, lang := range []string{"pt-br", "pt-BR", "PT-BR"} {
		got, err := s.ListTranslated(ctx, "c1", lang, store.Page{})
		require.NoError(t, err, lang)
		require.Len(t, got, 1, lang)
		assert.Equal(t, "joao", got[0].ReceiverID)
		assert.Equal(t, "pt-BR", got[0].TargetLanguage)
	}
}

func TestSaveValidatesInput(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SaveTranslated(context.Background(), chat.TranslatedMessage{ID: "t1", ChatID: "c1"})
	assert.ErrorIs(t, err, store.ErrInvalidMessage)
}
