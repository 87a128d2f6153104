package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	model "github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	chat "github.com/zhouzirui/polyglot-chat/backend/internal/service/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/memory"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/sqlite"
)

func seededService(t *testing.T) *chat.Service {
	t.Helper()
	ctx := context.Background()
	log := memory.New()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, content := range []string{"hello", "how are you", "bye"} {
		err := log.SaveMessage(ctx, model.Message{
			ID:        string(rune('a' + i)),
			ChatID:    "c1",
			SenderID:  "alice",
			Content:   content,
			Language:  "en",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}
	for i, lang := range []string{"hi", "zh", "hi"} {
		err := log.SaveTranslated(ctx, model.TranslatedMessage{
			ID:             string(rune('x' + i)),
			ChatID:         "c1",
			SenderID:       "alice",
			ReceiverID:     "r" + lang,
			Content:        "copy-" + lang,
			TargetLanguage: lang,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveTranslated err: %v", err)
		}
	}
	return chat.NewService(log)
}

func TestServiceMessagesInOrder(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Messages(context.Background(), "c1", store.Page{})
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Content != "hello" || got[2].Content != "bye" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestServiceMessagesPaging(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Messages(context.Background(), "c1", store.Page{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if len(got) != 1 || got[0].Content != "how are you" {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestServiceMessagesUnknownChatIsEmpty(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Messages(context.Background(), "missing", store.Page{})
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestServiceRequiresChatID(t *testing.T) {
	svc := seededService(t)

	if _, err := svc.Messages(context.Background(), "  ", store.Page{}); !errors.Is(err, chat.ErrChatRequired) {
		t.Fatalf("expected ErrChatRequired, got %v", err)
	}
	if _, err := svc.Translations(context.Background(), "", "hi", store.Page{}); !errors.Is(err, chat.ErrChatRequired) {
		t.Fatalf("expected ErrChatRequired, got %v", err)
	}
}

func TestServiceTranslationsFilterByLanguage(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Translations(context.Background(), "c1", "HI", store.Page{})
	if err != nil {
		t.Fatalf("Translations err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hindi copies, got %d", len(got))
	}

	all, err := svc.Translations(context.Background(), "c1", "", store.Page{})
	if err != nil {
		t.Fatalf("Translations err: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 copies, got %d", len(all))
	}
}

// 区域语言代码（pt-BR）在每种存储后端上都能查到
func TestServiceTranslationsMixedCaseLanguageAcrossBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return memory.New() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := open(t)
			t.Cleanup(func() { _ = log.Close() })

			err := log.SaveTranslated(ctx, model.TranslatedMessage{
				ID: "t1", ChatID: "c1", SenderID: "alice", ReceiverID: "joao",
				Content: "olá", TargetLanguage: "pt-BR", CreatedAt: time.Now(),
			})
			if err != nil {
				t.Fatalf("SaveTranslated err: %v", err)
			}

			got, err := chat.NewService(log).Translations(ctx, "c1", "pt-BR", store.Page{})
			if err != nil {
				t.Fatalf("Translations err: %v", err)
			}
			if len(got) != 1 || got[0].ReceiverID != "joao" {
				t.Fatalf("expected joao's pt-BR copy, got %+v", got)
			}
		})
	}
}

func TestServiceClosedStore(t *testing.T) {
	log := memory.New()
	_ = log.Close()
	svc := chat.NewService(log)

	if _, err := svc.Messages(context.Background(), "c1", store.Page{}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
