// Package journal appends the message log to a NATS JetStream stream.
// Each chat gets its own subjects so history can be replayed per chat.
package journal

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

const (
	DefaultStreamName = "CHAT_LOG"
	subjectRoot       = "chatlog"
	fetchBatch        = 256
)

// Config selects the NATS server and stream.
type Config struct {
	URL    string
	Stream string
	MaxAge time.Duration // 0 keeps records forever
}

// Store publishes records to JetStream and replays them for listing.
type Store struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect dials NATS and creates the stream when it does not exist yet.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStreamName
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("polyglot-chat"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if _, err := js.Stream(ctx, cfg.Stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("lookup stream '%s': %w", cfg.Stream, err)
		}
		log.Printf("[journal] stream '%s' not found, creating", cfg.Stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Description: "Append-only chat message log",
			Subjects:    []string{subjectRoot + ".>"},
			MaxAge:      cfg.MaxAge,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream '%s': %w", cfg.Stream, err)
		}
	}

	return &Store{nc: nc, js: js, stream: cfg.Stream}, nil
}

func messageSubject(chatID string) string {
	return fmt.Sprintf("%s.message.%s", subjectRoot, subjectToken(chatID))
}

func translatedSubject(chatID string) string {
	return fmt.Sprintf("%s.translated.%s", subjectRoot, subjectToken(chatID))
}

// base32hex 只含 0-9A-V，可安全放进单个 subject token，且不同 id 不会撞到同一 subject
var tokenEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// subjectToken encodes a chat id as a single subject token.
func subjectToken(id string) string {
	return tokenEncoding.EncodeToString([]byte(id))
}

// matchTranslated reports whether a replayed copy belongs to the listing.
func matchTranslated(msg chat.TranslatedMessage, chatID, language string) bool {
	if msg.ChatID != chatID {
		return false
	}
	return language == "" || strings.EqualFold(msg.TargetLanguage, language)
}

func (s *Store) SaveMessage(ctx context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return err
	}
	return s.publish(ctx, messageSubject(msg.ChatID), msg.ID, msg)
}

func (s *Store) SaveTranslated(ctx context.Context, msg chat.TranslatedMessage) error {
	if err := store.ValidateTranslated(msg); err != nil {
		return err
	}
	return s.publish(ctx, translatedSubject(msg.ChatID), msg.ID, msg)
}

func (s *Store) publish(ctx context.Context, subject, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	// Msg-Id lets the server drop a duplicate publish of the same record.
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("failed to publish to subject '%s': %w", subject, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, page store.Page) ([]chat.Message, error) {
	var all []chat.Message
	err := s.replay(ctx, messageSubject(chatID), func(data []byte) error {
		var msg chat.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if msg.ChatID == chatID {
			all = append(all, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.Window(all, page), nil
}

func (s *Store) ListTranslated(ctx context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error) {
	var all []chat.TranslatedMessage
	err := s.replay(ctx, translatedSubject(chatID), func(data []byte) error {
		var msg chat.TranslatedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if matchTranslated(msg, chatID, language) {
			all = append(all, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.Window(all, page), nil
}

// replay reads every record on subject from the start of the stream with an
// ordered ephemeral consumer and stops once nothing is pending.
func (s *Store) replay(ctx context.Context, subject string, decode func([]byte) error) error {
	cons, err := s.js.OrderedConsumer(ctx, s.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer for subject '%s': %w", subject, err)
	}

	for {
		batch, err := cons.FetchNoWait(fetchBatch)
		if err != nil {
			return fmt.Errorf("fetch from subject '%s': %w", subject, err)
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			if err := decode(msg.Data()); err != nil {
				log.Printf("[journal] skip undecodable record on %s: %v", msg.Subject(), err)
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("fetch from subject '%s': %w", subject, err)
		}
		if n < fetchBatch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Store) Close() error {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	return nil
}
