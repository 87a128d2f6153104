// Package mongo persists the message log in MongoDB, one collection per record kind.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

const (
	messagesCollection   = "messages"
	translatedCollection = "translated_messages"
)

// 语言代码按不区分大小写比较，查询与索引必须使用同一 collation
var languageCollation = &options.Collation{Locale: "en", Strength: 2}

type messageDoc struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chat"`
	SenderID  string    `bson:"sender"`
	Content   string    `bson:"content"`
	Language  string    `bson:"language,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
}

type translatedDoc struct {
	ID             string    `bson:"_id"`
	ChatID         string    `bson:"chat"`
	SenderID       string    `bson:"sender"`
	ReceiverID     string    `bson:"receiver"`
	Content        string    `bson:"content"`
	TargetLanguage string    `bson:"targetLanguage"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// Store writes chat messages into a MongoDB database.
type Store struct {
	client     *mongo.Client
	messages   *mongo.Collection
	translated *mongo.Collection
}

// Connect dials uri, pings the server and ensures the lookup indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:     client,
		messages:   db.Collection(messagesCollection),
		translated: db.Collection(translatedCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	if _, err := s.translated.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat", Value: 1}, {Key: "targetLanguage", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetName("chat_language_ci_createdAt").
			SetCollation(languageCollation),
	}); err != nil {
		return fmt.Errorf("create translated_messages index: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, msg chat.Message) error {
	if err := store.ValidateMessage(msg); err != nil {
		return err
	}
	doc := messageDoc{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Language:  msg.Language,
		CreatedAt: stamp(msg.CreatedAt),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) SaveTranslated(ctx context.Context, msg chat.TranslatedMessage) error {
	if err := store.ValidateTranslated(msg); err != nil {
		return err
	}
	doc := translatedDoc{
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		TargetLanguage: msg.TargetLanguage,
		CreatedAt:      stamp(msg.CreatedAt),
	}
	if _, err := s.translated.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert translated message %q: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, page store.Page) ([]chat.Message, error) {
	cursor, err := s.messages.Find(ctx, bson.M{"chat": chatID}, findPage(page))
	if err != nil {
		return nil, fmt.Errorf("find messages for chat %q: %w", chatID, err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, chat.Message{
			ID:        d.ID,
			ChatID:    d.ChatID,
			SenderID:  d.SenderID,
			Content:   d.Content,
			Language:  d.Language,
			CreatedAt: d.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) ListTranslated(ctx context.Context, chatID, language string, page store.Page) ([]chat.TranslatedMessage, error) {
	filter, opts := translatedQuery(chatID, language, page)
	cursor, err := s.translated.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find translated messages for chat %q: %w", chatID, err)
	}

	var docs []translatedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode translated messages: %w", err)
	}

	out := make([]chat.TranslatedMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, chat.TranslatedMessage{
			ID:             d.ID,
			ChatID:         d.ChatID,
			SenderID:       d.SenderID,
			ReceiverID:     d.ReceiverID,
			Content:        d.Content,
			TargetLanguage: d.TargetLanguage,
			CreatedAt:      d.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func translatedQuery(chatID, language string, page store.Page) (bson.M, *options.FindOptions) {
	filter := bson.M{"chat": chatID}
	opts := findPage(page)
	if language != "" {
		filter["targetLanguage"] = language
		opts.SetCollation(languageCollation)
	}
	return filter, opts
}

func findPage(page store.Page) *options.FindOptions {
	page = page.Normalize()
	return options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset)).
		SetLimit(int64(page.Limit))
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
