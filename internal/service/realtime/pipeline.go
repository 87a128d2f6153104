package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/user"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate"
)

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrChatRequired = errors.New("chat id is required")
	ErrShuttingDown = errors.New("server is shutting down")
)

// MessageLog is the append-only persistence the pipeline writes to.
type MessageLog interface {
	SaveMessage(ctx context.Context, msg chat.Message) error
	SaveTranslated(ctx context.Context, msg chat.TranslatedMessage) error
}

// PipelineConfig bounds the external calls made per recipient.
type PipelineConfig struct {
	TranslateTimeout time.Duration
	PersistTimeout   time.Duration
	MaxParallel      int // per message; <=0 means one goroutine per recipient
}

// DefaultPipelineConfig returns conservative timeouts.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TranslateTimeout: 8 * time.Second,
		PersistTimeout:   5 * time.Second,
		MaxParallel:      16,
	}
}

// Submission is one NEW_MESSAGE sent by a connected user.
type Submission struct {
	ChatID       string
	Sender       user.User
	SenderHandle string
	Content      string
	Members      []string
}

// RecipientOutcome records what happened for one recipient.
type RecipientOutcome struct {
	UserID       string
	Language     string
	Content      string
	Translated   bool
	Delivered    bool
	Persisted    bool
	Skipped      bool // user record missing
	TranslateErr error
	PersistErr   error
}

// Report is the result of a full delivery.
type Report struct {
	MessageID  string
	Source     string
	Recipients []RecipientOutcome
	Persisted  bool
	PersistErr error
	Alerted    []string
}

// Pipeline delivers a message to the sender at once and then translates,
// delivers and persists a copy per recipient without holding up anyone else.
type Pipeline struct {
	router     *Router
	users      user.Store
	translator translate.Translator
	messages   MessageLog
	cfg        PipelineConfig

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewPipeline wires the delivery pipeline.
func NewPipeline(router *Router, users user.Store, translator translate.Translator, messages MessageLog, cfg PipelineConfig) *Pipeline {
	if translator == nil {
		translator = translate.Noop{}
	}
	defaults := DefaultPipelineConfig()
	if cfg.TranslateTimeout <= 0 {
		cfg.TranslateTimeout = defaults.TranslateTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaults.PersistTimeout
	}

	return &Pipeline{
		router:     router,
		users:      users,
		translator: translator,
		messages:   messages,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Submit confirms the message to the sender before returning and finishes the
// recipient work in the background. The background work is detached from ctx
// cancellation: once submitted, a delivery always runs to completion.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (chat.Envelope, error) {
	if err := validate(sub); err != nil {
		return chat.Envelope{}, err
	}

	// Add 与 Shutdown 在同一把锁下，关闭开始后不会再有新的投递
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return chat.Envelope{}, ErrShuttingDown
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	env := p.confirmSender(sub)
	detached := context.WithoutCancel(ctx)

	go func() {
		defer p.inflight.Done()
		p.fanOut(detached, sub, env)
	}()

	return env, nil
}

// Deliver runs the whole pipeline synchronously.
func (p *Pipeline) Deliver(ctx context.Context, sub Submission) (Report, error) {
	if err := validate(sub); err != nil {
		return Report{}, err
	}
	env := p.confirmSender(sub)
	return p.fanOut(context.WithoutCancel(ctx), sub, env), nil
}

// Wait blocks until every submitted delivery has finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

// Shutdown rejects further submissions with ErrShuttingDown and waits for the
// deliveries already running. Call it before closing the message log.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inflight.Wait()
}

func validate(sub Submission) error {
	if strings.TrimSpace(sub.ChatID) == "" {
		return ErrChatRequired
	}
	if strings.TrimSpace(sub.Content) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// confirmSender emits the original-language copy to the submitting session.
// Its ID becomes the canonical message ID.
func (p *Pipeline) confirmSender(sub Submission) chat.Envelope {
	env := chat.Envelope{
		ID:        p.newID(),
		Content:   sub.Content,
		Sender:    chat.Sender{ID: sub.Sender.ID, Name: sub.Sender.Name},
		ChatID:    sub.ChatID,
		CreatedAt: p.now().UTC(),
	}
	payload := event.MessagePayload{ChatID: sub.ChatID, Message: env}

	if sub.SenderHandle != "" {
		if err := p.router.Send(sub.SenderHandle, event.NewMessage, payload); err != nil {
			log.Printf("[pipeline] confirm to sender=%s chat=%s failed: %v", sub.Sender.ID, sub.ChatID, err)
		}
	} else {
		p.router.Route(event.NewMessage, []string{sub.Sender.ID}, payload)
	}
	return env
}

func (p *Pipeline) fanOut(ctx context.Context, sub Submission, env chat.Envelope) Report {
	recipients := recipientsOf(sub.Members, sub.Sender.ID)
	source := p.sourceLanguage(ctx, sub)

	report := Report{
		MessageID:  env.ID,
		Source:     source,
		Recipients: make([]RecipientOutcome, len(recipients)),
	}

	tasks := pool.New()
	if p.cfg.MaxParallel > 0 {
		tasks = tasks.WithMaxGoroutines(p.cfg.MaxParallel)
	}
	for i, recipientID := range recipients {
		i, recipientID := i, recipientID
		tasks.Go(func() {
			report.Recipients[i] = p.deliverTo(ctx, sub, env.Sender, source, recipientID)
		})
	}
	tasks.Wait()

	canonical := chat.Message{
		ID:        env.ID,
		ChatID:    sub.ChatID,
		SenderID:  sub.Sender.ID,
		Content:   sub.Content,
		Language:  source,
		CreatedAt: env.CreatedAt,
	}
	if err := p.persist(ctx, func(ctx context.Context) error { return p.messages.SaveMessage(ctx, canonical) }); err != nil {
		report.PersistErr = err
		log.Printf("[pipeline] save canonical message chat=%s id=%s failed: %v", sub.ChatID, env.ID, err)
	} else {
		report.Persisted = true
	}

	alert := p.router.Route(event.NewMessageAlert, recipients, event.ChatRef{ChatID: sub.ChatID})
	report.Alerted = alert.Delivered

	log.Printf("[pipeline] chat=%s id=%s recipients=%d alerted=%d", sub.ChatID, env.ID, len(recipients), len(alert.Delivered))
	return report
}

func (p *Pipeline) deliverTo(ctx context.Context, sub Submission, sender chat.Sender, source, recipientID string) (out RecipientOutcome) {
	out.UserID = recipientID
	defer func() {
		if r := recover(); r != nil {
			out.TranslateErr = fmt.Errorf("recipient task panicked: %v", r)
			log.Printf("[pipeline] recipient=%s chat=%s panicked: %v", recipientID, sub.ChatID, r)
		}
	}()

	receiver, ok := p.users.FindByID(recipientID)
	if !ok {
		out.Skipped = true
		log.Printf("[pipeline] recipient=%s chat=%s unknown, skipped", recipientID, sub.ChatID)
		return out
	}
	out.Language = receiver.Language

	content, translated, err := p.translate(ctx, sub.Content, source, receiver.Language)
	if err != nil {
		out.TranslateErr = err
		log.Printf("[pipeline] translate %s->%s for recipient=%s failed, sending original: %v", source, receiver.Language, recipientID, err)
	}
	out.Content = content
	out.Translated = translated

	copyEnv := chat.Envelope{
		ID:        p.newID(),
		Content:   content,
		Sender:    sender,
		ChatID:    sub.ChatID,
		CreatedAt: p.now().UTC(),
	}
	delivery := p.router.Route(event.NewMessage, []string{recipientID}, event.MessagePayload{ChatID: sub.ChatID, Message: copyEnv})
	out.Delivered = len(delivery.Delivered) == 1

	record := chat.TranslatedMessage{
		ID:             p.newID(),
		ChatID:         sub.ChatID,
		SenderID:       sender.ID,
		ReceiverID:     recipientID,
		Content:        content,
		TargetLanguage: receiver.Language,
		CreatedAt:      copyEnv.CreatedAt,
	}
	if err := p.persist(ctx, func(ctx context.Context) error { return p.messages.SaveTranslated(ctx, record) }); err != nil {
		out.PersistErr = err
		log.Printf("[pipeline] save translated message chat=%s recipient=%s failed: %v", sub.ChatID, recipientID, err)
	} else {
		out.Persisted = true
	}

	return out
}

// translate returns the original text on any failure so the message is never dropped.
func (p *Pipeline) translate(ctx context.Context, text, source, target string) (string, bool, error) {
	if target == "" || strings.EqualFold(source, target) {
		return text, false, nil
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranslateTimeout)
	defer cancel()

	out, err := p.translator.Translate(tctx, text, source, target)
	if err != nil {
		return text, false, err
	}
	if strings.TrimSpace(out) == "" {
		return text, false, translate.ErrEmptyResult
	}
	return out, true, nil
}

func (p *Pipeline) sourceLanguage(ctx context.Context, sub Submission) string {
	if lang := strings.TrimSpace(sub.Sender.Language); lang != "" {
		return lang
	}

	dctx, cancel := context.WithTimeout(ctx, p.cfg.TranslateTimeout)
	defer cancel()

	lang, err := p.translator.DetectLanguage(dctx, sub.Content)
	if err != nil {
		log.Printf("[pipeline] detect language for sender=%s failed: %v", sub.Sender.ID, err)
		return ""
	}
	return lang
}

func (p *Pipeline) persist(ctx context.Context, write func(context.Context) error) error {
	if p.messages == nil {
		return errors.New("message log not configured")
	}
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistTimeout)
	defer cancel()
	return write(pctx)
}

// recipientsOf drops the sender and duplicate members, keeping order.
func recipientsOf(members []string, senderID string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, id := range members {
		id = strings.TrimSpace(id)
		if id == "" || id == senderID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
