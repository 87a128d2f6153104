package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
)

type sentEvent struct {
	Handle string
	Event  event.Event
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentEvent
	broken map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{broken: make(map[string]error)}
}

func (t *fakeTransport) Send(handle string, ev event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.broken[handle]; ok {
		return err
	}
	t.sent = append(t.sent, sentEvent{Handle: handle, Event: ev})
	return nil
}

func (t *fakeTransport) fail(handle string, err error) {
	t.mu.Lock()
	t.broken[handle] = err
	t.mu.Unlock()
}

func (t *fakeTransport) to(handle string) []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []event.Event
	for _, s := range t.sent {
		if s.Handle == handle {
			out = append(out, s.Event)
		}
	}
	return out
}

func (t *fakeTransport) all() []sentEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentEvent(nil), t.sent...)
}

type fakeTranslator struct {
	mu      sync.Mutex
	replies map[string]string // target -> text
	errs    map[string]error
	detect  string
	calls   int
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[target]; ok {
		return "", err
	}
	if reply, ok := f.replies[target]; ok {
		return reply, nil
	}
	return text, nil
}

func (f *fakeTranslator) DetectLanguage(context.Context, string) (string, error) {
	if f.detect == "" {
		return "", errors.New("detect unavailable")
	}
	return f.detect, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLog struct {
	mu         sync.Mutex
	messages   []chat.Message
	translated []chat.TranslatedMessage
	failFor    string // receiver ID whose translated save fails
}

func (l *fakeLog) SaveMessage(_ context.Context, msg chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	return nil
}

func (l *fakeLog) SaveTranslated(_ context.Context, msg chat.TranslatedMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFor != "" && msg.ReceiverID == l.failFor {
		return errors.New("disk full")
	}
	l.translated = append(l.translated, msg)
	return nil
}

func (l *fakeLog) snapshot() ([]chat.Message, []chat.TranslatedMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chat.Message(nil), l.messages...), append([]chat.TranslatedMessage(nil), l.translated...)
}
