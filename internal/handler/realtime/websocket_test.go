package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/user"
	realtimesvc "github.com/zhouzirui/polyglot-chat/backend/internal/service/realtime"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/memory"
)

type prefixTranslator struct{}

func (prefixTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	return "[" + target + "] " + text, nil
}

func (prefixTranslator) DetectLanguage(context.Context, string) (string, error) {
	return "en", nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	starts  []string
	samples int
	stops   []string
}

func (f *fakeTranscriber) Start(_ context.Context, handle, hint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, hint)
	return nil
}

func (f *fakeTranscriber) FeedAudio(_ string, samples []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples += len(samples)
	return nil
}

func (f *fakeTranscriber) Stop(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, handle)
}

func (f *fakeTranscriber) snapshot() ([]string, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...), f.samples, len(f.stops)
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	language string
	err      error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, language string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = language
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("audio:" + text), "mp3", nil
}

type fixture struct {
	srv         *httptest.Server
	deps        Deps
	log         *memory.Store
	transcriber *fakeTranscriber
	synth       *fakeSynthesizer
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()

	hub := NewHub()
	directory := realtimesvc.NewDirectory()
	router := realtimesvc.NewRouter(directory, hub)
	users := user.NewMemoryStore(user.Seed())
	log := memory.New()
	pipeline := realtimesvc.NewPipeline(router, users, prefixTranslator{}, log, realtimesvc.DefaultPipelineConfig())

	f := &fixture{log: log, transcriber: &fakeTranscriber{}, synth: &fakeSynthesizer{}}
	f.deps = Deps{
		Hub:         hub,
		Directory:   directory,
		Presence:    realtimesvc.NewPresence(),
		Router:      router,
		Pipeline:    pipeline,
		Users:       users,
		Transcriber: f.transcriber,
		Synthesizer: f.synth,
	}
	for _, m := range mutate {
		m(&f.deps)
	}

	h := New(f.deps, Options{})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Route("/api", h.RegisterAPIRoutes)

	f.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		f.srv.Close()
		pipeline.Wait()
	})
	return f
}

func (f *fixture) wsURL(userID string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?userId=" + userID
}

// dial connects userID and waits until the server has registered the new session.
func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	previous, _ := f.deps.Directory.Lookup(userID)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		handle, ok := f.deps.Directory.Lookup(userID)
		return ok && handle != previous
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

type frame struct {
	Type event.Kind      `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, kind event.Kind, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": kind, "data": data}))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func readData[T any](t *testing.T, conn *websocket.Conn, kind event.Kind) T {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, kind, f.Type, "data: %s", f.Data)

	var out T
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

func TestUnknownUserIsRejected(t *testing.T) {
	f := newFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("ghost"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHeaderIdentity(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"mei"}})
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, ok := f.deps.Directory.Lookup("mei")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewMessageFansOutTranslatedCopies(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	ravi := f.dial(t, "ravi")

	send(t, alice, event.NewMessage, event.SendMessagePayload{
		ChatID:  "c1",
		Members: []string{"alice", "ravi"},
		Message: "hello",
	})

	own := readData[event.MessagePayload](t, alice, event.NewMessage)
	assert.Equal(t, "c1", own.ChatID)
	assert.Equal(t, "hello", own.Message.Content)
	assert.Equal(t, "alice", own.Message.Sender.ID)

	copyForRavi := readData[event.MessagePayload](t, ravi, event.NewMessage)
	assert.Equal(t, "[hi] hello", copyForRavi.Message.Content)
	assert.NotEqual(t, own.Message.ID, copyForRavi.Message.ID)

	alert := readData[event.ChatRef](t, ravi, event.NewMessageAlert)
	assert.Equal(t, "c1", alert.ChatID)

	f.deps.Pipeline.Wait()
	messages, err := f.log.ListMessages(context.Background(), "c1", store.Page{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, own.Message.ID, messages[0].ID)

	translated, err := f.log.ListTranslated(context.Background(), "c1", "hi", store.Page{})
	require.NoError(t, err)
	require.Len(t, translated, 1)
	assert.Equal(t, "ravi", translated[0].ReceiverID)
}

func TestEmptyMessageIsRejected(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, event.NewMessage, event.SendMessagePayload{ChatID: "c1", Members: []string{"alice", "ravi"}})

	notice := readData[event.NoticePayload](t, alice, event.Error)
	assert.Equal(t, realtimesvc.ErrEmptyMessage.Error(), notice.Message)
}

func TestUnknownEventAndBadFrame(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, "DANCE", nil)
	notice := readData[event.NoticePayload](t, alice, event.Error)
	assert.Contains(t, notice.Message, "DANCE")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	notice = readData[event.NoticePayload](t, alice, event.Error)
	assert.Equal(t, "invalid message format", notice.Message)
}

func TestTypingIsNotEchoedToSender(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")
	ravi := f.dial(t, "ravi")

	send(t, alice, event.StartTyping, event.TypingPayload{ChatID: "c1", Members: []string{"alice", "ravi"}})
	typing := readData[event.ChatRef](t, ravi, event.StartTyping)
	assert.Equal(t, "c1", typing.ChatID)

	// 若发送者收到了回显，它会先于这条错误到达
	send(t, alice, "PING", nil)
	assert.Equal(t, event.Error, readFrame(t, alice).Type)

	send(t, alice, event.StopTyping, event.TypingPayload{ChatID: "c1", Members: []string{"ravi"}})
	assert.Equal(t, event.StopTyping, readFrame(t, ravi).Type)
}

func TestPresenceJoinLeaveAndDisconnect(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, event.ChatJoined, event.MembershipPayload{UserID: "alice", Members: []string{"alice"}})
	assert.Equal(t, []string{"alice"}, readData[[]string](t, alice, event.OnlineUsers))

	ravi := f.dial(t, "ravi")
	send(t, ravi, event.ChatJoined, event.MembershipPayload{UserID: "ravi", Members: []string{"alice", "ravi"}})
	assert.Equal(t, []string{"alice", "ravi"}, readData[[]string](t, alice, event.OnlineUsers))
	assert.Equal(t, []string{"alice", "ravi"}, readData[[]string](t, ravi, event.OnlineUsers))

	require.NoError(t, ravi.Close())
	assert.Equal(t, []string{"alice"}, readData[[]string](t, alice, event.OnlineUsers))

	resp, err := http.Get(f.srv.URL + "/api/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Online   []string `json:"online"`
		Sessions int      `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"alice"}, body.Online)
	assert.Equal(t, 1, body.Sessions)

	send(t, alice, event.ChatLeft, event.MembershipPayload{Members: []string{"alice"}})
	assert.Empty(t, readData[[]string](t, alice, event.OnlineUsers))
}

func TestReconnectKeepsNewerSession(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t, "alice")
	send(t, first, event.ChatJoined, event.MembershipPayload{UserID: "alice", Members: []string{"alice"}})
	readFrame(t, first)

	second := f.dial(t, "alice")
	handle, ok := f.deps.Directory.Lookup("alice")
	require.True(t, ok)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return f.deps.Hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return !f.deps.Presence.IsOnline("alice") }, 150*time.Millisecond, 10*time.Millisecond)

	current, ok := f.deps.Directory.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, handle, current)

	send(t, second, "PING", nil)
	assert.Equal(t, event.Error, readFrame(t, second).Type)
}

func TestGenerateAudioRejectsEmptyContent(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, event.GenerateAudio, event.GenerateAudioPayload{Content: "  "})
	got := readData[event.ErrorPayload](t, alice, event.AudioError)
	assert.Equal(t, "Message is undefined or empty", got.Error)

	send(t, alice, event.GenerateAudio, nil)
	got = readData[event.ErrorPayload](t, alice, event.AudioError)
	assert.Equal(t, "Message is undefined or empty", got.Error)
}

func TestGenerateAudioUsesUserLanguage(t *testing.T) {
	f := newFixture(t)
	ravi := f.dial(t, "ravi")

	send(t, ravi, event.GenerateAudio, event.GenerateAudioPayload{Content: "namaste"})
	got := readData[event.AudioPayload](t, ravi, event.AudioGenerated)

	audio, err := base64.StdEncoding.DecodeString(got.Audio)
	require.NoError(t, err)
	assert.Equal(t, "audio:namaste", string(audio))
	assert.Equal(t, "mp3", got.Format)

	f.synth.mu.Lock()
	defer f.synth.mu.Unlock()
	assert.Equal(t, "hi-IN", f.synth.language)
}

func TestGenerateAudioFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.err = errors.New("tts down")
	alice := f.dial(t, "alice")

	send(t, alice, event.GenerateAudio, event.GenerateAudioPayload{Content: "hi"})
	got := readData[event.ErrorPayload](t, alice, event.AudioError)
	assert.Equal(t, "failed to generate audio", got.Error)
}

func TestTranscriptionEventsReachTheBridge(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, event.TranscriptionStart, nil)
	send(t, alice, event.TranscriptionStart, event.TranscriptionStartPayload{Language: "hi"})
	send(t, alice, event.TranscriptionAudio, event.AudioFramePayload{Audio: []float32{0.1, -0.2, 0.3}})
	send(t, alice, event.TranscriptionStop, nil)

	require.Eventually(t, func() bool {
		starts, samples, stops := f.transcriber.snapshot()
		return len(starts) == 2 && samples == 3 && stops == 1
	}, 2*time.Second, 5*time.Millisecond)

	starts, _, _ := f.transcriber.snapshot()
	assert.Equal(t, []string{"en", "hi"}, starts)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool {
		_, _, stops := f.transcriber.snapshot()
		return stops == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTranscriptionUnavailable(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Transcriber = nil })
	alice := f.dial(t, "alice")

	send(t, alice, event.TranscriptionStart, nil)
	got := readData[event.ErrorPayload](t, alice, event.TranscriptionError)
	assert.Equal(t, "transcription unavailable", got.Error)
}

func TestHubSendUnknownHandle(t *testing.T) {
	hub := NewHub()
	err := hub.Send("missing", event.Event{Kind: event.Error})
	assert.ErrorIs(t, err, realtimesvc.ErrSessionGone)
}

func TestHubFullBufferFailsOnlyThatSession(t *testing.T) {
	hub := NewHub()
	slow := newClient(chat.Session{Handle: "slow", UserID: "alice"}, nil, 1)
	fast := newClient(chat.Session{Handle: "fast", UserID: "ravi"}, nil, 4)
	hub.add(slow)
	hub.add(fast)

	ev := event.Event{Kind: event.NewMessageAlert, Data: event.ChatRef{ChatID: "c1"}}
	require.NoError(t, hub.Send("slow", ev))
	assert.ErrorIs(t, hub.Send("slow", ev), ErrSendBufferFull)
	assert.NoError(t, hub.Send("fast", ev))
	assert.NoError(t, hub.Send("fast", ev))
	assert.Equal(t, 2, hub.Len())
}

func TestHubSendAfterRemove(t *testing.T) {
	hub := NewHub()
	c := newClient(chat.Session{Handle: "h1", UserID: "alice"}, nil, 4)
	hub.add(c)
	hub.remove("h1")

	assert.ErrorIs(t, hub.Send("h1", event.Event{Kind: event.Error}), realtimesvc.ErrSessionGone)
	assert.ErrorIs(t, c.enqueue([]byte("{}")), realtimesvc.ErrSessionGone)
	assert.Equal(t, 0, hub.Len())
}

func TestHubRejectsClientsAfterCloseAll(t *testing.T) {
	hub := NewHub()
	hub.CloseAll()

	c := newClient(chat.Session{Handle: "h1", UserID: "alice"}, nil, 4)
	assert.False(t, hub.add(c))
	assert.Equal(t, 0, hub.Len())
	require.NoError(t, hub.Wait(context.Background()))
}

func TestCloseAllWaitsForConnectionHandlers(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "alice")

	f.deps.Hub.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.deps.Hub.Wait(ctx))

	// 处理 goroutine 返回前已完成断开清理
	_, online := f.deps.Directory.Lookup("alice")
	assert.False(t, online)
	assert.Equal(t, 0, f.deps.Hub.Len())

	late, _, err := websocket.DefaultDialer.Dial(f.wsURL("ravi"), nil)
	require.NoError(t, err)
	defer late.Close()
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
