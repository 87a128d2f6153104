package realtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/user"
	realtimesvc "github.com/zhouzirui/polyglot-chat/backend/internal/service/realtime"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
	"github.com/zhouzirui/polyglot-chat/backend/pkg/utils"
)

const emptyAudioContent = "Message is undefined or empty"

// Transcriber is the streaming speech-to-text bridge, keyed by session handle.
type Transcriber interface {
	Start(ctx context.Context, handle, languageHint string) error
	FeedAudio(handle string, samples []float32) error
	Stop(handle string)
}

// Synthesizer turns text into audio in the given recognizer locale.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode string) ([]byte, string, error)
}

// Options tunes the websocket transport.
type Options struct {
	SendBuffer        int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	SynthesizeTimeout time.Duration
}

// DefaultOptions 与原有语音 websocket 保持一致：60s 读超时，54s 心跳
func DefaultOptions() Options {
	return Options{
		SendBuffer:        256,
		MaxMessageSize:    1 << 20,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        54 * time.Second,
		SynthesizeTimeout: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.SynthesizeTimeout <= 0 {
		o.SynthesizeTimeout = d.SynthesizeTimeout
	}
	return o
}

// Deps collects the realtime core the websocket handler drives. Transcriber
// and Synthesizer are optional.
type Deps struct {
	Hub         *Hub
	Directory   *realtimesvc.Directory
	Presence    *realtimesvc.Presence
	Router      *realtimesvc.Router
	Pipeline    *realtimesvc.Pipeline
	Users       user.Store
	Transcriber Transcriber
	Synthesizer Synthesizer
}

// Handler upgrades chat clients and dispatches their events.
type Handler struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建实时通信处理器
func New(deps Deps, opts Options) *Handler {
	return &Handler{
		deps: deps,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// RegisterAPIRoutes mounts the presence snapshot under the API prefix.
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/presence", h.handlePresence)
}

func (h *Handler) handlePresence(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"online":   h.deps.Presence.Snapshot(),
		"sessions": h.deps.Directory.Len(),
	})
}

// identify trusts the upstream auth layer: the user id arrives as a header or
// query parameter and must exist in the user directory.
func (h *Handler) identify(r *http.Request) (user.User, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	if userID == "" {
		return user.User{}, false
	}
	return h.deps.Users.FindByID(userID)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	u, ok := h.identify(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for user=%s: %v", u.ID, err)
		return
	}

	session := chat.Session{
		Handle:      uuid.NewString(),
		UserID:      u.ID,
		ConnectedAt: time.Now().UTC(),
	}
	c := newClient(session, conn, h.opts.SendBuffer)

	if !h.deps.Hub.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteWait))
		_ = conn.Close()
		return
	}
	defer h.deps.Hub.finished()
	h.deps.Directory.Register(u.ID, session.Handle)
	log.Printf("[ws] user=%s connected handle=%s", u.ID, session.Handle)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(h.opts)
	h.readLoop(ctx, c, u)
	h.disconnect(c)
}

func (h *Handler) readLoop(ctx context.Context, c *client, u user.User) {
	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error user=%s: %v", u.ID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		var msg event.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.notice(c, "invalid message format")
			continue
		}
		h.dispatch(ctx, c, u, msg)
	}
}

// disconnect 清理顺序：先停识别，再摘除连接，最后在仍是当前会话时更新在线状态
func (h *Handler) disconnect(c *client) {
	handle, userID := c.session.Handle, c.session.UserID

	if h.deps.Transcriber != nil {
		h.deps.Transcriber.Stop(handle)
	}
	h.deps.Hub.remove(handle)

	if !h.deps.Directory.Release(userID, handle) {
		log.Printf("[ws] user=%s handle=%s closed, newer session kept", userID, handle)
		return
	}
	h.deps.Presence.Leave(userID)
	h.deps.Router.Broadcast(h.deps.Directory.Handles(), event.OnlineUsers, h.deps.Presence.Snapshot())
	log.Printf("[ws] user=%s disconnected handle=%s", userID, handle)
}

func (h *Handler) dispatch(ctx context.Context, c *client, u user.User, msg event.Inbound) {
	switch msg.Kind {
	case event.ChatJoined, event.ChatLeft:
		h.handleMembership(c, u, msg)
	case event.StartTyping, event.StopTyping:
		h.handleTyping(c, msg)
	case event.NewMessage:
		h.handleNewMessage(ctx, c, u, msg.Data)
	case event.TranscriptionStart:
		h.handleTranscriptionStart(ctx, c, u, msg.Data)
	case event.TranscriptionAudio:
		h.handleTranscriptionAudio(c, msg.Data)
	case event.TranscriptionStop:
		if h.deps.Transcriber != nil {
			h.deps.Transcriber.Stop(c.session.Handle)
		}
	case event.GenerateAudio:
		h.handleGenerateAudio(ctx, c, u, msg.Data)
	default:
		h.notice(c, fmt.Sprintf("unknown event type: %s", msg.Kind))
	}
}

func (h *Handler) handleMembership(c *client, u user.User, msg event.Inbound) {
	var payload event.MembershipPayload
	if err := decode(msg.Data, &payload); err != nil {
		h.notice(c, fmt.Sprintf("invalid %s payload", msg.Kind))
		return
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = u.ID
	}

	if msg.Kind == event.ChatJoined {
		h.deps.Presence.Join(userID)
	} else {
		h.deps.Presence.Leave(userID)
	}
	h.deps.Router.Route(event.OnlineUsers, payload.Members, h.deps.Presence.Snapshot())
}

func (h *Handler) handleTyping(c *client, msg event.Inbound) {
	var payload event.TypingPayload
	if err := decode(msg.Data, &payload); err != nil || payload.ChatID == "" {
		h.notice(c, fmt.Sprintf("invalid %s payload", msg.Kind))
		return
	}
	h.deps.Router.RouteExcept(msg.Kind, payload.Members, c.session.Handle, event.ChatRef{ChatID: payload.ChatID})
}

func (h *Handler) handleNewMessage(ctx context.Context, c *client, u user.User, raw json.RawMessage) {
	var payload event.SendMessagePayload
	if err := decode(raw, &payload); err != nil {
		h.notice(c, "invalid NEW_MESSAGE payload")
		return
	}

	_, err := h.deps.Pipeline.Submit(ctx, realtimesvc.Submission{
		ChatID:       payload.ChatID,
		Sender:       u,
		SenderHandle: c.session.Handle,
		Content:      payload.Message,
		Members:      payload.Members,
	})
	if err != nil {
		h.notice(c, err.Error())
	}
}

func (h *Handler) handleTranscriptionStart(ctx context.Context, c *client, u user.User, raw json.RawMessage) {
	if h.deps.Transcriber == nil {
		h.reply(c, event.TranscriptionError, event.ErrorPayload{Error: "transcription unavailable"})
		return
	}

	var payload event.TranscriptionStartPayload
	if err := decode(raw, &payload); err != nil {
		h.notice(c, "invalid TRANSCRIPTION_START payload")
		return
	}
	hint := strings.TrimSpace(payload.Language)
	if hint == "" {
		hint = u.Language
	}

	if err := h.deps.Transcriber.Start(ctx, c.session.Handle, hint); err != nil {
		log.Printf("[ws] start transcription user=%s failed: %v", u.ID, err)
		h.reply(c, event.TranscriptionError, event.ErrorPayload{Error: "failed to start transcription"})
	}
}

func (h *Handler) handleTranscriptionAudio(c *client, raw json.RawMessage) {
	if h.deps.Transcriber == nil {
		return
	}
	var payload event.AudioFramePayload
	if err := decode(raw, &payload); err != nil {
		h.notice(c, "invalid TRANSCRIPTION_AUDIO payload")
		return
	}
	// 写入失败时桥接层会自行重连
	_ = h.deps.Transcriber.FeedAudio(c.session.Handle, payload.Audio)
}

func (h *Handler) handleGenerateAudio(ctx context.Context, c *client, u user.User, raw json.RawMessage) {
	var payload event.GenerateAudioPayload
	if err := decode(raw, &payload); err != nil || strings.TrimSpace(payload.Content) == "" {
		h.reply(c, event.AudioError, event.ErrorPayload{Error: emptyAudioContent})
		return
	}
	if h.deps.Synthesizer == nil {
		h.reply(c, event.AudioError, event.ErrorPayload{Error: "speech synthesis unavailable"})
		return
	}

	language := transcription.ResolveLanguage(u.Language)
	go func() {
		synthCtx, cancel := context.WithTimeout(ctx, h.opts.SynthesizeTimeout)
		defer cancel()

		audio, format, err := h.deps.Synthesizer.Synthesize(synthCtx, payload.Content, language)
		if err != nil {
			log.Printf("[ws] synthesize for user=%s failed: %v", u.ID, err)
			h.reply(c, event.AudioError, event.ErrorPayload{Error: "failed to generate audio"})
			return
		}
		h.reply(c, event.AudioGenerated, event.AudioPayload{
			Audio:  base64.StdEncoding.EncodeToString(audio),
			Format: format,
		})
	}()
}

func (h *Handler) reply(c *client, kind event.Kind, payload any) {
	if err := h.deps.Router.Send(c.session.Handle, kind, payload); err != nil && !errors.Is(err, realtimesvc.ErrSessionGone) {
		log.Printf("[ws] reply %s to user=%s failed: %v", kind, c.session.UserID, err)
	}
}

func (h *Handler) notice(c *client, message string) {
	h.reply(c, event.Error, event.NoticePayload{Message: message})
}

// decode treats an absent or null payload as the zero value.
func decode(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}
