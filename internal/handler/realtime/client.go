package realtime

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/chat"
	realtimesvc "github.com/zhouzirui/polyglot-chat/backend/internal/service/realtime"
)

// ErrSendBufferFull 客户端消费太慢，本次投递被丢弃
var ErrSendBufferFull = errors.New("session send buffer full")

// client is one websocket connection. Frames reach the socket only through
// writePump; done is closed once and never reopened.
type client struct {
	session chat.Session
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

func newClient(session chat.Session, conn *websocket.Conn, buffer int) *client {
	if buffer <= 0 {
		buffer = 1
	}
	return &client{
		session: session,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

func (c *client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return realtimesvc.ErrSessionGone
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return realtimesvc.ErrSessionGone
	default:
		return ErrSendBufferFull
	}
}

// shutdown stops the write pump, which then closes the socket and thereby
// ends the read loop.
func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains the send buffer and keeps the peer alive with pings.
func (c *client) writePump(opts Options) {
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("[ws] write to user=%s handle=%s failed: %v", c.session.UserID, c.session.Handle, err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[ws] ping user=%s failed: %v", c.session.UserID, err)
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(opts.WriteWait))
			return
		}
	}
}
