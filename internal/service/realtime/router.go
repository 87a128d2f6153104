package realtime

import (
	"errors"
	"log"
	"time"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
)

// ErrSessionGone is returned by a Transport when the handle no longer exists.
var ErrSessionGone = errors.New("session not connected")

// Transport writes one event to one live session. Implementations must not
// block on a slow peer.
type Transport interface {
	Send(handle string, ev event.Event) error
}

// Delivery summarises one fan-out.
type Delivery struct {
	Delivered []string         // user IDs whose session accepted the event
	Offline   []string         // user IDs with no live session
	Failed    map[string]error // user ID -> send error
}

// Router resolves user IDs to sessions and delivers to each independently.
type Router struct {
	directory *Directory
	transport Transport
	now       func() time.Time
}

// NewRouter wires a router to the session directory and the transport.
func NewRouter(directory *Directory, transport Transport) *Router {
	return &Router{directory: directory, transport: transport, now: time.Now}
}

// Route delivers payload to every online user in userIDs. Offline users are
// skipped silently; a failed send is recorded and the loop continues.
func (r *Router) Route(kind event.Kind, userIDs []string, payload any) Delivery {
	return r.RouteExcept(kind, userIDs, "", payload)
}

// RouteExcept is Route that never delivers to exceptHandle.
func (r *Router) RouteExcept(kind event.Kind, userIDs []string, exceptHandle string, payload any) Delivery {
	var result Delivery
	ev := r.newEvent(kind, payload)

	for _, res := range r.directory.Resolve(userIDs) {
		if !res.OK {
			result.Offline = append(result.Offline, res.UserID)
			continue
		}
		if exceptHandle != "" && res.Handle == exceptHandle {
			continue
		}
		if err := r.transport.Send(res.Handle, ev); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]error)
			}
			result.Failed[res.UserID] = err
			log.Printf("[router] deliver %s to user=%s failed: %v", kind, res.UserID, err)
			continue
		}
		result.Delivered = append(result.Delivered, res.UserID)
	}

	return result
}

// Send writes a single event to one handle.
func (r *Router) Send(handle string, kind event.Kind, payload any) error {
	return r.transport.Send(handle, r.newEvent(kind, payload))
}

// Broadcast writes the same event to each handle, logging failures.
func (r *Router) Broadcast(handles []string, kind event.Kind, payload any) int {
	ev := r.newEvent(kind, payload)
	sent := 0
	for _, handle := range handles {
		if err := r.transport.Send(handle, ev); err != nil {
			log.Printf("[router] broadcast %s to handle=%s failed: %v", kind, handle, err)
			continue
		}
		sent++
	}
	return sent
}

func (r *Router) newEvent(kind event.Kind, payload any) event.Event {
	return event.Event{Kind: kind, Data: payload, Timestamp: r.now().Unix()}
}
