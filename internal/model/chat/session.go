package chat

import "time"

// Session captures one live client connection owned by a user.
type Session struct {
	Handle      string    `json:"handle"`
	UserID      string    `json:"userId"`
	ConnectedAt time.Time `json:"connectedAt"`
}
