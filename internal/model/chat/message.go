package chat

import "time"

// Sender identifies the author of a message as shown to recipients.
type Sender struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Envelope is one delivered copy of a message. Every copy carries its own ID,
// so the sender copy and each recipient copy are distinct identities.
type Envelope struct {
	ID        string    `json:"_id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	ChatID    string    `json:"chat"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is the canonical, original-language record persisted once per send.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TranslatedMessage persists the copy delivered to one recipient in its language.
type TranslatedMessage struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chatId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	TargetLanguage string    `json:"targetLanguage"`
	CreatedAt      time.Time `json:"createdAt"`
}
