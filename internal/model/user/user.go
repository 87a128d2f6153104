package user

// User is the minimal profile the realtime core needs: who someone is and which
// language their copies of a message should be translated into.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"` // 前端语言代码，如 en、hi、zh
	Voice    string `json:"voice,omitempty"`
}

// Seed provides a small default roster for local development.
func Seed() []User {
	return []User{
		{ID: "alice", Name: "Alice", Language: "en"},
		{ID: "ravi", Name: "Ravi", Language: "hi"},
		{ID: "mei", Name: "Mei", Language: "zh"},
		{ID: "lucia", Name: "Lucía", Language: "es"},
	}
}
