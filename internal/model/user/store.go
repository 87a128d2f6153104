package user

import (
	"encoding/json"
	"fmt"
	"os"
)

// Store exposes user lookup for the realtime core and HTTP handlers.
type Store interface {
	List() []User
	FindByID(id string) (User, bool)
}

// MemoryStore implements Store with an immutable in-memory index.
type MemoryStore struct {
	items []User
	byID  map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
// Later entries win when IDs repeat.
func NewMemoryStore(items []User) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, item := range items {
		if idx, ok := s.byID[item.ID]; ok {
			s.items[idx] = item
			continue
		}
		s.byID[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// LoadFile reads a JSON array of users from path.
func LoadFile(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode users file %s: %w", path, err)
	}
	for i, u := range users {
		if u.ID == "" {
			return nil, fmt.Errorf("users file %s: entry %d has no id", path, i)
		}
	}
	return users, nil
}

// List returns a copy of every known user.
func (s *MemoryStore) List() []User {
	return append([]User(nil), s.items...)
}

// FindByID looks up a user by identifier.
func (s *MemoryStore) FindByID(id string) (User, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return s.items[idx], true
}
