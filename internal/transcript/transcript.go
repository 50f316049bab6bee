// Package transcript holds the ordered, append-only conversation log.
// The store is the single source of truth rendered by the UI; entries are
// immutable once appended and never reordered.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDebug     Role = "debug"
	RoleError     Role = "error"
)

// Kind identifies how a message should be rendered.
type Kind string

const (
	KindPlain  Kind = "plain"
	KindLink   Kind = "link"
	KindPicker Kind = "picker"
)

// Source identifies which backend produced an assistant message.
type Source string

const (
	SourcePrimary    Source = "primary"
	SourceServiceNow Source = "servicenow"
)

// Message is a single immutable transcript entry.
type Message struct {
	ID        string
	Seq       int // insertion order, 0-based
	Role      Role
	Kind      Kind
	Text      string
	Source    Source
	CreatedAt time.Time
}

// Store is an append-only, insertion-ordered message log.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	onAppend func(Message)
}

// NewStore creates an empty transcript store.
func NewStore() *Store {
	return &Store{}
}

// OnAppend registers a callback invoked (outside the lock) for every
// appended message. Used by the UI to observe the transcript; only one
// observer is supported.
func (s *Store) OnAppend(fn func(Message)) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// Append adds a message to the log, assigning its id, sequence number and
// timestamp. Returns the stored message.
func (s *Store) Append(role Role, kind Kind, text string, source Source) Message {
	s.mu.Lock()
	msg := Message{
		ID:        uuid.NewString(),
		Seq:       len(s.messages),
		Role:      role,
		Kind:      kind,
		Text:      text,
		Source:    source,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	notify := s.onAppend
	s.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
	return msg
}

// Messages returns a snapshot of the log in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the most recent message and true, or a zero Message and
// false when the log is empty.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}
