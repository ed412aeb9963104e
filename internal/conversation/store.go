// Package conversation holds the ordered message log of one assistant
// session.
//
// The log is append-mostly. The only in-place mutation is on the final
// entry (ReplaceTail, SetTailPending), which is how the pending assistant
// placeholder becomes the real reply.
package conversation

import "sync"

// Store is the conversation log. All operations are total.
type Store struct {
	mu          sync.RWMutex
	messages    []Message
	subscribers map[int]chan []Message
	nextSubID   int
}

// NewStore returns an empty log.
func NewStore() *Store {
	return &Store{subscribers: make(map[int]chan []Message)}
}

// Append adds a message at the end of the log.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.publishLocked()
	s.mu.Unlock()
}

// ReplaceTail overwrites the final entry. No-op on an empty log.
func (s *Store) ReplaceTail(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	s.messages[len(s.messages)-1] = msg
	s.publishLocked()
}

// SetTailPending toggles the pending flag of the final entry. No-op on an
// empty log.
func (s *Store) SetTailPending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	s.messages[len(s.messages)-1].Pending = pending
	s.publishLocked()
}

// Clear empties the log.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.publishLocked()
	s.mu.Unlock()
}

// Replace swaps the whole log, used when restoring an archived
// conversation.
func (s *Store) Replace(messages []Message) {
	s.mu.Lock()
	s.messages = append([]Message(nil), messages...)
	s.publishLocked()
	s.mu.Unlock()
}

// History returns a copy of the ordered log.
func (s *Store) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// LastUserMessage returns the most recent user message.
func (s *Store) LastUserMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsUser() {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a channel receiving a snapshot after every mutation,
// starting with the current one. A slow reader only ever sees the latest
// snapshot. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan []Message, func()) {
	ch := make(chan []Message, 1)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) publishLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snapshot := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
