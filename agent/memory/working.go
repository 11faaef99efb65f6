package memory

import (
	"sync"

	"github.com/BaSui01/agentwrap/types"
)

// DefaultMaxMessages is the working window size when none is configured.
const DefaultMaxMessages = 50

// WorkingStore 进程内会话窗口：每个作用域一个有界 FIFO。
// 作用域级互斥保证单写者，不同作用域互不阻塞。
type WorkingStore struct {
	maxMessages int

	mu     sync.Mutex
	scopes map[types.MemoryScope]*window
}

type window struct {
	mu    sync.Mutex
	turns []Turn
}

// NewWorkingStore creates a store capped at maxMessages per scope.
func NewWorkingStore(maxMessages int) *WorkingStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &WorkingStore{
		maxMessages: maxMessages,
		scopes:      make(map[types.MemoryScope]*window),
	}
}

// MaxMessages returns the per-scope cap.
func (s *WorkingStore) MaxMessages() int { return s.maxMessages }

func (s *WorkingStore) window(scope types.MemoryScope, create bool) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.scopes[scope]
	if !ok && create {
		w = &window{}
		s.scopes[scope] = w
	}
	return w
}

// Append adds turns in order, evicting the oldest beyond the cap.
// Either every turn is appended or none is.
func (s *WorkingStore) Append(scope types.MemoryScope, turns ...Turn) error {
	for _, t := range turns {
		if err := t.validate(); err != nil {
			return err
		}
	}
	if len(turns) == 0 {
		return nil
	}

	w := s.window(scope, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.turns = append(w.turns, turns...)
	if over := len(w.turns) - s.maxMessages; over > 0 {
		kept := make([]Turn, s.maxMessages)
		copy(kept, w.turns[over:])
		w.turns = kept
	}
	return nil
}

// Seed fills an empty window; it is a no-op when the window has turns.
func (s *WorkingStore) Seed(scope types.MemoryScope, turns []Turn) bool {
	w := s.window(scope, true)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.turns) > 0 {
		return false
	}
	if len(turns) > s.maxMessages {
		turns = turns[len(turns)-s.maxMessages:]
	}
	w.turns = append([]Turn(nil), turns...)
	return true
}

// Recent returns up to n newest turns, oldest first. n <= 0 returns all.
func (s *WorkingStore) Recent(scope types.MemoryScope, n int) []Turn {
	w := s.window(scope, false)
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.turns) {
		n = len(w.turns)
	}
	out := make([]Turn, n)
	copy(out, w.turns[len(w.turns)-n:])
	return out
}

// Get finds a turn by ID.
func (s *WorkingStore) Get(scope types.MemoryScope, id string) (Turn, bool) {
	w := s.window(scope, false)
	if w == nil {
		return Turn{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.turns {
		if t.ID == id {
			return t, true
		}
	}
	return Turn{}, false
}

// Delete removes a turn by ID.
func (s *WorkingStore) Delete(scope types.MemoryScope, id string) bool {
	w := s.window(scope, false)
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.turns {
		if t.ID == id {
			w.turns = append(w.turns[:i:i], w.turns[i+1:]...)
			return true
		}
	}
	return false
}

// Put upserts a turn by ID. A replaced turn moves to the newest position.
func (s *WorkingStore) Put(scope types.MemoryScope, t Turn) {
	w := s.window(scope, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, old := range w.turns {
		if old.ID == t.ID {
			w.turns = append(w.turns[:i:i], w.turns[i+1:]...)
			break
		}
	}
	w.turns = append(w.turns, t)
	if over := len(w.turns) - s.maxMessages; over > 0 {
		w.turns = append([]Turn(nil), w.turns[over:]...)
	}
}

// Clear drops every turn of scope. The window stays registered so that a
// concurrent Append holding it is not lost.
func (s *WorkingStore) Clear(scope types.MemoryScope) {
	w := s.window(scope, false)
	if w == nil {
		return
	}
	w.mu.Lock()
	w.turns = nil
	w.mu.Unlock()
}

// Reset drops every scope.
func (s *WorkingStore) Reset() {
	s.mu.Lock()
	windows := s.scopes
	s.scopes = make(map[types.MemoryScope]*window)
	s.mu.Unlock()

	for _, w := range windows {
		w.mu.Lock()
		w.turns = nil
		w.mu.Unlock()
	}
}

// Len returns the number of turns held for scope.
func (s *WorkingStore) Len(scope types.MemoryScope) int {
	w := s.window(scope, false)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Stats returns the total turn count and the number of non-empty scopes.
func (s *WorkingStore) Stats() (records, scopes int) {
	s.mu.Lock()
	windows := make([]*window, 0, len(s.scopes))
	for _, w := range s.scopes {
		windows = append(windows, w)
	}
	s.mu.Unlock()

	for _, w := range windows {
		w.mu.Lock()
		if n := len(w.turns); n > 0 {
			records += n
			scopes++
		}
		w.mu.Unlock()
	}
	return records, scopes
}
