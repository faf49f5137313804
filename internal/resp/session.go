// Package resp implements the RESP2/RESP3 session layer (spec.md §5): a
// redcon-based listener, per-connection session state, and the command
// dispatch table wiring every verb to its ops package.
package resp

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var nextClientID atomic.Uint64

// queuedCmd is one command buffered between MULTI and EXEC.
type queuedCmd struct {
	name string
	args [][]byte
}

// Session is one client connection's mutable state: selected database,
// transaction queue, WATCH set, and identity fields used by CLIENT/HELLO.
type Session struct {
	mu sync.Mutex

	ID   uint64
	UUID string
	Name string
	DB   int

	Authenticated bool
	RESP3         bool

	inMulti bool
	dirty   bool // a queued command failed validation; EXEC must abort
	queue   []queuedCmd

	// watches maps "db:key" to the key's version observed at WATCH time; a
	// mismatch at EXEC aborts the transaction (spec.md §4.9).
	watches map[string]int64
}

func newSession() *Session {
	return &Session{
		ID:   nextClientID.Add(1),
		UUID: uuid.NewString(),
		DB:   0,
	}
}

func watchKey(db int, key string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(db))
	b.WriteByte(':')
	b.WriteString(key)
	return b.String()
}

func (s *Session) startMulti() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inMulti = true
	s.dirty = false
	s.queue = nil
}

func (s *Session) queueCommand(name string, args [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, queuedCmd{name: name, args: args})
}

func (s *Session) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

func (s *Session) discardMulti() ([]queuedCmd, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasInMulti := s.inMulti
	s.inMulti = false
	s.dirty = false
	queue := s.queue
	s.queue = nil
	s.watches = nil
	return queue, wasInMulti
}

func (s *Session) inTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inMulti
}

func (s *Session) isDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) addWatch(db int, key string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watches == nil {
		s.watches = map[string]int64{}
	}
	s.watches[watchKey(db, key)] = version
}

func (s *Session) clearWatches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = nil
}

func (s *Session) watchSnapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.watches))
	for k, v := range s.watches {
		out[k] = v
	}
	return out
}
