package route

import (
	"strings"
	"sync"
)

// Session is the routing state of one logical connection: the read-your-writes flag and hint
// values set by the application. It is handed to every Route call explicitly.
type Session struct {
	mu         sync.Mutex
	written    bool
	masterOnly bool
	dbHints    map[string][]any
	tbHints    map[string][]any
}

func NewSession() *Session {
	return &Session{dbHints: map[string][]any{}, tbHints: map[string][]any{}}
}

// MarkWritten makes later reads of this session go to the master.
func (s *Session) MarkWritten() {
	s.mu.Lock()
	s.written = true
	s.mu.Unlock()
}

func (s *Session) HasWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// ClearWritten is called by the transaction collaborator when a transaction ends.
func (s *Session) ClearWritten() {
	s.mu.Lock()
	s.written = false
	s.mu.Unlock()
}

func (s *Session) SetMasterRouteOnly(on bool) {
	s.mu.Lock()
	s.masterOnly = on
	s.mu.Unlock()
}

func (s *Session) IsMasterRouteOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterOnly
}

// AddDatabaseHint adds values used by a hint database strategy of logicTable.
func (s *Session) AddDatabaseHint(logicTable string, values ...any) {
	s.mu.Lock()
	key := strings.ToLower(logicTable)
	s.dbHints[key] = append(s.dbHints[key], values...)
	s.mu.Unlock()
}

// AddTableHint adds values used by a hint table strategy of logicTable.
func (s *Session) AddTableHint(logicTable string, values ...any) {
	s.mu.Lock()
	key := strings.ToLower(logicTable)
	s.tbHints[key] = append(s.tbHints[key], values...)
	s.mu.Unlock()
}

func (s *Session) DatabaseHints(logicTable string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.dbHints[strings.ToLower(logicTable)]...)
}

func (s *Session) TableHints(logicTable string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.tbHints[strings.ToLower(logicTable)]...)
}

// ClearHints drops hint values and the master-only flag.
func (s *Session) ClearHints() {
	s.mu.Lock()
	s.dbHints = map[string][]any{}
	s.tbHints = map[string][]any{}
	s.masterOnly = false
	s.mu.Unlock()
}
