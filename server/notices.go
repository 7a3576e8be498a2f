package server

import (
	"sync"
	"time"

	"sectional_blog_writer/workflow"
)

const defaultNoticeCap = 32

type notice struct {
	Kind    workflow.NoticeKind `json:"kind"`
	Message string              `json:"message"`
	At      time.Time           `json:"at"`
}

// noticeQueue buffers toasts for the client to pick up on its next request.
// When full the oldest notice is dropped.
type noticeQueue struct {
	mu    sync.Mutex
	cap   int
	items []notice
}

func newNoticeQueue(capacity int) *noticeQueue {
	if capacity <= 0 {
		capacity = defaultNoticeCap
	}
	return &noticeQueue{cap: capacity}
}

func (q *noticeQueue) Notify(kind workflow.NoticeKind, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == q.cap {
		q.items = q.items[1:]
	}
	q.items = append(q.items, notice{Kind: kind, Message: message, At: time.Now().UTC()})
}

func (q *noticeQueue) drain() []notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

type entry struct {
	session *workflow.Session
	notices *noticeQueue
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func newStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*entry)}
}

func (s *sessionStore) get(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func (s *sessionStore) set(id string, e *entry) {
	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
