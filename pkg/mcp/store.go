package mcp

import (
	"sort"
	"sync"
)

// ServerView is the read-only projection of one server that presentation
// code consumes.
type ServerView struct {
	ID         string
	Name       string
	State      ConnectionState
	Attempt    int
	ToolCount  int
	LastError  string
	ServerInfo *ServerInfo
}

// Store mirrors registry and connection changes into snapshots. It
// subscribes to the manager's events and re-projects the affected server on
// each one; reads are lock-scoped copies, never live references.
type Store struct {
	manager *Manager

	mu    sync.RWMutex
	views map[string]ServerView

	unsub func()
	done  chan struct{}
}

// NewStore builds a store over m, seeded from its current status, and starts
// following its events.
func NewStore(m *Manager) *Store {
	s := &Store{
		manager: m,
		views:   make(map[string]ServerView),
		done:    make(chan struct{}),
	}

	for _, st := range m.Status() {
		s.views[st.ID] = viewFromStatus(st)
	}

	ch, unsub := m.Subscribe(128)
	s.unsub = unsub
	go s.follow(ch)

	return s
}

// Snapshot returns all server views, ordered by id.
func (s *Store) Snapshot() []ServerView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServerView, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the view for one server.
func (s *Store) Get(id string) (ServerView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[id]
	return v, ok
}

// Close stops following manager events.
func (s *Store) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	s.unsub()
	<-s.done
}

func (s *Store) follow(ch <-chan Event) {
	defer close(s.done)
	for ev := range ch {
		s.project(ev.ServerID)
	}
}

// project re-reads one server's status from the manager. A lookup failure
// means the server was removed; its view is dropped.
func (s *Store) project(id string) {
	if id == "" {
		return
	}
	st, err := s.manager.ServerStatus(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.views, id)
		return
	}
	s.views[id] = viewFromStatus(*st)
}

func viewFromStatus(st ServerStatus) ServerView {
	return ServerView{
		ID:         st.ID,
		Name:       st.Name,
		State:      st.State,
		Attempt:    st.Attempt,
		ToolCount:  len(st.Tools),
		LastError:  st.Error,
		ServerInfo: st.ServerInfo,
	}
}
