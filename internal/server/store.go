package server

import (
	"context"
	"sync"

	"github.com/Soochol/WF-EOL-TESTER-sub007/orchestrator"
)

// ResultStore keeps finished runs in memory, newest last, capped so a bench
// left running for weeks does not grow without bound. It is the default
// orchestrator.ResultSink.
type ResultStore struct {
	mu  sync.RWMutex
	cap int
	m   map[string]*orchestrator.TestRun
	ids []string
}

const defaultResultCap = 200

func NewResultStore() *ResultStore {
	return &ResultStore{cap: defaultResultCap, m: make(map[string]*orchestrator.TestRun)}
}

// SaveResult implements orchestrator.ResultSink.
func (s *ResultStore) SaveResult(_ context.Context, run *orchestrator.TestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[run.ID]; !exists {
		s.ids = append(s.ids, run.ID)
	}
	s.m[run.ID] = run
	for len(s.ids) > s.cap {
		delete(s.m, s.ids[0])
		s.ids = s.ids[1:]
	}
	return nil
}

func (s *ResultStore) Get(id string) (*orchestrator.TestRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

// List returns the stored runs, oldest first.
func (s *ResultStore) List() []*orchestrator.TestRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*orchestrator.TestRun, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.m[id])
	}
	return out
}
