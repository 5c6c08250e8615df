package hostbridge

import (
	"sync"

	"charasync/internal/domain"
)

// State caches what the host pushes to the daemon: provider readiness and
// the volatile conditions. Readiness checks never leave the process.
type State struct {
	mu    sync.RWMutex
	ready map[string]bool
	cond  domain.Conditions
}

func NewState() *State {
	return &State{ready: make(map[string]bool)}
}

// SetReady records a provider's availability and reports whether it changed
// from not ready to ready.
func (s *State) SetReady(provider string, ready bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.ready[provider]
	s.ready[provider] = ready
	return ready && !was
}

func (s *State) Ready(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready[provider]
}

// Readiness returns a copy of every known provider's state.
func (s *State) Readiness() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.ready))
	for k, v := range s.ready {
		out[k] = v
	}
	return out
}

func (s *State) SetConditions(c domain.Conditions) {
	s.mu.Lock()
	s.cond = c
	s.mu.Unlock()
}

func (s *State) Conditions() domain.Conditions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cond
}
