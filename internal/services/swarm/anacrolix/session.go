package anacrolix

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"charasync/internal/domain"
)

// session is one arena entry. t is nil until the torrent is added.
type session struct {
	mu      sync.Mutex
	hash    domain.ContentHash
	ext     string
	name    string
	addedAt time.Time

	t      *torrent.Torrent
	local  bool // bytes are in the content store
	paused bool
}

func (s *session) torrent() *torrent.Torrent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *session) isLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// pause stops data download on an incomplete session.
func (s *session) pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil || s.local || s.paused {
		return false
	}
	s.t.DisallowDataDownload()
	s.paused = true
	return true
}

func (s *session) resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil || !s.paused {
		return false
	}
	s.t.AllowDataDownload()
	if torrentInfoReady(s.t) {
		s.t.DownloadAll()
	}
	s.paused = false
	return true
}

func (s *session) view() domain.SwarmSession {
	s.mu.Lock()
	t, local, paused := s.t, s.local, s.paused
	s.mu.Unlock()

	v := domain.SwarmSession{
		Name:      s.name,
		Hash:      s.hash,
		State:     domain.SwarmUnknown,
		Paused:    paused,
		UpdatedAt: time.Now().UTC(),
	}
	if t == nil {
		return v
	}
	stats := t.Stats()
	v.Peers = stats.ActivePeers
	v.Seeds = stats.ConnectedSeeders
	if !torrentInfoReady(t) {
		return v
	}

	v.Length = t.Length()
	v.BytesCompleted = t.BytesCompleted()
	if v.Length > 0 {
		v.Progress = float64(v.BytesCompleted) / float64(v.Length)
	}
	switch {
	case local || (v.Length > 0 && v.BytesCompleted >= v.Length):
		v.State = domain.SwarmSeeding
		v.Progress = 1
	default:
		v.State = domain.SwarmFetching
	}
	return v
}
