package watch

import (
	"sync"
	"time"

	"github.com/danmuck/mpdctl/internal/protocol"
)

// Snapshot is the latest view of the daemon published to admin clients.
type Snapshot struct {
	Connected           bool             `json:"connected"`
	Version             string           `json:"version,omitempty"`
	Status              *protocol.Status `json:"status,omitempty"`
	LastUpdated         time.Time        `json:"last_updated"`
	LastError           string           `json:"last_error,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// IsOffline reports whether polling has failed repeatedly.
func (s Snapshot) IsOffline() bool {
	return !s.Connected || s.ConsecutiveFailures >= 2
}

// Store holds the snapshot and fans updates out to subscribers. Slow
// subscribers only ever see the newest snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}
}

func NewStore() *Store {
	return &Store{subs: make(map[chan Snapshot]struct{})}
}

// Update records a poll result. On error the previous status is kept.
func (s *Store) Update(status *protocol.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.LastUpdated = time.Now()
	if err != nil {
		s.snapshot.LastError = err.Error()
		s.snapshot.ConsecutiveFailures++
		s.publishLocked()
		return
	}
	if status != nil {
		dup := *status
		s.snapshot.Status = &dup
	}
	s.snapshot.LastError = ""
	s.snapshot.ConsecutiveFailures = 0
	s.publishLocked()
}

// SetConnection records a connect or a loss. A loss drops the status.
func (s *Store) SetConnection(connected bool, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Connected = connected
	s.snapshot.Version = version
	if !connected {
		s.snapshot.Status = nil
	}
	s.snapshot.LastUpdated = time.Now()
	s.publishLocked()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Subscribe returns a channel of future snapshots and a cancel func.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) publishLocked() {
	snap := s.snapshot
	for ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
