package compound

import (
	"context"
	"sync"
	"time"
)

// ReplaySet records digests of executed payloads. MarkUsed must be atomic:
// exactly one caller for a given digest sees inserted=true, ever. The digest
// is inserted before the external call goes out, so a reentrant execution of
// the same payload is rejected mid-flight.
type ReplaySet interface {
	// MarkUsed inserts the digest. Returns false if it was already present.
	MarkUsed(ctx context.Context, digest string, deadline time.Time) (bool, error)
	// Seen reports whether the digest was recorded.
	Seen(ctx context.Context, digest string) (bool, error)
}

// MemoryReplaySet is a process-local ReplaySet for tests and paper mode.
// The set grows without bound; Prune drops entries whose payload deadline
// passed longer than the retention window ago, which is safe because such
// payloads are unexecutable anyway.
type MemoryReplaySet struct {
	mu   sync.Mutex
	used map[string]time.Time // digest -> payload deadline
}

func NewMemoryReplaySet() *MemoryReplaySet {
	return &MemoryReplaySet{used: make(map[string]time.Time)}
}

func (s *MemoryReplaySet) MarkUsed(_ context.Context, digest string, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[digest]; ok {
		return false, nil
	}
	s.used[digest] = deadline
	return true, nil
}

func (s *MemoryReplaySet) Seen(_ context.Context, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[digest]
	return ok, nil
}

func (s *MemoryReplaySet) Prune(retention time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for digest, deadline := range s.used {
		if now.Sub(deadline) > retention {
			delete(s.used, digest)
			removed++
		}
	}
	return removed
}

func (s *MemoryReplaySet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}
