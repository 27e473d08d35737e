package analyzer

import (
	"sync"
	"time"
)

// StabilityStore tracks the last output hash seen per input hash for
// the process lifetime. Divergence detection is best-effort: writes are
// exclusive, but a read-then-write race only risks a missed alert,
// never a wrong record, because the latest hash is always stored.
type StabilityStore struct {
	mu sync.Mutex
	m  map[string]stabilityEntry
}

type stabilityEntry struct {
	outputHash string
	recordedAt time.Time
}

func NewStabilityStore() *StabilityStore {
	return &StabilityStore{m: make(map[string]stabilityEntry)}
}

// CheckAndRecord compares outputHash against the previous record for
// inputHash and stores the new value unconditionally. Returns the
// previous hash and whether it diverged.
func (s *StabilityStore) CheckAndRecord(inputHash, outputHash string, now time.Time) (prev string, diverged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[inputHash]; ok {
		prev = e.outputHash
		diverged = e.outputHash != outputHash
	}
	s.m[inputHash] = stabilityEntry{outputHash: outputHash, recordedAt: now}
	return prev, diverged
}

// Len reports the number of tracked inputs.
func (s *StabilityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
