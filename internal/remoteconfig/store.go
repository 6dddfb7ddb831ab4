package remoteconfig

import "sync/atomic"

// Store holds the active Validated configuration behind an atomic pointer.
// The syncer is the sole writer; the collection loop and dispatch registry
// read a snapshot at the top of each cycle and never see a half-applied
// update.
type Store struct {
	current atomic.Pointer[Validated]
}

// NewStore returns a Store seeded with cfg.
func NewStore(cfg Validated) *Store {
	s := &Store{}
	s.current.Store(&cfg)
	return s
}

// Snapshot returns the active configuration. The returned value is a copy of
// the pointer target's top level; callers must not mutate the shared
// sub-config pointers.
func (s *Store) Snapshot() Validated {
	return *s.current.Load()
}

// Swap installs cfg as the active configuration.
func (s *Store) Swap(cfg Validated) {
	s.current.Store(&cfg)
}
