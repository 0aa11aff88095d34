// Package iostate composes the engine's five snapshotted caches (storage,
// transient storage, events, L2->L1 messages, account properties) behind
// the unified IO subsystem interface consumed by execution environments.
// Grounded on core/state/access_events.go and core/state/account_cache.go
// for the warm/cold-with-revert shape, and core/types/log.go /
// rollup/cross_layer_proof.go for the event/message shapes.
package iostate

// Snapshotter assigns monotonically increasing snapshot ids to frames. A
// frame's own writes are tagged with the post-increment counter value, so
// Rollback(checkpoint) — where checkpoint is the value StartFrame returned
// — discards exactly the writes made during that frame and any of its
// children, leaving everything written before the frame untouched.
type Snapshotter struct {
	counter int
}

// StartFrame returns a checkpoint identifying "the state before this
// frame," and arranges for subsequent writes to be tagged with an id
// strictly greater than it.
func (s *Snapshotter) StartFrame() int {
	checkpoint := s.counter
	s.counter++
	return checkpoint
}

// Tag returns the id that a write happening right now should be tagged
// with.
func (s *Snapshotter) Tag() int { return s.counter }

// Reset zeroes the counter, used by transient storage at tx boundaries
// (spec §4.6: "transient storage is per-tx by contract").
func (s *Snapshotter) Reset() { s.counter = 0 }
