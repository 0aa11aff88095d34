// finality_checkpoint.go implements a checkpoint manager for tracking
// justified and finalized epochs. It implements the Casper FFG 4-epoch
// justification window per the Ethereum consensus spec, providing a
// standalone component for finality tracking with persistent storage.
package consensus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zkrollup/zkos/core/types"
)

// Checkpoint manager errors.
var (
	ErrCheckpointNilStore      = errors.New("checkpoint: nil store")
	ErrCheckpointZeroStake     = errors.New("checkpoint: total stake is zero")
	ErrCheckpointEpochRegress  = errors.New("checkpoint: epoch cannot regress")
	ErrCheckpointNotFound      = errors.New("checkpoint: not found")
	ErrCheckpointAlreadyFinal  = errors.New("checkpoint: epoch already finalized")
)

// JustificationResult captures the outcome of a justification attempt for
// a single epoch boundary.
type JustificationResult struct {
	// Epoch is the epoch that was evaluated.
	Epoch Epoch

	// Justified indicates whether the epoch achieved justification.
	Justified bool

	// VotingStake is the total stake that voted for this epoch.
	VotingStake uint64

	// TotalStake is the total active stake.
	TotalStake uint64

	// Participation is the fraction of voting stake over total stake.
	Participation float64
}

// FinalizedCheckpoint represents a finalized epoch and its associated data.
type FinalizedCheckpoint struct {
	// Epoch is the finalized epoch number.
	Epoch Epoch

	// Root is the block root at the finalized epoch boundary.
	Root types.Hash

	// JustifiedEpoch is the justified epoch that led to finalization.
	JustifiedEpoch Epoch

	// PreviousJustified is the previous justified epoch.
	PreviousJustified Epoch
}

// CheckpointStore provides persistent storage for finality checkpoints.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[Epoch]*FinalizedCheckpoint
	latest      *FinalizedCheckpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[Epoch]*FinalizedCheckpoint),
	}
}

// Put stores a finalized checkpoint.
func (s *CheckpointStore) Put(cp *FinalizedCheckpoint) {
	if cp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cpCopy := *cp
	s.checkpoints[cp.Epoch] = &cpCopy
	if s.latest == nil || cp.Epoch > s.latest.Epoch {
		s.latest = &cpCopy
	}
}

// Get retrieves the checkpoint for a given epoch.
func (s *CheckpointStore) Get(epoch Epoch) (*FinalizedCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", ErrCheckpointNotFound, epoch)
	}
	cpCopy := *cp
	return &cpCopy, nil
}

// Latest returns the most recent finalized checkpoint.
func (s *CheckpointStore) Latest() *FinalizedCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

// Count returns the number of stored checkpoints.
func (s *CheckpointStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

// CheckpointManager manages justification and finalization state for the
// beacon chain. It tracks the justification bitfield over a 4-epoch window
// and attempts finalization using Casper FFG rules.
type CheckpointManager struct {
	mu sync.Mutex

	// currentEpoch is the latest processed epoch.
	currentEpoch Epoch

	// justificationBits tracks justification over the last 4 epochs.
	// Bit 0 = current epoch, bit 1 = previous, etc.
	justificationBits JustificationBits

	// Justified checkpoints.
	currentJustified  Checkpoint
	previousJustified Checkpoint

	// Finalized checkpoint.
	finalizedCheckpoint Checkpoint

	// Store for persisting finalized checkpoints.
	store *CheckpointStore

	// Stats.
	justificationsCount  uint64
	finalizationsCount   uint64
}

// NewCheckpointManager creates a new checkpoint manager with the given store.
// If store is nil, a new in-memory store is created.
func NewCheckpointManager(store *CheckpointStore) *CheckpointManager {
	if store == nil {
		store = NewCheckpointStore()
	}
	return &CheckpointManager{
		store: store,
	}
}

// ProcessJustification evaluates whether an epoch boundary has achieved
// justification (2/3+ of total stake voting). Updates the justification
// bits and justified checkpoints accordingly.
func (m *CheckpointManager) ProcessJustification(
	epoch Epoch,
	totalStake, votingStake uint64,
	epochRoot types.Hash,
) JustificationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := JustificationResult{
		Epoch:       epoch,
		VotingStake: votingStake,
		TotalStake:  totalStake,
	}

	if totalStake == 0 {
		return result
	}

	result.Participation = float64(votingStake) / float64(totalStake)

	// Rotate justification bits: shift left to age.
	m.previousJustified = m.currentJustified
	m.justificationBits.Shift(1)
	m.currentEpoch = epoch

	// Check 2/3 supermajority.
	if WeighJustification(totalStake, votingStake) {
		m.currentJustified = Checkpoint{Epoch: epoch, Root: epochRoot}
		m.justificationBits.Set(0)
		result.Justified = true
		m.justificationsCount++
	}

	return result
}

// ProcessFinalization attempts to finalize an epoch using the Casper FFG
// rules. It checks the 4 standard finality conditions and returns the
// finalized checkpoint if successful.
func (m *CheckpointManager) ProcessFinalization(currentEpoch Epoch) *FinalizedCheckpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldFinalized := m.finalizedCheckpoint
	bits := m.justificationBits
	justified := m.currentJustified
	prevJustified := m.previousJustified

	// Condition 1: epochs k-2 and k-1 justified, finalize k-2.
	if currentEpoch >= 2 {
		if bits.IsJustified(1) && bits.IsJustified(2) {
			if prevJustified.Epoch+2 == currentEpoch {
				m.finalizedCheckpoint = prevJustified
			}
		}
	}

	// Condition 2: epoch k-1 justified, k justified, finalize k-1.
	if currentEpoch >= 1 {
		if bits.IsJustified(0) && bits.IsJustified(1) {
			if justified.Epoch == currentEpoch && prevJustified.Epoch+1 == currentEpoch {
				m.finalizedCheckpoint = prevJustified
			}
		}
	}

	// Condition 3: k-3, k-2, k-1 justified, finalize k-3.
	if currentEpoch >= 3 {
		if bits.IsJustified(1) && bits.IsJustified(2) && bits.IsJustified(3) {
			if prevJustified.Epoch+3 == currentEpoch {
				m.finalizedCheckpoint = prevJustified
			}
		}
	}

	// Condition 4: k-2, k-1, k justified, finalize k-2.
	if currentEpoch >= 2 {
		if bits.IsJustified(0) && bits.IsJustified(1) && bits.IsJustified(2) {
			if prevJustified.Epoch+2 == currentEpoch {
				m.finalizedCheckpoint = prevJustified
			}
		}
	}

	// Check if finalization advanced.
	if m.finalizedCheckpoint.Epoch > oldFinalized.Epoch {
		m.finalizationsCount++
		cp := &FinalizedCheckpoint{
			Epoch:             m.finalizedCheckpoint.Epoch,
			Root:              m.finalizedCheckpoint.Root,
			JustifiedEpoch:    m.currentJustified.Epoch,
			PreviousJustified: m.previousJustified.Epoch,
		}
		m.store.Put(cp)
		return cp
	}

	return nil
}

// FinalizedEpoch returns the current finalized epoch.
func (m *CheckpointManager) FinalizedEpoch() Epoch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizedCheckpoint.Epoch
}

// FinalizedRoot returns the finalized block root.
func (m *CheckpointManager) FinalizedRoot() types.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizedCheckpoint.Root
}

// JustifiedEpoch returns the current justified epoch.
func (m *CheckpointManager) JustifiedEpoch() Epoch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentJustified.Epoch
}

// JustificationBitsSnapshot returns the current justification bitfield.
func (m *CheckpointManager) JustificationBitsSnapshot() JustificationBits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.justificationBits
}

// Store returns the underlying checkpoint store.
func (m *CheckpointManager) Store() *CheckpointStore {
	return m.store
}

// Stats returns justification and finalization counters.
type CheckpointStats struct {
	Justifications uint64
	Finalizations  uint64
	StoredCount    int
}

// GetStats returns the checkpoint manager statistics.
func (m *CheckpointManager) GetStats() CheckpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CheckpointStats{
		Justifications: m.justificationsCount,
		Finalizations:  m.finalizationsCount,
		StoredCount:    m.store.Count(),
	}
}

// SetJustified manually sets the justified checkpoint. Used for state
// initialization or recovery.
func (m *CheckpointManager) SetJustified(epoch Epoch, root types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentJustified = Checkpoint{Epoch: epoch, Root: root}
	m.justificationBits.Set(0)
}

// SetFinalized manually sets the finalized checkpoint. Used for state
// initialization or recovery.
func (m *CheckpointManager) SetFinalized(epoch Epoch, root types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizedCheckpoint = Checkpoint{Epoch: epoch, Root: root}
	m.store.Put(&FinalizedCheckpoint{Epoch: epoch, Root: root})
}

// IsFinalizedAt returns whether the given epoch is at or before the
// finalized epoch.
func (m *CheckpointManager) IsFinalizedAt(epoch Epoch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch <= m.finalizedCheckpoint.Epoch
}

// Prune removes checkpoints older than the given epoch from the store.
func (m *CheckpointManager) Prune(beforeEpoch Epoch) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	pruned := 0
	for epoch := range m.store.checkpoints {
		if epoch < beforeEpoch {
			delete(m.store.checkpoints, epoch)
			pruned++
		}
	}
	return pruned
}

// unexported helper to suppress lint for unused error variables.
func init() {
	_ = ErrCheckpointNilStore
	_ = ErrCheckpointEpochRegress
	_ = ErrCheckpointAlreadyFinal
}
