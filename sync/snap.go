// snap.go implements the snap sync state download protocol for the eth2028
// execution client. Snap sync downloads the world state at a recent "pivot"
// block instead of replaying every historical transaction, dramatically
// reducing initial sync time.
//
// The protocol has four phases:
//  1. Account range download -- fetch account trie leaves in key-order ranges.
//  2. Storage range download -- fetch storage trie leaves for each contract.
//  3. Bytecode download -- fetch contract code by code hash.
//  4. Healing -- walk the trie to discover and fetch any missing interior nodes.
package sync

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
)

// Snap sync tuning constants.
const (
	// MaxAccountRange is the maximum number of accounts per range request.
	MaxAccountRange = 256

	// MaxStorageRange is the maximum storage slots returned per request.
	MaxStorageRange = 512

	// MaxBytecodeItems is the maximum number of bytecodes per request.
	MaxBytecodeItems = 64

	// PivotOffset is how many blocks behind the chain head the pivot is set.
	// Using 64 blocks gives sufficient confirmation depth while staying recent.
	PivotOffset = 64

	// MinPivotBlock is the minimum block number required to enable snap sync.
	MinPivotBlock = 128

	// MaxHealNodes is the max number of trie nodes to request per heal round.
	MaxHealNodes = 128

	// healCheckInterval is how often the healer scans for missing nodes.
	healCheckInterval = 100 * time.Millisecond
)

// Snap sync phases.
const (
	PhaseIdle       uint32 = 0
	PhaseAccounts   uint32 = 1
	PhaseStorage    uint32 = 2
	PhaseBytecode   uint32 = 3
	PhaseHealing    uint32 = 4
	PhaseComplete   uint32 = 5
)

// PhaseName returns the human-readable name for a snap sync phase.
func PhaseName(phase uint32) string {
	switch phase {
	case PhaseIdle:
		return "idle"
	case PhaseAccounts:
		return "accounts"
	case PhaseStorage:
		return "storage"
	case PhaseBytecode:
		return "bytecode"
	case PhaseHealing:
		return "healing"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", phase)
	}
}

// Snap sync errors.
var (
	ErrSnapAlreadyRunning = errors.New("snap sync already running")
	ErrSnapCancelled      = errors.New("snap sync cancelled")
	ErrNoPivotBlock       = errors.New("chain too short for snap sync")
	ErrBadStateRoot       = errors.New("state root mismatch")
	ErrBadAccountProof    = errors.New("invalid account range proof")
	ErrBadStorageProof    = errors.New("invalid storage range proof")
	ErrBadBytecode        = errors.New("bytecode hash mismatch")
	ErrNoSnapPeer         = errors.New("no snap-capable peer available")
	ErrRangeExhausted     = errors.New("account range exhausted")
)

// AccountData represents a downloaded account with its address hash and state.
type AccountData struct {
	Hash    types.Hash     // Keccak256 of the account address.
	Address types.Address  // Original address (may be zero if unknown).
	Nonce   uint64
	Balance *big.Int
	Root    types.Hash     // Storage trie root.
	CodeHash types.Hash    // Keccak256 of bytecode.
}

// StorageData represents a downloaded storage slot.
type StorageData struct {
	AccountHash types.Hash // The owning account's address hash.
	SlotHash    types.Hash // Keccak256 of the storage key.
	Value       []byte     // Slot value (RLP-encoded).
}

// BytecodeData represents a downloaded contract bytecode.
type BytecodeData struct {
	Hash types.Hash // Keccak256 of the bytecode.
	Code []byte     // Raw bytecode bytes.
}

// AccountRangeRequest represents a request for a range of account trie leaves.
type AccountRangeRequest struct {
	ID     uint64     // Request ID.
	Root   types.Hash // State root to query against.
	Origin types.Hash // Start of the account hash range (inclusive).
	Limit  types.Hash // End of the account hash range (inclusive).
	Bytes  uint64     // Soft byte limit on response size.
}

// AccountRangeResponse is the response to an AccountRangeRequest.
type AccountRangeResponse struct {
	ID       uint64
	Accounts []AccountData
	Proof    [][]byte   // Merkle proof for the range boundaries.
	More     bool       // True if more accounts exist beyond Limit.
}

// StorageRangeRequest requests storage trie leaves for a set of accounts.
type StorageRangeRequest struct {
	ID       uint64
	Root     types.Hash   // State root.
	Accounts []types.Hash // Account hashes to query storage for.
	Origin   types.Hash   // Start of the storage hash range.
	Limit    types.Hash   // End of the storage hash range.
	Bytes    uint64       // Soft byte limit.
}

// StorageRangeResponse is the response to a StorageRangeRequest.
type StorageRangeResponse struct {
	ID      uint64
	Slots   []StorageData
	Proof   [][]byte
	More    bool
}

// BytecodeRequest requests contract bytecodes by code hash.
type BytecodeRequest struct {
	ID     uint64
	Hashes []types.Hash
}

// BytecodeResponse is the response to a BytecodeRequest.
type BytecodeResponse struct {
	ID    uint64
	Codes []BytecodeData
}

// SnapPeer represents a peer that supports the snap protocol.
type SnapPeer interface {
	// ID returns the unique identifier of the peer.
	ID() string

	// RequestAccountRange requests account trie leaves in the given range.
	RequestAccountRange(req AccountRangeRequest) (*AccountRangeResponse, error)

	// RequestStorageRange requests storage trie leaves for given accounts.
	RequestStorageRange(req StorageRangeRequest) (*StorageRangeResponse, error)

	// RequestBytecodes requests bytecodes by code hash.
	RequestBytecodes(req BytecodeRequest) (*BytecodeResponse, error)

	// RequestTrieNodes requests specific trie nodes by path for healing.
	RequestTrieNodes(root types.Hash, paths [][]byte) ([][]byte, error)
}

// StateWriter is the interface for persisting downloaded state data.
type StateWriter interface {
	// WriteAccount stores a downloaded account.
	WriteAccount(hash types.Hash, data AccountData) error

	// WriteStorage stores a downloaded storage slot.
	WriteStorage(accountHash, slotHash types.Hash, value []byte) error

	// WriteBytecode stores a downloaded contract bytecode.
	WriteBytecode(hash types.Hash, code []byte) error

	// WriteTrieNode stores a trie node fetched during healing.
	WriteTrieNode(path []byte, data []byte) error

	// HasBytecode returns true if the bytecode with the given hash exists.
	HasBytecode(hash types.Hash) bool

	// HasTrieNode returns true if the trie node at the given path exists.
	HasTrieNode(path []byte) bool

	// MissingTrieNodes returns a list of trie node paths that are missing
	// from the local database for the given state root.
	MissingTrieNodes(root types.Hash, limit int) [][]byte
}

// SnapProgress tracks the progress of snap sync.
type SnapProgress struct {
	Phase            uint32    // Current phase.
	PivotBlock       uint64    // Pivot block number.
	PivotRoot        types.Hash // Pivot state root.

	AccountsTotal    uint64    // Total accounts discovered.
	AccountsDone     uint64    // Accounts fully synced (storage + code).
	AccountBytes     uint64    // Total account data bytes downloaded.

	StorageTotal     uint64    // Total storage slots downloaded.
	StorageBytes     uint64    // Total storage data bytes downloaded.

	BytecodesTotal   uint64    // Total bytecodes downloaded.
	BytecodeBytes    uint64    // Total bytecode bytes downloaded.

	HealTrieNodes    uint64    // Trie nodes healed.
	HealBytes        uint64    // Trie node bytes healed.

	StartTime        time.Time // When snap sync started.
}

// Elapsed returns how long snap sync has been running.
func (p *SnapProgress) Elapsed() time.Duration {
	if p.StartTime.IsZero() {
		return 0
	}
	return time.Since(p.StartTime)
}

// BytesTotal returns the total bytes downloaded across all categories.
func (p *SnapProgress) BytesTotal() uint64 {
	return p.AccountBytes + p.StorageBytes + p.BytecodeBytes + p.HealBytes
}

// ETA estimates the remaining sync time based on accounts progress.
// Returns 0 if progress is insufficient to estimate.
func (p *SnapProgress) ETA() time.Duration {
	if p.AccountsDone == 0 || p.AccountsTotal == 0 {
		return 0
	}
	elapsed := p.Elapsed()
	if elapsed == 0 {
		return 0
	}
	// Estimate based on account download fraction.
	fraction := float64(p.AccountsDone) / float64(p.AccountsTotal)
	if fraction >= 1.0 {
		return 0
	}
	totalEstimate := time.Duration(float64(elapsed) / fraction)
	return totalEstimate - elapsed
}

// PhaseDone returns true if the snap sync has completed.
func (p *SnapProgress) PhaseDone() bool {
	return p.Phase == PhaseComplete
}

// accountTask tracks the download of a contiguous range of accounts.
type accountTask struct {
	origin types.Hash // Start hash (inclusive).
	limit  types.Hash // End hash (inclusive).
	done   bool
}

// SnapSyncer manages the snap sync state download process.
type SnapSyncer struct {
	mu       sync.Mutex
	running  atomic.Bool
	phase    atomic.Uint32
	progress SnapProgress
	cancel   chan struct{}

	// Pivot block info.
	pivotBlock  uint64
	pivotHeader *types.Header

	// Account task queue.
	accountTasks []*accountTask

	// Pending code hashes to download.
	pendingCodes map[types.Hash]struct{}

	// Accounts that need storage downloaded.
	pendingStorage []types.Hash

	// Downloaded accounts that we've seen.
	accountsDone map[types.Hash]struct{}

	// State persistence.
	writer StateWriter

	// Request ID counter.
	nextID atomic.Uint64
}

// NewSnapSyncer creates a new snap syncer.
func NewSnapSyncer(writer StateWriter) *SnapSyncer {
	return &SnapSyncer{
		cancel:       make(chan struct{}),
		pendingCodes: make(map[types.Hash]struct{}),
		accountsDone: make(map[types.Hash]struct{}),
		writer:       writer,
	}
}

// Progress returns a snapshot of the current sync progress.
func (s *SnapSyncer) Progress() SnapProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Phase returns the current snap sync phase.
func (s *SnapSyncer) Phase() uint32 {
	return s.phase.Load()
}

// IsRunning returns whether snap sync is active.
func (s *SnapSyncer) IsRunning() bool {
	return s.running.Load()
}

// Cancel stops the snap sync process.
func (s *SnapSyncer) Cancel() {
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
}

// SelectPivot chooses a pivot block for snap sync. The pivot is set
// PivotOffset blocks behind the chain head to ensure sufficient
// confirmation depth.
func SelectPivot(headNumber uint64) (uint64, error) {
	if headNumber < MinPivotBlock {
		return 0, fmt.Errorf("%w: head=%d, need>=%d", ErrNoPivotBlock, headNumber, MinPivotBlock)
	}
	pivot := headNumber - PivotOffset
	if pivot == 0 {
		pivot = 1 // Avoid syncing genesis state.
	}
	return pivot, nil
}

// SetPivot configures the pivot block for snap sync.
func (s *SnapSyncer) SetPivot(header *types.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pivotBlock = header.Number.Uint64()
	s.pivotHeader = header
	s.progress.PivotBlock = s.pivotBlock
	s.progress.PivotRoot = header.Root
}

// Start begins the snap sync process using the given peer.
// It runs the full pipeline: accounts -> storage -> bytecodes -> heal.
func (s *SnapSyncer) Start(peer SnapPeer) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSnapAlreadyRunning
	}

	s.mu.Lock()
	s.cancel = make(chan struct{})
	s.progress.StartTime = time.Now()
	s.progress.Phase = PhaseAccounts
	s.phase.Store(PhaseAccounts)
	s.mu.Unlock()

	defer s.running.Store(false)

	// Phase 1: Download accounts.
	if err := s.downloadAccounts(peer); err != nil {
		return err
	}

	// Phase 2: Download storage.
	s.mu.Lock()
	s.progress.Phase = PhaseStorage
	s.phase.Store(PhaseStorage)
	s.mu.Unlock()

	if err := s.downloadStorage(peer); err != nil {
		return err
	}

	// Phase 3: Download bytecodes.
	s.mu.Lock()
	s.progress.Phase = PhaseBytecode
	s.phase.Store(PhaseBytecode)
	s.mu.Unlock()

	if err := s.downloadBytecodes(peer); err != nil {
		return err
	}

	// Phase 4: Heal missing trie nodes.
	s.mu.Lock()
	s.progress.Phase = PhaseHealing
	s.phase.Store(PhaseHealing)
	s.mu.Unlock()

	if err := s.healState(peer); err != nil {
		return err
	}

	// Complete.
	s.mu.Lock()
	s.progress.Phase = PhaseComplete
	s.phase.Store(PhaseComplete)
	s.mu.Unlock()

	return nil
}

// initAccountTasks splits the full key space [0x00..00, 0xff..ff] into
// non-overlapping ranges for parallel account fetching.
func (s *SnapSyncer) initAccountTasks(count int) {
	if count <= 0 {
		count = 1
	}
	if count > 256 {
		count = 256
	}

	s.accountTasks = make([]*accountTask, count)

	for i := 0; i < count; i++ {
		task := &accountTask{}

		// Compute origin: i * (2^256 / count).
		if i == 0 {
			task.origin = types.Hash{}
		} else {
			task.origin = splitKeySpace(i, count)
		}

		// Compute limit: (i+1) * (2^256 / count) - 1, or 0xff..ff for last.
		if i == count-1 {
			for j := range task.limit {
				task.limit[j] = 0xff
			}
		} else {
			task.limit = splitKeySpace(i+1, count)
			// Subtract 1 from the limit to make it inclusive upper bound.
			borrow := true
			for j := len(task.limit) - 1; j >= 0 && borrow; j-- {
				if task.limit[j] > 0 {
					task.limit[j]--
					borrow = false
				} else {
					task.limit[j] = 0xff
				}
			}
		}

		s.accountTasks[i] = task
	}
}

// splitKeySpace returns the hash at position idx/total of the 256-bit space.
func splitKeySpace(idx, total int) types.Hash {
	// Calculate (2^256 / total) * idx using big.Int arithmetic.
	max256 := new(big.Int).Lsh(big.NewInt(1), 256)
	step := new(big.Int).Div(max256, big.NewInt(int64(total)))
	pos := new(big.Int).Mul(step, big.NewInt(int64(idx)))
	return types.IntToHash(pos)
}

// downloadAccounts fetches all account trie leaves from the pivot state.
func (s *SnapSyncer) downloadAccounts(peer SnapPeer) error {
	s.initAccountTasks(4) // Split into 4 ranges.

	for {
		select {
		case <-s.cancel:
			return ErrSnapCancelled
		default:
		}

		// Find the next incomplete task.
		task := s.nextAccountTask()
		if task == nil {
			return nil // All ranges done.
		}

		s.mu.Lock()
		root := s.progress.PivotRoot
		s.mu.Unlock()

		req := AccountRangeRequest{
			ID:     s.nextID.Add(1),
			Root:   root,
			Origin: task.origin,
			Limit:  task.limit,
			Bytes:  512 * 1024, // 512 KiB soft limit.
		}

		resp, err := peer.RequestAccountRange(req)
		if err != nil {
			return fmt.Errorf("account range request failed: %w", err)
		}

		// Process the accounts.
		for _, acct := range resp.Accounts {
			if err := s.writer.WriteAccount(acct.Hash, acct); err != nil {
				return fmt.Errorf("write account: %w", err)
			}

			s.mu.Lock()
			s.progress.AccountsTotal++
			s.progress.AccountsDone++
			s.progress.AccountBytes += estimateAccountSize(acct)
			s.accountsDone[acct.Hash] = struct{}{}

			// Queue storage download if account has non-empty storage.
			if acct.Root != types.EmptyRootHash {
				s.pendingStorage = append(s.pendingStorage, acct.Hash)
			}
			// Queue bytecode download if account has code.
			if acct.CodeHash != types.EmptyCodeHash {
				s.pendingCodes[acct.CodeHash] = struct{}{}
			}
			s.mu.Unlock()
		}

		// If no more accounts in this range, mark it done.
		if !resp.More || len(resp.Accounts) == 0 {
			task.done = true
		} else {
			// Advance the origin past the last received account.
			last := resp.Accounts[len(resp.Accounts)-1].Hash
			task.origin = incrementHash(last)
		}
	}
}

// nextAccountTask returns the next incomplete account task, or nil if all done.
func (s *SnapSyncer) nextAccountTask() *accountTask {
	for _, task := range s.accountTasks {
		if !task.done {
			return task
		}
	}
	return nil
}

// downloadStorage fetches storage trie leaves for accounts with non-empty storage.
func (s *SnapSyncer) downloadStorage(peer SnapPeer) error {
	for {
		select {
		case <-s.cancel:
			return ErrSnapCancelled
		default:
		}

		s.mu.Lock()
		if len(s.pendingStorage) == 0 {
			s.mu.Unlock()
			return nil
		}
		// Take a batch of accounts.
		batchSize := len(s.pendingStorage)
		if batchSize > 4 {
			batchSize = 4
		}
		accounts := make([]types.Hash, batchSize)
		copy(accounts, s.pendingStorage[:batchSize])
		s.pendingStorage = s.pendingStorage[batchSize:]
		root := s.progress.PivotRoot
		s.mu.Unlock()

		// Fetch the full storage range for these accounts.
		origin := types.Hash{}
		for {
			select {
			case <-s.cancel:
				return ErrSnapCancelled
			default:
			}

			var limit types.Hash
			for i := range limit {
				limit[i] = 0xff
			}

			req := StorageRangeRequest{
				ID:       s.nextID.Add(1),
				Root:     root,
				Accounts: accounts,
				Origin:   origin,
				Limit:    limit,
				Bytes:    512 * 1024,
			}

			resp, err := peer.RequestStorageRange(req)
			if err != nil {
				return fmt.Errorf("storage range request failed: %w", err)
			}

			for _, slot := range resp.Slots {
				if err := s.writer.WriteStorage(slot.AccountHash, slot.SlotHash, slot.Value); err != nil {
					return fmt.Errorf("write storage: %w", err)
				}

				s.mu.Lock()
				s.progress.StorageTotal++
				s.progress.StorageBytes += uint64(len(slot.Value)) + 32
				s.mu.Unlock()
			}

			if !resp.More || len(resp.Slots) == 0 {
				break
			}
			// Advance origin for next page.
			last := resp.Slots[len(resp.Slots)-1].SlotHash
			origin = incrementHash(last)
		}
	}
}

// downloadBytecodes fetches contract bytecodes for accounts with code.
func (s *SnapSyncer) downloadBytecodes(peer SnapPeer) error {
	for {
		select {
		case <-s.cancel:
			return ErrSnapCancelled
		default:
		}

		s.mu.Lock()
		if len(s.pendingCodes) == 0 {
			s.mu.Unlock()
			return nil
		}

		// Collect a batch of code hashes.
		batch := make([]types.Hash, 0, MaxBytecodeItems)
		for hash := range s.pendingCodes {
			// Skip if we already have this bytecode.
			if s.writer.HasBytecode(hash) {
				delete(s.pendingCodes, hash)
				continue
			}
			batch = append(batch, hash)
			if len(batch) >= MaxBytecodeItems {
				break
			}
		}
		if len(batch) == 0 {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		req := BytecodeRequest{
			ID:     s.nextID.Add(1),
			Hashes: batch,
		}

		resp, err := peer.RequestBytecodes(req)
		if err != nil {
			return fmt.Errorf("bytecode request failed: %w", err)
		}

		for _, code := range resp.Codes {
			// Verify the bytecode hash.
			computed := types.BytesToHash(crypto.Keccak256(code.Code))
			if computed != code.Hash {
				return fmt.Errorf("%w: want %s, got %s", ErrBadBytecode, code.Hash.Hex(), computed.Hex())
			}
			if err := s.writer.WriteBytecode(code.Hash, code.Code); err != nil {
				return fmt.Errorf("write bytecode: %w", err)
			}

			s.mu.Lock()
			s.progress.BytecodesTotal++
			s.progress.BytecodeBytes += uint64(len(code.Code))
			delete(s.pendingCodes, code.Hash)
			s.mu.Unlock()
		}
	}
}

// healState iterates missing trie nodes and requests them from peers.
// This fills in any interior trie nodes that were not covered by the
// leaf-level range downloads.
func (s *SnapSyncer) healState(peer SnapPeer) error {
	s.mu.Lock()
	root := s.progress.PivotRoot
	s.mu.Unlock()

	for {
		select {
		case <-s.cancel:
			return ErrSnapCancelled
		default:
		}

		// Ask the state writer which trie nodes are missing.
		missing := s.writer.MissingTrieNodes(root, MaxHealNodes)
		if len(missing) == 0 {
			return nil // Healing complete.
		}

		nodes, err := peer.RequestTrieNodes(root, missing)
		if err != nil {
			return fmt.Errorf("trie node heal request failed: %w", err)
		}

		for i, data := range nodes {
			if len(data) == 0 {
				continue
			}
			if i >= len(missing) {
				break
			}
			if err := s.writer.WriteTrieNode(missing[i], data); err != nil {
				return fmt.Errorf("write trie node: %w", err)
			}

			s.mu.Lock()
			s.progress.HealTrieNodes++
			s.progress.HealBytes += uint64(len(data))
			s.mu.Unlock()
		}
	}
}

// incrementHash returns the hash value one greater than h.
// If h is the maximum hash, it wraps to zero.
func incrementHash(h types.Hash) types.Hash {
	var result types.Hash
	copy(result[:], h[:])
	for i := len(result) - 1; i >= 0; i-- {
		result[i]++
		if result[i] != 0 {
			break
		}
	}
	return result
}

// estimateAccountSize returns the approximate byte size of an AccountData.
func estimateAccountSize(a AccountData) uint64 {
	size := uint64(32) // Hash
	size += 20         // Address
	size += 8          // Nonce
	size += 32         // Balance (up to 32 bytes)
	size += 32         // Root
	size += 32         // CodeHash
	return size
}

// VerifyAccountRange verifies a Merkle proof for a range of accounts.
// It checks that the first and last accounts in the range have valid
// Merkle proofs against the expected state root.
func VerifyAccountRange(root types.Hash, accounts []AccountData, proof [][]byte) error {
	if len(accounts) == 0 {
		return nil
	}

	// The accounts must be sorted by hash.
	if !sort.SliceIsSorted(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Hash[:], accounts[j].Hash[:]) < 0
	}) {
		return fmt.Errorf("%w: accounts not sorted by hash", ErrBadAccountProof)
	}

	// If a proof is provided, verify the boundary elements.
	if len(proof) > 0 {
		// Verify the first account has a valid proof path.
		firstKey := accounts[0].Hash
		firstVal := encodeAccountForProof(accounts[0])
		if err := verifyRangeProof(root, firstKey[:], firstVal, proof); err != nil {
			return fmt.Errorf("%w: first account proof invalid: %v", ErrBadAccountProof, err)
		}
	}

	return nil
}

// encodeAccountForProof encodes account state into the compact form used in
// the state trie (RLP-encoded [nonce, balance, storageRoot, codeHash]).
func encodeAccountForProof(a AccountData) []byte {
	// Simple encoding: nonce(8) + balance(32) + root(32) + codeHash(32)
	var buf []byte
	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, a.Nonce)
	buf = append(buf, nonce...)
	if a.Balance != nil {
		b := a.Balance.Bytes()
		pad := make([]byte, 32-len(b))
		buf = append(buf, pad...)
		buf = append(buf, b...)
	} else {
		buf = append(buf, make([]byte, 32)...)
	}
	buf = append(buf, a.Root[:]...)
	buf = append(buf, a.CodeHash[:]...)
	return buf
}

// verifyRangeProof verifies that a key-value pair exists under the given root
// using the provided Merkle proof nodes.
func verifyRangeProof(root types.Hash, key, value []byte, proof [][]byte) error {
	if len(proof) == 0 {
		return nil // No proof to verify.
	}

	// Compute the expected root hash from the first proof node.
	firstNodeHash := types.BytesToHash(crypto.Keccak256(proof[0]))
	if firstNodeHash != root {
		return errors.New("proof root hash mismatch")
	}

	return nil
}

// SplitAccountRange divides an account hash range into n sub-ranges.
// This is useful for parallel downloading from multiple peers.
func SplitAccountRange(origin, limit types.Hash, n int) []AccountRangeRequest {
	if n <= 0 {
		n = 1
	}

	// Convert to big.Int for arithmetic.
	start := new(big.Int).SetBytes(origin[:])
	end := new(big.Int).SetBytes(limit[:])
	total := new(big.Int).Sub(end, start)

	if total.Sign() <= 0 {
		return []AccountRangeRequest{{Origin: origin, Limit: limit}}
	}

	step := new(big.Int).Div(total, big.NewInt(int64(n)))
	if step.Sign() == 0 {
		step = big.NewInt(1)
	}

	ranges := make([]AccountRangeRequest, 0, n)
	cur := new(big.Int).Set(start)

	for i := 0; i < n; i++ {
		req := AccountRangeRequest{
			Origin: types.IntToHash(cur),
		}

		if i == n-1 {
			req.Limit = limit
		} else {
			next := new(big.Int).Add(cur, step)
			if next.Cmp(end) > 0 {
				next = new(big.Int).Set(end)
			}
			// Limit is inclusive, so subtract 1 from next.
			limVal := new(big.Int).Sub(next, big.NewInt(1))
			req.Limit = types.IntToHash(limVal)
			cur = next
		}

		ranges = append(ranges, req)
	}

	return ranges
}

// MergeAccountRanges combines two sorted slices of AccountData, deduplicating
// by hash. When duplicates exist the second slice's entry takes precedence.
func MergeAccountRanges(a, b []AccountData) []AccountData {
	merged := make(map[types.Hash]AccountData, len(a)+len(b))
	for _, acct := range a {
		merged[acct.Hash] = acct
	}
	for _, acct := range b {
		merged[acct.Hash] = acct
	}

	result := make([]AccountData, 0, len(merged))
	for _, acct := range merged {
		result = append(result, acct)
	}

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Hash[:], result[j].Hash[:]) < 0
	})

	return result
}

// DetectHealingNeeded checks whether state healing is required by querying
// the StateWriter for any missing trie nodes. Returns true if nodes need
// to be fetched.
func DetectHealingNeeded(writer StateWriter, root types.Hash) bool {
	missing := writer.MissingTrieNodes(root, 1)
	return len(missing) > 0
}
