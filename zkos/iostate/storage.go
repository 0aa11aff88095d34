package iostate

import (
	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/historylist"
	"github.com/zkrollup/zkos/oracle"
	"github.com/zkrollup/zkos/resources"
)

// StorageKey identifies one 256-bit storage slot of one account.
type StorageKey struct {
	Address types.Address
	Slot    types.Hash
}

// storageSlot is the per-key cache entry described in spec §3 "IO cache
// element." initialValue and isNewSlot are immutable/sticky after first
// observation and are NOT part of the rolled-back history; currentValue
// is tracked by a historylist.List so writes revert on snapshot rollback.
type storageSlot struct {
	initialValue types.Hash
	isNewSlot    bool
	warm         bool // sticky: warming survives revert (EIP-2929)
	current      *historylist.List[types.Hash]

	pubdataBytesAtFirstAccess int
	pubdataBytesNow           int
}

// StorageCache is the warm/cold storage cache of spec §4.5.
type StorageCache struct {
	costs config.Costs
	slots map[StorageKey]*storageSlot
	pool  *historylist.Pool[types.Hash]
	snap  Snapshotter

	blockPubdataBytes int
}

// NewStorageCache constructs an empty cache.
func NewStorageCache(costs config.Costs) *StorageCache {
	return &StorageCache{
		costs: costs,
		slots: make(map[StorageKey]*storageSlot),
		pool:  historylist.NewPool[types.Hash](),
	}
}

// StartFrame opens a new rollback scope and returns its checkpoint.
func (c *StorageCache) StartFrame() int { return c.snap.StartFrame() }

// Rollback restores every slot's current value as of checkpoint.
func (c *StorageCache) Rollback(checkpoint int) {
	for _, slot := range c.slots {
		if v, ok := slot.current.Rollback(checkpoint); ok {
			_ = v // pubdata deltas are not re-derived on rollback; the
			// per-write accounting already reflects forward progress only.
		}
	}
}

// witnessKey folds (address, slot) into the single Hash the Oracle
// interface's StorageWitness takes, since the oracle's witness format
// addresses one global key space rather than a per-account one.
func witnessKey(key StorageKey) types.Hash {
	return types.BytesToHash(crypto.Keccak256(key.Address.Bytes(), key.Slot.Bytes()))
}

func (c *StorageCache) get(o oracle.Oracle, key StorageKey) (*storageSlot, error) {
	if slot, ok := c.slots[key]; ok {
		return slot, nil
	}
	res, err := o.StorageWitness(witnessKey(key))
	if err != nil {
		return nil, err
	}
	slot := &storageSlot{
		initialValue: res.Value,
		isNewSlot:    res.Value == (types.Hash{}) && res.NextFreeSlot == 0,
		current:      historylist.NewWithInitial(c.pool, c.snap.Tag(), res.Value),
	}
	c.slots[key] = slot
	return slot, nil
}

// Read implements spec §4.5's read algorithm: warm reads charge the warm
// cost; cold reads charge the cold cost (split new-slot vs existing-slot
// for native) and install the entry.
func (c *StorageCache) Read(o oracle.Oracle, res *resources.Resources, key StorageKey) (types.Hash, error) {
	slot, err := c.get(o, key)
	if err != nil {
		return types.Hash{}, err
	}
	if slot.warm {
		if err := res.Charge(resources.Cost{Ergs: resources.Ergs(c.costs.WarmStorageReadErgs)}); err != nil {
			return types.Hash{}, err
		}
	} else {
		native := c.costs.ColdStorageReadNativeExistingSlot
		if slot.isNewSlot {
			native = c.costs.ColdStorageReadNativeNewSlot
		}
		if err := res.Charge(resources.Cost{Ergs: resources.Ergs(c.costs.ColdStorageReadErgs), Native: native}); err != nil {
			return types.Hash{}, err
		}
		slot.warm = true
	}
	v, _ := slot.current.Current()
	return v, nil
}

// Write implements spec §4.5's write algorithm: ensure warm, charge the
// EIP-2200 delta plus the EVM cold-write anomaly surcharge, update
// current value, and update pubdata accounting.
func (c *StorageCache) Write(o oracle.Oracle, res *resources.Resources, key StorageKey, newValue types.Hash) error {
	slot, err := c.get(o, key)
	if err != nil {
		return err
	}
	wasWarm := slot.warm
	if !wasWarm {
		native := c.costs.ColdStorageReadNativeExistingSlot
		if slot.isNewSlot {
			native = c.costs.ColdStorageReadNativeNewSlot
		}
		if err := res.Charge(resources.Cost{Ergs: resources.Ergs(c.costs.ColdStorageReadErgs), Native: native}); err != nil {
			return err
		}
		slot.warm = true
	}

	current, _ := slot.current.Current()
	ergs, refund := sstoreDelta(slot.initialValue, current, newValue)
	cost := resources.Cost{Ergs: resources.Ergs(ergs), Native: c.costs.ColdStorageWriteNative}
	if !wasWarm {
		cost.Ergs += resources.Ergs(c.costs.ColdStorageWriteExtraErgs)
	}
	if err := res.Charge(cost); err != nil {
		return err
	}
	_ = refund // refund bookkeeping lives in the bootloader's gas accounting.

	slot.current.Push(c.snap.Tag(), newValue)

	before := pubdataBytes(slot.initialValue, current)
	after := pubdataBytes(slot.initialValue, newValue)
	c.blockPubdataBytes += after - before
	slot.pubdataBytesNow = after
	return nil
}

// SSTORERefund returns the EIP-3529-capped refund for the given
// (initial, current, new) triple, matching DESIGN.md's Open Question
// decision to implement the post-EIP-3529 refund rule.
func SSTORERefund(initial, current, next types.Hash) uint64 {
	_, refund := sstoreDelta(initial, current, next)
	return refund
}

// sstoreDelta implements the EIP-2200 gas/refund table. refund is signed
// internally (a dirty slot can both earn and later give back a refund
// within the same transaction) and clamped to zero at the end, since the
// bootloader only ever accumulates non-negative net refunds per EIP-3529.
func sstoreDelta(initial, current, next types.Hash) (ergs uint64, refund uint64) {
	const (
		sstoreSet   = 20000
		sstoreReset = 2900
		sload       = 100
		refundClear = 4800
	)
	var signedRefund int64
	switch {
	case current == next:
		ergs = sload
	case initial == current:
		if initial == (types.Hash{}) {
			ergs = sstoreSet
		} else {
			ergs = sstoreReset
			if next == (types.Hash{}) {
				signedRefund += refundClear
			}
		}
	default:
		// Dirty slot (current != initial): always sload-priced, refunds
		// account for reverting to/away from the original value.
		ergs = sload
		if initial != (types.Hash{}) {
			if current == (types.Hash{}) {
				signedRefund -= refundClear // undoing an earlier clear-refund
			}
			if next == (types.Hash{}) {
				signedRefund += refundClear
			}
		}
		if next == initial {
			if initial == (types.Hash{}) {
				signedRefund += sstoreSet - sload
			} else {
				signedRefund += sstoreReset - sload
			}
		}
	}
	if signedRefund > 0 {
		refund = uint64(signedRefund)
	}
	return ergs, refund
}

// BlockPubdataBytes returns the running total of storage pubdata bytes.
func (c *StorageCache) BlockPubdataBytes() int { return c.blockPubdataBytes }

// BeginNewTx clears warm-access stickiness on every slot so the next
// transaction starts cold (EIP-2929 warming is scoped to one transaction,
// spec §8 testable property 5). initialValue/current/isNewSlot are left
// untouched: they legitimately persist across the whole batch.
func (c *StorageCache) BeginNewTx() {
	for _, slot := range c.slots {
		slot.warm = false
	}
}

// pubdataBytes picks the smaller of the add-diff and sub-diff encodings
// for a single slot's (initial, current) diff, plus one scheme-selector
// byte, per spec §4.5.
func pubdataBytes(initial, current types.Hash) int {
	if initial == current {
		return 0
	}
	addDiff := diffByteLen(initial.Bytes(), current.Bytes(), false)
	subDiff := diffByteLen(initial.Bytes(), current.Bytes(), true)
	n := addDiff
	if subDiff < n {
		n = subDiff
	}
	return n + 1 // +1 for the scheme-selector byte
}

// diffByteLen computes the byte length of current-initial (or
// initial-current if sub) treated as a 256-bit two's complement
// difference, counting only the significant (non-zero) trailing bytes —
// a compact compressed-diff length estimate.
func diffByteLen(initial, current []byte, sub bool) int {
	a := bytesToBigEndianUint(initial)
	b := bytesToBigEndianUint(current)
	var diff [32]byte
	var borrow uint64
	for i := 31; i >= 0; i-- {
		var x, y byte
		if sub {
			x, y = a[i], b[i]
		} else {
			x, y = b[i], a[i]
		}
		d := int(x) - int(y) - int(borrow)
		if d < 0 {
			d += 256
			borrow = 1
		} else {
			borrow = 0
		}
		diff[i] = byte(d)
	}
	n := 0
	for i := 0; i < 32; i++ {
		if diff[i] != 0 {
			n = 32 - i
			break
		}
	}
	return n
}

func bytesToBigEndianUint(b []byte) [32]byte {
	var out [32]byte
	copy(out[32-len(b):], b)
	return out
}
