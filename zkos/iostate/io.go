package iostate

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/oracle"
	"github.com/zkrollup/zkos/resources"
)

// RollbackHandle is returned by StartGlobalFrame and consumed by
// FinishGlobalFrame: it bundles a checkpoint per sub-cache so the whole IO
// subsystem rolls back atomically.
type RollbackHandle struct {
	storage    int
	transient  int
	accounts   int
	eventsLen  int
	messageLen int
}

// IO composes the five snapshotted caches (C5-C8) behind the unified
// interface consumed by execution environments (C9), charging cold/warm
// access from within IO itself so no EE opcode needs its own warm-vs-cold
// logic.
type IO struct {
	oracle oracle.Oracle
	costs  config.Costs

	Storage   *StorageCache
	Transient *TransientCache
	Accounts  *AccountCache
	Events    *EventJournal
	Messages  *MessageJournal
}

// New constructs an IO subsystem backed by o.
func New(o oracle.Oracle, costs config.Costs) *IO {
	return &IO{
		oracle:    o,
		costs:     costs,
		Storage:   NewStorageCache(costs),
		Transient: NewTransientCache(costs),
		Accounts:  NewAccountCache(costs),
		Events:    &EventJournal{},
		Messages:  &MessageJournal{},
	}
}

// StartGlobalFrame opens a rollback scope across every sub-cache.
func (io *IO) StartGlobalFrame() RollbackHandle {
	return RollbackHandle{
		storage:    io.Storage.StartFrame(),
		transient:  io.Transient.StartFrame(),
		accounts:   io.Accounts.StartFrame(),
		eventsLen:  io.Events.StartFrame(),
		messageLen: io.Messages.StartFrame(),
	}
}

// FinishGlobalFrame commits (handle == nil) or rolls back every sub-cache
// to the given handle.
func (io *IO) FinishGlobalFrame(handle *RollbackHandle) {
	if handle == nil {
		return
	}
	io.Storage.Rollback(handle.storage)
	io.Transient.Rollback(handle.transient)
	io.Accounts.Rollback(handle.accounts)
	io.Events.Rollback(handle.eventsLen)
	io.Messages.Rollback(handle.messageLen)
}

// ReadAccountProperties warms only the requested fields and returns the
// full (possibly partially-warmed) record.
func (io *IO) ReadAccountProperties(res *resources.Resources, addr types.Address, mask RequestMask) (AccountData, error) {
	return io.Accounts.Read(io.oracle, res, addr, mask)
}

// ReadStorage reads one storage slot.
func (io *IO) ReadStorage(res *resources.Resources, addr types.Address, slot types.Hash) (types.Hash, error) {
	return io.Storage.Read(io.oracle, res, StorageKey{Address: addr, Slot: slot})
}

// WriteStorage writes one storage slot.
func (io *IO) WriteStorage(res *resources.Resources, addr types.Address, slot, value types.Hash) error {
	return io.Storage.Write(io.oracle, res, StorageKey{Address: addr, Slot: slot}, value)
}

// ReadTransient reads one transient slot.
func (io *IO) ReadTransient(res *resources.Resources, addr types.Address, slot types.Hash) (types.Hash, error) {
	return io.Transient.Read(res, StorageKey{Address: addr, Slot: slot})
}

// WriteTransient writes one transient slot.
func (io *IO) WriteTransient(res *resources.Resources, addr types.Address, slot, value types.Hash) error {
	return io.Transient.Write(res, StorageKey{Address: addr, Slot: slot}, value)
}

// EmitEvent appends a log to the event journal.
func (io *IO) EmitEvent(txNumber uint32, addr types.Address, topics []types.Hash, data []byte) {
	io.Events.Emit(Event{TxNumber: txNumber, Address: addr, Topics: topics, Data: data})
}

// EmitL2ToL1Message appends a message to the message journal.
func (io *IO) EmitL2ToL1Message(txNumber uint32, sender types.Address, data []byte) {
	io.Messages.Emit(Message{TxNumber: txNumber, Sender: sender, Data: data})
}

// UpdateAccountNominalTokenBalance is the sole atomic balance-change
// primitive used by the bootloader for minting L1 deposits, paying fees,
// and transferring value between frames.
func (io *IO) UpdateAccountNominalTokenBalance(addr types.Address, delta *uint256.Int, negative bool, isCheckOnly bool) error {
	return io.Accounts.UpdateBalance(io.oracle, addr, delta, negative, isCheckOnly)
}

// SetAccountNonce bumps addr's nonce (used by the runner on every CREATE,
// regardless of whether the deployment itself succeeds).
func (io *IO) SetAccountNonce(addr types.Address, nonce uint64) error {
	return io.Accounts.SetNonce(io.oracle, addr, nonce)
}

// SetAccountCode records addr's deployed code hash and length (used by the
// runner once a CREATE's init code returns successfully).
func (io *IO) SetAccountCode(addr types.Address, hash types.Hash, length uint32) error {
	return io.Accounts.SetCode(io.oracle, addr, hash, length)
}

// BeginNewTx resets per-tx state: transient storage is dropped entirely
// (spec §4.6, EIP-1153), and warm-access stickiness on storage slots and
// accounts resets to cold (spec §8 testable property 5, EIP-2929 scopes
// warming to one transaction). initialValue/current/balances/code are
// unaffected and persist across the whole batch.
func (io *IO) BeginNewTx() {
	io.Transient.BeginNewTx()
	io.Storage.BeginNewTx()
	io.Accounts.BeginNewTx()
}

// BlockPubdataBytes returns storage pubdata bytes plus message pubdata
// bytes, satisfying the testable property "Σ per-slot pubdata bytes + Σ
// message pubdata bytes = block pubdata counter."
func (io *IO) BlockPubdataBytes() int {
	return io.Storage.BlockPubdataBytes() + io.Messages.TotalPubdataBytes()
}
