package oracle

import (
	"fmt"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/log"
)

// HostOracle is the in-memory mock backend used by the native forward
// mode: queries are serviced directly from pre-populated maps instead of a
// RISC-V CSR round trip. Grounded on the teacher's bal/scheduler.go
// typed-work-item queue, reduced to single-item request/response.
type HostOracle struct {
	logger *log.Logger

	meta BlockMetadata
	txs  [][]byte
	next int

	preimages map[types.Hash][]byte
	storage   map[types.Hash]StorageWitnessResult
	accounts  map[types.Address]AccountPropertiesResult

	disconnected bool
}

// NewHostOracle constructs a HostOracle over the given fixtures.
func NewHostOracle(meta BlockMetadata, txs [][]byte) *HostOracle {
	return &HostOracle{
		logger:    log.Default().Module("oracle"),
		meta:      meta,
		txs:       txs,
		preimages: make(map[types.Hash][]byte),
		storage:   make(map[types.Hash]StorageWitnessResult),
		accounts:  make(map[types.Address]AccountPropertiesResult),
	}
}

// SetPreimage registers a preimage for later PreimageByHash lookups.
func (o *HostOracle) SetPreimage(hash types.Hash, data []byte) {
	o.preimages[hash] = data
}

// SetStorageWitness registers the initial value and metadata for a
// storage key.
func (o *HostOracle) SetStorageWitness(key types.Hash, res StorageWitnessResult) {
	o.storage[key] = res
}

// SetAccountProperties registers the initial account record for an
// address.
func (o *HostOracle) SetAccountProperties(addr types.Address, res AccountPropertiesResult) {
	o.accounts[addr] = res
}

func (o *HostOracle) checkConnected() error {
	if o.disconnected {
		return ErrDisconnected
	}
	return nil
}

func (o *HostOracle) BlockMetadata() (BlockMetadata, error) {
	if err := o.checkConnected(); err != nil {
		return BlockMetadata{}, err
	}
	return o.meta, nil
}

func (o *HostOracle) NextTx() (NextTxResult, error) {
	if err := o.checkConnected(); err != nil {
		return NextTxResult{}, err
	}
	if o.next >= len(o.txs) {
		return NextTxResult{Outcome: SealBlock}, nil
	}
	tx := o.txs[o.next]
	o.next++
	o.logger.With("index", o.next-1, "bytes", len(tx)).Debug("served next tx")
	return NextTxResult{Outcome: SomeTx, TxBytes: tx}, nil
}

func (o *HostOracle) PreimageByHash(hash types.Hash) ([]byte, error) {
	if err := o.checkConnected(); err != nil {
		return nil, err
	}
	p, ok := o.preimages[hash]
	if !ok {
		return nil, fmt.Errorf("oracle: no preimage registered for %s", hash.Hex())
	}
	return p, nil
}

func (o *HostOracle) StorageWitness(key types.Hash) (StorageWitnessResult, error) {
	if err := o.checkConnected(); err != nil {
		return StorageWitnessResult{}, err
	}
	res, ok := o.storage[key]
	if !ok {
		// An un-registered key is a genuinely new, zero-valued slot.
		return StorageWitnessResult{Value: types.Hash{}, NextFreeSlot: 0}, nil
	}
	return res, nil
}

func (o *HostOracle) AccountProperties(addr types.Address) (AccountPropertiesResult, error) {
	if err := o.checkConnected(); err != nil {
		return AccountPropertiesResult{}, err
	}
	res, ok := o.accounts[addr]
	if !ok {
		return AccountPropertiesResult{}, nil
	}
	return res, nil
}

func (o *HostOracle) Disconnect() error {
	o.disconnected = true
	o.logger.Debug("oracle disconnected")
	return nil
}
