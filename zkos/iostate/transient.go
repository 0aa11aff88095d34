package iostate

import (
	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/historylist"
	"github.com/zkrollup/zkos/resources"
)

// TransientCache implements spec §4.6: identical shape to StorageCache
// minus pubdata and minus cold/warm distinction, flat cost per access,
// and reset entirely at tx boundaries (EIP-1153).
type TransientCache struct {
	costs config.Costs
	slots map[StorageKey]*historylist.List[types.Hash]
	pool  *historylist.Pool[types.Hash]
	snap  Snapshotter
}

// NewTransientCache constructs an empty cache.
func NewTransientCache(costs config.Costs) *TransientCache {
	return &TransientCache{
		costs: costs,
		slots: make(map[StorageKey]*historylist.List[types.Hash]),
		pool:  historylist.NewPool[types.Hash](),
	}
}

// StartFrame opens a rollback scope.
func (c *TransientCache) StartFrame() int { return c.snap.StartFrame() }

// Rollback restores every key's value as of checkpoint.
func (c *TransientCache) Rollback(checkpoint int) {
	for _, list := range c.slots {
		list.Rollback(checkpoint)
	}
}

// BeginNewTx drops the entire history and resets the snapshot id: transient
// storage is per-tx by contract.
func (c *TransientCache) BeginNewTx() {
	c.slots = make(map[StorageKey]*historylist.List[types.Hash])
	c.snap.Reset()
}

// Read returns the current transient value at key, charging the flat
// access cost.
func (c *TransientCache) Read(res *resources.Resources, key StorageKey) (types.Hash, error) {
	if err := res.Charge(resources.Cost{Ergs: resources.Ergs(c.costs.TransientAccessErgs)}); err != nil {
		return types.Hash{}, err
	}
	list, ok := c.slots[key]
	if !ok {
		return types.Hash{}, nil
	}
	v, _ := list.Current()
	return v, nil
}

// Write sets the transient value at key, charging the flat access cost.
func (c *TransientCache) Write(res *resources.Resources, key StorageKey, value types.Hash) error {
	if err := res.Charge(resources.Cost{Ergs: resources.Ergs(c.costs.TransientAccessErgs)}); err != nil {
		return err
	}
	list, ok := c.slots[key]
	if !ok {
		list = historylist.New(c.pool)
		c.slots[key] = list
	}
	list.Push(c.snap.Tag(), value)
	return nil
}
