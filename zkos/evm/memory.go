package evm

import (
	"github.com/zkrollup/zkos/resources"
)

// memory is the frame's byte-addressable heap. Growth is charged in whole
// 32-byte words using the Yellow Paper quadratic formula (adapted from the
// teacher's memory-size helpers in core/vm/jump_table.go, which compute the
// *required* size per opcode; the cost formula itself is standard
// Ethereum), plus a linear native term per spec §4.10.
type memory struct {
	store []byte
	costs memCosts
}

type memCosts struct {
	NativePerWord uint64
}

func newMemory(c memCosts) *memory {
	return &memory{costs: c}
}

func (m *memory) len() uint64 { return uint64(len(m.store)) }

func toWords(size uint64) uint64 {
	return (size + 31) / 32
}

func memoryGasCost(words uint64) uint64 {
	return 3*words + (words*words)/512
}

// ensure grows the heap to at least size bytes (rounded up to a whole
// word), charging only the marginal cost over what was already paid.
func (m *memory) ensure(res *resources.Resources, size uint64) error {
	if size <= uint64(len(m.store)) {
		return nil
	}
	newWords := toWords(size)
	oldWords := toWords(uint64(len(m.store)))
	if newWords <= oldWords {
		return nil
	}
	delta := memoryGasCost(newWords) - memoryGasCost(oldWords)
	cost := resources.Cost{
		Ergs:   resources.Ergs(delta),
		Native: (newWords - oldWords) * m.costs.NativePerWord,
	}
	if err := res.Charge(cost); err != nil {
		return err
	}
	grown := make([]byte, newWords*32)
	copy(grown, m.store)
	m.store = grown
	return nil
}

func (m *memory) set(offset uint64, data []byte) {
	copy(m.store[offset:], data)
}

func (m *memory) set32(offset uint64, val [32]byte) {
	copy(m.store[offset:offset+32], val[:])
}

func (m *memory) get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// maxAddr computes offset+size with overflow saturated to a value that
// will always fail a subsequent resource charge rather than wrapping.
func maxAddr(offset, size uint64) (uint64, bool) {
	if size == 0 {
		return 0, true
	}
	sum := offset + size
	if sum < offset {
		return 0, false
	}
	return sum, true
}
