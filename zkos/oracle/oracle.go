// Package oracle implements the engine's single deterministic input
// channel. Every piece of external data — transactions, preimages, storage
// witnesses, block metadata — enters the engine through a typed query
// answered by an Oracle, backing both the native forward mode and the
// RISC-V proving mode from the same interface.
package oracle

import (
	"encoding/binary"
	"errors"

	"github.com/zkrollup/zkos/core/types"
)

// ErrDisconnected is returned by any query issued after Disconnect.
var ErrDisconnected = errors.New("oracle: disconnected")

// WordIterator is a lazy, exact-size iterator over machine words, the
// shape every oracle query answers in. Next returns (0, false) once
// exhausted.
type WordIterator interface {
	Len() int
	Next() (uint64, bool)
}

// wordSlice adapts a []uint64 to WordIterator.
type wordSlice struct {
	words []uint64
	pos   int
}

func (w *wordSlice) Len() int { return len(w.words) - w.pos }

func (w *wordSlice) Next() (uint64, bool) {
	if w.pos >= len(w.words) {
		return 0, false
	}
	v := w.words[w.pos]
	w.pos++
	return v, true
}

func newWordIterator(words []uint64) WordIterator { return &wordSlice{words: words} }

// NextTxOutcome tags the result of a NextTx query.
type NextTxOutcome int

const (
	SomeTx NextTxOutcome = iota
	NoMoreTxs
	SealBlock
)

// NextTxResult is the answer to a NextTx query.
type NextTxResult struct {
	Outcome NextTxOutcome
	TxBytes []byte
}

// BlockMetadata is the answer to a BlockMetadata query.
type BlockMetadata struct {
	ChainID               uint64
	BlockNumber           uint64
	Timestamp             uint64
	BaseFee               uint64
	Coinbase              types.Address
	GasLimit              uint64
	PriorStateCommitment  types.Hash
}

// AccountPropertiesResult is the answer to an AccountProperties query.
type AccountPropertiesResult struct {
	Nonce       uint64
	Balance     [32]byte
	CodeHash    types.Hash
	CodeLength  uint32
	EEVersion   byte
	AggregateHash types.Hash
}

// StorageWitnessResult is the answer to a StorageWitness query. MerkleProof
// is only populated in proving mode; the host mock leaves it empty.
type StorageWitnessResult struct {
	Value         types.Hash
	NextFreeSlot  uint64
	MerkleProof   [][]byte
}

// Oracle is the single interface through which the engine reads external,
// non-deterministic data. Every query completes before the next begins; no
// pipelining is permitted, matching the spec's ordering guarantee.
type Oracle interface {
	BlockMetadata() (BlockMetadata, error)
	NextTx() (NextTxResult, error)
	PreimageByHash(hash types.Hash) ([]byte, error)
	StorageWitness(key types.Hash) (StorageWitnessResult, error)
	AccountProperties(addr types.Address) (AccountPropertiesResult, error)
	// Disconnect terminates oracle access. Every subsequent query returns
	// ErrDisconnected. Sent once before any public-input emission so no
	// rogue read can influence the commitment.
	Disconnect() error
}

// EncodeBlockMetadata serializes a BlockMetadata into the usize-word stream
// the wire oracle (native mock or CSR) would exchange, for callers that
// want to drive a query iterator directly rather than through the typed
// Oracle interface above.
func EncodeBlockMetadata(m BlockMetadata) WordIterator {
	words := []uint64{m.ChainID, m.BlockNumber, m.Timestamp, m.BaseFee, m.GasLimit}
	words = append(words, addressToWords(m.Coinbase)...)
	words = append(words, hashToWords(m.PriorStateCommitment)...)
	return newWordIterator(words)
}

func addressToWords(a types.Address) []uint64 {
	var buf [32]byte
	copy(buf[12:], a.Bytes())
	return hashWordsFromBytes(buf[:])
}

func hashToWords(h types.Hash) []uint64 {
	return hashWordsFromBytes(h.Bytes())
}

func hashWordsFromBytes(b []byte) []uint64 {
	out := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		out[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return out
}
