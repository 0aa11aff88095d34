// Package commitment implements the engine's public-input seal (spec
// §4.14): folding a batch's headline fields into the 8×u32 word vector a
// zk prover consumes as its public input. The fold is a fixed-width
// concatenation followed by one Blake2s-256 hash, chosen so two
// independent implementations agree bit-for-bit given the same fields.
//
// Grounded on the teacher's rollup/state_proof.go and rollup/fraud_proof.go
// fixed-field-concat-then-hash style (computeProofCommitment,
// serializeProof), swapping Keccak256 for Blake2s per spec §4.14 and
// dropping the self-describing length prefixes those two use: every field
// here has a fixed, spec-pinned width, so no length needs to travel with
// it for the hash to be unambiguous.
package commitment

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2s"

	"github.com/zkrollup/zkos/core/types"
)

// BatchOutput is the sealed summary of one executed batch, per spec §4.14.
type BatchOutput struct {
	InitialStateRoot  types.Hash
	FinalStateRoot    types.Hash
	PubdataLogHash    types.Hash
	NumPubdataLogs    uint64
	BlockMetadataHash types.Hash
}

// fieldWidth is the total byte length of one BatchOutput's fixed-width
// concatenation: three 32-byte hashes, one 8-byte counter, one more
// 32-byte hash.
const fieldWidth = 32 + 32 + 32 + 8 + 32

// encode concatenates BatchOutput's fields in spec order, each at its
// fixed width, with no length prefixes (every field has a pinned size).
func (b BatchOutput) encode() []byte {
	buf := make([]byte, 0, fieldWidth)
	buf = append(buf, b.InitialStateRoot[:]...)
	buf = append(buf, b.FinalStateRoot[:]...)
	buf = append(buf, b.PubdataLogHash[:]...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], b.NumPubdataLogs)
	buf = append(buf, n[:]...)
	buf = append(buf, b.BlockMetadataHash[:]...)
	return buf
}

// Commit folds b into the 8×u32 public-input word vector the RISC-V
// prover's CSR interface emits at end of batch (spec §4.14, §9's
// bit-for-bit-stability requirement).
func Commit(b BatchOutput) [8]uint32 {
	digest := blake2s.Sum256(b.encode())
	var out [8]uint32
	for i := range out {
		out[i] = binary.BigEndian.Uint32(digest[i*4 : i*4+4])
	}
	return out
}

// CommitBytes returns the same digest as Commit but as a raw 32-byte
// slice, for callers that want to log or persist the commitment rather
// than hand it to the prover's word-oriented CSR interface.
func CommitBytes(b BatchOutput) types.Hash {
	digest := blake2s.Sum256(b.encode())
	return types.Hash(digest)
}

// BuildBlockMetadataHash folds the block-metadata fields the bootloader
// reads off the oracle into the single hash BatchOutput carries, per spec
// §4.14's note that block metadata participates in the commitment only
// through its own hash, not field-by-field.
func BuildBlockMetadataHash(chainID, blockNumber, timestamp, baseFee uint64, coinbase types.Address, gasLimit uint64, priorStateCommitment types.Hash) types.Hash {
	buf := make([]byte, 0, 8*4+20+8+32)
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], chainID)
	buf = append(buf, w[:]...)
	binary.BigEndian.PutUint64(w[:], blockNumber)
	buf = append(buf, w[:]...)
	binary.BigEndian.PutUint64(w[:], timestamp)
	buf = append(buf, w[:]...)
	binary.BigEndian.PutUint64(w[:], baseFee)
	buf = append(buf, w[:]...)
	buf = append(buf, coinbase[:]...)
	binary.BigEndian.PutUint64(w[:], gasLimit)
	buf = append(buf, w[:]...)
	buf = append(buf, priorStateCommitment[:]...)
	digest := blake2s.Sum256(buf)
	return types.Hash(digest)
}
