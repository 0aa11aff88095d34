package evm

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/iostate"
	"github.com/zkrollup/zkos/oracle"
)

// Environment is the read-only, whole-transaction context every frame
// shares: the block metadata the BLOCKHASH/COINBASE/... opcodes expose,
// plus the IO subsystem every storage/transient/account/log opcode goes
// through. One Environment is built per transaction by the bootloader and
// threaded through every frame the runner starts for it.
type Environment struct {
	IO     *iostate.IO
	Oracle oracle.Oracle

	TxNumber uint32

	ChainID     uint64
	BlockNumber uint64
	Timestamp   uint64
	GasLimit    uint64
	Coinbase    types.Address
	PrevRandao  types.Hash
	BaseFee     uint256.Int
	BlobBaseFee uint256.Int

	Origin   types.Address
	GasPrice uint256.Int

	// BlockHashes maps a recent block number to its hash, per EIP-2935's
	// 256-block BLOCKHASH window.
	BlockHashes map[uint64]types.Hash
}

// BlockHash returns the hash for number, or the zero hash if it is outside
// the retained window (mirrors mainnet BLOCKHASH semantics).
func (e *Environment) BlockHash(number uint64) types.Hash {
	if e.BlockNumber == 0 || number >= e.BlockNumber || number+256 < e.BlockNumber {
		return types.Hash{}
	}
	return e.BlockHashes[number]
}
