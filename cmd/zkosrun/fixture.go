package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/oracle"
)

// fixture is the on-disk JSON shape zkosrun loads: everything a HostOracle
// needs pre-populated, plus the already wire-encoded transaction blobs
// (spec §3's format). zkosrun itself never constructs tx blobs; it only
// replays ones an external encoder produced, matching the oracle's role as
// the engine's one deterministic input channel.
type fixture struct {
	Block    blockFixture     `json:"block"`
	Accounts []accountFixture `json:"accounts"`
	Preimages []preimageFixture `json:"preimages"`
	Storage  []storageFixture `json:"storage"`
	Txs      []string         `json:"txs"`
}

type blockFixture struct {
	ChainID              uint64 `json:"chainId"`
	BlockNumber          uint64 `json:"blockNumber"`
	Timestamp            uint64 `json:"timestamp"`
	BaseFee              uint64 `json:"baseFee"`
	Coinbase             string `json:"coinbase"`
	GasLimit             uint64 `json:"gasLimit"`
	PriorStateCommitment string `json:"priorStateCommitment"`
}

type accountFixture struct {
	Address       string `json:"address"`
	Nonce         uint64 `json:"nonce"`
	Balance       string `json:"balance"`
	CodeHash      string `json:"codeHash"`
	CodeLength    uint32 `json:"codeLength"`
	EEVersion     byte   `json:"eeVersion"`
	AggregateHash string `json:"aggregateHash"`
}

type preimageFixture struct {
	Hash string `json:"hash"`
	Data string `json:"data"`
}

type storageFixture struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	NextFreeSlot uint64 `json:"nextFreeSlot"`
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// buildOracle materializes f into a ready-to-run HostOracle.
func (f *fixture) buildOracle() (*oracle.HostOracle, error) {
	coinbase := types.HexToAddress(f.Block.Coinbase)
	prior := types.HexToHash(f.Block.PriorStateCommitment)

	meta := oracle.BlockMetadata{
		ChainID:              f.Block.ChainID,
		BlockNumber:          f.Block.BlockNumber,
		Timestamp:            f.Block.Timestamp,
		BaseFee:              f.Block.BaseFee,
		Coinbase:             coinbase,
		GasLimit:             f.Block.GasLimit,
		PriorStateCommitment: prior,
	}

	txs := make([][]byte, len(f.Txs))
	for i, t := range f.Txs {
		b, err := hexBytes(t)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		txs[i] = b
	}

	o := oracle.NewHostOracle(meta, txs)

	for i, a := range f.Accounts {
		balanceBytes, err := hexBytes(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("account %d balance: %w", i, err)
		}
		var balance [32]byte
		copy(balance[32-len(balanceBytes):], balanceBytes)

		o.SetAccountProperties(types.HexToAddress(a.Address), oracle.AccountPropertiesResult{
			Nonce:         a.Nonce,
			Balance:       balance,
			CodeHash:      types.HexToHash(a.CodeHash),
			CodeLength:    a.CodeLength,
			EEVersion:     a.EEVersion,
			AggregateHash: types.HexToHash(a.AggregateHash),
		})
	}

	for i, p := range f.Preimages {
		data, err := hexBytes(p.Data)
		if err != nil {
			return nil, fmt.Errorf("preimage %d: %w", i, err)
		}
		o.SetPreimage(types.HexToHash(p.Hash), data)
	}

	for i, s := range f.Storage {
		o.SetStorageWitness(types.HexToHash(s.Key), oracle.StorageWitnessResult{
			Value:        types.HexToHash(s.Value),
			NextFreeSlot: s.NextFreeSlot,
		})
	}

	return o, nil
}
