// batch.go drives a whole batch of transactions from oracle-fed block
// metadata through to a sealed public-input commitment (spec §4.13 steps
// 1-3). ParseTransaction/account-model selection/validation live in
// tx.go and accountmodel.go; this file is the outer loop that threads
// them together, one transaction at a time, and owns the IO subsystem for
// the life of the batch.
package bootloader

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/commitment"
	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/evm"
	"github.com/zkrollup/zkos/iostate"
	"github.com/zkrollup/zkos/log"
	"github.com/zkrollup/zkos/oracle"
	"github.com/zkrollup/zkos/resources"
	"github.com/zkrollup/zkos/runner"
)

// ErrFatal wraps an unrecoverable engine error (spec §7: Internal /
// OutOfNativeResources). A fatal error aborts the whole batch: no public
// output is produced.
var ErrFatal = errors.New("bootloader: fatal")

// scratchCapacity bounds the per-tx returndata-staging arena handed to
// every runner.Runner the bootloader constructs.
const scratchCapacity = 1 << 16

// Receipt is the per-tx outcome the bootloader journals (spec §4.13 step
// j, §7 "a tx either executes ... or is dropped").
type Receipt struct {
	TxHash      types.Hash
	Dropped     bool // validation failed: no state changes, no fee charged, not counted against the block
	Success     bool // meaningful only when !Dropped
	GasUsed     uint64
	GasRefunded uint64
	ReturnData  []byte
	Logs        []*types.Log
	DeployedTo  types.Address
}

// BatchResult is the outcome of running a batch to seal (spec §4.13 step
// 3, §4.14).
type BatchResult struct {
	Receipts     []Receipt
	PubdataBytes int
	Output       commitment.BatchOutput
	PublicInput  [8]uint32
}

// Bootloader drives a batch of transactions from start to seal (spec
// §4.13). One Bootloader is constructed per batch; it owns the IO
// subsystem (C9) for the batch's whole lifetime so account/storage state
// persists correctly across transactions.
type Bootloader struct {
	oracle oracle.Oracle
	costs  config.Costs
	io     *iostate.IO
	logger *log.Logger
}

// New constructs a Bootloader bound to o, charging every ergs/native
// parameter out of costs.
func New(o oracle.Oracle, costs config.Costs) *Bootloader {
	return &Bootloader{
		oracle: o,
		costs:  costs,
		io:     iostate.New(o, costs),
		logger: log.Default().Module("bootloader"),
	}
}

// IO exposes the bootloader's IO subsystem, e.g. for a caller inspecting
// final storage/account state after Run returns.
func (bl *Bootloader) IO() *iostate.IO { return bl.io }

// intrinsicErgsAndNative computes spec §6's per-tx intrinsic charge: base
// ergs by tx class, the deployment surcharge, and the calldata byte cost,
// plus the native overhead for the tx's class (upgrade txs pay the L1 rate
// scaled by UpgradeTxNativePerGasMultiplier, per spec §9's documented
// trust model).
func (bl *Bootloader) intrinsicErgsAndNative(tx *Transaction, model AccountModelKind) (ergs, native uint64) {
	switch tx.Type {
	case TxTypeL1:
		ergs = bl.costs.L1TxBaseErgs
		native = bl.costs.L1TxNativeOverhead
		if model == AccountModelUpgrade {
			native *= bl.costs.UpgradeTxNativePerGasMultiplier
		}
	default:
		ergs = bl.costs.L2TxBaseErgs
		native = bl.costs.L2TxNativeOverhead
	}
	if tx.IsCreate {
		ergs += bl.costs.DeploymentExtraErgs
	}
	ergs += IntrinsicCalldataErgs(tx.Data, bl.costs.CalldataZeroErgs, bl.costs.CalldataNonZeroErgs)
	return ergs, native
}

// effectiveGasPrice implements a minimal EIP-1559 style fee computation:
// the priority fee is capped so the total never exceeds MaxFeePerGas, and
// the base fee is always paid in full provided the tx offered enough.
func effectiveGasPrice(tx *Transaction, baseFee uint64) (effective, priority uint256.Int) {
	base := uint256.NewInt(baseFee)
	if tx.MaxFeePerGas.Lt(base) {
		// tx did not offer enough to cover the base fee; validation's
		// balance check below will reject it at the (generous) MaxFeePerGas
		// rate, so this branch only affects the coinbase tip, not whether
		// the tx is accepted.
		return tx.MaxFeePerGas, *uint256.NewInt(0)
	}
	headroom := new(uint256.Int).Sub(&tx.MaxFeePerGas, base)
	if headroom.Gt(&tx.MaxPriorityFeePerGas) {
		priority = tx.MaxPriorityFeePerGas
	} else {
		priority = *headroom
	}
	effective = *new(uint256.Int).Add(base, &priority)
	return effective, priority
}

// Run drives the entire batch to seal: block setup, the per-tx pipeline
// of spec §4.13 step 2, and the seal of step 3. A fatal engine error
// (OutOfNativeResources or an internal invariant violation at the batch
// level) aborts with ErrFatal and produces no BatchResult.
func (bl *Bootloader) Run() (BatchResult, error) {
	meta, err := bl.oracle.BlockMetadata()
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: block metadata: %v", ErrFatal, err)
	}
	initialStateRoot := meta.PriorStateCommitment

	var receipts []Receipt
	var txNumber uint32

	for {
		next, err := bl.oracle.NextTx()
		if err != nil {
			return BatchResult{}, fmt.Errorf("%w: next tx: %v", ErrFatal, err)
		}
		if next.Outcome != oracle.SomeTx {
			break
		}

		receipt, fatal := bl.runOneTx(meta, txNumber, next.TxBytes)
		if fatal != nil {
			return BatchResult{}, fmt.Errorf("%w: tx %d: %v", ErrFatal, txNumber, fatal)
		}
		receipts = append(receipts, receipt)
		txNumber++
	}

	if err := bl.oracle.Disconnect(); err != nil {
		return BatchResult{}, fmt.Errorf("%w: disconnect: %v", ErrFatal, err)
	}

	pubdataBytes := bl.io.BlockPubdataBytes()
	pubdataLogHash := hashMessages(bl.io.Messages.Messages())
	blockMetaHash := commitment.BuildBlockMetadataHash(meta.ChainID, meta.BlockNumber, meta.Timestamp, meta.BaseFee, meta.Coinbase, meta.GasLimit, meta.PriorStateCommitment)

	output := commitment.BatchOutput{
		InitialStateRoot:  initialStateRoot,
		FinalStateRoot:    initialStateRoot,
		PubdataLogHash:    pubdataLogHash,
		NumPubdataLogs:    uint64(len(bl.io.Events.Events())),
		BlockMetadataHash: blockMetaHash,
	}

	bl.logger.Info("batch sealed", "txs", len(receipts), "pubdataBytes", pubdataBytes)

	return BatchResult{
		Receipts:     receipts,
		PubdataBytes: pubdataBytes,
		Output:       output,
		PublicInput:  commitment.Commit(output),
	}, nil
}

// runOneTx implements spec §4.13 step 2's sub-steps (a-j) for a single
// transaction. A non-nil fatal error means the whole batch must abort
// (spec §7: Internal/OutOfNativeResources are not locally recoverable);
// every other failure is folded into a dropped Receipt and the batch
// continues.
func (bl *Bootloader) runOneTx(meta oracle.BlockMetadata, txNumber uint32, blob []byte) (Receipt, error) {
	// Spec §4.6: transient storage is per-tx by contract (EIP-1153), and
	// warm/cold storage+account access resets to cold at tx start (spec §8
	// testable property 5, EIP-2929). Must run before any IO access for
	// this tx, including the account-model peek just below.
	bl.io.BeginNewTx()

	tx, err := ParseTransaction(blob)
	if err != nil {
		return Receipt{Dropped: true}, nil
	}
	txHash := tx.Hash()

	// Peek the sender's EE-version byte straight off the oracle (spec
	// §4.13 step c) to pick the account model before any resource charging
	// begins; validate() below re-reads (and this time charges for) the
	// same address through the warming cache.
	fromProps, err := bl.oracle.AccountProperties(tx.From)
	if err != nil {
		return Receipt{}, err
	}
	model := SelectAccountModel(tx, fromProps.EEVersion)

	intrinsicErgs, intrinsicNative := bl.intrinsicErgsAndNative(tx, model)
	totalErgs := tx.GasLimit * bl.costs.ErgsPerGas
	if totalErgs < intrinsicErgs {
		return Receipt{TxHash: txHash, Dropped: true}, nil
	}
	budgetErgs := totalErgs - intrinsicErgs
	if bl.costs.NativeBudgetPerTx < intrinsicNative {
		return Receipt{TxHash: txHash, Dropped: true}, nil
	}
	budgetNative := bl.costs.NativeBudgetPerTx - intrinsicNative

	effGasPrice, priorityFee := effectiveGasPrice(tx, meta.BaseFee)

	res := resources.FromErgsAndNative(resources.Ergs(budgetErgs), resources.NewDecreasingCounter(budgetNative))

	env := &evm.Environment{
		IO:          bl.io,
		Oracle:      bl.oracle,
		TxNumber:    txNumber,
		ChainID:     meta.ChainID,
		BlockNumber: meta.BlockNumber,
		Timestamp:   meta.Timestamp,
		GasLimit:    meta.GasLimit,
		Coinbase:    meta.Coinbase,
		BaseFee:     *uint256.NewInt(meta.BaseFee),
		Origin:      tx.From,
		GasPrice:    effGasPrice,
	}

	vc := validationContext{
		io:                bl.io,
		res:               &res,
		tx:                tx,
		bootloader:        AddressBootloaderFormal,
		effectiveGasPrice: effGasPrice,
	}

	rn := runner.New(bl.io, bl.costs, scratchCapacity)

	var validateErr error
	switch model {
	case AccountModelEOA:
		validateErr = ValidateEOA(vc)
	case AccountModelL1:
		validateErr = ValidateL1(vc)
	case AccountModelUpgrade:
		validateErr = ValidateUpgrade(vc)
	case AccountModelAA:
		validateErr = ValidateAA(env, rn, vc)
	}
	if validateErr != nil {
		if resources.Kind(validateErr) == resources.KindOutOfNativeResources || resources.Kind(validateErr) == resources.KindInternal {
			return Receipt{}, validateErr
		}
		// Every other validation failure (bad nonce, bad signature,
		// insufficient balance, paymaster refusal) drops the tx: no state
		// changes survive and no fee is charged (spec §7).
		return Receipt{TxHash: txHash, Dropped: true}, nil
	}

	// Execution phase: spec §4.13 steps f-h. The global frame rolls back
	// every IO sub-cache (storage/transient/events/messages/accounts) if
	// execution reverts; validation's nonce bump and fee prepayment,
	// already committed above, are not rolled back.
	handle := bl.io.StartGlobalFrame()

	var launch evm.LaunchParams
	execRes := res
	var deployAddr types.Address
	if tx.IsCreate {
		// Top-level CREATE: the target address derives from (From, Nonce)
		// exactly like a nested CREATE (spec §4.10), using the nonce the
		// tx itself consumed (validate() has already bumped the stored
		// nonce to Nonce+1).
		deployAddr = evm.DeriveCreateAddress(tx.From, tx.Nonce)
		if !tx.Value.IsZero() {
			if err := bl.io.UpdateAccountNominalTokenBalance(tx.From, &tx.Value, true, false); err != nil {
				bl.io.FinishGlobalFrame(&handle)
				return Receipt{TxHash: txHash, Dropped: true}, nil
			}
			if err := bl.io.UpdateAccountNominalTokenBalance(deployAddr, &tx.Value, false, false); err != nil {
				bl.io.FinishGlobalFrame(&handle)
				return Receipt{TxHash: txHash, Dropped: true}, nil
			}
		}
		launch = evm.LaunchParams{
			Env: env, Caller: tx.From, Address: deployAddr, CodeOwner: deployAddr,
			Code: tx.Data, Value: tx.Value, Resources: execRes,
		}
	} else {
		toData, err := bl.io.ReadAccountProperties(&execRes, tx.To, iostate.RequestCodeHash|iostate.RequestCodeLength)
		if err != nil {
			bl.io.FinishGlobalFrame(&handle)
			if resources.Kind(err) == resources.KindOutOfNativeResources {
				return Receipt{}, err
			}
			return Receipt{TxHash: txHash, Dropped: true}, nil
		}
		var code []byte
		if toData.CodeHash != (types.Hash{}) {
			code, _ = bl.oracle.PreimageByHash(toData.CodeHash)
		}
		if !tx.Value.IsZero() {
			if err := bl.io.UpdateAccountNominalTokenBalance(tx.From, &tx.Value, true, false); err != nil {
				bl.io.FinishGlobalFrame(&handle)
				return Receipt{TxHash: txHash, Dropped: true}, nil
			}
			if err := bl.io.UpdateAccountNominalTokenBalance(tx.To, &tx.Value, false, false); err != nil {
				bl.io.FinishGlobalFrame(&handle)
				return Receipt{TxHash: txHash, Dropped: true}, nil
			}
		}
		launch = evm.LaunchParams{
			Env: env, Caller: tx.From, Address: tx.To, CodeOwner: tx.To,
			Code: code, CallData: tx.Data, Value: tx.Value, Resources: execRes,
		}
	}

	end, err := rn.RunTillCompletion(env, launch, tx.IsCreate)
	if err != nil {
		bl.io.FinishGlobalFrame(&handle)
		return Receipt{}, err
	}

	if end.Success {
		bl.io.FinishGlobalFrame(nil)
	} else {
		bl.io.FinishGlobalFrame(&handle)
	}

	// Refund: unused ergs convert back to gas at the fixed rate (spec
	// §4.13 step i); any native left over simply expires; no refund is
	// owed for it (the spec pins ergs<->gas accounting, not native).
	unusedErgs := uint64(end.Remaining.Ergs())
	refundedGas := unusedErgs / bl.costs.ErgsPerGas
	if refundedGas > tx.GasLimit {
		refundedGas = tx.GasLimit
	}
	gasUsed := tx.GasLimit - refundedGas

	// Refund/tip credit failures here are post-commit (the global frame
	// above has already committed or rolled back execution) and can only
	// mean a 256-bit balance overflow on the sender or coinbase, which is
	// an engine-level invariant violation rather than a per-tx condition
	// that can still be dropped cleanly; surface it as fatal.
	refundAmount := new(uint256.Int).Mul(uint256.NewInt(refundedGas), &effGasPrice)
	if !refundAmount.IsZero() {
		if err := bl.io.UpdateAccountNominalTokenBalance(tx.From, refundAmount, false, false); err != nil {
			return Receipt{}, err
		}
	}
	tip := new(uint256.Int).Mul(uint256.NewInt(gasUsed), &priorityFee)
	if !tip.IsZero() {
		if err := bl.io.UpdateAccountNominalTokenBalance(meta.Coinbase, tip, false, false); err != nil {
			return Receipt{}, err
		}
	}

	logs := collectTxLogs(bl.io.Events.Events(), txNumber)

	return Receipt{
		TxHash:      txHash,
		Success:     end.Success,
		GasUsed:     gasUsed,
		GasRefunded: refundedGas,
		ReturnData:  end.Output,
		Logs:        logs,
		DeployedTo:  end.DeployedTo,
	}, nil
}

// hashMessages folds every L2->L1 message emitted across the batch into a
// single hash (spec §4.14's PubdataLogHash), in emission order so the
// result is sensitive to both message content and sequencing.
func hashMessages(messages []iostate.Message) types.Hash {
	var buf []byte
	for _, m := range messages {
		var txNum [4]byte
		binary.BigEndian.PutUint32(txNum[:], m.TxNumber)
		buf = append(buf, txNum[:]...)
		buf = append(buf, m.Sender[:]...)
		buf = append(buf, m.Data...)
	}
	return crypto.Keccak256Hash(buf)
}

// collectTxLogs converts the iostate event journal's entries for one tx
// number into the core/types.Log shape the receipt carries, per spec
// §4.13 step j's "emit the EVM-style receipt log."
func collectTxLogs(events []iostate.Event, txNumber uint32) []*types.Log {
	var logs []*types.Log
	for _, e := range events {
		if e.TxNumber != txNumber {
			continue
		}
		logs = append(logs, &types.Log{
			Address: e.Address,
			Topics:  e.Topics,
			Data:    e.Data,
		})
	}
	return logs
}
