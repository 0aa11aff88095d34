package bootloader

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/evm"
	"github.com/zkrollup/zkos/iostate"
	"github.com/zkrollup/zkos/resources"
	"github.com/zkrollup/zkos/runner"
)

// ErrValidationFailed covers every recoverable validation-phase problem:
// nonce reuse, bad signature, insufficient fee balance, a paymaster that
// refuses the handshake. Per spec §7, the tx is dropped, no state changes
// survive, and the batch continues.
var ErrValidationFailed = errors.New("bootloader: transaction validation failed")

// AccountModelKind tags which account model validated/executed a
// transaction, per spec §4.13 step c.
type AccountModelKind int

const (
	AccountModelEOA AccountModelKind = iota
	AccountModelAA
	AccountModelL1
	AccountModelUpgrade
)

// SelectAccountModel implements spec §4.13 step c: EOA for simple txs, AA
// for txs whose `from` has a nonzero EE-version flag, L1 for L1-flagged
// txs, Upgrade for upgrade-flagged txs. The upgrade bit is only honored
// when From is the bootloader formal address (spec §9's trust-model
// decision, documented in DESIGN.md) — any other sender setting the bit
// is treated as a plain L1 tx.
func SelectAccountModel(tx *Transaction, fromEEVersion byte) AccountModelKind {
	switch tx.Type {
	case TxTypeL1:
		if tx.ClaimsUpgrade && tx.From == AddressBootloaderFormal {
			return AccountModelUpgrade
		}
		return AccountModelL1
	default:
		if fromEEVersion != 0 {
			return AccountModelAA
		}
		return AccountModelEOA
	}
}

// validationContext bundles what every account model's Validate needs:
// the IO subsystem (for nonce/balance reads and the fee transfer), the
// resources charging validation-phase work, and the tx itself.
type validationContext struct {
	io          *iostate.IO
	res         *resources.Resources
	tx          *Transaction
	bootloader  types.Address
	effectiveGasPrice uint256.Int
}

// validate runs the model-independent parts of spec §4.13 step e: nonce
// check, fee prepayment. Signature verification and the paymaster
// handshake are model-specific and layered on top by the callers below.
func validate(vc validationContext) error {
	data, err := vc.io.ReadAccountProperties(vc.res, vc.tx.From, iostate.RequestNonce|iostate.RequestBalance)
	if err != nil {
		return err
	}
	if data.Nonce != vc.tx.Nonce {
		return ErrValidationFailed
	}
	if err := vc.io.SetAccountNonce(vc.tx.From, vc.tx.Nonce+1); err != nil {
		return err
	}

	fee := new(uint256.Int).Mul(&vc.effectiveGasPrice, new(uint256.Int).SetUint64(vc.tx.GasLimit))
	if data.Balance.Lt(fee) {
		return ErrValidationFailed
	}
	if err := vc.io.UpdateAccountNominalTokenBalance(vc.tx.From, fee, true, false); err != nil {
		return ErrValidationFailed
	}
	if err := vc.io.UpdateAccountNominalTokenBalance(vc.bootloader, fee, false, false); err != nil {
		return err
	}
	return nil
}

// verifyEOASignature recovers the signer of the tx hash from its
// 65-byte [R || S || V] signature (the EcRecoverFn wire shape minus the
// hash prefix) and checks it matches From.
func verifyEOASignature(tx *Transaction) error {
	if len(tx.Signature) != 65 {
		return ErrValidationFailed
	}
	hash := tx.SigningHash()
	sig := make([]byte, 65)
	copy(sig, tx.Signature)
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v != 0 && v != 1 {
		return ErrValidationFailed
	}
	sig[64] = v
	pub, err := crypto.Ecrecover(hash.Bytes(), sig)
	if err != nil {
		return ErrValidationFailed
	}
	addr := types.BytesToAddress(crypto.Keccak256(pub[1:])[12:])
	if addr != tx.From {
		return ErrValidationFailed
	}
	return nil
}

// ValidateEOA implements the EOA account model's validate phase (spec
// §4.13 step e): nonce check, ecrecover-based signature verification,
// fee prepayment. EOAs have no paymaster handshake.
func ValidateEOA(vc validationContext) error {
	if err := verifyEOASignature(vc.tx); err != nil {
		return err
	}
	return validate(vc)
}

// ValidateL1 implements the L1 account model: L1 transactions are
// pre-authorized by L1 inclusion, so no signature check is performed
// (mirrors mainnet's L1-originated deposit/forced-tx semantics); nonce
// and fee prepayment still apply.
func ValidateL1(vc validationContext) error {
	return validate(vc)
}

// ValidateUpgrade implements the upgrade account model: like L1, but the
// caller (SelectAccountModel) has already confirmed From is the
// bootloader formal address, so no additional trust check is needed here.
func ValidateUpgrade(vc validationContext) error {
	return validate(vc)
}

// drawAll moves the entirety of res's ergs and native into a freshly
// constructed Resources, leaving res drained, per the give_native_to /
// reclaim transfer primitives of spec §4.1 (the same idiom runner.go uses
// at every call/create boundary, rather than sharing one native counter
// across concurrent scopes).
func drawAll(res *resources.Resources) resources.Resources {
	ergs := res.Ergs()
	_ = res.Charge(resources.Cost{Ergs: ergs})
	drawn := resources.FromErgsAndNative(ergs, resources.NewDecreasingCounter(0))
	res.GiveNativeTo(&drawn)
	return drawn
}

// ValidateAA implements the account-abstraction model's validate phase:
// a contract account's own validateTransaction entry point (and, if a
// paymaster is present, the prePaymaster/validateAndPayForPaymasterTransaction
// handshake) stand in for ecrecover + direct fee prepayment. Grounded on
// core/vm/aa_executor.go's account-model dispatch.
func ValidateAA(env *evm.Environment, rn *runner.Runner, vc validationContext) error {
	data, err := vc.io.ReadAccountProperties(vc.res, vc.tx.From, iostate.RequestNonce|iostate.RequestCodeHash|iostate.RequestCodeLength|iostate.RequestEEVersion)
	if err != nil {
		return err
	}
	if data.Nonce != vc.tx.Nonce {
		return ErrValidationFailed
	}
	code, err := env.Oracle.PreimageByHash(data.CodeHash)
	if err != nil || len(code) == 0 {
		return ErrValidationFailed
	}

	callData := encodeSelectorCall(SelectorValidateTransaction, vc.tx.Hash())
	end, err := rn.RunTillCompletion(env, evm.LaunchParams{
		Env: env, Caller: AddressBootloaderFormal, Address: vc.tx.From, CodeOwner: vc.tx.From,
		Code: code, CallData: callData, Resources: drawAll(vc.res),
	}, false)
	if err != nil {
		return err
	}
	vc.res.Reclaim(end.Remaining)
	if !end.Success {
		return ErrValidationFailed
	}
	if err := vc.io.SetAccountNonce(vc.tx.From, vc.tx.Nonce+1); err != nil {
		return err
	}

	if vc.tx.HasPaymaster() {
		return validatePaymaster(env, rn, vc)
	}

	fee := new(uint256.Int).Mul(&vc.effectiveGasPrice, new(uint256.Int).SetUint64(vc.tx.GasLimit))
	payCallData := encodeSelectorCall(SelectorPayForTransaction, vc.tx.Hash())
	end, err = rn.RunTillCompletion(env, evm.LaunchParams{
		Env: env, Caller: AddressBootloaderFormal, Address: vc.tx.From, CodeOwner: vc.tx.From,
		Code: code, CallData: payCallData, Value: *fee, Resources: drawAll(vc.res),
	}, false)
	if err != nil {
		return err
	}
	vc.res.Reclaim(end.Remaining)
	if !end.Success {
		return ErrValidationFailed
	}
	return nil
}

// validatePaymaster drives the prePaymaster/validateAndPayForPaymasterTransaction
// handshake (spec §4.13 step e) instead of the account's own fee payment.
func validatePaymaster(env *evm.Environment, rn *runner.Runner, vc validationContext) error {
	pmData, err := vc.io.ReadAccountProperties(vc.res, vc.tx.Paymaster, iostate.RequestCodeHash|iostate.RequestCodeLength)
	if err != nil {
		return err
	}
	code, err := env.Oracle.PreimageByHash(pmData.CodeHash)
	if err != nil || len(code) == 0 {
		return ErrValidationFailed
	}

	preCallData := encodeSelectorCall(SelectorPrePaymaster, vc.tx.Hash())
	end, err := rn.RunTillCompletion(env, evm.LaunchParams{
		Env: env, Caller: vc.tx.From, Address: vc.tx.Paymaster, CodeOwner: vc.tx.Paymaster,
		Code: code, CallData: preCallData, Resources: drawAll(vc.res),
	}, false)
	if err != nil {
		return err
	}
	vc.res.Reclaim(end.Remaining)
	if !end.Success {
		return ErrValidationFailed
	}

	fee := new(uint256.Int).Mul(&vc.effectiveGasPrice, new(uint256.Int).SetUint64(vc.tx.GasLimit))
	validateCallData := encodeSelectorCall(SelectorValidateAndPayForPaymasterTransaction, vc.tx.Hash())
	end, err = rn.RunTillCompletion(env, evm.LaunchParams{
		Env: env, Caller: vc.tx.From, Address: vc.tx.Paymaster, CodeOwner: vc.tx.Paymaster,
		Code: code, CallData: validateCallData, Value: *fee, Resources: drawAll(vc.res),
	}, false)
	if err != nil {
		return err
	}
	vc.res.Reclaim(end.Remaining)
	if !end.Success {
		return ErrValidationFailed
	}
	return nil
}
