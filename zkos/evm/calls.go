package evm

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/resources"
)

// gasPassed implements the EE dispatch's clarify-and-take rule (spec
// §4.11): the caller may request more gas than the 63/64 rule allows, so
// the runner clamps it here before the preemption point is yielded.
func gasPassed(requested, available resources.Ergs) resources.Ergs {
	cap63 := resources.Ergs(uint64(available) - uint64(available)/64)
	if requested > cap63 {
		return cap63
	}
	return requested
}

// opCall handles CALL, CALLCODE, DELEGATECALL, and STATICCALL: it pops the
// shared stack layout, charges the cold/warm account-access and
// value-transfer surcharges that are intrinsic to the call itself (as
// opposed to the callee's own execution cost), and yields an
// ExternalCallRequest preemption point instead of recursing.
func (f *Frame) opCall(kind CallKind) {
	hasValue := kind == CallKindCall || kind == CallKindCallCode
	depth := 6
	if hasValue {
		depth = 7
	}
	if err := f.st.requireDepth(depth); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	gasReq, _ := f.st.pop()
	addrWord, _ := f.st.pop()
	var value uint256.Int
	if hasValue {
		v, _ := f.st.pop()
		value = v
	}
	argsOffset, _ := f.st.pop()
	argsSize, _ := f.st.pop()
	retOffset, _ := f.st.pop()
	retSize, _ := f.st.pop()

	target := addrWordToAddress(&addrWord)

	argsEnd, ok := maxAddr(argsOffset.Uint64(), argsSize.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	retEnd, ok := maxAddr(retOffset.Uint64(), retSize.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	needed := argsEnd
	if retEnd > needed {
		needed = retEnd
	}
	if !f.mem.ensureOK(f, needed) {
		return
	}

	cost := resources.Cost{Native: f.costs.CallNativeOverhead}
	if hasValue && !value.IsZero() {
		if f.isStatic {
			f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
			return
		}
		cost.Ergs += resources.Ergs(f.costs.CallValueTransferErgs)
	}
	if !f.charge(cost) {
		return
	}

	available := f.res.Ergs()
	passed := gasPassed(resources.Ergs(gasReq.Uint64()), available)
	if hasValue && !value.IsZero() {
		passed += resources.Ergs(f.costs.CallStipendErgs)
	}
	if err := f.res.Charge(resources.Cost{Ergs: passed}); err != nil {
		f.fail(ExitOutOfErgs, err)
		return
	}

	f.pendingCall = &ExternalCallRequest{
		Kind:      kind,
		Target:    target,
		Value:     value,
		GasToPass: passed,
		CallData:  f.mem.get(argsOffset.Uint64(), argsSize.Uint64()),
		RetOffset: retOffset.Uint64(),
		RetSize:   retSize.Uint64(),
		IsStatic:  f.isStatic || kind == CallKindStaticCall,
	}
}

// ContinueAfterExternalCall resumes the frame once the runner has driven
// the callee to completion, per spec §4.10-4.12: pushes the success byte,
// writes returndata into the caller's heap bounded by
// min(provided_size, returndata_len), and reclaims unused resources.
func (f *Frame) ContinueAfterExternalCall(req ExternalCallRequest, result CallResult) {
	f.res.Reclaim(resources.FromErgsAndNative(result.ReturnedErgs, nil))
	if result.ReturnedNative > 0 {
		f.res.Reclaim(resources.FromErgsAndNative(0, nativeOf(result.ReturnedNative)))
	}
	f.returnData = result.ReturnData

	n := uint64(len(result.ReturnData))
	if n > req.RetSize {
		n = req.RetSize
	}
	if n > 0 {
		f.mem.set(req.RetOffset, result.ReturnData[:n])
	}

	var status uint256.Int
	if result.Success {
		status = *uint256.NewInt(1)
	}
	if f.pushOrFail(&status) {
		f.pc++
	}
}

// opCreate handles CREATE and CREATE2: it pops the shared stack layout,
// reserves init-code memory, and yields a deployment preemption point.
func (f *Frame) opCreate(isCreate2 bool) {
	if f.isStatic {
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
		return
	}
	depth := 3
	if isCreate2 {
		depth = 4
	}
	if err := f.st.requireDepth(depth); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	value, _ := f.st.pop()
	offset, _ := f.st.pop()
	size, _ := f.st.pop()
	var salt uint256.Int
	if isCreate2 {
		s, _ := f.st.pop()
		salt = s
	}

	end, ok := maxAddr(offset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}

	w := toWords(size.Uint64())
	cost := resources.Cost{Ergs: resources.Ergs(f.costs.CreateBaseErgs), Native: f.costs.CreateNativeOverhead}
	if isCreate2 {
		cost.Ergs += resources.Ergs(ergs(f.costs, 6*w))
	}
	if !f.charge(cost) {
		return
	}

	available := f.res.Ergs()
	passed := gasPassed(available, available)
	if err := f.res.Charge(resources.Cost{Ergs: passed}); err != nil {
		f.fail(ExitOutOfErgs, err)
		return
	}

	f.pendingCreate = &DeploymentPreparationParameters{
		IsCreate2: isCreate2,
		Salt:      salt,
		Value:     value,
		InitCode:  f.mem.get(offset.Uint64(), size.Uint64()),
		GasToPass: passed,
	}
}

// ContinueAfterDeployment resumes the frame once the runner has driven the
// deployment to completion.
func (f *Frame) ContinueAfterDeployment(result DeploymentResult) {
	f.res.Reclaim(resources.FromErgsAndNative(result.ReturnedErgs, nil))
	if result.ReturnedNative > 0 {
		f.res.Reclaim(resources.FromErgsAndNative(0, nativeOf(result.ReturnedNative)))
	}
	var out uint256.Int
	if result.Success {
		out.SetBytes(result.DeployedAddr.Bytes())
	}
	if f.pushOrFail(&out) {
		f.pc++
	}
}

// nativeOf adapts a raw unit count to the Native interface for Reclaim,
// which only inspects Value() on the side being folded in.
func nativeOf(v uint64) resources.Native { return resources.NewDecreasingCounter(v) }

func addrWordToAddress(w *uint256.Int) types.Address {
	b := w.Bytes32()
	return types.BytesToAddress(b[12:])
}
