package evm

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/iostate"
	"github.com/zkrollup/zkos/resources"
)

// Run steps the frame until it halts, reverts, faults, or yields a
// preemption point (pending external call or deployment). The caller
// (the runner, C12) inspects Exit()/PendingCall()/PendingCreate() to
// decide what happens next.
func (f *Frame) Run() {
	for f.exit == ExitRunning && f.pendingCall == nil && f.pendingCreate == nil {
		f.step()
	}
}

// fail sets exit/err and stops the run loop; ergs already charged this
// opcode stay charged (the resource is left drained per Charge's
// contract), matching spec §7's "failing component drained to zero" rule.
func (f *Frame) fail(code ExitCode, err error) {
	f.exit = code
	f.err = err
}

// Err returns the error that caused a non-halting exit, if any.
func (f *Frame) Err() error { return f.err }

func (f *Frame) step() {
	if f.pc >= uint64(len(f.code)) {
		f.exit = ExitStop
		return
	}
	op := OpCode(f.code[f.pc])

	switch {
	case op.IsPush():
		f.opPush(op)
		return
	case op.IsDup():
		f.opDup(int(op-DUP1) + 1)
		return
	case op.IsSwap():
		f.opSwap(int(op-SWAP1) + 1)
		return
	case op.IsLog():
		f.opLog(int(op - LOG0))
		return
	}

	switch op {
	case STOP:
		f.exit = ExitStop
	case PUSH0:
		f.pushU256(&uint256.Int{}, gasBase)
	case ADD:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Add(a, b) }, gasVerylow)
	case MUL:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Mul(a, b) }, gasLow)
	case SUB:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Sub(a, b) }, gasVerylow)
	case DIV:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Div(a, b) }, gasLow)
	case SDIV:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.SDiv(a, b) }, gasLow)
	case MOD:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Mod(a, b) }, gasLow)
	case SMOD:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.SMod(a, b) }, gasLow)
	case ADDMOD:
		f.triOp(func(a, b, m *uint256.Int) uint256.Int { var r uint256.Int; return *r.AddMod(a, b, m) }, gasMid)
	case MULMOD:
		f.triOp(func(a, b, m *uint256.Int) uint256.Int { var r uint256.Int; return *r.MulMod(a, b, m) }, gasMid)
	case EXP:
		f.opExp()
	case SIGNEXTEND:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.ExtendSign(b, a) }, gasLow)
	case LT:
		f.binOpBool(func(a, b *uint256.Int) bool { return a.Lt(b) }, gasVerylow)
	case GT:
		f.binOpBool(func(a, b *uint256.Int) bool { return a.Gt(b) }, gasVerylow)
	case SLT:
		f.binOpBool(func(a, b *uint256.Int) bool { return a.Slt(b) }, gasVerylow)
	case SGT:
		f.binOpBool(func(a, b *uint256.Int) bool { return a.Sgt(b) }, gasVerylow)
	case EQ:
		f.binOpBool(func(a, b *uint256.Int) bool { return a.Eq(b) }, gasVerylow)
	case ISZERO:
		f.unOpBool(func(a *uint256.Int) bool { return a.IsZero() }, gasVerylow)
	case AND:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.And(a, b) }, gasVerylow)
	case OR:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Or(a, b) }, gasVerylow)
	case XOR:
		f.binOp(func(a, b *uint256.Int) uint256.Int { var r uint256.Int; return *r.Xor(a, b) }, gasVerylow)
	case NOT:
		f.unOp(func(a *uint256.Int) uint256.Int { var r uint256.Int; return *r.Not(a) }, gasVerylow)
	case BYTE:
		f.binOp(func(i, v *uint256.Int) uint256.Int { var r uint256.Int; return *r.Byte(i, v) }, gasVerylow)
	case SHL:
		f.binOp(func(shift, v *uint256.Int) uint256.Int {
			var r uint256.Int
			if shift.LtUint64(256) {
				r.Lsh(v, uint(shift.Uint64()))
			}
			return r
		}, gasVerylow)
	case SHR:
		f.binOp(func(shift, v *uint256.Int) uint256.Int {
			var r uint256.Int
			if shift.LtUint64(256) {
				r.Rsh(v, uint(shift.Uint64()))
			}
			return r
		}, gasVerylow)
	case SAR:
		f.binOp(func(shift, v *uint256.Int) uint256.Int {
			var r uint256.Int
			if shift.LtUint64(256) {
				r.SRsh(v, uint(shift.Uint64()))
			} else if v.Sign() < 0 {
				r.SetAllOne()
			}
			return r
		}, gasVerylow)
	case KECCAK256:
		f.opKeccak256()
	case ADDRESS:
		f.pushAddr(f.address, gasBase)
	case BALANCE:
		f.opBalance()
	case ORIGIN:
		f.pushAddr(f.env.Origin, gasBase)
	case CALLER:
		f.pushAddr(f.caller, gasBase)
	case CALLVALUE:
		f.pushU256(&f.value, gasBase)
	case CALLDATALOAD:
		f.opCalldataLoad()
	case CALLDATASIZE:
		f.pushUint64(uint64(len(f.calldata)), gasBase)
	case CALLDATACOPY:
		f.opDataCopy(f.calldata, gasVerylow)
	case CODESIZE:
		f.pushUint64(uint64(len(f.code)), gasBase)
	case CODECOPY:
		f.opDataCopy(f.code, gasVerylow)
	case GASPRICE:
		f.pushU256(&f.env.GasPrice, gasBase)
	case EXTCODESIZE:
		f.opExtCodeSize()
	case EXTCODECOPY:
		f.opExtCodeCopy()
	case RETURNDATASIZE:
		f.pushUint64(uint64(len(f.returnData)), gasBase)
	case RETURNDATACOPY:
		f.opReturnDataCopy()
	case EXTCODEHASH:
		f.opExtCodeHash()
	case BLOCKHASH:
		f.opBlockHash()
	case COINBASE:
		f.pushAddr(f.env.Coinbase, gasBase)
	case TIMESTAMP:
		f.pushUint64(f.env.Timestamp, gasBase)
	case NUMBER:
		f.pushUint64(f.env.BlockNumber, gasBase)
	case PREVRANDAO:
		f.pushHash(f.env.PrevRandao, gasBase)
	case GASLIMIT:
		f.pushUint64(f.env.GasLimit, gasBase)
	case CHAINID:
		f.pushUint64(f.env.ChainID, gasBase)
	case SELFBALANCE:
		f.opSelfBalance()
	case BASEFEE:
		f.pushU256(&f.env.BaseFee, gasBase)
	case BLOBHASH:
		f.opBlobHash()
	case BLOBBASEFEE:
		f.pushU256(&f.env.BlobBaseFee, gasBase)
	case POP:
		f.opPop()
	case MLOAD:
		f.opMload()
	case MSTORE:
		f.opMstore()
	case MSTORE8:
		f.opMstore8()
	case SLOAD:
		f.opSload()
	case SSTORE:
		f.opSstore()
	case JUMP:
		f.opJump()
	case JUMPI:
		f.opJumpi()
	case PC:
		f.pushUint64(f.pc, gasBase)
	case MSIZE:
		f.pushUint64(f.mem.len(), gasBase)
	case GAS:
		f.pushUint64(uint64(f.res.Ergs())/max1(f.costs.ErgsPerGas), gasBase)
	case JUMPDEST:
		f.charge(tierCost(f.costs, gasJumpdest))
		f.pc++
	case TLOAD:
		f.opTload()
	case TSTORE:
		f.opTstore()
	case MCOPY:
		f.opMcopy()
	case RETURN:
		f.opHalt(ExitReturn)
	case REVERT:
		f.opHalt(ExitRevert)
	case CREATE:
		f.opCreate(false)
	case CREATE2:
		f.opCreate(true)
	case CALL:
		f.opCall(CallKindCall)
	case CALLCODE:
		f.opCall(CallKindCallCode)
	case DELEGATECALL:
		f.opCall(CallKindDelegateCall)
	case STATICCALL:
		f.opCall(CallKindStaticCall)
	case SELFDESTRUCT:
		f.opSelfdestruct()
	case INVALID:
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
	default:
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
	}
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// charge folds resources.Charge's error into the frame's exit machinery.
func (f *Frame) charge(cost resources.Cost) bool {
	if err := f.res.Charge(cost); err != nil {
		code := ExitOutOfErgs
		if resources.Kind(err) == resources.KindOutOfNativeResources {
			code = ExitOutOfNativeResources
		}
		f.fail(code, err)
		return false
	}
	return true
}

func (f *Frame) popOrFail() (uint256.Int, bool) {
	v, err := f.st.pop()
	if err != nil {
		f.fail(ExitStackUnderflow, err)
		return uint256.Int{}, false
	}
	return v, true
}

func (f *Frame) pushOrFail(v *uint256.Int) bool {
	if err := f.st.push(v); err != nil {
		f.fail(ExitStackOverflow, err)
		return false
	}
	return true
}

func (f *Frame) pushU256(v *uint256.Int, gas uint64) {
	if !f.charge(tierCost(f.costs, gas)) {
		return
	}
	if f.pushOrFail(v) {
		f.pc++
	}
}

func (f *Frame) pushUint64(v uint64, gas uint64) {
	u := uint256.NewInt(v)
	f.pushU256(u, gas)
}

func (f *Frame) pushHash(h types.Hash, gas uint64) {
	var u uint256.Int
	u.SetBytes(h.Bytes())
	f.pushU256(&u, gas)
}

func (f *Frame) pushAddr(a types.Address, gas uint64) {
	var u uint256.Int
	u.SetBytes(a.Bytes())
	f.pushU256(&u, gas)
}

func (f *Frame) binOp(op func(a, b *uint256.Int) uint256.Int, gas uint64) {
	if !f.charge(tierCost(f.costs, gas)) {
		return
	}
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	a, _ := f.st.pop()
	b, _ := f.st.pop()
	r := op(&a, &b)
	if f.pushOrFail(&r) {
		f.pc++
	}
}

func (f *Frame) binOpBool(op func(a, b *uint256.Int) bool, gas uint64) {
	f.binOp(func(a, b *uint256.Int) uint256.Int {
		if op(a, b) {
			return *uint256.NewInt(1)
		}
		return uint256.Int{}
	}, gas)
}

func (f *Frame) unOp(op func(a *uint256.Int) uint256.Int, gas uint64) {
	if !f.charge(tierCost(f.costs, gas)) {
		return
	}
	a, ok := f.popOrFail()
	if !ok {
		return
	}
	r := op(&a)
	if f.pushOrFail(&r) {
		f.pc++
	}
}

func (f *Frame) unOpBool(op func(a *uint256.Int) bool, gas uint64) {
	f.unOp(func(a *uint256.Int) uint256.Int {
		if op(a) {
			return *uint256.NewInt(1)
		}
		return uint256.Int{}
	}, gas)
}

func (f *Frame) triOp(op func(a, b, m *uint256.Int) uint256.Int, gas uint64) {
	if !f.charge(tierCost(f.costs, gas)) {
		return
	}
	if err := f.st.requireDepth(3); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	a, _ := f.st.pop()
	b, _ := f.st.pop()
	m, _ := f.st.pop()
	r := op(&a, &b, &m)
	if f.pushOrFail(&r) {
		f.pc++
	}
}

func (f *Frame) opExp() {
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	base, _ := f.st.pop()
	exp, _ := f.st.pop()
	byteLen := (exp.BitLen() + 7) / 8
	gas := gasExp + gasExpByte*uint64(byteLen)
	if !f.charge(tierCost(f.costs, gas)) {
		return
	}
	var r uint256.Int
	r.Exp(&base, &exp)
	if f.pushOrFail(&r) {
		f.pc++
	}
}

func (f *Frame) opPush(op OpCode) {
	n := op.PushSize()
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	start := f.pc + 1
	end := start + uint64(n)
	var buf [32]byte
	if end > uint64(len(f.code)) {
		end = uint64(len(f.code))
	}
	if start < end {
		copy(buf[32-n:], f.code[start:end])
	}
	var v uint256.Int
	v.SetBytes(buf[:])
	if f.pushOrFail(&v) {
		f.pc += uint64(n) + 1
	}
}

func (f *Frame) opDup(n int) {
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	if err := f.st.requireDepth(n); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	if err := f.st.dup(n); err != nil {
		f.fail(ExitStackOverflow, err)
		return
	}
	f.pc++
}

func (f *Frame) opSwap(n int) {
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	if err := f.st.requireDepth(n + 1); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	f.st.swap(n)
	f.pc++
}

func (f *Frame) opPop() {
	if !f.charge(tierCost(f.costs, gasBase)) {
		return
	}
	if _, ok := f.popOrFail(); !ok {
		return
	}
	f.pc++
}

func (f *Frame) opKeccak256() {
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	offset, _ := f.st.pop()
	size, _ := f.st.pop()
	end, ok := maxAddr(offset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	data := f.mem.get(offset.Uint64(), size.Uint64())
	w := toWords(size.Uint64())
	cost := resources.Cost{
		Ergs:   resources.Ergs(f.costs.Keccak256BaseErgs + f.costs.Keccak256PerWordErgs*w),
		Native: f.costs.Keccak256NativePerWord * w,
	}
	if !f.charge(cost) {
		return
	}
	h := crypto.Keccak256(data)
	var v uint256.Int
	v.SetBytes(h)
	if f.pushOrFail(&v) {
		f.pc++
	}
}

// ensureOK wraps memory.ensure with the frame's fail-on-error convention.
func (m *memory) ensureOK(f *Frame, size uint64) bool {
	if err := m.ensure(&f.res, size); err != nil {
		f.fail(ExitMemoryOOG, err)
		return false
	}
	return true
}

func (f *Frame) opCalldataLoad() {
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	off, ok := f.popOrFail()
	if !ok {
		return
	}
	var buf [32]byte
	o := off.Uint64()
	if o < uint64(len(f.calldata)) {
		copy(buf[:], f.calldata[o:])
	}
	var v uint256.Int
	v.SetBytes(buf[:])
	if f.pushOrFail(&v) {
		f.pc++
	}
}

func (f *Frame) opDataCopy(src []byte, gas uint64) {
	if err := f.st.requireDepth(3); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	destOffset, _ := f.st.pop()
	srcOffset, _ := f.st.pop()
	size, _ := f.st.pop()
	end, ok := maxAddr(destOffset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	w := toWords(size.Uint64())
	if !f.charge(resources.Cost{Ergs: ergs(f.costs, gas+3*w)}) {
		return
	}
	buf := make([]byte, size.Uint64())
	so := srcOffset.Uint64()
	if so < uint64(len(src)) {
		copy(buf, src[so:])
	}
	f.mem.set(destOffset.Uint64(), buf)
	f.pc++
}

func (f *Frame) opReturnDataCopy() {
	f.opDataCopy(f.returnData, gasVerylow)
}

func (f *Frame) opMcopy() {
	if err := f.st.requireDepth(3); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	destOffset, _ := f.st.pop()
	srcOffset, _ := f.st.pop()
	size, _ := f.st.pop()
	destEnd, ok1 := maxAddr(destOffset.Uint64(), size.Uint64())
	srcEnd, ok2 := maxAddr(srcOffset.Uint64(), size.Uint64())
	if !ok1 || !ok2 {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	needed := destEnd
	if srcEnd > needed {
		needed = srcEnd
	}
	if !f.mem.ensureOK(f, needed) {
		return
	}
	w := toWords(size.Uint64())
	if !f.charge(resources.Cost{Ergs: ergs(f.costs, 3+3*w)}) {
		return
	}
	data := f.mem.get(srcOffset.Uint64(), size.Uint64())
	f.mem.set(destOffset.Uint64(), data)
	f.pc++
}

func (f *Frame) opMload() {
	off, ok := f.popOrFail()
	if !ok {
		return
	}
	end, ok := maxAddr(off.Uint64(), 32)
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	var v uint256.Int
	v.SetBytes(f.mem.get(off.Uint64(), 32))
	if f.pushOrFail(&v) {
		f.pc++
	}
}

func (f *Frame) opMstore() {
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	off, _ := f.st.pop()
	val, _ := f.st.pop()
	end, ok := maxAddr(off.Uint64(), 32)
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	b := val.Bytes32()
	f.mem.set32(off.Uint64(), b)
	f.pc++
}

func (f *Frame) opMstore8() {
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	off, _ := f.st.pop()
	val, _ := f.st.pop()
	end, ok := maxAddr(off.Uint64(), 1)
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	if !f.charge(tierCost(f.costs, gasVerylow)) {
		return
	}
	f.mem.set(off.Uint64(), []byte{byte(val.Uint64())})
	f.pc++
}

func (f *Frame) opSload() {
	slot, ok := f.popOrFail()
	if !ok {
		return
	}
	key := types.BytesToHash(slot.Bytes())
	v, err := f.env.IO.ReadStorage(&f.res, f.address, key)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	var out uint256.Int
	out.SetBytes(v.Bytes())
	if f.pushOrFail(&out) {
		f.pc++
	}
}

func (f *Frame) opSstore() {
	if f.isStatic {
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
		return
	}
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	slot, _ := f.st.pop()
	val, _ := f.st.pop()
	key := types.BytesToHash(slot.Bytes())
	value := types.BytesToHash(val.Bytes())
	if err := f.env.IO.WriteStorage(&f.res, f.address, key, value); err != nil {
		f.fail(errExit(err), err)
		return
	}
	f.pc++
}

func (f *Frame) opTload() {
	slot, ok := f.popOrFail()
	if !ok {
		return
	}
	key := types.BytesToHash(slot.Bytes())
	v, err := f.env.IO.ReadTransient(&f.res, f.address, key)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	var out uint256.Int
	out.SetBytes(v.Bytes())
	if f.pushOrFail(&out) {
		f.pc++
	}
}

func (f *Frame) opTstore() {
	if f.isStatic {
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
		return
	}
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	slot, _ := f.st.pop()
	val, _ := f.st.pop()
	key := types.BytesToHash(slot.Bytes())
	value := types.BytesToHash(val.Bytes())
	if err := f.env.IO.WriteTransient(&f.res, f.address, key, value); err != nil {
		f.fail(errExit(err), err)
		return
	}
	f.pc++
}

func (f *Frame) opJump() {
	if !f.charge(tierCost(f.costs, gasMid)) {
		return
	}
	dest, ok := f.popOrFail()
	if !ok {
		return
	}
	d := dest.Uint64()
	if dest.BitLen() > 63 || !f.bitmap.isJumpdest(f.code, d) {
		f.fail(ExitInvalidJump, resources.ErrInvalidInput)
		return
	}
	f.pc = d
}

func (f *Frame) opJumpi() {
	if !f.charge(tierCost(f.costs, gasHigh)) {
		return
	}
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	dest, _ := f.st.pop()
	cond, _ := f.st.pop()
	if cond.IsZero() {
		f.pc++
		return
	}
	d := dest.Uint64()
	if dest.BitLen() > 63 || !f.bitmap.isJumpdest(f.code, d) {
		f.fail(ExitInvalidJump, resources.ErrInvalidInput)
		return
	}
	f.pc = d
}

func (f *Frame) opBalance() {
	addrWord, ok := f.popOrFail()
	if !ok {
		return
	}
	addr := types.BytesToAddress(addrWord.Bytes())
	data, err := f.env.IO.ReadAccountProperties(&f.res, addr, iostate.RequestBalance)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	bal := data.Balance
	if f.pushOrFail(&bal) {
		f.pc++
	}
}

func (f *Frame) opSelfBalance() {
	data, err := f.env.IO.ReadAccountProperties(&f.res, f.address, iostate.RequestBalance)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	if !f.charge(tierCost(f.costs, gasLow)) {
		return
	}
	bal := data.Balance
	if f.pushOrFail(&bal) {
		f.pc++
	}
}

func (f *Frame) opExtCodeSize() {
	addrWord, ok := f.popOrFail()
	if !ok {
		return
	}
	addr := types.BytesToAddress(addrWord.Bytes())
	data, err := f.env.IO.ReadAccountProperties(&f.res, addr, iostate.RequestCodeLength)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	if f.pushOrFail(uint256.NewInt(uint64(data.CodeLength))) {
		f.pc++
	}
}

func (f *Frame) opExtCodeHash() {
	addrWord, ok := f.popOrFail()
	if !ok {
		return
	}
	addr := types.BytesToAddress(addrWord.Bytes())
	data, err := f.env.IO.ReadAccountProperties(&f.res, addr, iostate.RequestCodeHash)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	f.pushHash(data.CodeHash, 0)
}

func (f *Frame) opExtCodeCopy() {
	if err := f.st.requireDepth(4); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	addrWord, _ := f.st.pop()
	destOffset, _ := f.st.pop()
	srcOffset, _ := f.st.pop()
	size, _ := f.st.pop()
	addr := types.BytesToAddress(addrWord.Bytes())
	data, err := f.env.IO.ReadAccountProperties(&f.res, addr, iostate.RequestCodeHash)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	end, ok := maxAddr(destOffset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	w := toWords(size.Uint64())
	if !f.charge(resources.Cost{Ergs: ergs(f.costs, 3*w)}) {
		return
	}
	var code []byte
	if data.CodeHash != (types.Hash{}) && f.env.Oracle != nil {
		code, _ = f.env.Oracle.PreimageByHash(data.CodeHash)
	}
	buf := make([]byte, size.Uint64())
	so := srcOffset.Uint64()
	if so < uint64(len(code)) {
		copy(buf, code[so:])
	}
	f.mem.set(destOffset.Uint64(), buf)
	f.pc++
}

func (f *Frame) opBlockHash() {
	n, ok := f.popOrFail()
	if !ok {
		return
	}
	h := f.env.BlockHash(n.Uint64())
	f.pushHash(h, gasExt)
}

func (f *Frame) opBlobHash() {
	idx, ok := f.popOrFail()
	if !ok {
		return
	}
	_ = idx // blob hashes are not modeled on this L2; always return zero.
	f.pushHash(types.Hash{}, gasVerylow)
}

func (f *Frame) opLog(numTopics int) {
	if f.isStatic {
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
		return
	}
	if err := f.st.requireDepth(2 + numTopics); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	offset, _ := f.st.pop()
	size, _ := f.st.pop()
	topics := make([]types.Hash, numTopics)
	for i := 0; i < numTopics; i++ {
		t, _ := f.st.pop()
		topics[i] = types.BytesToHash(t.Bytes())
	}
	end, ok := maxAddr(offset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	cost := resources.Cost{Ergs: resources.Ergs(f.costs.LogBaseErgs +
		f.costs.LogTopicErgs*uint64(numTopics) +
		f.costs.LogDataErgs*size.Uint64())}
	if !f.charge(cost) {
		return
	}
	data := f.mem.get(offset.Uint64(), size.Uint64())
	f.env.IO.EmitEvent(f.env.TxNumber, f.address, topics, data)
	f.pc++
}

func (f *Frame) opHalt(code ExitCode) {
	if err := f.st.requireDepth(2); err != nil {
		f.fail(ExitStackUnderflow, err)
		return
	}
	offset, _ := f.st.pop()
	size, _ := f.st.pop()
	end, ok := maxAddr(offset.Uint64(), size.Uint64())
	if !ok {
		f.fail(ExitMemoryOOG, resources.ErrInvalidInput)
		return
	}
	if !f.mem.ensureOK(f, end) {
		return
	}
	f.output = f.mem.get(offset.Uint64(), size.Uint64())
	f.exit = code
}

func (f *Frame) opSelfdestruct() {
	if f.isStatic {
		f.fail(ExitInvalidOperand, resources.ErrInvalidInput)
		return
	}
	beneficiaryWord, ok := f.popOrFail()
	if !ok {
		return
	}
	if !f.charge(tierCost(f.costs, gasSelfdestruct)) {
		return
	}
	beneficiary := types.BytesToAddress(beneficiaryWord.Bytes())
	data, err := f.env.IO.ReadAccountProperties(&f.res, f.address, iostate.RequestBalance)
	if err != nil {
		f.fail(errExit(err), err)
		return
	}
	bal := data.Balance
	if !bal.IsZero() {
		if err := f.env.IO.UpdateAccountNominalTokenBalance(f.address, &bal, true, false); err != nil {
			f.fail(errExit(err), err)
			return
		}
		if err := f.env.IO.UpdateAccountNominalTokenBalance(beneficiary, &bal, false, false); err != nil {
			f.fail(errExit(err), err)
			return
		}
	}
	// Code and storage are left untouched: post-EIP-6780, full removal is
	// only valid for contracts created earlier in the same transaction,
	// a fact this layer does not track. See DESIGN.md.
	f.exit = ExitStop
}

// errExit maps an IO-layer resource error to the matching ExitCode.
func errExit(err error) ExitCode {
	switch resources.Kind(err) {
	case resources.KindOutOfErgs:
		return ExitOutOfErgs
	case resources.KindOutOfNativeResources:
		return ExitOutOfNativeResources
	case resources.KindInternal:
		return ExitInternalError
	default:
		return ExitInvalidOperand
	}
}
