// Package evm implements the EVM execution environment (spec §4.10): a
// bytecode interpreter whose every opcode charges ergs and native before
// doing its work, and which never recurses into a callee directly — CALL
// and CREATE-family opcodes yield a preemption point that the runner (C12)
// services by starting or resuming a callee frame.
//
// Adapted from the teacher's core/vm package (stack.go, contract.go,
// jump_table.go, gas.go): same opcode set and gas schedule, but the stack
// is uint256.Int-backed instead of math/big, and calls/creates are
// expressed as data returned to a caller instead of direct Go recursion.
package evm

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/resources"
)

// ExitCode enumerates every way a frame can stop running, per spec §4.10.
type ExitCode int

const (
	ExitRunning ExitCode = iota
	ExitStop
	ExitReturn
	ExitRevert
	ExitStackUnderflow
	ExitStackOverflow
	ExitInvalidJump
	ExitMemoryOOG
	ExitOutOfErgs
	ExitInvalidOperand
	ExitOutOfNativeResources
	ExitInternalError
)

// CallKind distinguishes the four call-family opcodes, since each clears
// and passes context (value, static-ness, code vs. storage address)
// differently.
type CallKind int

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
)

// ExternalCallRequest is yielded by CALL/CALLCODE/DELEGATECALL/STATICCALL:
// the runner starts or resumes a callee frame and later calls
// ContinueAfterExternalCall with the result.
type ExternalCallRequest struct {
	Kind        CallKind
	Target      types.Address
	Value       uint256.Int
	GasToPass   resources.Ergs
	CallData    []byte
	RetOffset   uint64
	RetSize     uint64
	IsStatic    bool
}

// DeploymentPreparationParameters is yielded by CREATE/CREATE2: the runner
// derives the deployment address, checks for collisions, and starts the
// deployment frame.
type DeploymentPreparationParameters struct {
	IsCreate2  bool
	Salt       uint256.Int
	Value      uint256.Int
	InitCode   []byte
	GasToPass  resources.Ergs
}

// CallResult is what the runner feeds back via ContinueAfterExternalCall.
type CallResult struct {
	Success        bool
	ReturnData     []byte
	ReturnedErgs   resources.Ergs
	ReturnedNative uint64
}

// DeploymentResult is what the runner feeds back via
// ContinueAfterDeployment.
type DeploymentResult struct {
	Success        bool
	DeployedAddr   types.Address
	ReturnData     []byte
	ReturnedErgs   resources.Ergs
	ReturnedNative uint64
}

// LaunchParams describes everything needed to start a fresh frame.
type LaunchParams struct {
	Env        *Environment
	Caller     types.Address
	Address    types.Address
	CodeOwner  types.Address // distinct from Address only for CALLCODE/DELEGATECALL
	Code       []byte
	CallData   []byte
	Value      uint256.Int
	IsStatic   bool
	Resources  resources.Resources
}

// Frame is one EVM call frame: program counter, stack, heap, returndata
// window, resources, and the four addresses the opcode set exposes
// (ADDRESS, CALLER, ORIGIN are carried by the caller of this package).
type Frame struct {
	env       *Environment
	caller    types.Address
	address   types.Address
	codeOwner types.Address
	code      []byte
	bitmap    codeBitmap
	calldata  []byte
	value     uint256.Int
	isStatic  bool

	pc     uint64
	st     *stack
	mem    *memory
	res    resources.Resources
	costs  config.Costs

	returnData []byte // from the last completed child call
	output     []byte // this frame's own RETURN/REVERT payload

	pendingCall   *ExternalCallRequest
	pendingCreate *DeploymentPreparationParameters

	exit ExitCode
	err  error
}

// NewFrame constructs a frame ready to run from pc 0, charging the
// bytecode preprocessing cost up front.
func NewFrame(p LaunchParams, costs config.Costs) (*Frame, error) {
	f := &Frame{
		env:       p.Env,
		caller:    p.Caller,
		address:   p.Address,
		codeOwner: p.CodeOwner,
		code:      p.Code,
		calldata:  p.CallData,
		value:     p.Value,
		isStatic:  p.IsStatic,
		st:        newStack(),
		mem:       newMemory(memCosts{NativePerWord: costs.MemoryNativePerWord}),
		res:       p.Resources,
		costs:     costs,
	}
	bm, nativeCost := analyze(f.code)
	f.bitmap = bm
	if err := f.res.Charge(resources.Cost{Native: nativeCost * costs.BytecodePreprocessNativePerByte}); err != nil {
		return nil, err
	}
	return f, nil
}

// Resources returns a pointer to the frame's resource pool, so the runner
// can reclaim what's left after the frame exits.
func (f *Frame) Resources() *resources.Resources { return &f.res }

// Address returns the frame's own address (the account whose storage and
// code this frame executes against), so the runner can use it as the
// caller address / CREATE sender when servicing a nested preemption.
func (f *Frame) Address() types.Address { return f.address }

// IsStatic reports whether the frame is running in a STATICCALL context.
func (f *Frame) IsStatic() bool { return f.isStatic }

// Caller returns the address that invoked this frame, so the runner can
// propagate msg.sender unchanged across a DELEGATECALL.
func (f *Frame) Caller() types.Address { return f.caller }

// Value returns the wei value this frame was invoked with, so the runner
// can propagate msg.value unchanged across a DELEGATECALL.
func (f *Frame) Value() uint256.Int { return f.value }

// Exit returns the frame's current exit code (ExitRunning while active).
func (f *Frame) Exit() ExitCode { return f.exit }

// Output returns the frame's RETURN/REVERT payload.
func (f *Frame) Output() []byte { return f.output }

// PendingCall returns and clears the pending external-call preemption, if
// any.
func (f *Frame) PendingCall() *ExternalCallRequest {
	req := f.pendingCall
	f.pendingCall = nil
	return req
}

// PendingCreate returns and clears the pending deployment preemption, if
// any.
func (f *Frame) PendingCreate() *DeploymentPreparationParameters {
	req := f.pendingCreate
	f.pendingCreate = nil
	return req
}
