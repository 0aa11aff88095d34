// Package runner implements the engine's frame driver (spec §4.12): it
// takes one EE frame to completion, servicing every nested call/deploy
// preemption point by starting or resuming a callee frame on a callstack
// it owns. The runner is the only place in the engine that turns an
// ExternalCallRequest/DeploymentPreparationParameters into an actual child
// frame — the EE itself never recurses across Go call frames.
//
// Grounded on the teacher's core/vm/call_frame.go callstack bookkeeping,
// reworked around dispatch.EE instead of *vm.Contract since nested calls
// here resume cooperatively rather than via Go recursion.
package runner

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/dispatch"
	"github.com/zkrollup/zkos/evm"
	"github.com/zkrollup/zkos/iostate"
	"github.com/zkrollup/zkos/memarena"
	"github.com/zkrollup/zkos/resources"
	"github.com/zkrollup/zkos/sysfunc"
)

// ErrCallDepthExceeded mirrors the EVM's 1024-deep call stack limit, which
// the spec's "callstack of EE states" inherits implicitly.
var ErrCallDepthExceeded = errors.New("runner: max call depth exceeded")

// MaxCallDepth is the mainnet-equivalent call stack depth limit.
const MaxCallDepth = 1024

// TransactionEndPoint is the terminal result once the callstack empties
// (spec §4.12).
type TransactionEndPoint struct {
	Success    bool
	Reverted   bool
	ExitCode   evm.ExitCode
	Output     []byte
	DeployedTo types.Address // set only when the top-level call was a CREATE
	Err        error
	Remaining  resources.Resources
}

type frameEntry struct {
	ee         *dispatch.EE
	snapshot   iostate.RollbackHandle
	self       types.Address
	isCreate   bool
	call       evm.ExternalCallRequest // the request that spawned this frame, if any
	scratchTop memarena.Snapshot
}

// Runner drives one transaction's call tree to completion.
type Runner struct {
	io          *iostate.IO
	costs       config.Costs
	scratch     *memarena.Arena
	precompiles map[types.Address]sysfunc.Function
	stack       []*frameEntry
}

// New constructs a Runner bound to the given IO subsystem and cost table.
// scratchCapacity bounds the per-tx scratch arena used to stage returndata
// across frame boundaries so a popped child frame's heap can be discarded
// while its RETURN payload is still readable by the resuming parent.
func New(io *iostate.IO, costs config.Costs, scratchCapacity int) *Runner {
	return &Runner{
		io:          io,
		costs:       costs,
		scratch:     memarena.NewArena(scratchCapacity),
		precompiles: buildPrecompileTable(costs),
	}
}

func addrFromUint16(v uint16) types.Address {
	var a types.Address
	a[18] = byte(v >> 8)
	a[19] = byte(v)
	return a
}

func buildPrecompileTable(costs config.Costs) map[types.Address]sysfunc.Function {
	return map[types.Address]sysfunc.Function{
		addrFromUint16(0x01): sysfunc.EcRecoverFn{Ergs: costs.EcrecoverErgs, Native: costs.EcrecoverNative},
		addrFromUint16(0x02): sysfunc.Sha256Fn{StaticErgs: costs.Sha256BaseErgs, PerWordErgs: costs.Sha256PerWordErgs, PerWordNative: costs.Sha256NativePerWord},
		addrFromUint16(0x03): sysfunc.Ripemd160Fn{StaticErgs: costs.Ripemd160BaseErgs, PerWordErgs: costs.Ripemd160PerWordErgs, PerWordNative: costs.Ripemd160NativePerWord},
		addrFromUint16(0x04): sysfunc.IdentityFn{StaticErgs: costs.IdentityBaseErgs, PerWordErgs: costs.IdentityPerWordErgs, PerWordNative: costs.IdentityNativePerWord},
		addrFromUint16(0x05): sysfunc.ModExpFn{WorstCaseNativePerGas: costs.ModExpWorstCaseNativePerGas},
		addrFromUint16(0x06): sysfunc.Bn254EcaddFn{Ergs: costs.Bn254EcaddErgs, Native: costs.Bn254EcaddNativeCost},
		addrFromUint16(0x07): sysfunc.Bn254EcmulFn{Ergs: costs.Bn254EcmulErgs, Native: costs.Bn254EcmulNativeCost},
		addrFromUint16(0x08): sysfunc.Bn254PairingFn{BaseErgs: costs.Bn254PairingBaseErgs, PerPairErgs: costs.Bn254PairingPerPairErgs, BaseNative: costs.Bn254PairingNativeBase, PerPairNative: costs.Bn254PairingNativePerPair},
		addrFromUint16(0x0100): sysfunc.P256VerifyFn{Ergs: costs.P256VerifyErgs, Native: costs.P256VerifyNative},
	}
}

func (r *Runner) top() *frameEntry { return r.stack[len(r.stack)-1] }

func (r *Runner) push(e *frameEntry) error {
	if len(r.stack) >= MaxCallDepth {
		return ErrCallDepthExceeded
	}
	e.scratchTop = r.scratch.StartFrame()
	r.stack = append(r.stack, e)
	return nil
}

// RunTillCompletion drives launch (the tx's top-level call or deployment)
// to a TransactionEndPoint, servicing every nested preemption point along
// the way. launch.Resources must already carry the transaction's full
// ergs+native budget; there is no parent frame to draw it from.
func (r *Runner) RunTillCompletion(env *evm.Environment, launch evm.LaunchParams, isTopLevelCreate bool) (TransactionEndPoint, error) {
	ee, err := dispatch.StartExecutingFrame(dispatch.VariantEVM, launch, r.costs)
	if err != nil {
		return TransactionEndPoint{}, err
	}
	handle := r.io.StartGlobalFrame()
	if err := r.push(&frameEntry{ee: ee, snapshot: handle, self: launch.Address, isCreate: isTopLevelCreate}); err != nil {
		return TransactionEndPoint{}, err
	}

	var deployedTo types.Address
	for {
		top := r.top()
		top.ee.Run()

		if top.ee.Exit() == evm.ExitRunning {
			if call := top.ee.PendingCall(); call != nil {
				if err := r.handleCall(env, top, *call); err != nil {
					return TransactionEndPoint{}, err
				}
				continue
			}
			if create := top.ee.PendingCreate(); create != nil {
				if err := r.handleCreate(env, top, *create); err != nil {
					return TransactionEndPoint{}, err
				}
				continue
			}
			return TransactionEndPoint{}, errors.New("runner: frame paused with no pending request")
		}

		n := len(r.stack)
		entry := r.stack[n-1]
		r.stack = r.stack[:n-1]

		succeeded := entry.ee.Exit() == evm.ExitStop || entry.ee.Exit() == evm.ExitReturn
		if succeeded {
			r.io.FinishGlobalFrame(nil)
		} else {
			r.io.FinishGlobalFrame(&entry.snapshot)
		}
		r.scratch.FinishFrame(entry.scratchTop)

		if entry.isCreate && succeeded {
			if err := r.commitDeployedCode(entry.self, entry.ee.Output()); err != nil {
				succeeded = false
			} else {
				deployedTo = entry.self
			}
		}

		if len(r.stack) == 0 {
			return TransactionEndPoint{
				Success:    succeeded,
				Reverted:   !succeeded,
				ExitCode:   entry.ee.Exit(),
				Output:     entry.ee.Output(),
				DeployedTo: deployedTo,
				Err:        entry.ee.Err(),
				Remaining:  *entry.ee.Resources(),
			}, nil
		}

		parent := r.top()
		unusedErgs := entry.ee.Resources().Ergs()
		unusedNative := entry.ee.Resources().NativeValue()
		returnData := r.stageReturnData(entry.ee.Output())

		if entry.isCreate {
			parent.ee.ContinueAfterDeployment(evm.DeploymentResult{
				Success:        succeeded,
				DeployedAddr:   entry.self,
				ReturnData:     returnData,
				ReturnedErgs:   unusedErgs,
				ReturnedNative: unusedNative,
			})
		} else {
			parent.ee.ContinueAfterExternalCall(entry.call, evm.CallResult{
				Success:        succeeded,
				ReturnData:     returnData,
				ReturnedErgs:   unusedErgs,
				ReturnedNative: unusedNative,
			})
		}
	}
}

// stageReturnData copies out into the scratch arena so it survives the
// popped child frame's own heap being discarded.
func (r *Runner) stageReturnData(out []byte) []byte {
	if len(out) == 0 {
		return nil
	}
	buf := r.scratch.Alloc(len(out))
	copy(buf, out)
	return buf
}

// callContext resolves the (caller, self, codeOwner, static, value) tuple
// for one of the four call-family opcodes, per their differing context
// rules (CALL/STATICCALL: execute in the target's own storage with a new
// caller; CALLCODE: run the target's code in the current frame's storage;
// DELEGATECALL: additionally preserve the current frame's own caller and
// value instead of substituting new ones).
func callContext(top *frameEntry, req evm.ExternalCallRequest) (caller, self, codeOwner types.Address, static bool, value uint256.Int) {
	switch req.Kind {
	case evm.CallKindCall:
		return top.self, req.Target, req.Target, req.IsStatic, req.Value
	case evm.CallKindCallCode:
		return top.self, top.self, req.Target, req.IsStatic, req.Value
	case evm.CallKindDelegateCall:
		frame := frameOf(top.ee)
		return frame.Caller(), top.self, req.Target, req.IsStatic, frame.Value()
	case evm.CallKindStaticCall:
		return top.self, req.Target, req.Target, true, req.Value
	default:
		return top.self, req.Target, req.Target, req.IsStatic, req.Value
	}
}

// frameOf is a thin accessor so callContext can read the calling frame's
// own caller/value without dispatch exposing those through every variant;
// today only VariantEVM exists, so this is a direct cast.
func frameOf(ee *dispatch.EE) *evm.Frame { return ee.EVMFrame() }

func (r *Runner) handleCall(env *evm.Environment, top *frameEntry, req evm.ExternalCallRequest) error {
	caller, self, codeOwner, static, value := callContext(top, req)

	childRes := resources.FromErgsAndNative(req.GasToPass, resources.NewDecreasingCounter(0))
	top.ee.Resources().GiveNativeTo(&childRes)

	if fn, ok := r.precompiles[req.Target]; ok {
		out, err := sysfunc.Execute(fn, req.CallData, &childRes)
		if err != nil && resources.Kind(err) == resources.KindOutOfNativeResources {
			return err
		}
		top.ee.ContinueAfterExternalCall(req, evm.CallResult{
			Success:        err == nil,
			ReturnData:     r.stageReturnData(out),
			ReturnedErgs:   childRes.Ergs(),
			ReturnedNative: childRes.NativeValue(),
		})
		return nil
	}

	if !value.IsZero() {
		if err := r.io.UpdateAccountNominalTokenBalance(caller, &value, true, false); err != nil {
			top.ee.ContinueAfterExternalCall(req, evm.CallResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
			return nil
		}
		if err := r.io.UpdateAccountNominalTokenBalance(self, &value, false, false); err != nil {
			return err
		}
	}

	data, err := r.io.ReadAccountProperties(&childRes, codeOwner, iostate.RequestCodeHash|iostate.RequestCodeLength|iostate.RequestEEVersion)
	if err != nil {
		if resources.Kind(err) == resources.KindOutOfNativeResources {
			return err
		}
		top.ee.ContinueAfterExternalCall(req, evm.CallResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
		return nil
	}

	var code []byte
	if data.CodeHash != (types.Hash{}) && env.Oracle != nil {
		code, _ = env.Oracle.PreimageByHash(data.CodeHash)
	}
	if len(code) == 0 {
		top.ee.ContinueAfterExternalCall(req, evm.CallResult{
			Success:        true,
			ReturnedErgs:   childRes.Ergs(),
			ReturnedNative: childRes.NativeValue(),
		})
		return nil
	}

	variant, err := dispatch.CreateInitial(data.EEVersion)
	if err != nil {
		top.ee.ContinueAfterExternalCall(req, evm.CallResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
		return nil
	}
	ee, err := dispatch.StartExecutingFrame(variant, evm.LaunchParams{
		Env:       env,
		Caller:    caller,
		Address:   self,
		CodeOwner: codeOwner,
		Code:      code,
		CallData:  req.CallData,
		Value:     value,
		IsStatic:  static,
		Resources: childRes,
	}, r.costs)
	if err != nil {
		top.ee.ContinueAfterExternalCall(req, evm.CallResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
		return nil
	}
	handle := r.io.StartGlobalFrame()
	return r.push(&frameEntry{ee: ee, snapshot: handle, self: self, call: req})
}

func (r *Runner) handleCreate(env *evm.Environment, top *frameEntry, req evm.DeploymentPreparationParameters) error {
	deployer := top.self

	deployerData, err := r.io.ReadAccountProperties(top.ee.Resources(), deployer, iostate.RequestNonce)
	if err != nil {
		if resources.Kind(err) == resources.KindOutOfNativeResources {
			return err
		}
		top.ee.ContinueAfterDeployment(evm.DeploymentResult{})
		return nil
	}
	nonce := deployerData.Nonce
	if err := r.io.SetAccountNonce(deployer, nonce+1); err != nil {
		return err
	}

	var addr types.Address
	if req.IsCreate2 {
		addr = evm.DeriveCreate2Address(deployer, &req.Salt, req.InitCode)
	} else {
		addr = evm.DeriveCreateAddress(deployer, nonce)
	}

	childRes := resources.FromErgsAndNative(req.GasToPass, resources.NewDecreasingCounter(0))
	top.ee.Resources().GiveNativeTo(&childRes)

	existing, err := r.io.ReadAccountProperties(&childRes, addr, iostate.RequestCodeLength|iostate.RequestNonce)
	if err != nil || existing.CodeLength > 0 || existing.Nonce > 0 {
		if err != nil && resources.Kind(err) == resources.KindOutOfNativeResources {
			return err
		}
		top.ee.ContinueAfterDeployment(evm.DeploymentResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
		return nil
	}

	if !req.Value.IsZero() {
		if err := r.io.UpdateAccountNominalTokenBalance(deployer, &req.Value, true, false); err != nil {
			top.ee.ContinueAfterDeployment(evm.DeploymentResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
			return nil
		}
		if err := r.io.UpdateAccountNominalTokenBalance(addr, &req.Value, false, false); err != nil {
			return err
		}
	}

	ee, err := dispatch.StartExecutingFrame(dispatch.VariantEVM, evm.LaunchParams{
		Env:       env,
		Caller:    deployer,
		Address:   addr,
		CodeOwner: addr,
		Code:      req.InitCode,
		Value:     req.Value,
		Resources: childRes,
	}, r.costs)
	if err != nil {
		top.ee.ContinueAfterDeployment(evm.DeploymentResult{ReturnedErgs: childRes.Ergs(), ReturnedNative: childRes.NativeValue()})
		return nil
	}
	handle := r.io.StartGlobalFrame()
	return r.push(&frameEntry{ee: ee, snapshot: handle, self: addr, isCreate: true})
}

func (r *Runner) commitDeployedCode(addr types.Address, code []byte) error {
	hash := crypto.Keccak256Hash(code)
	return r.io.SetAccountCode(addr, hash, uint32(len(code)))
}
