// Package dispatch implements the EE dispatch layer (spec §4.11): a closed
// tagged union over execution-environment variants. Only EVM is wired
// today, but the dispatch surface is shaped so a second variant can be
// added by extending the switch, not by introducing an interface and
// paying for dynamic dispatch over a set that never actually varies at
// runtime.
//
// Grounded on the teacher's core/vm/aa_executor.go account-model tagging
// pattern: a byte tag selects one of a small, closed set of concrete
// handlers, each carrying its own resource-passing rules.
package dispatch

import (
	"errors"

	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/evm"
	"github.com/zkrollup/zkos/resources"
)

// Variant tags the concrete EE implementation backing an EE instance.
type Variant byte

const (
	// VariantEVM is the only EE version implemented in this cut.
	VariantEVM Variant = 0
)

// ErrUnsupportedEEVersion is returned when a tx or CREATE targets an EE
// version byte this dispatcher doesn't know how to host.
var ErrUnsupportedEEVersion = errors.New("dispatch: unsupported EE version")

// CreateInitial resolves an EE version byte (spec §4.13: read off the
// target account's EEVersion field) to the Variant that will host it.
func CreateInitial(eeVersion byte) (Variant, error) {
	switch eeVersion {
	case byte(VariantEVM):
		return VariantEVM, nil
	default:
		return 0, ErrUnsupportedEEVersion
	}
}

// EE is one running execution-environment frame, tagged by Variant. The
// zero value is not usable; construct with StartExecutingFrame.
type EE struct {
	variant Variant
	evm     *evm.Frame
}

// StartExecutingFrame creates a fresh frame of the given variant and begins
// charging its startup cost (bytecode pre-analysis for EVM).
func StartExecutingFrame(variant Variant, params evm.LaunchParams, costs config.Costs) (*EE, error) {
	switch variant {
	case VariantEVM:
		f, err := evm.NewFrame(params, costs)
		if err != nil {
			return nil, err
		}
		return &EE{variant: variant, evm: f}, nil
	default:
		return nil, ErrUnsupportedEEVersion
	}
}

// Variant reports which concrete EE backs this instance.
func (e *EE) Variant() Variant { return e.variant }

// Run drives the EE until it halts, reverts, faults, or yields a
// preemption point.
func (e *EE) Run() {
	switch e.variant {
	case VariantEVM:
		e.evm.Run()
	}
}

// Exit reports the frame's halt/fault code. ExitRunning means a
// preemption point is pending (PendingCall/PendingCreate).
func (e *EE) Exit() evm.ExitCode {
	switch e.variant {
	case VariantEVM:
		return e.evm.Exit()
	default:
		return evm.ExitInternalError
	}
}

// Output returns the frame's RETURN/REVERT payload.
func (e *EE) Output() []byte {
	switch e.variant {
	case VariantEVM:
		return e.evm.Output()
	default:
		return nil
	}
}

// Resources returns the frame's resource pool.
func (e *EE) Resources() *resources.Resources {
	switch e.variant {
	case VariantEVM:
		return e.evm.Resources()
	default:
		return nil
	}
}

// EVMFrame exposes the concrete *evm.Frame backing this EE when its variant
// is VariantEVM, for runner logic (DELEGATECALL's caller/value propagation)
// that is intrinsic to one variant and has no reason to be generalized
// across a union with only one member today. Returns nil for any other
// variant.
func (e *EE) EVMFrame() *evm.Frame {
	if e.variant == VariantEVM {
		return e.evm
	}
	return nil
}

// Err returns the error behind a non-halting exit code, if any.
func (e *EE) Err() error {
	switch e.variant {
	case VariantEVM:
		return e.evm.Err()
	default:
		return nil
	}
}

// PendingCall returns and clears a pending external-call preemption.
func (e *EE) PendingCall() *evm.ExternalCallRequest {
	switch e.variant {
	case VariantEVM:
		return e.evm.PendingCall()
	default:
		return nil
	}
}

// PendingCreate returns and clears a pending deployment preemption.
func (e *EE) PendingCreate() *evm.DeploymentPreparationParameters {
	switch e.variant {
	case VariantEVM:
		return e.evm.PendingCreate()
	default:
		return nil
	}
}

// ContinueAfterExternalCall resumes the frame after the runner has driven a
// nested call to completion.
func (e *EE) ContinueAfterExternalCall(req evm.ExternalCallRequest, result evm.CallResult) {
	switch e.variant {
	case VariantEVM:
		e.evm.ContinueAfterExternalCall(req, result)
	}
}

// ContinueAfterDeployment resumes the frame after the runner has driven a
// nested deployment to completion.
func (e *EE) ContinueAfterDeployment(result evm.DeploymentResult) {
	switch e.variant {
	case VariantEVM:
		e.evm.ContinueAfterDeployment(result)
	}
}

// PrepareForDeployment adapts a DeploymentPreparationParameters request
// into the LaunchParams needed to start the deployed code's own frame; the
// address, value-transfer, and collision check are the runner's job (they
// are not EE-specific), so this only carries the EE-specific bits forward.
func PrepareForDeployment(variant Variant, req evm.DeploymentPreparationParameters, caller, addr types.Address) evm.LaunchParams {
	return evm.LaunchParams{
		Caller:    caller,
		Address:   addr,
		CodeOwner: addr,
		Code:      req.InitCode,
		Value:     req.Value,
	}
}

// ClarifyAndTakePassedResources implements the resource-passing rule a
// given EE variant uses when it forwards ergs to a callee (spec §4.11: "the
// 63/64 rule lives here for EVM; other EEs may differ"). EVM's interpreter
// already applies this rule itself before yielding the preemption point
// (see evm.Frame.opCall/opCreate), so this entry point exists for variants
// that need the runner, rather than the EE, to decide.
func ClarifyAndTakePassedResources(variant Variant, available, desired resources.Ergs) resources.Ergs {
	switch variant {
	case VariantEVM:
		cap63 := resources.Ergs(uint64(available) - uint64(available)/64)
		if desired > cap63 {
			return cap63
		}
		return desired
	default:
		return 0
	}
}
