// Package resources implements the dual-resource accounting model shared by
// every layer of the engine: EE-facing "ergs" and prover-facing "native"
// complexity budget.
package resources

import "errors"

// ErrorKind classifies a resource or validation failure by recoverability,
// per the four-kind error model.
type ErrorKind int

const (
	// KindOutOfErgs means the EE resource was exhausted. Locally
	// recoverable: the frame reverts and the caller reclaims what remains.
	KindOutOfErgs ErrorKind = iota
	// KindOutOfNativeResources means the prover-complexity budget was
	// exhausted. Fatal: aborts the transaction, not locally recoverable.
	KindOutOfNativeResources
	// KindInternal means an engine invariant was violated. Fatal: aborts
	// the whole batch.
	KindInternal
	// KindUserError covers InvalidInput, NumericBoundsError, and
	// validation failures. Locally recoverable: surfaced to the EE as a
	// revert, or the transaction is dropped in validation.
	KindUserError
)

var (
	// ErrOutOfErgs is returned by Charge when the ergs component would
	// underflow.
	ErrOutOfErgs = errors.New("resources: out of ergs")
	// ErrOutOfNativeResources is returned by Charge when the native
	// component would underflow.
	ErrOutOfNativeResources = errors.New("resources: out of native resources")
	// ErrInternal signals an invariant violation in the engine.
	ErrInternal = errors.New("resources: internal invariant violation")
	// ErrInvalidInput signals a user-level misuse recoverable as a revert.
	ErrInvalidInput = errors.New("resources: invalid input")
	// ErrNumericBounds signals a balance/nonce arithmetic bound was hit.
	ErrNumericBounds = errors.New("resources: numeric bounds exceeded")
)

// Kind maps one of the sentinel errors above to its ErrorKind. Panics (via
// ErrInternal fallback) are never expected here: callers should only pass
// errors returned by this package.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrOutOfErgs):
		return KindOutOfErgs
	case errors.Is(err, ErrOutOfNativeResources):
		return KindOutOfNativeResources
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindUserError
	}
}

// Ergs is the EE-level gas-equivalent resource.
type Ergs uint64

// Times multiplies Ergs by a scalar factor.
func (e Ergs) Times(k uint64) Ergs { return Ergs(uint64(e) * k) }

// Native is the prover-complexity budget. Two implementations satisfy this
// contract: a plain decreasing counter, and a counter-with-limit (used when
// "remaining budget" needs to be compared against a previously captured
// ceiling via SetAsLimit).
type Native interface {
	// Value returns the currently available native units.
	Value() uint64
	// Charge debits cost native units, or fails with ErrOutOfNativeResources
	// and drains to zero.
	Charge(cost uint64) error
	// Add returns the native resource with other's units folded in.
	Add(other uint64)
	// SetAsLimit records the current value as the budget ceiling used by
	// LimitedCounter.Charge's bookkeeping. DecreasingCounter treats this as
	// a no-op.
	SetAsLimit()
}

// DecreasingCounter is a Native implementation that simply decrements.
type DecreasingCounter struct {
	remaining uint64
}

// NewDecreasingCounter constructs a DecreasingCounter starting at n.
func NewDecreasingCounter(n uint64) *DecreasingCounter {
	return &DecreasingCounter{remaining: n}
}

func (c *DecreasingCounter) Value() uint64 { return c.remaining }

func (c *DecreasingCounter) Charge(cost uint64) error {
	if cost > c.remaining {
		c.remaining = 0
		return ErrOutOfNativeResources
	}
	c.remaining -= cost
	return nil
}

func (c *DecreasingCounter) Add(other uint64) { c.remaining += other }

func (c *DecreasingCounter) SetAsLimit() {}

// LimitedCounter is a Native implementation that tracks both a running
// counter and the limit it was most recently set against, for callers that
// want to measure "fraction of budget used."
type LimitedCounter struct {
	used  uint64
	limit uint64
}

// NewLimitedCounter constructs a LimitedCounter with the given starting
// budget as both the current value and the limit.
func NewLimitedCounter(limit uint64) *LimitedCounter {
	return &LimitedCounter{used: 0, limit: limit}
}

func (c *LimitedCounter) Value() uint64 {
	if c.used >= c.limit {
		return 0
	}
	return c.limit - c.used
}

func (c *LimitedCounter) Charge(cost uint64) error {
	if c.used+cost > c.limit {
		c.used = c.limit
		return ErrOutOfNativeResources
	}
	c.used += cost
	return nil
}

func (c *LimitedCounter) Add(other uint64) {
	if other >= c.used {
		c.used = 0
	} else {
		c.used -= other
	}
}

func (c *LimitedCounter) SetAsLimit() {
	c.limit = c.Value()
	c.used = 0
}

// Used returns the native units consumed so far against the limit.
func (c *LimitedCounter) Used() uint64 { return c.used }

// Cost is a resource charge request: an ergs amount plus a native amount.
type Cost struct {
	Ergs   Ergs
	Native uint64
}

// Resources is the pair (ergs, native) threaded through every EE and IO
// operation.
type Resources struct {
	ergs   Ergs
	native Native
}

// FromErgsAndNative constructs a Resources pair.
func FromErgsAndNative(ergs Ergs, native Native) Resources {
	return Resources{ergs: ergs, native: native}
}

// Ergs returns the current ergs balance.
func (r *Resources) Ergs() Ergs { return r.ergs }

// NativeValue returns the current native balance.
func (r *Resources) NativeValue() uint64 {
	if r.native == nil {
		return 0
	}
	return r.native.Value()
}

// HasEnough reports whether cost could be charged without mutating state.
func (r *Resources) HasEnough(cost Cost) bool {
	if r.ergs < cost.Ergs {
		return false
	}
	if r.native == nil {
		return cost.Native == 0
	}
	return r.native.Value() >= cost.Native
}

// Charge debits both components atomically at the contract level: either
// both succeed, or exactly one of ErrOutOfErgs / ErrOutOfNativeResources is
// returned and the resource is left in a well-defined failed state (the
// failing component drained to zero, the other component also drained for
// the failing operation so a retry after failure cannot silently succeed).
func (r *Resources) Charge(cost Cost) error {
	if r.ergs < cost.Ergs {
		r.ergs = 0
		if r.native != nil {
			_ = r.native.Charge(r.native.Value())
		}
		return ErrOutOfErgs
	}
	if r.native != nil {
		if err := r.native.Charge(cost.Native); err != nil {
			r.ergs = 0
			return err
		}
	} else if cost.Native != 0 {
		r.ergs = 0
		return ErrOutOfNativeResources
	}
	r.ergs -= cost.Ergs
	return nil
}

// Reclaim adds other into r, e.g. returning a callee's unused resources to
// its caller.
func (r *Resources) Reclaim(other Resources) {
	r.ergs += other.ergs
	if r.native != nil && other.native != nil {
		r.native.Add(other.native.Value())
	}
}

// GiveNativeTo moves all native units from r into other, leaving r's native
// empty. Used at frame return so the resuming EE retains work already paid
// for by its callee.
func (r *Resources) GiveNativeTo(other *Resources) {
	if r.native == nil || other.native == nil {
		return
	}
	v := r.native.Value()
	_ = r.native.Charge(v)
	other.native.Add(v)
}

// SetAsLimit snapshots the current native value as the budget ceiling
// against which future usage is measured (LimitedCounter only).
func (r *Resources) SetAsLimit() {
	if r.native != nil {
		r.native.SetAsLimit()
	}
}

// WithInfiniteErgs runs f with ergs replaced by the maximum representable
// value, restoring the prior ergs balance on exit regardless of how f
// returns. Native is left untouched: this is the sole mechanism by which
// the system performs EE-paid work without double-charging ergs.
func (r *Resources) WithInfiniteErgs(f func() error) error {
	prev := r.ergs
	r.ergs = Ergs(^uint64(0))
	defer func() { r.ergs = prev }()
	return f()
}
