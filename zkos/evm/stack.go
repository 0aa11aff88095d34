package evm

import (
	"errors"

	"github.com/holiman/uint256"
)

// stackLimit is 1025 words, one more than mainnet Ethereum's 1024: spec §4.10
// dimensions the frame's stack at 1025 words.
const stackLimit = 1025

// ErrStackOverflow is returned by push when the stack is already at capacity.
var ErrStackOverflow = errors.New("evm: stack overflow")

// ErrStackUnderflow is returned when an operation needs more items than are
// present.
var ErrStackUnderflow = errors.New("evm: stack underflow")

// stack is the frame's 256-bit operand stack. Unlike the teacher's
// core/vm.Stack (math/big backed), this one is uint256.Int backed per
// SPEC_FULL.md's little-endian-limb decision, grounded on the teacher's
// otherwise-unused holiman/uint256 go.mod dependency.
type stack struct {
	data []uint256.Int
}

func newStack() *stack {
	return &stack{data: make([]uint256.Int, 0, 32)}
}

func (s *stack) len() int { return len(s.data) }

func (s *stack) push(v *uint256.Int) error {
	if len(s.data) >= stackLimit {
		return ErrStackOverflow
	}
	s.data = append(s.data, *v)
	return nil
}

func (s *stack) pop() (uint256.Int, error) {
	n := len(s.data)
	if n == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	v := s.data[n-1]
	s.data = s.data[:n-1]
	return v, nil
}

// peek returns a pointer to the top element without removing it.
func (s *stack) peek() *uint256.Int {
	return &s.data[len(s.data)-1]
}

// back returns a pointer to the nth element from the top (0 = top).
func (s *stack) back(n int) *uint256.Int {
	return &s.data[len(s.data)-1-n]
}

func (s *stack) requireDepth(n int) error {
	if len(s.data) < n {
		return ErrStackUnderflow
	}
	return nil
}

func (s *stack) swap(n int) {
	top := len(s.data) - 1
	s.data[top], s.data[top-n] = s.data[top-n], s.data[top]
}

func (s *stack) dup(n int) error {
	if len(s.data) >= stackLimit {
		return ErrStackOverflow
	}
	v := s.data[len(s.data)-n]
	s.data = append(s.data, v)
	return nil
}
