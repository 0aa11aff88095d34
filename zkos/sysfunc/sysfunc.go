// Package sysfunc implements the engine's system functions: pure,
// resource-charged primitives (hashes, ecrecover, modexp, bn254 arithmetic,
// p256 verify, identity). Each function charges its ergs+native cost
// before doing any work, so a price-only failure leaves no state mutated.
//
// Per spec §1, the individual cryptographic primitives for BN254 pairing,
// secp256k1/r1, and similar asymmetric curve arithmetic are out of this
// repo's scope — they are "system functions with a cost contract," not
// implemented here, the same stance the teacher's own core/vm/precompiles.go
// takes (see ErrBN254NotImplemented there). Keccak256/SHA256/RIPEMD160/
// identity/ecrecover/modexp are simple enough to implement directly and are
// fully wired.
package sysfunc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"math/big"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // matches teacher's precompiles.go import

	"github.com/zkrollup/zkos/crypto"
	"github.com/zkrollup/zkos/resources"
)

// ErrAsymmetricCryptoNotImplemented marks a system function whose
// cryptographic body is out of this repo's scope (see package doc).
var ErrAsymmetricCryptoNotImplemented = errors.New("sysfunc: asymmetric cryptographic primitive not implemented in this engine")

// Function is a single system function: charge, then run.
type Function interface {
	// Cost returns the (ergs, native) charge for the given input length,
	// per the static + per_word*ceil(len/32) (or per-pair) formula of
	// spec §4.4.
	Cost(input []byte) resources.Cost
	// Run executes the primitive. Charging must already have happened;
	// Run never mutates resources itself.
	Run(input []byte) (output []byte, err error)
}

// Execute charges cost before any work; a price-only failure (insufficient
// resources) leaves no state mutated because Run is never called.
func Execute(f Function, input []byte, res *resources.Resources) ([]byte, error) {
	cost := f.Cost(input)
	if err := res.Charge(cost); err != nil {
		return nil, err
	}
	out, err := f.Run(input)
	if err != nil {
		if errors.Is(err, resources.ErrInvalidInput) {
			// InvalidInput indicates a caller error the EE should
			// surface as "revert with empty returndata."
			return nil, resources.ErrInvalidInput
		}
		return nil, err
	}
	return out, nil
}

func wordCount(size int) uint64 {
	if size == 0 {
		return 0
	}
	return uint64((size + 31) / 32)
}

func padRight(data []byte, minLen int) []byte {
	if len(data) >= minLen {
		return data
	}
	padded := make([]byte, minLen)
	copy(padded, data)
	return padded
}

// --- Keccak256 (the hash used pervasively by the engine itself, not an
// EVM-addressed precompile, but specified the same way). ---

type Keccak256Fn struct {
	StaticErgs, PerWordErgs   uint64
	StaticNative, PerWordNative uint64
}

func (f Keccak256Fn) Cost(input []byte) resources.Cost {
	w := wordCount(len(input))
	return resources.Cost{
		Ergs:   resources.Ergs(f.StaticErgs + f.PerWordErgs*w),
		Native: f.StaticNative + f.PerWordNative*w,
	}
}

func (Keccak256Fn) Run(input []byte) ([]byte, error) {
	return crypto.Keccak256(input), nil
}

// --- Sha256 (precompile 0x02) ---

type Sha256Fn struct {
	StaticErgs, PerWordErgs     uint64
	StaticNative, PerWordNative uint64
}

func (f Sha256Fn) Cost(input []byte) resources.Cost {
	w := wordCount(len(input))
	return resources.Cost{
		Ergs:   resources.Ergs(f.StaticErgs + f.PerWordErgs*w),
		Native: f.StaticNative + f.PerWordNative*w,
	}
}

func (Sha256Fn) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- Ripemd160 (precompile 0x03) ---

type Ripemd160Fn struct {
	StaticErgs, PerWordErgs     uint64
	StaticNative, PerWordNative uint64
}

func (f Ripemd160Fn) Cost(input []byte) resources.Cost {
	w := wordCount(len(input))
	return resources.Cost{
		Ergs:   resources.Ergs(f.StaticErgs + f.PerWordErgs*w),
		Native: f.StaticNative + f.PerWordNative*w,
	}
}

func (Ripemd160Fn) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	digest := h.Sum(nil)
	out := make([]byte, 32)
	copy(out[12:], digest)
	return out, nil
}

// --- Identity (precompile 0x04) ---

type IdentityFn struct {
	StaticErgs, PerWordErgs     uint64
	StaticNative, PerWordNative uint64
}

func (f IdentityFn) Cost(input []byte) resources.Cost {
	w := wordCount(len(input))
	return resources.Cost{
		Ergs:   resources.Ergs(f.StaticErgs + f.PerWordErgs*w),
		Native: f.StaticNative + f.PerWordNative*w,
	}
}

func (IdentityFn) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

// --- EcRecover (precompile 0x01) ---

type EcRecoverFn struct {
	Ergs, Native uint64
}

func (f EcRecoverFn) Cost([]byte) resources.Cost {
	return resources.Cost{Ergs: resources.Ergs(f.Ergs), Native: f.Native}
}

func (EcRecoverFn) Run(input []byte) ([]byte, error) {
	input = padRight(input, 128)
	hash := input[0:32]
	v := new(big.Int).SetBytes(input[32:64])
	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])

	if v.BitLen() > 8 {
		return nil, nil
	}
	vByte := byte(v.Uint64())
	if vByte != 27 && vByte != 28 {
		return nil, nil
	}
	if !crypto.ValidateSignatureValues(vByte-27, r, s, true) {
		return nil, nil
	}

	sig := make([]byte, 65)
	rBytes, sBytes := r.Bytes(), s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = vByte - 27

	pub, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return nil, nil
	}
	addr := crypto.Keccak256(pub[1:])
	out := make([]byte, 32)
	copy(out[12:], addr[12:])
	return out, nil
}

// --- ModExp (precompile 0x05) ---

type ModExpFn struct {
	// WorstCaseNativePerGas is multiplied by the ergs cost to approximate
	// the prover-complexity cost of the worst-case modexp circuit, per
	// spec §6's note that asymmetric primitives may use a worst-case
	// constant instead of a precise per-input native formula.
	WorstCaseNativePerGas uint64
}

func (f ModExpFn) Cost(input []byte) resources.Cost {
	ergs := f.ErgsFor(input)
	return resources.Cost{Ergs: resources.Ergs(ergs), Native: ergs * f.WorstCaseNativePerGas}
}

// ErgsFor computes the EIP-198 gas cost from the raw input bytes (needed
// because, unlike every other system function, modexp's cost depends on
// decoded header fields, not just input length).
func (f ModExpFn) ErgsFor(input []byte) uint64 {
	input = padRight(input, 96)
	baseLen := new(big.Int).SetBytes(input[0:32]).Uint64()
	expLen := new(big.Int).SetBytes(input[32:64]).Uint64()
	modLen := new(big.Int).SetBytes(input[64:96]).Uint64()

	rest := input[96:]
	adjExpLen := adjustedExpLen(expLen, baseLen, rest)

	maxLen := baseLen
	if modLen > maxLen {
		maxLen = modLen
	}
	words := (maxLen + 7) / 8
	multComplexity := words * words

	gas := multComplexity * maxUint64(adjExpLen, 1) / 3
	if gas < 200 {
		gas = 200
	}
	return gas
}

func (ModExpFn) Run(input []byte) ([]byte, error) {
	input = padRight(input, 96)
	baseLen := new(big.Int).SetBytes(input[0:32])
	expLen := new(big.Int).SetBytes(input[32:64])
	modLen := new(big.Int).SetBytes(input[64:96])

	if baseLen.BitLen() > 32 || expLen.BitLen() > 32 || modLen.BitLen() > 32 {
		return nil, resources.ErrInvalidInput
	}
	bLen, eLen, mLen := baseLen.Uint64(), expLen.Uint64(), modLen.Uint64()

	data := input[96:]
	base := getDataSlice(data, 0, bLen)
	exp := getDataSlice(data, bLen, eLen)
	mod := getDataSlice(data, bLen+eLen, mLen)

	modVal := new(big.Int).SetBytes(mod)
	if modVal.Sign() == 0 {
		return make([]byte, mLen), nil
	}
	baseVal := new(big.Int).SetBytes(base)
	expVal := new(big.Int).SetBytes(exp)
	result := new(big.Int).Exp(baseVal, expVal, modVal)

	out := result.Bytes()
	if uint64(len(out)) < mLen {
		padded := make([]byte, mLen)
		copy(padded[mLen-uint64(len(out)):], out)
		return padded, nil
	}
	return out[:mLen], nil
}

func getDataSlice(data []byte, offset, length uint64) []byte {
	if length == 0 {
		return nil
	}
	if offset >= uint64(len(data)) {
		return make([]byte, length)
	}
	end := offset + length
	if end > uint64(len(data)) {
		out := make([]byte, length)
		copy(out, data[offset:])
		return out
	}
	return data[offset:end]
}

func adjustedExpLen(expLen, baseLen uint64, rest []byte) uint64 {
	var expHead *big.Int
	if baseLen < uint64(len(rest)) {
		start := baseLen
		end := start + 32
		if end > uint64(len(rest)) {
			end = uint64(len(rest))
		}
		expHead = new(big.Int).SetBytes(rest[start:end])
	} else {
		expHead = new(big.Int)
	}
	var adjExpLen uint64
	if expLen <= 32 {
		if expHead.Sign() == 0 {
			adjExpLen = 0
		} else {
			adjExpLen = uint64(expHead.BitLen() - 1)
		}
	} else {
		if expHead.Sign() != 0 {
			adjExpLen = uint64(expHead.BitLen() - 1)
		}
		adjExpLen += 8 * (expLen - 32)
	}
	return adjExpLen
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// --- BN254 add/mul/pairing and P256 verify: cost contract only. ---

type Bn254EcaddFn struct{ Ergs, Native uint64 }

func (f Bn254EcaddFn) Cost([]byte) resources.Cost {
	return resources.Cost{Ergs: resources.Ergs(f.Ergs), Native: f.Native}
}
func (Bn254EcaddFn) Run([]byte) ([]byte, error) { return nil, ErrAsymmetricCryptoNotImplemented }

type Bn254EcmulFn struct{ Ergs, Native uint64 }

func (f Bn254EcmulFn) Cost([]byte) resources.Cost {
	return resources.Cost{Ergs: resources.Ergs(f.Ergs), Native: f.Native}
}
func (Bn254EcmulFn) Run([]byte) ([]byte, error) { return nil, ErrAsymmetricCryptoNotImplemented }

type Bn254PairingFn struct {
	BaseErgs, PerPairErgs     uint64
	BaseNative, PerPairNative uint64
}

func (f Bn254PairingFn) Cost(input []byte) resources.Cost {
	k := uint64(len(input)) / 192
	return resources.Cost{
		Ergs:   resources.Ergs(f.BaseErgs + f.PerPairErgs*k),
		Native: f.BaseNative + f.PerPairNative*k,
	}
}
func (Bn254PairingFn) Run(input []byte) ([]byte, error) {
	if len(input)%192 != 0 {
		return nil, resources.ErrInvalidInput
	}
	return nil, ErrAsymmetricCryptoNotImplemented
}

// P256VerifyFn implements RIP-7212 (secp256r1 / P-256 signature
// verification). Unlike BN254/pairing, the standard library already ships
// a correct P-256 verifier (crypto/ecdsa + crypto/elliptic); no pack
// example vendors a pure-Go secp256r1 verifier reachable without cgo, so
// this is the one system function implemented on the standard library
// (see DESIGN.md).
type P256VerifyFn struct{ Ergs, Native uint64 }

func (f P256VerifyFn) Cost([]byte) resources.Cost {
	return resources.Cost{Ergs: resources.Ergs(f.Ergs), Native: f.Native}
}

// Run expects the RIP-7212 layout: 32-byte hash, r, s, qx, qy (160 bytes).
// Returns a single byte set to 1 on success, or empty output on failure
// (the EVM-facing caller is expected to treat empty output as "false").
func (P256VerifyFn) Run(input []byte) ([]byte, error) {
	input = padRight(input, 160)
	hash := input[0:32]
	r := new(big.Int).SetBytes(input[32:64])
	s := new(big.Int).SetBytes(input[64:96])
	qx := new(big.Int).SetBytes(input[96:128])
	qy := new(big.Int).SetBytes(input[128:160])

	curve := elliptic.P256()
	if !curve.IsOnCurve(qx, qy) {
		return nil, nil
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: qx, Y: qy}
	if !ecdsa.Verify(pub, hash, r, s) {
		return nil, nil
	}
	out := make([]byte, 32)
	out[31] = 1
	return out, nil
}
