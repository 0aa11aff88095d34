// Package bootloader implements the engine's per-batch/per-tx pipeline
// (spec §4.13): decode -> validate -> pay -> execute -> refund -> seal,
// plus block-level setup and seal.
//
// Grounded on the teacher's rollup/sequencer.go (batch loop shape) and
// rollup/execute.go (per-tx execute/validate/seal phases); account-model
// selection is grounded on core/vm/aa_executor.go's account-model tagging.
package bootloader

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
)

// Selectors the bootloader uses to call into account-abstraction contracts
// (spec §6).
const (
	SelectorValidateTransaction               uint32 = 0x202bcce7
	SelectorExecuteTransaction                uint32 = 0xdf9c1589
	SelectorPayForTransaction                 uint32 = 0xe2f318e3
	SelectorPrePaymaster                      uint32 = 0xa28c1aee
	SelectorValidateAndPayForPaymasterTransaction uint32 = 0x038a24bc
)

// System address constants (spec §6): low 16 bits of a zero-padded
// 160-bit address.
var (
	AddressContractDeployer = addrFromUint16(0x8006)
	AddressL1Messenger      = addrFromUint16(0x8008)
	AddressL2BaseToken      = addrFromUint16(0x800a)
	AddressNonceHolder      = addrFromUint16(0x8003)
	AddressBootloaderFormal = addrFromUint16(0x8001)
)

func addrFromUint16(v uint16) types.Address {
	var a types.Address
	a[18] = byte(v >> 8)
	a[19] = byte(v)
	return a
}

// headerWords is the fixed 39*32-byte header reserved in front of every
// transaction blob (spec §3), laid out as a flat word table followed by
// variable-length payloads (signature, data, access list, paymaster
// input), each addressed by a (offset, length) pair stored in the header.
const headerWords = 39
const wordSize = 32
const headerBytes = headerWords * wordSize

// Word indices into the fixed header.
const (
	wTxType = iota
	wFrom
	wTo
	wIsCreate
	wGasLimit
	wGasPerPubdata
	wNativePerGas
	wMaxFeePerGas
	wMaxPriorityFeePerGas
	wPaymaster
	wNonce
	wValue
	wIsUpgrade
	wDataOffset
	wDataLength
	wSignatureOffset
	wSignatureLength
	wPaymasterInputOffset
	wPaymasterInputLength
	wAccessListOffset
	wAccessListCount
	wFirstReserved // every word from here to headerWords-1 must be zero
)

// TxType enumerates the transaction type byte carried in the header.
type TxType byte

const (
	TxTypeL2 TxType = iota
	TxTypeL1
	TxTypeUpgrade
)

// ErrMalformedTransaction covers any structural problem with a tx blob:
// too short, an offset/length pair that runs off the end, or a non-zero
// bit in the reserved header area.
var ErrMalformedTransaction = errors.New("bootloader: malformed transaction blob")

// Transaction is the decoded form of spec §3's variable-length tx blob:
// narrow-typed accessors over a single calldata-like region.
type Transaction struct {
	Type                  TxType
	From                  types.Address
	To                    types.Address
	IsCreate              bool
	GasLimit              uint64
	GasPerPubdata         uint64
	NativePerGas          uint64
	MaxFeePerGas          uint256.Int
	MaxPriorityFeePerGas  uint256.Int
	Paymaster             types.Address
	Nonce                 uint64
	Value                 uint256.Int
	// ClaimsUpgrade is the operator-controlled bit a Type==TxTypeL1
	// transaction can set to request upgrade-tx treatment (higher native
	// ceiling). Only honored by AccountModelFor when From is the
	// bootloader formal address (spec §9's trust-model decision).
	ClaimsUpgrade bool
	Data                  []byte
	Signature             []byte
	PaymasterInput        []byte
	AccessList            []types.Address

	raw             []byte
	sigOffset       int
	sigLength       int
}

// u256BEPtr reads word i of the header as a 32-byte big-endian value.
func u256BEPtr(header []byte, i int) []byte {
	return header[i*wordSize : i*wordSize+wordSize]
}

// narrowUint validates that only the low n bytes of a 32-byte word are
// non-zero, then returns those bytes as a uint64 (n <= 8), per spec §3's
// U256BEPtr narrow-fit validation.
func narrowUint(word []byte, n int) (uint64, error) {
	for _, b := range word[:wordSize-n] {
		if b != 0 {
			return 0, ErrMalformedTransaction
		}
	}
	var v uint64
	for _, b := range word[wordSize-n:] {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func narrowAddress(word []byte) (types.Address, error) {
	for _, b := range word[:wordSize-types.AddressLength] {
		if b != 0 {
			return types.Address{}, ErrMalformedTransaction
		}
	}
	return types.BytesToAddress(word[wordSize-types.AddressLength:]), nil
}

func narrowBool(word []byte) (bool, error) {
	v, err := narrowUint(word, 1)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, ErrMalformedTransaction
	}
	return v == 1, nil
}

// ParseTransaction decodes a tx blob per spec §3/§6: a fixed 39-word
// header followed by variable payloads addressed by (offset, length)
// pairs carried in the header. Unknown reserved bits are validated as
// zero and rejected otherwise (DESIGN.md's Open Question decision), so a
// malformed or future-versioned blob fails here rather than being
// silently accepted with ignored bits.
func ParseTransaction(blob []byte) (*Transaction, error) {
	if len(blob) < headerBytes {
		return nil, ErrMalformedTransaction
	}
	header := blob[:headerBytes]

	txTypeByte, err := narrowUint(u256BEPtr(header, wTxType), 1)
	if err != nil {
		return nil, err
	}
	if txTypeByte > uint64(TxTypeUpgrade) {
		return nil, ErrMalformedTransaction
	}

	from, err := narrowAddress(u256BEPtr(header, wFrom))
	if err != nil {
		return nil, err
	}
	to, err := narrowAddress(u256BEPtr(header, wTo))
	if err != nil {
		return nil, err
	}
	isCreate, err := narrowBool(u256BEPtr(header, wIsCreate))
	if err != nil {
		return nil, err
	}
	gasLimit, err := narrowUint(u256BEPtr(header, wGasLimit), 8)
	if err != nil {
		return nil, err
	}
	gasPerPubdata, err := narrowUint(u256BEPtr(header, wGasPerPubdata), 8)
	if err != nil {
		return nil, err
	}
	nativePerGas, err := narrowUint(u256BEPtr(header, wNativePerGas), 8)
	if err != nil {
		return nil, err
	}
	var maxFeePerGas, maxPriorityFeePerGas uint256.Int
	maxFeePerGas.SetBytes(u256BEPtr(header, wMaxFeePerGas))
	maxPriorityFeePerGas.SetBytes(u256BEPtr(header, wMaxPriorityFeePerGas))
	paymaster, err := narrowAddress(u256BEPtr(header, wPaymaster))
	if err != nil {
		return nil, err
	}
	nonce, err := narrowUint(u256BEPtr(header, wNonce), 8)
	if err != nil {
		return nil, err
	}
	var value uint256.Int
	value.SetBytes(u256BEPtr(header, wValue))
	claimsUpgrade, err := narrowBool(u256BEPtr(header, wIsUpgrade))
	if err != nil {
		return nil, err
	}

	dataOff, err := narrowUint(u256BEPtr(header, wDataOffset), 4)
	if err != nil {
		return nil, err
	}
	dataLen, err := narrowUint(u256BEPtr(header, wDataLength), 4)
	if err != nil {
		return nil, err
	}
	sigOff, err := narrowUint(u256BEPtr(header, wSignatureOffset), 4)
	if err != nil {
		return nil, err
	}
	sigLen, err := narrowUint(u256BEPtr(header, wSignatureLength), 4)
	if err != nil {
		return nil, err
	}
	paymasterInputOff, err := narrowUint(u256BEPtr(header, wPaymasterInputOffset), 4)
	if err != nil {
		return nil, err
	}
	paymasterInputLen, err := narrowUint(u256BEPtr(header, wPaymasterInputLength), 4)
	if err != nil {
		return nil, err
	}
	accessListOff, err := narrowUint(u256BEPtr(header, wAccessListOffset), 4)
	if err != nil {
		return nil, err
	}
	accessListCount, err := narrowUint(u256BEPtr(header, wAccessListCount), 4)
	if err != nil {
		return nil, err
	}

	for w := wFirstReserved; w < headerWords; w++ {
		for _, b := range u256BEPtr(header, w) {
			if b != 0 {
				return nil, ErrMalformedTransaction
			}
		}
	}

	data, err := slice(blob, dataOff, dataLen)
	if err != nil {
		return nil, err
	}
	sig, err := slice(blob, sigOff, sigLen)
	if err != nil {
		return nil, err
	}
	paymasterInput, err := slice(blob, paymasterInputOff, paymasterInputLen)
	if err != nil {
		return nil, err
	}
	accessListBytes, err := slice(blob, accessListOff, accessListCount*wordSize)
	if err != nil {
		return nil, err
	}
	accessList := make([]types.Address, accessListCount)
	for i := range accessList {
		word := accessListBytes[i*wordSize : i*wordSize+wordSize]
		addr, err := narrowAddress(word)
		if err != nil {
			return nil, err
		}
		accessList[i] = addr
	}

	tx := &Transaction{
		Type:                 TxType(txTypeByte),
		From:                 from,
		To:                   to,
		IsCreate:             isCreate,
		GasLimit:             gasLimit,
		GasPerPubdata:        gasPerPubdata,
		NativePerGas:         nativePerGas,
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		Paymaster:            paymaster,
		Nonce:                nonce,
		Value:                value,
		ClaimsUpgrade:        claimsUpgrade,
		Data:                 data,
		Signature:            sig,
		PaymasterInput:       paymasterInput,
		AccessList:           accessList,
		raw:                  blob,
		sigOffset:            int(sigOff),
		sigLength:            int(sigLen),
	}
	return tx, nil
}

// slice bounds-checks an (offset, length) pair against blob, per the
// spec's byte-offset-pointer access pattern.
func slice(blob []byte, offset, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	end := offset + length
	if end < offset || end > uint64(len(blob)) {
		return nil, ErrMalformedTransaction
	}
	return blob[offset:end], nil
}

// HasPaymaster reports whether the tx specified a non-zero paymaster
// address.
func (tx *Transaction) HasPaymaster() bool {
	return tx.Paymaster != (types.Address{})
}

// IntrinsicCalldataErgs computes the per-byte calldata charge of spec §6
// (4 ergs/zero-byte, 16 ergs/non-zero-byte, pre-multiplied by
// ERGS_PER_GAS by the caller).
func IntrinsicCalldataErgs(data []byte, zeroErgs, nonZeroErgs uint64) uint64 {
	var total uint64
	for _, b := range data {
		if b == 0 {
			total += zeroErgs
		} else {
			total += nonZeroErgs
		}
	}
	return total
}

// Hash returns the Keccak256 hash of the tx's raw wire bytes (signature
// included), used as the tx hash in the receipt.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Keccak256Hash(tx.raw)
}

// SigningHash returns the hash an EOA signs: the raw wire bytes with the
// signature region zeroed, so the signature doesn't cover itself. The
// signer computes this same hash over the blob it is about to emit before
// filling in the signature bytes at sigOffset.
func (tx *Transaction) SigningHash() types.Hash {
	buf := make([]byte, len(tx.raw))
	copy(buf, tx.raw)
	end := tx.sigOffset + tx.sigLength
	if end > len(buf) {
		end = len(buf)
	}
	for i := tx.sigOffset; i < end; i++ {
		buf[i] = 0
	}
	return crypto.Keccak256Hash(buf)
}

// encodeSelectorCall ABI-encodes a minimal call: a 4-byte selector
// followed by a single 32-byte word (used for the AA handshake calls,
// which all take a single tx-hash-shaped argument in this cut).
func encodeSelectorCall(selector uint32, arg types.Hash) []byte {
	buf := make([]byte, 4+wordSize)
	binary.BigEndian.PutUint32(buf[:4], selector)
	copy(buf[4:], arg.Bytes())
	return buf
}
