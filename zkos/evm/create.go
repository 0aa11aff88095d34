package evm

import (
	"github.com/holiman/uint256"

	"github.com/zkrollup/zkos/core/types"
	"github.com/zkrollup/zkos/crypto"
)

// DeriveCreateAddress computes the CREATE address from RLP([sender,
// nonce]), adapted verbatim from the teacher's core/vm/interpreter.go
// createAddress helper.
func DeriveCreateAddress(sender types.Address, nonce uint64) types.Address {
	addrEnc := encodeRLPBytes(sender[:])
	nonceEnc := encodeRLPUint(nonce)
	payload := append(addrEnc, nonceEnc...)
	data := wrapRLPList(payload)
	hash := crypto.Keccak256(data)
	return types.BytesToAddress(hash[12:])
}

// DeriveCreate2Address computes keccak(0xff ++ sender ++ salt ++
// keccak(initCode))[12:], adapted from the teacher's create2Address.
func DeriveCreate2Address(sender types.Address, salt *uint256.Int, initCode []byte) types.Address {
	initCodeHash := crypto.Keccak256(initCode)
	saltBytes := salt.Bytes32()
	data := make([]byte, 0, 85)
	data = append(data, 0xff)
	data = append(data, sender[:]...)
	data = append(data, saltBytes[:]...)
	data = append(data, initCodeHash...)
	hash := crypto.Keccak256(data)
	return types.BytesToAddress(hash[12:])
}

func encodeRLPBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		return append([]byte{byte(0x80 + len(b))}, b...)
	}
	lenBytes := uintToMinBytes(uint64(len(b)))
	header := append([]byte{byte(0xb7 + len(lenBytes))}, lenBytes...)
	return append(header, b...)
}

func encodeRLPUint(v uint64) []byte {
	if v == 0 {
		return []byte{0x80}
	}
	if v < 128 {
		return []byte{byte(v)}
	}
	b := uintToMinBytes(v)
	return append([]byte{byte(0x80 + len(b))}, b...)
}

func wrapRLPList(payload []byte) []byte {
	if len(payload) < 56 {
		return append([]byte{byte(0xc0 + len(payload))}, payload...)
	}
	lenBytes := uintToMinBytes(uint64(len(payload)))
	header := append([]byte{byte(0xf7 + len(lenBytes))}, lenBytes...)
	return append(header, payload...)
}

func uintToMinBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	n := 0
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
		if buf[i] != 0 || n > 0 {
			n = 8 - i
		}
	}
	return buf[8-n:]
}
