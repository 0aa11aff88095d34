package memarena

// wordSize is the platform word size this engine assumes (64-bit RISC-V
// target and every native host this spec runs on).
const wordSize = 8

// AlignedBox owns a byte slice whose backing capacity is always a multiple
// of wordSize, while separately tracking the logical (possibly shorter)
// byte length. Used for event/log payloads and deployed bytecode, where the
// zkVM guest wants word-aligned reads but the logical content length is
// arbitrary.
type AlignedBox struct {
	data []byte // len(data) is always a multiple of wordSize
	n    int    // logical length, n <= len(data)
}

// NewAlignedBoxFromBytes copies b into a new word-aligned box.
func NewAlignedBoxFromBytes(b []byte) *AlignedBox {
	padded := alignedLen(len(b))
	data := make([]byte, padded)
	copy(data, b)
	return &AlignedBox{data: data, n: len(b)}
}

// NewAlignedBoxFromByteIter builds a box from a sequence of bytes yielded
// one at a time by next, stopping when ok is false.
func NewAlignedBoxFromByteIter(next func() (byte, bool)) *AlignedBox {
	var buf []byte
	for {
		b, ok := next()
		if !ok {
			break
		}
		buf = append(buf, b)
	}
	return NewAlignedBoxFromBytes(buf)
}

// NewAlignedBoxFromUsizeIter builds a box from a sequence of machine words,
// each contributing wordSize little-endian bytes, stopping when ok is
// false.
func NewAlignedBoxFromUsizeIter(next func() (uint64, bool)) *AlignedBox {
	var buf []byte
	for {
		w, ok := next()
		if !ok {
			break
		}
		var tmp [wordSize]byte
		for i := 0; i < wordSize; i++ {
			tmp[i] = byte(w >> (8 * i))
		}
		buf = append(buf, tmp[:]...)
	}
	return &AlignedBox{data: buf, n: len(buf)}
}

// Bytes returns the logical (unpadded) content.
func (b *AlignedBox) Bytes() []byte { return b.data[:b.n] }

// Len returns the logical byte length.
func (b *AlignedBox) Len() int { return b.n }

// Cap returns the word-aligned backing capacity.
func (b *AlignedBox) Cap() int { return len(b.data) }

func alignedLen(n int) int {
	if n%wordSize == 0 {
		return n
	}
	return n + (wordSize - n%wordSize)
}
