package manifest

import (
	"errors"
	"math/bits"
)

// ErrBitsetMismatch indicates a serialized bitset whose byte length does not
// match its declared bit count.
var ErrBitsetMismatch = errors.New("bitset length mismatch")

// Bitset tracks per-chunk completion for a manifest of fixed length.
// Bit i corresponds to chunk index i. The zero value is not usable;
// construct with NewBitset or BitsetFromBytes.
type Bitset struct {
	words []uint64
	n     int
}

// NewBitset creates an empty bitset of n bits.
func NewBitset(n int) *Bitset {
	return &Bitset{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *Bitset) Len() int { return b.n }

// Set marks bit i.
func (b *Bitset) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.words[i/64] |= 1 << (uint(i) % 64)
}

// Get reports whether bit i is set.
func (b *Bitset) Get(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	total := 0
	for _, w := range b.words {
		total += bits.OnesCount64(w)
	}
	return total
}

// All reports whether every bit is set.
func (b *Bitset) All() bool {
	return b.Count() == b.n
}

// Indices returns the set bit positions in ascending order.
func (b *Bitset) Indices() []uint32 {
	out := make([]uint32, 0, b.Count())
	for i := 0; i < b.n; i++ {
		if b.Get(i) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// Clone returns an independent copy.
func (b *Bitset) Clone() *Bitset {
	c := NewBitset(b.n)
	copy(c.words, b.words)
	return c
}

// Contains reports whether every bit set in other is also set in b.
func (b *Bitset) Contains(other *Bitset) bool {
	if other.n != b.n {
		return false
	}
	for i, w := range other.words {
		if w&^b.words[i] != 0 {
			return false
		}
	}
	return true
}

// Bytes packs the bitset into ceil(n/8) bytes, bit i at byte i/8, LSB first.
func (b *Bitset) Bytes() []byte {
	out := make([]byte, (b.n+7)/8)
	for i := 0; i < b.n; i++ {
		if b.Get(i) {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// BitsetFromBytes unpacks a bitset of n bits from its packed form. The byte
// length must be exactly ceil(n/8) and padding bits must be zero.
func BitsetFromBytes(n int, data []byte) (*Bitset, error) {
	if n < 0 || len(data) != (n+7)/8 {
		return nil, ErrBitsetMismatch
	}
	b := NewBitset(n)
	for i := 0; i < n; i++ {
		if data[i/8]&(1<<(uint(i)%8)) != 0 {
			b.Set(i)
		}
	}
	// Padding bits past n must be clear; stray bits suggest a corrupt or
	// hostile frame.
	if n%8 != 0 {
		last := data[len(data)-1]
		if last>>(uint(n)%8) != 0 {
			return nil, ErrBitsetMismatch
		}
	}
	return b, nil
}
