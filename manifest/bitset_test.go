package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitsetBasics(t *testing.T) {
	b := NewBitset(70)

	assert.Equal(t, 70, b.Len())
	assert.Equal(t, 0, b.Count())
	assert.False(t, b.All())

	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(69)

	assert.True(t, b.Get(0))
	assert.True(t, b.Get(63))
	assert.True(t, b.Get(64))
	assert.True(t, b.Get(69))
	assert.False(t, b.Get(1))
	assert.Equal(t, 4, b.Count())
	assert.Equal(t, []uint32{0, 63, 64, 69}, b.Indices())

	// Out-of-range is a no-op, not a panic.
	b.Set(-1)
	b.Set(70)
	assert.Equal(t, 4, b.Count())
	assert.False(t, b.Get(70))
}

func TestBitsetAll(t *testing.T) {
	b := NewBitset(9)
	for i := 0; i < 9; i++ {
		assert.False(t, b.All())
		b.Set(i)
	}
	assert.True(t, b.All())
}

func TestBitsetClone(t *testing.T) {
	b := NewBitset(10)
	b.Set(3)

	c := b.Clone()
	c.Set(7)

	assert.True(t, c.Get(3))
	assert.False(t, b.Get(7), "clone must not alias the original")
}

func TestBitsetContains(t *testing.T) {
	b := NewBitset(10)
	b.Set(1)
	b.Set(5)

	sub := NewBitset(10)
	sub.Set(5)
	assert.True(t, b.Contains(sub))

	sub.Set(6)
	assert.False(t, b.Contains(sub))

	other := NewBitset(11)
	assert.False(t, b.Contains(other), "length mismatch")
}

func TestBitsetBytesRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		n    int
		set  []int
	}{
		{name: "empty", n: 10, set: nil},
		{name: "byte_aligned", n: 16, set: []int{0, 7, 8, 15}},
		{name: "ragged", n: 13, set: []int{0, 12}},
		{name: "word_boundary", n: 65, set: []int{63, 64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBitset(tt.n)
			for _, i := range tt.set {
				b.Set(i)
			}

			packed := b.Bytes()
			assert.Len(t, packed, (tt.n+7)/8)

			got, err := BitsetFromBytes(tt.n, packed)
			require.NoError(t, err)
			assert.Equal(t, b.Indices(), got.Indices())
			assert.Equal(t, tt.n, got.Len())
		})
	}
}

func TestBitsetFromBytesRejectsBadInput(t *testing.T) {
	// Wrong byte length for the declared bit count.
	_, err := BitsetFromBytes(9, []byte{0xff})
	assert.ErrorIs(t, err, ErrBitsetMismatch)

	// Stray bits in the padding region.
	_, err = BitsetFromBytes(4, []byte{0xf0})
	assert.ErrorIs(t, err, ErrBitsetMismatch)

	_, err = BitsetFromBytes(-1, nil)
	assert.ErrorIs(t, err, ErrBitsetMismatch)
}
