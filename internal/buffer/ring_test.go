package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wristnode/internal/buffer"
	"wristnode/internal/model"
)

func sample(ts uint32) model.Sample {
	return model.Sample{HR: 70, Timestamp: ts}
}

func TestSampleRing_FIFOOrder(t *testing.T) {
	ring := buffer.NewSampleRing(8)

	for i := uint32(0); i < 8; i++ {
		require.True(t, ring.Push(sample(i)))
	}
	for i := uint32(0); i < 8; i++ {
		s, ok := ring.Pop()
		require.True(t, ok)
		require.Equal(t, i, s.Timestamp)
	}
	_, ok := ring.Pop()
	require.False(t, ok)
}

func TestSampleRing_PushFullRejectsUnchanged(t *testing.T) {
	ring := buffer.NewSampleRing(4)
	for i := uint32(0); i < 4; i++ {
		require.True(t, ring.Push(sample(i)))
	}

	require.False(t, ring.Push(sample(99)))
	require.Equal(t, 4, ring.Len())

	// Contents untouched: still the original four, oldest first.
	for i := uint32(0); i < 4; i++ {
		s, ok := ring.Peek(int(i))
		require.True(t, ok)
		require.Equal(t, i, s.Timestamp)
	}
}

func TestSampleRing_EmptyAndOutOfRange(t *testing.T) {
	ring := buffer.NewSampleRing(4)

	_, ok := ring.Pop()
	require.False(t, ok)

	_, ok = ring.Peek(0)
	require.False(t, ok)

	require.True(t, ring.Push(sample(1)))
	_, ok = ring.Peek(1)
	require.False(t, ok)
	_, ok = ring.Peek(-1)
	require.False(t, ok)
}

func TestSampleRing_WrapAround(t *testing.T) {
	ring := buffer.NewSampleRing(4)

	for i := uint32(0); i < 4; i++ {
		require.True(t, ring.Push(sample(i)))
	}
	for i := uint32(0); i < 2; i++ {
		s, ok := ring.Pop()
		require.True(t, ok)
		require.Equal(t, i, s.Timestamp)
	}
	require.True(t, ring.Push(sample(4)))
	require.True(t, ring.Push(sample(5)))

	want := []uint32{2, 3, 4, 5}
	for _, ts := range want {
		s, ok := ring.Pop()
		require.True(t, ok)
		require.Equal(t, ts, s.Timestamp)
	}
}

func TestSampleRing_Clear(t *testing.T) {
	ring := buffer.NewSampleRing(4)
	ring.Push(sample(1))
	ring.Push(sample(2))

	ring.Clear()
	require.Equal(t, 0, ring.Len())
	require.Equal(t, 4, ring.Cap())

	require.True(t, ring.Push(sample(3)))
	s, ok := ring.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(3), s.Timestamp)
}

func TestPageRing_OverwritesOldest(t *testing.T) {
	ring := buffer.NewPageRing(2, 4)

	page := func(b byte) []byte { return []byte{b, b, b, b} }

	require.True(t, ring.Push(page(1)))
	require.True(t, ring.Push(page(2)))
	require.True(t, ring.Push(page(3))) // evicts page 1
	require.Equal(t, 2, ring.Len())
	require.Equal(t, uint64(1), ring.Overwritten())

	got, ok := ring.Pop()
	require.True(t, ok)
	require.Equal(t, page(2), got)

	got, ok = ring.Pop()
	require.True(t, ok)
	require.Equal(t, page(3), got)

	_, ok = ring.Pop()
	require.False(t, ok)
}

func TestPageRing_RejectsWrongSize(t *testing.T) {
	ring := buffer.NewPageRing(2, 4)
	require.False(t, ring.Push([]byte{1, 2, 3}))
	require.Equal(t, 0, ring.Len())
}
