package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStartsAtInit(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, InitWindow, w.Size())
}

func TestWindowAdditiveIncrease(t *testing.T) {
	w := NewWindow(0)

	// One full window of successes grows it by exactly one.
	for i := 0; i < InitWindow; i++ {
		assert.Equal(t, InitWindow, w.Size())
		w.OnSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, InitWindow+1, w.Size())
}

func TestWindowHalvesOnLossThenRegrows(t *testing.T) {
	w := NewWindow(0)

	// Grow 4 -> 8.
	for w.Size() < 8 {
		w.OnSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, 8, w.Size())

	w.OnLoss()
	assert.Equal(t, 4, w.Size())

	// A loss resets the streak: the next four successes bring it to 5.
	for i := 0; i < 4; i++ {
		w.OnSuccess(10 * time.Millisecond)
	}
	assert.Equal(t, 5, w.Size())
}

func TestWindowBounds(t *testing.T) {
	w := NewWindow(0)

	for i := 0; i < 10; i++ {
		w.OnLoss()
	}
	assert.Equal(t, MinWindow, w.Size())

	for i := 0; i < 10000; i++ {
		w.OnSuccess(time.Millisecond)
	}
	assert.Equal(t, MaxWindow, w.Size())
}

func TestWindowLossResetsStreak(t *testing.T) {
	w := NewWindow(0)

	// Three of the four successes needed, then a loss.
	for i := 0; i < InitWindow-1; i++ {
		w.OnSuccess(time.Millisecond)
	}
	w.OnLoss()
	assert.Equal(t, MinWindow, w.Size())

	// A single success must not be enough to grow from the fresh streak.
	w.OnSuccess(time.Millisecond)
	assert.Equal(t, MinWindow, w.Size())
}

func TestRetransmitTimeoutBeforeSamples(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, DefaultRetransmitFloor, w.RetransmitTimeout())

	w = NewWindow(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, w.RetransmitTimeout())
}

func TestRetransmitTimeoutTracksRTT(t *testing.T) {
	w := NewWindow(10 * time.Millisecond)

	// First sample seeds srtt = rtt, rttvar = rtt/2, so rto = 3*rtt.
	w.OnSuccess(100 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, w.RetransmitTimeout())
	assert.Equal(t, 100*time.Millisecond, w.SmoothedRTT())

	// Steady identical samples shrink the variance toward zero; the
	// timeout decays toward srtt but never below the floor.
	for i := 0; i < 200; i++ {
		w.OnSuccess(100 * time.Millisecond)
	}
	rto := w.RetransmitTimeout()
	assert.GreaterOrEqual(t, rto, 100*time.Millisecond)
	assert.Less(t, rto, 150*time.Millisecond)
}

func TestRetransmitTimeoutClampedToFloor(t *testing.T) {
	w := NewWindow(2 * time.Second)
	for i := 0; i < 50; i++ {
		w.OnSuccess(time.Millisecond)
	}
	assert.Equal(t, 2*time.Second, w.RetransmitTimeout())
}

func TestSpeedTrackerAverages(t *testing.T) {
	tr := newSpeedTracker()
	assert.Zero(t, tr.bytesPerSecond())

	// 4 chunks of 1000 bytes, 100ms each: 10 KB/s.
	for i := 0; i < 4; i++ {
		tr.record(1000, 100*time.Millisecond)
	}
	assert.InDelta(t, 10000, float64(tr.bytesPerSecond()), 1)
}

func TestSpeedTrackerSlidesWindow(t *testing.T) {
	tr := newSpeedTracker()

	// Fill the window with slow samples, then overwrite with fast ones;
	// the estimate must follow the recent rate.
	for i := 0; i < speedSamples; i++ {
		tr.record(100, time.Second)
	}
	slow := tr.bytesPerSecond()

	for i := 0; i < speedSamples; i++ {
		tr.record(100000, 100*time.Millisecond)
	}
	assert.Greater(t, tr.bytesPerSecond(), slow)
}
