package transfer

import "time"

// speedSamples is how many recent chunk deliveries the throughput estimate
// averages over.
const speedSamples = 16

type speedSample struct {
	bytes   uint64
	elapsed time.Duration
}

// speedTracker estimates throughput from a sliding window of recent chunk
// deliveries. Owned by the session event loop; not safe for concurrent use.
type speedTracker struct {
	samples []speedSample
	next    int
	filled  bool
}

func newSpeedTracker() *speedTracker {
	return &speedTracker{samples: make([]speedSample, speedSamples)}
}

// record adds one delivered chunk and the time it took.
func (t *speedTracker) record(bytes uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	t.samples[t.next] = speedSample{bytes: bytes, elapsed: elapsed}
	t.next++
	if t.next == len(t.samples) {
		t.next = 0
		t.filled = true
	}
}

// bytesPerSecond returns the averaged throughput, zero before any sample.
func (t *speedTracker) bytesPerSecond() uint64 {
	n := t.next
	if t.filled {
		n = len(t.samples)
	}
	if n == 0 {
		return 0
	}

	var bytes uint64
	var elapsed time.Duration
	for i := 0; i < n; i++ {
		bytes += t.samples[i].bytes
		elapsed += t.samples[i].elapsed
	}
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(bytes) / elapsed.Seconds())
}
