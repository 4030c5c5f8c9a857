package transfer

import "time"

// Flow control bounds. The window counts unacknowledged chunks in flight.
const (
	// MinWindow is the floor the window never shrinks below.
	MinWindow = 2
	// MaxWindow caps in-flight chunks regardless of measured conditions.
	MaxWindow = 32
	// InitWindow is the starting window for a fresh session.
	InitWindow = 4

	// DefaultRetransmitFloor is the minimum retransmission timeout. It also
	// serves as the timeout before any RTT sample exists.
	DefaultRetransmitFloor = 2 * time.Second
)

// Window is an AIMD congestion window with an RFC 6298 style retransmission
// timer. Additive increase: after a full window of consecutive successes the
// window grows by one. Multiplicative decrease: any loss signal (timeout or
// retriable nack) halves it. Not safe for concurrent use; the session event
// loop owns it.
type Window struct {
	size   int
	streak int

	srtt      time.Duration
	rttvar    time.Duration
	hasSample bool
	floor     time.Duration
}

// NewWindow creates a window at InitWindow with the given retransmission
// timeout floor. A non-positive floor falls back to DefaultRetransmitFloor.
func NewWindow(floor time.Duration) *Window {
	if floor <= 0 {
		floor = DefaultRetransmitFloor
	}
	return &Window{size: InitWindow, floor: floor}
}

// Size returns the current window in chunks.
func (w *Window) Size() int {
	return w.size
}

// OnSuccess records an acknowledged chunk and its round-trip time. The RTT
// estimator uses the standard gains: 1/8 for the mean, 1/4 for the variance.
func (w *Window) OnSuccess(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}
	if !w.hasSample {
		w.srtt = rtt
		w.rttvar = rtt / 2
		w.hasSample = true
	} else {
		dev := w.srtt - rtt
		if dev < 0 {
			dev = -dev
		}
		w.rttvar += (dev - w.rttvar) / 4
		w.srtt += (rtt - w.srtt) / 8
	}

	w.streak++
	if w.streak >= w.size {
		w.streak = 0
		if w.size < MaxWindow {
			w.size++
		}
	}
}

// OnLoss halves the window, clamped at MinWindow, and resets the success
// streak.
func (w *Window) OnLoss() {
	w.size /= 2
	if w.size < MinWindow {
		w.size = MinWindow
	}
	w.streak = 0
}

// RetransmitTimeout returns srtt + 4*rttvar clamped to the floor. Before the
// first sample it returns the floor.
func (w *Window) RetransmitTimeout() time.Duration {
	if !w.hasSample {
		return w.floor
	}
	rto := w.srtt + 4*w.rttvar
	if rto < w.floor {
		rto = w.floor
	}
	return rto
}

// SmoothedRTT returns the current RTT estimate, zero before any sample.
func (w *Window) SmoothedRTT() time.Duration {
	return w.srtt
}
