// Package simtime implements the fixed-point virtual-time arithmetic shared
// by every other component of the engine: SimulationTime (a duration since
// some reference point) and EmulatedTime (an absolute instant since the
// simulation epoch).
package simtime

import (
	"fmt"
	"time"
)

// SimulationTime is a count of nanoseconds. It is the unit every event,
// timer deadline and packet delivery time in the engine is expressed in.
type SimulationTime uint64

const (
	// Second is the number of nanoseconds in a second. Every conversion in
	// this package anchors off this constant.
	Second SimulationTime = 1_000_000_000

	// Invalid is the sentinel value meaning "no time" / "unset".
	Invalid SimulationTime = ^SimulationTime(0)

	// Max is the largest valid SimulationTime: the largest value that
	// still fits below EmuInvalid once Epoch is added to it.
	Max SimulationTime = Invalid - 1 - SimulationTime(Epoch)

	// Zero is the identity element for addition.
	Zero SimulationTime = 0
)

// IsValid reports whether t is something other than the Invalid sentinel.
func (t SimulationTime) IsValid() bool {
	return t != Invalid
}

// CheckedAdd returns t+u and true, or (0, false) on overflow past Max.
func (t SimulationTime) CheckedAdd(u SimulationTime) (SimulationTime, bool) {
	if !t.IsValid() || !u.IsValid() {
		return 0, false
	}
	sum := t + u
	if sum < t || sum > Max {
		return 0, false
	}
	return sum, true
}

// CheckedSub returns t-u and true, or (0, false) on underflow.
func (t SimulationTime) CheckedSub(u SimulationTime) (SimulationTime, bool) {
	if !t.IsValid() || !u.IsValid() || u > t {
		return 0, false
	}
	return t - u, true
}

// CheckedMul returns t*u and true, or (0, false) on overflow.
func (t SimulationTime) CheckedMul(u uint64) (SimulationTime, bool) {
	if !t.IsValid() {
		return 0, false
	}
	if u == 0 {
		return 0, true
	}
	product := uint64(t) * u
	if product/u != uint64(t) || SimulationTime(product) > Max {
		return 0, false
	}
	return SimulationTime(product), true
}

// CheckedDiv returns t/u and true, or (0, false) if u is zero.
func (t SimulationTime) CheckedDiv(u uint64) (SimulationTime, bool) {
	if !t.IsValid() || u == 0 {
		return 0, false
	}
	return SimulationTime(uint64(t) / u), true
}

// CheckedRem returns t%u and true, or (0, false) if u is zero.
func (t SimulationTime) CheckedRem(u uint64) (SimulationTime, bool) {
	if !t.IsValid() || u == 0 {
		return 0, false
	}
	return SimulationTime(uint64(t) % u), true
}

// SaturatingAdd clamps the result to [0, Max] instead of overflowing.
func (t SimulationTime) SaturatingAdd(u SimulationTime) SimulationTime {
	if v, ok := t.CheckedAdd(u); ok {
		return v
	}
	return Max
}

// SaturatingSub clamps the result to [0, Max] instead of underflowing.
func (t SimulationTime) SaturatingSub(u SimulationTime) SimulationTime {
	if v, ok := t.CheckedSub(u); ok {
		return v
	}
	return Zero
}

// FromDuration converts a time.Duration to a SimulationTime.
//
// Panics if d is negative or would exceed Max: the spec requires panics
// here rather than a typed error because Duration-to-SimulationTime
// conversions only ever occur with compile-time-fixed literals (timer
// backoff bases, MSL constants), never with untrusted input.
func FromDuration(d time.Duration) SimulationTime {
	if d < 0 {
		panic(fmt.Sprintf("simtime: negative duration %s", d))
	}
	ns := SimulationTime(d.Nanoseconds())
	if ns > Max {
		panic(fmt.Sprintf("simtime: duration %s exceeds SimulationTime::MAX", d))
	}
	return ns
}

// Duration converts t to a time.Duration by a plain conversion. Values
// above math.MaxInt64 nanoseconds are not checked and wrap to a negative
// Duration.
func (t SimulationTime) Duration() time.Duration {
	return time.Duration(t)
}

// String implements fmt.Stringer, rendering the value the way a guest
// kernel timestamp would read in logs.
func (t SimulationTime) String() string {
	if !t.IsValid() {
		return "SimulationTime(invalid)"
	}
	return t.Duration().String()
}
