package simtime

// Epoch anchors EmulatedTime to an absolute, but otherwise meaningless,
// point so that EmulatedTime values never collide with SimulationTime
// zero, matching EMUTIME_SIMULATION_START in spec.md §3.
//
// Invariant: SimulationTime(Max) + Epoch == EmulatedTime(Max).
const Epoch EmulatedTime = EmulatedTime(Second) // 1s into the epoch's own clock.

// EmulatedTime is an absolute instant: epoch + SimulationTime.
type EmulatedTime uint64

// EmuMax is the largest representable EmulatedTime, kept in lock-step with
// SimulationTime's Max so the invariant in the doc comment above holds.
const EmuMax = EmulatedTime(Max) + Epoch

// EmuInvalid is the sentinel "unset" EmulatedTime.
const EmuInvalid = EmulatedTime(Invalid)

// FromAbsSimTime constructs an EmulatedTime from a SimulationTime counted
// since the epoch.
func FromAbsSimTime(t SimulationTime) EmulatedTime {
	if !t.IsValid() {
		return EmuInvalid
	}
	return EmulatedTime(t) + Epoch
}

// ToAbsSimTime reduces an EmulatedTime back to the SimulationTime elapsed
// since Epoch.
func (e EmulatedTime) ToAbsSimTime() SimulationTime {
	if e < Epoch {
		return Invalid
	}
	return SimulationTime(e - Epoch)
}

// Add advances e by a SimulationTime duration, saturating at EmuMax.
func (e EmulatedTime) Add(d SimulationTime) EmulatedTime {
	sum := uint64(e) + uint64(d)
	if sum > uint64(EmuMax) || sum < uint64(e) {
		return EmuMax
	}
	return EmulatedTime(sum)
}

// Sub returns the SimulationTime elapsed between e and earlier. Panics if
// earlier is after e: EmulatedTime differences are only ever taken between
// causally ordered instants inside the engine.
func (e EmulatedTime) Sub(earlier EmulatedTime) SimulationTime {
	if earlier > e {
		panic("simtime: EmulatedTime.Sub with earlier > later")
	}
	return SimulationTime(e - earlier)
}

// Before reports whether e happens strictly before other.
func (e EmulatedTime) Before(other EmulatedTime) bool { return e < other }

// After reports whether e happens strictly after other.
func (e EmulatedTime) After(other EmulatedTime) bool { return e > other }
