package simtime

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ConversionError is returned when a host-kernel time type carries a value
// that cannot be represented as a SimulationTime: negative fields, or
// fields that would overflow Max. Conversions never silently truncate.
type ConversionError struct {
	Field string
	Value int64
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("simtime: field %q has out-of-range value %d", e.Field, e.Value)
}

// FromTimeval converts a unix.Timeval (microsecond precision) to a
// SimulationTime.
func FromTimeval(tv unix.Timeval) (SimulationTime, error) {
	if tv.Sec < 0 {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(tv.Sec)}
	}
	if tv.Usec < 0 || tv.Usec >= int64(Second/1000) {
		return 0, &ConversionError{Field: "tv_usec", Value: int64(tv.Usec)}
	}

	secs, ok := SimulationTime(tv.Sec).CheckedMul(uint64(Second))
	if !ok {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(tv.Sec)}
	}
	usecs := SimulationTime(tv.Usec) * 1000

	out, ok := secs.CheckedAdd(usecs)
	if !ok {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(tv.Sec)}
	}
	return out, nil
}

// ToTimeval converts a SimulationTime to a unix.Timeval, truncating
// sub-microsecond precision (the same lossy direction the kernel itself
// uses for timeval-based syscalls).
func ToTimeval(t SimulationTime) (unix.Timeval, error) {
	if !t.IsValid() {
		return unix.Timeval{}, &ConversionError{Field: "SimulationTime", Value: int64(t)}
	}
	secs := uint64(t) / uint64(Second)
	usecs := (uint64(t) % uint64(Second)) / 1000
	return unix.Timeval{Sec: int64(secs), Usec: int64(usecs)}, nil
}

// FromTimespec converts a unix.Timespec (nanosecond precision) to a
// SimulationTime.
func FromTimespec(ts unix.Timespec) (SimulationTime, error) {
	if ts.Sec < 0 {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(ts.Sec)}
	}
	if ts.Nsec < 0 || ts.Nsec >= int64(Second) {
		return 0, &ConversionError{Field: "tv_nsec", Value: int64(ts.Nsec)}
	}

	secs, ok := SimulationTime(ts.Sec).CheckedMul(uint64(Second))
	if !ok {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(ts.Sec)}
	}

	out, ok := secs.CheckedAdd(SimulationTime(ts.Nsec))
	if !ok {
		return 0, &ConversionError{Field: "tv_sec", Value: int64(ts.Sec)}
	}
	return out, nil
}

// ToTimespec converts a SimulationTime to a unix.Timespec.
func ToTimespec(t SimulationTime) (unix.Timespec, error) {
	if !t.IsValid() {
		return unix.Timespec{}, &ConversionError{Field: "SimulationTime", Value: int64(t)}
	}
	secs := uint64(t) / uint64(Second)
	nsecs := uint64(t) % uint64(Second)
	return unix.Timespec{Sec: int64(secs), Nsec: int64(nsecs)}, nil
}
