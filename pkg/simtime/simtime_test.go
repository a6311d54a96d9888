package simtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func Test_CheckedAddOverflow(t *testing.T) {
	_, ok := Max.CheckedAdd(1)
	assert.False(t, ok)

	v, ok := SimulationTime(1).CheckedAdd(2)
	assert.True(t, ok)
	assert.Equal(t, SimulationTime(3), v)
}

func Test_SaturatingAddClamps(t *testing.T) {
	assert.Equal(t, Max, Max.SaturatingAdd(1))
	assert.Equal(t, SimulationTime(3), SimulationTime(1).SaturatingAdd(2))
}

func Test_SaturatingSubClampsToZero(t *testing.T) {
	assert.Equal(t, Zero, SimulationTime(1).SaturatingSub(2))
}

func Test_CheckedSubUnderflow(t *testing.T) {
	_, ok := SimulationTime(1).CheckedSub(2)
	assert.False(t, ok)
}

func Test_TimevalRoundTrip(t *testing.T) {
	tv := unix.Timeval{Sec: 12, Usec: 345}

	st, err := FromTimeval(tv)
	assert.NoError(t, err)

	back, err := ToTimeval(st)
	assert.NoError(t, err)
	assert.Equal(t, tv, back)
}

func Test_TimevalRejectsNegative(t *testing.T) {
	_, err := FromTimeval(unix.Timeval{Sec: -1, Usec: 0})
	assert.Error(t, err)

	_, err = FromTimeval(unix.Timeval{Sec: 0, Usec: -1})
	assert.Error(t, err)
}

func Test_TimespecRoundTrip(t *testing.T) {
	ts := unix.Timespec{Sec: 7, Nsec: 123456789}

	st, err := FromTimespec(ts)
	assert.NoError(t, err)

	back, err := ToTimespec(st)
	assert.NoError(t, err)
	assert.Equal(t, ts, back)
}

func Test_MaxPlusEpochEqualsEmuMax(t *testing.T) {
	assert.Equal(t, EmuMax, FromAbsSimTime(Max))
}

func Test_EmulatedTimeSubPanicsOnNegative(t *testing.T) {
	assert.Panics(t, func() {
		FromAbsSimTime(0).Sub(FromAbsSimTime(Second))
	})
}

func Test_EmulatedTimeOrdering(t *testing.T) {
	a := FromAbsSimTime(0)
	b := FromAbsSimTime(Second)

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, Second, b.Sub(a))
}
