package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	closed *int
}

func (f *fakeFile) Close() error {
	*f.closed++
	return nil
}

func Test_OpenGetClose(t *testing.T) {
	tbl := NewTable()
	closed := 0
	fd := tbl.Open(&fakeFile{closed: &closed}, Flags{})

	f, err := tbl.Get(fd)
	require.NoError(t, err)
	assert.NotNil(t, f)

	require.NoError(t, tbl.Close(fd))
	assert.Equal(t, 1, closed)

	_, err = tbl.Get(fd)
	assert.True(t, errors.Is(err, ErrBadFD))
}

func Test_DupSharesRefcountUntilLastClose(t *testing.T) {
	tbl := NewTable()
	closed := 0
	fd := tbl.Open(&fakeFile{closed: &closed}, Flags{})

	dupFD, err := tbl.Dup(fd)
	require.NoError(t, err)

	require.NoError(t, tbl.Close(fd))
	assert.Equal(t, 0, closed, "file must stay open while dup'd fd remains")

	require.NoError(t, tbl.Close(dupFD))
	assert.Equal(t, 1, closed)
}

func Test_CloseOnExecClosesOnlyFlaggedDescriptors(t *testing.T) {
	tbl := NewTable()
	var closedA, closedB int
	fdA := tbl.Open(&fakeFile{closed: &closedA}, Flags{CloseOnExec: true})
	fdB := tbl.Open(&fakeFile{closed: &closedB}, Flags{CloseOnExec: false})

	require.NoError(t, tbl.CloseOnExec())
	assert.Equal(t, 1, closedA)
	assert.Equal(t, 0, closedB)

	_, err := tbl.Get(fdA)
	assert.Error(t, err)
	_, err = tbl.Get(fdB)
	assert.NoError(t, err)
}

func Test_AllocFDReusesLowestFreeSlot(t *testing.T) {
	tbl := NewTable()
	var c int
	fd0 := tbl.Open(&fakeFile{closed: &c}, Flags{})
	fd1 := tbl.Open(&fakeFile{closed: &c}, Flags{})
	require.NoError(t, tbl.Close(fd0))

	fd2 := tbl.Open(&fakeFile{closed: &c}, Flags{})
	assert.Equal(t, fd0, fd2, "closed fd should be reused before allocating past fd1")
	_ = fd1
}
