package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
)

func Test_QueuePopUpToOrdersByTimeThenSeq(t *testing.T) {
	q := New()
	var order []int

	q.Push(Event{Time: 10, Run: func() { order = append(order, 1) }})
	q.Push(Event{Time: 5, Run: func() { order = append(order, 2) }})
	q.Push(Event{Time: 5, Run: func() { order = append(order, 3) }})

	popped := q.PopUpTo(10)
	require.Len(t, popped, 3)
	for _, e := range popped {
		e.Run()
	}
	assert.Equal(t, []int{2, 3, 1}, order)
	assert.Equal(t, 0, q.Len())
}

func Test_QueueNextTimeAfterPartialDrain(t *testing.T) {
	q := New()
	q.Push(Event{Time: 5})
	q.Push(Event{Time: 100})

	q.PopUpTo(5)
	nt, ok := q.NextTime()
	require.True(t, ok)
	assert.Equal(t, simtime.SimulationTime(100), nt)
}

func Test_PoolRunsAllHostsToCompletion(t *testing.T) {
	p := NewPool(2, zap.NewNop().Sugar())

	qa, qb := New(), New()
	qa.Push(Event{Time: 1})
	qa.Push(Event{Time: 20})
	qb.Push(Event{Time: 2})

	p.Register(shmem.HostID(1), qa)
	p.Register(shmem.HostID(2), qb)

	var ran []shmem.HostID
	err := p.RunUntil(context.Background(), 100, func(h shmem.HostID, q *Queue, end simtime.SimulationTime) (simtime.SimulationTime, bool) {
		ran = append(ran, h)
		q.PopUpTo(end)
		return 0, false
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []shmem.HostID{1, 2}, uniqueHosts(ran))
}

func Test_PoolRecoversWorkerPanic(t *testing.T) {
	p := NewPool(1, zap.NewNop().Sugar())
	q := New()
	q.Push(Event{Time: 1})
	p.Register(shmem.HostID(1), q)

	err := p.RunUntil(context.Background(), 10, func(h shmem.HostID, q *Queue, end simtime.SimulationTime) (simtime.SimulationTime, bool) {
		panic("boom")
	})
	assert.Error(t, err)
}

func uniqueHosts(in []shmem.HostID) []shmem.HostID {
	seen := map[shmem.HostID]bool{}
	var out []shmem.HostID
	for _, h := range in {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
