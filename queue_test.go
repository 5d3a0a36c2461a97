package scp

import "testing"

import "github.com/stretchr/testify/require"

func TestQueueFIFOOrder(t *testing.T) {
	q := newRequestQueue()
	a := q.insert()
	a.destAddr = 1
	b := q.insert()
	b.destAddr = 2
	c := q.insert()
	c.destAddr = 3

	require.Equal(t, uint16(1), q.peek().destAddr)
	require.Equal(t, uint16(1), q.remove().destAddr)
	require.Equal(t, uint16(2), q.peek().destAddr)
	require.Equal(t, uint16(2), q.remove().destAddr)
	require.Equal(t, uint16(3), q.remove().destAddr)
	require.Nil(t, q.remove())
}

func TestQueueGrowsWithoutMovingExistingEntries(t *testing.T) {
	q := newRequestQueue()

	var ptrs []*queueEntry
	for i := 0; i < firstBlockSize+3; i++ {
		e := q.insert()
		e.destAddr = uint16(i)
		ptrs = append(ptrs, e)
	}

	// Every previously-returned pointer must still report the value we
	// set on it: growth must never move or recycle a live entry.
	for i, p := range ptrs {
		require.Equal(t, uint16(i), p.destAddr, "entry %d moved or was overwritten by growth", i)
	}

	for i := 0; i < len(ptrs); i++ {
		require.Equal(t, uint16(i), q.remove().destAddr)
	}
	require.Nil(t, q.remove())
}

func TestQueueRecyclesRemovedSlots(t *testing.T) {
	q := newRequestQueue()
	for i := 0; i < firstBlockSize; i++ {
		q.insert()
	}
	for i := 0; i < firstBlockSize; i++ {
		require.NotNil(t, q.remove())
	}

	// The ring is now entirely empty again; filling it back up to
	// capacity must not force a growth.
	blocksBefore := q.lastBlockSize
	for i := 0; i < firstBlockSize; i++ {
		q.insert()
	}
	require.Equal(t, blocksBefore, q.lastBlockSize)
}

func TestQueueEmptyPeek(t *testing.T) {
	q := newRequestQueue()
	require.Nil(t, q.peek())
}
