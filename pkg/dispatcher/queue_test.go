package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/classification"
)

func TestQueue_PopReturnsInPriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Job{ClassificationID: "c-low", Priority: 5})
	q.Push(Job{ClassificationID: "c-high", Priority: 1})
	q.Push(Job{ClassificationID: "c-mid", Priority: 3})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "c-high", first.ClassificationID)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "c-mid", second.ClassificationID)

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "c-low", third.ClassificationID)
}

func TestQueue_TiesBreakOnSequenceWhenSortKeysEqual(t *testing.T) {
	q := NewQueue()
	job := Job{ClassificationID: "same", Product: classification.Product{ProductID: "p1"}}
	q.Push(job)
	q.Push(job)

	first, ok := q.Pop()
	require.True(t, ok)
	second, ok := q.Pop()
	require.True(t, ok)
	assert.Less(t, first.SequenceNum, second.SequenceNum)
}

func TestQueue_PopFalseWhenEmpty(t *testing.T) {
	q := NewQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_SnapshotHashIsOrderIndependentOfPushOrder(t *testing.T) {
	q1 := NewQueue()
	q1.Push(Job{ClassificationID: "a", Priority: 1})
	q1.Push(Job{ClassificationID: "b", Priority: 2})

	q2 := NewQueue()
	q2.Push(Job{ClassificationID: "b", Priority: 2})
	q2.Push(Job{ClassificationID: "a", Priority: 1})

	assert.Equal(t, q1.SnapshotHash(), q2.SnapshotHash())
}

func TestQueue_SnapshotHashChangesWithContent(t *testing.T) {
	q := NewQueue()
	empty := q.SnapshotHash()
	q.Push(Job{ClassificationID: "a"})
	assert.NotEqual(t, empty, q.SnapshotHash())
}

func TestQueue_LenTracksPushAndPop(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Len())
	q.Push(Job{ClassificationID: "a"})
	q.Push(Job{ClassificationID: "b"})
	assert.Equal(t, 2, q.Len())
	_, _ = q.Pop()
	assert.Equal(t, 1, q.Len())
}
