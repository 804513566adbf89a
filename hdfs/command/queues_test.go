package command

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

func TestEnqueueDrainOrder(t *testing.T) {
	q := NewQueues(10)
	for id := types.BlockId(1); id <= 5; id++ {
		assert.True(t, q.Enqueue("dn1", Command{Kind: Transfer, BlockId: id}))
	}
	assert.Equal(t, 5, q.Pending("dn1"))

	cmds := q.Drain("dn1", 3)
	assert.Len(t, cmds, 3)
	assert.Equal(t, types.BlockId(1), cmds[0].BlockId)
	assert.Equal(t, types.BlockId(3), cmds[2].BlockId)

	cmds = q.Drain("dn1", 0)
	assert.Len(t, cmds, 2)
	assert.Equal(t, types.BlockId(4), cmds[0].BlockId)
	assert.Nil(t, q.Drain("dn1", 10))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	q := NewQueues(2)
	assert.True(t, q.Enqueue("dn1", Command{Kind: Transfer, BlockId: 1}))
	assert.True(t, q.Enqueue("dn1", Command{Kind: Transfer, BlockId: 2}))
	assert.False(t, q.Enqueue("dn1", Command{Kind: Transfer, BlockId: 3}))
	assert.Equal(t, 2, q.Pending("dn1"))

	// other nodes keep their own budget
	assert.True(t, q.Enqueue("dn2", Command{Kind: Transfer, BlockId: 4}))
}

func TestPurge(t *testing.T) {
	q := NewQueues(10)
	q.Enqueue("dn1", Command{Kind: Invalidate, Blocks: []types.BlockId{1, 2}})
	q.Purge("dn1")
	assert.Equal(t, 0, q.Pending("dn1"))
	assert.Nil(t, q.Drain("dn1", 10))
}

func TestDrainUnknownNode(t *testing.T) {
	q := NewQueues(10)
	assert.Nil(t, q.Drain("ghost", 10))
	assert.Equal(t, 0, q.Pending("ghost"))
}
