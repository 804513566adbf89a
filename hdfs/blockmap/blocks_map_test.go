package blockmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

func newTestBlock(t *testing.T, bm *BlocksMap, id types.BlockId, gs types.GenerationStamp) *storage.BlockInfo {
	info := storage.NewReplicatedBlock(id, gs, 128, 3)
	require.NoError(t, bm.AddBlock(info))
	return info
}

func TestAddRemoveReplicaRoundTrip(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)

	for _, s := range []types.StorageId{"s1", "s2", "s3"} {
		added, err := bm.AddReplica(1, s, NoSlot, 10, types.Finalized)
		require.NoError(t, err)
		assert.True(t, added)
	}
	before := bm.ListReplicas(1)

	added, err := bm.AddReplica(1, "s4", NoSlot, 10, types.Finalized)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, bm.RemoveReplica(1, "s4"))

	// the prior replica set is restored exactly
	assert.Equal(t, before, bm.ListReplicas(1))
	assert.False(t, bm.RemoveReplica(1, "s4"))
}

func TestStaleGenerationStampIgnored(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)

	added, err := bm.AddReplica(1, "s1", NoSlot, 9, types.Finalized)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, bm.ListReplicas(1))
}

func TestNewerGenerationStampInvalidatesOldCopies(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)

	_, err := bm.AddReplica(1, "s1", NoSlot, 10, types.Finalized)
	require.NoError(t, err)
	_, err = bm.AddReplica(1, "s2", NoSlot, 11, types.Finalized)
	require.NoError(t, err)

	info, replicas, ok := bm.GetBlockAndReplicas(1)
	require.True(t, ok)
	assert.Equal(t, types.GenerationStamp(11), info.GenerationStamp)
	byStorage := make(map[types.StorageId]types.ReplicaState)
	for _, r := range replicas {
		byStorage[r.StorageId] = r.State
	}
	assert.Equal(t, types.Corrupt, byStorage["s1"])
	assert.Equal(t, types.Finalized, byStorage["s2"])
}

func TestMarkCorruptAndExcess(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)
	_, err := bm.AddReplica(1, "s1", NoSlot, 10, types.Finalized)
	require.NoError(t, err)

	assert.True(t, bm.MarkCorrupt(1, "s1"))
	assert.Equal(t, types.Corrupt, bm.ListReplicas(1)[0].State)

	assert.True(t, bm.MarkExcess(1, "s1"))
	assert.Equal(t, types.Excess, bm.ListReplicas(1)[0].State)

	assert.False(t, bm.MarkCorrupt(1, "s9"))
	assert.False(t, bm.MarkCorrupt(2, "s1"))
}

func TestRemoveStorage(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)
	newTestBlock(t, bm, 2, 10)

	for _, id := range []types.BlockId{1, 2} {
		_, err := bm.AddReplica(id, "s1", NoSlot, 10, types.Finalized)
		require.NoError(t, err)
		_, err = bm.AddReplica(id, "s2", NoSlot, 10, types.Finalized)
		require.NoError(t, err)
	}

	touched := bm.RemoveStorage("s1")
	assert.ElementsMatch(t, []types.BlockId{1, 2}, touched)
	assert.Empty(t, bm.ListBlocks("s1"))
	for _, id := range []types.BlockId{1, 2} {
		replicas := bm.ListReplicas(id)
		require.Len(t, replicas, 1)
		assert.Equal(t, types.StorageId("s2"), replicas[0].StorageId)
	}
}

func TestDirtyTracking(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)
	bm.TakeDirty()

	bm.MarkDirty(1)
	assert.Equal(t, []types.BlockId{1}, bm.TakeDirty())
	assert.Empty(t, bm.TakeDirty())

	_, err := bm.AddReplica(1, "s1", NoSlot, 10, types.Finalized)
	require.NoError(t, err)
	assert.Equal(t, []types.BlockId{1}, bm.TakeDirty())
}

func TestRemoveBlock(t *testing.T) {
	bm := NewBlocksMap()
	newTestBlock(t, bm, 1, 10)
	_, err := bm.AddReplica(1, "s1", NoSlot, 10, types.Finalized)
	require.NoError(t, err)

	bm.RemoveBlock(1)
	assert.Equal(t, 0, bm.Size())
	assert.Empty(t, bm.ListBlocks("s1"))
	_, _, ok := bm.GetBlockAndReplicas(1)
	assert.False(t, ok)
}
