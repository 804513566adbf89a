package sequence

import (
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// Sequencer hands out block ids and generation stamps. Block ids come from
// a snowflake node so that ids minted by a restarted coordinator never
// collide with earlier ones; generation stamps are a plain monotonic
// counter whose floor is re-learned from reports after a restart.
type Sequencer struct {
	node     *snowflake.Node
	genStamp atomic.Uint64
}

func NewSequencer(coordinatorId int64) (*Sequencer, error) {
	node, err := snowflake.NewNode(coordinatorId)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %v", coordinatorId, err)
	}
	return &Sequencer{node: node}, nil
}

func (s *Sequencer) NextBlockId() types.BlockId {
	return types.BlockId(s.node.Generate().Int64())
}

func (s *Sequencer) NextGenerationStamp() types.GenerationStamp {
	return types.GenerationStamp(s.genStamp.Add(1))
}

// SetMaxGenerationStamp raises the counter floor, used when reports carry
// stamps minted before a coordinator restart.
func (s *Sequencer) SetMaxGenerationStamp(gs types.GenerationStamp) {
	for {
		cur := s.genStamp.Load()
		if uint64(gs) <= cur {
			return
		}
		if s.genStamp.CompareAndSwap(cur, uint64(gs)) {
			return
		}
	}
}

func (s *Sequencer) CurrentGenerationStamp() types.GenerationStamp {
	return types.GenerationStamp(s.genStamp.Load())
}
