package types

import (
	"fmt"
)

type BlockId uint64

func (id BlockId) String() string {
	return fmt.Sprintf("blk_%d", uint64(id))
}

// GenerationStamp is a monotonic version counter for a block. A replica
// reported with an older generation stamp is stale and must be ignored.
type GenerationStamp uint64

func (gs GenerationStamp) String() string {
	return fmt.Sprintf("gs_%d", uint64(gs))
}
