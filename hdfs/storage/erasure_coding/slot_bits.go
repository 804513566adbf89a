package erasure_coding

import (
	"math/bits"
)

type SlotId byte

// SlotBits is a bitmap of present internal-block slots within one block
// group. Bit i set means slot i has at least one live replica.
type SlotBits uint32

func (b SlotBits) AddSlotId(id SlotId) SlotBits {
	return b | (1 << id)
}

func (b SlotBits) RemoveSlotId(id SlotId) SlotBits {
	return b &^ (1 << id)
}

func (b SlotBits) HasSlotId(id SlotId) bool {
	return b&(1<<id) > 0
}

func (b SlotBits) SlotIds() (ret []SlotId) {
	for i := SlotId(0); i < MaxSlotsPerBlockGroup; i++ {
		if b.HasSlotId(i) {
			ret = append(ret, i)
		}
	}
	return
}

func (b SlotBits) SlotIdCount() int {
	return bits.OnesCount32(uint32(b))
}

func (b SlotBits) Minus(other SlotBits) SlotBits {
	return b &^ other
}

func (b SlotBits) Plus(other SlotBits) SlotBits {
	return b | other
}

// MissingSlotIds lists the slots of the policy that are absent from b.
func (b SlotBits) MissingSlotIds(p *Policy) (ret []SlotId) {
	for i := SlotId(0); int(i) < p.TotalSlots(); i++ {
		if !b.HasSlotId(i) {
			ret = append(ret, i)
		}
	}
	return
}
