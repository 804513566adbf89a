package erasure_coding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotBits(t *testing.T) {
	var b SlotBits
	assert.Equal(t, 0, b.SlotIdCount())

	b = b.AddSlotId(0).AddSlotId(3).AddSlotId(8)
	assert.Equal(t, 3, b.SlotIdCount())
	assert.True(t, b.HasSlotId(3))
	assert.False(t, b.HasSlotId(1))
	assert.Equal(t, []SlotId{0, 3, 8}, b.SlotIds())

	b = b.RemoveSlotId(3)
	assert.False(t, b.HasSlotId(3))
	assert.Equal(t, 2, b.SlotIdCount())

	// adding twice is a no-op
	assert.Equal(t, b, b.AddSlotId(0))
}

func TestSlotBitsMissing(t *testing.T) {
	p := DefaultPolicy
	var b SlotBits
	for i := 0; i < p.TotalSlots(); i++ {
		b = b.AddSlotId(SlotId(i))
	}
	assert.Empty(t, b.MissingSlotIds(p))

	b = b.RemoveSlotId(2).RemoveSlotId(7)
	assert.Equal(t, []SlotId{2, 7}, b.MissingSlotIds(p))
}

func TestSlotBitsMinusPlus(t *testing.T) {
	a := SlotBits(0).AddSlotId(1).AddSlotId(2).AddSlotId(3)
	b := SlotBits(0).AddSlotId(2)
	assert.Equal(t, []SlotId{1, 3}, a.Minus(b).SlotIds())
	assert.Equal(t, []SlotId{1, 2, 3}, a.Plus(b).SlotIds())
}
