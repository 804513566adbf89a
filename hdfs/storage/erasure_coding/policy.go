package erasure_coding

import (
	"fmt"
)

const (
	DefaultDataSlots          = 6
	DefaultParitySlots        = 3
	DefaultCellSize           = 1024 * 1024 // 1MB
	MaxSlotsPerBlockGroup     = 32
	ErasureCodingLargeCell    = 1024 * 1024 * 1024 // 1GB
	ErasureCodingColdDataName = "archival"
)

// Policy defines one erasure coding scheme: a block group is split into
// DataSlots data cells plus ParitySlots parity cells. Any DataSlots of the
// DataSlots+ParitySlots slots are sufficient to reconstruct the rest.
type Policy struct {
	Name        string
	DataSlots   int
	ParitySlots int
	CellSize    int
}

var (
	// DefaultPolicy is RS(6,3), the scheme assumed when a block group does
	// not name one explicitly.
	DefaultPolicy = &Policy{Name: "RS-6-3-1024k", DataSlots: DefaultDataSlots, ParitySlots: DefaultParitySlots, CellSize: DefaultCellSize}

	// Rs104Policy is RS(10,4), matching larger clusters.
	Rs104Policy = &Policy{Name: "RS-10-4-1024k", DataSlots: 10, ParitySlots: 4, CellSize: DefaultCellSize}
)

func (p *Policy) TotalSlots() int {
	return p.DataSlots + p.ParitySlots
}

func (p *Policy) String() string {
	return p.Name
}

func (p *Policy) Validate() error {
	if p.DataSlots <= 0 || p.ParitySlots <= 0 {
		return fmt.Errorf("ec policy %s: non-positive slot counts %d+%d", p.Name, p.DataSlots, p.ParitySlots)
	}
	if p.TotalSlots() > MaxSlotsPerBlockGroup {
		return fmt.Errorf("ec policy %s: %d slots exceeds the %d slot limit", p.Name, p.TotalSlots(), MaxSlotsPerBlockGroup)
	}
	if p.CellSize <= 0 || p.CellSize%1024 != 0 {
		return fmt.Errorf("ec policy %s: invalid cell size %d", p.Name, p.CellSize)
	}
	return nil
}
