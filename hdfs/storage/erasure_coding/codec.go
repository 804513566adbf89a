package erasure_coding

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// The codec functions are consumed by whoever executes a RECONSTRUCT
// command against physical bytes: the coordinator only plans which slots to
// read and where to write, the byte-level decode happens node-side with the
// same policy parameters.

func (p *Policy) NewCodec() (reedsolomon.Encoder, error) {
	enc, err := reedsolomon.New(p.DataSlots, p.ParitySlots)
	if err != nil {
		return nil, fmt.Errorf("create reedsolomon codec for %s: %v", p.Name, err)
	}
	return enc, nil
}

// EncodeSlots splits one cell-aligned stripe of data into DataSlots data
// shards and computes the ParitySlots parity shards.
func EncodeSlots(p *Policy, data []byte) ([][]byte, error) {
	enc, err := p.NewCodec()
	if err != nil {
		return nil, err
	}
	shards, err := enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("split %d bytes into %d slots: %v", len(data), p.DataSlots, err)
	}
	if err = enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity for %s: %v", p.Name, err)
	}
	return shards, nil
}

// ReconstructSlots fills in the missing (nil) shards in place. At least
// DataSlots shards must be present.
func ReconstructSlots(p *Policy, shards [][]byte) error {
	if len(shards) != p.TotalSlots() {
		return fmt.Errorf("expected %d slots, got %d", p.TotalSlots(), len(shards))
	}
	present := 0
	for _, s := range shards {
		if len(s) > 0 {
			present++
		}
	}
	if present < p.DataSlots {
		return fmt.Errorf("only %d of %d slots present, need %d to reconstruct", present, p.TotalSlots(), p.DataSlots)
	}
	enc, err := p.NewCodec()
	if err != nil {
		return err
	}
	if err = enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("reconstruct %s: %v", p.Name, err)
	}
	return nil
}

// VerifySlots checks parity consistency of a fully present stripe.
func VerifySlots(p *Policy, shards [][]byte) (bool, error) {
	enc, err := p.NewCodec()
	if err != nil {
		return false, err
	}
	return enc.Verify(shards)
}
