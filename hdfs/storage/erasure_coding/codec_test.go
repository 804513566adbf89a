package erasure_coding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAndReconstruct(t *testing.T) {
	p := DefaultPolicy
	data := make([]byte, p.DataSlots*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	shards, err := EncodeSlots(p, data)
	require.NoError(t, err)
	require.Len(t, shards, p.TotalSlots())

	ok, err := VerifySlots(p, shards)
	require.NoError(t, err)
	assert.True(t, ok)

	// lose up to ParitySlots shards, decode restores them
	lost0, lost5 := shards[0], shards[5]
	shards[0], shards[5], shards[7] = nil, nil, nil
	require.NoError(t, ReconstructSlots(p, shards))
	assert.True(t, bytes.Equal(lost0, shards[0]))
	assert.True(t, bytes.Equal(lost5, shards[5]))
}

func TestReconstructBelowDataFloor(t *testing.T) {
	p := DefaultPolicy
	data := make([]byte, p.DataSlots*1024)
	shards, err := EncodeSlots(p, data)
	require.NoError(t, err)

	// d-1 present is not decodable
	for i := 0; i <= p.ParitySlots; i++ {
		shards[i] = nil
	}
	assert.Error(t, ReconstructSlots(p, shards))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy.Validate())
	assert.NoError(t, Rs104Policy.Validate())

	bad := &Policy{Name: "RS-40-4", DataSlots: 40, ParitySlots: 4, CellSize: DefaultCellSize}
	assert.Error(t, bad.Validate())
	bad = &Policy{Name: "RS-6-0", DataSlots: 6, ParitySlots: 0, CellSize: DefaultCellSize}
	assert.Error(t, bad.Validate())
}
