package gloas

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

func ptcPosition(members ...primitives.ValidatorIndex) PTCPosition {
	byIndex := make(map[primitives.ValidatorIndex]int, len(members))
	for pos, idx := range members {
		byIndex[idx] = pos
	}
	return func(idx primitives.ValidatorIndex) (int, bool) {
		pos, ok := byIndex[idx]
		return pos, ok
	}
}

func msgFor(idx primitives.ValidatorIndex, data *PayloadAttestationData) *PayloadAttestationMessage {
	return &PayloadAttestationMessage{
		ValidatorIndex: idx,
		Data:           data,
		Signature:      BLSSignature{byte(idx)},
	}
}

func TestAggregatePayloadAttestations(t *testing.T) {
	data := &PayloadAttestationData{BeaconBlockRoot: Root{1}, Slot: 100, PayloadPresent: true}
	position := ptcPosition(10, 20, 30)

	agg, sigs, err := AggregatePayloadAttestations([]*PayloadAttestationMessage{
		msgFor(30, data),
		msgFor(10, data),
	}, position)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	require.True(t, agg.AggregationBits.BitAt(0))
	require.False(t, agg.AggregationBits.BitAt(1))
	require.True(t, agg.AggregationBits.BitAt(2))
	require.Equal(t, data, agg.Data)
}

func TestAggregatePayloadAttestations_DuplicateMemberCountedOnce(t *testing.T) {
	data := &PayloadAttestationData{Slot: 100}
	position := ptcPosition(10)

	agg, sigs, err := AggregatePayloadAttestations([]*PayloadAttestationMessage{
		msgFor(10, data),
		msgFor(10, data),
	}, position)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.True(t, agg.AggregationBits.BitAt(0))
}

func TestAggregatePayloadAttestations_DataMismatch(t *testing.T) {
	position := ptcPosition(10, 20)
	_, _, err := AggregatePayloadAttestations([]*PayloadAttestationMessage{
		msgFor(10, &PayloadAttestationData{Slot: 100}),
		msgFor(20, &PayloadAttestationData{Slot: 101}),
	}, position)
	require.ErrorIs(t, err, ErrMismatchedAttestationData)
}

func TestAggregatePayloadAttestations_UnknownMember(t *testing.T) {
	data := &PayloadAttestationData{Slot: 100}
	_, _, err := AggregatePayloadAttestations([]*PayloadAttestationMessage{
		msgFor(99, data),
	}, ptcPosition(10))
	require.ErrorIs(t, err, ErrUnknownPTCMember)
}
