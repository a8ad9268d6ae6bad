package gloas

import (
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// ErrMismatchedAttestationData is returned when messages being aggregated do not vote for the
// same PayloadAttestationData.
var ErrMismatchedAttestationData = errors.New("payload attestation data mismatch")

// ErrUnknownPTCMember is returned when a message's validator index has no position in the PTC.
var ErrUnknownPTCMember = errors.New("validator is not a PTC member for this slot")

// PTCPosition resolves a validator index to its position within the slot's PTC.
type PTCPosition func(idx primitives.ValidatorIndex) (int, bool)

// AggregatePayloadAttestations folds individual PTC messages into the block-inclusion
// PayloadAttestation form (a Bitvector512 over the committee and the shared data; its Signature
// is left unset). Gossip never carries the aggregate; this runs only at block construction
// time. Signature aggregation itself happens in the BLS layer; this helper returns the
// per-member signatures separately, in the order their bits were set (message order, a
// duplicate member's later messages skipped), so the caller can feed them to the aggregator.
func AggregatePayloadAttestations(msgs []*PayloadAttestationMessage, position PTCPosition) (*PayloadAttestation, []BLSSignature, error) {
	if len(msgs) == 0 {
		return nil, nil, errors.New("no payload attestation messages to aggregate")
	}
	data := msgs[0].Data
	bits := bitfield.NewBitvector512()
	sigs := make([]BLSSignature, 0, len(msgs))
	for _, m := range msgs {
		if *m.Data != *data {
			return nil, nil, ErrMismatchedAttestationData
		}
		pos, ok := position(m.ValidatorIndex)
		if !ok {
			return nil, nil, ErrUnknownPTCMember
		}
		if bits.BitAt(uint64(pos)) {
			continue
		}
		bits.SetBitAt(uint64(pos), true)
		sigs = append(sigs, m.Signature)
	}
	return &PayloadAttestation{
		AggregationBits: bits,
		Data:            data,
	}, sigs, nil
}
