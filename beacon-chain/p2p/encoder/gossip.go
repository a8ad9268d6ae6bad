// Package encoder implements the Gloas gossip codec: snappy-compressed SSZ with fork-digest
// dispatch. Each topic carries a fork digest; the codec maps the digest to a fork name and
// refuses Gloas-only message kinds on pre-Gloas digests. Payload attestations travel only in
// their individual per-member form; the aggregate never hits the wire.
package encoder

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/epbs"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
)

// GossipKind identifies the topic family a message belongs to.
type GossipKind string

const (
	BeaconBlockKind         GossipKind = "beacon_block"
	ExecutionBidKind        GossipKind = "execution_bid"
	ExecutionPayloadKind    GossipKind = "execution_payload"
	PayloadAttestationKind  GossipKind = "payload_attestation"
	ProposerPreferencesKind GossipKind = "proposer_preferences"
	ExecutionProofKind      GossipKind = "execution_proof"
	BlobSidecarKind         GossipKind = "blob_sidecar"
	DataColumnSidecarKind   GossipKind = "data_column_sidecar"
)

// ForkDigest is the 4-byte digest prefixed to every gossip topic.
type ForkDigest [4]byte

// ErrUnknownForkDigest means the topic's digest maps to no scheduled fork.
var ErrUnknownForkDigest = errors.New("unknown fork digest")

// ErrLengthLimitExceeded means the message exceeded a compressed or uncompressed size bound.
var ErrLengthLimitExceeded = errors.New("gossip message length limit exceeded")

// sszMarshaler is satisfied by every wire type this codec carries.
type sszMarshaler interface {
	MarshalSSZ() ([]byte, error)
}

type sszUnmarshaler interface {
	UnmarshalSSZ([]byte) error
}

// GossipEncoder encodes and decodes gossip messages. Both directions are snappy block
// format; size bounds are enforced before any allocation proportional to attacker input.
type GossipEncoder struct {
	digests         map[ForkDigest]epbs.ForkName
	maxCompressed   uint64
	maxUncompressed uint64
}

// NewGossipEncoder builds a codec over the node's scheduled fork digests. maxCompressed and
// maxUncompressed bound message sizes in bytes on the decode path.
func NewGossipEncoder(digests map[ForkDigest]epbs.ForkName, maxCompressed, maxUncompressed uint64) *GossipEncoder {
	return &GossipEncoder{digests: digests, maxCompressed: maxCompressed, maxUncompressed: maxUncompressed}
}

// ForkFromDigest resolves a topic's digest to its fork name.
func (e *GossipEncoder) ForkFromDigest(digest ForkDigest) (epbs.ForkName, error) {
	fork, ok := e.digests[digest]
	if !ok {
		return 0, ErrUnknownForkDigest
	}
	return fork, nil
}

// EncodeGossip serializes and snappy-compresses msg for publication.
func (e *GossipEncoder) EncodeGossip(msg sszMarshaler) ([]byte, error) {
	raw, err := msg.MarshalSSZ()
	if err != nil {
		return nil, errors.Wrap(err, "ssz marshal")
	}
	if e.maxUncompressed > 0 && uint64(len(raw)) > e.maxUncompressed {
		return nil, ErrLengthLimitExceeded
	}
	return snappy.Encode(nil, raw), nil
}

// decompress applies the size bounds, then inflates. The uncompressed bound is checked via
// snappy's length peek before the output buffer is allocated.
func (e *GossipEncoder) decompress(data []byte) ([]byte, error) {
	if e.maxCompressed > 0 && uint64(len(data)) > e.maxCompressed {
		return nil, ErrLengthLimitExceeded
	}
	decodedLen, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, errors.Wrap(err, "snappy length peek")
	}
	if e.maxUncompressed > 0 && uint64(decodedLen) > e.maxUncompressed {
		return nil, ErrLengthLimitExceeded
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode")
	}
	return out, nil
}

// requireGloas enforces the Gloas-only guard for the new ePBS topic kinds, naming the topic in
// the error so gossip scoring can attribute the failure.
func requireGloas(kind GossipKind, fork epbs.ForkName) error {
	if fork < epbs.ForkGloas {
		return fmt.Errorf("topic %s requires a Gloas-enabled fork digest", kind)
	}
	return nil
}

// DecodeExecutionBid decodes an execution_bid topic message.
func (e *GossipEncoder) DecodeExecutionBid(digest ForkDigest, data []byte) (*gloas.SignedExecutionPayloadBid, error) {
	raw, err := e.checkedPayload(ExecutionBidKind, digest, data)
	if err != nil {
		return nil, err
	}
	out := &gloas.SignedExecutionPayloadBid{}
	if err := out.UnmarshalSSZ(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeExecutionPayload decodes an execution_payload topic message.
func (e *GossipEncoder) DecodeExecutionPayload(digest ForkDigest, data []byte) (*gloas.SignedExecutionPayloadEnvelope, error) {
	raw, err := e.checkedPayload(ExecutionPayloadKind, digest, data)
	if err != nil {
		return nil, err
	}
	out := &gloas.SignedExecutionPayloadEnvelope{}
	if err := out.UnmarshalSSZ(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePayloadAttestation decodes a payload_attestation topic message. The wire form is the
// individual PayloadAttestationMessage; an aggregate on this topic fails to decode.
func (e *GossipEncoder) DecodePayloadAttestation(digest ForkDigest, data []byte) (*gloas.PayloadAttestationMessage, error) {
	raw, err := e.checkedPayload(PayloadAttestationKind, digest, data)
	if err != nil {
		return nil, err
	}
	out := &gloas.PayloadAttestationMessage{}
	if err := out.UnmarshalSSZ(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeProposerPreferences decodes a proposer_preferences topic message.
func (e *GossipEncoder) DecodeProposerPreferences(digest ForkDigest, data []byte) (*gloas.SignedProposerPreferences, error) {
	raw, err := e.checkedPayload(ProposerPreferencesKind, digest, data)
	if err != nil {
		return nil, err
	}
	out := &gloas.SignedProposerPreferences{}
	if err := out.UnmarshalSSZ(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeExecutionProof decodes an execution_proof/{subnet} topic message.
func (e *GossipEncoder) DecodeExecutionProof(digest ForkDigest, data []byte) (*gloas.ExecutionProof, error) {
	raw, err := e.checkedPayload(ExecutionProofKind, digest, data)
	if err != nil {
		return nil, err
	}
	out := &gloas.ExecutionProof{}
	if err := out.UnmarshalSSZ(raw); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto decodes a non-fork-gated topic (beacon blocks, sidecars) into the caller's
// destination; the digest still selects which fork variant dst should be. Gloas blocks go
// through this same path as earlier forks, with the digest steering variant selection at the
// caller.
func (e *GossipEncoder) DecodeInto(digest ForkDigest, data []byte, dst sszUnmarshaler) (epbs.ForkName, error) {
	fork, err := e.ForkFromDigest(digest)
	if err != nil {
		return 0, err
	}
	raw, err := e.decompress(data)
	if err != nil {
		return 0, err
	}
	if err := dst.UnmarshalSSZ(raw); err != nil {
		return 0, err
	}
	return fork, nil
}

func (e *GossipEncoder) checkedPayload(kind GossipKind, digest ForkDigest, data []byte) ([]byte, error) {
	fork, err := e.ForkFromDigest(digest)
	if err != nil {
		return nil, err
	}
	if err := requireGloas(kind, fork); err != nil {
		return nil, err
	}
	return e.decompress(data)
}
