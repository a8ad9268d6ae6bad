package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/epbs"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
)

var (
	gloasDigest = ForkDigest{0x06, 0x00, 0x00, 0x01}
	fuluDigest  = ForkDigest{0x05, 0x00, 0x00, 0x01}
)

func testEncoder() *GossipEncoder {
	return NewGossipEncoder(map[ForkDigest]epbs.ForkName{
		gloasDigest: epbs.ForkGloas,
		fuluDigest:  epbs.ForkFulu,
	}, 1<<20, 1<<22)
}

func testBid() *gloas.SignedExecutionPayloadBid {
	return &gloas.SignedExecutionPayloadBid{
		Bid: &gloas.ExecutionPayloadBid{
			ParentBlockHash:    gloas.ExecutionBlockHash{1},
			ParentBlockRoot:    gloas.Root{2},
			BlockHash:          gloas.ExecutionBlockHash{3},
			FeeRecipient:       [20]byte{4},
			GasLimit:           30_000_000,
			PrevRandao:         [32]byte{5},
			Slot:               100,
			BuilderIndex:       7,
			Value:              9_000_000,
			ExecutionPayment:   1_000,
			BlobKzgCommitments: [][48]byte{{0xcc}},
		},
		Signature: gloas.BLSSignature{0x51},
	}
}

func TestGossipEncoder_BidRoundTrip(t *testing.T) {
	e := testEncoder()
	in := testBid()
	wire, err := e.EncodeGossip(in)
	require.NoError(t, err)
	out, err := e.DecodeExecutionBid(gloasDigest, wire)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestGossipEncoder_EnvelopeRoundTrip(t *testing.T) {
	e := testEncoder()
	in := &gloas.SignedExecutionPayloadEnvelope{
		Envelope: &gloas.ExecutionPayloadEnvelope{
			Payload: &gloas.ExecutionPayloadGloas{
				ParentHash:   gloas.ExecutionBlockHash{1},
				BlockHash:    gloas.ExecutionBlockHash{2},
				Timestamp:    1_700_000_000,
				FeeRecipient: [20]byte{3},
				Withdrawals:  []gloas.Withdrawal{{Index: 1, ValidatorIndex: 2, Address: [20]byte{9}, Amount: 64}},
				Extra:        []byte{0xde, 0xad},
			},
			ExecutionRequests: &gloas.ExecutionRequests{
				Deposits:       [][]byte{{1, 2}},
				Withdrawals:    [][]byte{{3}},
				Consolidations: [][]byte{},
			},
			BuilderIndex:    7,
			BeaconBlockRoot: gloas.Root{0xab},
			Slot:            100,
			StateRoot:       gloas.Root{0xcd},
		},
		Signature: gloas.BLSSignature{0x9},
	}
	wire, err := e.EncodeGossip(in)
	require.NoError(t, err)
	out, err := e.DecodeExecutionPayload(gloasDigest, wire)
	require.NoError(t, err)
	require.Equal(t, in.Envelope.Payload, out.Envelope.Payload)
	require.Equal(t, in.Envelope.BuilderIndex, out.Envelope.BuilderIndex)
	require.Equal(t, in.Signature, out.Signature)
}

func TestGossipEncoder_PayloadAttestationRoundTrip(t *testing.T) {
	e := testEncoder()
	in := &gloas.PayloadAttestationMessage{
		ValidatorIndex: 42,
		Data: &gloas.PayloadAttestationData{
			BeaconBlockRoot:   gloas.Root{0x11},
			Slot:              100,
			PayloadPresent:    true,
			BlobDataAvailable: false,
		},
		Signature: gloas.BLSSignature{0x22},
	}
	wire, err := e.EncodeGossip(in)
	require.NoError(t, err)
	out, err := e.DecodePayloadAttestation(gloasDigest, wire)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestGossipEncoder_ProposerPreferencesRoundTrip(t *testing.T) {
	e := testEncoder()
	in := &gloas.SignedProposerPreferences{
		Message: &gloas.ProposerPreferences{
			ProposerIndex: 5,
			Slot:          101,
			FeeRecipient:  [20]byte{0xfe},
			GasLimit:      36_000_000,
		},
		Signature: gloas.BLSSignature{0x33},
	}
	wire, err := e.EncodeGossip(in)
	require.NoError(t, err)
	out, err := e.DecodeProposerPreferences(gloasDigest, wire)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestGossipEncoder_ExecutionProofRoundTrip(t *testing.T) {
	e := testEncoder()
	in := &gloas.ExecutionProof{
		BlockHash: gloas.ExecutionBlockHash{0x44},
		SubnetId:  3,
		Proof:     []byte{1, 2, 3, 4},
	}
	wire, err := e.EncodeGossip(in)
	require.NoError(t, err)
	out, err := e.DecodeExecutionProof(gloasDigest, wire)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

// Gloas-only kinds refuse pre-Gloas digests, naming the topic.
func TestGossipEncoder_GloasOnlyGuard(t *testing.T) {
	e := testEncoder()
	wire, err := e.EncodeGossip(testBid())
	require.NoError(t, err)

	_, err = e.DecodeExecutionBid(fuluDigest, wire)
	require.Error(t, err)
	require.Contains(t, err.Error(), string(ExecutionBidKind))

	_, err = e.DecodeExecutionBid(gloasDigest, wire)
	require.NoError(t, err)
}

func TestGossipEncoder_UnknownDigest(t *testing.T) {
	e := testEncoder()
	wire, err := e.EncodeGossip(testBid())
	require.NoError(t, err)
	_, err = e.DecodeExecutionBid(ForkDigest{0xff, 0xff, 0xff, 0xff}, wire)
	require.ErrorIs(t, err, ErrUnknownForkDigest)
}

// The uncompressed bound is enforced via the length peek before decompression.
func TestGossipEncoder_LengthLimits(t *testing.T) {
	tight := NewGossipEncoder(map[ForkDigest]epbs.ForkName{gloasDigest: epbs.ForkGloas}, 1<<20, 16)
	wire, err := testEncoder().EncodeGossip(testBid())
	require.NoError(t, err)
	_, err = tight.DecodeExecutionBid(gloasDigest, wire)
	require.ErrorIs(t, err, ErrLengthLimitExceeded)

	tightCompressed := NewGossipEncoder(map[ForkDigest]epbs.ForkName{gloasDigest: epbs.ForkGloas}, 4, 1<<22)
	_, err = tightCompressed.DecodeExecutionBid(gloasDigest, wire)
	require.ErrorIs(t, err, ErrLengthLimitExceeded)
}

// Truncated compressed payloads fail cleanly rather than panicking.
func TestGossipEncoder_TruncatedPayload(t *testing.T) {
	e := testEncoder()
	wire, err := e.EncodeGossip(testBid())
	require.NoError(t, err)
	_, err = e.DecodeExecutionBid(gloasDigest, wire[:len(wire)/2])
	require.Error(t, err)
}
