package signing

import (
	"testing"

	"github.com/stretchr/testify/require"
	blst "github.com/supranational/blst/bindings/go"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
	csigning "github.com/prysmaticlabs/gloas-epbs/crypto/signing"
)

func testKey(t *testing.T, seed byte) (*blst.SecretKey, gloas.BLSPubkey) {
	ikm := make([]byte, 32)
	ikm[0] = seed
	sk := blst.KeyGen(ikm)
	require.NotNil(t, sk)
	var pub gloas.BLSPubkey
	copy(pub[:], new(blst.P1Affine).From(sk).Compress())
	return sk, pub
}

func sign(sk *blst.SecretKey, msg [32]byte) gloas.BLSSignature {
	var sig gloas.BLSSignature
	copy(sig[:], new(blst.P2Affine).Sign(sk, msg[:], dst).Compress())
	return sig
}

func testFork() *csigning.Fork {
	return &csigning.Fork{
		Epoch:           0,
		PreviousVersion: [4]byte{6, 0, 0, 0},
		CurrentVersion:  [4]byte{6, 0, 0, 0},
	}
}

func TestBidSignatureSet_Verifies(t *testing.T) {
	sk, pub := testKey(t, 1)
	lookup := func(index uint64) (gloas.BLSPubkey, bool) { return pub, true }

	signed := &gloas.SignedExecutionPayloadBid{
		Bid: &gloas.ExecutionPayloadBid{Slot: 100, BuilderIndex: 7, Value: 42},
	}
	genesis := make([]byte, 32)
	set, err := BidSignatureSet(signed, testFork(), genesis, lookup)
	require.NoError(t, err)
	signed.Signature = sign(sk, set.Message)

	set, err = BidSignatureSet(signed, testFork(), genesis, lookup)
	require.NoError(t, err)
	ok, err := set.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

// A bid signature never verifies the envelope with the same (builder_index, slot),
// and vice versa, despite the shared BeaconBuilder domain.
func TestBidAndEnvelopeSignaturesNotInterchangeable(t *testing.T) {
	sk, pub := testKey(t, 2)
	lookup := func(index uint64) (gloas.BLSPubkey, bool) { return pub, true }
	genesis := make([]byte, 32)

	bid := &gloas.SignedExecutionPayloadBid{
		Bid: &gloas.ExecutionPayloadBid{Slot: 100, BuilderIndex: 7},
	}
	env := &gloas.SignedExecutionPayloadEnvelope{
		Envelope: &gloas.ExecutionPayloadEnvelope{
			Slot:         100,
			BuilderIndex: 7,
			Payload:      &gloas.ExecutionPayloadGloas{},
		},
	}

	bidSet, err := BidSignatureSet(bid, testFork(), genesis, lookup)
	require.NoError(t, err)
	envSet, err := EnvelopeSignatureSet(env, testFork(), genesis, lookup)
	require.NoError(t, err)
	require.NotEqual(t, bidSet.Message, envSet.Message)

	bidSig := sign(sk, bidSet.Message)

	bid.Signature = bidSig
	set, err := BidSignatureSet(bid, testFork(), genesis, lookup)
	require.NoError(t, err)
	ok, err := set.Verify()
	require.NoError(t, err)
	require.True(t, ok)

	env.Signature = bidSig
	set, err = EnvelopeSignatureSet(env, testFork(), genesis, lookup)
	require.NoError(t, err)
	ok, _ = set.Verify()
	require.False(t, ok)
}

func TestBidSignatureSet_SelfBuildSkipped(t *testing.T) {
	signed := &gloas.SignedExecutionPayloadBid{
		Bid: &gloas.ExecutionPayloadBid{Slot: 100, BuilderIndex: primitives.SelfBuild},
	}
	set, err := BidSignatureSet(signed, testFork(), make([]byte, 32), nil)
	require.NoError(t, err)
	require.Nil(t, set)
}

func TestBidSignatureSet_UnknownBuilder(t *testing.T) {
	lookup := func(index uint64) (gloas.BLSPubkey, bool) { return gloas.BLSPubkey{}, false }
	signed := &gloas.SignedExecutionPayloadBid{
		Bid: &gloas.ExecutionPayloadBid{Slot: 100, BuilderIndex: 7},
	}
	_, err := BidSignatureSet(signed, testFork(), make([]byte, 32), lookup)
	require.ErrorIs(t, err, ErrValidatorUnknown)
}

func TestPayloadAttestationSignatureSet_Aggregated(t *testing.T) {
	sk1, pub1 := testKey(t, 3)
	sk2, pub2 := testKey(t, 4)
	genesis := make([]byte, 32)

	att := &gloas.PayloadAttestation{
		Data: &gloas.PayloadAttestationData{Slot: 100, PayloadPresent: true},
	}
	set, err := PayloadAttestationSignatureSet(att, []gloas.BLSPubkey{pub1, pub2}, testFork(), genesis)
	require.NoError(t, err)

	sig1 := new(blst.P2Affine).Sign(sk1, set.Message[:], dst)
	sig2 := new(blst.P2Affine).Sign(sk2, set.Message[:], dst)
	agg := new(blst.P2Aggregate)
	require.True(t, agg.Aggregate([]*blst.P2Affine{sig1, sig2}, true))
	copy(att.Signature[:], agg.ToAffine().Compress())

	set, err = PayloadAttestationSignatureSet(att, []gloas.BLSPubkey{pub1, pub2}, testFork(), genesis)
	require.NoError(t, err)
	ok, err := set.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPayloadAttestationSignatureSet_NoPubkeys(t *testing.T) {
	att := &gloas.PayloadAttestation{
		Data: &gloas.PayloadAttestationData{Slot: 100},
	}
	_, err := PayloadAttestationSignatureSet(att, nil, testFork(), make([]byte, 32))
	require.ErrorIs(t, err, ErrValidatorPubkeyUnknown)
}
