// Package signing assembles BLS verification sets for Gloas's signed messages: builder bids,
// execution payload envelopes, and aggregated payload attestations, all verified through the
// blst bindings.
package signing

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	csigning "github.com/prysmaticlabs/gloas-epbs/crypto/signing"
)

var (
	// ErrValidatorUnknown means the referenced validator/builder index has no registry entry.
	ErrValidatorUnknown = errors.New("validator index unknown")
	// ErrValidatorPubkeyUnknown means the pubkey bytes could not be resolved to a registrant.
	ErrValidatorPubkeyUnknown = errors.New("validator pubkey unknown")
	// ErrPublicKeyDecompressionFailed means blst rejected the compressed pubkey bytes.
	ErrPublicKeyDecompressionFailed = errors.New("public key decompression failed")
	// ErrIncorrectBlockProposer means the signer index does not match the committed proposer.
	ErrIncorrectBlockProposer = errors.New("incorrect block proposer")
	// ErrInconsistentBlockFork means the signed object's fork does not match the state's fork.
	ErrInconsistentBlockFork = errors.New("inconsistent block fork")
)

// PubkeyLookup resolves a validator or builder index to its registered BLS pubkey. Supplied by
// the caller (state accessor); this package never reaches into state directly.
type PubkeyLookup func(index uint64) (gloas.BLSPubkey, bool)

// SignatureSet is a single (pubkey, message, signature) triple staged for BLS verification.
// A batch verifier could aggregate many of these into one pairing check; this module verifies
// each set independently.
type SignatureSet struct {
	Pubkey    gloas.BLSPubkey
	Message   [32]byte
	Signature gloas.BLSSignature
}

// Verify performs the BLS verification for a single set.
func (s SignatureSet) Verify() (bool, error) {
	pub := new(blst.P1Affine).Uncompress(s.Pubkey[:])
	if pub == nil {
		return false, ErrPublicKeyDecompressionFailed
	}
	if !pub.KeyValidate() {
		return false, ErrPublicKeyDecompressionFailed
	}
	sig := new(blst.P2Affine).Uncompress(s.Signature[:])
	if sig == nil {
		return false, errors.New("signature decompression failed")
	}
	return sig.Verify(true, pub, true, s.Message[:], dst), nil
}

// dst is the BLS ciphersuite domain-separation tag used across this core.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSZ_RO_POP_")

// BidSignatureSet builds the verification set for a SignedExecutionPayloadBid under the
// BeaconBuilder domain. SELF_BUILD bids carry the BLS infinity signature and must not be
// verified.
func BidSignatureSet(signed *gloas.SignedExecutionPayloadBid, fork *csigning.Fork, genesisValidatorsRoot []byte, lookup PubkeyLookup) (*SignatureSet, error) {
	if signed.Bid.BuilderIndex.IsSelfBuild() {
		return nil, nil
	}
	pub, ok := lookup(uint64(signed.Bid.BuilderIndex))
	if !ok {
		return nil, ErrValidatorUnknown
	}
	domain, err := csigning.Domain(fork, signed.Bid.Slot.ToEpoch(), csigning.DomainBeaconBuilder, genesisValidatorsRoot)
	if err != nil {
		return nil, err
	}
	objRoot := bidRoot(signed.Bid)
	msg := csigning.ComputeSigningRoot(objRoot, domain)
	return &SignatureSet{Pubkey: pub, Message: msg, Signature: signed.Signature}, nil
}

// EnvelopeSignatureSet builds the verification set for a SignedExecutionPayloadEnvelope under
// the BeaconBuilder domain. Despite the identical domain, the object root differs from a bid's
// because the two containers are distinct tree shapes even for the same (builder_index, slot);
// a bid signature and an envelope signature are never interchangeable.
func EnvelopeSignatureSet(signed *gloas.SignedExecutionPayloadEnvelope, fork *csigning.Fork, genesisValidatorsRoot []byte, lookup PubkeyLookup) (*SignatureSet, error) {
	if signed.Envelope.BuilderIndex.IsSelfBuild() {
		return nil, nil
	}
	pub, ok := lookup(uint64(signed.Envelope.BuilderIndex))
	if !ok {
		return nil, ErrValidatorUnknown
	}
	domain, err := csigning.Domain(fork, signed.Envelope.Slot.ToEpoch(), csigning.DomainBeaconBuilder, genesisValidatorsRoot)
	if err != nil {
		return nil, err
	}
	objRoot := envelopeRoot(signed.Envelope)
	msg := csigning.ComputeSigningRoot(objRoot, domain)
	return &SignatureSet{Pubkey: pub, Message: msg, Signature: signed.Signature}, nil
}

// PayloadAttestationSignatureSet builds the verification set for an aggregated
// PayloadAttestation under the PtcAttester domain, over the list of attesting pubkeys.
func PayloadAttestationSignatureSet(att *gloas.PayloadAttestation, attestingPubkeys []gloas.BLSPubkey, fork *csigning.Fork, genesisValidatorsRoot []byte) (*SignatureSet, error) {
	if len(attestingPubkeys) == 0 {
		return nil, ErrValidatorPubkeyUnknown
	}
	domain, err := csigning.Domain(fork, att.Data.Slot.ToEpoch(), csigning.DomainPTCAttester, genesisValidatorsRoot)
	if err != nil {
		return nil, err
	}
	objRoot := attestationDataRoot(att.Data)
	msg := csigning.ComputeSigningRoot(objRoot, domain)
	aggPub, err := aggregatePubkeys(attestingPubkeys)
	if err != nil {
		return nil, err
	}
	return &SignatureSet{Pubkey: aggPub, Message: msg, Signature: att.Signature}, nil
}

func aggregatePubkeys(pubkeys []gloas.BLSPubkey) (gloas.BLSPubkey, error) {
	agg := new(blst.P1Aggregate)
	raw := make([][]byte, len(pubkeys))
	for i := range pubkeys {
		raw[i] = pubkeys[i][:]
	}
	if !agg.AggregateCompressed(raw, true) {
		return gloas.BLSPubkey{}, ErrPublicKeyDecompressionFailed
	}
	affine := agg.ToAffine()
	var out gloas.BLSPubkey
	copy(out[:], affine.Compress())
	return out, nil
}

func bidRoot(bid *gloas.ExecutionPayloadBid) [32]byte {
	return simpleRoot(
		uint64(bid.Slot), uint64(bid.BuilderIndex), bid.Value, bid.ExecutionPayment,
		bid.BlockHash[:], bid.ParentBlockHash[:], bid.ParentBlockRoot[:],
	)
}

func envelopeRoot(env *gloas.ExecutionPayloadEnvelope) [32]byte {
	return simpleRoot(
		uint64(env.Slot), uint64(env.BuilderIndex),
		env.BeaconBlockRoot[:], env.StateRoot[:], env.Payload.BlockHash[:],
	)
}

func attestationDataRoot(data *gloas.PayloadAttestationData) [32]byte {
	present := uint64(0)
	if data.PayloadPresent {
		present = 1
	}
	avail := uint64(0)
	if data.BlobDataAvailable {
		avail = 1
	}
	return simpleRoot(uint64(data.Slot), present, avail, data.BeaconBlockRoot[:])
}

// SimpleRoot hashes a heterogeneous field list into a single root. Container hash-tree-roots
// elsewhere in this module go through the fastssz-backed hasher (see consensus-types/gloas);
// this helper gives the signature-set builder a stable, order-sensitive digest for the flat
// field lists it signs over, without requiring a generated SSZ type for each signed message.
func SimpleRoot(fields ...interface{}) [32]byte {
	return simpleRoot(fields...)
}

func simpleRoot(fields ...interface{}) [32]byte {
	h := sha256.New()
	for _, f := range fields {
		switch v := f.(type) {
		case uint64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			h.Write(b[:])
		case []byte:
			h.Write(v)
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
