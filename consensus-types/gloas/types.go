// Package gloas defines the ePBS wire types introduced at the Gloas fork: builder bids,
// execution-payload envelopes, and payload-timeliness-committee attestations.
package gloas

import (
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// ExecutionBlockHash is an execution-layer block hash.
type ExecutionBlockHash [32]byte

// Root is a 32-byte SSZ merkle root.
type Root [32]byte

// BLSPubkey is a compressed BLS12-381 public key.
type BLSPubkey [48]byte

// BLSSignature is a BLS12-381 signature.
type BLSSignature [96]byte

// ExecutionPayloadBid is the builder's commitment published alongside the beacon block.
type ExecutionPayloadBid struct {
	ParentBlockHash    ExecutionBlockHash
	ParentBlockRoot    Root
	BlockHash          ExecutionBlockHash
	FeeRecipient       [20]byte
	GasLimit           uint64
	PrevRandao         [32]byte
	Slot               primitives.Slot
	BuilderIndex       primitives.BuilderIndex
	Value              uint64 // Gwei
	ExecutionPayment   uint64 // Gwei
	BlobKzgCommitments [][48]byte
}

// SignedExecutionPayloadBid wraps a bid with its builder signature.
type SignedExecutionPayloadBid struct {
	Bid       *ExecutionPayloadBid
	Signature BLSSignature
}

// ExecutionRequests carries deposits/withdrawals/consolidations requested via the EL, per
// Electra. Fields are opaque byte-encoded lists; this core does not interpret their contents
// beyond applying them to state via the execution-requests processor (external collaborator).
type ExecutionRequests struct {
	Deposits       [][]byte
	Withdrawals    [][]byte
	Consolidations [][]byte
}

// Withdrawal mirrors the EL withdrawal shape needed for payload_expected_withdrawals
// bit-for-bit comparisons.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex primitives.ValidatorIndex
	Address        [20]byte
	Amount         uint64
}

// ExecutionPayloadGloas is the opaque execution-layer payload body. This core treats it as a
// bag of fields verified by BlockHash; EL-internal semantics are an external collaborator's
// concern.
type ExecutionPayloadGloas struct {
	ParentHash   ExecutionBlockHash
	BlockHash    ExecutionBlockHash
	Timestamp    uint64
	Withdrawals  []Withdrawal
	FeeRecipient [20]byte
	// Opaque remainder (gas, base fee, transactions, blobs, ...); not modeled here.
	Extra []byte
}

// ExecutionPayloadEnvelope is the builder's revealed payload and execution requests for a bid.
type ExecutionPayloadEnvelope struct {
	Payload           *ExecutionPayloadGloas
	ExecutionRequests *ExecutionRequests
	BuilderIndex      primitives.BuilderIndex
	BeaconBlockRoot   Root
	Slot              primitives.Slot
	StateRoot         Root
}

// SignedExecutionPayloadEnvelope wraps an envelope with the builder's signature.
type SignedExecutionPayloadEnvelope struct {
	Envelope  *ExecutionPayloadEnvelope
	Signature BLSSignature
}

// BlindedExecutionPayloadEnvelope is a SignedExecutionPayloadEnvelope with payload.Withdrawals
// stripped, used to replay finalized blocks whose full payload has been pruned from storage.
type BlindedExecutionPayloadEnvelope struct {
	Envelope  *ExecutionPayloadEnvelope // Payload.Withdrawals is nil.
	Signature BLSSignature
}

// IntoFullWithWithdrawals reconstructs a full envelope by substituting the state's expected
// withdrawals list for the stripped one.
func (b *BlindedExecutionPayloadEnvelope) IntoFullWithWithdrawals(expected []Withdrawal) *SignedExecutionPayloadEnvelope {
	env := *b.Envelope
	payload := *env.Payload
	payload.Withdrawals = expected
	env.Payload = &payload
	return &SignedExecutionPayloadEnvelope{Envelope: &env, Signature: b.Signature}
}

// PayloadStatus reports whether the PTC member observed the payload and its blob data as
// available at the 3/4-slot mark.
type PayloadStatus uint8

const (
	// PayloadAbsent means the committee member did not see the payload in time.
	PayloadAbsent PayloadStatus = iota
	// PayloadPresent means the committee member saw the payload delivered on time.
	PayloadPresent
	// PayloadWithheld means the committee member saw the bid but the builder withheld the
	// payload.
	PayloadWithheld
)

// PayloadAttestationData is the data a PTC member signs over.
type PayloadAttestationData struct {
	BeaconBlockRoot   Root
	Slot              primitives.Slot
	PayloadPresent    bool
	BlobDataAvailable bool
}

// PayloadAttestationMessage is one PTC member's signed vote; gossip carries this form.
type PayloadAttestationMessage struct {
	ValidatorIndex primitives.ValidatorIndex
	Data           *PayloadAttestationData
	Signature      BLSSignature
}

// PayloadAttestation is the aggregated form used only at block-inclusion time.
type PayloadAttestation struct {
	AggregationBits bitfield.Bitvector512 // one bit per PTC member
	Data            *PayloadAttestationData
	Signature       BLSSignature
}

// Builder is a registered payload-producing party holding balance in the beacon state.
type Builder struct {
	Pubkey            BLSPubkey
	Balance           uint64
	DepositEpoch      primitives.Epoch
	WithdrawableEpoch primitives.Epoch
}

// BuilderPendingWithdrawal describes a promoted builder payment awaiting withdrawal sweep.
type BuilderPendingWithdrawal struct {
	FeeRecipient [20]byte
	Amount       uint64
	BuilderIndex primitives.BuilderIndex
}

// BuilderPendingPayment is one slot's entry in the builder_pending_payments ring buffer.
type BuilderPendingPayment struct {
	Weight     uint64
	Withdrawal BuilderPendingWithdrawal
}
