package gloas

import (
	"github.com/prysmaticlabs/gloas-epbs/config/params"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// BeaconBlockHeader is the minimal subset of the latest block header the ePBS core reads and
// rewrites during the cold-storage state-root fixup.
type BeaconBlockHeader struct {
	Slot          primitives.Slot
	ProposerIndex primitives.ValidatorIndex
	ParentRoot    Root
	StateRoot     Root
	BodyRoot      Root
}

// HashTreeRoot is a placeholder SSZ root computation; a full implementation hashes the
// container tree via fastssz-generated code. Kept trivial here since this core treats roots
// as opaque comparison keys supplied by the caller's SSZ layer in production.
func (h *BeaconBlockHeader) HashTreeRoot() (Root, error) {
	return sszRootOf(uint64(h.Slot), uint64(h.ProposerIndex), h.ParentRoot, h.StateRoot, h.BodyRoot), nil
}

// BeaconStateGloas carries the Gloas-specific state fields (the committed bid, builder
// registry, payload availability bitvector, pending payments/withdrawals), plus the minimal
// pre-Gloas fields this core reads: slot, latest block header, validators-derived expected
// withdrawals.
type BeaconStateGloas struct {
	Slot               primitives.Slot
	LatestBlockHeader  BeaconBlockHeader
	LatestBid          ExecutionPayloadBid
	Builders           []Builder
	ExecutionPayloadAvailability []byte // bitvector, len SlotsPerHistoricalRoot/8
	BuilderPendingPayments       []BuilderPendingPayment
	BuilderPendingWithdrawals    []BuilderPendingWithdrawal
	LatestBlockHashField         ExecutionBlockHash
	PayloadExpectedWithdrawals   []Withdrawal
	NextWithdrawalBuilderIndex   primitives.ValidatorIndex
	ProposerBalanceIndex         primitives.ValidatorIndex // proposer of LatestBid's slot
	ValidatorBalances            []uint64                  // validator balances by validator index; envelope processing credits the proposer at ProposerBalanceIndex.
}

// LatestBlockHash returns state.latest_block_hash.
func (s *BeaconStateGloas) LatestBlockHash() ExecutionBlockHash {
	return s.LatestBlockHashField
}

// SetLatestBlockHash sets state.latest_block_hash. Only envelope processing on the FULL path
// calls this; the EMPTY path must never call it.
func (s *BeaconStateGloas) SetLatestBlockHash(h ExecutionBlockHash) {
	s.LatestBlockHashField = h
}

// AvailabilityBitSet reports execution_payload_availability[slot mod N].
func (s *BeaconStateGloas) AvailabilityBitSet(slot primitives.Slot) bool {
	n := params.BeaconConfig().SlotsPerHistoricalRoot
	idx := slot.Mod(n)
	byteIdx, bitIdx := idx/8, idx%8
	if int(byteIdx) >= len(s.ExecutionPayloadAvailability) {
		return false
	}
	return s.ExecutionPayloadAvailability[byteIdx]&(1<<bitIdx) != 0
}

// SetAvailabilityBit sets execution_payload_availability[slot mod N] = 1.
func (s *BeaconStateGloas) SetAvailabilityBit(slot primitives.Slot) {
	n := params.BeaconConfig().SlotsPerHistoricalRoot
	idx := slot.Mod(n)
	byteIdx, bitIdx := idx/8, idx%8
	for int(byteIdx) >= len(s.ExecutionPayloadAvailability) {
		s.ExecutionPayloadAvailability = append(s.ExecutionPayloadAvailability, 0)
	}
	s.ExecutionPayloadAvailability[byteIdx] |= 1 << bitIdx
}

// Builder returns the builder registered at idx, or nil if idx is SELF_BUILD or out of range.
func (s *BeaconStateGloas) Builder(idx primitives.BuilderIndex) *Builder {
	if idx.IsSelfBuild() || int(idx) >= len(s.Builders) {
		return nil
	}
	return &s.Builders[idx]
}

// HashTreeRoot is a placeholder state-root computation; see BeaconBlockHeader.HashTreeRoot.
func (s *BeaconStateGloas) HashTreeRoot() (Root, error) {
	return sszRootOf(
		uint64(s.Slot),
		uint64(s.LatestBlockHeader.Slot),
		s.LatestBid.BlockHash,
		s.LatestBlockHashField,
		uint64(len(s.Builders)),
		uint64(len(s.BuilderPendingWithdrawals)),
	), nil
}

// Copy returns a deep-enough copy for the replayer's per-slot processing, which must not
// mutate the caller's prior-state value in place.
func (s *BeaconStateGloas) Copy() *BeaconStateGloas {
	cp := *s
	cp.Builders = append([]Builder(nil), s.Builders...)
	cp.ExecutionPayloadAvailability = append([]byte(nil), s.ExecutionPayloadAvailability...)
	cp.BuilderPendingPayments = append([]BuilderPendingPayment(nil), s.BuilderPendingPayments...)
	cp.BuilderPendingWithdrawals = append([]BuilderPendingWithdrawal(nil), s.BuilderPendingWithdrawals...)
	cp.PayloadExpectedWithdrawals = append([]Withdrawal(nil), s.PayloadExpectedWithdrawals...)
	cp.ValidatorBalances = append([]uint64(nil), s.ValidatorBalances...)
	return &cp
}
