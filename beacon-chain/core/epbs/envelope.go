package epbs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
	csigning "github.com/prysmaticlabs/gloas-epbs/crypto/signing"
	coresigning "github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/signing"
)

// ExecutionRequestApplier applies deposits/withdrawal-requests/consolidations carried by an
// envelope's execution_requests to state. The execution layer's payload contents are opaque
// to this package; callers inject a real implementation backed by their EL client.
type ExecutionRequestApplier func(state *gloas.BeaconStateGloas, reqs *gloas.ExecutionRequests) error

// BlockRootKnown reports whether root is known to fork choice. When the caller already
// resolved this (verifiedBlockRoot != nil) it is trusted directly instead of calling this
// func; see ProcessExecutionPayloadEnvelope.
type BlockRootKnown func(root gloas.Root) bool

// TimestampAtSlot computes the EL timestamp expected for a slot, derived from the slot clock
// and genesis time.
type TimestampAtSlot func(slot primitives.Slot) uint64

// Config bundles the external collaborators and verification knobs for
// ProcessExecutionPayloadEnvelope.
type Config struct {
	Fork                  *csigning.Fork
	GenesisValidatorsRoot []byte
	PubkeyLookup          coresigning.PubkeyLookup
	ApplyExecutionRequests ExecutionRequestApplier
	BlockRootKnown        BlockRootKnown
	TimestampAtSlot       TimestampAtSlot
	VerifySignatures      bool

	// IsGloas reports whether state.fork is Gloas; injected since this module does not model
	// the full fork schedule.
	IsGloas func(*gloas.BeaconStateGloas) bool
}

// ProcessExecutionPayloadEnvelope applies a signed payload envelope to state: it validates the
// envelope against the committed bid and state in a fixed order, applies the builder payment
// and execution requests on success, and checks the resulting state root. verifiedBlockRoot,
// when non-nil, is the caller-supplied known-good beacon block root for envelope.BeaconBlockRoot,
// bypassing Config.BlockRootKnown.
func ProcessExecutionPayloadEnvelope(
	ctx context.Context,
	state *gloas.BeaconStateGloas,
	verifiedBlockRoot *gloas.Root,
	signed *gloas.SignedExecutionPayloadEnvelope,
	cfg *Config,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cfg.IsGloas(state) {
		return ErrWrongFork
	}
	env := signed.Envelope

	if verifiedBlockRoot != nil {
		if *verifiedBlockRoot != env.BeaconBlockRoot {
			return ErrBlockRootUnknown
		}
	} else if cfg.BlockRootKnown != nil && !cfg.BlockRootKnown(env.BeaconBlockRoot) {
		return ErrBlockRootUnknown
	}

	if env.Slot != state.Slot {
		return ErrSlotMismatch
	}
	if env.BuilderIndex != state.LatestBid.BuilderIndex {
		return ErrBuilderIndexMismatch
	}
	if env.Payload.BlockHash != state.LatestBid.BlockHash {
		return ErrBlockHashMismatch
	}
	if env.Payload.ParentHash != state.LatestBlockHashField {
		return ErrParentHashMismatch
	}
	if cfg.TimestampAtSlot != nil && env.Payload.Timestamp != cfg.TimestampAtSlot(env.Slot) {
		return ErrTimestampMismatch
	}
	if !withdrawalsEqual(env.Payload.Withdrawals, state.PayloadExpectedWithdrawals) {
		return ErrWithdrawalsMismatch
	}

	if cfg.VerifySignatures && !env.BuilderIndex.IsSelfBuild() {
		set, err := coresigning.EnvelopeSignatureSet(signed, cfg.Fork, cfg.GenesisValidatorsRoot, cfg.PubkeyLookup)
		if err != nil {
			return errors.Wrap(err, ErrInvalidSignature.Error())
		}
		ok, err := set.Verify()
		if err != nil || !ok {
			return ErrInvalidSignature
		}
	}

	if cfg.ApplyExecutionRequests != nil && env.ExecutionRequests != nil {
		if err := cfg.ApplyExecutionRequests(state, env.ExecutionRequests); err != nil {
			return errors.Wrap(err, ErrInvalidExecutionRequest.Error())
		}
	}

	if !env.BuilderIndex.IsSelfBuild() {
		builder := state.Builder(env.BuilderIndex)
		if builder == nil {
			return ErrBuilderIndexMismatch
		}
		debit := state.LatestBid.Value + state.LatestBid.ExecutionPayment
		builder.Balance -= debit
		creditProposer(state, debit)
	}

	state.SetAvailabilityBit(env.Slot)
	state.SetLatestBlockHash(env.Payload.BlockHash)

	gotRoot, err := state.HashTreeRoot()
	if err != nil {
		return err
	}
	if gotRoot != env.StateRoot {
		return &StateRootMismatchError{Expected: env.StateRoot, Got: gotRoot}
	}
	return nil
}

// creditProposer credits the proposer's balance with the builder's debited payment. The
// proposer balance ledger lives in the main validator registry, an external collaborator this
// core does not otherwise model; ValidatorBalances is indexed by ProposerBalanceIndex.
func creditProposer(state *gloas.BeaconStateGloas, amount uint64) {
	idx := int(state.ProposerBalanceIndex)
	if idx < 0 || idx >= len(state.ValidatorBalances) {
		return
	}
	state.ValidatorBalances[idx] += amount
}

func withdrawalsEqual(a, b []gloas.Withdrawal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
