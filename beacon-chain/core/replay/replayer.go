// Package replay applies a sequence of blinded beacon blocks atop a prior state, interleaving
// slot processing, block processing, and Gloas envelope processing across the asymmetric
// anchor/subsequent block positions.
package replay

import (
	"context"

	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/epbs"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// Block is the minimal view of a blinded beacon block the replayer needs: its slot, its
// declared post-state root, its beacon block root (used as the envelope map key), and whether
// it is a Gloas block (envelope application only applies from Gloas on).
type Block struct {
	SlotNumber        primitives.Slot
	DeclaredStateRoot gloas.Root
	BeaconBlockRoot   gloas.Root
	IsGloasBlock      bool
}

// EnvelopeProcessingError wraps a non-anchor envelope-processing failure, the one
// block-application error the replayer propagates rather than swallows.
type EnvelopeProcessingError struct {
	Cause error
}

func (e *EnvelopeProcessingError) Error() string { return "envelope processing: " + e.Cause.Error() }
func (e *EnvelopeProcessingError) Unwrap() error { return e.Cause }

// SlotInfo is passed to PerSlotProcessing for each slot the replayer advances through.
type SlotInfo struct {
	StateRoot       gloas.Root
	RootWasComputed bool // true when no hint was available and a full tree-hash was taken.
	IsSkippedSlot   bool // true only for slots advanced after the last block up to the target slot.
}

// PerSlotProcessing advances state by one slot, given the state root to feed the historical
// roots accumulator (an external collaborator's concern; injected here).
type PerSlotProcessing func(ctx context.Context, state *gloas.BeaconStateGloas, info SlotInfo) error

// PerBlockProcessing runs the non-envelope portion of block processing (operations,
// attestations, signature verification, block-root verification), external to this core.
type PerBlockProcessing func(ctx context.Context, state *gloas.BeaconStateGloas, block *Block, verifySignatures, verifyBlockRoot bool) error

// Config bundles the external collaborators and policy knobs for Replay.
type Config struct {
	PerSlot          PerSlotProcessing
	PerBlock         PerBlockProcessing
	Envelope         *epbs.Config
	VerifySignatures bool

	// StateRootForSlot optionally supplies a known state root for a slot ahead of computing
	// one. Returns ok=false to fall through to the next acquisition tier.
	StateRootForSlot func(slot primitives.Slot) (gloas.Root, bool)

	// VerifyBlockRoot decides, for the i'th block in the sequence passed to Replay (0 is the
	// anchor, never passed here since the anchor doesn't run PerBlockProcessing), whether its
	// block root should be verified. nil selects the default: the anchor counts as one of the
	// first two blocks, so only the first subsequent block (i == 1) is verified; the rest are
	// trusted, chained off the verified prefix.
	VerifyBlockRoot func(index int) bool
}

func (c *Config) verifyBlockRoot(index int) bool {
	if c.VerifyBlockRoot != nil {
		return c.VerifyBlockRoot(index)
	}
	return index <= 1
}

// Replay applies blocks atop priorState and returns the resulting state. fullEnvelopes and
// blindedEnvelopes are owned by the caller and mutated in place: each entry is removed from its
// map exactly when a block in the sequence consumes it; unmatched entries remain so the
// caller can tell which bids never received a revealed payload. When both maps hold an entry
// for the same block root, the full envelope wins.
func Replay(
	ctx context.Context,
	priorState *gloas.BeaconStateGloas,
	blocks []*Block,
	fullEnvelopes map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope,
	blindedEnvelopes map[gloas.Root]*gloas.BlindedExecutionPayloadEnvelope,
	targetSlot *primitives.Slot,
	cfg *Config,
) (*gloas.BeaconStateGloas, error) {
	state := priorState.Copy()
	if len(blocks) == 0 {
		if err := advanceToTarget(ctx, state, targetSlot, nil, cfg); err != nil {
			return nil, err
		}
		return state, nil
	}

	anchor := blocks[0]
	fixupAnchorHeader(state, anchor)
	applyAnchorEnvelope(ctx, state, anchor, fullEnvelopes, blindedEnvelopes, cfg)

	prev := anchor
	for i := 1; i < len(blocks); i++ {
		block := blocks[i]
		if err := advanceToSlot(ctx, state, block.SlotNumber, prev, cfg); err != nil {
			return nil, err
		}
		verifyRoot := cfg.verifyBlockRoot(i)
		if err := cfg.PerBlock(ctx, state, block, cfg.VerifySignatures, verifyRoot); err != nil {
			return nil, errors.Wrap(err, "per block processing")
		}
		if block.IsGloasBlock {
			if err := applySubsequentEnvelope(ctx, state, block, fullEnvelopes, blindedEnvelopes, cfg); err != nil {
				return nil, err
			}
		}
		prev = block
	}

	if err := advanceToTarget(ctx, state, targetSlot, prev, cfg); err != nil {
		return nil, err
	}
	return state, nil
}

// applyAnchorEnvelope applies the anchor's envelope (if any) on a best-effort basis: any
// error is silently dropped. Anchor states loaded from cold storage may have been stored in a
// form that does not re-validate exactly, and the anchor is used only to fix up the state.
func applyAnchorEnvelope(
	ctx context.Context,
	state *gloas.BeaconStateGloas,
	anchor *Block,
	fullEnvelopes map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope,
	blindedEnvelopes map[gloas.Root]*gloas.BlindedExecutionPayloadEnvelope,
	cfg *Config,
) {
	if !anchor.IsGloasBlock {
		return
	}
	root := anchor.BeaconBlockRoot
	if env, ok := fullEnvelopes[root]; ok {
		_ = epbs.ProcessExecutionPayloadEnvelope(ctx, state, &root, env, cfg.Envelope)
		delete(fullEnvelopes, root)
		return
	}
	if benv, ok := blindedEnvelopes[root]; ok {
		full := benv.IntoFullWithWithdrawals(state.PayloadExpectedWithdrawals)
		_ = epbs.ProcessExecutionPayloadEnvelope(ctx, state, &root, full, cfg.Envelope)
		delete(blindedEnvelopes, root)
	}
}

// applySubsequentEnvelope applies a non-anchor block's envelope, propagating any error as
// EnvelopeProcessingError.
func applySubsequentEnvelope(
	ctx context.Context,
	state *gloas.BeaconStateGloas,
	block *Block,
	fullEnvelopes map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope,
	blindedEnvelopes map[gloas.Root]*gloas.BlindedExecutionPayloadEnvelope,
	cfg *Config,
) error {
	root := block.BeaconBlockRoot
	if env, ok := fullEnvelopes[root]; ok {
		if err := epbs.ProcessExecutionPayloadEnvelope(ctx, state, &root, env, cfg.Envelope); err != nil {
			return &EnvelopeProcessingError{Cause: err}
		}
		delete(fullEnvelopes, root)
		return nil
	}
	if benv, ok := blindedEnvelopes[root]; ok {
		full := benv.IntoFullWithWithdrawals(state.PayloadExpectedWithdrawals)
		if err := epbs.ProcessExecutionPayloadEnvelope(ctx, state, &root, full, cfg.Envelope); err != nil {
			return &EnvelopeProcessingError{Cause: err}
		}
		delete(blindedEnvelopes, root)
		return nil
	}
	// EMPTY path: no envelope supplied. latest_block_hash must not be touched.
	return nil
}

// fixupAnchorHeader corrects the stale post-envelope state_root a cold-storage load can
// carry: if the anchor's latest_block_header.state_root is set but disagrees with the anchor
// block's own declared state root, rewrite it.
func fixupAnchorHeader(state *gloas.BeaconStateGloas, anchor *Block) {
	var zero gloas.Root
	if state.LatestBlockHeader.StateRoot == zero {
		return
	}
	if state.LatestBlockHeader.StateRoot != anchor.DeclaredStateRoot {
		state.LatestBlockHeader.StateRoot = anchor.DeclaredStateRoot
	}
}

func advanceToSlot(ctx context.Context, state *gloas.BeaconStateGloas, target primitives.Slot, prevBlock *Block, cfg *Config) error {
	for state.Slot < target {
		next := state.Slot + 1
		info := stateRootInfo(state, state.Slot, prevBlock, cfg)
		if err := cfg.PerSlot(ctx, state, info); err != nil {
			return errors.Wrap(err, "per slot processing")
		}
		state.Slot = next
	}
	return nil
}

func advanceToTarget(ctx context.Context, state *gloas.BeaconStateGloas, targetSlot *primitives.Slot, prevBlock *Block, cfg *Config) error {
	if targetSlot == nil {
		return nil
	}
	for state.Slot < *targetSlot {
		next := state.Slot + 1
		info := stateRootInfo(state, state.Slot, prevBlock, cfg)
		info.IsSkippedSlot = true
		if err := cfg.PerSlot(ctx, state, info); err != nil {
			return errors.Wrap(err, "post-target slot processing")
		}
		state.Slot = next
	}
	return nil
}

// stateRootInfo resolves the state root to feed PerSlotProcessing for slot (the state's current
// slot, before it advances), in priority order: caller-supplied iterator/hint, then the previous
// block's declared state root when it shares this slot, then a full tree-hash (flagged as a miss).
func stateRootInfo(state *gloas.BeaconStateGloas, slot primitives.Slot, prevBlock *Block, cfg *Config) SlotInfo {
	if cfg.StateRootForSlot != nil {
		if root, ok := cfg.StateRootForSlot(slot); ok {
			return SlotInfo{StateRoot: root}
		}
	}
	if prevBlock != nil && prevBlock.SlotNumber == slot {
		return SlotInfo{StateRoot: prevBlock.DeclaredStateRoot}
	}
	root, _ := state.HashTreeRoot()
	return SlotInfo{StateRoot: root, RootWasComputed: true}
}
