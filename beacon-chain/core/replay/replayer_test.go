package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/core/epbs"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

func testEnvelopeConfig() *epbs.Config {
	return &epbs.Config{
		IsGloas:          func(*gloas.BeaconStateGloas) bool { return true },
		VerifySignatures: false,
	}
}

func testReplayConfig() *Config {
	return &Config{
		PerSlot: func(ctx context.Context, state *gloas.BeaconStateGloas, info SlotInfo) error {
			return nil
		},
		PerBlock: func(ctx context.Context, state *gloas.BeaconStateGloas, block *Block, verifySignatures, verifyBlockRoot bool) error {
			return nil
		},
		Envelope: testEnvelopeConfig(),
	}
}

func baseState(slot primitives.Slot) *gloas.BeaconStateGloas {
	return &gloas.BeaconStateGloas{
		Slot:                         slot,
		ExecutionPayloadAvailability: make([]byte, 8192/8),
		LatestBlockHashField:         gloas.ExecutionBlockHash{0xaa},
		LatestBid: gloas.ExecutionPayloadBid{
			BuilderIndex: primitives.SelfBuild,
			BlockHash:    gloas.ExecutionBlockHash{0xbb},
		},
	}
}

// validEnvelopeFor builds an envelope that passes every validation check against the state
// produced by applying blocks up to block, including the post-application state root.
func validEnvelopeFor(state *gloas.BeaconStateGloas, block *Block) *gloas.SignedExecutionPayloadEnvelope {
	post := state.Copy()
	post.Slot = block.SlotNumber
	post.SetAvailabilityBit(block.SlotNumber)
	post.SetLatestBlockHash(post.LatestBid.BlockHash)
	root, _ := post.HashTreeRoot()
	return &gloas.SignedExecutionPayloadEnvelope{
		Envelope: &gloas.ExecutionPayloadEnvelope{
			Payload: &gloas.ExecutionPayloadGloas{
				ParentHash: state.LatestBlockHashField,
				BlockHash:  state.LatestBid.BlockHash,
			},
			BuilderIndex:    state.LatestBid.BuilderIndex,
			BeaconBlockRoot: block.BeaconBlockRoot,
			Slot:            block.SlotNumber,
			StateRoot:       root,
		},
	}
}

// A corrupted anchor envelope is dropped without failing the replay.
func TestReplay_AnchorEnvelopeBestEffort(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}

	badEnv := validEnvelopeFor(state, anchor)
	badEnv.Envelope.BeaconBlockRoot = gloas.Root{0xff} // does not match the anchor root

	envs := map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope{anchor.BeaconBlockRoot: badEnv}
	out, err := Replay(context.Background(), state, []*Block{anchor}, envs, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.False(t, out.AvailabilityBitSet(10))
	require.Equal(t, gloas.ExecutionBlockHash{0xaa}, out.LatestBlockHash())
}

// A corrupted non-anchor envelope fails the replay with EnvelopeProcessingError.
func TestReplay_SubsequentEnvelopeErrorPropagates(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}
	next := &Block{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}, IsGloasBlock: true}

	badEnv := validEnvelopeFor(state, next)
	badEnv.Envelope.BeaconBlockRoot = gloas.Root{0xff}

	envs := map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope{next.BeaconBlockRoot: badEnv}
	_, err := Replay(context.Background(), state, []*Block{anchor, next}, envs, nil, nil, testReplayConfig())
	require.Error(t, err)
	var envErr *EnvelopeProcessingError
	require.ErrorAs(t, err, &envErr)
}

// EMPTY path: no envelope leaves the availability bit clear and
// latest_block_hash untouched.
func TestReplay_EmptyPathLeavesStateUntouched(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}
	next := &Block{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}, IsGloasBlock: true}

	out, err := Replay(context.Background(), state, []*Block{anchor, next}, nil, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.False(t, out.AvailabilityBitSet(11))
	require.Equal(t, gloas.ExecutionBlockHash{0xaa}, out.LatestBlockHash())
	require.Equal(t, primitives.Slot(11), out.Slot)
}

// FULL path: a valid envelope sets the availability bit and latest_block_hash.
func TestReplay_FullPathAppliesEnvelope(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}
	next := &Block{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}, IsGloasBlock: true}

	envs := map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope{
		next.BeaconBlockRoot: validEnvelopeFor(state, next),
	}
	out, err := Replay(context.Background(), state, []*Block{anchor, next}, envs, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.True(t, out.AvailabilityBitSet(11))
	require.Equal(t, gloas.ExecutionBlockHash{0xbb}, out.LatestBlockHash())
	require.Empty(t, envs) // consumed
}

// Unmatched envelope entries survive the replay.
func TestReplay_UnmatchedEnvelopesRemain(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}
	next := &Block{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}, IsGloasBlock: true}

	unmatched := gloas.Root{0x77}
	envs := map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope{
		next.BeaconBlockRoot: validEnvelopeFor(state, next),
		unmatched:            validEnvelopeFor(state, next),
	}
	_, err := Replay(context.Background(), state, []*Block{anchor, next}, envs, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.Len(t, envs, 1)
	_, ok := envs[unmatched]
	require.True(t, ok)
}

// When both maps hold the anchor root, only the full envelope is consumed.
func TestReplay_FullEnvelopeWinsOverBlinded(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}

	full := validEnvelopeFor(state, anchor)
	blinded := &gloas.BlindedExecutionPayloadEnvelope{Envelope: full.Envelope}

	fulls := map[gloas.Root]*gloas.SignedExecutionPayloadEnvelope{anchor.BeaconBlockRoot: full}
	blindeds := map[gloas.Root]*gloas.BlindedExecutionPayloadEnvelope{anchor.BeaconBlockRoot: blinded}

	_, err := Replay(context.Background(), state, []*Block{anchor}, fulls, blindeds, nil, testReplayConfig())
	require.NoError(t, err)
	require.Empty(t, fulls)
	require.Len(t, blindeds, 1)
}

// A nonzero stale header state root is rewritten to the anchor's declared root.
func TestReplay_AnchorHeaderStateRootFixup(t *testing.T) {
	state := baseState(10)
	state.LatestBlockHeader.StateRoot = gloas.Root{0xde, 0xad}
	declared := gloas.Root{0x42}
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, DeclaredStateRoot: declared, IsGloasBlock: true}

	out, err := Replay(context.Background(), state, []*Block{anchor}, nil, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.Equal(t, declared, out.LatestBlockHeader.StateRoot)
}

// A zero header state root is left alone: only a stale nonzero root is corrected.
func TestReplay_AnchorHeaderZeroRootUntouched(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, DeclaredStateRoot: gloas.Root{0x42}, IsGloasBlock: true}

	out, err := Replay(context.Background(), state, []*Block{anchor}, nil, nil, nil, testReplayConfig())
	require.NoError(t, err)
	require.Equal(t, gloas.Root{}, out.LatestBlockHeader.StateRoot)
}

// Blinded envelopes reconstruct their withdrawals from the state's expected list before
// application.
func TestReplay_BlindedEnvelopeReconstruction(t *testing.T) {
	state := baseState(10)
	state.PayloadExpectedWithdrawals = []gloas.Withdrawal{{Index: 3, Amount: 7}}
	next := &Block{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}, IsGloasBlock: true}
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}

	full := validEnvelopeFor(state, next)
	full.Envelope.Payload.Withdrawals = nil // blinded form strips the list
	blinded := &gloas.BlindedExecutionPayloadEnvelope{Envelope: full.Envelope}

	blindeds := map[gloas.Root]*gloas.BlindedExecutionPayloadEnvelope{next.BeaconBlockRoot: blinded}
	out, err := Replay(context.Background(), state, []*Block{anchor, next}, nil, blindeds, nil, testReplayConfig())
	require.NoError(t, err)
	require.True(t, out.AvailabilityBitSet(11))
	require.Empty(t, blindeds)
}

// Target-slot advancement marks every post-block slot as skipped.
func TestReplay_TargetSlotAdvancement(t *testing.T) {
	state := baseState(10)
	anchor := &Block{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}, IsGloasBlock: true}

	var skipped []bool
	cfg := testReplayConfig()
	cfg.PerSlot = func(ctx context.Context, state *gloas.BeaconStateGloas, info SlotInfo) error {
		skipped = append(skipped, info.IsSkippedSlot)
		return nil
	}
	target := primitives.Slot(13)
	out, err := Replay(context.Background(), state, []*Block{anchor}, nil, nil, &target, cfg)
	require.NoError(t, err)
	require.Equal(t, primitives.Slot(13), out.Slot)
	require.Equal(t, []bool{true, true, true}, skipped)
}

// The default block-root verification policy counts the anchor as one of the first two
// blocks, so only the first subsequent block is verified.
func TestReplay_DefaultBlockRootPolicy(t *testing.T) {
	state := baseState(10)
	blocks := []*Block{
		{SlotNumber: 10, BeaconBlockRoot: gloas.Root{1}},
		{SlotNumber: 11, BeaconBlockRoot: gloas.Root{2}},
		{SlotNumber: 12, BeaconBlockRoot: gloas.Root{3}},
		{SlotNumber: 13, BeaconBlockRoot: gloas.Root{4}},
	}
	var verified []bool
	cfg := testReplayConfig()
	cfg.PerBlock = func(ctx context.Context, state *gloas.BeaconStateGloas, block *Block, verifySignatures, verifyBlockRoot bool) error {
		verified = append(verified, verifyBlockRoot)
		return nil
	}
	_, err := Replay(context.Background(), state, blocks, nil, nil, nil, cfg)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, false}, verified)
}
