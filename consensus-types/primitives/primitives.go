// Package primitives defines the small integer newtypes shared across the ePBS core.
package primitives

import "github.com/prysmaticlabs/gloas-epbs/config/params"

// Slot is a beacon chain slot number.
type Slot uint64

// Epoch is a beacon chain epoch number.
type Epoch uint64

// ValidatorIndex indexes into the beacon state's validator registry.
type ValidatorIndex uint64

// CommitteeIndex indexes a committee within a slot.
type CommitteeIndex uint64

// ColumnIndex indexes a data column in the PeerDAS custody-column space.
type ColumnIndex uint64

// BuilderIndex indexes into the beacon state's builder registry, or carries the SELF_BUILD
// sentinel meaning the proposer is building their own payload.
type BuilderIndex uint64

// SelfBuild is the sentinel BuilderIndex (u64::MAX) meaning no registered builder is involved;
// the proposer is building their own payload.
const SelfBuild = BuilderIndex(^uint64(0))

// IsSelfBuild reports whether idx is the SELF_BUILD sentinel.
func (idx BuilderIndex) IsSelfBuild() bool {
	return idx == SelfBuild
}

// ToEpoch converts a slot to the epoch containing it using the active config's SlotsPerEpoch.
func (s Slot) ToEpoch() Epoch {
	return Epoch(uint64(s) / params.BeaconConfig().SlotsPerEpoch)
}

// Mod returns s modulo n, used for ring-buffer indexing (e.g. execution_payload_availability).
func (s Slot) Mod(n uint64) uint64 {
	return uint64(s) % n
}

// SafeSub returns a saturating subtraction: max(a-b, 0).
func (e Epoch) SafeSub(b Epoch) Epoch {
	if e < b {
		return 0
	}
	return e - b
}
