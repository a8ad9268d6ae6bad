// Package custody maintains a node's validator-custody context: the mapping from attached
// validator stake to a custody-group count (CGC), the delayed-effect schedule for CGC
// increases, and the data-availability sampling column sets derived from it.
package custody

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prysmaticlabs/gloas-epbs/config/params"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// NodeCustodyType is the CLI-selected custody role, which (if set) overrides the
// registration-derived CGC with a fixed value.
type NodeCustodyType int

const (
	// Fullnode applies no override; CGC tracks registered validator stake only.
	Fullnode NodeCustodyType = iota
	// SemiSupernode pins CGC to half of NumberOfCustodyGroups.
	SemiSupernode
	// Supernode pins CGC to the full NumberOfCustodyGroups.
	Supernode
)

// CustodyCountChanged reports a CGC increase produced by RegisterValidators.
type CustodyCountChanged struct {
	Old            uint64
	New            uint64
	EffectiveEpoch primitives.Epoch
}

type validatorRegistration struct {
	lastSeenSlot     primitives.Slot
	effectiveBalance uint64
}

// changePoints is a sparse ordered map from epoch to CGC, storing only epochs at which the
// value differs from the previous entry.
type changePoints struct {
	epochs []primitives.Epoch // sorted ascending, kept in lockstep with values
	values []uint64
}

func (c *changePoints) latest() (uint64, bool) {
	if len(c.epochs) == 0 {
		return 0, false
	}
	return c.values[len(c.values)-1], true
}

// at returns the value stored at the greatest epoch <= epoch.
func (c *changePoints) at(epoch primitives.Epoch) (uint64, bool) {
	i := sort.Search(len(c.epochs), func(i int) bool { return c.epochs[i] > epoch })
	if i == 0 {
		return 0, false
	}
	return c.values[i-1], true
}

// upsert inserts or overwrites the value at epoch, keeping epochs sorted.
func (c *changePoints) upsert(epoch primitives.Epoch, value uint64) {
	i := sort.Search(len(c.epochs), func(i int) bool { return c.epochs[i] >= epoch })
	if i < len(c.epochs) && c.epochs[i] == epoch {
		c.values[i] = value
		return
	}
	c.epochs = append(c.epochs, 0)
	c.values = append(c.values, 0)
	copy(c.epochs[i+1:], c.epochs[i:])
	copy(c.values[i+1:], c.values[i:])
	c.epochs[i] = epoch
	c.values[i] = value
}

// retainBefore drops every entry at epoch >= threshold whose value equals matchValue, used by
// BackfillValidatorCustodyRequirements to collapse a run of identical entries.
func (c *changePoints) retainBefore(threshold primitives.Epoch, matchValue uint64) {
	out := c.epochs[:0]
	outV := c.values[:0]
	for i, e := range c.epochs {
		if e >= threshold && c.values[i] == matchValue {
			continue
		}
		out = append(out, e)
		outV = append(outV, c.values[i])
	}
	c.epochs = out
	c.values = outV
}

// CustodyContext tracks the node's registered validators and the resulting CGC schedule. The
// atomic head value is a denormalized cache of the change-point map's latest entry; only New,
// RegisterValidators, BackfillValidatorCustodyRequirements (which keeps the latest value) and
// LoadFromSnapshot write either, so readers never race a torn update.
type CustodyContext struct {
	validatorCustodyCount atomic.Uint64

	mu           sync.RWMutex
	validators   map[primitives.ValidatorIndex]validatorRegistration
	requirements changePoints

	columnsOnce            sync.Once
	allCustodyColumnsOrder []uint64

	nodeType NodeCustodyType
}

// New constructs a fresh CustodyContext for a node of the given type, applying any
// Supernode/SemiSupernode override immediately (as an epoch-0 change point).
func New(nodeType NodeCustodyType, cfg *params.BeaconChainConfig) *CustodyContext {
	c := &CustodyContext{
		validators: make(map[primitives.ValidatorIndex]validatorRegistration),
		nodeType:   nodeType,
	}
	if override, ok := overrideCGC(nodeType, cfg); ok {
		c.requirements.upsert(0, override)
		c.validatorCustodyCount.Store(override)
	}
	return c
}

func overrideCGC(nodeType NodeCustodyType, cfg *params.BeaconChainConfig) (uint64, bool) {
	switch nodeType {
	case Supernode:
		return cfg.NumberOfCustodyGroups, true
	case SemiSupernode:
		return cfg.NumberOfCustodyGroups / 2, true
	default:
		return 0, false
	}
}

// SetAllCustodyColumnsOrdered sets the node-identity-derived column ordering. It may only be
// set once; later calls are no-ops.
func (c *CustodyContext) SetAllCustodyColumnsOrdered(cols []primitives.ColumnIndex) {
	c.columnsOnce.Do(func() {
		out := make([]uint64, len(cols))
		for i, v := range cols {
			out[i] = uint64(v)
		}
		c.allCustodyColumnsOrder = out
	})
}

// RegisterValidators upserts last-seen-slot/effective-balance for each validator, drops
// expired registrations, recomputes the CGC, and, if it increased, schedules the new value
// to take effect after the custody delay. Drops never decrease the published CGC.
func (c *CustodyContext) RegisterValidators(
	validatorsAndBalances map[primitives.ValidatorIndex]uint64,
	currentSlot primitives.Slot,
	cfg *params.BeaconChainConfig,
) *CustodyCountChanged {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx, balance := range validatorsAndBalances {
		c.validators[idx] = validatorRegistration{lastSeenSlot: currentSlot, effectiveBalance: balance}
	}

	expiry := cfg.ValidatorRegistrationExpirySlots
	for idx, reg := range c.validators {
		if uint64(currentSlot) < expiry || uint64(reg.lastSeenSlot) >= uint64(currentSlot)-expiry {
			continue
		}
		delete(c.validators, idx)
	}

	var units uint64
	for _, reg := range c.validators {
		units += reg.effectiveBalance / cfg.BalancePerAdditionalCustodyGroup
	}
	newCGC := clamp(units, cfg.ValidatorCustodyRequirement, cfg.NumberOfCustodyGroups)

	latest, ok := c.requirements.latest()
	if !ok {
		latest = cfg.ValidatorCustodyRequirement
	}
	if newCGC <= latest {
		return nil
	}

	delaySlots := (cfg.CustodyDelaySecondsNumerator + cfg.SecondsPerSlot - 1) / cfg.SecondsPerSlot
	effectiveEpoch := primitives.Slot(uint64(currentSlot)+delaySlots).ToEpoch() + 1
	c.requirements.upsert(effectiveEpoch, newCGC)
	c.validatorCustodyCount.Store(newCGC)

	return &CustodyCountChanged{Old: latest, New: newCGC, EffectiveEpoch: effectiveEpoch}
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CustodyGroupCountAtHead returns the latest accepted CGC via a lock-free atomic read.
func (c *CustodyContext) CustodyGroupCountAtHead() uint64 {
	return c.validatorCustodyCount.Load()
}

// CustodyGroupCountAtEpoch returns the value stored at the greatest epoch <= epoch, falling
// back to the spec's node-level custody requirement floor if no entry applies yet.
func (c *CustodyContext) CustodyGroupCountAtEpoch(epoch primitives.Epoch, cfg *params.BeaconChainConfig) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.requirements.at(epoch); ok {
		return v
	}
	return cfg.CustodyRequirement
}

// NumOfCustodyGroupsToSample returns max(CGC_at_epoch, spec.samples_per_slot).
func (c *CustodyContext) NumOfCustodyGroupsToSample(epoch primitives.Epoch, cfg *params.BeaconChainConfig) uint64 {
	cgc := c.CustodyGroupCountAtEpoch(epoch, cfg)
	if cgc < cfg.SamplesPerSlot {
		return cfg.SamplesPerSlot
	}
	return cgc
}

// SamplingColumnsForEpoch returns the first N columns of the node's ordered custody-column
// list, where N = NumOfCustodyGroupsToSample(epoch).
func (c *CustodyContext) SamplingColumnsForEpoch(epoch primitives.Epoch, cfg *params.BeaconChainConfig) []uint64 {
	n := c.NumOfCustodyGroupsToSample(epoch, cfg)
	return c.firstColumns(n)
}

// CustodyColumnsForEpoch returns the first CGC_at_epoch columns of the ordered list.
func (c *CustodyContext) CustodyColumnsForEpoch(epoch primitives.Epoch, cfg *params.BeaconChainConfig) []uint64 {
	n := c.CustodyGroupCountAtEpoch(epoch, cfg)
	return c.firstColumns(n)
}

func (c *CustodyContext) firstColumns(n uint64) []uint64 {
	if n > uint64(len(c.allCustodyColumnsOrder)) {
		n = uint64(len(c.allCustodyColumnsOrder))
	}
	out := make([]uint64, n)
	copy(out, c.allCustodyColumnsOrder[:n])
	return out
}

// BackfillValidatorCustodyRequirements collapses a run of change points equal to the latest
// stored value into a single entry at effectiveEpoch.
func (c *CustodyContext) BackfillValidatorCustodyRequirements(effectiveEpoch primitives.Epoch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	latest, ok := c.requirements.latest()
	if !ok {
		return
	}
	c.requirements.retainBefore(effectiveEpoch, latest)
	c.requirements.upsert(effectiveEpoch, latest)
}

// Snapshot is the SSZ-serializable persisted form of a CustodyContext.
type Snapshot struct {
	ValidatorCustodyAtHead            uint64
	PersistedIsSupernode              bool // deprecated; always written false.
	EpochValidatorCustodyRequirements []EpochCGC
}

// EpochCGC is one entry of the persisted change-point list.
type EpochCGC struct {
	Epoch primitives.Epoch
	CGC   uint64
}

// ToSnapshot serializes the current change-point schedule and head CGC for persistence.
func (c *CustodyContext) ToSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{ValidatorCustodyAtHead: c.validatorCustodyCount.Load()}
	for i, e := range c.requirements.epochs {
		out.EpochValidatorCustodyRequirements = append(out.EpochValidatorCustodyRequirements, EpochCGC{Epoch: e, CGC: c.requirements.values[i]})
	}
	return out
}

// LoadFromSnapshot restores a CustodyContext from a persisted snapshot. If cliOverrideCGC is
// set and exceeds the persisted head, the persisted value wins and the caller should warn that
// a resync is required to broaden custody (this function does not log; callers own that).
// validators is left empty: attached validators must re-register after restart.
func LoadFromSnapshot(snap Snapshot, nodeType NodeCustodyType, cliOverrideCGC *uint64) (*CustodyContext, bool) {
	c := &CustodyContext{
		validators: make(map[primitives.ValidatorIndex]validatorRegistration),
		nodeType:   nodeType,
	}
	for _, e := range snap.EpochValidatorCustodyRequirements {
		c.requirements.upsert(e.Epoch, e.CGC)
	}
	c.validatorCustodyCount.Store(snap.ValidatorCustodyAtHead)

	overrideRejected := false
	if cliOverrideCGC != nil && *cliOverrideCGC > snap.ValidatorCustodyAtHead {
		overrideRejected = true
	}
	return c, overrideRejected
}
