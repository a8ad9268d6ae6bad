// Package cache holds the in-memory, lock-protected lookup structures shared by the duty
// poller and the payload-attestation service: the per-epoch PTC duty map, and a short-TTL
// cache of submitted builder bids keyed by slot.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// PtcDutyData is one validator's payload-timeliness-committee duty for a slot.
type PtcDutyData struct {
	ValidatorIndex primitives.ValidatorIndex
	Pubkey         gloas.BLSPubkey
	Slot           primitives.Slot
}

// PtcDutiesCache stores per-epoch PTC duty lists behind a single reader-writer lock.
type PtcDutiesCache struct {
	mu     sync.RWMutex
	duties map[primitives.Epoch][]PtcDutyData
}

// NewPtcDutiesCache constructs an empty duty map.
func NewPtcDutiesCache() *PtcDutiesCache {
	return &PtcDutiesCache{duties: make(map[primitives.Epoch][]PtcDutyData)}
}

// SetDuties overwrites the duty list for epoch.
func (c *PtcDutiesCache) SetDuties(epoch primitives.Epoch, duties []PtcDutyData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duties[epoch] = duties
}

// HasDutiesForEpoch reports whether duties for epoch have been fetched yet.
func (c *PtcDutiesCache) HasDutiesForEpoch(epoch primitives.Epoch) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.duties[epoch]
	return ok
}

// DutiesForSlot returns only the duties in slot's epoch whose Slot field equals slot.
func (c *PtcDutiesCache) DutiesForSlot(slot primitives.Slot, slotsPerEpoch uint64) []PtcDutyData {
	epoch := primitives.Epoch(uint64(slot) / slotsPerEpoch)
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := c.duties[epoch]
	out := make([]PtcDutyData, 0, len(all))
	for _, d := range all {
		if d.Slot == slot {
			out = append(out, d)
		}
	}
	return out
}

// DutyCount counts duties in epoch whose pubkey is present in localPubkeys.
func (c *PtcDutiesCache) DutyCount(epoch primitives.Epoch, localPubkeys map[gloas.BLSPubkey]bool) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, d := range c.duties[epoch] {
		if localPubkeys[d.Pubkey] {
			count++
		}
	}
	return count
}

// Prune retains only entries at epoch >= currentEpoch - 1 (saturating subtraction), dropping
// everything older.
func (c *PtcDutiesCache) Prune(currentEpoch primitives.Epoch) {
	floor := currentEpoch.SafeSub(primitives.Epoch(1))
	c.mu.Lock()
	defer c.mu.Unlock()
	for epoch := range c.duties {
		if epoch < floor {
			delete(c.duties, epoch)
		}
	}
}

// BuilderBidCache is a short-TTL cache of recently submitted builder bids, keyed by slot, used
// by the submission driver to avoid redundant resubmission within the same slot.
type BuilderBidCache struct {
	inner *gocache.Cache
}

// NewBuilderBidCache constructs a cache whose entries expire after ttl and are swept every
// cleanupInterval.
func NewBuilderBidCache(ttl, cleanupInterval time.Duration) *BuilderBidCache {
	return &BuilderBidCache{inner: gocache.New(ttl, cleanupInterval)}
}

// Put stores bid under slot's key.
func (c *BuilderBidCache) Put(slot primitives.Slot, bid *gloas.SignedExecutionPayloadBid) {
	c.inner.SetDefault(slotKey(slot), bid)
}

// Get returns the most recently submitted bid for slot, if still cached.
func (c *BuilderBidCache) Get(slot primitives.Slot) (*gloas.SignedExecutionPayloadBid, bool) {
	v, ok := c.inner.Get(slotKey(slot))
	if !ok {
		return nil, false
	}
	bid, ok := v.(*gloas.SignedExecutionPayloadBid)
	return bid, ok
}

func slotKey(slot primitives.Slot) string {
	return "bid:" + itoa(uint64(slot))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
