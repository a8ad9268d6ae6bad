// Package duties polls the beacon node for payload-timeliness-committee duties, one slot at a
// time, keeping the shared duty cache populated for the current and next epoch and pruned of
// stale entries.
package duties

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/cache"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

var log = logrus.WithField("prefix", "ptc-duties")

// BeaconNodeClient fetches PTC duties for an epoch, scoped to the given local validator
// indices. Implementations call POST /eth/v1/validator/duties/ptc/{epoch}.
type BeaconNodeClient interface {
	PTCDuties(ctx context.Context, epoch primitives.Epoch, validatorIndices []primitives.ValidatorIndex) ([]cache.PtcDutyData, error)
}

// Poller fetches current + next epoch PTC duties once per slot and prunes the cache.
type Poller struct {
	Cache            *cache.PtcDutiesCache
	Client           BeaconNodeClient
	LocalValidators  func() []primitives.ValidatorIndex
	SlotsPerEpoch    uint64
	GloasForkEpoch   *primitives.Epoch // nil means Gloas is not scheduled on this network.
}

// PollPTCDuties runs one poll cycle for currentSlot. BN errors are logged and swallowed: a
// failed fetch this slot is retried on the next call, never treated as fatal.
func (p *Poller) PollPTCDuties(ctx context.Context, currentSlot primitives.Slot) error {
	currentEpoch := primitives.Epoch(uint64(currentSlot) / p.SlotsPerEpoch)

	if p.GloasForkEpoch == nil || currentEpoch < *p.GloasForkEpoch {
		return nil
	}

	validators := p.LocalValidators()
	if len(validators) == 0 {
		p.Cache.Prune(currentEpoch)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, epoch := range []primitives.Epoch{currentEpoch, currentEpoch + 1} {
		epoch := epoch
		if p.Cache.HasDutiesForEpoch(epoch) {
			continue
		}
		g.Go(func() error {
			p.fetchAndStore(gctx, epoch, validators)
			return nil
		})
	}
	// Fetch errors are already logged and swallowed inside fetchAndStore and every goroutine
	// returns nil, so g.Wait() always returns nil; it is called only to join the fetches.
	_ = g.Wait()

	p.Cache.Prune(currentEpoch)
	return nil
}

func (p *Poller) fetchAndStore(ctx context.Context, epoch primitives.Epoch, validators []primitives.ValidatorIndex) {
	duties, err := p.Client.PTCDuties(ctx, epoch, validators)
	if err != nil {
		log.WithError(err).WithField("epoch", epoch).Warn("failed to fetch PTC duties")
		return
	}
	p.Cache.SetDuties(epoch, duties)
}
