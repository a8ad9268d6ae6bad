// Package ptcattest runs the per-slot payload-attestation routine: fetch attestation data at
// the 3/4-slot mark, sign it for every local PTC duty, and publish the resulting messages.
package ptcattest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/cache"
	"github.com/prysmaticlabs/gloas-epbs/config/params"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

var log = logrus.WithField("prefix", "payload-attestation")

// BeaconNodeClient is the thin BN surface this service consumes.
type BeaconNodeClient interface {
	// PayloadAttestationData fetches the attestation content for slot, trying fallback
	// endpoints in order until one succeeds (first_success semantics).
	PayloadAttestationData(ctx context.Context, slot primitives.Slot) (*gloas.PayloadAttestationData, error)
	// PublishPayloadAttestations posts the signed messages to the BN's pool endpoint.
	PublishPayloadAttestations(ctx context.Context, msgs []*gloas.PayloadAttestationMessage) error
}

// Signer produces a PTC attestation signature for one local validator.
type Signer interface {
	SignPayloadAttestation(ctx context.Context, validatorIndex primitives.ValidatorIndex, data *gloas.PayloadAttestationData) (gloas.BLSSignature, error)
}

// SlotClock reports the current slot and the wall-clock duration until the next slot starts.
type SlotClock interface {
	CurrentSlot() primitives.Slot
	DurationToNextSlot() time.Duration
}

// Service runs one payload-attestation routine per slot at the 3/4-slot mark.
type Service struct {
	Duties         *cache.PtcDutiesCache
	Client         BeaconNodeClient
	Signer         Signer
	Clock          SlotClock
	SlotsPerEpoch  uint64
	GloasForkEpoch *primitives.Epoch

	inFlight atomic.Bool
}

// Run drives the per-slot routine until ctx is cancelled. Each iteration re-derives the sleep
// target from the slot clock (next slot start plus the 3/4-slot attestation offset) rather
// than ticking a fixed period, so clock drift never accumulates. One task is spawned per slot
// boundary; if a prior slot's task is somehow still in flight, the new slot is skipped.
func (s *Service) Run(ctx context.Context) {
	due := time.Duration(params.BeaconConfig().PayloadAttestationDueMillis) * time.Millisecond
	for {
		timer := time.NewTimer(s.Clock.DurationToNextSlot() + due)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !s.inFlight.CompareAndSwap(false, true) {
			log.Warn("previous payload attestation task still running; skipping slot")
			continue
		}
		slot := s.Clock.CurrentSlot()
		go func() {
			defer s.inFlight.Store(false)
			if err := s.ProcessSlot(ctx, slot); err != nil {
				log.WithError(err).WithField("slot", slot).Error("payload attestation slot failed")
			}
		}()
	}
}

// ProcessSlot runs the per-slot routine for currentSlot. It returns an error only for the two
// slot-aborting cases: a failed data fetch, or a failed publish after at
// least one signature succeeded. Per-duty signing failures are logged and skipped, never
// propagated; if every duty fails to sign, the slot is a silent no-op (not an error).
func (s *Service) ProcessSlot(ctx context.Context, currentSlot primitives.Slot) error {
	currentEpoch := primitives.Epoch(uint64(currentSlot) / s.SlotsPerEpoch)
	if s.GloasForkEpoch == nil || currentEpoch < *s.GloasForkEpoch {
		return nil
	}

	duties := s.Duties.DutiesForSlot(currentSlot, s.SlotsPerEpoch)
	if len(duties) == 0 {
		return nil
	}

	data, err := s.Client.PayloadAttestationData(ctx, currentSlot)
	if err != nil {
		return errors.Wrap(err, "fetch payload attestation data")
	}

	msgs := make([]*gloas.PayloadAttestationMessage, 0, len(duties))
	for _, duty := range duties {
		sig, err := s.Signer.SignPayloadAttestation(ctx, duty.ValidatorIndex, data)
		if err != nil {
			log.WithError(err).WithField("validator_index", duty.ValidatorIndex).
				Error("failed to sign payload attestation; skipping this duty")
			continue
		}
		msgs = append(msgs, &gloas.PayloadAttestationMessage{
			ValidatorIndex: duty.ValidatorIndex,
			Data:           data,
			Signature:      sig,
		})
	}

	if len(msgs) == 0 {
		return nil
	}

	if err := s.Client.PublishPayloadAttestations(ctx, msgs); err != nil {
		return errors.Wrap(err, "publish payload attestations")
	}
	return nil
}
