// Package builder drives bid submission against a running beacon node: it assembles an
// execution-payload bid from the builder's parameters, signs it under the BeaconBuilder
// domain, and posts it, along with the supporting proposer-preferences flow the bid responds
// to. One driver instance serves one builder identity.
package builder

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/cache"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

var log = logrus.WithField("prefix", "builder")

// BeaconNodeClient is the BN surface the driver consumes.
type BeaconNodeClient interface {
	SubmitBid(ctx context.Context, bid *gloas.SignedExecutionPayloadBid) error
	PublishProposerPreferences(ctx context.Context, prefs *gloas.SignedProposerPreferences) error
}

// Signer signs bids and proposer preferences with the local keystore. Bids carrying the
// SELF_BUILD sentinel skip signing entirely and get the infinity signature.
type Signer interface {
	SignBid(ctx context.Context, bid *gloas.ExecutionPayloadBid) (gloas.BLSSignature, error)
	SignProposerPreferences(ctx context.Context, prefs *gloas.ProposerPreferences) (gloas.BLSSignature, error)
}

// BidParams carries everything the driver needs to assemble one bid.
type BidParams struct {
	Slot               primitives.Slot
	BuilderIndex       primitives.BuilderIndex
	ParentBlockHash    gloas.ExecutionBlockHash
	ParentBlockRoot    gloas.Root
	BlockHash          gloas.ExecutionBlockHash
	FeeRecipient       [20]byte
	GasLimit           uint64
	PrevRandao         [32]byte
	Value              uint64
	ExecutionPayment   uint64
	BlobKzgCommitments [][48]byte
}

// Driver submits bids for one builder identity. RecentBids dedupes resubmission within a
// slot: a second SubmitBid call for the same slot is a no-op unless force is set.
type Driver struct {
	Client     BeaconNodeClient
	Signer     Signer
	RecentBids *cache.BuilderBidCache
}

// SubmitBid assembles, signs, and posts a bid. It returns the signed bid on success so
// callers can hold it for the envelope-reveal step. A bid already submitted for this slot
// short-circuits unless force is set.
func (d *Driver) SubmitBid(ctx context.Context, p *BidParams, force bool) (*gloas.SignedExecutionPayloadBid, error) {
	if !force && d.RecentBids != nil {
		if prev, ok := d.RecentBids.Get(p.Slot); ok {
			log.WithField("slot", p.Slot).Debug("bid already submitted for slot; skipping")
			return prev, nil
		}
	}

	bid := &gloas.ExecutionPayloadBid{
		ParentBlockHash:    p.ParentBlockHash,
		ParentBlockRoot:    p.ParentBlockRoot,
		BlockHash:          p.BlockHash,
		FeeRecipient:       p.FeeRecipient,
		GasLimit:           p.GasLimit,
		PrevRandao:         p.PrevRandao,
		Slot:               p.Slot,
		BuilderIndex:       p.BuilderIndex,
		Value:              p.Value,
		ExecutionPayment:   p.ExecutionPayment,
		BlobKzgCommitments: p.BlobKzgCommitments,
	}

	signed := &gloas.SignedExecutionPayloadBid{Bid: bid}
	if !p.BuilderIndex.IsSelfBuild() {
		sig, err := d.Signer.SignBid(ctx, bid)
		if err != nil {
			return nil, errors.Wrap(err, "sign bid")
		}
		signed.Signature = sig
	} else {
		// Compressed BLS infinity point: compression and infinity flag bits set, all else zero.
		signed.Signature[0] = 0xc0
	}

	submissionID := uuid.NewString()
	logEntry := log.WithFields(logrus.Fields{
		"slot":          p.Slot,
		"builder_index": p.BuilderIndex,
		"value":         p.Value,
		"submission_id": submissionID,
	})
	if err := d.Client.SubmitBid(ctx, signed); err != nil {
		logEntry.WithError(err).Warn("bid submission failed")
		return nil, errors.Wrap(err, "submit bid")
	}
	logEntry.Info("bid submitted")

	if d.RecentBids != nil {
		d.RecentBids.Put(p.Slot, signed)
	}
	return signed, nil
}

// PublishProposerPreferences signs and posts the proposer's advance preferences for slot, the
// signal a builder's bid responds to.
func (d *Driver) PublishProposerPreferences(ctx context.Context, prefs *gloas.ProposerPreferences) error {
	sig, err := d.Signer.SignProposerPreferences(ctx, prefs)
	if err != nil {
		return errors.Wrap(err, "sign proposer preferences")
	}
	signed := &gloas.SignedProposerPreferences{Message: prefs, Signature: sig}
	if err := d.Client.PublishProposerPreferences(ctx, signed); err != nil {
		return errors.Wrap(err, "publish proposer preferences")
	}
	log.WithFields(logrus.Fields{
		"slot":           prefs.Slot,
		"proposer_index": prefs.ProposerIndex,
	}).Info("proposer preferences published")
	return nil
}
