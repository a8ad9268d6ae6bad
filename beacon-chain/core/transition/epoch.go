// Package transition runs the single-pass epoch transition: every per-validator update in one
// sweep over the registry, with the Gloas builder-payment rotation dispatched at its fixed
// position between pending-deposit processing and effective-balance finalization.
package transition

import (
	"github.com/pkg/errors"

	"github.com/prysmaticlabs/gloas-epbs/config/params"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/gloas"
)

// Flags selects which sub-processes run. Production always passes AllUpdates; tests enable
// individual stages to exercise one in isolation.
type Flags uint

const (
	InactivityUpdates Flags = 1 << iota
	RewardsAndPenalties
	RegistryUpdates
	Slashings
	PendingDeposits
	BuilderPendingPayments
	EffectiveBalanceUpdates

	// AllUpdates enables every stage.
	AllUpdates = InactivityUpdates | RewardsAndPenalties | RegistryUpdates | Slashings |
		PendingDeposits | BuilderPendingPayments | EffectiveBalanceUpdates
)

// Hooks carries the per-validator update callbacks for the stages whose state this core does
// not model directly (inactivity scores, reward accounting, registry churn live with the full
// state implementation). A nil hook makes its stage a no-op even when its flag is set.
type Hooks struct {
	InactivityUpdate    func(state *gloas.BeaconStateGloas, idx int) error
	RewardsAndPenalties func(state *gloas.BeaconStateGloas, idx int) error
	RegistryUpdate      func(state *gloas.BeaconStateGloas, idx int) error
	Slashing            func(state *gloas.BeaconStateGloas, idx int) error
	PendingDeposits     func(state *gloas.BeaconStateGloas) error
	EffectiveBalance    func(state *gloas.BeaconStateGloas, idx int) error
}

// ProcessEpochSinglePass runs the enabled stages. Per-validator stages share one sweep over
// the balance registry; the whole-state stages run at their mandated positions: pending
// deposits, then (Gloas only) builder pending payments, then effective-balance finalization.
// Builder balance changes made by the payment rotation are therefore visible to the
// effective-balance sweep.
func ProcessEpochSinglePass(state *gloas.BeaconStateGloas, cfg *params.BeaconChainConfig, flags Flags, hooks *Hooks, gloasActive bool) error {
	if hooks == nil {
		hooks = &Hooks{}
	}

	for idx := range state.ValidatorBalances {
		if flags&InactivityUpdates != 0 && hooks.InactivityUpdate != nil {
			if err := hooks.InactivityUpdate(state, idx); err != nil {
				return errors.Wrap(err, "inactivity update")
			}
		}
		if flags&RewardsAndPenalties != 0 && hooks.RewardsAndPenalties != nil {
			if err := hooks.RewardsAndPenalties(state, idx); err != nil {
				return errors.Wrap(err, "rewards and penalties")
			}
		}
		if flags&RegistryUpdates != 0 && hooks.RegistryUpdate != nil {
			if err := hooks.RegistryUpdate(state, idx); err != nil {
				return errors.Wrap(err, "registry update")
			}
		}
		if flags&Slashings != 0 && hooks.Slashing != nil {
			if err := hooks.Slashing(state, idx); err != nil {
				return errors.Wrap(err, "slashing")
			}
		}
	}

	if flags&PendingDeposits != 0 && hooks.PendingDeposits != nil {
		if err := hooks.PendingDeposits(state); err != nil {
			return errors.Wrap(err, "pending deposits")
		}
	}

	if flags&BuilderPendingPayments != 0 && gloasActive {
		if err := processBuilderPendingPayments(state, cfg); err != nil {
			return errors.Wrap(err, "builder pending payments")
		}
	}

	if flags&EffectiveBalanceUpdates != 0 && hooks.EffectiveBalance != nil {
		for idx := range state.ValidatorBalances {
			if err := hooks.EffectiveBalance(state, idx); err != nil {
				return errors.Wrap(err, "effective balance update")
			}
		}
	}
	return nil
}

// processBuilderPendingPayments promotes current-epoch payments whose PTC weight reached
// quorum into builder_pending_withdrawals, then rotates the next-epoch buffer into the
// current-epoch window. Quorum is 6/10ths of one slot's worth of total active balance.
func processBuilderPendingPayments(state *gloas.BeaconStateGloas, cfg *params.BeaconChainConfig) error {
	slotsPerEpoch := int(cfg.SlotsPerEpoch)
	if len(state.BuilderPendingPayments) != 2*slotsPerEpoch {
		return errors.Errorf("builder_pending_payments has %d entries, want %d", len(state.BuilderPendingPayments), 2*slotsPerEpoch)
	}

	quorum := paymentQuorum(totalActiveBalance(state), cfg)
	for i := 0; i < slotsPerEpoch; i++ {
		payment := state.BuilderPendingPayments[i]
		if payment.Withdrawal.Amount == 0 {
			continue
		}
		if payment.Weight >= quorum {
			state.BuilderPendingWithdrawals = append(state.BuilderPendingWithdrawals, payment.Withdrawal)
		}
	}

	copy(state.BuilderPendingPayments[:slotsPerEpoch], state.BuilderPendingPayments[slotsPerEpoch:])
	for i := slotsPerEpoch; i < 2*slotsPerEpoch; i++ {
		state.BuilderPendingPayments[i] = gloas.BuilderPendingPayment{}
	}
	return nil
}

// paymentQuorum computes (total_active_balance / SLOTS_PER_EPOCH) * numerator / denominator.
func paymentQuorum(totalActive uint64, cfg *params.BeaconChainConfig) uint64 {
	perSlot := totalActive / cfg.SlotsPerEpoch
	return perSlot * cfg.BuilderPendingPaymentQuorumNumerator / cfg.BuilderPendingPaymentQuorumDenominator
}

func totalActiveBalance(state *gloas.BeaconStateGloas) uint64 {
	var total uint64
	for _, b := range state.ValidatorBalances {
		total += b
	}
	return total
}
