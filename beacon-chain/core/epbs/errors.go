// Package epbs implements Gloas state-transition logic: execution-payload envelope
// processing, the builder-bid container, and the attestation committee-index guard that
// changes shape once Gloas is active.
package epbs

import "github.com/pkg/errors"

// StateRootMismatchError carries both the expected and computed post-state roots so callers
// can log the mismatch without recomputing either.
type StateRootMismatchError struct {
	Expected [32]byte
	Got      [32]byte
}

func (e *StateRootMismatchError) Error() string {
	return "invalid post-state root"
}

var (
	ErrWrongFork              = errors.New("state is not at the Gloas fork")
	ErrBlockRootUnknown       = errors.New("envelope beacon block root not known to fork choice")
	ErrSlotMismatch           = errors.New("envelope slot does not match block slot")
	ErrBuilderIndexMismatch   = errors.New("builder index does not match committed bid")
	ErrBlockHashMismatch      = errors.New("envelope payload block hash does not match committed bid")
	ErrParentHashMismatch     = errors.New("envelope payload parent hash does not match latest block hash")
	ErrTimestampMismatch      = errors.New("envelope payload timestamp does not match expected slot timestamp")
	ErrWithdrawalsMismatch    = errors.New("envelope withdrawals do not match expected withdrawals")
	ErrInvalidSignature       = errors.New("envelope signature invalid")
	ErrInvalidExecutionRequest = errors.New("invalid execution request")

	ErrBadCommitteeIndex        = errors.New("attestation committee index invalid for fork")
	ErrIncludedTooEarly         = errors.New("payload attestation included too early")
	ErrIncludedTooLate          = errors.New("payload attestation included too late")
	ErrWrongJustifiedCheckpoint = errors.New("wrong justified checkpoint")
)
