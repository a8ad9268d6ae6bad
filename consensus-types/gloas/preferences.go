package gloas

import "github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"

// ProposerPreferences is the proposer's advance signal to builders: the slot it will propose
// for, the fee recipient it wants paid, and the gas limit it will accept in a bid.
type ProposerPreferences struct {
	ProposerIndex primitives.ValidatorIndex
	Slot          primitives.Slot
	FeeRecipient  [20]byte
	GasLimit      uint64
}

// SignedProposerPreferences wraps preferences with the proposer's signature under the
// ProposerPreferences domain.
type SignedProposerPreferences struct {
	Message   *ProposerPreferences
	Signature BLSSignature
}

// ExecutionProof is the subnet-gossiped proof object accompanying an execution payload. Its
// contents are opaque to the consensus layer; only the subnet routing key and the payload's
// block hash are interpreted here.
type ExecutionProof struct {
	BlockHash ExecutionBlockHash
	SubnetId  uint64
	Proof     []byte
}
