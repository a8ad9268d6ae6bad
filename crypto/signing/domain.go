// Package signing computes BLS signing domains and signing roots shared across Gloas's
// signed message types.
package signing

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

// DomainType identifies the signature's purpose.
type DomainType [4]byte

var (
	// DomainBeaconBuilder signs builder bids and execution payload envelopes.
	DomainBeaconBuilder = DomainType{0x0a, 0x00, 0x00, 0x00}
	// DomainPTCAttester signs aggregated payload attestations.
	DomainPTCAttester = DomainType{0x0b, 0x00, 0x00, 0x00}
	// DomainProposerPreferences signs the proposer-preferences message.
	DomainProposerPreferences = DomainType{0x0c, 0x00, 0x00, 0x00}
)

// Fork carries the two fork versions relevant to domain computation at a given epoch.
type Fork struct {
	Epoch           primitives.Epoch
	PreviousVersion [4]byte
	CurrentVersion  [4]byte
}

// ForkVersion returns the version active at the given epoch.
func (f *Fork) ForkVersion(epoch primitives.Epoch) [4]byte {
	if epoch < f.Epoch {
		return f.PreviousVersion
	}
	return f.CurrentVersion
}

// ComputeForkDataRoot hashes (version padded to a 32-byte chunk || genesisValidatorsRoot), the
// standard ForkData SSZ container root.
func ComputeForkDataRoot(version [4]byte, genesisValidatorsRoot [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[0:4], version[:])
	copy(buf[32:64], genesisValidatorsRoot[:])
	return sha256.Sum256(buf)
}

// Domain computes the signing domain for domainType at epoch, under fork and
// genesisValidatorsRoot.
func Domain(fork *Fork, epoch primitives.Epoch, domainType DomainType, genesisValidatorsRoot []byte) ([32]byte, error) {
	version := fork.ForkVersion(epoch)
	var root [32]byte
	copy(root[:], genesisValidatorsRoot)
	forkDataRoot := ComputeForkDataRoot(version, root)
	var out [32]byte
	copy(out[0:4], domainType[:])
	copy(out[4:32], forkDataRoot[0:28])
	return out, nil
}

// ComputeSigningRoot mixes a message root with a domain to produce the root actually signed,
// the standard SigningData(object_root, domain) SSZ container.
func ComputeSigningRoot(objectRoot [32]byte, domain [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, objectRoot[:]...)
	buf = append(buf, domain[:]...)
	return sha256.Sum256(buf)
}

// uint64LE is a small helper kept local to avoid reaching into consensus-types/gloas for a
// single conversion.
func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
