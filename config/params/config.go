// Package params exposes the beacon chain configuration consumed by the Gloas ePBS core as a
// single snapshot returned through a package-level accessor, with an override hook for tests.
package params

import "sync"

// BeaconChainConfig carries the constants the ePBS core needs. Only the subset relevant to
// this module's components is modeled; a production config would carry the full spec.
type BeaconChainConfig struct {
	SlotsPerEpoch          uint64
	SlotsPerHistoricalRoot uint64
	SecondsPerSlot         uint64

	// Gloas / ePBS.
	GloasForkEpoch              uint64
	PTCSize                     uint64
	MaxBuilderPendingPayments   uint64 // 2 * SlotsPerEpoch
	PayloadAttestationDueMillis uint64

	// Builder economics.
	BuilderPendingPaymentQuorumNumerator   uint64 // 6
	BuilderPendingPaymentQuorumDenominator uint64 // 10

	// Custody (validator-custody context).
	ValidatorCustodyRequirement       uint64
	BalancePerAdditionalCustodyGroup  uint64 // Gwei
	NumberOfCustodyGroups             uint64
	CustodyRequirement                uint64 // default node-level floor, pre-registration
	SamplesPerSlot                    uint64
	ValidatorRegistrationExpirySlots  uint64
	CustodyDelaySecondsNumerator      uint64 // 30
	DataColumnSidecarSubnetCount      uint64

	// SELF_BUILD sentinel for bid.BuilderIndex.
	SelfBuildBuilderIndex uint64
}

// Mainnet returns the canonical mainnet-shaped configuration used by this module's tests and
// default wiring. Values for non-ePBS constants follow the public mainnet preset; ePBS
// constants follow the Gloas fork parameters.
func Mainnet() *BeaconChainConfig {
	return &BeaconChainConfig{
		SlotsPerEpoch:          32,
		SlotsPerHistoricalRoot: 8192,
		SecondsPerSlot:         12,

		GloasForkEpoch:              1 << 32, // unset by default; callers override.
		PTCSize:                     512,
		MaxBuilderPendingPayments:   64, // 2 * 32
		PayloadAttestationDueMillis: 9000,

		BuilderPendingPaymentQuorumNumerator:   6,
		BuilderPendingPaymentQuorumDenominator: 10,

		ValidatorCustodyRequirement:      8,
		BalancePerAdditionalCustodyGroup: 32_000_000_000,
		NumberOfCustodyGroups:            128,
		CustodyRequirement:               4,
		SamplesPerSlot:                   8,
		ValidatorRegistrationExpirySlots: 256,
		CustodyDelaySecondsNumerator:     30,
		DataColumnSidecarSubnetCount:     128,

		SelfBuildBuilderIndex: ^uint64(0),
	}
}

var (
	configLock sync.RWMutex
	active     = Mainnet()
)

// BeaconConfig returns the process-wide active configuration.
func BeaconConfig() *BeaconChainConfig {
	configLock.RLock()
	defer configLock.RUnlock()
	return active
}

// OverrideBeaconConfig replaces the active configuration. Used by tests and by node startup
// to apply network-specific presets; never call this after services have started.
func OverrideBeaconConfig(cfg *BeaconChainConfig) {
	configLock.Lock()
	defer configLock.Unlock()
	active = cfg
}
