package duties

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/gloas-epbs/beacon-chain/cache"
	"github.com/prysmaticlabs/gloas-epbs/consensus-types/primitives"
)

type mockClient struct {
	calls int
	fail  map[primitives.Epoch]bool
}

func (m *mockClient) PTCDuties(ctx context.Context, epoch primitives.Epoch, validators []primitives.ValidatorIndex) ([]cache.PtcDutyData, error) {
	m.calls++
	if m.fail[epoch] {
		return nil, errors.New("bn unavailable")
	}
	out := make([]cache.PtcDutyData, len(validators))
	for i, v := range validators {
		out[i] = cache.PtcDutyData{ValidatorIndex: v, Slot: primitives.Slot(uint64(epoch) * 32)}
	}
	return out, nil
}

// Before the Gloas fork epoch the poller issues no requests at all.
func TestPollPTCDuties_PreGloas(t *testing.T) {
	forkEpoch := primitives.Epoch(10)
	client := &mockClient{}
	p := &Poller{
		Cache:           cache.NewPtcDutiesCache(),
		Client:          client,
		LocalValidators: func() []primitives.ValidatorIndex { return []primitives.ValidatorIndex{1, 2} },
		SlotsPerEpoch:   32,
		GloasForkEpoch:  &forkEpoch,
	}

	err := p.PollPTCDuties(context.Background(), primitives.Slot(10))
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
	require.False(t, p.Cache.HasDutiesForEpoch(0))
}

func TestPollPTCDuties_UnsetForkEpoch(t *testing.T) {
	client := &mockClient{}
	p := &Poller{
		Cache:           cache.NewPtcDutiesCache(),
		Client:          client,
		LocalValidators: func() []primitives.ValidatorIndex { return []primitives.ValidatorIndex{1} },
		SlotsPerEpoch:   32,
		GloasForkEpoch:  nil,
	}
	require.NoError(t, p.PollPTCDuties(context.Background(), primitives.Slot(320)))
	require.Equal(t, 0, client.calls)
}

func TestPollPTCDuties_FetchesCurrentAndNext(t *testing.T) {
	forkEpoch := primitives.Epoch(0)
	client := &mockClient{}
	p := &Poller{
		Cache:           cache.NewPtcDutiesCache(),
		Client:          client,
		LocalValidators: func() []primitives.ValidatorIndex { return []primitives.ValidatorIndex{5} },
		SlotsPerEpoch:   32,
		GloasForkEpoch:  &forkEpoch,
	}
	require.NoError(t, p.PollPTCDuties(context.Background(), primitives.Slot(64)))
	require.Equal(t, 2, client.calls)
	require.True(t, p.Cache.HasDutiesForEpoch(2))
	require.True(t, p.Cache.HasDutiesForEpoch(3))

	// A second call in the same epoch should not refetch already-known epochs.
	require.NoError(t, p.PollPTCDuties(context.Background(), primitives.Slot(65)))
	require.Equal(t, 2, client.calls)
}

func TestPollPTCDuties_BNErrorIsNonFatal(t *testing.T) {
	forkEpoch := primitives.Epoch(0)
	client := &mockClient{fail: map[primitives.Epoch]bool{0: true}}
	p := &Poller{
		Cache:           cache.NewPtcDutiesCache(),
		Client:          client,
		LocalValidators: func() []primitives.ValidatorIndex { return []primitives.ValidatorIndex{5} },
		SlotsPerEpoch:   32,
		GloasForkEpoch:  &forkEpoch,
	}
	err := p.PollPTCDuties(context.Background(), primitives.Slot(0))
	require.NoError(t, err)
	require.False(t, p.Cache.HasDutiesForEpoch(0))
	require.True(t, p.Cache.HasDutiesForEpoch(1))
}
