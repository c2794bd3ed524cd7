package cartridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chooseMsg struct {
	Option int `json:"option"`
}

func TestPollPaysParticipationAndMajority(t *testing.T) {
	a := spawn(t, NewRegistry(Policies{}), KindPoll, Config{
		Players: []string{"a", "b", "c"},
		Params:  params(t, PollParams{Question: "Swim or hike?", Options: []string{"swim", "hike"}}),
	})

	require.NoError(t, send(t, a, "a", "CHOOSE", t0, chooseMsg{Option: 0}))
	require.NoError(t, send(t, a, "c", "CHOOSE", t0, chooseMsg{Option: 1}))
	require.ErrorIs(t, send(t, a, "c", "CHOOSE", t0, chooseMsg{Option: 0}), ErrDuplicate)
	require.NoError(t, send(t, a, "b", "CHOOSE", t0, chooseMsg{Option: 0}))
	require.True(t, a.Done())

	snap := a.Snapshot().(PollSnapshot)
	assert.Equal(t, []int{2, 1}, snap.Counts)
	assert.Equal(t, map[string]int{"a": 3, "b": 3, "c": 1}, a.Output().SilverRewards)
}

func TestPollTieRewardsBothSides(t *testing.T) {
	a := spawn(t, NewRegistry(Policies{Poll: PollPolicy{Participation: 1, MajorityBonus: 4}}), KindPoll, Config{
		Players: []string{"a", "b", "c"},
		Params:  params(t, PollParams{Question: "Fire?", Options: []string{"yes", "no", "maybe"}}),
	})

	require.NoError(t, send(t, a, "a", "CHOOSE", t0, chooseMsg{Option: 0}))
	require.NoError(t, send(t, a, "b", "CHOOSE", t0, chooseMsg{Option: 1}))
	a.Expire(t0)

	assert.Equal(t, map[string]int{"a": 5, "b": 5}, a.Output().SilverRewards)
}
