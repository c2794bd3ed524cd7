package cartridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/castaway/internal/fact"
)

type inputsMsg struct {
	Inputs []int `json:"inputs"`
}

func newTestArcade(t *testing.T, players ...string) (Actor, []int) {
	t.Helper()
	a := spawn(t, NewRegistry(Policies{}), KindArcade, Config{
		Seed:     11,
		Duration: time.Minute,
		Players:  players,
		Params:   params(t, ArcadeParams{Length: 6, Symbols: 4}),
	})
	return a, a.Snapshot().(ArcadeSnapshot).Sequence
}

func TestArcadeEmitsPerPlayerAsRunsFinish(t *testing.T) {
	a, seq := newTestArcade(t, "a", "b")
	require.Len(t, seq, 6)

	require.NoError(t, send(t, a, "a", "FINISH", t0, inputsMsg{Inputs: seq}))
	drafts := a.Drain()
	require.Equal(t, []fact.Type{fact.TypePlayerGameResult}, draftTypes(drafts))
	res := drafts[0].Payload.(fact.PlayerResultPayload)
	assert.Equal(t, "a", res.PlayerID)
	assert.Equal(t, 11, res.Silver)
	assert.Equal(t, 1, res.Gold)

	require.ErrorIs(t, send(t, a, "a", "FINISH", t0, inputsMsg{Inputs: seq}), ErrDuplicate)
	require.ErrorIs(t, send(t, a, "a", "PROGRESS", t0, inputsMsg{Inputs: seq[:1]}), ErrClosed)
	require.False(t, a.Done())

	require.NoError(t, send(t, a, "b", "PROGRESS", t0, inputsMsg{Inputs: seq[:3]}))
	require.NoError(t, send(t, a, "b", "PROGRESS", t0, inputsMsg{Inputs: seq[:2]}))
	assert.Empty(t, a.Drain())

	a.Expire(a.Deadline())
	require.True(t, a.Done())

	drafts = a.Drain()
	require.Equal(t, []fact.Type{fact.TypePlayerGameResult, fact.TypeGameResult}, draftTypes(drafts))
	partial := drafts[0].Payload.(fact.PlayerResultPayload)
	assert.Equal(t, "b", partial.PlayerID)
	assert.Equal(t, 3, partial.Silver)
	assert.Equal(t, 0, partial.Gold)

	final := drafts[1].Payload.(fact.ResultPayload)
	assert.Empty(t, final.SilverRewards)
	assert.Equal(t, 0, final.GoldContribution)

	out := a.Output()
	assert.Equal(t, map[string]int{"a": 11, "b": 3}, out.SilverRewards)
	assert.Equal(t, 1, out.GoldContribution)
	assert.True(t, out.GoldEmittedPerPlayer)
}

func TestArcadeMistakeEndsRun(t *testing.T) {
	a, seq := newTestArcade(t, "a")

	wrong := []int{seq[0], (seq[1] + 1) % 4}
	require.NoError(t, send(t, a, "a", "PROGRESS", t0, inputsMsg{Inputs: wrong}))
	require.True(t, a.Done())

	snap := a.Snapshot().(ArcadeSnapshot)
	assert.Equal(t, ArcadeRun{Score: 1, Finished: true, Failed: true}, snap.Runs["a"])
	assert.Equal(t, map[string]int{"a": 1}, a.Output().SilverRewards)
}

func TestArcadeSequenceFollowsSeed(t *testing.T) {
	_, first := newTestArcade(t, "a")
	_, again := newTestArcade(t, "b")
	assert.Equal(t, first, again)
	for _, s := range first {
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
	}
}

func TestArcadeResumesFromSettledRuns(t *testing.T) {
	a := spawn(t, NewRegistry(Policies{}), KindArcade, Config{
		Seed:     11,
		Duration: time.Minute,
		Players:  []string{"a", "b"},
		Params:   params(t, ArcadeParams{Length: 6, Symbols: 4}),
		Settled: []fact.PlayerResultPayload{
			{Kind: string(KindArcade), CartridgeID: "c1", PlayerID: "a", Score: 6, Silver: 11, Gold: 1},
			{Kind: string(KindArcade), CartridgeID: "other", PlayerID: "b", Score: 6, Silver: 11, Gold: 1},
		},
	})
	seq := a.Snapshot().(ArcadeSnapshot).Sequence

	assert.Equal(t, ArcadeRun{Score: 6, Finished: true}, a.Snapshot().(ArcadeSnapshot).Runs["a"])
	require.ErrorIs(t, send(t, a, "a", "FINISH", t0, inputsMsg{Inputs: seq}), ErrDuplicate)
	assert.Empty(t, a.Drain())

	require.NoError(t, send(t, a, "b", "FINISH", t0, inputsMsg{Inputs: seq[:2]}))
	require.True(t, a.Done())

	drafts := a.Drain()
	require.Equal(t, []fact.Type{fact.TypePlayerGameResult, fact.TypeGameResult}, draftTypes(drafts))
	assert.Equal(t, "b", drafts[0].Payload.(fact.PlayerResultPayload).PlayerID)
	final := drafts[1].Payload.(fact.ResultPayload)
	assert.Empty(t, final.SilverRewards)
	assert.Equal(t, 0, final.GoldContribution)
	assert.Equal(t, map[string]int{"a": 11, "b": 2}, a.Output().SilverRewards)
}
