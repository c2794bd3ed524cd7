package cartridge

import (
	"fmt"
	"sort"
	"time"

	"github.com/Seednode/castaway/internal/fact"
)

// VoteParams restricts who can be voted out. Empty means every player.
type VoteParams struct {
	Candidates []string `json:"candidates,omitempty"`
}

// VoteSnapshot is the full context of an elimination vote.
type VoteSnapshot struct {
	State      State             `json:"state"`
	Deadline   time.Time         `json:"deadline"`
	Voters     []string          `json:"voters"`
	Candidates []string          `json:"candidates"`
	Votes      map[string]string `json:"votes"`
	Tally      map[string]int    `json:"tally,omitempty"`
	Eliminated string            `json:"eliminated,omitempty"`
}

type voteActor struct {
	base
	policy     VotePolicy
	candidates []string
	votes      *decisions[string]
	tally      map[string]int
	eliminated string
}

func newVote(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 2); err != nil {
		return nil, err
	}
	var params VoteParams
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}

	a := &voteActor{
		base:   newBase(KindVote, cfg, StateCollecting),
		policy: p.Vote,
		votes:  newDecisions[string](cfg.Players),
	}
	if len(params.Candidates) == 0 {
		a.candidates = append([]string(nil), cfg.Players...)
	} else {
		for _, c := range params.Candidates {
			if !a.isPlayer(c) {
				return nil, fmt.Errorf("%w: candidate %q is not a player", ErrInvalidConfig, c)
			}
		}
		a.candidates = append([]string(nil), params.Candidates...)
	}
	return a, nil
}

func (a *voteActor) isCandidate(id string) bool {
	for _, c := range a.candidates {
		if c == id {
			return true
		}
	}
	return false
}

func (a *voteActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}
	if ev.Action != "CAST" {
		return ErrUnknownAction
	}

	var msg struct {
		Target string `json:"target"`
	}
	if err := decodePayload(ev.Payload, &msg); err != nil {
		return err
	}
	if !a.isCandidate(msg.Target) || msg.Target == ev.Sender {
		return ErrInvalidAction
	}
	if err := a.votes.submit(ev.Sender, msg.Target); err != nil {
		return err
	}

	if a.votes.complete() {
		a.resolve(a.policy.SpareOnNoVotes)
	}
	return nil
}

func (a *voteActor) Expire(time.Time) { a.resolve(a.policy.SpareOnNoVotes) }

// Cancel counts the ballots cast so far. With none cast nobody is
// eliminated.
func (a *voteActor) Cancel(time.Time) { a.resolve(true) }

func (a *voteActor) resolve(spareEmpty bool) {
	if a.done {
		return
	}

	a.tally = make(map[string]int, len(a.candidates))
	for _, target := range a.votes.byPlayer {
		a.tally[target]++
	}

	top := 0
	for _, n := range a.tally {
		top = max(top, n)
	}
	var leaders []string
	if top > 0 || !spareEmpty {
		for _, c := range a.candidates {
			if a.tally[c] == top {
				leaders = append(leaders, c)
			}
		}
	}
	sort.Strings(leaders)

	var extra []fact.Draft
	if len(leaders) > 0 {
		a.eliminated = leaders[a.rng.IntN(len(leaders))]
		extra = append(extra, fact.Draft{
			Type: fact.TypePlayerEliminated,
			Payload: fact.EliminatedPayload{
				PlayerID:    a.eliminated,
				Day:         a.day,
				Kind:        string(a.kind),
				CartridgeID: a.id,
			},
		})
	}

	rewards := make(map[string]int, a.votes.count())
	for voter := range a.votes.byPlayer {
		rewards[voter] = a.policy.Participation
	}

	a.finish(Output{
		SilverRewards: rewards,
		Summary: map[string]any{
			"eliminated": a.eliminated,
			"tally":      a.tally,
		},
	}, extra...)
}

func (a *voteActor) Snapshot() any {
	s := VoteSnapshot{
		State:      a.state,
		Deadline:   a.deadline,
		Voters:     append([]string(nil), a.players...),
		Candidates: append([]string(nil), a.candidates...),
		Votes:      a.votes.copyMap(),
		Eliminated: a.eliminated,
	}
	if a.tally != nil {
		s.Tally = make(map[string]int, len(a.tally))
		for k, v := range a.tally {
			s.Tally[k] = v
		}
	}
	return s
}
