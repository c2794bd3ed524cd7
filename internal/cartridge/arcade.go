package cartridge

import (
	"fmt"
	"time"
)

// ArcadeParams shapes the seeded memory sequence players reproduce.
type ArcadeParams struct {
	Length  int `json:"length"`
	Symbols int `json:"symbols"`
}

// ArcadeRun is one player's progress.
type ArcadeRun struct {
	Score    int  `json:"score"`
	Finished bool `json:"finished"`
	Failed   bool `json:"failed,omitempty"`
}

// ArcadeSnapshot is the full context of an arcade game. The sequence is
// derived from Seed, so clients generate the same one locally.
type ArcadeSnapshot struct {
	State    State                `json:"state"`
	Deadline time.Time            `json:"deadline"`
	Players  []string             `json:"players"`
	Seed     uint64               `json:"seed"`
	Length   int                  `json:"length"`
	Symbols  int                  `json:"symbols"`
	Sequence []int                `json:"sequence"`
	Runs     map[string]ArcadeRun `json:"runs"`
}

type arcadeActor struct {
	base
	policy   ArcadePolicy
	seed     uint64
	symbols  int
	sequence []int
	runs     map[string]*ArcadeRun
	silver   map[string]int
	gold     int
}

func newArcade(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 1); err != nil {
		return nil, err
	}
	params := ArcadeParams{Length: 12, Symbols: 4}
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}
	if params.Length < 1 || params.Symbols < 2 {
		return nil, fmt.Errorf("%w: arcade needs length >= 1 and symbols >= 2", ErrInvalidConfig)
	}

	a := &arcadeActor{
		base:    newBase(KindArcade, cfg, StatePlaying),
		policy:  p.Arcade,
		seed:    cfg.Seed,
		symbols: params.Symbols,
		runs:    make(map[string]*ArcadeRun, len(cfg.Players)),
		silver:  make(map[string]int, len(cfg.Players)),
	}
	a.sequence = make([]int, params.Length)
	for i := range a.sequence {
		a.sequence[i] = a.rng.IntN(params.Symbols)
	}
	for _, id := range cfg.Players {
		a.runs[id] = &ArcadeRun{}
	}
	for _, r := range cfg.Settled {
		run, ok := a.runs[r.PlayerID]
		if !ok || run.Finished || r.CartridgeID != cfg.ID {
			continue
		}
		run.Score = r.Score
		run.Finished = true
		a.silver[r.PlayerID] = r.Silver
		a.gold += r.Gold
		a.settle(r.PlayerID, r.Silver, r.Gold)
	}
	return a, nil
}

// score returns the correct prefix length of inputs and whether inputs
// contain a wrong symbol.
func (a *arcadeActor) score(inputs []int) (int, bool) {
	for i, v := range inputs {
		if i >= len(a.sequence) || v != a.sequence[i] {
			return i, true
		}
	}
	return len(inputs), false
}

func (a *arcadeActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}
	run, ok := a.runs[ev.Sender]
	if !ok {
		return ErrIneligible
	}

	var msg struct {
		Inputs []int `json:"inputs"`
	}

	switch ev.Action {
	case "PROGRESS":
		if run.Finished {
			return ErrClosed
		}
		if err := decodePayload(ev.Payload, &msg); err != nil {
			return err
		}
		score, failed := a.score(msg.Inputs)
		run.Score = max(run.Score, score)
		if failed || score == len(a.sequence) {
			run.Failed = failed
			a.finishRun(ev.Sender)
		}

	case "FINISH":
		if run.Finished {
			return ErrDuplicate
		}
		if err := decodePayload(ev.Payload, &msg); err != nil {
			return err
		}
		score, failed := a.score(msg.Inputs)
		run.Score = max(run.Score, score)
		run.Failed = failed
		a.finishRun(ev.Sender)

	default:
		return ErrUnknownAction
	}

	a.maybeComplete()
	return nil
}

// finishRun emits the player's reward as soon as their run ends.
func (a *arcadeActor) finishRun(player string) {
	run := a.runs[player]
	run.Finished = true
	silver := a.policy.Silver(run.Score, len(a.sequence))
	gold := a.policy.Gold(run.Score, len(a.sequence))
	a.silver[player] = silver
	a.gold += gold
	a.emitPlayer(player, run.Score, silver, gold)
}

func (a *arcadeActor) maybeComplete() {
	for _, run := range a.runs {
		if !run.Finished {
			return
		}
	}
	a.complete()
}

// Expire gives unfinished players credit for their last reported progress.
func (a *arcadeActor) Expire(time.Time) { a.Cancel(time.Time{}) }

func (a *arcadeActor) Cancel(time.Time) {
	if a.done {
		return
	}
	for _, id := range a.players {
		if !a.runs[id].Finished {
			a.finishRun(id)
		}
	}
	a.complete()
}

func (a *arcadeActor) complete() {
	rewards := make(map[string]int, len(a.silver))
	for id, s := range a.silver {
		rewards[id] = s
	}
	a.finish(Output{
		SilverRewards:        rewards,
		GoldContribution:     a.gold,
		GoldEmittedPerPlayer: true,
		Summary: map[string]any{
			"length": len(a.sequence),
			"scores": a.scores(),
		},
	})
}

func (a *arcadeActor) scores() map[string]int {
	out := make(map[string]int, len(a.runs))
	for id, run := range a.runs {
		out[id] = run.Score
	}
	return out
}

func (a *arcadeActor) Snapshot() any {
	s := ArcadeSnapshot{
		State:    a.state,
		Deadline: a.deadline,
		Players:  append([]string(nil), a.players...),
		Seed:     a.seed,
		Length:   len(a.sequence),
		Symbols:  a.symbols,
		Sequence: append([]int(nil), a.sequence...),
		Runs:     make(map[string]ArcadeRun, len(a.runs)),
	}
	for id, run := range a.runs {
		s.Runs[id] = *run
	}
	return s
}
