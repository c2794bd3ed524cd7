package cartridge

import (
	"fmt"
	"time"
)

// PollParams is the question and its options.
type PollParams struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// PollSnapshot is the full context of a poll.
type PollSnapshot struct {
	State    State          `json:"state"`
	Deadline time.Time      `json:"deadline"`
	Question string         `json:"question"`
	Options  []string       `json:"options"`
	Players  []string       `json:"players"`
	Choices  map[string]int `json:"choices"`
	Counts   []int          `json:"counts,omitempty"`
}

type pollActor struct {
	base
	policy   PollPolicy
	question string
	options  []string
	choices  *decisions[int]
	counts   []int
}

func newPoll(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 1); err != nil {
		return nil, err
	}
	var params PollParams
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}
	if params.Question == "" || len(params.Options) < 2 {
		return nil, fmt.Errorf("%w: poll needs a question and two options", ErrInvalidConfig)
	}
	return &pollActor{
		base:     newBase(KindPoll, cfg, StateCollecting),
		policy:   p.Poll,
		question: params.Question,
		options:  append([]string(nil), params.Options...),
		choices:  newDecisions[int](cfg.Players),
	}, nil
}

func (a *pollActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}
	if ev.Action != "CHOOSE" {
		return ErrUnknownAction
	}

	var msg struct {
		Option int `json:"option"`
	}
	if err := decodePayload(ev.Payload, &msg); err != nil {
		return err
	}
	if msg.Option < 0 || msg.Option >= len(a.options) {
		return ErrInvalidAction
	}
	if err := a.choices.submit(ev.Sender, msg.Option); err != nil {
		return err
	}

	if a.choices.complete() {
		a.resolve()
	}
	return nil
}

func (a *pollActor) Expire(time.Time) { a.resolve() }
func (a *pollActor) Cancel(time.Time) { a.resolve() }

func (a *pollActor) resolve() {
	if a.done {
		return
	}

	a.counts = make([]int, len(a.options))
	for _, opt := range a.choices.byPlayer {
		a.counts[opt]++
	}
	top := 0
	for _, n := range a.counts {
		top = max(top, n)
	}

	rewards := make(map[string]int, a.choices.count())
	for player, opt := range a.choices.byPlayer {
		rewards[player] = a.policy.Participation
		if top > 0 && a.counts[opt] == top {
			rewards[player] += a.policy.MajorityBonus
		}
	}

	a.finish(Output{
		SilverRewards: rewards,
		Summary: map[string]any{
			"question": a.question,
			"counts":   append([]int(nil), a.counts...),
		},
	})
}

func (a *pollActor) Snapshot() any {
	s := PollSnapshot{
		State:    a.state,
		Deadline: a.deadline,
		Question: a.question,
		Options:  append([]string(nil), a.options...),
		Players:  append([]string(nil), a.players...),
		Choices:  a.choices.copyMap(),
	}
	if a.counts != nil {
		s.Counts = append([]int(nil), a.counts...)
	}
	return s
}
