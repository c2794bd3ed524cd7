package cartridge

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const maxPromptAnswer = 280

// PromptParams is the social prompt shown to everyone.
type PromptParams struct {
	Text string `json:"text"`
}

// PromptSnapshot is the full context of a prompt. Entries lists authors in
// the seeded display order; their position is the anonymous reference.
type PromptSnapshot struct {
	State    State             `json:"state"`
	Deadline time.Time         `json:"deadline"`
	Text     string            `json:"text"`
	Players  []string          `json:"players"`
	Answers  map[string]string `json:"answers"`
	Entries  []string          `json:"entries,omitempty"`
	Votes    map[string]int    `json:"votes"`
	Counts   []int             `json:"counts,omitempty"`
	Winners  []string          `json:"winners,omitempty"`
}

type promptActor struct {
	base
	policy  PromptPolicy
	text    string
	answers *decisions[string]
	entries []string
	votes   *decisions[int]
	counts  []int
	winners []string
}

func newPrompt(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 2); err != nil {
		return nil, err
	}
	var params PromptParams
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("%w: prompt text is required", ErrInvalidConfig)
	}
	return &promptActor{
		base:    newBase(KindPrompt, cfg, StateCollecting),
		policy:  p.Prompt,
		text:    params.Text,
		answers: newDecisions[string](cfg.Players),
		votes:   newDecisions[int](cfg.Players),
	}, nil
}

func (a *promptActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}

	switch ev.Action {
	case "ANSWER":
		if a.state != StateCollecting {
			return ErrClosed
		}
		var msg struct {
			Text string `json:"text"`
		}
		if err := decodePayload(ev.Payload, &msg); err != nil {
			return err
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" || utf8.RuneCountInString(text) > maxPromptAnswer {
			return ErrInvalidAction
		}
		if err := a.answers.submit(ev.Sender, text); err != nil {
			return err
		}
		if a.answers.complete() {
			a.openVoting(ev.At)
		}
		return nil

	case "VOTE":
		if a.state != StateVoting {
			return ErrClosed
		}
		var msg struct {
			Entry int `json:"entry"`
		}
		if err := decodePayload(ev.Payload, &msg); err != nil {
			return err
		}
		if msg.Entry < 0 || msg.Entry >= len(a.entries) || a.entries[msg.Entry] == ev.Sender {
			return ErrInvalidAction
		}
		if err := a.votes.submit(ev.Sender, msg.Entry); err != nil {
			return err
		}
		if a.votes.complete() {
			a.resolve()
		}
		return nil
	}

	return ErrUnknownAction
}

func (a *promptActor) Expire(now time.Time) {
	switch a.state {
	case StateCollecting:
		a.openVoting(now)
	case StateVoting:
		a.resolve()
	}
}

func (a *promptActor) Cancel(time.Time) { a.resolve() }

// openVoting shuffles the answers into anonymous entries. With fewer than
// two answers there is nothing to vote on and the prompt resolves.
func (a *promptActor) openVoting(now time.Time) {
	if a.state != StateCollecting {
		return
	}
	a.entries = append([]string(nil), a.answers.order...)
	a.rng.Shuffle(len(a.entries), func(i, j int) {
		a.entries[i], a.entries[j] = a.entries[j], a.entries[i]
	})
	if len(a.entries) < 2 {
		a.resolve()
		return
	}
	a.state = StateVoting
	a.deadline = now.Add(a.policy.VoteWindow)
}

func (a *promptActor) resolve() {
	if a.done {
		return
	}

	a.counts = make([]int, len(a.entries))
	for _, idx := range a.votes.byPlayer {
		a.counts[idx]++
	}
	top := 0
	for _, n := range a.counts {
		top = max(top, n)
	}

	rewards := make(map[string]int, a.answers.count())
	for author := range a.answers.byPlayer {
		rewards[author] = a.policy.Participation
	}
	if top > 0 {
		for i, n := range a.counts {
			if n == top {
				a.winners = append(a.winners, a.entries[i])
				rewards[a.entries[i]] += a.policy.WinnerBonus
			}
		}
	}

	a.finish(Output{
		SilverRewards: rewards,
		Summary: map[string]any{
			"text":    a.text,
			"winners": append([]string(nil), a.winners...),
		},
	})
}

func (a *promptActor) Snapshot() any {
	s := PromptSnapshot{
		State:    a.state,
		Deadline: a.deadline,
		Text:     a.text,
		Players:  append([]string(nil), a.players...),
		Answers:  a.answers.copyMap(),
		Entries:  append([]string(nil), a.entries...),
		Votes:    a.votes.copyMap(),
		Winners:  append([]string(nil), a.winners...),
	}
	if a.counts != nil {
		s.Counts = append([]int(nil), a.counts...)
	}
	return s
}
