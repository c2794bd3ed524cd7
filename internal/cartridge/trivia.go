package cartridge

import (
	"fmt"
	"time"
)

// TriviaParams is the question pool. The seed decides question order and
// option order; Rounds caps how many questions are asked.
type TriviaParams struct {
	Questions []Question `json:"questions"`
	Rounds    int        `json:"rounds,omitempty"`
}

// Question is one multiple-choice question. Answer indexes Options.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Answer is a player's result for one round. Choice is -1 when the player
// did not answer before the deadline.
type Answer struct {
	Choice  int           `json:"choice"`
	Elapsed time.Duration `json:"elapsed"`
	Correct bool          `json:"correct"`
	Points  int           `json:"points"`
	Missed  bool          `json:"missed,omitempty"`
}

// TriviaSnapshot is the full context of a trivia game.
type TriviaSnapshot struct {
	State      State               `json:"state"`
	Deadline   time.Time           `json:"deadline"`
	Players    []string            `json:"players"`
	Round      int                 `json:"round"`
	Rounds     int                 `json:"rounds"`
	RoundStart time.Time           `json:"roundStart"`
	Window     time.Duration       `json:"window"`
	Questions  []Question          `json:"questions"`
	Answers    []map[string]Answer `json:"answers"`
	Scores     map[string]int      `json:"scores"`
}

type triviaActor struct {
	base
	policy     TriviaPolicy
	window     time.Duration
	questions  []Question
	round      int
	roundStart time.Time
	answers    []map[string]Answer
	scores     map[string]int
	correct    int
}

func newTrivia(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 1); err != nil {
		return nil, err
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("%w: trivia needs a round duration", ErrInvalidConfig)
	}
	var params TriviaParams
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}
	if len(params.Questions) == 0 {
		return nil, fmt.Errorf("%w: trivia needs questions", ErrInvalidConfig)
	}
	for i, q := range params.Questions {
		if len(q.Options) < 2 || q.Answer < 0 || q.Answer >= len(q.Options) {
			return nil, fmt.Errorf("%w: question %d is malformed", ErrInvalidConfig, i)
		}
	}

	a := &triviaActor{
		base:       newBase(KindTrivia, cfg, StatePlaying),
		policy:     p.Trivia,
		window:     cfg.Duration,
		roundStart: cfg.Start,
		scores:     make(map[string]int, len(cfg.Players)),
	}
	for _, id := range cfg.Players {
		a.scores[id] = 0
	}

	a.questions = a.shuffleQuestions(params.Questions)
	if params.Rounds > 0 && params.Rounds < len(a.questions) {
		a.questions = a.questions[:params.Rounds]
	}
	a.answers = []map[string]Answer{make(map[string]Answer, len(cfg.Players))}
	return a, nil
}

// shuffleQuestions reorders questions and their options with the cartridge
// PRNG, remapping each answer index.
func (a *triviaActor) shuffleQuestions(in []Question) []Question {
	out := make([]Question, len(in))
	for i, q := range in {
		perm := a.rng.Perm(len(q.Options))
		opts := make([]string, len(q.Options))
		answer := 0
		for to, from := range perm {
			opts[to] = q.Options[from]
			if from == q.Answer {
				answer = to
			}
		}
		out[i] = Question{Text: q.Text, Options: opts, Answer: answer}
	}
	a.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (a *triviaActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}
	if ev.Action != "ANSWER" {
		return ErrUnknownAction
	}
	if !a.isPlayer(ev.Sender) {
		return ErrIneligible
	}

	var msg struct {
		Round  int `json:"round"`
		Choice int `json:"choice"`
	}
	if err := decodePayload(ev.Payload, &msg); err != nil {
		return err
	}
	if msg.Round != a.round {
		return ErrClosed
	}
	q := a.questions[a.round]
	if msg.Choice < 0 || msg.Choice >= len(q.Options) {
		return ErrInvalidAction
	}
	current := a.answers[a.round]
	if _, ok := current[ev.Sender]; ok {
		return ErrDuplicate
	}

	elapsed := max(ev.At.Sub(a.roundStart), 0)
	correct := msg.Choice == q.Answer
	current[ev.Sender] = Answer{
		Choice:  msg.Choice,
		Elapsed: elapsed,
		Correct: correct,
		Points:  a.policy.Score(correct, elapsed, a.window),
	}

	if len(current) == len(a.players) {
		a.closeRound(ev.At)
	}
	return nil
}

func (a *triviaActor) Expire(now time.Time) {
	if a.done {
		return
	}
	a.closeRound(now)
}

func (a *triviaActor) Cancel(time.Time) {
	if a.done {
		return
	}
	a.tallyRound()
	a.complete()
}

// closeRound scores missing players as wrong answers at the full window,
// then starts the next round or finishes.
func (a *triviaActor) closeRound(now time.Time) {
	current := a.answers[a.round]
	for _, id := range a.players {
		if _, ok := current[id]; ok {
			continue
		}
		current[id] = Answer{
			Choice:  -1,
			Elapsed: a.window,
			Missed:  true,
			Points:  a.policy.Score(false, a.window, a.window),
		}
	}
	a.tallyRound()

	if a.round+1 >= len(a.questions) {
		a.complete()
		return
	}
	a.round++
	a.roundStart = now
	a.deadline = now.Add(a.window)
	a.answers = append(a.answers, make(map[string]Answer, len(a.players)))
}

func (a *triviaActor) tallyRound() {
	for id, ans := range a.answers[a.round] {
		a.scores[id] += ans.Points
		if ans.Correct {
			a.correct++
		}
	}
}

func (a *triviaActor) complete() {
	rewards := make(map[string]int, len(a.scores))
	for id, s := range a.scores {
		rewards[id] = s
	}
	a.finish(Output{
		SilverRewards:    rewards,
		GoldContribution: a.policy.Gold(a.correct),
		Summary: map[string]any{
			"rounds": a.round + 1,
			"scores": rewards,
		},
	})
}

func (a *triviaActor) Snapshot() any {
	s := TriviaSnapshot{
		State:      a.state,
		Deadline:   a.deadline,
		Players:    append([]string(nil), a.players...),
		Round:      a.round,
		Rounds:     len(a.questions),
		RoundStart: a.roundStart,
		Window:     a.window,
		Questions:  make([]Question, len(a.questions)),
		Answers:    make([]map[string]Answer, len(a.answers)),
		Scores:     make(map[string]int, len(a.scores)),
	}
	for i, q := range a.questions {
		s.Questions[i] = Question{Text: q.Text, Options: append([]string(nil), q.Options...), Answer: q.Answer}
	}
	for i, m := range a.answers {
		s.Answers[i] = make(map[string]Answer, len(m))
		for k, v := range m {
			s.Answers[i][k] = v
		}
	}
	for k, v := range a.scores {
		s.Scores[k] = v
	}
	return s
}
