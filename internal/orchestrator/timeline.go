package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Seednode/castaway/internal/cartridge"
)

// Phase is a step of the day loop.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseActivity Phase = "ACTIVITY"
	PhaseVoting   Phase = "VOTING"
	PhaseNight    Phase = "NIGHT"
	PhaseGameOver Phase = "GAME_OVER"
)

// Plan schedules one cartridge.
type Plan struct {
	Kind     cartridge.Kind  `json:"kind"`
	Duration time.Duration   `json:"duration"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Day is what runs on one day. Activity and Social (a prompt or poll that
// keeps running through the vote) start with the ACTIVITY phase; Vote starts
// with VOTING. A nil Activity goes straight to voting.
type Day struct {
	Activity *Plan `json:"activity,omitempty"`
	Social   *Plan `json:"social,omitempty"`
	Vote     *Plan `json:"vote,omitempty"`
}

// Timeline is the phase graph policy:
// LOBBY -> [ACTIVITY -> VOTING -> NIGHT] x len(Days) -> GAME_OVER.
type Timeline struct {
	Days           []Day
	MinPlayers     int
	Finalists      int
	StartingSilver int
	// NightDuration ends the night on its own; zero waits for the host.
	NightDuration time.Duration
}

func (t Timeline) validate() error {
	if len(t.Days) == 0 {
		return errors.New("timeline has no days")
	}
	if t.MinPlayers < 2 {
		return fmt.Errorf("min players must be at least 2, got %d", t.MinPlayers)
	}
	if t.Finalists < 1 {
		return fmt.Errorf("finalists must be at least 1, got %d", t.Finalists)
	}
	if t.StartingSilver < 0 {
		return fmt.Errorf("starting silver must not be negative, got %d", t.StartingSilver)
	}
	return nil
}

// day returns the plan of day n, counting from 1.
func (t Timeline) day(n int) Day {
	if n < 1 || n > len(t.Days) {
		return Day{}
	}
	return t.Days[n-1]
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DefaultTimeline is a five day game cycling through every activity kind.
func DefaultTimeline() Timeline {
	vote := &Plan{Kind: cartridge.KindVote, Duration: 90 * time.Second}

	trivia := func(qs ...cartridge.Question) *Plan {
		return &Plan{
			Kind:     cartridge.KindTrivia,
			Duration: 15 * time.Second,
			Params:   mustJSON(cartridge.TriviaParams{Questions: qs, Rounds: 3}),
		}
	}
	prompt := func(text string) *Plan {
		return &Plan{
			Kind:     cartridge.KindPrompt,
			Duration: 2 * time.Minute,
			Params:   mustJSON(cartridge.PromptParams{Text: text}),
		}
	}
	poll := func(q string, opts ...string) *Plan {
		return &Plan{
			Kind:     cartridge.KindPoll,
			Duration: 2 * time.Minute,
			Params:   mustJSON(cartridge.PollParams{Question: q, Options: opts}),
		}
	}

	return Timeline{
		MinPlayers:     3,
		Finalists:      2,
		StartingSilver: 50,
		NightDuration:  30 * time.Second,
		Days: []Day{
			{
				Activity: trivia(
					cartridge.Question{Text: "How many days are in a leap year?", Options: []string{"364", "365", "366", "367"}, Answer: 2},
					cartridge.Question{Text: "Which planet is closest to the sun?", Options: []string{"Venus", "Mercury", "Mars"}, Answer: 1},
					cartridge.Question{Text: "What is the largest ocean?", Options: []string{"Atlantic", "Indian", "Pacific", "Arctic"}, Answer: 2},
					cartridge.Question{Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, Answer: 1},
				),
				Social: prompt("What would you bring to a deserted island?"),
				Vote:   vote,
			},
			{
				Activity: &Plan{
					Kind:     cartridge.KindAuction,
					Duration: 90 * time.Second,
					Params: mustJSON(cartridge.AuctionParams{Slots: []cartridge.AuctionSlot{
						{Prize: "Extra ration"}, {Prize: "Letter from home"}, {Prize: "Hot shower"},
					}}),
				},
				Social: poll("Who is playing the hardest game?", "The talker", "The quiet one", "The schemer"),
				Vote:   vote,
			},
			{
				Activity: &Plan{
					Kind:     cartridge.KindArcade,
					Duration: 60 * time.Second,
					Params:   mustJSON(cartridge.ArcadeParams{Length: 12, Symbols: 4}),
				},
				Social: prompt("Describe your alliance in three words."),
				Vote:   vote,
			},
			{
				Activity: trivia(
					cartridge.Question{Text: "What gas do plants absorb?", Options: []string{"Oxygen", "Carbon dioxide", "Nitrogen"}, Answer: 1},
					cartridge.Question{Text: "How many continents are there?", Options: []string{"5", "6", "7", "8"}, Answer: 2},
					cartridge.Question{Text: "What is frozen water called?", Options: []string{"Steam", "Ice", "Dew"}, Answer: 1},
				),
				Social: poll("Best strategy?", "Loyalty", "Chaos", "Hiding"),
				Vote:   vote,
			},
			{
				Activity: &Plan{
					Kind:     cartridge.KindArcade,
					Duration: 60 * time.Second,
					Params:   mustJSON(cartridge.ArcadeParams{Length: 16, Symbols: 5}),
				},
				Vote: vote,
			},
		},
	}
}
