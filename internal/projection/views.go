package projection

import (
	"time"

	"github.com/Seednode/castaway/internal/cartridge"
)

// VoteView hides every ballot but the viewer's own until the reveal.
type VoteView struct {
	Candidates []string       `json:"candidates"`
	CanVote    bool           `json:"canVote"`
	Voters     int            `json:"voters"`
	Submitted  int            `json:"submitted"`
	YourVote   string         `json:"yourVote,omitempty"`
	Tally      map[string]int `json:"tally,omitempty"`
	Eliminated string         `json:"eliminated,omitempty"`
}

func projectVote(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.VoteSnapshot)
	if !ok {
		return nil, false
	}
	v := VoteView{
		Candidates: s.Candidates,
		CanVote:    contains(s.Voters, viewer),
		Voters:     len(s.Voters),
		Submitted:  len(s.Votes),
		YourVote:   s.Votes[viewer],
	}
	if s.State == cartridge.StateRevealed {
		v.Tally = s.Tally
		v.Eliminated = s.Eliminated
	}
	return v, true
}

// AuctionView shows the viewer's own bid and how many bids are in, never
// the amount or slot of anyone else's bid before resolution.
type AuctionView struct {
	Slots     []cartridge.AuctionSlot `json:"slots"`
	Bidders   int                     `json:"bidders"`
	Submitted int                     `json:"submitted"`
	YourBid   *cartridge.Bid          `json:"yourBid,omitempty"`
	Results   []cartridge.SlotResult  `json:"results,omitempty"`
}

func projectAuction(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.AuctionSnapshot)
	if !ok {
		return nil, false
	}
	v := AuctionView{
		Slots:     s.Slots,
		Bidders:   len(s.Players),
		Submitted: len(s.Bids),
	}
	if bid, ok := s.Bids[viewer]; ok {
		v.YourBid = &bid
	}
	if s.State == cartridge.StateRevealed {
		v.Results = s.Results
	}
	return v, true
}

type PollView struct {
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Submitted  int      `json:"submitted"`
	YourChoice *int     `json:"yourChoice,omitempty"`
	Counts     []int    `json:"counts,omitempty"`
}

func projectPoll(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.PollSnapshot)
	if !ok {
		return nil, false
	}
	v := PollView{
		Question:  s.Question,
		Options:   s.Options,
		Submitted: len(s.Choices),
	}
	if c, ok := s.Choices[viewer]; ok {
		v.YourChoice = &c
	}
	if s.State == cartridge.StateRevealed {
		v.Counts = s.Counts
	}
	return v, true
}

// PromptEntry is an answer referenced only by its index. Author and Votes
// are filled in once the prompt is revealed.
type PromptEntry struct {
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Mine   bool   `json:"mine,omitempty"`
	Author string `json:"author,omitempty"`
	Votes  int    `json:"votes,omitempty"`
}

type PromptView struct {
	Text       string        `json:"text"`
	Players    int           `json:"players"`
	Answered   int           `json:"answered"`
	YourAnswer string        `json:"yourAnswer,omitempty"`
	Entries    []PromptEntry `json:"entries,omitempty"`
	VotesCast  int           `json:"votesCast"`
	YourVote   *int          `json:"yourVote,omitempty"`
	Winners    []string      `json:"winners,omitempty"`
}

func projectPrompt(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.PromptSnapshot)
	if !ok {
		return nil, false
	}
	v := PromptView{
		Text:       s.Text,
		Players:    len(s.Players),
		Answered:   len(s.Answers),
		YourAnswer: s.Answers[viewer],
		VotesCast:  len(s.Votes),
	}
	if idx, ok := s.Votes[viewer]; ok {
		v.YourVote = &idx
	}

	revealed := s.State == cartridge.StateRevealed
	// Answers stay private while they are being collected.
	if s.State == cartridge.StateVoting || revealed {
		v.Entries = make([]PromptEntry, len(s.Entries))
		for i, author := range s.Entries {
			e := PromptEntry{
				Index: i,
				Text:  s.Answers[author],
				Mine:  author == viewer,
			}
			if revealed {
				e.Author = author
				if i < len(s.Counts) {
					e.Votes = s.Counts[i]
				}
			}
			v.Entries[i] = e
		}
	}
	if revealed {
		v.Winners = s.Winners
	}
	return v, true
}

type TriviaQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// TriviaRound is a closed round: the correct answer and everyone's points
// are public once the round is over.
type TriviaRound struct {
	Round   int               `json:"round"`
	Text    string            `json:"text"`
	Options []string          `json:"options"`
	Answer  int               `json:"answer"`
	You     *cartridge.Answer `json:"you,omitempty"`
	Points  map[string]int    `json:"points"`
}

type TriviaView struct {
	Round      int             `json:"round"`
	Rounds     int             `json:"rounds"`
	RoundStart time.Time       `json:"roundStart"`
	WindowMs   int64           `json:"windowMs"`
	Question   *TriviaQuestion `json:"question,omitempty"`
	Answered   int             `json:"answered"`
	YourChoice *int            `json:"yourChoice,omitempty"`
	History    []TriviaRound   `json:"history,omitempty"`
	Scores     map[string]int  `json:"scores"`
}

func projectTrivia(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.TriviaSnapshot)
	if !ok {
		return nil, false
	}
	v := TriviaView{
		Round:      s.Round,
		Rounds:     s.Rounds,
		RoundStart: s.RoundStart,
		WindowMs:   s.Window.Milliseconds(),
		Scores:     s.Scores,
	}

	closed := s.Round
	if s.State == cartridge.StateRevealed {
		closed = min(s.Round+1, len(s.Answers))
	} else if s.Round < len(s.Questions) {
		q := s.Questions[s.Round]
		v.Question = &TriviaQuestion{Text: q.Text, Options: q.Options}
		if s.Round < len(s.Answers) {
			current := s.Answers[s.Round]
			v.Answered = len(current)
			// The viewer's own pick is shown without its correctness.
			if a, ok := current[viewer]; ok {
				choice := a.Choice
				v.YourChoice = &choice
			}
		}
	}

	for i := 0; i < closed && i < len(s.Questions) && i < len(s.Answers); i++ {
		q := s.Questions[i]
		r := TriviaRound{
			Round:   i,
			Text:    q.Text,
			Options: q.Options,
			Answer:  q.Answer,
			Points:  make(map[string]int, len(s.Answers[i])),
		}
		for id, a := range s.Answers[i] {
			r.Points[id] = a.Points
			if id == viewer {
				mine := a
				r.You = &mine
			}
		}
		v.History = append(v.History, r)
	}
	return v, true
}

// ArcadeView exposes the seeded sequence, which every client regenerates
// anyway, plus finished scores. Unfinished runs stay private.
type ArcadeView struct {
	Seed     uint64               `json:"seed"`
	Length   int                  `json:"length"`
	Symbols  int                  `json:"symbols"`
	Sequence []int                `json:"sequence"`
	You      *cartridge.ArcadeRun `json:"you,omitempty"`
	Finished map[string]int       `json:"finished"`
}

func projectArcade(snapshot any, viewer string) (any, bool) {
	s, ok := snapshot.(cartridge.ArcadeSnapshot)
	if !ok {
		return nil, false
	}
	v := ArcadeView{
		Seed:     s.Seed,
		Length:   s.Length,
		Symbols:  s.Symbols,
		Sequence: s.Sequence,
		Finished: make(map[string]int),
	}
	if run, ok := s.Runs[viewer]; ok {
		v.You = &run
	}
	for id, run := range s.Runs {
		if run.Finished {
			v.Finished[id] = run.Score
		}
	}
	return v, true
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
