package cartridge

import "time"

// Policies are the injectable reward formulas. Zero-valued fields fall back
// to the defaults below.
type Policies struct {
	Vote    VotePolicy
	Auction AuctionPolicy
	Poll    PollPolicy
	Prompt  PromptPolicy
	Trivia  TriviaPolicy
	Arcade  ArcadePolicy
}

type VotePolicy struct {
	// Participation is paid to every player who cast a vote.
	Participation int
	// SpareOnNoVotes keeps everyone in when nobody voted.
	SpareOnNoVotes bool
}

type AuctionPolicy struct {
	// Cost returns what a slot winner pays given their bid and the number
	// of bidders on the slot.
	Cost func(bid, bidders int) int
	// Gold converts the silver spent in the auction into pool gold.
	Gold func(spent int) int
}

type PollPolicy struct {
	Participation int
	MajorityBonus int
}

type PromptPolicy struct {
	Participation int
	// WinnerBonus is paid to the author(s) of the most voted answer.
	WinnerBonus int
	// VoteWindow is how long the anonymous voting stage lasts.
	VoteWindow time.Duration
}

type TriviaPolicy struct {
	// Score returns the points for one answer given how long the player
	// took out of the round window. Missed rounds are scored as wrong
	// answers at the full window.
	Score func(correct bool, elapsed, window time.Duration) int
	// Gold converts the number of correct answers into pool gold.
	Gold func(correct int) int
}

type ArcadePolicy struct {
	// Silver returns the reward for reproducing score of length symbols.
	Silver func(score, length int) int
	// Gold is emitted alongside each player's silver.
	Gold func(score, length int) int
}

// DefaultTriviaScore pays 10 for a correct answer plus up to 5 for speed.
func DefaultTriviaScore(correct bool, elapsed, window time.Duration) int {
	if !correct {
		return 0
	}
	if window <= 0 {
		return 10
	}
	remaining := max(window-elapsed, 0)
	return 10 + int(5*remaining/window)
}

// DefaultAuctionCost charges the bid, except a sole bidder wins for free.
func DefaultAuctionCost(bid, bidders int) int {
	if bidders <= 1 {
		return 0
	}
	return bid
}

func (p Policies) withDefaults() Policies {
	if p.Vote.Participation == 0 {
		p.Vote.Participation = 2
	}
	if p.Auction.Cost == nil {
		p.Auction.Cost = DefaultAuctionCost
	}
	if p.Auction.Gold == nil {
		p.Auction.Gold = func(spent int) int { return spent / 2 }
	}
	if p.Poll.Participation == 0 {
		p.Poll.Participation = 1
	}
	if p.Poll.MajorityBonus == 0 {
		p.Poll.MajorityBonus = 2
	}
	if p.Prompt.Participation == 0 {
		p.Prompt.Participation = 2
	}
	if p.Prompt.WinnerBonus == 0 {
		p.Prompt.WinnerBonus = 5
	}
	if p.Prompt.VoteWindow == 0 {
		p.Prompt.VoteWindow = 60 * time.Second
	}
	if p.Trivia.Score == nil {
		p.Trivia.Score = DefaultTriviaScore
	}
	if p.Trivia.Gold == nil {
		p.Trivia.Gold = func(correct int) int { return correct / 2 }
	}
	if p.Arcade.Silver == nil {
		p.Arcade.Silver = func(score, length int) int {
			if length > 0 && score == length {
				return score + 5
			}
			return score
		}
	}
	if p.Arcade.Gold == nil {
		p.Arcade.Gold = func(score, length int) int {
			if length > 0 && score == length {
				return 1
			}
			return 0
		}
	}
	return p
}
