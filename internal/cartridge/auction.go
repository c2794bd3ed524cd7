package cartridge

import (
	"fmt"
	"time"
)

// AuctionParams lists the slots up for auction.
type AuctionParams struct {
	Slots []AuctionSlot `json:"slots"`
}

// AuctionSlot is one prize.
type AuctionSlot struct {
	Prize string `json:"prize"`
}

// Bid is a player's single sealed bid.
type Bid struct {
	Slot   int       `json:"slot"`
	Amount int       `json:"amount"`
	At     time.Time `json:"at"`
}

// SlotResult is the outcome of one slot. Winner is empty when nobody bid.
type SlotResult struct {
	Slot    int    `json:"slot"`
	Prize   string `json:"prize"`
	Winner  string `json:"winner,omitempty"`
	Bid     int    `json:"bid,omitempty"`
	Paid    int    `json:"paid,omitempty"`
	Bidders int    `json:"bidders"`
}

// AuctionSnapshot is the full context of a sealed-bid auction.
type AuctionSnapshot struct {
	State    State          `json:"state"`
	Deadline time.Time      `json:"deadline"`
	Players  []string       `json:"players"`
	Slots    []AuctionSlot  `json:"slots"`
	Bids     map[string]Bid `json:"bids"`
	Results  []SlotResult   `json:"results,omitempty"`
}

type auctionActor struct {
	base
	policy   AuctionPolicy
	slots    []AuctionSlot
	balances map[string]int
	bids     *decisions[Bid]
	results  []SlotResult
}

func newAuction(cfg Config, p Policies) (Actor, error) {
	if err := validateBase(cfg, 1); err != nil {
		return nil, err
	}
	var params AuctionParams
	if err := decodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}
	if len(params.Slots) == 0 {
		return nil, fmt.Errorf("%w: auction needs at least one slot", ErrInvalidConfig)
	}

	balances := make(map[string]int, len(cfg.Players))
	for _, id := range cfg.Players {
		balances[id] = cfg.Balances[id]
	}

	return &auctionActor{
		base:     newBase(KindAuction, cfg, StateCollecting),
		policy:   p.Auction,
		slots:    append([]AuctionSlot(nil), params.Slots...),
		balances: balances,
		bids:     newDecisions[Bid](cfg.Players),
	}, nil
}

func (a *auctionActor) Handle(ev Event) error {
	if a.done {
		return ErrClosed
	}
	if ev.Action != "BID" {
		return ErrUnknownAction
	}
	if !a.isPlayer(ev.Sender) {
		return ErrIneligible
	}

	var msg struct {
		Slot   int `json:"slot"`
		Amount int `json:"amount"`
	}
	if err := decodePayload(ev.Payload, &msg); err != nil {
		return err
	}
	if msg.Slot < 0 || msg.Slot >= len(a.slots) {
		return ErrInvalidAction
	}
	if msg.Amount < 1 || msg.Amount > a.balances[ev.Sender] {
		return ErrInvalidAction
	}
	if err := a.bids.submit(ev.Sender, Bid{Slot: msg.Slot, Amount: msg.Amount, At: ev.At}); err != nil {
		return err
	}

	if a.bids.complete() {
		a.resolve()
	}
	return nil
}

// Held is the open bid of player, which stays committed until the auction
// resolves.
func (a *auctionActor) Held(player string) int {
	if a.done {
		return 0
	}
	bid, ok := a.bids.byPlayer[player]
	if !ok {
		return 0
	}
	return bid.Amount
}

func (a *auctionActor) Adjust(player string, delta int) {
	if _, ok := a.balances[player]; !ok {
		return
	}
	a.balances[player] = max(a.balances[player]+delta, 0)
}

func (a *auctionActor) Expire(time.Time) { a.resolve() }
func (a *auctionActor) Cancel(time.Time) { a.resolve() }

func (a *auctionActor) resolve() {
	if a.done {
		return
	}

	a.results = make([]SlotResult, len(a.slots))
	for i, s := range a.slots {
		a.results[i] = SlotResult{Slot: i, Prize: s.Prize}
	}

	// Submission order breaks ties: the earlier of two equal bids wins.
	for _, player := range a.bids.order {
		bid := a.bids.byPlayer[player]
		r := &a.results[bid.Slot]
		r.Bidders++
		if r.Winner == "" || bid.Amount > r.Bid {
			r.Winner = player
			r.Bid = bid.Amount
		}
	}

	rewards := make(map[string]int)
	spent := 0
	for i := range a.results {
		r := &a.results[i]
		if r.Winner == "" {
			continue
		}
		r.Paid = min(a.policy.Cost(r.Bid, r.Bidders), r.Bid)
		rewards[r.Winner] -= r.Paid
		spent += r.Paid
	}

	summary := make([]SlotResult, len(a.results))
	copy(summary, a.results)
	a.finish(Output{
		SilverRewards:    rewards,
		GoldContribution: a.policy.Gold(spent),
		Summary: map[string]any{
			"slots": summary,
		},
	})
}

func (a *auctionActor) Snapshot() any {
	s := AuctionSnapshot{
		State:    a.state,
		Deadline: a.deadline,
		Players:  append([]string(nil), a.players...),
		Slots:    append([]AuctionSlot(nil), a.slots...),
		Bids:     a.bids.copyMap(),
	}
	if a.results != nil {
		s.Results = append([]SlotResult(nil), a.results...)
	}
	return s
}
