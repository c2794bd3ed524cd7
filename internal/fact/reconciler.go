package fact

import (
	"fmt"
)

// Player is the folded state of one roster entry.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Alive  bool   `json:"alive"`
	Silver int    `json:"silver"`
	Gold   int    `json:"gold"`
}

// Economy is the fold of a session's facts: roster, balances and the shared
// gold pool.
type Economy struct {
	Players  map[string]*Player
	Order    []string
	GoldPool int
}

// NewEconomy returns the empty economy every replay starts from.
func NewEconomy() *Economy {
	return &Economy{
		Players: make(map[string]*Player),
	}
}

// Player returns the roster entry for id, or nil.
func (e *Economy) Player(id string) *Player {
	return e.Players[id]
}

// Alive returns the ids of players still in the game, in join order.
func (e *Economy) Alive() []string {
	ids := make([]string, 0, len(e.Order))
	for _, id := range e.Order {
		if p := e.Players[id]; p != nil && p.Alive {
			ids = append(ids, id)
		}
	}
	return ids
}

// Balances returns a copy of every player's silver balance.
func (e *Economy) Balances() map[string]int {
	out := make(map[string]int, len(e.Players))
	for id, p := range e.Players {
		out[id] = p.Silver
	}
	return out
}

// Clone returns a deep copy.
func (e *Economy) Clone() *Economy {
	c := &Economy{
		Players:  make(map[string]*Player, len(e.Players)),
		Order:    append([]string(nil), e.Order...),
		GoldPool: e.GoldPool,
	}
	for id, p := range e.Players {
		cp := *p
		c.Players[id] = &cp
	}
	return c
}

// Contract is the reward contract of a cartridge kind as far as the
// reconciler is concerned.
type Contract struct {
	// AllowDebit lets negative silver rewards through. The balance is still
	// floored at zero.
	AllowDebit bool
}

// Reconciler applies facts to an Economy.
type Reconciler struct {
	contract func(kind string) Contract
}

// NewReconciler returns a reconciler that looks up kind contracts with fn.
// A nil fn treats every kind as credit-only.
func NewReconciler(fn func(kind string) Contract) *Reconciler {
	if fn == nil {
		fn = func(string) Contract { return Contract{} }
	}
	return &Reconciler{contract: fn}
}

// Replay folds facts from an empty economy.
func (r *Reconciler) Replay(facts []Fact) (*Economy, error) {
	e := NewEconomy()
	for _, f := range facts {
		if err := r.Apply(e, f); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Apply folds a single fact into e.
func (r *Reconciler) Apply(e *Economy, f Fact) error {
	switch f.Type {
	case TypePlayerJoined:
		var p JoinedPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		if _, ok := e.Players[p.PlayerID]; ok {
			return nil
		}
		e.Players[p.PlayerID] = &Player{
			ID:     p.PlayerID,
			Name:   p.Name,
			Alive:  true,
			Silver: max(p.Silver, 0),
		}
		e.Order = append(e.Order, p.PlayerID)

	case TypePlayerEliminated:
		var p EliminatedPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		if pl := e.Players[p.PlayerID]; pl != nil {
			pl.Alive = false
		}

	case TypeGameResult:
		var p ResultPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		c := r.contract(p.Kind)
		for id, delta := range p.SilverRewards {
			credit(e, id, delta, c.AllowDebit)
		}
		if p.GoldContribution > 0 {
			e.GoldPool += p.GoldContribution
		}

	case TypePlayerGameResult:
		var p PlayerResultPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		credit(e, p.PlayerID, p.Silver, r.contract(p.Kind).AllowDebit)
		if p.Gold > 0 {
			e.GoldPool += p.Gold
		}

	case TypeSilverTransferred:
		var p TransferPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		from, to := e.Players[p.From], e.Players[p.To]
		if from == nil || to == nil || p.Amount <= 0 {
			return nil
		}
		amount := min(p.Amount, from.Silver)
		from.Silver -= amount
		to.Silver += amount

	case TypeWinnerDeclared:
		var p WinnerPayload
		if err := f.Decode(&p); err != nil {
			return fmt.Errorf("fact %d: %w", f.Sequence, err)
		}
		pl := e.Players[p.PlayerID]
		if pl == nil {
			return nil
		}
		gold := min(max(p.Gold, 0), e.GoldPool)
		pl.Gold += gold
		e.GoldPool -= gold

	case TypePhaseChanged:
		// timeline only

	default:
		return fmt.Errorf("fact %d: %w: %q", f.Sequence, ErrUnknownType, f.Type)
	}

	return nil
}

// credit applies a silver delta. Negative deltas are dropped unless the
// contract allows debits, and balances never go below zero.
func credit(e *Economy, id string, delta int, allowDebit bool) {
	p := e.Players[id]
	if p == nil {
		return
	}
	if delta < 0 && !allowDebit {
		return
	}
	p.Silver = max(p.Silver+delta, 0)
}
