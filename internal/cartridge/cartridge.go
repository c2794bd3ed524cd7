// Package cartridge implements the isolated state machines that run a single
// mini-game, prompt or vote inside a session.
//
// Every kind shares one contract: it is built from a Config, accepts
// GAME.<KIND>.<ACTION> events tagged with a sender, and ends with an Output.
// Outcomes leave a cartridge only through its outbox of fact drafts, which
// the orchestrator drains after every step.
package cartridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Seednode/castaway/internal/fact"
)

// Kind is the closed set of cartridge types.
type Kind string

const (
	KindVote    Kind = "VOTE"
	KindAuction Kind = "AUCTION"
	KindPoll    Kind = "POLL"
	KindPrompt  Kind = "PROMPT"
	KindTrivia  Kind = "TRIVIA"
	KindArcade  Kind = "ARCADE"
)

// Scope is the slot a cartridge occupies in a session.
type Scope string

const (
	ScopeActivity Scope = "activity"
	ScopeVoting   Scope = "voting"
	ScopePrompt   Scope = "prompt"
	ScopePoll     Scope = "poll"
)

// Emission says when a kind's rewards reach the ledger.
type Emission int

const (
	// EmitBatch emits every reward in the terminal GAME_RESULT.
	EmitBatch Emission = iota
	// EmitPerPlayer emits a PLAYER_GAME_RESULT as each player finishes.
	EmitPerPlayer
)

// State is a cartridge lifecycle state.
type State string

const (
	StateCollecting State = "COLLECTING"
	StateVoting     State = "VOTING"
	StatePlaying    State = "PLAYING"
	StateRevealed   State = "REVEALED"
)

var (
	ErrInvalidConfig = errors.New("invalid cartridge config")
	ErrUnknownKind   = errors.New("unknown cartridge kind")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidAction = errors.New("invalid action")
	ErrIneligible    = errors.New("sender is not eligible")
	ErrDuplicate     = errors.New("already submitted")
	ErrClosed        = errors.New("submissions are closed")
)

// Event is a player action addressed to a cartridge.
type Event struct {
	Kind    Kind
	Action  string
	Sender  string
	At      time.Time
	Payload json.RawMessage
}

// ParseType splits "GAME.<KIND>.<ACTION>".
func ParseType(t string) (Kind, string, bool) {
	parts := strings.Split(t, ".")
	if len(parts) != 3 || parts[0] != "GAME" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return Kind(parts[1]), parts[2], true
}

// Config is the input a cartridge is spawned with.
type Config struct {
	ID       string
	Day      int
	Seed     uint64
	Start    time.Time
	Duration time.Duration
	// Players are the eligible participants in join order.
	Players []string
	// Balances are silver balances at spawn time.
	Balances map[string]int
	// Params holds kind-specific settings.
	Params json.RawMessage
	// Settled are the per-player results this instance emitted before a
	// restart. Kinds that emit per player resume from them.
	Settled []fact.PlayerResultPayload
}

// Output is the terminal result of a cartridge.
type Output struct {
	SilverRewards        map[string]int `json:"silverRewards"`
	GoldContribution     int            `json:"goldContribution"`
	GoldEmittedPerPlayer bool           `json:"goldEmittedPerPlayer,omitempty"`
	Summary              map[string]any `json:"summary,omitempty"`
}

// Actor is a running cartridge instance. Actors are driven by a single
// goroutine and are not safe for concurrent use.
type Actor interface {
	ID() string
	Kind() Kind
	State() State
	// Deadline is the next instant Expire must be called at; zero for none.
	Deadline() time.Time
	Handle(ev Event) error
	Expire(now time.Time)
	// Cancel ends the cartridge early with partial credit.
	Cancel(now time.Time)
	Done() bool
	Output() Output
	// Drain returns and clears the pending fact drafts.
	Drain() []fact.Draft
	// Snapshot returns a copy of the private context for projection.
	Snapshot() any
}

// Escrow is implemented by kinds that hold silver players have committed
// but not yet paid.
type Escrow interface {
	// Held is the silver player has committed.
	Held(player string) int
	// Adjust tells the cartridge player's balance moved by delta since spawn.
	Adjust(player string, delta int)
}

// base carries the bookkeeping every kind shares.
type base struct {
	id       string
	kind     Kind
	day      int
	state    State
	deadline time.Time
	players  []string
	rng      *rand.Rand

	outbox      []fact.Draft
	output      Output
	done        bool
	emitted     map[string]int
	emittedGold int
}

func newBase(kind Kind, cfg Config, state State) base {
	b := base{
		id:      cfg.ID,
		kind:    kind,
		day:     cfg.Day,
		state:   state,
		players: append([]string(nil), cfg.Players...),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		emitted: make(map[string]int),
	}
	if cfg.Duration > 0 {
		b.deadline = cfg.Start.Add(cfg.Duration)
	}
	return b
}

func (b *base) ID() string          { return b.id }
func (b *base) Kind() Kind          { return b.kind }
func (b *base) State() State        { return b.state }
func (b *base) Deadline() time.Time { return b.deadline }
func (b *base) Done() bool          { return b.done }
func (b *base) Output() Output      { return b.output }

func (b *base) Drain() []fact.Draft {
	out := b.outbox
	b.outbox = nil
	return out
}

func (b *base) isPlayer(id string) bool {
	for _, p := range b.players {
		if p == id {
			return true
		}
	}
	return false
}

// emitPlayer queues a per-player reward ahead of the terminal result.
func (b *base) emitPlayer(player string, score, silver, gold int) {
	b.settle(player, silver, gold)
	b.outbox = append(b.outbox, fact.Draft{
		Type: fact.TypePlayerGameResult,
		Payload: fact.PlayerResultPayload{
			Kind:        string(b.kind),
			CartridgeID: b.id,
			Day:         b.day,
			PlayerID:    player,
			Score:       score,
			Silver:      silver,
			Gold:        gold,
		},
	})
}

// settle counts a per-player reward against the terminal result.
func (b *base) settle(player string, silver, gold int) {
	b.emitted[player] += silver
	b.emittedGold += gold
}

// finish records the output and queues the terminal GAME_RESULT carrying
// whatever was not already emitted per player.
func (b *base) finish(out Output, extra ...fact.Draft) {
	if b.done {
		return
	}
	if out.SilverRewards == nil {
		out.SilverRewards = make(map[string]int)
	}

	remaining := make(map[string]int, len(out.SilverRewards))
	for id, total := range out.SilverRewards {
		if delta := total - b.emitted[id]; delta != 0 || b.emitted[id] == 0 {
			remaining[id] = delta
		}
	}
	gold := out.GoldContribution
	if out.GoldEmittedPerPlayer {
		gold = max(out.GoldContribution-b.emittedGold, 0)
	}

	b.outbox = append(b.outbox, extra...)
	b.outbox = append(b.outbox, fact.Draft{
		Type: fact.TypeGameResult,
		Payload: fact.ResultPayload{
			Kind:             string(b.kind),
			CartridgeID:      b.id,
			Day:              b.day,
			SilverRewards:    remaining,
			GoldContribution: gold,
			Summary:          out.Summary,
		},
	})

	b.output = out
	b.done = true
	b.state = StateRevealed
	b.deadline = time.Time{}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return nil
}

func validateBase(cfg Config, minPlayers int) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if len(cfg.Players) < minPlayers {
		return fmt.Errorf("%w: need at least %d players, got %d", ErrInvalidConfig, minPlayers, len(cfg.Players))
	}
	seen := make(map[string]bool, len(cfg.Players))
	for _, p := range cfg.Players {
		if p == "" || seen[p] {
			return fmt.Errorf("%w: bad player list", ErrInvalidConfig)
		}
		seen[p] = true
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}
