// Package fact holds the append-only record of gameplay outcomes for a
// session and the reconciler that folds those outcomes into the economy.
//
// Cartridges never touch balances. They emit Drafts; the ledger turns them
// into sequenced Facts and the reconciler applies them. Folding every fact
// of a session from an empty Economy reproduces the live balances exactly.
package fact

import (
	"encoding/json"
	"errors"
	"time"
)

// Type identifies the kind of outcome a fact records.
type Type string

const (
	// TypePlayerJoined adds a player to the roster with a starting balance.
	TypePlayerJoined Type = "PLAYER_JOINED"
	// TypePlayerEliminated marks a player as out of the game.
	TypePlayerEliminated Type = "PLAYER_ELIMINATED"
	// TypeGameResult is the terminal result of a cartridge.
	TypeGameResult Type = "GAME_RESULT"
	// TypePlayerGameResult is a reward emitted for one player as they finish.
	TypePlayerGameResult Type = "PLAYER_GAME_RESULT"
	// TypeSilverTransferred moves silver between two players.
	TypeSilverTransferred Type = "SILVER_TRANSFERRED"
	// TypePhaseChanged records a timeline transition.
	TypePhaseChanged Type = "PHASE_CHANGED"
	// TypeWinnerDeclared pays the gold pool out to the winner.
	TypeWinnerDeclared Type = "WINNER_DECLARED"
)

// ActorSystem is the actor id for facts raised by the engine itself.
const ActorSystem = "SYSTEM"

var (
	// ErrLedgerCorruption means the fact sequence has a gap or a duplicate.
	// Economy replay can no longer be trusted once it is returned.
	ErrLedgerCorruption = errors.New("ledger corruption")
	// ErrUnknownType is returned when a fact type has no reconciler rule.
	ErrUnknownType = errors.New("unknown fact type")
)

// Fact is an immutable, sequenced record. Sequence starts at 1 and is
// strictly monotonic within a session.
type Fact struct {
	Type      Type            `json:"type"`
	ActorID   string          `json:"actorId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
}

// Draft is a fact that has not been appended yet. Payload is marshalled to
// JSON by the ledger.
type Draft struct {
	Type    Type
	ActorID string
	Payload any
}

// Decode unmarshals the fact payload into v.
func (f Fact) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}

// JoinedPayload is the payload of TypePlayerJoined.
type JoinedPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Silver   int    `json:"silver"`
}

// EliminatedPayload is the payload of TypePlayerEliminated.
type EliminatedPayload struct {
	PlayerID    string `json:"playerId"`
	Day         int    `json:"day"`
	Kind        string `json:"kind,omitempty"`
	CartridgeID string `json:"cartridgeId,omitempty"`
}

// ResultPayload is the payload of TypeGameResult. SilverRewards holds only
// what has not already been emitted per player.
type ResultPayload struct {
	Kind             string         `json:"kind"`
	CartridgeID      string         `json:"cartridgeId"`
	Day              int            `json:"day"`
	SilverRewards    map[string]int `json:"silverRewards"`
	GoldContribution int            `json:"goldContribution"`
	Summary          map[string]any `json:"summary,omitempty"`
}

// PlayerResultPayload is the payload of TypePlayerGameResult.
type PlayerResultPayload struct {
	Kind        string `json:"kind"`
	CartridgeID string `json:"cartridgeId"`
	Day         int    `json:"day"`
	PlayerID    string `json:"playerId"`
	Score       int    `json:"score,omitempty"`
	Silver      int    `json:"silver"`
	Gold        int    `json:"gold"`
}

// TransferPayload is the payload of TypeSilverTransferred.
type TransferPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int    `json:"amount"`
}

// PhasePayload is the payload of TypePhaseChanged.
type PhasePayload struct {
	Day   int    `json:"day"`
	Phase string `json:"phase"`
}

// WinnerPayload is the payload of TypeWinnerDeclared.
type WinnerPayload struct {
	PlayerID string `json:"playerId"`
	Gold     int    `json:"gold"`
}
