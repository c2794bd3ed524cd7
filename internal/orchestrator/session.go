package orchestrator

import (
	"strconv"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
)

// Session is the one authoritative copy of a game's shared state. Only the
// orchestrator that owns it reads or writes it.
type Session struct {
	ID      string
	Version uint64
	Day     int
	Phase   Phase
	Economy *fact.Economy
	Winner  string

	// completed holds day/kind pairs that already produced a GAME_RESULT.
	completed map[string]bool
	// settled holds per-player results of cartridges that had not finished
	// when the session was restored, keyed by cartridge id.
	settled map[string][]fact.PlayerResultPayload
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		Phase:     PhaseLobby,
		Economy:   fact.NewEconomy(),
		completed: make(map[string]bool),
		settled:   make(map[string][]fact.PlayerResultPayload),
	}
}

// Host is the first player to join.
func (s *Session) Host() string {
	if len(s.Economy.Order) == 0 {
		return ""
	}
	return s.Economy.Order[0]
}

func (s *Session) isAlive(id string) bool {
	p := s.Economy.Player(id)
	return p != nil && p.Alive
}

func completedKey(day int, kind cartridge.Kind) string {
	return strconv.Itoa(day) + ":" + string(kind)
}

func (s *Session) markCompleted(day int, kind cartridge.Kind) {
	s.completed[completedKey(day, kind)] = true
}

func (s *Session) isCompleted(day int, kind cartridge.Kind) bool {
	return s.completed[completedKey(day, kind)]
}
