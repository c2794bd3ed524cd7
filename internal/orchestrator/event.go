package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Seednode/castaway/internal/cartridge"
)

// Orchestrator-level event types. Anything of the form GAME.<KIND>.<ACTION>
// is routed to a cartridge instead.
const (
	TypeJoin       = "SYSTEM.JOIN"
	TypeStart      = "SYSTEM.START"
	TypeAdvance    = "SYSTEM.ADVANCE"
	TypeConnect    = "SYSTEM.CONNECT"
	TypeDisconnect = "SYSTEM.DISCONNECT"
	TypeTimer      = "SYSTEM.TIMER"
	TypeSendSilver = "SOCIAL.SEND_SILVER"

	TypeRejected = "SYSTEM.REJECTED"
)

// Rejection reasons sent back to the player.
const (
	ReasonUnknownEvent     = "unknown_event"
	ReasonWrongPhase       = "wrong_phase"
	ReasonUnknownCartridge = "unknown_cartridge"
	ReasonIneligible       = "ineligible"
	ReasonDuplicate        = "duplicate"
	ReasonClosed           = "closed"
	ReasonInvalid          = "invalid"
	ReasonNotHost          = "not_host"
	ReasonNotEnoughPlayers = "not_enough_players"
	// ReasonInsufficientSilver rejects a transfer of silver the sender has
	// no free balance for, including silver held by open bids.
	ReasonInsufficientSilver = "insufficient_silver"
)

var (
	ErrStopped       = errors.New("orchestrator stopped")
	ErrScopeConflict = errors.New("cartridge scope is occupied")
)

// Event is one entry of the orchestrator mailbox.
type Event struct {
	Type   string
	Sender string
	// CartridgeID addresses a cartridge when more than one of a kind runs.
	CartridgeID string
	Payload     json.RawMessage
	At          time.Time

	// Deadline is the instant a timer event was armed for.
	Deadline time.Time
}

// ClientFrame is the JSON a player sends over the wire. Everything besides
// type and cartridgeId is the payload.
type ClientFrame struct {
	Type        string `json:"type"`
	CartridgeID string `json:"cartridgeId,omitempty"`
}

// ParseFrame turns a raw client frame into an event from sender.
func ParseFrame(sender string, raw []byte) (Event, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Event{}, errors.New("decode frame: missing type")
	}
	return Event{
		Type:        f.Type,
		Sender:      sender,
		CartridgeID: f.CartridgeID,
		Payload:     json.RawMessage(raw),
	}, nil
}

func (e Event) isTimer() bool { return e.Type == TypeTimer }

// Rejection is a per-action client mistake. It is reported to the sender
// only and never changes session state.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("rejected (%s): %v", r.Reason, r.Err)
	}
	return "rejected (" + r.Reason + ")"
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(reason string, err error) error {
	return &Rejection{Reason: reason, Err: err}
}

// rejectCartridge maps a cartridge error onto a rejection reason.
func rejectCartridge(err error) error {
	switch {
	case errors.Is(err, cartridge.ErrDuplicate):
		return reject(ReasonDuplicate, err)
	case errors.Is(err, cartridge.ErrClosed):
		return reject(ReasonClosed, err)
	case errors.Is(err, cartridge.ErrIneligible):
		return reject(ReasonIneligible, err)
	default:
		return reject(ReasonInvalid, err)
	}
}

// RejectedMessage is sent to the sender of a rejected event.
type RejectedMessage struct {
	Type      string `json:"type"` // "SYSTEM.REJECTED"
	Reason    string `json:"reason"`
	EventType string `json:"eventType"`
}

type joinPayload struct {
	Name string `json:"name"`
}

type sendSilverPayload struct {
	To     string `json:"to"`
	Amount int    `json:"amount"`
}
