// Package projection builds the per-player SYSTEM.SYNC view of a session.
//
// A projection is never stored. It is rebuilt from the session state and the
// cartridge snapshots every time something changes, and each cartridge kind
// has a projector that decides what a given viewer may see of it.
package projection

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
)

// TypeSync is the outbound message type of a projection.
const TypeSync = "SYSTEM.SYNC"

// Session is the orchestrator state a projection is built from.
type Session struct {
	ID      string
	Version uint64
	Day     int
	Phase   string
	Host    string
	Economy *fact.Economy
	Online  map[string]bool
}

// Cartridge is a running cartridge, or one that finished earlier in the
// current day and is kept around for its reveal.
type Cartridge struct {
	ID       string
	Kind     cartridge.Kind
	State    cartridge.State
	Deadline time.Time
	Snapshot any
}

// SyncMessage is sent to one player after every state change and on connect.
type SyncMessage struct {
	Type       string          `json:"type"` // "SYSTEM.SYNC"
	Session    SessionView     `json:"session"`
	Cartridges []CartridgeView `json:"cartridges"`
}

type SessionView struct {
	ID       string       `json:"id"`
	Version  uint64       `json:"version"`
	Day      int          `json:"day"`
	Phase    string       `json:"phase"`
	Host     string       `json:"host,omitempty"`
	You      string       `json:"you"`
	IsHost   bool         `json:"isHost"`
	GoldPool int          `json:"goldPool"`
	Roster   []PlayerView `json:"roster"`
}

type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Alive  bool   `json:"alive"`
	Online bool   `json:"online"`
	Silver int    `json:"silver"`
	Gold   int    `json:"gold"`
}

// CartridgeView carries the kind-specific View a projector produced.
type CartridgeView struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	State       string     `json:"state"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	RemainingMs int64      `json:"remainingMs,omitempty"`
	Revealed    bool       `json:"revealed"`
	View        any        `json:"view,omitempty"`
}

// Projector turns a cartridge snapshot into what viewer is allowed to see.
// It returns false when the snapshot is not the type it expects.
type Projector func(snapshot any, viewer string) (any, bool)

// Builder holds the projector for every kind.
type Builder struct {
	now        func() time.Time
	log        logrus.FieldLogger
	projectors map[cartridge.Kind]Projector
}

// NewBuilder returns a builder with the projectors of all built-in kinds.
func NewBuilder(log logrus.FieldLogger, now func() time.Time) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{
		now: now,
		log: log,
		projectors: map[cartridge.Kind]Projector{
			cartridge.KindVote:    projectVote,
			cartridge.KindAuction: projectAuction,
			cartridge.KindPoll:    projectPoll,
			cartridge.KindPrompt:  projectPrompt,
			cartridge.KindTrivia:  projectTrivia,
			cartridge.KindArcade:  projectArcade,
		},
	}
}

// Register replaces the projector of kind.
func (b *Builder) Register(kind cartridge.Kind, p Projector) {
	b.projectors[kind] = p
}

// Build returns the projection for viewer. Cartridges with no projector, or
// whose snapshot the projector does not recognise, are listed without a view
// so nothing private is sent by accident.
func (b *Builder) Build(s Session, carts []Cartridge, viewer string) SyncMessage {
	now := b.now()

	msg := SyncMessage{
		Type:       TypeSync,
		Session:    b.session(s, viewer),
		Cartridges: make([]CartridgeView, 0, len(carts)),
	}

	for _, c := range carts {
		cv := CartridgeView{
			ID:       c.ID,
			Kind:     string(c.Kind),
			State:    string(c.State),
			Revealed: c.State == cartridge.StateRevealed,
		}
		if !c.Deadline.IsZero() {
			d := c.Deadline
			cv.Deadline = &d
			cv.RemainingMs = max(d.Sub(now).Milliseconds(), 0)
		}

		p, ok := b.projectors[c.Kind]
		if !ok {
			b.log.WithField("kind", c.Kind).Warn("no projector for cartridge kind")
		} else if view, ok := p(c.Snapshot, viewer); ok {
			cv.View = view
		} else {
			b.log.WithFields(logrus.Fields{
				"kind":      c.Kind,
				"cartridge": c.ID,
			}).Warn("unexpected cartridge snapshot")
		}

		msg.Cartridges = append(msg.Cartridges, cv)
	}

	return msg
}

func (b *Builder) session(s Session, viewer string) SessionView {
	v := SessionView{
		ID:      s.ID,
		Version: s.Version,
		Day:     s.Day,
		Phase:   s.Phase,
		Host:    s.Host,
		You:     viewer,
		IsHost:  viewer != "" && viewer == s.Host,
	}
	if s.Economy == nil {
		return v
	}

	v.GoldPool = s.Economy.GoldPool
	v.Roster = make([]PlayerView, 0, len(s.Economy.Order))
	for _, id := range s.Economy.Order {
		p := s.Economy.Player(id)
		if p == nil {
			continue
		}
		v.Roster = append(v.Roster, PlayerView{
			ID:     p.ID,
			Name:   p.Name,
			Alive:  p.Alive,
			Online: s.Online[p.ID],
			Silver: p.Silver,
			Gold:   p.Gold,
		})
	}
	return v
}
