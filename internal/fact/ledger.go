package fact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store persists a session's facts.
type Store interface {
	// Append writes facts whose sequences continue the stored sequence.
	// A gap or duplicate must be reported as ErrLedgerCorruption.
	Append(ctx context.Context, sessionID string, facts []Fact) error
	// Load returns every stored fact of the session in sequence order.
	Load(ctx context.Context, sessionID string) ([]Fact, error)
	Close() error
}

// Mirror receives a copy of every appended fact, e.g. for an external
// observability sink. Mirror failures never fail an append.
type Mirror interface {
	Mirror(ctx context.Context, sessionID string, facts []Fact) error
}

// LedgerConfig wires a Ledger's collaborators.
type LedgerConfig struct {
	SessionID string
	Store     Store
	Mirror    Mirror
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Ledger assigns sequence numbers and timestamps to drafts and persists the
// resulting facts. It is owned by a single orchestrator and is not safe for
// concurrent appends.
type Ledger struct {
	sessionID string
	store     Store
	mirror    Mirror
	log       logrus.FieldLogger
	now       func() time.Time

	last   uint64
	halted error
}

// NewLedger returns a ledger for one session. A nil Store defaults to an
// in-memory store.
func NewLedger(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		sessionID: cfg.SessionID,
		store:     cfg.Store,
		mirror:    cfg.Mirror,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Open loads the stored facts, verifies the sequence and positions the
// ledger after the last one.
func (l *Ledger) Open(ctx context.Context) ([]Fact, error) {
	facts, err := l.store.Load(ctx, l.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if err := Verify(facts, 0); err != nil {
		l.halted = err
		return nil, err
	}
	if n := len(facts); n > 0 {
		l.last = facts[n-1].Sequence
	}
	return facts, nil
}

// Last returns the sequence of the most recently appended fact.
func (l *Ledger) Last() uint64 {
	return l.last
}

// Append sequences and persists drafts. After a corruption error every
// later append fails with the same error.
func (l *Ledger) Append(ctx context.Context, drafts ...Draft) ([]Fact, error) {
	if l.halted != nil {
		return nil, l.halted
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	now := l.now().UTC()
	facts := make([]Fact, 0, len(drafts))
	for i, d := range drafts {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", d.Type, err)
		}
		actor := d.ActorID
		if actor == "" {
			actor = ActorSystem
		}
		facts = append(facts, Fact{
			Type:      d.Type,
			ActorID:   actor,
			Payload:   payload,
			Timestamp: now,
			Sequence:  l.last + uint64(i) + 1,
		})
	}

	if err := l.store.Append(ctx, l.sessionID, facts); err != nil {
		if errors.Is(err, ErrLedgerCorruption) {
			l.halted = err
		}
		return nil, err
	}
	l.last = facts[len(facts)-1].Sequence

	if l.mirror != nil {
		if err := l.mirror.Mirror(ctx, l.sessionID, facts); err != nil {
			l.log.WithError(err).WithField("session", l.sessionID).Warn("fact mirror failed")
		}
	}

	return facts, nil
}

// Verify checks that facts continue strictly after the given sequence with
// no gaps or duplicates.
func Verify(facts []Fact, after uint64) error {
	want := after + 1
	for _, f := range facts {
		if f.Sequence != want {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrLedgerCorruption, want, f.Sequence)
		}
		want++
	}
	return nil
}

// MemoryStore keeps facts in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Fact
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Fact),
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, facts []Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.sessions[sessionID]
	var last uint64
	if n := len(stored); n > 0 {
		last = stored[n-1].Sequence
	}
	if err := Verify(facts, last); err != nil {
		return err
	}
	s.sessions[sessionID] = append(stored, facts...)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Fact(nil), s.sessions[sessionID]...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
