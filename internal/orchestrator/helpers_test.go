package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
	"github.com/Seednode/castaway/internal/projection"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func newRecorder() *recorder { return &recorder{msgs: make(map[string][]any)} }

func (r *recorder) Send(id string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[id] = append(r.msgs[id], msg)
}

func (r *recorder) lastSync(t *testing.T, id string) projection.SyncMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.msgs[id]
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(projection.SyncMessage); ok {
			return m
		}
	}
	t.Fatalf("no sync sent to %s", id)
	return projection.SyncMessage{}
}

func (r *recorder) rejections(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs[id] {
		if rej, ok := m.(RejectedMessage); ok {
			out = append(out, rej.Reason)
		}
	}
	return out
}

type harness struct {
	o     *Orchestrator
	clock *fakeClock
	rec   *recorder
	store *fact.MemoryStore
}

func testTimeline() Timeline {
	return Timeline{
		MinPlayers:     3,
		Finalists:      1,
		StartingSilver: 20,
		NightDuration:  time.Minute,
		Days: []Day{
			{
				Activity: &Plan{
					Kind:     cartridge.KindAuction,
					Duration: time.Minute,
					Params:   mustJSON(cartridge.AuctionParams{Slots: []cartridge.AuctionSlot{{Prize: "idol"}, {Prize: "map"}}}),
				},
				Social: &Plan{
					Kind:     cartridge.KindPoll,
					Duration: time.Minute,
					Params:   mustJSON(cartridge.PollParams{Question: "Swim?", Options: []string{"yes", "no"}}),
				},
				Vote: &Plan{Kind: cartridge.KindVote, Duration: time.Minute},
			},
			{
				Activity: &Plan{
					Kind:     cartridge.KindTrivia,
					Duration: 10 * time.Second,
					Params: mustJSON(cartridge.TriviaParams{Questions: []cartridge.Question{
						{Text: "2+2?", Options: []string{"3", "4"}, Answer: 1},
					}}),
				},
				Vote: &Plan{Kind: cartridge.KindVote, Duration: time.Minute},
			},
		},
	}
}

func newHarness(t *testing.T, tl Timeline) *harness {
	t.Helper()
	return newHarnessWithStore(t, tl, fact.NewMemoryStore(), newFakeClock())
}

func newHarnessWithStore(t *testing.T, tl Timeline, store *fact.MemoryStore, clock *fakeClock) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	rec := newRecorder()
	ledger := fact.NewLedger(fact.LedgerConfig{SessionID: "s1", Store: store, Logger: log, Now: clock.Now})
	o, err := New(Config{
		SessionID:   "s1",
		Timeline:    tl,
		Ledger:      ledger,
		Broadcaster: rec,
		Clock:       clock,
		Logger:      log,
	})
	require.NoError(t, err)
	return &harness{o: o, clock: clock, rec: rec, store: store}
}

func frame(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// do runs ev through a tick of its own.
func (h *harness) do(t *testing.T, typ, sender string, payload any) {
	t.Helper()
	ev := Event{Type: typ, Sender: sender, At: h.clock.Now()}
	if payload != nil {
		ev.Payload = frame(t, payload)
	}
	require.NoError(t, h.o.tick(context.Background(), []Event{ev}))
}

// pump processes whatever is waiting in the mailbox as one tick.
func (h *harness) pump(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.o.inbox:
		require.NoError(t, h.o.tick(context.Background(), h.o.collect(ev)))
	default:
	}
}

func (h *harness) facts(t *testing.T) []fact.Fact {
	t.Helper()
	facts, err := h.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	return facts
}

func (h *harness) activeKinds() []cartridge.Kind {
	var kinds []cartridge.Kind
	for _, id := range h.o.order {
		kinds = append(kinds, h.o.active[id].actor.Kind())
	}
	return kinds
}

// actor returns the running cartridge of kind.
func (h *harness) actor(t *testing.T, kind cartridge.Kind) cartridge.Actor {
	t.Helper()
	for _, id := range h.o.order {
		if a := h.o.active[id].actor; a.Kind() == kind {
			return a
		}
	}
	t.Fatalf("no running %s", kind)
	return nil
}

// start joins Ann (host), Ben and Cat and starts the game.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.do(t, TypeJoin, "a", map[string]string{"name": "Ann"})
	h.do(t, TypeJoin, "b", map[string]string{"name": "Ben"})
	h.do(t, TypeJoin, "c", map[string]string{"name": "Cat"})
	h.do(t, TypeStart, "a", nil)
}

// lobby is start for timelines whose first day opens with an activity.
func (h *harness) lobby(t *testing.T) {
	t.Helper()
	h.start(t)
	require.Equal(t, PhaseActivity, h.o.session.Phase)
}

type bid struct {
	Slot   int `json:"slot"`
	Amount int `json:"amount"`
}

type cast struct {
	Target string `json:"target"`
}
