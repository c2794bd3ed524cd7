// Package orchestrator runs one game session: the day/phase timeline, the
// roster and economy, and the cartridges active at any moment.
//
// Each session is owned by a single goroutine running Run. Connections and
// timers only Enqueue events; everything that reads or writes session state
// happens on the Run goroutine, one event at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
	"github.com/Seednode/castaway/internal/projection"
)

const (
	defaultMailboxSize = 256
	notificationQueue  = 64
	notifyTimeout      = 5 * time.Second
	maxNameLength      = 24
)

// ReasonNameTaken rejects a join whose display name is already in use.
const ReasonNameTaken = "name_taken"

// Broadcaster delivers outbound messages to one player's connections.
// Send must not block.
type Broadcaster interface {
	Send(playerID string, msg any)
}

// Config wires an orchestrator. SessionID, Timeline and Ledger are required.
type Config struct {
	SessionID   string
	Timeline    Timeline
	Ledger      *fact.Ledger
	Registry    *cartridge.Registry
	Projection  *projection.Builder
	Broadcaster Broadcaster
	Notifier    Notifier
	Metrics     *Metrics
	Clock       Clock
	Logger      logrus.FieldLogger
	MailboxSize int
}

type running struct {
	actor cartridge.Actor
	desc  cartridge.Descriptor
	timer Timer
	armed time.Time
}

// Orchestrator is the per-session state machine.
type Orchestrator struct {
	timeline    Timeline
	ledger      *fact.Ledger
	registry    *cartridge.Registry
	reconciler  *fact.Reconciler
	builder     *projection.Builder
	broadcaster Broadcaster
	notifier    Notifier
	metrics     *Metrics
	clock       Clock
	log         logrus.FieldLogger

	session  *Session
	active   map[string]*running
	order    []string
	finished []projection.Cartridge
	online   map[string]bool

	phaseTimer    Timer
	phaseDeadline time.Time

	inbox    chan Event
	notes    chan Notification
	done     chan struct{}
	stopOnce sync.Once

	halted error
	dirty  bool
}

// New returns an orchestrator for a session in the lobby. Call Restore to
// pick up a session that already has facts in its ledger.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("orchestrator: missing session id")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("orchestrator: missing ledger")
	}
	if err := cfg.Timeline.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	log := cfg.Logger.WithField("session", cfg.SessionID)

	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Registry == nil {
		cfg.Registry = cartridge.NewRegistry(cartridge.Policies{})
	}
	if cfg.Projection == nil {
		cfg.Projection = projection.NewBuilder(log, cfg.Clock.Now)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Log: log}
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}

	return &Orchestrator{
		timeline:    cfg.Timeline,
		ledger:      cfg.Ledger,
		registry:    cfg.Registry,
		reconciler:  fact.NewReconciler(cfg.Registry.Contract),
		builder:     cfg.Projection,
		broadcaster: cfg.Broadcaster,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		log:         log,
		session:     newSession(cfg.SessionID),
		active:      make(map[string]*running),
		online:      make(map[string]bool),
		inbox:       make(chan Event, cfg.MailboxSize),
		notes:       make(chan Notification, notificationQueue),
		done:        make(chan struct{}),
	}, nil
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Enqueue adds ev to the mailbox, stamping its arrival time. It blocks only
// while the mailbox is full.
func (o *Orchestrator) Enqueue(ev Event) error {
	if ev.At.IsZero() {
		ev.At = o.clock.Now()
	}

	select {
	case <-o.done:
		return ErrStopped
	default:
	}

	select {
	case o.inbox <- ev:
		return nil
	case <-o.done:
		return ErrStopped
	}
}

// Run processes the mailbox until ctx is cancelled or the ledger fails.
// A ledger failure is returned so the supervisor can surface it.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.metrics.sessionStarted()
	defer o.metrics.sessionStopped()
	defer o.stop()

	notifyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.notifyLoop(notifyCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.inbox:
			if err := o.tick(ctx, o.collect(ev)); err != nil {
				return err
			}
		}
	}
}

// collect returns first plus everything else already waiting.
func (o *Orchestrator) collect(first Event) []Event {
	batch := []Event{first}
	for {
		select {
		case ev := <-o.inbox:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// tick dispatches one batch. Player submissions that arrived in the same
// tick as a deadline are applied before the deadline.
func (o *Orchestrator) tick(ctx context.Context, batch []Event) error {
	sort.SliceStable(batch, func(i, j int) bool {
		return !batch[i].isTimer() && batch[j].isTimer()
	})

	for _, ev := range batch {
		if err := o.Dispatch(ctx, ev); err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				continue
			}
			return err
		}
	}

	if o.dirty {
		o.broadcast()
		o.dirty = false
	}
	return nil
}

func (o *Orchestrator) stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		for _, r := range o.active {
			if r.timer != nil {
				r.timer.Stop()
			}
		}
		o.stopPhaseTimer()
	})
}

// Dispatch applies one event. A *Rejection means the event was illegal and
// was reported to its sender; any other error is fatal and halts the
// orchestrator.
func (o *Orchestrator) Dispatch(ctx context.Context, ev Event) error {
	if o.halted != nil {
		return o.halted
	}
	if ev.At.IsZero() {
		ev.At = o.clock.Now()
	}

	class := eventClass(ev.Type)
	err := o.dispatch(ctx, ev)

	var rej *Rejection
	switch {
	case err == nil:
		o.metrics.event(class, "accepted")
	case errors.As(err, &rej):
		o.metrics.event(class, "rejected")
		o.log.WithFields(logrus.Fields{
			"type":   ev.Type,
			"sender": ev.Sender,
			"reason": rej.Reason,
		}).WithError(rej.Err).Info("event rejected")
		if ev.Sender != "" {
			o.send(ev.Sender, RejectedMessage{Type: TypeRejected, Reason: rej.Reason, EventType: ev.Type})
		}
	default:
		o.halt(err)
	}
	return err
}

func (o *Orchestrator) dispatch(ctx context.Context, ev Event) error {
	switch ev.Type {
	case TypeTimer:
		return o.onTimer(ctx, ev)
	case TypeConnect:
		if ev.Sender == "" {
			return reject(ReasonInvalid, nil)
		}
		o.online[ev.Sender] = true
		o.sendSync(ev.Sender)
		return nil
	case TypeDisconnect:
		delete(o.online, ev.Sender)
		return nil
	case TypeJoin:
		return o.join(ctx, ev)
	case TypeStart:
		return o.start(ctx, ev)
	case TypeAdvance:
		return o.advance(ctx, ev)
	case TypeSendSilver:
		return o.sendSilver(ctx, ev)
	}

	kind, action, ok := cartridge.ParseType(ev.Type)
	if !ok {
		return reject(ReasonUnknownEvent, nil)
	}
	return o.route(ctx, ev, kind, action)
}

func eventClass(t string) string {
	switch {
	case t == TypeTimer:
		return "timer"
	case strings.HasPrefix(t, "SYSTEM."):
		return "system"
	case strings.HasPrefix(t, "SOCIAL."):
		return "social"
	case strings.HasPrefix(t, "GAME."):
		return "game"
	default:
		return "unknown"
	}
}

func (o *Orchestrator) halt(err error) {
	o.halted = err
	o.metrics.halted()
	o.log.WithError(err).Error("orchestrator halted")
	for _, r := range o.active {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	o.stopPhaseTimer()
}

func (o *Orchestrator) join(ctx context.Context, ev Event) error {
	if o.session.Phase != PhaseLobby {
		return reject(ReasonWrongPhase, nil)
	}
	if ev.Sender == "" {
		return reject(ReasonInvalid, nil)
	}
	if o.session.Economy.Player(ev.Sender) != nil {
		return reject(ReasonDuplicate, nil)
	}

	var p joinPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return reject(ReasonInvalid, err)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return reject(ReasonInvalid, nil)
	}
	for _, pl := range o.session.Economy.Players {
		if strings.EqualFold(pl.Name, name) {
			return reject(ReasonNameTaken, nil)
		}
	}

	return o.commit(ctx, fact.Draft{
		Type:    fact.TypePlayerJoined,
		ActorID: ev.Sender,
		Payload: fact.JoinedPayload{
			PlayerID: ev.Sender,
			Name:     name,
			Silver:   o.timeline.StartingSilver,
		},
	})
}

func (o *Orchestrator) start(ctx context.Context, ev Event) error {
	if o.session.Phase != PhaseLobby {
		return reject(ReasonWrongPhase, nil)
	}
	if ev.Sender != o.session.Host() {
		return reject(ReasonNotHost, nil)
	}
	if len(o.session.Economy.Alive()) < o.timeline.MinPlayers {
		return reject(ReasonNotEnoughPlayers, nil)
	}

	o.session.Day = 1
	return o.enterPhase(ctx, PhaseActivity)
}

// advance lets the host skip whatever the current phase is waiting on.
func (o *Orchestrator) advance(ctx context.Context, ev Event) error {
	if ev.Sender != o.session.Host() {
		return reject(ReasonNotHost, nil)
	}

	switch o.session.Phase {
	case PhaseActivity:
		if err := o.cancelScope(ctx, cartridge.ScopeActivity, ev.At); err != nil {
			return err
		}
		if o.session.Phase == PhaseActivity {
			return o.enterPhase(ctx, PhaseVoting)
		}
		return nil
	case PhaseVoting:
		if err := o.cancelScope(ctx, cartridge.ScopeVoting, ev.At); err != nil {
			return err
		}
		if o.session.Phase == PhaseVoting {
			return o.enterPhase(ctx, PhaseNight)
		}
		return nil
	case PhaseNight:
		return o.endNight(ctx)
	default:
		return reject(ReasonWrongPhase, nil)
	}
}

func (o *Orchestrator) sendSilver(ctx context.Context, ev Event) error {
	if o.session.Phase == PhaseLobby || o.session.Phase == PhaseGameOver {
		return reject(ReasonWrongPhase, nil)
	}
	from := o.session.Economy.Player(ev.Sender)
	if from == nil || !from.Alive {
		return reject(ReasonIneligible, nil)
	}

	var p sendSilverPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return reject(ReasonInvalid, err)
	}
	if p.To == ev.Sender || !o.session.isAlive(p.To) {
		return reject(ReasonInvalid, nil)
	}
	if p.Amount < 1 {
		return reject(ReasonInvalid, nil)
	}
	if p.Amount > from.Silver-o.held(ev.Sender) {
		return reject(ReasonInsufficientSilver, nil)
	}

	err := o.commit(ctx, fact.Draft{
		Type:    fact.TypeSilverTransferred,
		ActorID: ev.Sender,
		Payload: fact.TransferPayload{From: ev.Sender, To: p.To, Amount: p.Amount},
	})
	if err != nil {
		return err
	}

	for _, id := range o.order {
		if e, ok := o.active[id].actor.(cartridge.Escrow); ok {
			e.Adjust(ev.Sender, -p.Amount)
			e.Adjust(p.To, p.Amount)
		}
	}
	return nil
}

// held is the silver player has committed to running cartridges.
func (o *Orchestrator) held(player string) int {
	n := 0
	for _, id := range o.order {
		if e, ok := o.active[id].actor.(cartridge.Escrow); ok {
			n += e.Held(player)
		}
	}
	return n
}

func (o *Orchestrator) route(ctx context.Context, ev Event, kind cartridge.Kind, action string) error {
	if o.session.Phase == PhaseLobby || o.session.Phase == PhaseGameOver {
		return reject(ReasonWrongPhase, nil)
	}
	r := o.find(ev.CartridgeID, kind)
	if r == nil {
		return reject(ReasonUnknownCartridge, nil)
	}

	err := r.actor.Handle(cartridge.Event{
		Kind:    kind,
		Action:  action,
		Sender:  ev.Sender,
		At:      ev.At,
		Payload: ev.Payload,
	})
	if err != nil {
		return rejectCartridge(err)
	}

	o.touch()
	return o.step(ctx, r, "completed")
}

// find resolves the addressed cartridge: by id when given, otherwise the
// only active cartridge of kind.
func (o *Orchestrator) find(id string, kind cartridge.Kind) *running {
	if id != "" {
		if r := o.active[id]; r != nil && r.actor.Kind() == kind {
			return r
		}
		return nil
	}

	var match *running
	for _, aid := range o.order {
		r := o.active[aid]
		if r.actor.Kind() != kind {
			continue
		}
		if match != nil {
			return nil
		}
		match = r
	}
	return match
}

func (o *Orchestrator) onTimer(ctx context.Context, ev Event) error {
	if ev.CartridgeID == "" {
		if o.session.Phase != PhaseNight || !ev.Deadline.Equal(o.phaseDeadline) {
			return nil
		}
		return o.endNight(ctx)
	}

	r := o.active[ev.CartridgeID]
	// A timer armed for an earlier deadline, or for a cartridge that has
	// already finished, is stale.
	if r == nil || !r.actor.Deadline().Equal(ev.Deadline) {
		return nil
	}

	r.actor.Expire(ev.At)
	o.touch()
	return o.step(ctx, r, "expired")
}

// StartCartridge spawns kind with cfg unless its scope is taken, and arms
// its deadline.
func (o *Orchestrator) StartCartridge(kind cartridge.Kind, cfg cartridge.Config) (cartridge.Actor, error) {
	d, ok := o.registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", cartridge.ErrUnknownKind, kind)
	}
	for _, id := range o.order {
		if cartridge.Conflicts(o.active[id].desc, d) {
			return nil, fmt.Errorf("%w: %s", ErrScopeConflict, d.Scope)
		}
	}

	actor, desc, err := o.registry.Spawn(kind, cfg)
	if err != nil {
		return nil, err
	}

	r := &running{actor: actor, desc: desc}
	o.active[actor.ID()] = r
	o.order = append(o.order, actor.ID())
	o.arm(r)
	o.touch()

	o.metrics.cartridge(string(kind), "started")
	o.log.WithFields(logrus.Fields{
		"cartridge": actor.ID(),
		"kind":      kind,
		"players":   len(cfg.Players),
		"deadline":  actor.Deadline(),
	}).Info("cartridge started")
	o.raise(Notification{
		Kind:    NotifyCartridgeStarted,
		Players: cfg.Players,
		Message: fmt.Sprintf("%s has started", strings.ToLower(string(kind))),
	})

	return actor, nil
}

// spawnPlan starts a scheduled cartridge for the current day. A plan that
// already ran today, is already running, or cannot be built is skipped.
func (o *Orchestrator) spawnPlan(plan *Plan) {
	if plan == nil {
		return
	}
	day := o.session.Day
	if o.session.isCompleted(day, plan.Kind) {
		return
	}
	for _, r := range o.active {
		if r.actor.Kind() == plan.Kind {
			return
		}
	}

	seed := o.seed(day, plan.Kind)
	id := fmt.Sprintf("%s-%d-%016x", strings.ToLower(string(plan.Kind)), day, seed)
	cfg := cartridge.Config{
		ID:       id,
		Day:      day,
		Seed:     seed,
		Start:    o.clock.Now(),
		Duration: plan.Duration,
		Players:  o.session.Economy.Alive(),
		Balances: o.session.Economy.Balances(),
		Params:   plan.Params,
		Settled:  o.session.settled[id],
	}
	if _, err := o.StartCartridge(plan.Kind, cfg); err != nil {
		o.metrics.cartridge(string(plan.Kind), "skipped")
		o.log.WithFields(logrus.Fields{
			"kind": plan.Kind,
			"day":  day,
		}).WithError(err).Warn("skipping scheduled cartridge")
	}
}

// seed derives a cartridge seed from the session, day and kind so a
// restored session regenerates the same content under the same id.
func (o *Orchestrator) seed(day int, kind cartridge.Kind) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d/%s", o.session.ID, day, kind)
	return h.Sum64()
}

// step commits what a cartridge produced after it handled something.
func (o *Orchestrator) step(ctx context.Context, r *running, outcome string) error {
	if r.actor.Done() {
		return o.onCartridgeTerminal(ctx, r, outcome)
	}
	if err := o.commit(ctx, r.actor.Drain()...); err != nil {
		return err
	}
	o.arm(r)
	return nil
}

// onCartridgeTerminal folds a finished cartridge's facts, removes it, and
// moves the timeline on if it was what the phase was waiting for.
func (o *Orchestrator) onCartridgeTerminal(ctx context.Context, r *running, outcome string) error {
	if err := o.commit(ctx, r.actor.Drain()...); err != nil {
		return err
	}
	o.remove(r)

	kind := r.actor.Kind()
	o.finished = append(o.finished, projection.Cartridge{
		ID:       r.actor.ID(),
		Kind:     kind,
		State:    r.actor.State(),
		Snapshot: r.actor.Snapshot(),
	})
	o.session.markCompleted(o.session.Day, kind)
	o.touch()

	out := r.actor.Output()
	o.metrics.cartridge(string(kind), outcome)
	o.log.WithFields(logrus.Fields{
		"cartridge": r.actor.ID(),
		"kind":      kind,
		"outcome":   outcome,
		"rewards":   out.SilverRewards,
		"gold":      out.GoldContribution,
	}).Info("cartridge finished")

	return o.advanceAfter(ctx, r.desc.Scope)
}

func (o *Orchestrator) advanceAfter(ctx context.Context, scope cartridge.Scope) error {
	switch {
	case o.session.Phase == PhaseActivity && scope == cartridge.ScopeActivity && !o.hasScope(cartridge.ScopeActivity):
		return o.enterPhase(ctx, PhaseVoting)
	case o.session.Phase == PhaseVoting && scope == cartridge.ScopeVoting && !o.hasScope(cartridge.ScopeVoting):
		return o.enterPhase(ctx, PhaseNight)
	}
	return nil
}

func (o *Orchestrator) hasScope(scope cartridge.Scope) bool {
	for _, r := range o.active {
		if r.desc.Scope == scope {
			return true
		}
	}
	return false
}

func (o *Orchestrator) remove(r *running) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	id := r.actor.ID()
	delete(o.active, id)
	for i, aid := range o.order {
		if aid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// cancel ends a cartridge early; it still pays partial credit.
func (o *Orchestrator) cancel(ctx context.Context, r *running, now time.Time) error {
	r.actor.Cancel(now)
	return o.step(ctx, r, "cancelled")
}

func (o *Orchestrator) cancelScope(ctx context.Context, scope cartridge.Scope, now time.Time) error {
	for _, id := range append([]string(nil), o.order...) {
		r := o.active[id]
		if r == nil || r.desc.Scope != scope {
			continue
		}
		if err := o.cancel(ctx, r, now); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) cancelAll(ctx context.Context, now time.Time) error {
	for _, id := range append([]string(nil), o.order...) {
		r := o.active[id]
		if r == nil {
			continue
		}
		if err := o.cancel(ctx, r, now); err != nil {
			return err
		}
	}
	return nil
}

// arm (re)schedules the deadline timer whenever a cartridge's deadline
// moves.
func (o *Orchestrator) arm(r *running) {
	dl := r.actor.Deadline()
	if dl.Equal(r.armed) {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.armed = dl
	if dl.IsZero() {
		return
	}

	id := r.actor.ID()
	r.timer = o.clock.AfterFunc(max(dl.Sub(o.clock.Now()), 0), func() {
		_ = o.Enqueue(Event{Type: TypeTimer, CartridgeID: id, Deadline: dl})
	})
}

// commit appends drafts to the ledger and folds the resulting facts.
func (o *Orchestrator) commit(ctx context.Context, drafts ...fact.Draft) error {
	if len(drafts) == 0 {
		return nil
	}

	facts, err := o.ledger.Append(ctx, drafts...)
	if err != nil {
		return fmt.Errorf("append facts: %w", err)
	}
	for _, f := range facts {
		if err := o.reconciler.Apply(o.session.Economy, f); err != nil {
			return fmt.Errorf("fold fact %d: %w", f.Sequence, err)
		}
		o.metrics.fact(string(f.Type))
		o.observe(f)
	}

	o.touch()
	return nil
}

// observe reacts to facts that need more than a fold.
func (o *Orchestrator) observe(f fact.Fact) {
	switch f.Type {
	case fact.TypePlayerEliminated:
		var p fact.EliminatedPayload
		if err := f.Decode(&p); err != nil {
			return
		}
		name := p.PlayerID
		if pl := o.session.Economy.Player(p.PlayerID); pl != nil {
			name = pl.Name
		}
		o.raise(Notification{
			Kind:    NotifyEliminated,
			Players: []string{p.PlayerID},
			Message: name + " has been eliminated",
		})
	case fact.TypeWinnerDeclared:
		var p fact.WinnerPayload
		if err := f.Decode(&p); err != nil {
			return
		}
		o.session.Winner = p.PlayerID
	}
}

func (o *Orchestrator) touch() {
	o.session.Version++
	o.dirty = true
}

func (o *Orchestrator) broadcast() {
	carts := o.cartridges()
	view := o.view()
	for id := range o.online {
		o.send(id, o.builder.Build(view, carts, id))
	}
}

func (o *Orchestrator) sendSync(playerID string) {
	o.send(playerID, o.builder.Build(o.view(), o.cartridges(), playerID))
}

func (o *Orchestrator) send(playerID string, msg any) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Send(playerID, msg)
}

func (o *Orchestrator) view() projection.Session {
	return projection.Session{
		ID:      o.session.ID,
		Version: o.session.Version,
		Day:     o.session.Day,
		Phase:   string(o.session.Phase),
		Host:    o.session.Host(),
		Economy: o.session.Economy,
		Online:  o.online,
	}
}

// cartridges lists active cartridges in start order, then today's finished
// ones so their results stay visible.
func (o *Orchestrator) cartridges() []projection.Cartridge {
	out := make([]projection.Cartridge, 0, len(o.order)+len(o.finished))
	for _, id := range o.order {
		a := o.active[id].actor
		out = append(out, projection.Cartridge{
			ID:       a.ID(),
			Kind:     a.Kind(),
			State:    a.State(),
			Deadline: a.Deadline(),
			Snapshot: a.Snapshot(),
		})
	}
	return append(out, o.finished...)
}

func (o *Orchestrator) raise(n Notification) {
	n.SessionID = o.session.ID
	n.Day = o.session.Day
	n.Phase = string(o.session.Phase)
	n.At = o.clock.Now()

	select {
	case o.notes <- n:
	default:
		o.log.WithField("kind", n.Kind).Warn("notification queue full, dropping")
	}
}

func (o *Orchestrator) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-o.notes:
			nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
			if err := o.notifier.Notify(nctx, n); err != nil {
				o.log.WithError(err).WithField("kind", n.Kind).Warn("notification failed")
			}
			cancel()
		}
	}
}
