package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
)

// enterPhase records the phase change and starts whatever the phase runs.
func (o *Orchestrator) enterPhase(ctx context.Context, phase Phase) error {
	err := o.commit(ctx, fact.Draft{
		Type:    fact.TypePhaseChanged,
		Payload: fact.PhasePayload{Day: o.session.Day, Phase: string(phase)},
	})
	if err != nil {
		return err
	}

	o.session.Phase = phase
	o.stopPhaseTimer()

	o.log.WithFields(logrus.Fields{
		"day":   o.session.Day,
		"phase": phase,
	}).Info("phase changed")
	o.raise(Notification{
		Kind:    NotifyPhaseChanged,
		Players: o.session.Economy.Alive(),
		Message: fmt.Sprintf("Day %d: %s", o.session.Day, phase),
	})

	return o.resume(ctx)
}

// resume does the work of the current phase: spawning what has not run yet
// today, or ending the phase when there is nothing to wait for.
func (o *Orchestrator) resume(ctx context.Context) error {
	day := o.timeline.day(o.session.Day)
	now := o.clock.Now()

	switch o.session.Phase {
	case PhaseActivity:
		o.finished = nil
		o.spawnPlan(day.Social)
		o.spawnPlan(day.Activity)
		if !o.hasScope(cartridge.ScopeActivity) {
			return o.enterPhase(ctx, PhaseVoting)
		}

	case PhaseVoting:
		o.spawnPlan(day.Social)
		o.spawnPlan(day.Vote)
		if !o.hasScope(cartridge.ScopeVoting) {
			return o.enterPhase(ctx, PhaseNight)
		}

	case PhaseNight:
		if err := o.cancelAll(ctx, now); err != nil {
			return err
		}
		if o.gameOver() {
			return o.enterPhase(ctx, PhaseGameOver)
		}
		o.armNight()

	case PhaseGameOver:
		if err := o.cancelAll(ctx, now); err != nil {
			return err
		}
		return o.declareWinner(ctx)
	}

	return nil
}

func (o *Orchestrator) gameOver() bool {
	return len(o.session.Economy.Alive()) <= o.timeline.Finalists ||
		o.session.Day >= len(o.timeline.Days)
}

func (o *Orchestrator) endNight(ctx context.Context) error {
	o.stopPhaseTimer()
	o.session.Day++
	return o.enterPhase(ctx, PhaseActivity)
}

func (o *Orchestrator) armNight() {
	if o.timeline.NightDuration <= 0 {
		return
	}
	dl := o.clock.Now().Add(o.timeline.NightDuration)
	o.phaseDeadline = dl
	o.phaseTimer = o.clock.AfterFunc(o.timeline.NightDuration, func() {
		_ = o.Enqueue(Event{Type: TypeTimer, Deadline: dl})
	})
}

func (o *Orchestrator) stopPhaseTimer() {
	if o.phaseTimer != nil {
		o.phaseTimer.Stop()
		o.phaseTimer = nil
	}
	o.phaseDeadline = time.Time{}
}

// declareWinner pays the gold pool to the alive player with the most
// silver. Ties go to whoever joined first.
func (o *Orchestrator) declareWinner(ctx context.Context) error {
	if o.session.Winner != "" {
		return nil
	}

	var best *fact.Player
	for _, id := range o.session.Economy.Alive() {
		p := o.session.Economy.Player(id)
		if best == nil || p.Silver > best.Silver {
			best = p
		}
	}
	if best == nil {
		return nil
	}

	err := o.commit(ctx, fact.Draft{
		Type:    fact.TypeWinnerDeclared,
		Payload: fact.WinnerPayload{PlayerID: best.ID, Gold: o.session.Economy.GoldPool},
	})
	if err != nil {
		return err
	}

	o.log.WithFields(logrus.Fields{
		"winner": best.ID,
		"silver": best.Silver,
		"gold":   best.Gold,
	}).Info("game over")
	o.raise(Notification{
		Kind:    NotifyGameOver,
		Players: []string{best.ID},
		Message: best.Name + " wins",
	})
	return nil
}

// Restore rebuilds the session from its ledger and re-enters the phase it
// was in, respawning only the cartridges that had not produced a result.
// Respawned cartridges keep the per-player results they already emitted;
// decisions that had not produced a fact are collected again.
// It must be called before Run.
func (o *Orchestrator) Restore(ctx context.Context) error {
	facts, err := o.ledger.Open(ctx)
	if err != nil {
		o.halt(err)
		return err
	}

	econ, err := o.reconciler.Replay(facts)
	if err != nil {
		err = fmt.Errorf("replay: %w", err)
		o.halt(err)
		return err
	}

	s := newSession(o.session.ID)
	s.Economy = econ
	s.Version = uint64(len(facts))
	for _, f := range facts {
		switch f.Type {
		case fact.TypePhaseChanged:
			var p fact.PhasePayload
			if err := f.Decode(&p); err == nil {
				s.Day, s.Phase = p.Day, Phase(p.Phase)
			}
		case fact.TypeGameResult:
			var p fact.ResultPayload
			if err := f.Decode(&p); err == nil {
				s.markCompleted(p.Day, cartridge.Kind(p.Kind))
				delete(s.settled, p.CartridgeID)
			}
		case fact.TypePlayerGameResult:
			var p fact.PlayerResultPayload
			if err := f.Decode(&p); err == nil {
				s.settled[p.CartridgeID] = append(s.settled[p.CartridgeID], p)
			}
		case fact.TypeWinnerDeclared:
			var p fact.WinnerPayload
			if err := f.Decode(&p); err == nil {
				s.Winner = p.PlayerID
			}
		}
	}
	o.session = s

	o.log.WithFields(logrus.Fields{
		"facts":   len(facts),
		"day":     s.Day,
		"phase":   s.Phase,
		"players": len(econ.Order),
	}).Info("session restored")

	o.dirty = true
	if err := o.resume(ctx); err != nil {
		o.halt(err)
		return err
	}
	return nil
}
