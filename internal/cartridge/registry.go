package cartridge

import (
	"fmt"
	"sort"

	"github.com/Seednode/castaway/internal/fact"
)

// Descriptor is what the orchestrator knows about a kind without running it.
type Descriptor struct {
	Kind       Kind
	Scope      Scope
	Composable bool
	Emission   Emission
	AllowDebit bool
	New        func(cfg Config, p Policies) (Actor, error)
}

// Registry maps each kind to its descriptor.
type Registry struct {
	byKind   map[Kind]Descriptor
	policies Policies
}

// NewRegistry returns a registry holding every built-in kind.
func NewRegistry(p Policies) *Registry {
	r := &Registry{
		byKind:   make(map[Kind]Descriptor),
		policies: p.withDefaults(),
	}
	for _, d := range []Descriptor{
		{Kind: KindVote, Scope: ScopeVoting, Emission: EmitBatch, New: newVote},
		{Kind: KindAuction, Scope: ScopeActivity, Emission: EmitBatch, AllowDebit: true, New: newAuction},
		{Kind: KindPoll, Scope: ScopePoll, Composable: true, Emission: EmitBatch, New: newPoll},
		{Kind: KindPrompt, Scope: ScopePrompt, Emission: EmitBatch, New: newPrompt},
		{Kind: KindTrivia, Scope: ScopeActivity, Emission: EmitBatch, New: newTrivia},
		{Kind: KindArcade, Scope: ScopeActivity, Emission: EmitPerPlayer, New: newArcade},
	} {
		r.byKind[d.Kind] = d
	}
	return r
}

// Lookup returns the descriptor of kind.
func (r *Registry) Lookup(kind Kind) (Descriptor, bool) {
	d, ok := r.byKind[kind]
	return d, ok
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Spawn builds an actor of kind from cfg.
func (r *Registry) Spawn(kind Kind, cfg Config) (Actor, Descriptor, error) {
	d, ok := r.byKind[kind]
	if !ok {
		return nil, Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	a, err := d.New(cfg, r.policies)
	if err != nil {
		return nil, d, err
	}
	return a, d, nil
}

// Contract returns the reconciler contract for a kind name.
func (r *Registry) Contract(kind string) fact.Contract {
	d, ok := r.byKind[Kind(kind)]
	if !ok {
		return fact.Contract{}
	}
	return fact.Contract{AllowDebit: d.AllowDebit}
}

// Conflicts reports whether starting next while active runs would put two
// cartridges in one scope. Two composable kinds may share a scope.
func Conflicts(active, next Descriptor) bool {
	if active.Scope != next.Scope {
		return false
	}
	return !(active.Composable && next.Composable)
}
