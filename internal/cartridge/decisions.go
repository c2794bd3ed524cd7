package cartridge

// decisions collects exactly one decision per eligible player.
type decisions[T any] struct {
	eligible map[string]bool
	order    []string
	byPlayer map[string]T
}

func newDecisions[T any](players []string) *decisions[T] {
	d := &decisions[T]{
		eligible: make(map[string]bool, len(players)),
		byPlayer: make(map[string]T, len(players)),
	}
	for _, p := range players {
		d.eligible[p] = true
	}
	return d
}

// submit records v for player. A second submission is ErrDuplicate and
// leaves the first untouched.
func (d *decisions[T]) submit(player string, v T) error {
	if !d.eligible[player] {
		return ErrIneligible
	}
	if _, ok := d.byPlayer[player]; ok {
		return ErrDuplicate
	}
	d.byPlayer[player] = v
	d.order = append(d.order, player)
	return nil
}

func (d *decisions[T]) complete() bool {
	return len(d.byPlayer) == len(d.eligible)
}

func (d *decisions[T]) count() int {
	return len(d.byPlayer)
}

// copyMap returns the decisions keyed by player.
func (d *decisions[T]) copyMap() map[string]T {
	out := make(map[string]T, len(d.byPlayer))
	for k, v := range d.byPlayer {
		out[k] = v
	}
	return out
}
