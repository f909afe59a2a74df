package ctrl

import "slices"

// Effect is one entry of the effect registry.
type Effect struct {
	ID   uint16 `yaml:"id"`
	Name string `yaml:"name"`
}

// Registry is the ordered list of selectable effects. Next and Prev wrap
// around. The zero value is an empty registry.
type Registry struct {
	effects []Effect
}

// NewRegistry returns a registry in the given order. Duplicate IDs keep their
// first position.
func NewRegistry(effects []Effect) *Registry {
	r := &Registry{}
	for _, e := range effects {
		if r.index(e.ID) < 0 {
			r.effects = append(r.effects, e)
		}
	}
	return r
}

// Len returns the number of effects.
func (r *Registry) Len() int { return len(r.effects) }

// First returns the ID of the first effect, or 0 for an empty registry.
func (r *Registry) First() uint16 {
	if len(r.effects) == 0 {
		return 0
	}
	return r.effects[0].ID
}

// Lookup returns the effect with id.
func (r *Registry) Lookup(id uint16) (Effect, bool) {
	if i := r.index(id); i >= 0 {
		return r.effects[i], true
	}
	return Effect{}, false
}

// Next returns the ID after cur. An unknown cur yields the first effect.
func (r *Registry) Next(cur uint16) uint16 {
	return r.step(cur, 1)
}

// Prev returns the ID before cur. An unknown cur yields the first effect.
func (r *Registry) Prev(cur uint16) uint16 {
	return r.step(cur, -1)
}

// Effects returns a copy of the registry contents.
func (r *Registry) Effects() []Effect {
	return slices.Clone(r.effects)
}

func (r *Registry) step(cur uint16, dir int) uint16 {
	n := len(r.effects)
	if n == 0 {
		return cur
	}
	i := r.index(cur)
	if i < 0 {
		return r.effects[0].ID
	}
	return r.effects[(i+dir+n)%n].ID
}

func (r *Registry) index(id uint16) int {
	return slices.IndexFunc(r.effects, func(e Effect) bool { return e.ID == id })
}
