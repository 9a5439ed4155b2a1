package behavior

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// ErrBlackboardCycle is returned by AddParent when the new parent would make
// the parent graph cyclic.
var ErrBlackboardCycle = errors.New("behavior: blackboard parent cycle")

// Blackboard is a key/value store shared between tasks. Lookups that miss
// locally fall back to the parents, in the order they were added.
type Blackboard struct {
	mu      sync.RWMutex
	data    map[any]any
	parents []*Blackboard
}

func NewBlackboard(parents ...*Blackboard) *Blackboard {
	b := &Blackboard{data: make(map[any]any)}
	for _, p := range parents {
		if p != nil {
			b.parents = append(b.parents, p)
		}
	}
	return b
}

func (b *Blackboard) SetValue(key, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[any]any)
	}
	b.data[key] = value
}

// Delete removes key from this blackboard only; parents are untouched.
func (b *Blackboard) Delete(key any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// Lookup finds key locally, then in each parent in order.
func (b *Blackboard) Lookup(key any) (any, bool) {
	b.mu.RLock()
	v, ok := b.data[key]
	parents := b.parents
	b.mu.RUnlock()
	if ok {
		return v, true
	}
	for _, p := range parents {
		if v, ok := p.Lookup(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key resolves through Lookup.
func (b *Blackboard) Has(key any) bool {
	_, ok := b.Lookup(key)
	return ok
}

// HasLocal reports whether key is stored on this blackboard itself.
func (b *Blackboard) HasLocal(key any) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[key]
	return ok
}

// Keys returns the local keys.
func (b *Blackboard) Keys() []any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]any, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys
}

func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Clear removes every local entry.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.data)
}

// Snapshot returns a shallow copy of the local entries.
func (b *Blackboard) Snapshot() map[any]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[any]any, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

// Flatten resolves every reachable key the way Lookup would and returns the
// result keyed by string. Non-string keys are formatted with %v.
func (b *Blackboard) Flatten() map[string]any {
	out := make(map[string]any)
	b.flattenInto(out)
	return out
}

func (b *Blackboard) flattenInto(out map[string]any) {
	b.mu.RLock()
	for k, v := range b.data {
		name := keyString(k)
		if _, seen := out[name]; !seen {
			out[name] = v
		}
	}
	parents := b.parents
	b.mu.RUnlock()
	for _, p := range parents {
		p.flattenInto(out)
	}
}

func keyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

// topologyMu serializes parent changes so the cycle check and the append are
// atomic across blackboards.
var topologyMu sync.Mutex

// AddParent appends p to the fallback chain.
func (b *Blackboard) AddParent(p *Blackboard) error {
	if p == nil {
		return errors.New("behavior: nil parent blackboard")
	}
	topologyMu.Lock()
	defer topologyMu.Unlock()
	if p == b || p.reaches(b) {
		return ErrBlackboardCycle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.parents, p) {
		return nil
	}
	b.parents = append(slices.Clip(b.parents), p)
	return nil
}

// RemoveParent drops p from the fallback chain and reports whether it was
// present.
func (b *Blackboard) RemoveParent(p *Blackboard) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.parents, p)
	if i < 0 {
		return false
	}
	b.parents = slices.Delete(slices.Clone(b.parents), i, i+1)
	return true
}

func (b *Blackboard) Parents() []*Blackboard {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.parents)
}

// reaches reports whether target is b or one of its ancestors.
func (b *Blackboard) reaches(target *Blackboard) bool {
	if b == target {
		return true
	}
	for _, p := range b.Parents() {
		if p.reaches(target) {
			return true
		}
	}
	return false
}

// TypeMismatchError is the panic value of GetValue when the stored value has
// a different type than requested.
type TypeMismatchError struct {
	Key  any
	Want string
	Got  any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("behavior: blackboard key %v holds %T, want %s", e.Key, e.Got, e.Want)
}

// TryGetValue looks key up and casts it to T. It reports false when the key
// is missing or holds a value of another type.
func TryGetValue[T any](b *Blackboard, key any) (T, bool) {
	var zero T
	raw, ok := b.Lookup(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetValue returns the value for key, or def when the key is missing. A
// value of the wrong type is a programming error and panics with a
// *TypeMismatchError.
func GetValue[T any](b *Blackboard, key any, def T) T {
	raw, ok := b.Lookup(key)
	if !ok {
		return def
	}
	if raw == nil {
		var zero T
		return zero
	}
	v, ok := raw.(T)
	if !ok {
		panic(&TypeMismatchError{Key: key, Want: reflect.TypeFor[T]().String(), Got: raw})
	}
	return v
}
