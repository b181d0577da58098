package loom

import (
	"sync"
)

// Model is the interface implemented by all entity types managed by loom.
// It exposes the per-instance relation slots used to attach loaded related
// objects to the instance that loaded them. Embedding Entity satisfies it.
type Model interface {
	// SetRelation stores value under the named relation slot and marks
	// the relation as loaded.
	SetRelation(name string, value any)
	// Relation returns the value stored under the named relation slot,
	// or nil if the relation was never loaded.
	Relation(name string) any
	// RelationLoaded reports whether the named relation slot holds a value.
	RelationLoaded(name string) bool
}

// Tabler is implemented by models that override the conventional table name.
type Tabler interface {
	Table() string
}

// Related is implemented by models that declare named relations.
// The returned names are the relations that can be loaded on the model
// and the candidates considered by inverse-relation guessing.
type Related interface {
	RelationNames() []string
}

// Entity is the embeddable implementation of Model. The zero value is ready
// to use. It is safe for concurrent use so that several relations of the
// same instance can be eager-loaded in parallel.
type Entity struct {
	mu        sync.Mutex
	relations map[string]any
}

// SetRelation stores value under the named relation slot.
func (e *Entity) SetRelation(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.relations == nil {
		e.relations = make(map[string]any)
	}
	e.relations[name] = value
}

// Relation returns the value stored under the named relation slot.
func (e *Entity) Relation(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relations[name]
}

// RelationLoaded reports whether the named relation slot holds a value.
// A slot set to nil still counts as loaded.
func (e *Entity) RelationLoaded(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.relations[name]
	return ok
}

// UnsetRelation removes the named relation slot, if present.
func (e *Entity) UnsetRelation(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.relations, name)
}
