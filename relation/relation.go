// Package relation loads and persists related models. A Relation is a query
// scoped to the objects related to a single parent instance; it can bind the
// results back to that parent through an inverse relation slot, so that
// children fetched, built, or saved through the relation always carry a
// reference to the exact parent instance that produced them.
package relation

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/samlev/loom"
	"github.com/samlev/loom/dialect"
	"github.com/samlev/loom/hook"
	"github.com/samlev/loom/query"
	"github.com/samlev/loom/schema"
)

// Kind is the cardinality of a relation.
type Kind uint8

// Relation kinds.
const (
	KindHasMany Kind = iota + 1
	KindHasOne
	KindBelongsTo
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHasMany:
		return "has_many"
	case KindHasOne:
		return "has_one"
	case KindBelongsTo:
		return "belongs_to"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Describer describes the related model type. It is the slice of the schema
// descriptor the inverse binder depends on; *schema.Descriptor implements it.
type Describer interface {
	// Name returns the base type name of the related model.
	Name() string
	// ModelType returns the pointer-to-struct type of the related model.
	ModelType() reflect.Type
	// IsRelation reports whether the related model declares a relation
	// with the given name.
	IsRelation(name string) bool
}

// Relation is a query for the models related to a single parent instance.
// The zero value is not usable; use HasMany, HasOne, or BelongsTo.
type Relation struct {
	kind        Kind
	drv         dialect.Driver
	parent      loom.Model
	parentDesc  *schema.Descriptor
	related     Describer
	relatedDesc *schema.Descriptor
	query       *query.Builder
	foreignKey  string // column on the related table referencing the parent
	localKey    string // parent column the foreign key references
	inverse     string // relation slot stamped on fetched/persisted children
	hooked      bool   // after-query hook registered (at most once)
}

// Option configures a Relation.
type Option func(*Relation)

// WithForeignKey overrides the conventional foreign-key column.
func WithForeignKey(column string) Option {
	return func(r *Relation) { r.foreignKey = column }
}

// WithLocalKey overrides the parent column referenced by the foreign key.
func WithLocalKey(column string) Option {
	return func(r *Relation) { r.localKey = column }
}

// WithCache attaches a result cache to the relation's fetch path.
func WithCache(c loom.Cache, ttl time.Duration) Option {
	return func(r *Relation) { r.query.WithCache(c, ttl) }
}

// WithHooks registers mutation hooks applied by the relation's
// persistence methods.
func WithHooks(hooks ...hook.Hook) Option {
	return func(r *Relation) { r.query.Use(hooks...) }
}

// HasMany returns a one-to-many relation from parent to the related type.
// The related prototype is used for type information only.
func HasMany(drv dialect.Driver, parent, related loom.Model, opts ...Option) (*Relation, error) {
	return newRelation(KindHasMany, drv, parent, related, opts)
}

// HasOne returns a one-to-one relation from parent to the related type.
func HasOne(drv dialect.Driver, parent, related loom.Model, opts ...Option) (*Relation, error) {
	return newRelation(KindHasOne, drv, parent, related, opts)
}

// BelongsTo returns a many-to-one relation from child to its owner type.
// The child holds the foreign key; the relation queries the owner table.
func BelongsTo(drv dialect.Driver, child, owner loom.Model, opts ...Option) (*Relation, error) {
	return newRelation(KindBelongsTo, drv, child, owner, opts)
}

func newRelation(kind Kind, drv dialect.Driver, parent, related loom.Model, opts []Option) (*Relation, error) {
	parentDesc, err := schema.Describe(parent)
	if err != nil {
		return nil, err
	}
	relatedDesc, err := schema.Describe(related)
	if err != nil {
		return nil, err
	}
	r := &Relation{
		kind:        kind,
		drv:         drv,
		parent:      parent,
		parentDesc:  parentDesc,
		related:     relatedDesc,
		relatedDesc: relatedDesc,
		query:       query.New(drv, relatedDesc),
	}
	switch kind {
	case KindBelongsTo:
		r.foreignKey = relatedDesc.ForeignKey()
		r.localKey = relatedDesc.PrimaryKey()
	default:
		r.foreignKey = parentDesc.ForeignKey()
		r.localKey = parentDesc.PrimaryKey()
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.addConstraints(); err != nil {
		return nil, err
	}
	return r, nil
}

// addConstraints scopes the underlying query to the parent instance.
func (r *Relation) addConstraints() error {
	switch r.kind {
	case KindBelongsTo:
		// The child carries the foreign key; match the owner's key column.
		fkv, err := r.parentDesc.Value(r.parent, r.foreignKey)
		if err != nil {
			return err
		}
		r.query.Where(r.localKey, fkv)
	default:
		pkv, err := r.parentDesc.Value(r.parent, r.localKey)
		if err != nil {
			return err
		}
		r.query.Where(r.foreignKey, pkv)
	}
	return nil
}

// Kind returns the relation kind.
func (r *Relation) Kind() Kind { return r.kind }

// Parent returns the instance that owns this relation.
func (r *Relation) Parent() loom.Model { return r.parent }

// Model returns the descriptor of the related model type.
func (r *Relation) Model() Describer { return r.related }

// ForeignKey returns the foreign-key column of the relation.
func (r *Relation) ForeignKey() string { return r.foreignKey }

// LocalKey returns the key column the foreign key references.
func (r *Relation) LocalKey() string { return r.localKey }

// Query returns the underlying query builder.
func (r *Relation) Query() *query.Builder { return r.query }

// All fetches all related models. The after-query hooks run on the result
// set before it is returned, stamping the inverse slot when configured.
func (r *Relation) All(ctx context.Context) ([]loom.Model, error) {
	return r.query.All(ctx)
}

// First fetches the first related model.
func (r *Relation) First(ctx context.Context) (loom.Model, error) {
	return r.query.First(ctx)
}

// Only fetches the single related model, failing when the relation
// matches zero or several rows.
func (r *Relation) Only(ctx context.Context) (loom.Model, error) {
	return r.query.Only(ctx)
}

// Exist reports whether the relation matches at least one row.
func (r *Relation) Exist(ctx context.Context) (bool, error) {
	return r.query.Exist(ctx)
}
