package relation

import (
	"context"
	"fmt"

	"github.com/samlev/loom"
	"github.com/samlev/loom/hook"
)

// Make associates the model with the parent without persisting it: the
// foreign key is set to the parent key and, when an inverse relation is
// configured, the inverse slot is stamped. Only has-many and has-one
// relations can build children.
func (r *Relation) Make(m loom.Model) (loom.Model, error) {
	if r.kind == KindBelongsTo {
		return nil, fmt.Errorf("relation: cannot make %s through a belongs-to relation, use Associate", r.related.Name())
	}
	if err := r.setForeignAttributes(m); err != nil {
		return nil, err
	}
	r.ApplyInverse([]loom.Model{m})
	return m, nil
}

// MakeMany associates each model with the parent without persisting them.
// The same slice is returned for chaining.
func (r *Relation) MakeMany(models []loom.Model) ([]loom.Model, error) {
	for _, m := range models {
		if _, err := r.Make(m); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// Create associates the model with the parent and inserts it.
func (r *Relation) Create(ctx context.Context, m loom.Model) error {
	if _, err := r.Make(m); err != nil {
		return err
	}
	return r.query.CreateOne(ctx, m)
}

// CreateQuietly is like Create but bypasses the mutation hooks.
func (r *Relation) CreateQuietly(ctx context.Context, m loom.Model) error {
	return r.Create(hook.SkipHooks(ctx), m)
}

// CreateMany associates and inserts each model. Models that fail to insert
// do not stop the remaining inserts; the failures are returned combined.
func (r *Relation) CreateMany(ctx context.Context, models []loom.Model) error {
	errs := make([]error, 0, len(models))
	for _, m := range models {
		errs = append(errs, r.Create(ctx, m))
	}
	return loom.NewAggregateError(errs...)
}

// CreateManyQuietly is like CreateMany but bypasses the mutation hooks.
func (r *Relation) CreateManyQuietly(ctx context.Context, models []loom.Model) error {
	return r.CreateMany(hook.SkipHooks(ctx), models)
}

// Save associates the model with the parent and inserts or updates it
// depending on whether its primary key is assigned.
func (r *Relation) Save(ctx context.Context, m loom.Model) error {
	if r.kind == KindBelongsTo {
		return fmt.Errorf("relation: cannot save %s through a belongs-to relation", r.related.Name())
	}
	if err := r.setForeignAttributes(m); err != nil {
		return err
	}
	if err := r.query.SaveOne(ctx, m); err != nil {
		return err
	}
	r.ApplyInverse([]loom.Model{m})
	return nil
}

// SaveMany saves each model, combining any failures.
func (r *Relation) SaveMany(ctx context.Context, models []loom.Model) error {
	errs := make([]error, 0, len(models))
	for _, m := range models {
		errs = append(errs, r.Save(ctx, m))
	}
	return loom.NewAggregateError(errs...)
}

// Associate points a belongs-to child at the given owner by assigning the
// foreign key on the child.
func (r *Relation) Associate(owner loom.Model) error {
	if r.kind != KindBelongsTo {
		return fmt.Errorf("relation: Associate requires a belongs-to relation, got %s", r.kind)
	}
	pkv, err := r.relatedDesc.Value(owner, r.localKey)
	if err != nil {
		return err
	}
	return r.parentDesc.SetValue(r.parent, r.foreignKey, pkv)
}

// Dissociate clears the foreign key of a belongs-to child.
func (r *Relation) Dissociate() error {
	if r.kind != KindBelongsTo {
		return fmt.Errorf("relation: Dissociate requires a belongs-to relation, got %s", r.kind)
	}
	return r.parentDesc.SetValue(r.parent, r.foreignKey, nil)
}

// setForeignAttributes copies the parent key onto the child foreign key.
func (r *Relation) setForeignAttributes(m loom.Model) error {
	pkv, err := r.parentDesc.Value(r.parent, r.localKey)
	if err != nil {
		return err
	}
	return r.relatedDesc.SetValue(m, r.foreignKey, pkv)
}
