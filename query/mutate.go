package query

import (
	"context"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/samlev/loom"
	"github.com/samlev/loom/dialect"
	sqldialect "github.com/samlev/loom/dialect/sql"
	"github.com/samlev/loom/hook"
)

// mutation implements hook.Mutation for a single-model write.
type mutation struct {
	op    hook.Op
	model loom.Model
}

func (m mutation) Op() hook.Op       { return m.op }
func (m mutation) Model() loom.Model { return m.model }

// CreateOne inserts the model, running the registered mutation hooks first
// unless the context carries hook.SkipHooks. A generated primary key
// (UUID for string keys, auto-increment for integer keys) is written back
// onto the model.
func (b *Builder) CreateOne(ctx context.Context, m loom.Model) error {
	mut := hook.Apply(ctx, hook.MutatorFunc(func(ctx context.Context, mu hook.Mutation) error {
		return b.insert(ctx, mu.Model())
	}), b.mutHooks)
	if err := mut.Mutate(ctx, mutation{op: hook.OpCreate, model: m}); err != nil {
		return loom.NewMutationError(b.desc.Name(), "create", err)
	}
	return nil
}

// UpdateOne updates the model row identified by its primary key.
func (b *Builder) UpdateOne(ctx context.Context, m loom.Model) error {
	mut := hook.Apply(ctx, hook.MutatorFunc(func(ctx context.Context, mu hook.Mutation) error {
		return b.update(ctx, mu.Model())
	}), b.mutHooks)
	if err := mut.Mutate(ctx, mutation{op: hook.OpUpdate, model: m}); err != nil {
		return loom.NewMutationError(b.desc.Name(), "update", err)
	}
	return nil
}

// SaveOne inserts the model when its primary key is unassigned and updates
// it otherwise.
func (b *Builder) SaveOne(ctx context.Context, m loom.Model) error {
	pkv, err := b.desc.PrimaryKeyValue(m)
	if err != nil {
		return loom.NewMutationError(b.desc.Name(), "save", err)
	}
	if pkv == nil || reflect.ValueOf(pkv).IsZero() {
		return b.CreateOne(ctx, m)
	}
	return b.UpdateOne(ctx, m)
}

// DeleteOne deletes the model row identified by its primary key.
func (b *Builder) DeleteOne(ctx context.Context, m loom.Model) error {
	mut := hook.Apply(ctx, hook.MutatorFunc(func(ctx context.Context, mu hook.Mutation) error {
		return b.delete(ctx, mu.Model())
	}), b.mutHooks)
	if err := mut.Mutate(ctx, mutation{op: hook.OpDelete, model: m}); err != nil {
		return loom.NewMutationError(b.desc.Name(), "delete", err)
	}
	return nil
}

func (b *Builder) insert(ctx context.Context, m loom.Model) error {
	b.mayAssignKey(m)
	row, err := b.desc.Row(m)
	if err != nil {
		return err
	}
	var (
		cols []string
		args []any
		sb   strings.Builder
	)
	for _, col := range b.desc.Columns() {
		v, ok := row[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
	}
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.desc.Table())
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.placeholder(i + 1))
	}
	sb.WriteString(")")
	var res sqldialect.Result
	if err := b.drv.Exec(ctx, sb.String(), args, &res); err != nil {
		return wrapConstraint(err)
	}
	return b.mayAssignGeneratedKey(m, res)
}

func (b *Builder) update(ctx context.Context, m loom.Model) error {
	row, err := b.desc.Row(m)
	if err != nil {
		return err
	}
	pkv, err := b.desc.PrimaryKeyValue(m)
	if err != nil {
		return err
	}
	var (
		args []any
		sb   strings.Builder
	)
	sb.WriteString("UPDATE ")
	sb.WriteString(b.desc.Table())
	sb.WriteString(" SET ")
	first := true
	for _, col := range b.desc.Columns() {
		if col == b.desc.PrimaryKey() {
			continue
		}
		v, ok := row[col]
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(col)
		sb.WriteString(" = ")
		sb.WriteString(b.placeholder(len(args) + 1))
		args = append(args, v)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(b.desc.PrimaryKey())
	sb.WriteString(" = ")
	sb.WriteString(b.placeholder(len(args) + 1))
	args = append(args, pkv)
	if err := b.drv.Exec(ctx, sb.String(), args, nil); err != nil {
		return wrapConstraint(err)
	}
	return nil
}

func (b *Builder) delete(ctx context.Context, m loom.Model) error {
	pkv, err := b.desc.PrimaryKeyValue(m)
	if err != nil {
		return err
	}
	stmt := "DELETE FROM " + b.desc.Table() + " WHERE " + b.desc.PrimaryKey() + " = " + b.placeholder(1)
	if err := b.drv.Exec(ctx, stmt, []any{pkv}, nil); err != nil {
		return wrapConstraint(err)
	}
	return nil
}

// mayAssignKey assigns a generated UUID to an unassigned string primary key
// before the insert is built.
func (b *Builder) mayAssignKey(m loom.Model) {
	pkv, err := b.desc.PrimaryKeyValue(m)
	if err != nil {
		return
	}
	if s, ok := pkv.(string); ok && s == "" {
		_ = b.desc.SetValue(m, b.desc.PrimaryKey(), uuid.NewString())
	}
}

// mayAssignGeneratedKey writes an auto-increment key back onto an
// unassigned integer primary key. Postgres reports no LastInsertId,
// its generated keys stay server-side.
func (b *Builder) mayAssignGeneratedKey(m loom.Model, res sqldialect.Result) error {
	if b.drv.Dialect() == dialect.Postgres || res == nil {
		return nil
	}
	pkv, err := b.desc.PrimaryKeyValue(m)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(pkv)
	if !rv.IsValid() || !rv.CanInt() || rv.Int() != 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil
	}
	return b.desc.SetValue(m, b.desc.PrimaryKey(), id)
}

// wrapConstraint converts driver constraint violations into the typed
// loom.ConstraintError, leaving other errors untouched.
func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if sqldialect.IsConstraintError(err) {
		return loom.NewConstraintError(err.Error(), err)
	}
	return err
}
