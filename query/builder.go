// Package query executes SELECT and write statements for loom models on top
// of a dialect.Driver. The Builder carries simple equality/IN predicates,
// ordering and limits, an after-query hook chain invoked once per execution
// with the scanned result set, and an optional msgpack-encoded result cache.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samlev/loom"
	"github.com/samlev/loom/dialect"
	sqldialect "github.com/samlev/loom/dialect/sql"
	"github.com/samlev/loom/hook"
	"github.com/samlev/loom/schema"
)

// Hook is a post-execution transform applied to the scanned result set.
// Hooks run in registration order and may mutate the models in place.
type Hook func([]loom.Model) []loom.Model

// Builder builds and executes statements for a single model type.
type Builder struct {
	drv       dialect.Driver
	desc      *schema.Descriptor
	preds     []pred
	order     []string
	limit     int
	hooks     []Hook
	mutHooks  []hook.Hook
	cache     loom.Cache
	ttl       time.Duration
}

type pred struct {
	col  string
	op   string // "=" or "IN"
	args []any
}

// New returns a Builder for the model type described by desc.
func New(drv dialect.Driver, desc *schema.Descriptor) *Builder {
	return &Builder{drv: drv, desc: desc, limit: -1}
}

// Descriptor returns the descriptor of the model type this builder queries.
func (b *Builder) Descriptor() *schema.Descriptor { return b.desc }

// Where adds an equality predicate on the given column.
func (b *Builder) Where(col string, v any) *Builder {
	b.preds = append(b.preds, pred{col: col, op: "=", args: []any{v}})
	return b
}

// WhereIn adds an IN predicate on the given column.
func (b *Builder) WhereIn(col string, vs ...any) *Builder {
	b.preds = append(b.preds, pred{col: col, op: "IN", args: vs})
	return b
}

// Order appends ordering columns.
func (b *Builder) Order(cols ...string) *Builder {
	b.order = append(b.order, cols...)
	return b
}

// Limit sets the maximum number of rows to fetch.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// AfterQuery registers a post-execution hook. The hook is invoked once per
// query execution with the scanned result set, and its return value replaces
// the result set.
func (b *Builder) AfterQuery(h Hook) *Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Use registers mutation hooks applied by the write methods.
func (b *Builder) Use(hooks ...hook.Hook) *Builder {
	b.mutHooks = append(b.mutHooks, hooks...)
	return b
}

// WithCache attaches a result cache with the given TTL to the fetch path.
func (b *Builder) WithCache(c loom.Cache, ttl time.Duration) *Builder {
	b.cache, b.ttl = c, ttl
	return b
}

// Clone returns a copy of the builder, including predicates and hooks.
func (b *Builder) Clone() *Builder {
	c := *b
	c.preds = append([]pred(nil), b.preds...)
	c.order = append([]string(nil), b.order...)
	c.hooks = append([]Hook(nil), b.hooks...)
	c.mutHooks = append([]hook.Hook(nil), b.mutHooks...)
	return &c
}

// All executes the query and returns all matching models, after running the
// after-query hook chain on the scanned result set.
func (b *Builder) All(ctx context.Context) ([]loom.Model, error) {
	rows, err := b.fetch(ctx)
	if err != nil {
		return nil, loom.NewQueryError(b.desc.Name(), "all", err)
	}
	models := make([]loom.Model, len(rows))
	for i, row := range rows {
		m := b.desc.New()
		if err := b.desc.Fill(m, row); err != nil {
			return nil, loom.NewQueryError(b.desc.Name(), "all", err)
		}
		models[i] = m
	}
	return b.runHooks(models), nil
}

// First executes the query limited to a single row. It returns a
// NotFoundError when no row matches.
func (b *Builder) First(ctx context.Context) (loom.Model, error) {
	models, err := b.Clone().Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, loom.NewNotFoundError(b.desc.Name())
	}
	return models[0], nil
}

// Only executes the query expecting exactly one result. It returns a
// NotFoundError when no row matches and a NotSingularError when more
// than one does.
func (b *Builder) Only(ctx context.Context) (loom.Model, error) {
	models, err := b.Clone().Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return nil, loom.NewNotFoundError(b.desc.Name())
	default:
		return nil, loom.NewNotSingularErrorWithCount(b.desc.Name(), len(models))
	}
}

// Exist reports whether the query matches at least one row.
func (b *Builder) Exist(ctx context.Context) (bool, error) {
	_, err := b.First(ctx)
	switch {
	case err == nil:
		return true, nil
	case loom.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (b *Builder) runHooks(models []loom.Model) []loom.Model {
	for _, h := range b.hooks {
		models = h(models)
	}
	return models
}

// fetch returns the raw rows, consulting the cache when one is attached.
func (b *Builder) fetch(ctx context.Context) ([]map[string]any, error) {
	stmt, args := b.selectSQL()
	var key string
	if b.cache != nil {
		key = loom.CacheKey{
			Table:      b.desc.Table(),
			Operation:  "all",
			Predicates: fmt.Sprintf("%s%v", stmt, args),
			OrderBy:    strings.Join(b.order, ","),
			Limit:      b.limit,
		}.String()
		if rows, ok, err := cacheGet(ctx, b.cache, key); err != nil {
			return nil, err
		} else if ok {
			return rows, nil
		}
	}
	var rows sqldialect.Rows
	if err := b.drv.Query(ctx, stmt, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	scanned, err := scanRows(&rows)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if err := cacheSet(ctx, b.cache, key, scanned, b.ttl); err != nil {
			return nil, err
		}
	}
	return scanned, nil
}

func (b *Builder) selectSQL() (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	cols := b.desc.Columns()
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.desc.Table())
	args = b.writeWhere(&sb, args)
	if len(b.order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.order, ", "))
	}
	if b.limit >= 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), args
}

func (b *Builder) writeWhere(sb *strings.Builder, args []any) []any {
	for i, p := range b.preds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		switch p.op {
		case "IN":
			sb.WriteString(p.col)
			sb.WriteString(" IN (")
			for j := range p.args {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(b.placeholder(len(args) + j + 1))
			}
			sb.WriteString(")")
		default:
			sb.WriteString(p.col)
			sb.WriteString(" ")
			sb.WriteString(p.op)
			sb.WriteString(" ")
			sb.WriteString(b.placeholder(len(args) + 1))
		}
		args = append(args, p.args...)
	}
	return args
}

func (b *Builder) placeholder(n int) string {
	if b.drv.Dialect() == dialect.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// scanRows reads all rows into column-keyed maps.
func scanRows(rows *sqldialect.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(any)
		}
		if err := rows.Scan(vals...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = *(vals[i].(*any))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
