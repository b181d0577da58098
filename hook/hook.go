// Package hook provides the mutation hook machinery used by the query and
// relation packages. Hooks wrap a Mutator in middleware fashion and run
// before a model is written to the database. The "quietly" persistence
// variants are implemented with SkipHooks, a context switch the executor
// consults before applying its hook chain.
package hook

import (
	"context"
	"fmt"

	"github.com/samlev/loom"
)

// Op is a mutation operation.
type Op uint

// Mutation operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete
)

// Is reports whether o is contained in ops.
func (o Op) Is(ops Op) bool { return o&ops != 0 }

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// Mutation describes a pending write of a single model.
type Mutation interface {
	// Op returns the mutation operation.
	Op() Op
	// Model returns the model being written.
	Model() loom.Model
}

// Mutator is the interface that executes a mutation. The innermost Mutator
// performs the actual database write; hooks wrap it.
type Mutator interface {
	Mutate(context.Context, Mutation) error
}

// MutatorFunc is an adapter allowing ordinary functions to be used
// as mutators.
type MutatorFunc func(context.Context, Mutation) error

// Mutate returns f(ctx, m).
func (f MutatorFunc) Mutate(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// Hook is middleware around a Mutator.
type Hook func(Mutator) Mutator

// On returns a hook that applies hk only on the given operations,
// delegating straight to the next mutator otherwise.
func On(hk Hook, ops Op) Hook {
	return func(next Mutator) Mutator {
		wrapped := hk(next)
		return MutatorFunc(func(ctx context.Context, m Mutation) error {
			if m.Op().Is(ops) {
				return wrapped.Mutate(ctx, m)
			}
			return next.Mutate(ctx, m)
		})
	}
}

// Reject returns a hook that fails the given operations.
func Reject(ops Op) Hook {
	return On(func(Mutator) Mutator {
		return MutatorFunc(func(_ context.Context, m Mutation) error {
			return fmt.Errorf("loom/hook: operation %s is not allowed", m.Op())
		})
	}, ops)
}

// Apply wraps the mutator with the given hooks. The first hook becomes the
// outermost wrapper, so hooks run in registration order. If the context
// carries SkipHooks, the mutator is returned unwrapped.
func Apply(ctx context.Context, mut Mutator, hooks []Hook) Mutator {
	if Skipped(ctx) {
		return mut
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		mut = hooks[i](mut)
	}
	return mut
}

type skipKey struct{}

// SkipHooks returns a context under which mutation executors bypass their
// hook chains. Used by the relation package's CreateQuietly variants.
func SkipHooks(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

// Skipped reports whether the context was marked with SkipHooks.
func Skipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipKey{}).(bool)
	return skip
}
