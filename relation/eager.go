package relation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samlev/loom"
	"github.com/samlev/loom/query"
)

// Build constructs the relation for a single parent instance. It is how the
// eager loader learns the relation's keys and inverse configuration.
type Build func(parent loom.Model) (*Relation, error)

// Load eager-loads several named relations for a batch of parents, one
// goroutine per relation name. Each loaded set of children is stored under
// its relation name on the owning parent.
func Load(ctx context.Context, parents []loom.Model, relations map[string]Build) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, build := range relations {
		name, build := name, build
		g.Go(func() error {
			return LoadMany(ctx, name, parents, build)
		})
	}
	return g.Wait()
}

// LoadMany eager-loads one named relation for a batch of parents with a
// single IN query, groups the children by foreign key, and stores each group
// under the relation name on its parent. When the relation carries an
// inverse configuration, every child is stamped with its exact parent
// instance, the same way the per-parent fetch path does.
func LoadMany(ctx context.Context, name string, parents []loom.Model, build Build) error {
	if len(parents) == 0 {
		return nil
	}
	rels := make([]*Relation, len(parents))
	keys := make([]any, len(parents))
	for i, p := range parents {
		rel, err := build(p)
		if err != nil {
			return err
		}
		key, err := rel.parentDesc.Value(p, rel.localKey)
		if err != nil {
			return err
		}
		rels[i], keys[i] = rel, key
	}
	tmpl := rels[0]
	if tmpl.kind == KindBelongsTo {
		return fmt.Errorf("relation: eager loading %q: belongs-to batches are not supported", name)
	}
	children, err := query.New(tmpl.drv, tmpl.relatedDesc).
		WhereIn(tmpl.foreignKey, keys...).
		All(ctx)
	if err != nil {
		return err
	}
	groups := make(map[string][]loom.Model, len(parents))
	for _, c := range children {
		fkv, err := tmpl.relatedDesc.Value(c, tmpl.foreignKey)
		if err != nil {
			return err
		}
		k := fmt.Sprint(fkv)
		groups[k] = append(groups[k], c)
	}
	for i, p := range parents {
		group := groups[fmt.Sprint(keys[i])]
		rels[i].ApplyInverse(group, p)
		if tmpl.kind == KindHasOne {
			var one loom.Model
			if len(group) > 0 {
				one = group[0]
			}
			p.SetRelation(name, one)
			continue
		}
		p.SetRelation(name, group)
	}
	return nil
}
