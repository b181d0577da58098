package relation

import (
	"reflect"

	"github.com/samlev/loom"
	"github.com/samlev/loom/names"
)

// Inverse configures the relation slot set on every related model to point
// back at the parent instance. With an empty name the inverse relation is
// guessed from the relation's key conventions and the parent type name.
//
// The resolved name must be a relation declared on the related model;
// otherwise a RelationNotFoundError is returned and nothing is registered.
// On the first successful call an after-query hook is registered on the
// underlying query; the hook reads the inverse name configured at execution
// time, so later Inverse and WithoutInverse calls take effect without
// re-registering.
func (r *Relation) Inverse(name string) (*Relation, error) {
	if name == "" {
		name = r.GuessInverseRelation()
	}
	if name == "" || !r.related.IsRelation(name) {
		attempted := name
		if attempted == "" {
			attempted = "null"
		}
		return nil, loom.NewRelationNotFoundError(r.related.Name(), attempted)
	}
	if !r.hooked {
		r.query.AfterQuery(func(models []loom.Model) []loom.Model {
			return r.ApplyInverse(models)
		})
		r.hooked = true
	}
	r.inverse = name
	return r, nil
}

// WithoutInverse removes the configured inverse relation. The registered
// after-query hook stays in place and becomes a no-op.
func (r *Relation) WithoutInverse() *Relation {
	r.inverse = ""
	return r
}

// InverseRelationship returns the configured inverse relation name,
// or the empty string when none is configured.
func (r *Relation) InverseRelationship() string {
	return r.inverse
}

// PossibleInverseRelations returns the candidate inverse relation names, in
// guessing order: the foreign key stripped of the key suffix, the parent
// type name, "ownedBy", and "owner". When the related model is exactly the
// parent's runtime type, "parent" and "ancestor" are appended. Empty
// candidates are filtered out.
func (r *Relation) PossibleInverseRelations() []string {
	candidates := []string{
		names.Camelize(names.StripSuffix(r.foreignKey, r.localKey)),
		names.Camelize(names.TypeName(r.parent)),
		"ownedBy",
		"owner",
	}
	if reflect.TypeOf(r.parent) == r.related.ModelType() {
		candidates = append(candidates, "parent", "ancestor")
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// GuessInverseRelation returns the first candidate from
// PossibleInverseRelations that the related model declares as a relation,
// or the empty string when none matches. Candidates after the first match
// are not probed.
func (r *Relation) GuessInverseRelation() string {
	for _, candidate := range r.PossibleInverseRelations() {
		if r.related.IsRelation(candidate) {
			return candidate
		}
	}
	return ""
}

// ApplyInverse sets the configured inverse relation slot of every model to
// the given parent instance, defaulting to the relation's own parent. The
// same slice is returned for chaining. It is a no-op when no inverse
// relation is configured.
func (r *Relation) ApplyInverse(models []loom.Model, parent ...loom.Model) []loom.Model {
	if r.inverse == "" {
		return models
	}
	p := r.parent
	if len(parent) > 0 && parent[0] != nil {
		p = parent[0]
	}
	for _, m := range models {
		m.SetRelation(r.inverse, p)
	}
	return models
}
