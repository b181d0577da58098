// Package schema derives runtime descriptors for loom models. A Descriptor
// carries the table name, column mapping, primary/foreign key conventions,
// and declared relation names of a model type, and provides the reflection
// plumbing used by the query and relation packages to read and write model
// fields by column name.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/samlev/loom"
	"github.com/samlev/loom/names"
)

// Descriptor describes a model type. Descriptors are immutable once built
// and cached per type; use Describe to obtain one.
type Descriptor struct {
	typ       reflect.Type // pointer-to-struct type of the model
	name      string       // base type name
	table     string
	pk        string // primary key column
	fields    []*Field
	columns   map[string]*Field
	relations map[string]struct{}
}

// Field describes a single column-mapped struct field.
type Field struct {
	Name   string // struct field name
	Column string // column name
	PK     bool
	index  []int
	typ    reflect.Type
}

var descriptors sync.Map // reflect.Type -> *Descriptor

// Describe returns the Descriptor for the given model instance.
// The model must be a non-nil pointer to a struct. Descriptors are cached
// per concrete type.
func Describe(m loom.Model) (*Descriptor, error) {
	t := reflect.TypeOf(m)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: model must be a non-nil struct pointer, got %T", m)
	}
	if d, ok := descriptors.Load(t); ok {
		return d.(*Descriptor), nil
	}
	d, err := describe(t, m)
	if err != nil {
		return nil, err
	}
	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// MustDescribe is like Describe but panics on error. It is intended for
// use in variable initializers with statically known model types.
func MustDescribe(m loom.Model) *Descriptor {
	d, err := Describe(m)
	if err != nil {
		panic(err)
	}
	return d
}

func describe(t reflect.Type, m loom.Model) (*Descriptor, error) {
	st := t.Elem()
	d := &Descriptor{
		typ:       t,
		name:      st.Name(),
		columns:   make(map[string]*Field),
		relations: make(map[string]struct{}),
	}
	if tb, ok := m.(loom.Tabler); ok {
		d.table = tb.Table()
	} else {
		d.table = names.Tableize(st.Name())
	}
	if rd, ok := m.(loom.Related); ok {
		for _, name := range rd.RelationNames() {
			d.relations[name] = struct{}{}
		}
	}
	if err := d.collectFields(st, nil); err != nil {
		return nil, err
	}
	if d.pk == "" {
		// Conventional fallback: a field named ID maps to the "id" column.
		if f, ok := d.columns["id"]; ok {
			f.PK = true
			d.pk = "id"
		}
	}
	if d.pk == "" {
		return nil, fmt.Errorf("schema: model %s has no primary key field", st.Name())
	}
	return d, nil
}

func (d *Descriptor) collectFields(st reflect.Type, parent []int) error {
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.Anonymous {
			// Flatten embedded structs, skipping the Entity plumbing.
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft == reflect.TypeOf(loom.Entity{}) {
				continue
			}
			if ft.Kind() == reflect.Struct && sf.Type.Kind() != reflect.Pointer {
				if err := d.collectFields(ft, append(append([]int(nil), parent...), i)); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		column, pk, skip := parseTag(sf)
		if skip {
			continue
		}
		if column == "" {
			column = names.Snake(sf.Name)
		}
		if _, dup := d.columns[column]; dup {
			return fmt.Errorf("schema: model %s maps column %q twice", st.Name(), column)
		}
		f := &Field{
			Name:   sf.Name,
			Column: column,
			PK:     pk,
			index:  append(append([]int(nil), parent...), i),
			typ:    sf.Type,
		}
		d.fields = append(d.fields, f)
		d.columns[column] = f
		if pk {
			if d.pk != "" {
				return fmt.Errorf("schema: model %s declares multiple primary keys", st.Name())
			}
			d.pk = column
		}
	}
	return nil
}

// parseTag reads the `loom:"column[,pk]"` struct tag.
func parseTag(sf reflect.StructField) (column string, pk, skip bool) {
	tag, ok := sf.Tag.Lookup("loom")
	if !ok {
		return "", false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		return "", false, true
	}
	column = parts[0]
	for _, p := range parts[1:] {
		if p == "pk" {
			pk = true
		}
	}
	return column, pk, false
}

// Name returns the base type name of the model, e.g. "OrderItem".
func (d *Descriptor) Name() string { return d.name }

// Table returns the table name of the model.
func (d *Descriptor) Table() string { return d.table }

// PrimaryKey returns the primary key column name.
func (d *Descriptor) PrimaryKey() string { return d.pk }

// ForeignKey returns the conventional foreign-key column other tables use
// to reference this model, e.g. "order_item_id".
func (d *Descriptor) ForeignKey() string {
	return names.ForeignKey(d.name, d.pk)
}

// ModelType returns the pointer-to-struct type of the model.
func (d *Descriptor) ModelType() reflect.Type { return d.typ }

// IsRelation reports whether the model declares a relation with the
// given name.
func (d *Descriptor) IsRelation(name string) bool {
	_, ok := d.relations[name]
	return ok
}

// Columns returns the mapped column names in declaration order.
func (d *Descriptor) Columns() []string {
	cols := make([]string, len(d.fields))
	for i, f := range d.fields {
		cols[i] = f.Column
	}
	return cols
}

// New returns a new zero-valued instance of the model.
func (d *Descriptor) New() loom.Model {
	return reflect.New(d.typ.Elem()).Interface().(loom.Model)
}

// Value returns the value of the field mapped to the given column.
func (d *Descriptor) Value(m loom.Model, column string) (any, error) {
	f, ok := d.columns[column]
	if !ok {
		return nil, fmt.Errorf("schema: model %s has no column %q", d.name, column)
	}
	rv, err := d.structValue(m)
	if err != nil {
		return nil, err
	}
	return rv.FieldByIndex(f.index).Interface(), nil
}

// PrimaryKeyValue returns the value of the primary key field.
func (d *Descriptor) PrimaryKeyValue(m loom.Model) (any, error) {
	return d.Value(m, d.pk)
}

// SetValue assigns v to the field mapped to the given column, converting
// between compatible scalar representations (e.g. int64 rows into int
// fields, []byte into string).
func (d *Descriptor) SetValue(m loom.Model, column string, v any) error {
	f, ok := d.columns[column]
	if !ok {
		return fmt.Errorf("schema: model %s has no column %q", d.name, column)
	}
	rv, err := d.structValue(m)
	if err != nil {
		return err
	}
	fv := rv.FieldByIndex(f.index)
	return assign(fv, v)
}

// Fill assigns every column present in row to the matching model field.
// Columns without a mapped field are ignored.
func (d *Descriptor) Fill(m loom.Model, row map[string]any) error {
	for column, v := range row {
		if _, ok := d.columns[column]; !ok {
			continue
		}
		if err := d.SetValue(m, column, v); err != nil {
			return err
		}
	}
	return nil
}

// Row returns the column-to-value mapping of the model, excluding the
// primary key when it is the zero value (unassigned).
func (d *Descriptor) Row(m loom.Model) (map[string]any, error) {
	rv, err := d.structValue(m)
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		fv := rv.FieldByIndex(f.index)
		if f.PK && fv.IsZero() {
			continue
		}
		row[f.Column] = fv.Interface()
	}
	return row, nil
}

func (d *Descriptor) structValue(m loom.Model) (reflect.Value, error) {
	rv := reflect.ValueOf(m)
	if rv.Type() != d.typ {
		return reflect.Value{}, fmt.Errorf("schema: expected model of type %s, got %T", d.typ, m)
	}
	if rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("schema: nil model of type %s", d.typ)
	}
	return rv.Elem(), nil
}

// assign converts v into a value assignable to fv and sets it.
func assign(fv reflect.Value, v any) error {
	if v == nil {
		fv.SetZero()
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == fv.Type() {
		fv.Set(rv)
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		switch x := v.(type) {
		case []byte:
			fv.SetString(string(x))
			return nil
		case string:
			fv.SetString(x)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.CanInt() {
			fv.SetInt(rv.Int())
			return nil
		}
		if rv.CanFloat() {
			fv.SetInt(int64(rv.Float()))
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.CanInt() {
			fv.SetUint(uint64(rv.Int()))
			return nil
		}
		if rv.CanUint() {
			fv.SetUint(rv.Uint())
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if rv.CanFloat() {
			fv.SetFloat(rv.Float())
			return nil
		}
		if rv.CanInt() {
			fv.SetFloat(float64(rv.Int()))
			return nil
		}
	case reflect.Bool:
		if rv.CanInt() {
			fv.SetBool(rv.Int() != 0)
			return nil
		}
	case reflect.Struct:
		if fv.Type() == reflect.TypeOf(time.Time{}) {
			switch x := v.(type) {
			case time.Time:
				fv.Set(reflect.ValueOf(x))
				return nil
			case string:
				t, err := time.Parse(time.RFC3339, x)
				if err != nil {
					return fmt.Errorf("schema: cannot parse time %q: %w", x, err)
				}
				fv.Set(reflect.ValueOf(t))
				return nil
			}
		}
	}
	if rv.Type().ConvertibleTo(fv.Type()) {
		fv.Set(rv.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("schema: cannot assign %T to field of type %s", v, fv.Type())
}
