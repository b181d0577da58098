// Package names holds the identifier conventions shared by the schema and
// relation packages: snake_case column names, camelCase relation names, and
// pluralized table names.
package names

import (
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
)

// Camelize converts an identifier-like string to lower-first camelCase.
// Both snake_case and PascalCase inputs are supported:
// "parent_stub" and "ParentStub" both yield "parentStub".
func Camelize(s string) string {
	if s == "" {
		return ""
	}
	return inflect.CamelizeDownFirst(Snake(s))
}

// Pascalize converts an identifier-like string to upper-first CamelCase.
func Pascalize(s string) string {
	if s == "" {
		return ""
	}
	return inflect.Camelize(Snake(s))
}

// Snake converts an identifier-like string to snake_case. The ID initialism
// is kept as one word: "OwnerID" yields "owner_id", not "owner_i_d".
func Snake(s string) string {
	return inflect.Underscore(normalizeID(s))
}

// normalizeID rewrites the all-caps ID initialism to title case so that
// Underscore treats it as a single word. Runs of caps ("UUID") and words
// merely starting with the two letters ("Identity") are left alone.
func normalizeID(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 'I' && i+1 < len(s) && s[i+1] == 'D' &&
			(i == 0 || !isUpper(s[i-1])) &&
			(i+2 == len(s) || !isLower(s[i+2])) {
			sb.WriteString("Id")
			i++
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// Tableize returns the conventional table name for a type name,
// e.g. "OrderItem" becomes "order_items".
func Tableize(typeName string) string {
	return inflect.Tableize(typeName)
}

// ForeignKey returns the conventional foreign-key column referencing the
// given type with the given primary-key column, e.g. ("User", "id")
// becomes "user_id".
func ForeignKey(typeName, pk string) string {
	return Snake(typeName) + "_" + pk
}

// StripSuffix removes the given suffix from s, together with a trailing
// "_" separator left behind, e.g. ("parent_stub_id", "id") becomes
// "parent_stub". The string is returned unchanged when the suffix is absent.
func StripSuffix(s, suffix string) string {
	if suffix == "" || !strings.HasSuffix(s, suffix) {
		return s
	}
	return strings.TrimSuffix(strings.TrimSuffix(s, suffix), "_")
}

// TypeName returns the base (unqualified) type name of v, following
// pointers. It returns an empty string for nil and unnamed types.
func TypeName(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
