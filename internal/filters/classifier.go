// internal/filters/classifier.go
package filters

import (
	"fmt"
	"strings"

	"github.com/solatis/propfilter/internal/types"
)

/*
 * Filter classification.
 *
 * Maps each property leaf to exactly one scope. The scope decides where the
 * leaf is compiled: inline against the events table (Event, Group, RawExpr),
 * through a person lookup (Person), or through a cohort membership lookup
 * (Cohort).
 *
 * Raw expressions are classified by what they reference. An expression
 * touching "properties." without a "person." qualifier reads event columns;
 * one touching "person.properties" reads person columns. An expression that
 * references both is classified as Event: it compiles inline, where the
 * events table exposes person columns through its lazy join.
 *
 * The predicates below are pure and mutually exclusive; Classify is their
 * only combinator and fails loudly on unknown tags.
 */

// Scope is the compilation target of a leaf.
type Scope int

const (
	ScopeEvent Scope = iota
	ScopePerson
	ScopeGroup
	ScopeCohort
	ScopeRawExpr
)

// String returns the lowercase scope name.
func (s Scope) String() string {
	switch s {
	case ScopeEvent:
		return "event"
	case ScopePerson:
		return "person"
	case ScopeGroup:
		return "group"
	case ScopeCohort:
		return "cohort"
	case ScopeRawExpr:
		return "raw_expr"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Tag returns the canonical property type tag for a scope.
func (s Scope) Tag() types.PropertyType {
	switch s {
	case ScopePerson:
		return types.PropertyTypePerson
	case ScopeGroup:
		return types.PropertyTypeGroup
	case ScopeCohort:
		return types.PropertyTypeCohort
	case ScopeRawExpr:
		return types.PropertyTypeHogQL
	default:
		return types.PropertyTypeEvent
	}
}

// Classify returns the scope of leaf.
// Returns ErrUnknownPropertyType for tags outside the closed set.
func Classify(leaf *types.PropertyLeaf) (Scope, error) {
	switch {
	case IsCohortProperty(leaf):
		return ScopeCohort, nil
	case IsEventProperty(leaf):
		return ScopeEvent, nil
	case IsPersonProperty(leaf):
		return ScopePerson, nil
	case IsGroupProperty(leaf):
		return ScopeGroup, nil
	case leaf.Type == types.PropertyTypeHogQL:
		return ScopeRawExpr, nil
	}
	return 0, fmt.Errorf("%w: %q", types.ErrUnknownPropertyType, leaf.Type)
}

// IsCohortProperty reports whether the leaf's type tag names any cohort flavour.
func IsCohortProperty(leaf *types.PropertyLeaf) bool {
	return strings.Contains(string(leaf.Type), "cohort")
}

// IsEventProperty reports whether the leaf reads event columns.
// Element leaves filter the event's element chain and count as event properties.
func IsEventProperty(leaf *types.PropertyLeaf) bool {
	switch leaf.Type {
	case types.PropertyTypeEvent, types.PropertyTypeElement:
		return true
	case types.PropertyTypeHogQL:
		return referencesEventProperties(leaf.Key)
	}
	return false
}

// IsPersonProperty reports whether the leaf reads person columns only.
func IsPersonProperty(leaf *types.PropertyLeaf) bool {
	switch leaf.Type {
	case types.PropertyTypePerson:
		return true
	case types.PropertyTypeHogQL:
		return strings.Contains(leaf.Key, "person.properties") && !referencesEventProperties(leaf.Key)
	}
	return false
}

// IsGroupProperty reports whether the leaf reads group columns.
func IsGroupProperty(leaf *types.PropertyLeaf) bool {
	return leaf.Type == types.PropertyTypeGroup
}

// referencesEventProperties reports whether expr contains "properties." at a
// position not immediately preceded by "person.".
func referencesEventProperties(expr string) bool {
	const (
		needle = "properties."
		person = "person."
	)
	offset := 0
	for {
		i := strings.Index(expr[offset:], needle)
		if i < 0 {
			return false
		}
		pos := offset + i
		if !strings.HasSuffix(expr[:pos], person) {
			return true
		}
		offset = pos + len(needle)
	}
}
