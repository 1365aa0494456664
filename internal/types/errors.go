package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for filter compilation.
var (
	// ErrActionNotFound indicates an entity references an action id that does not resolve.
	ErrActionNotFound = errors.New("action not found")

	// ErrTeamNotFound indicates a request references an unknown team.
	ErrTeamNotFound = errors.New("team not found")

	// ErrUnknownPropertyType indicates a leaf carries a type tag no scope accepts.
	ErrUnknownPropertyType = errors.New("unknown property type")

	// ErrUnsupportedOperator indicates an operator that cannot be applied to the leaf.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnsupportedElementKey indicates an element leaf keyed on something other than
	// selector, tag_name, href or text.
	ErrUnsupportedElementKey = errors.New("unsupported element property key")

	// ErrScopeNotPlannable indicates a subquery was requested for a scope that is always inline.
	ErrScopeNotPlannable = errors.New("scope is never routed through a subquery")

	// ErrInvalidCombinator indicates a group combinator other than AND/OR.
	ErrInvalidCombinator = errors.New("invalid combinator")

	// ErrInvalidEntity indicates an entity with an unknown kind.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrGroupTooDeep indicates property groups nested beyond MaxGroupDepth.
	ErrGroupTooDeep = errors.New("property group exceeds maximum depth")

	// ErrInvalidValue indicates a leaf value that cannot become a SQL constant.
	ErrInvalidValue = errors.New("invalid property value")

	// ErrPathTooDeep indicates a field chain exceeds MaxPathDepth during evaluation.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrNotEvaluable indicates an expression the in-process evaluator cannot run,
	// such as a subquery or a raw fragment.
	ErrNotEvaluable = errors.New("expression cannot be evaluated in process")

	// ErrFieldNotFound indicates a field chain does not resolve in an event row.
	ErrFieldNotFound = errors.New("field not found")

	// ErrSelectorTooLong indicates a selector with more than MaxSelectorParts parts.
	ErrSelectorTooLong = errors.New("selector has too many parts")
)

// ActionNotFoundError reports the action id that failed to resolve.
// Matches ErrActionNotFound via errors.Is.
type ActionNotFoundError struct {
	ID int64
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("action %d not found", e.ID)
}

// Is reports whether target is ErrActionNotFound.
func (e *ActionNotFoundError) Is(target error) bool {
	return target == ErrActionNotFound
}
