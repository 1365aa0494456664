// Package types provides domain models shared across propfilter components.
//
// Wire format: every type here round-trips through encoding/json using the field names
// the analytics frontend sends (type/key/operator/value for leaves, type/values for
// groups). Classification into scopes and compilation live in internal/filters; this
// package only describes the shapes.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RequestID represents a UUIDv7 compilation request identifier.
type RequestID string

// PropertyType is the raw type tag carried by a filter leaf on the wire.
// Classification maps it (and, for raw expressions, the key) to a scope.
type PropertyType string

const (
	PropertyTypeEvent               PropertyType = "event"
	PropertyTypePerson              PropertyType = "person"
	PropertyTypeGroup               PropertyType = "group"
	PropertyTypeCohort              PropertyType = "cohort"
	PropertyTypePrecalculatedCohort PropertyType = "precalculated-cohort"
	PropertyTypeStaticCohort        PropertyType = "static-cohort"
	PropertyTypeHogQL               PropertyType = "hogql"
	PropertyTypeElement             PropertyType = "element"
)

// Operator is a property comparison operator as sent on the wire.
type Operator string

const (
	OpExact        Operator = "exact"
	OpIsNot        Operator = "is_not"
	OpIContains    Operator = "icontains"
	OpNotIContains Operator = "not_icontains"
	OpRegex        Operator = "regex"
	OpNotRegex     Operator = "not_regex"
	OpGt           Operator = "gt"
	OpGte          Operator = "gte"
	OpLt           Operator = "lt"
	OpLte          Operator = "lte"
	OpIsSet        Operator = "is_set"
	OpIsNotSet     Operator = "is_not_set"
	OpIsDateExact  Operator = "is_date_exact"
	OpIsDateBefore Operator = "is_date_before"
	OpIsDateAfter  Operator = "is_date_after"
	OpBetween      Operator = "between"
	OpNotBetween   Operator = "not_between"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
)

// Combinator joins the children of a PropertyGroup.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Valid reports whether c is AND or OR.
func (c Combinator) Valid() bool {
	return c == CombinatorAnd || c == CombinatorOr
}

// PropertyNode is either a *PropertyLeaf or a *PropertyGroup.
type PropertyNode interface {
	propertyNode()
}

// PropertyLeaf is a single property condition.
// Immutable once decoded; compilation never writes back into it.
type PropertyLeaf struct {
	Type           PropertyType `json:"type" mapstructure:"type"`
	Key            string       `json:"key" mapstructure:"key"`
	Operator       Operator     `json:"operator,omitempty" mapstructure:"operator"`
	Value          any          `json:"value,omitempty" mapstructure:"value"`
	GroupTypeIndex *int         `json:"group_type_index,omitempty" mapstructure:"group_type_index"`
}

func (*PropertyLeaf) propertyNode() {}

// PropertyGroup is a recursive AND/OR tree of leaves and groups.
type PropertyGroup struct {
	Combinator Combinator
	Children   []PropertyNode
}

func (*PropertyGroup) propertyNode() {}

// And builds an AND group over the given nodes.
func And(children ...PropertyNode) *PropertyGroup {
	return &PropertyGroup{Combinator: CombinatorAnd, Children: children}
}

// Or builds an OR group over the given nodes.
func Or(children ...PropertyNode) *PropertyGroup {
	return &PropertyGroup{Combinator: CombinatorOr, Children: children}
}

type propertyGroupJSON struct {
	Type   Combinator        `json:"type"`
	Values []json.RawMessage `json:"values"`
}

// MarshalJSON implements json.Marshaler.
func (g *PropertyGroup) MarshalJSON() ([]byte, error) {
	values := make([]json.RawMessage, 0, len(g.Children))
	for _, child := range g.Children {
		b, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		values = append(values, b)
	}
	return json.Marshal(propertyGroupJSON{Type: g.Combinator, Values: values})
}

// UnmarshalJSON implements json.Unmarshaler.
// Accepts {"type": "AND"|"OR", "values": [...]} and a bare list (implicit AND).
func (g *PropertyGroup) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	var raw propertyGroupJSON
	if len(trimmed) > 0 && trimmed[0] == '[' {
		raw.Type = CombinatorAnd
		if err := json.Unmarshal(trimmed, &raw.Values); err != nil {
			return err
		}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	if raw.Type == "" {
		raw.Type = CombinatorAnd
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCombinator, raw.Type)
	}

	g.Combinator = raw.Type
	g.Children = make([]PropertyNode, 0, len(raw.Values))
	for _, value := range raw.Values {
		node, err := decodePropertyNode(value)
		if err != nil {
			return err
		}
		g.Children = append(g.Children, node)
	}
	return nil
}

// decodePropertyNode distinguishes groups from leaves by the presence of "values".
func decodePropertyNode(data json.RawMessage) (PropertyNode, error) {
	var probe struct {
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if probe.Values != nil {
		group := &PropertyGroup{}
		if err := group.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return group, nil
	}
	leaf := &PropertyLeaf{}
	if err := json.Unmarshal(data, leaf); err != nil {
		return nil, err
	}
	return leaf, nil
}

// MatchMode selects how an action step compares a URL, text or href.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
	MatchRegex    MatchMode = "regex"
)

// ActionStep is one alternative of an action; its conditions combine with AND.
// Empty strings mean the condition is absent.
type ActionStep struct {
	Event        string         `json:"event,omitempty" db:"event"`
	URL          string         `json:"url,omitempty" db:"url"`
	URLMatching  MatchMode      `json:"url_matching,omitempty" db:"url_matching"`
	Text         string         `json:"text,omitempty" db:"text"`
	TextMatching MatchMode      `json:"text_matching,omitempty" db:"text_matching"`
	Href         string         `json:"href,omitempty" db:"href"`
	HrefMatching MatchMode      `json:"href_matching,omitempty" db:"href_matching"`
	Selector     string         `json:"selector,omitempty" db:"selector"`
	TagName      string         `json:"tag_name,omitempty" db:"tag_name"`
	Properties   []PropertyLeaf `json:"properties,omitempty" db:"-"`
}

// Action is a named set of steps combined with OR. Owned by the action store.
type Action struct {
	ID     int64        `json:"id"`
	TeamID int64        `json:"team_id"`
	Name   string       `json:"name"`
	Steps  []ActionStep `json:"steps"`
}

// EntityKind discriminates Entity.
type EntityKind string

const (
	EntityEvents  EntityKind = "events"
	EntityActions EntityKind = "actions"
)

// Entity is either an action reference or an event name plus fixed properties.
// An events entity with an empty Event matches all events.
type Entity struct {
	Kind       EntityKind     `json:"type"`
	ActionID   int64          `json:"action_id,omitempty"`
	Event      string         `json:"event,omitempty"`
	Properties []PropertyLeaf `json:"properties,omitempty"`
}

// DateRange bounds the events considered by a query. Zero values are unbounded.
type DateRange struct {
	From time.Time `json:"date_from"`
	To   time.Time `json:"date_to"`
}

// QueryContext carries the per-request execution mode. Read-only during compilation.
type QueryContext struct {
	Combinator                   Combinator
	DateRange                    DateRange
	TTLDays                      int
	PersonPropertiesDenormalized bool
}

// Team is the tenant settings row the compiler reads.
type Team struct {
	ID                 int64
	Name               string
	TestAccountFilters []map[string]any
	PersonOnEvents     bool
	SessionTTLDays     int
}

// CompileRequest is the payload accepted by the CLI and the gRPC service.
type CompileRequest struct {
	TeamID             int64          `json:"team_id"`
	Properties         *PropertyGroup `json:"properties,omitempty"`
	Entities           []Entity       `json:"entities,omitempty"`
	Combinator         Combinator     `json:"combinator,omitempty"`
	FilterTestAccounts bool           `json:"filter_test_accounts,omitempty"`
	DateFrom           *time.Time     `json:"date_from,omitempty"`
	DateTo             *time.Time     `json:"date_to,omitempty"`
}

// Resource limits enforced by the compiler.
const (
	// MaxGroupDepth bounds property group nesting to keep recursion shallow.
	MaxGroupDepth = 16

	// MaxPathDepth bounds field chains resolved by the evaluator.
	MaxPathDepth = 16

	// MaxSelectorParts bounds the number of parts a selector may contain.
	MaxSelectorParts = 32
)
