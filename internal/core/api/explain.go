package api

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/filters"
	"github.com/solatis/propfilter/internal/types"
)

// Explanation shows how a request is routed without rendering the full query.
type Explanation struct {
	PersonOnEvents bool
	TTLDays        int
	Leaves         []filters.LeafPlan
	Entities       []EntityPlan
}

// EntityPlan is one entity compiled on its own.
type EntityPlan struct {
	Index int
	Kind  types.EntityKind
	Name  string // event name or action id
	SQL   string
}

// ExplainRequest classifies and routes every property leaf of req and
// compiles each entity separately.
func (s *CompilerService) ExplainRequest(ctx context.Context, req *types.CompileRequest) (*Explanation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	compiler, team, err := s.compilerFor(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	qctx := compiler.QueryContext(req, team)

	leaves, err := filters.ExplainGroup(req.Properties, qctx)
	if err != nil {
		return nil, err
	}

	out := &Explanation{
		PersonOnEvents: qctx.PersonPropertiesDenormalized,
		TTLDays:        qctx.TTLDays,
		Leaves:         leaves,
	}
	for i := range req.Entities {
		entity := &req.Entities[i]
		expr, err := compiler.CompileEntity(ctx, entity, qctx)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		sql, err := ast.Print(expr)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		name := entity.Event
		if entity.Kind == types.EntityActions {
			name = fmt.Sprintf("action %d", entity.ActionID)
		}
		out.Entities = append(out.Entities, EntityPlan{Index: i, Kind: entity.Kind, Name: name, SQL: sql})
	}
	return out, nil
}

// Explain implements FilterCompilerServer.
func (s *CompilerService) Explain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.ExplainRequest(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}

	leaves := make([]any, 0, len(out.Leaves))
	for _, leaf := range out.Leaves {
		leaves = append(leaves, map[string]any{
			"path":     leaf.Path,
			"type":     string(leaf.Type),
			"key":      leaf.Key,
			"operator": string(leaf.Operator),
			"scope":    leaf.Scope.String(),
			"route":    leaf.Route.String(),
			"sql":      leaf.SQL,
		})
	}
	entities := make([]any, 0, len(out.Entities))
	for _, entity := range out.Entities {
		entities = append(entities, map[string]any{
			"index": entity.Index,
			"type":  string(entity.Kind),
			"name":  entity.Name,
			"sql":   entity.SQL,
		})
	}

	resp, err := structpb.NewStruct(map[string]any{
		"request_id":       RequestIDFromContext(ctx),
		"person_on_events": out.PersonOnEvents,
		"ttl_days":         out.TTLDays,
		"leaves":           leaves,
		"entities":         entities,
	})
	if err != nil {
		return nil, toStatus(fmt.Errorf("failed to encode response: %w", err))
	}
	return resp, nil
}
