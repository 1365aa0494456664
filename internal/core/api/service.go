// Package api provides the FilterCompiler service shared by gRPC and the CLI.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/filters"
	"github.com/solatis/propfilter/internal/types"
)

// Store is the read side the service needs from the database.
// Implemented by *db.Store.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*types.Team, error)
	Actions(teamID int64) filters.ActionLookup
}

// CompilerService compiles requests against team settings and stored actions.
// Thin orchestration layer over the filters package; holds no per-request state.
type CompilerService struct {
	store    Store
	settings filters.Settings
	timeout  time.Duration
	log      logrus.FieldLogger
}

// Compilation is the rendered events query.
type Compilation struct {
	SQL    string         // constants inlined
	Query  string         // constants as {pN} placeholders
	Params map[string]any // placeholder values
}

// NewCompilerService creates service instance with dependencies.
// A zero timeout leaves request deadlines to the caller.
func NewCompilerService(store Store, settings filters.Settings, timeout time.Duration, log logrus.FieldLogger) (*CompilerService, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CompilerService{
		store:    store,
		settings: settings,
		timeout:  timeout,
		log:      log,
	}, nil
}

// compilerFor loads the team and binds a compiler to its actions.
// Team 0 compiles without team settings or actions.
func (s *CompilerService) compilerFor(ctx context.Context, teamID int64) (*filters.Compiler, *types.Team, error) {
	log := s.log.WithField("request_id", RequestIDFromContext(ctx))
	if teamID == 0 {
		return filters.NewCompiler(nil, s.settings, log), nil, nil
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	return filters.NewCompiler(s.store.Actions(teamID), s.settings, log.WithField("team_id", teamID)), team, nil
}

func (s *CompilerService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CompileRequest builds and renders the events query for req.
func (s *CompilerService) CompileRequest(ctx context.Context, req *types.CompileRequest) (*Compilation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	compiler, team, err := s.compilerFor(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	query, err := compiler.BuildEventsQuery(ctx, req, team)
	if err != nil {
		return nil, err
	}

	sql, err := ast.Print(query)
	if err != nil {
		return nil, err
	}
	parameterized, params, err := ast.PrintParameterized(query)
	if err != nil {
		return nil, err
	}
	return &Compilation{SQL: sql, Query: parameterized, Params: params}, nil
}

// Compile implements FilterCompilerServer.
func (s *CompilerService) Compile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.CompileRequest(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}

	params := make(map[string]any, len(out.Params))
	for name, value := range out.Params {
		params[name] = protoValue(value)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"request_id": RequestIDFromContext(ctx),
		"sql":        out.SQL,
		"query":      out.Query,
		"params":     params,
	})
	if err != nil {
		return nil, toStatus(fmt.Errorf("failed to encode response: %w", err))
	}
	return resp, nil
}

// DecodeRequest converts a Struct payload into a compile request.
// Unknown fields are rejected.
func DecodeRequest(in *structpb.Struct) (*types.CompileRequest, error) {
	if in == nil {
		return &types.CompileRequest{}, nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return ParseRequest(data)
}

// ParseRequest decodes a JSON compile request. Unknown fields are rejected.
func ParseRequest(data []byte) (*types.CompileRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req types.CompileRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &req, nil
}

// protoValue converts a bound parameter to a value structpb accepts.
func protoValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, int64, int:
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
