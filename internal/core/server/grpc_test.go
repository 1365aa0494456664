package server

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/propfilter/internal/core/api"
	"github.com/solatis/propfilter/internal/core/config"
	"github.com/solatis/propfilter/internal/filters"
	"github.com/solatis/propfilter/internal/types"
)

type memoryStore struct {
	teams   map[int64]*types.Team
	actions map[int64]*types.Action
}

func (m *memoryStore) GetTeam(_ context.Context, id int64) (*types.Team, error) {
	if team, ok := m.teams[id]; ok {
		return team, nil
	}
	return nil, fmt.Errorf("%w: %d", types.ErrTeamNotFound, id)
}

func (m *memoryStore) Actions(teamID int64) filters.ActionLookup {
	return memoryActions{store: m, teamID: teamID}
}

type memoryActions struct {
	store  *memoryStore
	teamID int64
}

func (a memoryActions) GetAction(_ context.Context, id int64) (*types.Action, error) {
	if action, ok := a.store.actions[id]; ok && action.TeamID == a.teamID {
		return action, nil
	}
	return nil, &types.ActionNotFoundError{ID: id}
}

type testServer struct {
	conn   *grpc.ClientConn
	client *api.FilterCompilerClient
	hook   *logtest.Hook
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := &memoryStore{
		teams: map[int64]*types.Team{1: {ID: 1, Name: "acme"}},
		actions: map[int64]*types.Action{
			3: {ID: 3, TeamID: 1, Name: "Clicked buy", Steps: []types.ActionStep{{Event: "$autocapture", Text: "Buy"}}},
		},
	}
	service, err := api.NewCompilerService(store, filters.DefaultSettings(), 5*time.Second, logger)
	require.NoError(t, err)

	cfg := config.DefaultConfig().Server
	srv, err := NewGRPCServer(&cfg, service, logger)
	require.NoError(t, err)

	listener := bufconn.Listen(1 << 20)
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testServer{conn: conn, client: api.NewFilterCompilerClient(conn), hook: hook}
}

func request(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestNewGRPCServer_Validation(t *testing.T) {
	cfg := config.DefaultConfig().Server

	_, err := NewGRPCServer(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewGRPCServer(&cfg, nil, nil)
	assert.Error(t, err)
}

func TestGRPCServer_Compile(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var header metadata.MD
	resp, err := ts.client.Compile(ctx, request(t, map[string]any{
		"team_id":  1,
		"entities": []any{map[string]any{"type": "actions", "action_id": 3}},
	}), grpc.Header(&header))
	require.NoError(t, err)

	sql := resp.Fields["sql"].GetStringValue()
	assert.Contains(t, sql, "SELECT distinct_id")
	assert.Contains(t, sql, "event = '$autocapture'")
	assert.Contains(t, sql, "elements_chain_texts")

	ids := header.Get(RequestIDHeader)
	require.Len(t, ids, 1)
	assert.Equal(t, ids[0], resp.Fields["request_id"].GetStringValue())
	_, err = types.ParseRequestID(ids[0])
	assert.NoError(t, err)
}

func TestGRPCServer_ClientRequestID(t *testing.T) {
	ts := startTestServer(t)
	id := string(types.NewRequestID())
	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDHeader, id)

	resp, err := ts.client.Compile(ctx, request(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, id, resp.Fields["request_id"].GetStringValue())
}

func TestGRPCServer_ErrorCodes(t *testing.T) {
	ts := startTestServer(t)

	tests := []struct {
		name string
		in   map[string]any
		want codes.Code
	}{
		{
			name: "action not found",
			in:   map[string]any{"team_id": 1, "entities": []any{map[string]any{"type": "actions", "action_id": 4}}},
			want: codes.InvalidArgument,
		},
		{
			name: "team not found",
			in:   map[string]any{"team_id": 8},
			want: codes.NotFound,
		},
		{
			name: "unknown field",
			in:   map[string]any{"filters": []any{}},
			want: codes.InvalidArgument,
		},
		{
			name: "invalid entity",
			in:   map[string]any{"entities": []any{map[string]any{"type": "sessions"}}},
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.client.Compile(context.Background(), request(t, tt.in))
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err), "error = %v", err)
		})
	}
}

func TestGRPCServer_Explain(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.client.Explain(context.Background(), request(t, map[string]any{
		"properties": map[string]any{
			"type": "OR",
			"values": []any{
				map[string]any{"type": "event", "key": "$current_url", "operator": "icontains", "value": "/pricing"},
				map[string]any{"type": "person", "key": "email", "operator": "is_set"},
			},
		},
	}))
	require.NoError(t, err)

	leaves := resp.AsMap()["leaves"].([]any)
	require.Len(t, leaves, 2)

	first := leaves[0].(map[string]any)
	assert.Equal(t, "0", first["path"])
	assert.Equal(t, "inline", first["route"])

	second := leaves[1].(map[string]any)
	assert.Equal(t, "1", second["path"])
	assert.Equal(t, "person", second["scope"])
	assert.Equal(t, "person_subquery", second["route"])
}

func TestGRPCServer_Health(t *testing.T) {
	ts := startTestServer(t)
	client := grpc_health_v1.NewHealthClient(ts.conn)

	for _, service := range []string{"", api.ServiceName} {
		resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
	}
}

func TestGRPCServer_LogsRequests(t *testing.T) {
	ts := startTestServer(t)

	_, err := ts.client.Compile(context.Background(), request(t, map[string]any{}))
	require.NoError(t, err)
	_, err = ts.client.Compile(context.Background(), request(t, map[string]any{"team_id": 8}))
	require.Error(t, err)

	var completed, failed *logrus.Entry
	for _, entry := range ts.hook.AllEntries() {
		switch entry.Message {
		case "Request completed":
			completed = entry
		case "Request failed":
			failed = entry
		}
	}

	require.NotNil(t, completed)
	assert.Equal(t, api.CompileMethod, completed.Data["method"])
	assert.Equal(t, "OK", completed.Data["code"])
	assert.NotEmpty(t, completed.Data["request_id"])

	require.NotNil(t, failed)
	assert.Equal(t, logrus.WarnLevel, failed.Level)
	assert.Equal(t, "NotFound", failed.Data["code"])
}
