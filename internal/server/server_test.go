package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mid "github.com/skillgraph/backend/internal/server/middleware"
	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/graph"
	"github.com/skillgraph/backend/pkg/store/embedded"
)

const masterKey = "test-key"

type recordingPublisher struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (p *recordingPublisher) Publish(_ context.Context, queueName string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent == nil {
		p.sent = map[string][]string{}
	}
	p.sent[queueName] = append(p.sent[queueName], string(body))
	return nil
}

type testServer struct {
	t     *testing.T
	store *embedded.Store
	queue *recordingPublisher
	app   *mid.App
	e     *echo.Echo
}

// newTestServer seeds alice and bob (people), go and sql (skills), the
// project apollo and the team core owned by alice with bob as member.
func newTestServer(t *testing.T, userID, role string) *testServer {
	t.Helper()
	s, err := embedded.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, ent := range []common.Entity{
		{ID: "alice", Kind: common.KindPerson, Label: "Alice"},
		{ID: "bob", Kind: common.KindPerson, Label: "Bob"},
		{ID: "go", Kind: common.KindSkill, Label: "Go", Category: "language"},
		{ID: "sql", Kind: common.KindSkill, Label: "SQL", Category: "data"},
		{ID: "apollo", Kind: common.KindProject, Label: "Apollo"},
	} {
		require.NoError(t, s.PutEntity(ctx, ent))
	}
	require.NoError(t, s.PutTeam(ctx, common.Team{ID: "core", Name: "Core"}))
	require.NoError(t, s.AddTeamMember(ctx, "core", "alice", "owner"))
	require.NoError(t, s.AddTeamMember(ctx, "core", "bob", "member"))

	pub := &recordingPublisher{}
	app := &mid.App{
		Engine:         graph.NewEngine(s, graph.Config{}),
		Teams:          s,
		Queue:          pub,
		MasterAPIKey:   masterKey,
		MasterUserID:   userID,
		MasterUserRole: role,
		MaxDepth:       3,
	}
	return &testServer{t: t, store: s, queue: pub, app: app, e: New(app)}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+masterKey)
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")

	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.do(http.MethodGet, "/api/edges", "")
	rec = httptest.NewRecorder()
	ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skillgraph_engine_operations_total")
}

func TestUnauthenticated(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/edges", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEdgeLifecycle(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")

	rec := ts.do(http.MethodPost, "/api/edges",
		`{"source_id":"alice","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"knows","strength":0.7,"created_by":"mallory"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	edge := decode[common.Edge](t, rec)
	assert.NotEmpty(t, edge.ID)
	assert.Equal(t, "alice", edge.CreatedBy, "created_by comes from the caller")
	assert.InDelta(t, 0.7, *edge.Strength, 1e-9)

	rec = ts.do(http.MethodGet, "/api/edges?node_id=alice&node_kind=person&direction=outgoing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]common.Edge](t, rec), 1)

	rec = ts.do(http.MethodGet, "/api/edges?strength_min=0.8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]common.Edge](t, rec))

	rec = ts.do(http.MethodPatch, "/api/edges/"+edge.ID, `{"relationship_type":"teaching","strength":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[common.Edge](t, rec)
	assert.Equal(t, common.RelTeaching, updated.RelationshipType)
	assert.Equal(t, edge.CreatedAt, updated.CreatedAt)

	rec = ts.do(http.MethodPatch, "/api/edges/"+edge.ID, `{"relationship_type":"collaborates_on"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/edges/"+edge.ID, "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/edges/"+edge.ID, "").Code)

	rec = ts.do(http.MethodPatch, "/api/edges/"+edge.ID, `{"strength":0.1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEdgeErrors(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing field", `{"source_id":"alice","source_kind":"person","target_id":"go"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
		{"unknown target", `{"source_id":"alice","source_kind":"person","target_id":"rust","target_kind":"skill","relationship_type":"knows"}`, http.StatusNotFound},
		{"wrong kinds", `{"source_id":"alice","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"collaborates_on"}`, http.StatusUnprocessableEntity},
		{"strength out of range", `{"source_id":"alice","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"knows","strength":1.5}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/edges", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestBulkCreate(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")

	rec := ts.do(http.MethodPost, "/api/edges/bulk", `{"edges":[
		{"source_id":"alice","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"knows"},
		{"source_id":"alice","source_kind":"person","target_id":"ghost","target_kind":"skill","relationship_type":"knows"},
		{"source_id":"bob","source_kind":"person","target_id":"apollo","target_kind":"project","relationship_type":"collaborates_on"}
	]}`)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	res := decode[common.BulkResult](t, rec)
	assert.Len(t, res.Created, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, graph.ReasonUnknownEntity, res.Failed[0].Reason)

	rec = ts.do(http.MethodPost, "/api/edges/bulk", `{"edges":[]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	res = decode[common.BulkResult](t, rec)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Failed)
}

func TestTraverse(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")
	ts.do(http.MethodPost, "/api/edges", `{"source_id":"alice","source_kind":"person","target_id":"bob","target_kind":"person","relationship_type":"knows"}`)
	ts.do(http.MethodPost, "/api/edges", `{"source_id":"bob","source_kind":"person","target_id":"sql","target_kind":"skill","relationship_type":"teaching"}`)

	rec := ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=person&max_depth=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[common.TraversalResult](t, rec)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "alice", res.Nodes[0].ID)
	assert.Equal(t, 2, res.Nodes[2].Distance)
	assert.Equal(t, "SQL", res.Nodes[2].Label)
	assert.Len(t, res.Edges, 2)

	rec = ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=person", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[common.TraversalResult](t, rec).Nodes, 2, "depth defaults to one hop")

	rec = ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=person&relationship_types=teaching&max_depth=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[common.TraversalResult](t, rec).Nodes, 1)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/graph/traverse?id=carol&kind=person", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=team", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=person&max_depth=two", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(http.MethodGet, "/api/graph/traverse?id=alice&kind=person&relationship_types=likes", "").Code)
}

func TestTeamGraph(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")
	ts.do(http.MethodPost, "/api/edges", `{"source_id":"bob","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"knows"}`)
	ts.do(http.MethodPost, "/api/edges", `{"source_id":"alice","source_kind":"person","target_id":"apollo","target_kind":"project","relationship_type":"collaborates_on"}`)

	rec := ts.do(http.MethodGet, "/api/teams/core/graph?node_kinds=skill", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[common.TraversalResult](t, rec)
	ids := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob", "go"}, ids)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/teams/core/graph?node_kinds=team", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/teams/nope/graph", "").Code)
}

func TestRecommendationsAuthorization(t *testing.T) {
	admin := newTestServer(t, "root", "admin")
	admin.do(http.MethodPost, "/api/edges", `{"source_id":"alice","source_kind":"person","target_id":"bob","target_kind":"person","relationship_type":"knows"}`)
	admin.do(http.MethodPost, "/api/edges", `{"source_id":"bob","source_kind":"person","target_id":"sql","target_kind":"skill","relationship_type":"teaching"}`)

	rec := admin.do(http.MethodGet, "/api/people/alice/recommendations", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]common.RecommendationRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "sql", rows[0].SkillID)
	assert.Equal(t, "SQL", rows[0].SkillName)
	assert.Equal(t, 2, rows[0].PathLength)

	assert.Equal(t, http.StatusNotFound, admin.do(http.MethodGet, "/api/people/carol/recommendations", "").Code)

	self := newTestServer(t, "alice", "user")
	assert.Equal(t, http.StatusOK, self.do(http.MethodGet, "/api/people/alice/recommendations?limit=5", "").Code)
	assert.Equal(t, http.StatusForbidden, self.do(http.MethodGet, "/api/people/bob/recommendations", "").Code)
}

func TestCoverageAuthorization(t *testing.T) {
	owner := newTestServer(t, "alice", "user")
	owner.do(http.MethodPost, "/api/edges", `{"source_id":"alice","source_kind":"person","target_id":"go","target_kind":"skill","relationship_type":"knows","strength":0.5}`)

	rec := owner.do(http.MethodGet, "/api/teams/core/coverage", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]common.CoverageRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Core", rows[0].TeamName)
	assert.Equal(t, 1, rows[0].MembersWithSkill)
	assert.Equal(t, 2, rows[0].TotalMembers)
	assert.Equal(t, 50.0, rows[0].CoveragePercentage)

	member := newTestServer(t, "bob", "user")
	assert.Equal(t, http.StatusForbidden, member.do(http.MethodGet, "/api/teams/core/coverage", "").Code)

	admin := newTestServer(t, "root", "admin")
	assert.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/teams/core/coverage", "").Code)
	assert.Equal(t, http.StatusNotFound, admin.do(http.MethodGet, "/api/teams/nope/coverage", "").Code)
}

func TestDetach(t *testing.T) {
	ts := newTestServer(t, "alice", "admin")

	rec := ts.do(http.MethodPost, "/api/entities/skill/go/detach", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, ts.queue.sent["entity_detach_queue"], 1)
	assert.JSONEq(t, `{"entity_id":"go","entity_kind":"skill"}`, ts.queue.sent["entity_detach_queue"][0])

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/entities/team/core/detach", "").Code)

	ts.app.Queue = nil
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/api/entities/skill/go/detach", "").Code)
}
