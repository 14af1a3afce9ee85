package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragengine "github.com/twattier/rag-engine"
	"github.com/twattier/rag-engine/pkg/config"
	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/types"
)

type stubEngine struct{}

func (stubEngine) Ingest(ctx context.Context, req *ragengine.IngestRequest) (*types.IngestResult, error) {
	return &types.IngestResult{DocID: req.DocID, Status: types.DocumentIndexed}, nil
}

func (stubEngine) Query(ctx context.Context, req *ragengine.QueryRequest) (*types.QueryResult, error) {
	return &types.QueryResult{Mode: types.QueryModeHybrid, FilteredDocCount: -1}, nil
}

func (stubEngine) Delete(ctx context.Context, docID string) (*driver.DeleteResult, error) {
	return &driver.DeleteResult{}, nil
}

func (stubEngine) GraphStats(ctx context.Context) (*types.GraphStats, error) {
	return &types.GraphStats{}, nil
}

func (stubEngine) UpdateTaxonomy(version int64, defs []types.EntityTypeDef) error { return nil }
func (stubEngine) Close(ctx context.Context) error                               { return nil }

func newTestServer() *Server {
	cfg := &config.Config{}
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 0
	cfg.Server.Mode = "test"

	s := New(cfg, stubEngine{}, nil)
	s.Setup()
	return s
}

func TestRoutesAreWired(t *testing.T) {
	s := newTestServer()

	for _, tc := range []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/v1/graph/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
