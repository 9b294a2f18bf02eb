package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/config"
	"github.com/semidx/semidx/internal/docstore"
	"github.com/semidx/semidx/internal/embedbatch"
	"github.com/semidx/semidx/internal/handler"
	"github.com/semidx/semidx/internal/middleware"
	"github.com/semidx/semidx/internal/pkg/errcode"
	"github.com/semidx/semidx/internal/provider"
	"github.com/semidx/semidx/internal/service"
	"github.com/semidx/semidx/internal/snapstore"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	storePath := filepath.Join(dir, "docs.csv")
	csv := "1,how to clean a cast iron skillet\n2,use a damp cloth to wipe the camera lens\n3,seasoning steel pans with oil\n"
	require.NoError(t, os.WriteFile(storePath, []byte(csv), 0o644))

	store, err := docstore.Load(context.Background(), storePath)
	require.NoError(t, err)
	snap, err := snapstore.New(config.SnapshotConfig{
		Type: "local",
		Data: map[string]interface{}{"path": filepath.Join(dir, "snapshot.json")},
	})
	require.NoError(t, err)
	prov, err := provider.New(config.ProviderConfig{Type: "local", Model: "local-test"})
	require.NoError(t, err)
	coord := embedbatch.New(prov, embedbatch.Config{BatchSize: 4})

	svc := service.NewSearchService(store, cache.NewManager(snap), coord, prov, nil, 10)
	require.NoError(t, svc.Refresh(context.Background()))

	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, handler.RouterDeps{Search: handler.NewSearchHandler(svc)})
		}),
		webapi.WithExtraMiddlewares(middleware.CORS(nil)),
	)
	require.NoError(t, err)
	return engine
}

type apiResponse struct {
	Code int                    `json:"code"`
	Msg  string                 `json:"msg"`
	Data map[string]interface{} `json:"data"`
}

func doPost(t *testing.T, router http.Handler, path string, body interface{}) apiResponse {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func TestSearchEndpoint(t *testing.T) {
	router := setupRouter(t)

	result := doPost(t, router, "/api/v1/search", map[string]interface{}{
		"query": "use a damp cloth to wipe the camera lens",
		"limit": 2,
	})
	require.Equal(t, 0, result.Code)
	items, _ := result.Data["results"].([]interface{})
	require.Len(t, items, 2)
	first, _ := items[0].(map[string]interface{})
	require.Equal(t, "2", first["id"])
}

func TestSearchEndpointEmptyQuery(t *testing.T) {
	router := setupRouter(t)

	result := doPost(t, router, "/api/v1/search", map[string]interface{}{"query": "  "})
	require.Equal(t, errcode.ErrInvalid, result.Code)
}

func TestLexicalSearchEndpoint(t *testing.T) {
	router := setupRouter(t)

	result := doPost(t, router, "/api/v1/lexsearch", map[string]interface{}{
		"query": "use a damp cloth",
	})
	require.Equal(t, 0, result.Code)
	items, _ := result.Data["results"].([]interface{})
	require.NotEmpty(t, items)
	first, _ := items[0].(map[string]interface{})
	require.Equal(t, "2", first["id"])
}

func TestAppendAndStatsEndpoints(t *testing.T) {
	router := setupRouter(t)

	result := doPost(t, router, "/api/v1/documents", map[string]interface{}{
		"texts": []string{"sharpening kitchen knives on a whetstone"},
	})
	require.Equal(t, 0, result.Code)
	docs, _ := result.Data["documents"].([]interface{})
	require.Len(t, docs, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var stats apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	total, _ := stats.Data["documents"].(float64)
	require.Equal(t, float64(4), total)
}

func TestResyncEndpoint(t *testing.T) {
	router := setupRouter(t)

	result := doPost(t, router, "/api/v1/resync", map[string]interface{}{})
	require.Equal(t, 0, result.Code)
}
