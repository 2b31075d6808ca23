package ingredient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/core/canonical"
	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/vector"
	"recipe-matcher/internal/pkg/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *stubEmbedder) Embed(_ context.Context, text string, _ embedding.TaskHint) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[strings.ToLower(strings.TrimSpace(text))]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type fixture struct {
	router   *gin.Engine
	store    *store.MemoryStore
	embedder *stubEmbedder
	chicken  *model.Ingredient
	poultry  *model.Ingredient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := &stubEmbedder{vectors: map[string][]float32{"chikken": {1, 0.05, 0}}}

	poultry := &model.Ingredient{Name: "Poultry", Embedding: model.Vector{0.7, 0.7, 0}}
	chicken := &model.Ingredient{Name: "Chicken", Embedding: model.Vector{1, 0, 0}}
	require.NoError(t, s.CreateIngredient(ctx, poultry))
	require.NoError(t, s.CreateIngredient(ctx, chicken))
	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "hen", IngredientID: chicken.ID}))

	index := vector.NewIndex(s, vector.DefaultOverfetch, 50)
	h := hierarchy.NewService(s, 3)
	_, err := h.AddParentEdge(ctx, poultry.ID, chicken.ID)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(s, canonical.NewService(s, index, e, 5), index, h, 5).Register(r.Group("/ingredients"))
	return &fixture{router: r, store: s, embedder: e, chicken: chicken, poultry: poultry}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func TestResolveExactMatch(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/ingredients/resolve", `{"text":"  HEN "}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res canonical.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, canonical.OutcomeExactAlias, res.Outcome)
	assert.Equal(t, f.chicken.ID, res.IngredientID)
}

func TestResolveVectorLookup(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/ingredients/resolve", `{"text":"chikken","k":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res canonical.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, canonical.OutcomeVector, res.Outcome)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, f.chicken.ID, res.Candidates[0].IngredientID)
}

func TestResolveCreateAndMap(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/ingredients/resolve", `{"text":"Shallot","mode":"create"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created canonical.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, canonical.OutcomeCreated, created.Outcome)
	require.NotEmpty(t, created.IngredientID)

	w = f.do(http.MethodPost, "/ingredients/resolve", `{"text":"shallot","mode":"create"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), created.IngredientID)

	w = f.do(http.MethodPost, "/ingredients/resolve",
		`{"text":"eschalot","mode":"map","ingredient_id":"`+created.IngredientID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"mapped"`)

	w = f.do(http.MethodPost, "/ingredients/resolve", `{"text":"eschalot"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"exact_alias"`)
}

func TestResolveRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/ingredients/resolve", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/ingredients/resolve", `{"text":"x","mode":"guess"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/ingredients/resolve", `{"text":"x","k":-1}`).Code)
}

func TestResolveEmbeddingUnavailable(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = errors.New("connection refused")

	w := f.do(http.MethodPost, "/ingredients/resolve", `{"text":"quinoa"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"retryable":true`)

	// 精確命中不需要嵌入服務
	w = f.do(http.MethodPost, "/ingredients/resolve", `{"text":"chicken"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveEmbeddingTimeoutStaysDependencyFailure(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = common.NewEmbeddingUnavailableError(fmt.Errorf("request: %w", context.DeadlineExceeded))

	w := f.do(http.MethodPost, "/ingredients/resolve", `{"text":"quinoa"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"EMBEDDING_UNAVAILABLE"`)
	assert.Contains(t, w.Body.String(), `"outcome":"dependency_failed"`)
}

func TestResolveSlowEmbeddingService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	require.NoError(t, s.CreateIngredient(context.Background(), &model.Ingredient{Name: "Rice", Embedding: model.Vector{1, 0, 0}}))
	client := embedding.NewClient(embedding.Options{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	index := vector.NewIndex(s, vector.DefaultOverfetch, 50)

	r := gin.New()
	NewHandler(s, canonical.NewService(s, index, client, 5), index, hierarchy.NewService(s, 3), 5).
		Register(r.Group("/ingredients"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ingredients/resolve", strings.NewReader(`{"text":"quinoa"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"EMBEDDING_UNAVAILABLE"`)
	assert.Contains(t, w.Body.String(), `"outcome":"dependency_failed"`)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/ingredients/search", `{"vector":[1,0,0],"k":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, f.chicken.ID, resp.Candidates[0].IngredientID)
	assert.InDelta(t, 1.0, resp.Candidates[0].Confidence, 1e-6)
	assert.Equal(t, f.poultry.ID, resp.Candidates[1].IngredientID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/ingredients/search", `{"vector":[]}`).Code)
}

func TestGetIngredient(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/ingredients/"+f.chicken.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ID             string        `json:"id"`
		HierarchyDepth int           `json:"hierarchy_depth"`
		Aliases        []model.Alias `json:"aliases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, f.chicken.ID, resp.ID)
	assert.Equal(t, 1, resp.HierarchyDepth)
	require.Len(t, resp.Aliases, 1)
	assert.Equal(t, "hen", resp.Aliases[0].Name)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/ingredients/missing", "").Code)
}

func TestLineage(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/ingredients/"+f.chicken.ID+"/lineage", "")
	require.Equal(t, http.StatusOK, w.Code)
	var lineage hierarchy.Lineage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lineage))
	assert.Equal(t, 1, lineage.Depth)
	assert.Equal(t, []string{f.poultry.ID}, lineage.Parents)
	assert.Equal(t, []string{f.poultry.ID}, lineage.Ancestors)
}

func TestDeleteIngredient(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodDelete, "/ingredients/"+f.poultry.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), f.poultry.ID)

	chicken, err := f.store.GetIngredient(context.Background(), f.chicken.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, chicken.HierarchyDepth)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/ingredients/"+f.poultry.ID, "").Code)
}
