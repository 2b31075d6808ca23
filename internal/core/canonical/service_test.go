package canonical

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/vector"
	"recipe-matcher/internal/pkg/common"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	hints   []embedding.TaskHint
	calls   int32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, hint embedding.TaskHint) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.hints = append(f.hints, hint)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[strings.ToLower(strings.TrimSpace(text))]; ok {
		return v, nil
	}
	return []float32{0.1, 0.1, 0.1}, nil
}

func newService(t *testing.T, vectors map[string][]float32) (*Service, *store.MemoryStore, *fakeEmbedder) {
	t.Helper()
	s := store.NewMemoryStore()
	fe := &fakeEmbedder{vectors: vectors}
	return NewService(s, vector.NewIndex(s, vector.DefaultOverfetch, 50), fe, 5), s, fe
}

func TestExactAliasSkipsVectorSearch(t *testing.T) {
	ctx := context.Background()
	svc, s, fe := newService(t, nil)
	chicken := &model.Ingredient{Name: "Chicken", Embedding: model.Vector{1, 0, 0}}
	require.NoError(t, s.CreateIngredient(ctx, chicken))
	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "chicken breast", IngredientID: chicken.ID}))

	res, err := svc.Resolve(ctx, "Chicken Breast", Lookup(), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExactAlias, res.Outcome)
	assert.Equal(t, chicken.ID, res.IngredientID)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fe.calls))

	res, err = svc.Resolve(ctx, "  chicken", Lookup(), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExactIngredient, res.Outcome)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fe.calls))
}

func TestLookupFallsBackToVectorWithoutWrites(t *testing.T) {
	ctx := context.Background()
	svc, s, fe := newService(t, map[string][]float32{
		"chikken": {1, 0.05, 0},
	})
	chicken := &model.Ingredient{Name: "Chicken", Embedding: model.Vector{1, 0, 0}}
	beef := &model.Ingredient{Name: "Beef", Embedding: model.Vector{0, 1, 0}}
	require.NoError(t, s.CreateIngredient(ctx, chicken))
	require.NoError(t, s.CreateIngredient(ctx, beef))
	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "hen", IngredientID: chicken.ID, Embedding: model.Vector{1, 0.1, 0}}))

	res, err := svc.Resolve(ctx, "chikken", Lookup(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVector, res.Outcome)
	assert.Empty(t, res.IngredientID)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, chicken.ID, res.Candidates[0].IngredientID)
	assert.Greater(t, res.Candidates[0].Confidence, 0.99)
	assert.Equal(t, beef.ID, res.Candidates[1].IngredientID)
	for _, c := range res.Candidates {
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
	}
	assert.Equal(t, []embedding.TaskHint{embedding.TaskQuery}, fe.hints)

	_, err = s.FindIngredientByName(ctx, "chikken")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, err = s.FindAliasByName(ctx, "chikken")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMapToCreatesAlias(t *testing.T) {
	ctx := context.Background()
	svc, s, fe := newService(t, nil)
	onion := &model.Ingredient{Name: "Onion"}
	require.NoError(t, s.CreateIngredient(ctx, onion))

	res, err := svc.Resolve(ctx, "Brown Onion", MapTo(onion.ID), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMapped, res.Outcome)
	assert.Equal(t, onion.ID, res.IngredientID)
	assert.Equal(t, []embedding.TaskHint{embedding.TaskDocument}, fe.hints)

	alias, err := s.FindAliasByName(ctx, "brown onion")
	require.NoError(t, err)
	assert.Equal(t, onion.ID, alias.IngredientID)
	assert.NotEmpty(t, alias.Embedding)

	_, err = svc.Resolve(ctx, "brown onion", MapTo(onion.ID), 0)
	assert.True(t, errors.Is(err, common.ErrConflict))

	_, err = svc.Resolve(ctx, "red onion", MapTo(common.GenerateUUID()), 0)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	_, err = svc.Resolve(ctx, "red onion", Mode{Kind: ModeMap}, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestCreateNew(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newService(t, nil)

	res, err := svc.Resolve(ctx, "Shallot", CreateNew(), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Ingredient)
	assert.Equal(t, 0, res.Ingredient.HierarchyDepth)

	g, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	assert.True(t, g.Has(res.IngredientID))
	assert.Empty(t, g.Parents(res.IngredientID))

	_, err = svc.Resolve(ctx, "SHALLOT", CreateNew(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
	var de *common.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, res.IngredientID, de.Fields["ingredient_id"])
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, nil)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(ctx, "Leek", CreateNew(), 0)
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if errors.Is(err, common.ErrConflict) {
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), conflicts)
}

func TestEmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, s, fe := newService(t, nil)
	fe.err = errors.New("connection refused")
	onion := &model.Ingredient{Name: "Onion"}
	require.NoError(t, s.CreateIngredient(ctx, onion))

	_, err := svc.Resolve(ctx, "Parsnip", CreateNew(), 0)
	assert.True(t, errors.Is(err, common.ErrEmbeddingUnavailable))
	assert.Equal(t, common.OutcomeDependencyFailed, common.KindOf(err).Outcome())
	_, err = s.FindIngredientByName(ctx, "parsnip")
	assert.True(t, errors.Is(err, common.ErrNotFound))

	_, err = svc.Resolve(ctx, "scallion", MapTo(onion.ID), 0)
	assert.True(t, errors.Is(err, common.ErrEmbeddingUnavailable))
	aliases, err := s.ListAliases(ctx, onion.ID)
	require.NoError(t, err)
	assert.Empty(t, aliases)

	_, err = svc.Resolve(ctx, "parsnip", Lookup(), 0)
	assert.True(t, errors.Is(err, common.ErrEmbeddingUnavailable))

	// 精確命中不需要嵌入服務
	res, err := svc.Resolve(ctx, "onion", Lookup(), 0)
	require.NoError(t, err)
	assert.Equal(t, onion.ID, res.IngredientID)
}

func TestResolveRejectsBlankText(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.Resolve(context.Background(), "   ", Lookup(), 0)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = svc.Resolve(context.Background(), "x", Mode{Kind: "merge"}, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
