package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

func TestDedupeKeepsLowestPerIngredient(t *testing.T) {
	in := []model.Candidate{
		{IngredientID: "b", Name: "beef", Distance: 0.4},
		{IngredientID: "a", Name: "hen", Source: model.SourceAlias, Distance: 0.1},
		{IngredientID: "a", Name: "chicken", Distance: 0.2},
		{IngredientID: "c", Name: "pork", Distance: 0.3},
		{IngredientID: "b", Name: "steak", Source: model.SourceAlias, Distance: 0.05},
	}
	out := Dedupe(in, 10)
	require.Len(t, out, 3)
	assert.Equal(t, "steak", out[0].Name)
	assert.Equal(t, "hen", out[1].Name)
	assert.Equal(t, "pork", out[2].Name)

	out = Dedupe(in, 2)
	assert.Len(t, out, 2)
}

func TestDedupeTieBreaksByName(t *testing.T) {
	in := []model.Candidate{
		{IngredientID: "z", Name: "zucchini", Distance: 0.25},
		{IngredientID: "y", Name: "apple", Distance: 0.25},
		{IngredientID: "x", Name: "apple", Distance: 0.25},
	}
	out := Dedupe(in, 3)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"x", "y", "z"}, []string{out[0].IngredientID, out[1].IngredientID, out[2].IngredientID})
}

func TestSearchNeverReturnsDuplicateIngredients(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	chicken := &model.Ingredient{Name: "Chicken", Embedding: model.Vector{1, 0, 0}}
	require.NoError(t, s.CreateIngredient(ctx, chicken))
	for i, name := range []string{"chicken breast", "chicken thigh", "hen", "poultry"} {
		require.NoError(t, s.CreateAlias(ctx, &model.Alias{
			Name:         name,
			IngredientID: chicken.ID,
			Embedding:    model.Vector{1, float32(i+1) * 0.01, 0},
		}))
	}
	beef := &model.Ingredient{Name: "Beef", Embedding: model.Vector{0.5, 0.5, 0}}
	require.NoError(t, s.CreateIngredient(ctx, beef))

	// 過取倍數 1 時候選池會被雞肉的別名塞滿
	narrow := NewIndex(s, 1, 0)
	out, err := narrow.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	idx := NewIndex(s, DefaultOverfetch, 0)
	out, err = idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, chicken.ID, out[0].IngredientID)
	assert.Equal(t, model.SourceIngredient, out[0].Source)
	assert.Equal(t, beef.ID, out[1].IngredientID)

	seen := map[string]bool{}
	for _, c := range out {
		assert.False(t, seen[c.IngredientID])
		seen[c.IngredientID] = true
	}
}

func TestSearchValidation(t *testing.T) {
	idx := NewIndex(store.NewMemoryStore(), 0, 5)
	_, err := idx.Search(context.Background(), []float32{1}, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = idx.Search(context.Background(), nil, 3)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	out, err := idx.Search(context.Background(), []float32{1}, 50)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.75, Confidence(0.25), 1e-9)
	assert.Equal(t, 0.0, Confidence(1.4))
	assert.Equal(t, 1.0, Confidence(0))
}
