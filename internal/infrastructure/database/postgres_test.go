package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

// testStore 連到 TEST_POSTGRES_DSN；每個測試結束時清空資料表
func testStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, Options{DSN: dsn, AutoMigrate: true, MaxDepth: 3})
	require.NoError(t, err)

	truncate := func() {
		err := s.DB().Exec(`TRUNCATE recipe_ingredients, recipes, ingredient_parents, aliases, ingredients, food_groups CASCADE`).Error
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = s.Close()
	})
	return s
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), DriverMemory, Options{})
	require.NoError(t, err)
	_, ok := s.(*store.MemoryStore)
	assert.True(t, ok)

	_, err = Open(context.Background(), "sqlite", Options{})
	assert.Error(t, err)
}

func TestAdvisoryKeyStable(t *testing.T) {
	assert.Equal(t, advisoryKey64("recipe-matcher:taxonomy"), taxonomyLockKey)
	assert.NotEqual(t, advisoryKey64("a"), advisoryKey64("b"))
}

func TestPostgresIngredientsAndAliases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fg, err := s.EnsureFoodGroup(ctx, "Protein")
	require.NoError(t, err)
	again, err := s.EnsureFoodGroup(ctx, " protein ")
	require.NoError(t, err)
	assert.Equal(t, fg.ID, again.ID)

	chicken := &model.Ingredient{Name: "Chicken", FoodGroupID: &fg.ID, Embedding: model.Vector{1, 0, 0}}
	require.NoError(t, s.CreateIngredient(ctx, chicken))

	err = s.CreateIngredient(ctx, &model.Ingredient{Name: "  CHICKEN "})
	require.True(t, errors.Is(err, common.ErrConflict))
	var de *common.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, chicken.ID, de.Fields["ingredient_id"])

	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "hen", IngredientID: chicken.ID}))
	err = s.CreateAlias(ctx, &model.Alias{Name: "Hen", IngredientID: chicken.ID})
	assert.True(t, errors.Is(err, common.ErrConflict))
	err = s.CreateAlias(ctx, &model.Alias{Name: "rooster", IngredientID: common.GenerateUUID()})
	assert.True(t, errors.Is(err, common.ErrNotFound))

	got, err := s.FindIngredientByName(ctx, "chicken")
	require.NoError(t, err)
	assert.Equal(t, model.Vector{1, 0, 0}, got.Embedding)
	alias, err := s.FindAliasByName(ctx, "HEN")
	require.NoError(t, err)
	assert.Equal(t, chicken.ID, alias.IngredientID)

	targets, err := s.ListUnembedded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, model.SourceAlias, targets[0].Source)
}

func TestPostgresConcurrentCreateOneWins(t *testing.T) {
	s := testStore(t)
	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateIngredient(context.Background(), &model.Ingredient{Name: "Garlic"})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, common.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), conflicts)
}

func TestPostgresTaxonomyMutations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	h := hierarchy.NewService(s, 0)

	ids := map[string]string{}
	for _, n := range []string{"A", "B", "C"} {
		ing := &model.Ingredient{Name: n}
		require.NoError(t, s.CreateIngredient(ctx, ing))
		ids[n] = ing.ID
	}
	_, err := h.AddParentEdge(ctx, ids["A"], ids["B"])
	require.NoError(t, err)
	_, err = h.AddParentEdge(ctx, ids["B"], ids["C"])
	require.NoError(t, err)

	_, err = h.AddParentEdge(ctx, ids["C"], ids["A"])
	assert.True(t, errors.Is(err, common.ErrCycle))

	c, err := s.GetIngredient(ctx, ids["C"])
	require.NoError(t, err)
	assert.Equal(t, 2, c.HierarchyDepth)

	cs, err := h.DeleteIngredient(ctx, ids["B"])
	require.NoError(t, err)
	assert.Equal(t, []string{ids["B"]}, cs.Deleted)
	c, err = s.GetIngredient(ctx, ids["C"])
	require.NoError(t, err)
	assert.Equal(t, 0, c.HierarchyDepth)

	g, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	assert.Empty(t, g.Edges())
	assert.False(t, g.Has(ids["B"]))
}

func TestPostgresNearestNeighborsAndCoverage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	chicken := &model.Ingredient{Name: "Chicken", Embedding: model.Vector{1, 0, 0}}
	beef := &model.Ingredient{Name: "Beef", Embedding: model.Vector{0, 1, 0}}
	onion := &model.Ingredient{Name: "Onion"}
	for _, ing := range []*model.Ingredient{chicken, beef, onion} {
		require.NoError(t, s.CreateIngredient(ctx, ing))
	}
	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "hen", IngredientID: chicken.ID, Embedding: model.Vector{1, 0.1, 0}}))

	got, err := s.NearestNeighbors(ctx, model.Vector{1, 0.05, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, chicken.ID, got[0].IngredientID)
	assert.Equal(t, chicken.ID, got[1].IngredientID)
	assert.Equal(t, beef.ID, got[2].IngredientID)

	r := &model.Recipe{Title: "Stir fry", Lines: []model.RecipeIngredient{
		{IngredientID: chicken.ID}, {IngredientID: onion.ID}, {IngredientID: chicken.ID},
	}}
	require.NoError(t, s.CreateRecipe(ctx, r))
	loaded, err := s.GetRecipe(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Lines, 2)

	snap, err := s.CoverageSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Recipes, 1)
	assert.ElementsMatch(t, []string{chicken.ID, onion.ID}, snap.Recipes[0].IngredientIDs)
	assert.Equal(t, "Onion", snap.Names[onion.ID])

	err = s.CreateRecipe(ctx, &model.Recipe{Title: "x", Lines: []model.RecipeIngredient{{IngredientID: common.GenerateUUID()}}})
	assert.True(t, errors.Is(err, common.ErrNotFound))

	require.NoError(t, s.DeleteRecipe(ctx, r.ID))
	assert.True(t, errors.Is(s.DeleteRecipe(ctx, r.ID), common.ErrNotFound))
}

func TestPostgresNamesSharedWithAliases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	chicken := &model.Ingredient{Name: "Chicken"}
	require.NoError(t, s.CreateIngredient(ctx, chicken))
	turkey := &model.Ingredient{Name: "Turkey"}
	require.NoError(t, s.CreateIngredient(ctx, turkey))
	require.NoError(t, s.CreateAlias(ctx, &model.Alias{Name: "Hen", IngredientID: chicken.ID}))

	var de *common.DomainError
	err := s.CreateAlias(ctx, &model.Alias{Name: "CHICKEN", IngredientID: turkey.ID})
	require.True(t, errors.As(err, &de))
	assert.Equal(t, common.KindConflict, de.Kind)
	assert.Equal(t, chicken.ID, de.Fields["ingredient_id"])

	err = s.CreateIngredient(ctx, &model.Ingredient{Name: " hen"})
	require.True(t, errors.As(err, &de))
	assert.Equal(t, common.KindConflict, de.Kind)
	assert.Equal(t, chicken.ID, de.Fields["ingredient_id"])
}

func TestPostgresConcurrentIngredientAndAliasOneWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := &model.Ingredient{Name: "Scallion"}
	require.NoError(t, s.CreateIngredient(ctx, owner))

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = s.CreateIngredient(ctx, &model.Ingredient{Name: "Green Onion"})
			} else {
				err = s.CreateAlias(ctx, &model.Alias{Name: "green onion", IngredientID: owner.ID})
			}
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, common.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), conflicts)
}

func TestPostgresFoodGroupCaseInsensitive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	fg, err := s.EnsureFoodGroup(ctx, "Dairy")
	require.NoError(t, err)
	for _, name := range []string{"dairy", "DAIRY", "  Dairy  "} {
		again, err := s.EnsureFoodGroup(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, fg.ID, again.ID, name)
		assert.Equal(t, "Dairy", again.Name)
	}
	var n int64
	require.NoError(t, s.DB().Model(&model.FoodGroup{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestPostgresDepthCeilingConstraint(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ing := &model.Ingredient{Name: "Leaf"}
	require.NoError(t, s.CreateIngredient(ctx, ing))

	assert.NoError(t, s.DB().Exec(`UPDATE ingredients SET hierarchy_depth = 3 WHERE id = ?`, ing.ID).Error)
	assert.Error(t, s.DB().Exec(`UPDATE ingredients SET hierarchy_depth = 4 WHERE id = ?`, ing.ID).Error)

	got, err := s.GetIngredient(ctx, ing.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.HierarchyDepth)
}
