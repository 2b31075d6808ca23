package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func sampleFiles() map[string]string {
	return map[string]string{
		FoodGroupsFile: "name\nProtein\nVegetable\nprotein\n",
		IngredientsFile: "name,food_group,hierarchy_depth\n" +
			"Poultry,Protein,0\n" +
			"Chicken,Protein,1\n" +
			"Chicken Breast,Protein,5\n" +
			"Onion,Vegetable,0\n",
		ParentsFile: "parent_name,child_name\n" +
			"Poultry,Chicken\n" +
			"Chicken,Chicken Breast\n" +
			"Chicken,chicken\n" +
			"Poultry,Chicken\n" +
			"Unknown,Onion\n",
		AliasesFile: "alias_name,ingredient_name\n" +
			"hen,Chicken\n" +
			"Hen,Chicken\n" +
			"hen,Onion\n" +
			"chicken,Chicken\n",
	}
}

type stubEmbedder struct {
	fail string
}

func (e *stubEmbedder) Embed(_ context.Context, text string, hint embedding.TaskHint) ([]float32, error) {
	if hint != embedding.TaskDocument {
		return nil, errors.New("unexpected hint")
	}
	if e.fail != "" && strings.EqualFold(text, e.fail) {
		return nil, errors.New("upstream 503")
	}
	return []float32{1, 0, 0}, nil
}

func newSeeder(s store.Store, e embedding.Embedder) *Seeder {
	return NewSeeder(s, hierarchy.NewService(s, 0), e)
}

func TestRunLoadsDirectory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dir := writeFiles(t, sampleFiles())

	rep, err := newSeeder(s, nil).Run(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.FoodGroups)
	assert.Equal(t, 4, rep.Ingredients)
	assert.Equal(t, 2, rep.Edges)
	assert.Equal(t, 1, rep.DuplicateEdges)
	assert.Equal(t, 2, rep.SkippedSelf)
	assert.Equal(t, 1, rep.Aliases)
	assert.Equal(t, 1, rep.ExistingAliases)
	require.Len(t, rep.Rejected, 2)
	assert.Equal(t, ParentsFile, rep.Rejected[0].File)
	assert.Equal(t, 6, rep.Rejected[0].Line)
	assert.Equal(t, string(common.KindNotFound), rep.Rejected[0].Kind)
	assert.Equal(t, AliasesFile, rep.Rejected[1].File)
	assert.Equal(t, string(common.KindConflict), rep.Rejected[1].Kind)

	// 深度欄位被忽略，由階層推導
	breast, err := s.FindIngredientByName(ctx, "chicken breast")
	require.NoError(t, err)
	assert.Equal(t, 2, breast.HierarchyDepth)
	require.NotNil(t, breast.FoodGroupID)

	hen, err := s.FindAliasByName(ctx, "HEN")
	require.NoError(t, err)
	chicken, err := s.FindIngredientByName(ctx, "chicken")
	require.NoError(t, err)
	assert.Equal(t, chicken.ID, hen.IngredientID)
	assert.Equal(t, 1, chicken.HierarchyDepth)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dir := writeFiles(t, sampleFiles())

	_, err := newSeeder(s, nil).Run(ctx, dir, Options{})
	require.NoError(t, err)

	rep, err := newSeeder(s, nil).Run(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Ingredients)
	assert.Equal(t, 4, rep.ExistingIngredients)
	assert.Equal(t, 0, rep.Edges)
	assert.Equal(t, 3, rep.DuplicateEdges)
	assert.Equal(t, 0, rep.Aliases)
	assert.Equal(t, 2, rep.ExistingAliases)
	assert.Len(t, rep.Rejected, 2)

	g, err := s.LoadTaxonomy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.Len(t, g.Edges(), 2)
}

func TestRunRejectsCycleRows(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dir := writeFiles(t, map[string]string{
		IngredientsFile: "name\nA\nB\nC\n",
		ParentsFile:     "parent_name,child_name\nA,B\nB,C\nC,A\n",
	})

	rep, err := newSeeder(s, nil).Run(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Edges)
	require.Len(t, rep.Rejected, 1)
	assert.Equal(t, string(common.KindCycle), rep.Rejected[0].Kind)
	assert.Equal(t, 4, rep.Rejected[0].Line)
}

func TestRunRequiresIngredients(t *testing.T) {
	dir := writeFiles(t, map[string]string{FoodGroupsFile: "name\nProtein\n"})
	_, err := newSeeder(store.NewMemoryStore(), nil).Run(context.Background(), dir, Options{})
	require.Error(t, err)

	dir = writeFiles(t, map[string]string{IngredientsFile: "title\nChicken\n"})
	_, err = newSeeder(store.NewMemoryStore(), nil).Run(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "name"`)
}

func TestRunBackfillsEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dir := writeFiles(t, sampleFiles())

	rep, err := newSeeder(s, &stubEmbedder{fail: "onion"}).Run(ctx, dir, Options{Embed: true})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Embedded)
	assert.Equal(t, 1, rep.EmbedFailed)

	left, err := s.ListUnembedded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "Onion", left[0].Name)
}

func TestRunEmbedWithoutEmbedder(t *testing.T) {
	dir := writeFiles(t, sampleFiles())
	_, err := newSeeder(store.NewMemoryStore(), nil).Run(context.Background(), dir, Options{Embed: true})
	require.Error(t, err)
}
