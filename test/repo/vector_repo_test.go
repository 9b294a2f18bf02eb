package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semidx/semidx/internal/model"
	appErr "github.com/semidx/semidx/internal/pkg/errors"
	"github.com/semidx/semidx/internal/repo"
	"github.com/semidx/semidx/test/testutil"
)

func testVector(dims int, seed float32) []float32 {
	vec := make([]float32, dims)
	vec[0] = seed
	vec[1] = 1 - seed
	return vec
}

func TestVectorRepoSyncAndSearch(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vr := repo.NewVectorRepo(db)
	require.NoError(t, vr.Sync(ctx, nil))

	docs := []model.Document{
		{ID: "1", Text: "how to clean a cast iron skillet"},
		{ID: "2", Text: "use a damp cloth to wipe the lens"},
		{ID: "3", Text: "seasoning steel pans with oil"},
	}
	require.NoError(t, vr.Sync(ctx, docs))

	missing, err := vr.ListMissing(ctx, 0)
	require.NoError(t, err)
	require.Len(t, missing, 3)
	require.Equal(t, "1", missing[0].ID)

	for i, doc := range docs {
		require.NoError(t, vr.SaveEmbedding(ctx, doc.ID, testVector(1536, float32(i)*0.3)))
	}
	missing, err = vr.ListMissing(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, missing)

	results, err := vr.Search(ctx, testVector(1536, 0.3), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "2", results[0].ID)
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)

	total, err := vr.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestVectorRepoSyncInvalidatesChangedText(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vr := repo.NewVectorRepo(db)
	require.NoError(t, vr.Sync(ctx, nil))

	docs := []model.Document{
		{ID: "a", Text: "original text"},
		{ID: "b", Text: "unchanged text"},
	}
	require.NoError(t, vr.Sync(ctx, docs))
	require.NoError(t, vr.SaveEmbedding(ctx, "a", testVector(1536, 0.1)))
	require.NoError(t, vr.SaveEmbedding(ctx, "b", testVector(1536, 0.9)))

	docs[0].Text = "edited text"
	require.NoError(t, vr.Sync(ctx, docs))

	missing, err := vr.ListMissing(ctx, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "a", missing[0].ID)
	require.Equal(t, "edited text", missing[0].Text)
}

func TestVectorRepoSyncRemovesDroppedDocuments(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vr := repo.NewVectorRepo(db)
	require.NoError(t, vr.Sync(ctx, []model.Document{
		{ID: "x", Text: "first"},
		{ID: "y", Text: "second"},
	}))
	require.NoError(t, vr.Sync(ctx, []model.Document{
		{ID: "y", Text: "second"},
	}))

	_, err := vr.Get(ctx, "x")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	doc, err := vr.Get(ctx, "y")
	require.NoError(t, err)
	require.Equal(t, "second", doc.Text)
}

func TestVectorRepoSaveEmbeddingUnknownID(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vr := repo.NewVectorRepo(db)
	require.NoError(t, vr.Sync(ctx, nil))

	err := vr.SaveEmbedding(ctx, "missing", testVector(1536, 0.5))
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestVectorRepoTextSearch(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vr := repo.NewVectorRepo(db)
	require.NoError(t, vr.Sync(ctx, []model.Document{
		{ID: "1", Text: "grilling vegetables on charcoal"},
		{ID: "2", Text: "wipe the camera lens with a damp cloth"},
	}))

	results, err := vr.TextSearch(ctx, "damp cloth", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "2", results[0].ID)

	_, err = vr.TextSearch(ctx, "", 10)
	require.ErrorIs(t, err, appErr.ErrValidation)
}
