package fts_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/fts"
	"github.com/redlite/redlite/internal/testutil"
)

func TestParseQuerySplitsTextTagAndNumericClauses(t *testing.T) {
	q, err := fts.ParseQuery(`hello world @genre:{scifi|drama} @year:[2000 2020]`)
	require.NoError(t, err)
	require.Equal(t, "hello world", q.MatchText)
	require.Equal(t, []string{"scifi", "drama"}, q.Tags["genre"])
	require.Equal(t, [2]float64{2000, 2020}, q.Numeric["year"])
}

func TestParseQueryRejectsMalformedNumericRange(t *testing.T) {
	_, err := fts.ParseQuery(`@year:[2000]`)
	require.Error(t, err)
}

func TestCreateIndexAddDocThenSearchByTextAndTag(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := fts.New()
	ctx := context.Background()

	err := core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		return ops.CreateIndex(ctx, tx, fts.IndexDef{
			Name:   "idx",
			DB:     0,
			Target: "HASH",
			Fields: []fts.FieldDef{
				{Name: "body", Kind: fts.FieldText},
				{Name: "genre", Kind: fts.FieldTag},
			},
		})
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		if err := ops.AddDoc(ctx, tx, "idx", 0, []byte("doc:1"), map[string]string{
			"body": "a story about space travel", "genre": "scifi",
		}, 1000); err != nil {
			return err
		}
		return ops.AddDoc(ctx, tx, "idx", 0, []byte("doc:2"), map[string]string{
			"body": "a story about romance", "genre": "drama",
		}, 1000)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		hits, err := ops.Search(ctx, tx, "idx", fts.Query{MatchText: "space"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		require.Equal(t, "doc:1", string(hits[0].Key))
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		hits, err := ops.Search(ctx, tx, "idx", fts.Query{Tags: map[string][]string{"genre": {"drama"}}}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		require.Equal(t, "doc:2", string(hits[0].Key))
		return nil
	})
	require.NoError(t, err)
}

func TestRemoveDocDropsItFromSearchResults(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := fts.New()
	ctx := context.Background()

	err := core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		if err := ops.CreateIndex(ctx, tx, fts.IndexDef{
			Name: "idx", DB: 0, Target: "HASH",
			Fields: []fts.FieldDef{{Name: "body", Kind: fts.FieldText}},
		}); err != nil {
			return err
		}
		return ops.AddDoc(ctx, tx, "idx", 0, []byte("doc:1"), map[string]string{"body": "hello"}, 1000)
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		return ops.RemoveDoc(ctx, tx, "idx", 0, []byte("doc:1"))
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		hits, err := ops.Search(ctx, tx, "idx", fts.Query{MatchText: "hello"}, 10)
		require.NoError(t, err)
		require.Empty(t, hits)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateIndexRejectsDuplicateName(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := fts.New()
	ctx := context.Background()

	def := fts.IndexDef{Name: "idx", DB: 0, Target: "HASH", Fields: []fts.FieldDef{{Name: "body", Kind: fts.FieldText}}}
	err := core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		return ops.CreateIndex(ctx, tx, def)
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		return ops.CreateIndex(ctx, tx, def)
	})
	require.Error(t, err)
}
