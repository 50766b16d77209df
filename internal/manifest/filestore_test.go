package manifest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

func TestFileStoreFoldAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.log")

	s, err := OpenFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Apply(ctx, MetaEdit{
		Kind: EditAddTable, Space: 1, Table: 1, TableName: "metrics",
		Schema: base.Schema{Version: 1, PrimaryKeyIndexes: []int{0}},
	}))
	require.NoError(t, s.Apply(ctx, MetaEdit{
		Kind: EditVersion, Space: 1, Table: 1,
		Version: VersionEdit{
			AddFiles:           []AddedFile{{Level: Level0, Meta: meta(1, 0, 100)}},
			HasFlushedSequence: true, FlushedSequence: 42,
		},
	}))

	data, err := s.Load(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Equal(t, "metrics", data.TableName)
	require.EqualValues(t, 42, data.FlushedSequence)
	require.Len(t, s.Tables(), 1)
	require.NoError(t, s.Close())
}

func TestFileStoreReplaysAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.log")

	s1, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Apply(ctx, MetaEdit{
		Kind: EditAddTable, Space: 1, Table: 1, TableName: "t",
		Schema: base.Schema{Version: 1, PrimaryKeyIndexes: []int{0}},
	}))
	require.NoError(t, s1.Close())

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	defer s2.Close()

	data, err := s2.Load(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Equal(t, "t", data.TableName)
}

func TestFileStoreLoadUnknownTableReturnsNil(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "manifest.log"))
	require.NoError(t, err)
	defer s.Close()

	data, err := s.Load(context.Background(), 9, 9)
	require.NoError(t, err)
	require.Nil(t, data)
}
