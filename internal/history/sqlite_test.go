package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monto-broker/broker/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRecordAndRecent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	e1 := Entry{
		Timestamp: time.Now().Add(-time.Minute), Service: model.MustIdentifier("com.example.a"),
		Product: model.ProductIdentifier{Name: model.ProductErrors, Language: model.LanguageText, Path: "/tmp/a.txt"},
		Success: true, DurationMS: 12,
	}
	e2 := Entry{
		Timestamp: time.Now(), Service: model.MustIdentifier("com.example.b"),
		Product: model.ProductIdentifier{Name: model.ProductErrors, Language: model.LanguageText, Path: "/tmp/b.txt"},
		Success: false, ErrorKind: "unresolvable", DurationMS: 4,
	}

	require.NoError(t, s.Record(ctx, e1))
	require.NoError(t, s.Record(ctx, e2))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "com.example.b", recent[0].Service.String(), "most recent first")
	assert.Equal(t, "unresolvable", recent[0].ErrorKind)
	assert.Equal(t, "com.example.a", recent[1].Service.String())
	assert.Equal(t, "/tmp/a.txt", recent[1].Product.Path)
}

func TestSQLiteStoreRecentRespectsLimit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.a")}))
	}
	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSQLiteStoreMigrationsAreIdempotent(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "history.db")
	s1, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(dsn)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.Record(context.Background(), Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.a")}))
}
