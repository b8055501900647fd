package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monto-broker/broker/internal/model"
)

func TestMemoryStoreRecordAndRecent(t *testing.T) {
	s := NewMemory(2)
	ctx := context.Background()

	e1 := Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.a"), Success: true}
	e2 := Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.b"), Success: false, ErrorKind: "unresolvable"}
	e3 := Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.c"), Success: true}

	require.NoError(t, s.Record(ctx, e1))
	require.NoError(t, s.Record(ctx, e2))
	require.NoError(t, s.Record(ctx, e3))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "capacity of 2 must evict the oldest entry")
	assert.Equal(t, "com.example.b", recent[0].Service.String())
	assert.Equal(t, "com.example.c", recent[1].Service.String())
}

func TestMemoryStoreRecentLimit(t *testing.T) {
	s := NewMemory(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{Timestamp: time.Now(), Service: model.MustIdentifier("com.example.a")}))
	}
	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
